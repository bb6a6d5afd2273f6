package pricing

// Line is a resolved order line.
type Line struct {
	Listing    Listing
	Quantity   int
	Resolution Resolution
}

func (l Line) ReferenceTotalCents() int64 {
	return l.Resolution.ReferenceCents * int64(l.Quantity)
}

func (l Line) TotalCents() int64 {
	return l.Resolution.UnitCents * int64(l.Quantity)
}

func (l Line) SavingsTotalCents() int64 {
	return l.Resolution.SavingsCents() * int64(l.Quantity)
}

type Totals struct {
	SubtotalCents       int64
	PromoDiscountCents  int64
	ManualDiscountCents int64
	TotalCents          int64
}

// AggregateOrder combines resolved lines with the promo discount and the manual
// discount. The two discounts are applied one after the other and each stage is
// floored at zero: total = max(0, max(0, subtotal - promo) - manual).
func AggregateOrder(lines []Line, code *ValidatedCode, manualDiscountCents int64) Totals {
	var subtotal, promo int64
	for _, line := range lines {
		subtotal += line.ReferenceTotalCents()
		promo += line.SavingsTotalCents()
	}

	if code != nil && code.code.Scope == ScopeOrder {
		promo += orderLevelDiscount(code.code, subtotal)
	}

	manual := clampZero(manualDiscountCents)
	afterPromo := clampZero(subtotal - promo)
	return Totals{
		SubtotalCents:       subtotal,
		PromoDiscountCents:  promo,
		ManualDiscountCents: manual,
		TotalCents:          clampZero(afterPromo - manual),
	}
}

func orderLevelDiscount(c Code, subtotalCents int64) int64 {
	var discount int64
	switch c.Kind {
	case KindPercentage:
		discount = subtotalCents - lessPercent(subtotalCents, c.Value)
	case KindFixedAmount:
		discount = c.Value.Round(0).IntPart()
	case KindPriceOverride:
		return 0
	}
	if c.MaxDiscountCents != nil && discount > *c.MaxDiscountCents {
		discount = *c.MaxDiscountCents
	}
	return clampZero(discount)
}
