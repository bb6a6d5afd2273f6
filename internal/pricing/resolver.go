package pricing

// Resolution is the priced outcome of one line. Savings and the applied flag are
// derived from the two prices and cannot be set independently.
type Resolution struct {
	UnitCents      int64
	ReferenceCents int64
	Tier           Tier
}

func (r Resolution) SavingsCents() int64 {
	return clampZero(r.ReferenceCents - r.UnitCents)
}

func (r Resolution) DiscountApplied() bool {
	return r.UnitCents < r.ReferenceCents
}

// ResolvePrice prices one line. Precedence: a price-override code listing the
// product, then the quantity tier, then a line-scoped percentage or fixed code
// capped by its maximum discount. The reference never sits below the unit
// price, so Σ reference − Σ savings always equals Σ line totals.
func ResolvePrice(listing Listing, quantity int, code *ValidatedCode) Resolution {
	if code != nil && code.code.Kind == KindPriceOverride {
		if cents, ok := code.code.Overrides.Price(listing.Product.Barcode); ok {
			return Resolution{
				UnitCents:      cents,
				ReferenceCents: max(listing.Product.BasePriceCents, cents),
				Tier:           TierOriginal,
			}
		}
	}

	tierCents, tier := listing.TierPrice(quantity)
	res := Resolution{UnitCents: tierCents, ReferenceCents: tierCents, Tier: tier}
	if code == nil || code.code.Scope != ScopeLine {
		return res
	}

	c := code.code
	discounted := tierCents
	switch c.Kind {
	case KindPercentage:
		discounted = lessPercent(tierCents, c.Value)
	case KindFixedAmount:
		discounted = clampZero(tierCents - c.Value.Round(0).IntPart())
	case KindPriceOverride:
		// product not listed by the override table
		return res
	}

	if c.MaxDiscountCents != nil && tierCents-discounted > *c.MaxDiscountCents {
		discounted = tierCents - *c.MaxDiscountCents
	}
	res.UnitCents = discounted
	return res
}

// ManualPrice prices a line at an operator-entered unit price. The entered price
// is its own reference, so it carries no promotional savings.
func ManualPrice(unitCents int64) Resolution {
	unitCents = clampZero(unitCents)
	return Resolution{UnitCents: unitCents, ReferenceCents: unitCents, Tier: TierManual}
}
