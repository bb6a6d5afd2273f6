package pricing

import "time"

type QuoteItem struct {
	Listing         Listing
	Quantity        int
	ManualUnitCents *int64
}

type QuoteInput struct {
	Items               []QuoteItem
	CodeInput           string
	Code                *Code
	Now                 time.Time
	ManualDiscountCents int64
}

type Quote struct {
	Lines     []Line
	Totals    Totals
	Applied   *ValidatedCode
	Rejection *Rejection
}

// DiscountApplied reports whether the promo code lowered the order at all.
func (q Quote) DiscountApplied() bool {
	return q.Applied != nil && q.Totals.PromoDiscountCents > 0
}

// QuoteOrder runs validation, resolution and aggregation for a whole order. The
// code's minimum order is checked against the subtotal before any promo.
func QuoteOrder(in QuoteInput) Quote {
	base := resolveAll(in.Items, nil)
	var q Quote
	if NormalizeCode(in.CodeInput) != "" {
		subtotal := AggregateOrder(base, nil, 0).SubtotalCents
		q.Applied, q.Rejection = ValidateCode(in.CodeInput, in.Code, in.Now, subtotal)
	}

	if q.Applied != nil {
		q.Lines = resolveAll(in.Items, q.Applied)
	} else {
		q.Lines = base
	}
	q.Totals = AggregateOrder(q.Lines, q.Applied, in.ManualDiscountCents)
	return q
}

func resolveAll(items []QuoteItem, code *ValidatedCode) []Line {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		var res Resolution
		if item.ManualUnitCents != nil {
			res = ManualPrice(*item.ManualUnitCents)
		} else {
			res = ResolvePrice(item.Listing, item.Quantity, code)
		}
		lines = append(lines, Line{Listing: item.Listing, Quantity: item.Quantity, Resolution: res})
	}
	return lines
}
