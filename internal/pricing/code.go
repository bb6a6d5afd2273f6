package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"orderdesk/backend/internal/domain"
)

var ErrInvalidCode = errors.New("invalid discount code")

// Kind is the closed set of discount mechanisms.
type Kind int

const (
	KindPercentage Kind = iota + 1
	KindFixedAmount
	KindPriceOverride
)

func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case domain.DiscountKindPercentage:
		return KindPercentage, nil
	case domain.DiscountKindFixedAmount:
		return KindFixedAmount, nil
	case domain.DiscountKindPriceOverride:
		return KindPriceOverride, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidCode, raw)
	}
}

func (k Kind) String() string {
	switch k {
	case KindPercentage:
		return domain.DiscountKindPercentage
	case KindFixedAmount:
		return domain.DiscountKindFixedAmount
	case KindPriceOverride:
		return domain.DiscountKindPriceOverride
	default:
		return "unknown"
	}
}

// Scope decides whether a code discounts each line or the order subtotal once.
type Scope int

const (
	ScopeLine Scope = iota
	ScopeOrder
)

func ParseScope(raw string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", domain.DiscountScopeLine:
		return ScopeLine, nil
	case domain.DiscountScopeOrder:
		return ScopeOrder, nil
	default:
		return 0, fmt.Errorf("%w: unknown scope %q", ErrInvalidCode, raw)
	}
}

func (s Scope) String() string {
	if s == ScopeOrder {
		return domain.DiscountScopeOrder
	}
	return domain.DiscountScopeLine
}

// OverrideTable maps barcodes to replacement unit prices. It is built once and
// only exposes reads.
type OverrideTable struct {
	prices map[string]int64
}

func NewOverrideTable(prices map[string]int64) OverrideTable {
	copied := make(map[string]int64, len(prices))
	for barcode, cents := range prices {
		key := NormalizeBarcode(barcode)
		if key == "" || cents < 0 {
			continue
		}
		copied[key] = cents
	}
	return OverrideTable{prices: copied}
}

func (t OverrideTable) Price(barcode string) (int64, bool) {
	cents, ok := t.prices[NormalizeBarcode(barcode)]
	return cents, ok
}

func (t OverrideTable) Len() int {
	return len(t.prices)
}

// Code is a discount code parsed into engine types.
type Code struct {
	ID               string
	Code             string
	Kind             Kind
	Scope            Scope
	Value            decimal.Decimal
	MinOrderCents    *int64
	MaxDiscountCents *int64
	UsageLimit       int64
	UsedCount        int64
	ValidFrom        time.Time
	ValidUntil       time.Time
	Active           bool
	Overrides        OverrideTable
}

// CodeFromRecord parses a persisted code. Price-override codes are always line scoped.
func CodeFromRecord(rec domain.DiscountCode) (Code, error) {
	kind, err := ParseKind(rec.Kind)
	if err != nil {
		return Code{}, err
	}
	scope, err := ParseScope(rec.Scope)
	if err != nil {
		return Code{}, err
	}
	if kind == KindPriceOverride {
		scope = ScopeLine
	}
	value := decimal.NewFromFloat(rec.Value)
	if value.IsNegative() {
		return Code{}, fmt.Errorf("%w: negative value", ErrInvalidCode)
	}
	if kind == KindPercentage && value.GreaterThan(decimal.NewFromInt(100)) {
		return Code{}, fmt.Errorf("%w: percentage above 100", ErrInvalidCode)
	}
	if rec.UsageLimit < 0 || rec.UsedCount < 0 {
		return Code{}, fmt.Errorf("%w: negative usage", ErrInvalidCode)
	}

	return Code{
		ID:               rec.ID,
		Code:             NormalizeCode(rec.Code),
		Kind:             kind,
		Scope:            scope,
		Value:            value,
		MinOrderCents:    copyCents(rec.MinOrderCents),
		MaxDiscountCents: copyCents(rec.MaxDiscountCents),
		UsageLimit:       rec.UsageLimit,
		UsedCount:        rec.UsedCount,
		ValidFrom:        rec.ValidFrom,
		ValidUntil:       rec.ValidUntil,
		Active:           rec.Active,
		Overrides:        NewOverrideTable(rec.OverridePrices),
	}, nil
}

func (c Code) RemainingUses() int64 {
	if c.UsedCount >= c.UsageLimit {
		return 0
	}
	return c.UsageLimit - c.UsedCount
}

// NormalizeCode gives the case-insensitive lookup key of a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
