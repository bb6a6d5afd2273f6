package pricing

import (
	"fmt"
	"time"
)

type RejectReason string

const (
	RejectUnknown           RejectReason = "Unknown"
	RejectInactive          RejectReason = "Inactive"
	RejectNotYetValid       RejectReason = "NotYetValid"
	RejectExpired           RejectReason = "Expired"
	RejectUsageExceeded     RejectReason = "UsageExceeded"
	RejectBelowMinimumOrder RejectReason = "BelowMinimumOrder"
)

// Rejection explains why a code cannot be used. It is a business outcome, not an error.
type Rejection struct {
	Code          string
	Reason        RejectReason
	MinOrderCents int64
}

func (r Rejection) Message() string {
	switch r.Reason {
	case RejectUnknown:
		return fmt.Sprintf("discount code %s does not exist", r.Code)
	case RejectInactive:
		return fmt.Sprintf("discount code %s is not active", r.Code)
	case RejectNotYetValid:
		return fmt.Sprintf("discount code %s is not valid yet", r.Code)
	case RejectExpired:
		return fmt.Sprintf("discount code %s has expired", r.Code)
	case RejectUsageExceeded:
		return fmt.Sprintf("discount code %s has reached its usage limit", r.Code)
	case RejectBelowMinimumOrder:
		return fmt.Sprintf("discount code %s requires a minimum order of %s", r.Code, FormatCents(r.MinOrderCents))
	default:
		return fmt.Sprintf("discount code %s cannot be applied", r.Code)
	}
}

// ValidatedCode is a code that passed every validation rule at a given instant.
// Only ValidateCode constructs one.
type ValidatedCode struct {
	code Code
}

func (v *ValidatedCode) Code() Code {
	return v.code
}

// ValidateCode checks a looked-up code against now and the running subtotal.
// code is nil when the lookup found nothing. Rules run in a fixed order and the
// first failing one is reported. It never touches usage counters.
func ValidateCode(input string, code *Code, now time.Time, subtotalCents int64) (*ValidatedCode, *Rejection) {
	normalized := NormalizeCode(input)
	if code == nil {
		return nil, &Rejection{Code: normalized, Reason: RejectUnknown}
	}
	if !code.Active {
		return nil, &Rejection{Code: code.Code, Reason: RejectInactive}
	}
	if now.Before(code.ValidFrom) {
		return nil, &Rejection{Code: code.Code, Reason: RejectNotYetValid}
	}
	if now.After(code.ValidUntil) {
		return nil, &Rejection{Code: code.Code, Reason: RejectExpired}
	}
	if code.UsedCount >= code.UsageLimit {
		return nil, &Rejection{Code: code.Code, Reason: RejectUsageExceeded}
	}
	if code.MinOrderCents != nil && subtotalCents < *code.MinOrderCents {
		return nil, &Rejection{Code: code.Code, Reason: RejectBelowMinimumOrder, MinOrderCents: *code.MinOrderCents}
	}
	return &ValidatedCode{code: *code}, nil
}
