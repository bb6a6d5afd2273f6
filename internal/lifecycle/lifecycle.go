// Package lifecycle collapses raw fulfillment and invoice fields into a single
// order status. The status is recomputed on every read and never stored.
package lifecycle

import (
	"strings"

	"orderdesk/backend/internal/domain"
)

type UnifiedStatus string

const (
	StatusNew             UnifiedStatus = "New"
	StatusInvoiceSent     UnifiedStatus = "InvoiceSent"
	StatusPaidReadyToShip UnifiedStatus = "PaidReadyToShip"
	StatusInvoiceOverdue  UnifiedStatus = "InvoiceOverdue"
)

// All lists every status in display order.
var All = []UnifiedStatus{StatusNew, StatusInvoiceSent, StatusPaidReadyToShip, StatusInvoiceOverdue}

// Signals are the raw order fields the status is derived from.
type Signals struct {
	Fulfillment    string
	Invoice        string
	HasPaidInvoice bool
}

// Classify maps signals to exactly one status. First match wins:
// overdue, paid, invoice generated, new.
func Classify(s Signals) UnifiedStatus {
	invoice := strings.ToLower(strings.TrimSpace(s.Invoice))
	switch {
	case invoice == domain.InvoiceOverdue:
		return StatusInvoiceOverdue
	case s.HasPaidInvoice || invoice == domain.InvoicePaid:
		return StatusPaidReadyToShip
	case invoice == domain.InvoiceDraft || invoice == domain.InvoiceSent:
		return StatusInvoiceSent
	default:
		return StatusNew
	}
}

// ForOrder classifies a persisted order.
func ForOrder(order domain.Order) UnifiedStatus {
	return Classify(Signals{
		Fulfillment:    order.FulfillmentStatus,
		Invoice:        order.InvoiceStatus,
		HasPaidInvoice: order.HasPaidInvoice,
	})
}

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(raw string) (UnifiedStatus, bool) {
	raw = strings.TrimSpace(raw)
	for _, status := range All {
		if strings.EqualFold(string(status), raw) {
			return status, true
		}
	}
	return "", false
}
