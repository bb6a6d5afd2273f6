package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"orderdesk/backend/internal/domain"
)

func TestClassifyPrecedence(t *testing.T) {
	cases := []struct {
		name string
		in   Signals
		want UnifiedStatus
	}{
		{"overdue beats paid flag", Signals{Invoice: domain.InvoiceOverdue, HasPaidInvoice: true}, StatusInvoiceOverdue},
		{"paid flag", Signals{Invoice: domain.InvoiceSent, HasPaidInvoice: true}, StatusPaidReadyToShip},
		{"paid invoice status", Signals{Invoice: domain.InvoicePaid}, StatusPaidReadyToShip},
		{"sent invoice", Signals{Invoice: domain.InvoiceSent}, StatusInvoiceSent},
		{"draft invoice", Signals{Invoice: "Draft"}, StatusInvoiceSent},
		{"no invoice", Signals{Invoice: domain.InvoiceNone, Fulfillment: domain.FulfillmentShipped}, StatusNew},
		{"void invoice", Signals{Invoice: domain.InvoiceVoid}, StatusNew},
		{"empty", Signals{}, StatusNew},
		{"unknown invoice value", Signals{Invoice: "lost"}, StatusNew},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.in))
		})
	}
}

func TestClassifyIsTotalAndDeterministic(t *testing.T) {
	fulfillments := []string{"", domain.FulfillmentPending, domain.FulfillmentPacked, domain.FulfillmentShipped, domain.FulfillmentDelivered, domain.FulfillmentCancelled, "bogus"}
	invoices := []string{"", domain.InvoiceNone, domain.InvoiceDraft, domain.InvoiceSent, domain.InvoicePaid, domain.InvoiceOverdue, domain.InvoiceVoid, "bogus"}

	for _, f := range fulfillments {
		for _, inv := range invoices {
			for _, paid := range []bool{false, true} {
				s := Signals{Fulfillment: f, Invoice: inv, HasPaidInvoice: paid}
				got := Classify(s)
				assert.Contains(t, All, got)
				assert.Equal(t, got, Classify(s))
			}
		}
	}
}

func TestForOrderFollowsFieldChanges(t *testing.T) {
	order := domain.Order{FulfillmentStatus: domain.FulfillmentPending, InvoiceStatus: domain.InvoiceSent}
	assert.Equal(t, StatusInvoiceSent, ForOrder(order))

	order.InvoiceStatus = domain.InvoiceOverdue
	assert.Equal(t, StatusInvoiceOverdue, ForOrder(order))

	order.InvoiceStatus = domain.InvoicePaid
	order.HasPaidInvoice = true
	assert.Equal(t, StatusPaidReadyToShip, ForOrder(order))
}

func TestParseStatus(t *testing.T) {
	status, ok := ParseStatus(" invoicesent ")
	assert.True(t, ok)
	assert.Equal(t, StatusInvoiceSent, status)

	_, ok = ParseStatus("shipped")
	assert.False(t, ok)
}
