package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"orderdesk/backend/internal/domain"
	"orderdesk/backend/internal/events"
	"orderdesk/backend/internal/store"
	"orderdesk/backend/internal/store/memory"
)

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]domain.ProductListing
	deletes int
}

func (c *mapCache) Get(_ context.Context, key string) ([]domain.ProductListing, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []domain.ProductListing, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.deletes++
	return nil
}

func newTestService() (*Service, *recordingPublisher) {
	publisher := &recordingPublisher{}
	svc := New(memory.NewSeeded(zap.NewNop()), nil, publisher, zap.NewNop(), Config{
		Now: func() time.Time { return testNow },
	})
	return svc, publisher
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
}

func TestQuoteDiscountPricingWorkedExample(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.QuoteDiscountPricing(context.Background(), domain.DiscountPricingRequest{
		Barcode:      "b-100",
		Quantity:     12,
		DiscountCode: "save10",
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !resp.Success || !resp.IsDiscountApplied {
		t.Fatalf("expected applied discount, got %+v", resp)
	}
	if resp.OriginalPrice != 40 || resp.DiscountedPrice != 37 || resp.Savings != 3 {
		t.Fatalf("unexpected prices original=%v discounted=%v savings=%v", resp.OriginalPrice, resp.DiscountedPrice, resp.Savings)
	}
	if resp.TotalPrice != 444 {
		t.Fatalf("expected total 444, got %v", resp.TotalPrice)
	}
	if resp.PricingTier != "Kit" || resp.Barcode != "B-100" || resp.DiscountCode != "SAVE10" {
		t.Fatalf("unexpected identity fields %+v", resp)
	}
}

func TestQuoteDiscountPricingRejectedCodeKeepsPrice(t *testing.T) {
	svc, _ := newTestService()

	cases := []struct {
		code    string
		message string
	}{
		{"SPRING23", "expired"},
		{"NOPE", "does not exist"},
	}
	for _, tc := range cases {
		resp, err := svc.QuoteDiscountPricing(context.Background(), domain.DiscountPricingRequest{
			Barcode:      "B-100",
			Quantity:     2,
			DiscountCode: tc.code,
		})
		if err != nil {
			t.Fatalf("%s: quote failed: %v", tc.code, err)
		}
		if resp.IsDiscountApplied {
			t.Fatalf("%s: expected no discount", tc.code)
		}
		if resp.DiscountedPrice != 50 || resp.PricingTier != "Single" || resp.TotalPrice != 100 {
			t.Fatalf("%s: unexpected pricing %+v", tc.code, resp)
		}
		if !strings.Contains(resp.Message, tc.message) {
			t.Fatalf("%s: expected message to mention %q, got %q", tc.code, tc.message, resp.Message)
		}
	}
}

func TestQuoteDiscountPricingOrderScopedCodeLeavesUnitPrice(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.QuoteDiscountPricing(context.Background(), domain.DiscountPricingRequest{
		Barcode:      "C-200",
		Quantity:     1,
		DiscountCode: "WELCOME5",
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if resp.IsDiscountApplied {
		t.Fatalf("expected unit price flag to stay false, got %+v", resp)
	}
	if resp.OriginalPrice != 22 || resp.DiscountedPrice != 22 || resp.Savings != 0 {
		t.Fatalf("unexpected unit prices original=%v discounted=%v savings=%v", resp.OriginalPrice, resp.DiscountedPrice, resp.Savings)
	}
	if resp.TotalPrice != 17 {
		t.Fatalf("expected order discount in total 17, got %v", resp.TotalPrice)
	}
	if !strings.Contains(resp.Message, "off the order") {
		t.Fatalf("expected order discount message, got %q", resp.Message)
	}
}

func TestQuoteDiscountPricingUnknownProduct(t *testing.T) {
	svc, _ := newTestService()

	for _, barcode := range []string{"Z-999", "E-400"} {
		_, err := svc.QuoteDiscountPricing(context.Background(), domain.DiscountPricingRequest{
			Barcode:      barcode,
			Quantity:     1,
			DiscountCode: "SAVE10",
		})
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("%s: expected not found, got %v", barcode, err)
		}
	}

	_, err := svc.QuoteDiscountPricing(context.Background(), domain.DiscountPricingRequest{Barcode: "B-100", Quantity: 0, DiscountCode: "SAVE10"})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for zero quantity, got %v", err)
	}
}

func TestQuoteOrderAppliesOrderScopedCodeAndManualDiscount(t *testing.T) {
	svc, _ := newTestService()

	quote, err := svc.QuoteOrder(staffCtx(), domain.OrderQuoteRequest{
		DiscountCode:        "welcome5",
		ManualDiscountCents: 300,
		Lines:               []domain.OrderLineRequest{{Barcode: "C-200", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.SubtotalCents != 2200 || quote.PromoDiscountCents != 500 || quote.TotalCents != 1400 {
		t.Fatalf("unexpected totals %+v", quote)
	}
	if !quote.DiscountApplied {
		t.Fatalf("expected discount to apply")
	}

	quote, err = svc.QuoteOrder(staffCtx(), domain.OrderQuoteRequest{
		DiscountCode: "WELCOME5",
		Lines:        []domain.OrderLineRequest{{Barcode: "D-300", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.DiscountApplied || quote.RejectionReason != "BelowMinimumOrder" || quote.TotalCents != 1800 {
		t.Fatalf("expected minimum order rejection, got %+v", quote)
	}
}

func TestQuoteOrderMergesLinesForTiers(t *testing.T) {
	svc, _ := newTestService()

	quote, err := svc.QuoteOrder(staffCtx(), domain.OrderQuoteRequest{
		Lines: []domain.OrderLineRequest{
			{Barcode: "B-100", Quantity: 6},
			{Barcode: "b-100", Quantity: 6},
		},
	})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if len(quote.Lines) != 1 || quote.Lines[0].Quantity != 12 || quote.Lines[0].Tier != "Kit" {
		t.Fatalf("expected one merged Kit line, got %+v", quote.Lines)
	}
	if quote.TotalCents != 48000 {
		t.Fatalf("expected total 48000, got %d", quote.TotalCents)
	}
}

func TestManualLineOverrideNeedsApproval(t *testing.T) {
	svc, _ := newTestService()
	manual := int64(4200)
	req := domain.OrderQuoteRequest{
		DiscountCode: "SAVE10",
		Lines:        []domain.OrderLineRequest{{Barcode: "B-100", Quantity: 1, ManualUnitPriceCents: &manual}},
	}

	if _, err := svc.QuoteOrder(staffCtx(), req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for staff, got %v", err)
	}

	quote, err := svc.QuoteOrder(WithManagerApproval(staffCtx()), req)
	if err != nil {
		t.Fatalf("approved quote failed: %v", err)
	}
	line := quote.Lines[0]
	if !line.ManualOverride || line.Tier != "Manual" || line.ResolvedUnitCents != 4200 || line.DiscountApplied {
		t.Fatalf("unexpected manual line %+v", line)
	}
	if quote.TotalCents != 4200 {
		t.Fatalf("expected manual price untouched by promo, got %d", quote.TotalCents)
	}

	if _, err := svc.QuoteOrder(adminCtx(), req); err != nil {
		t.Fatalf("admin quote failed: %v", err)
	}
}

func TestFinalizeOrderIsIdempotent(t *testing.T) {
	svc, publisher := newTestService()
	ctx := staffCtx()
	req := domain.OrderFinalizeRequest{
		OrderQuoteRequest: domain.OrderQuoteRequest{
			DiscountCode: "SAVE10",
			Lines:        []domain.OrderLineRequest{{Barcode: "B-100", Quantity: 12}},
		},
		IdempotencyKey: "idem-finalize-1",
		CustomerName:   "Acme Builders",
	}

	first, err := svc.FinalizeOrder(ctx, req)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if first.Duplicate || first.Order.TotalCents != 44400 || first.Order.DiscountCode != "SAVE10" {
		t.Fatalf("unexpected first finalize %+v", first)
	}
	if first.Order.UnifiedStatus != "New" || first.Order.CreatedBy != "staff" {
		t.Fatalf("unexpected order metadata %+v", first.Order)
	}

	second, err := svc.FinalizeOrder(ctx, req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Duplicate || second.Order.ID != first.Order.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Order.ID, second)
	}

	codes, err := svc.ListDiscountCodes(adminCtx())
	if err != nil {
		t.Fatalf("list codes failed: %v", err)
	}
	for _, code := range codes {
		if code.Code == "SAVE10" && code.UsedCount != 1 {
			t.Fatalf("expected one redemption, got %d", code.UsedCount)
		}
	}
	if got := publisher.types(); len(got) != 1 || got[0] != events.TypeOrderFinalized {
		t.Fatalf("expected one finalized event, got %v", got)
	}
}

func TestFinalizeOrderDropsUnusableCode(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.FinalizeOrder(staffCtx(), domain.OrderFinalizeRequest{
		OrderQuoteRequest: domain.OrderQuoteRequest{
			DiscountCode: "SPRING23",
			Lines:        []domain.OrderLineRequest{{Barcode: "C-200", Quantity: 2}},
		},
		IdempotencyKey: "idem-expired",
	})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if resp.Order.DiscountCode != "" || resp.Order.PromoDiscountCents != 0 || resp.Order.TotalCents != 4400 {
		t.Fatalf("expected undiscounted order, got %+v", resp.Order)
	}
	if !strings.Contains(resp.DiscountMessage, "expired") {
		t.Fatalf("expected expiry message, got %q", resp.DiscountMessage)
	}
}

func TestConcurrentFinalizeRespectsUsageLimit(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.CreateDiscountCode(adminCtx(), domain.DiscountCodeCreateRequest{
		Code:       "FLASH3",
		Kind:       domain.DiscountKindFixedAmount,
		Value:      200,
		UsageLimit: 3,
		ValidFrom:  testNow.Add(-time.Hour),
		ValidUntil: testNow.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create code failed: %v", err)
	}

	const workers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, exceeded := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.FinalizeOrder(staffCtx(), domain.OrderFinalizeRequest{
				OrderQuoteRequest: domain.OrderQuoteRequest{
					DiscountCode: "FLASH3",
					Lines:        []domain.OrderLineRequest{{Barcode: "C-200", Quantity: 1}},
				},
				IdempotencyKey: fmt.Sprintf("flash-%d", i),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrUsageExceeded):
				exceeded++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 3 || exceeded != workers-3 {
		t.Fatalf("expected 3 successes, got %d successes and %d rejections", succeeded, exceeded)
	}
}

func TestUpdateOrderStatusDerivesUnifiedStatus(t *testing.T) {
	svc, publisher := newTestService()
	created, err := svc.FinalizeOrder(staffCtx(), domain.OrderFinalizeRequest{
		OrderQuoteRequest: domain.OrderQuoteRequest{Lines: []domain.OrderLineRequest{{Barcode: "D-300", Quantity: 3}}},
		IdempotencyKey:    "idem-status",
	})
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	id := created.Order.ID

	sent := domain.InvoiceSent
	if _, err := svc.UpdateOrderStatus(staffCtx(), id, domain.OrderStatusUpdateRequest{InvoiceStatus: &sent}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected staff to be forbidden, got %v", err)
	}

	order, err := svc.UpdateOrderStatus(adminCtx(), id, domain.OrderStatusUpdateRequest{InvoiceStatus: &sent})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if order.UnifiedStatus != "InvoiceSent" {
		t.Fatalf("expected InvoiceSent, got %s", order.UnifiedStatus)
	}

	overdue := domain.InvoiceOverdue
	if _, err := svc.UpdateOrderStatus(adminCtx(), id, domain.OrderStatusUpdateRequest{InvoiceStatus: &overdue}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	list, err := svc.ListOrders(staffCtx(), "invoiceoverdue", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list.Orders) != 1 || list.Orders[0].ID != id {
		t.Fatalf("expected overdue order in filtered list, got %+v", list.Orders)
	}
	if _, err := svc.ListOrders(staffCtx(), "archived", 10); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid status filter error, got %v", err)
	}

	got := publisher.types()
	want := []string{events.TypeOrderFinalized, events.TypeOrderStatusChanged, events.TypeOrderStatusChanged}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestCreateDiscountCodeValidation(t *testing.T) {
	svc, _ := newTestService()
	base := domain.DiscountCodeCreateRequest{
		Code:       "NEW1",
		Kind:       domain.DiscountKindPercentage,
		Value:      15,
		UsageLimit: 10,
		ValidFrom:  testNow,
		ValidUntil: testNow.Add(24 * time.Hour),
	}

	if _, err := svc.CreateDiscountCode(staffCtx(), base); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	tooMuch := base
	tooMuch.Value = 150
	if _, err := svc.CreateDiscountCode(adminCtx(), tooMuch); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid percentage, got %v", err)
	}

	emptyOverride := base
	emptyOverride.Kind = domain.DiscountKindPriceOverride
	if _, err := svc.CreateDiscountCode(adminCtx(), emptyOverride); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid override code, got %v", err)
	}

	backwards := base
	backwards.ValidUntil = testNow.Add(-time.Hour)
	if _, err := svc.CreateDiscountCode(adminCtx(), backwards); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid window, got %v", err)
	}

	created, err := svc.CreateDiscountCode(adminCtx(), base)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.Scope != domain.DiscountScopeLine || !created.Active {
		t.Fatalf("unexpected created code %+v", created)
	}
	if _, err := svc.CreateDiscountCode(adminCtx(), base); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on duplicate, got %v", err)
	}

	toggled, err := svc.SetDiscountCodeActive(adminCtx(), "new1", false)
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if toggled.Active {
		t.Fatalf("expected code to be inactive")
	}
	resp, err := svc.QuoteDiscountPricing(context.Background(), domain.DiscountPricingRequest{Barcode: "B-100", Quantity: 1, DiscountCode: "NEW1"})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if resp.IsDiscountApplied || !strings.Contains(resp.Message, "not active") {
		t.Fatalf("expected inactive rejection, got %+v", resp)
	}
}

func TestPriceTierUpsertInvalidatesCatalogCache(t *testing.T) {
	catalogCache := &mapCache{entries: map[string][]domain.ProductListing{}}
	svc := New(memory.NewSeeded(zap.NewNop()), catalogCache, nil, zap.NewNop(), Config{Now: func() time.Time { return testNow }})

	before, err := svc.QuoteOrder(staffCtx(), domain.OrderQuoteRequest{Lines: []domain.OrderLineRequest{{Barcode: "D-300", Quantity: 1}}})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if before.TotalCents != 1800 {
		t.Fatalf("expected base price 1800, got %d", before.TotalCents)
	}

	single := int64(1500)
	if _, err := svc.UpsertPriceTier(adminCtx(), "d-300", domain.PriceTierUpsertRequest{Channel: "Retail", SingleUnitPriceCents: &single}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if catalogCache.deletes != 1 {
		t.Fatalf("expected cache invalidation, got %d deletes", catalogCache.deletes)
	}

	after, err := svc.QuoteOrder(staffCtx(), domain.OrderQuoteRequest{Lines: []domain.OrderLineRequest{{Barcode: "D-300", Quantity: 1}}})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if after.TotalCents != 1500 || after.Lines[0].Tier != "Single" {
		t.Fatalf("expected tier price 1500, got %+v", after)
	}
}

func TestAuditLogRecordsAdminActions(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{Barcode: "f-500", Name: "Fence Clip", Category: "hardware", BasePriceCents: 350}); err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "product_create" || logs[0].EntityID != "F-500" || logs[0].ActorUsername != "admin" {
		t.Fatalf("unexpected audit logs %+v", logs)
	}
	if _, err := svc.ListAuditLogs(staffCtx(), 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
