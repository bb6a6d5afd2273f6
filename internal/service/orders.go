package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"orderdesk/backend/internal/domain"
	"orderdesk/backend/internal/events"
	"orderdesk/backend/internal/lifecycle"
	"orderdesk/backend/internal/pricing"
	"orderdesk/backend/internal/store"
	"orderdesk/backend/internal/xid"
)

// QuoteDiscountPricing prices a single product line against a discount code.
// An unusable code is not an error: the response reports the reason and the
// undiscounted price.
func (s *Service) QuoteDiscountPricing(ctx context.Context, req domain.DiscountPricingRequest) (domain.DiscountPricingResponse, error) {
	barcode := pricing.NormalizeBarcode(req.Barcode)
	codeInput := pricing.NormalizeCode(req.DiscountCode)
	if barcode == "" || codeInput == "" || req.Quantity < 1 {
		return domain.DiscountPricingResponse{}, store.ErrInvalidRequest
	}

	q, channel, err := s.quote(ctx, quoteParams{
		channel:   req.Channel,
		codeInput: codeInput,
		lines:     []domain.OrderLineRequest{{Barcode: barcode, Quantity: req.Quantity}},
	})
	if err != nil {
		return domain.DiscountPricingResponse{}, err
	}

	// The per-unit fields and the applied flag describe the line only. An
	// order-scoped code shows up in totalPrice and the message.
	line := q.Lines[0]
	res := line.Resolution
	resp := domain.DiscountPricingResponse{
		Success:           true,
		Barcode:           line.Listing.Product.Barcode,
		ProductName:       line.Listing.Product.Name,
		Quantity:          line.Quantity,
		DiscountCode:      codeInput,
		Channel:           channel,
		OriginalPrice:     pricing.MajorUnits(res.ReferenceCents),
		DiscountedPrice:   pricing.MajorUnits(res.UnitCents),
		Savings:           pricing.MajorUnits(res.SavingsCents()),
		TotalPrice:        pricing.MajorUnits(q.Totals.TotalCents),
		PricingTier:       res.Tier.String(),
		IsDiscountApplied: res.DiscountApplied(),
	}
	resp.Message = pricingMessage(q, codeInput)
	return resp, nil
}

func pricingMessage(q pricing.Quote, code string) string {
	switch {
	case q.Rejection != nil:
		return q.Rejection.Message()
	case !q.DiscountApplied():
		return fmt.Sprintf("discount code %s does not lower the price of this order", code)
	case q.Applied.Code().Scope == pricing.ScopeOrder:
		return fmt.Sprintf("discount code %s applied: %s off the order", code, pricing.FormatCents(q.Totals.PromoDiscountCents))
	default:
		return fmt.Sprintf("discount code %s applied: %s off per unit", code, pricing.FormatCents(q.Lines[0].Resolution.SavingsCents()))
	}
}

func (s *Service) QuoteOrder(ctx context.Context, req domain.OrderQuoteRequest) (domain.OrderQuote, error) {
	q, channel, err := s.quote(ctx, quoteParamsFrom(req))
	if err != nil {
		return domain.OrderQuote{}, err
	}
	return toOrderQuote(q, channel, pricing.NormalizeCode(req.DiscountCode)), nil
}

// FinalizeOrder re-quotes the order, redeems the code and stores the result in
// one step. A code that ran out of uses fails the whole call; any other code
// rejection finalizes the order without the code.
func (s *Service) FinalizeOrder(ctx context.Context, req domain.OrderFinalizeRequest) (domain.OrderFinalizeResponse, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}

	if existing, err := s.repo.FindOrderByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.OrderFinalizeResponse{Order: withUnifiedStatus(*existing), Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.OrderFinalizeResponse{}, err
	}

	codeInput := pricing.NormalizeCode(req.DiscountCode)
	q, channel, err := s.quote(ctx, quoteParamsFrom(req.OrderQuoteRequest))
	if err != nil {
		return domain.OrderFinalizeResponse{}, err
	}
	if q.Rejection != nil && q.Rejection.Reason == pricing.RejectUsageExceeded {
		return domain.OrderFinalizeResponse{}, fmt.Errorf("%w: %s", store.ErrUsageExceeded, q.Rejection.Message())
	}

	quote := toOrderQuote(q, channel, codeInput)
	actor, _ := ActorFromContext(ctx)
	order := domain.Order{
		ID:                  xid.New("ord"),
		IdempotencyKey:      req.IdempotencyKey,
		CustomerName:        strings.TrimSpace(req.CustomerName),
		Channel:             channel,
		Lines:               quote.Lines,
		SubtotalCents:       quote.SubtotalCents,
		PromoDiscountCents:  quote.PromoDiscountCents,
		ManualDiscountCents: quote.ManualDiscountCents,
		TotalCents:          quote.TotalCents,
		FulfillmentStatus:   domain.FulfillmentPending,
		InvoiceStatus:       domain.InvoiceNone,
		CreatedBy:           actor.Username,
		CreatedAt:           s.now().UTC(),
	}
	if q.DiscountApplied() {
		code := q.Applied.Code()
		order.DiscountCodeID = code.ID
		order.DiscountCode = code.Code
	}

	stored, duplicate, err := s.repo.FinalizeOrder(ctx, order)
	if err != nil {
		if errors.Is(err, store.ErrUsageExceeded) {
			return domain.OrderFinalizeResponse{}, fmt.Errorf("%w: discount code %s has reached its usage limit", store.ErrUsageExceeded, codeInput)
		}
		return domain.OrderFinalizeResponse{}, err
	}
	result := withUnifiedStatus(*stored)
	if duplicate {
		return domain.OrderFinalizeResponse{Order: result, Duplicate: true}, nil
	}

	s.logAudit(ctx, "order_finalize", "order", result.ID, fmt.Sprintf(
		"total=%d,promo=%d,manual=%d,code=%s,lines=%d",
		result.TotalCents,
		result.PromoDiscountCents,
		result.ManualDiscountCents,
		result.DiscountCode,
		len(result.Lines),
	))
	s.publish(ctx, events.TypeOrderFinalized, result)

	return domain.OrderFinalizeResponse{Order: result, DiscountMessage: quote.DiscountMessage}, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, store.ErrInvalidRequest
	}
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return withUnifiedStatus(*order), nil
}

// ListOrders returns the newest orders, optionally only those in one unified status.
func (s *Service) ListOrders(ctx context.Context, status string, limit int) (domain.OrderListResponse, error) {
	var filter lifecycle.UnifiedStatus
	if strings.TrimSpace(status) != "" {
		parsed, ok := lifecycle.ParseStatus(status)
		if !ok {
			return domain.OrderListResponse{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidRequest, status)
		}
		filter = parsed
	}
	if limit < 1 {
		limit = 100
	}

	orders, err := s.repo.ListOrders(ctx, limit)
	if err != nil {
		return domain.OrderListResponse{}, err
	}
	result := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		order = withUnifiedStatus(order)
		if filter != "" && order.UnifiedStatus != string(filter) {
			continue
		}
		result = append(result, order)
	}
	return domain.OrderListResponse{Orders: result}, nil
}

func (s *Service) UpdateOrderStatus(ctx context.Context, id string, req domain.OrderStatusUpdateRequest) (domain.Order, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Order{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, store.ErrInvalidRequest
	}
	if req.FulfillmentStatus == nil && req.InvoiceStatus == nil && req.HasPaidInvoice == nil {
		return domain.Order{}, store.ErrInvalidRequest
	}

	update := store.OrderStatusUpdate{HasPaidInvoice: req.HasPaidInvoice}
	if req.FulfillmentStatus != nil {
		v := strings.ToLower(strings.TrimSpace(*req.FulfillmentStatus))
		if !isFulfillmentStatus(v) {
			return domain.Order{}, store.ErrInvalidRequest
		}
		update.FulfillmentStatus = &v
	}
	if req.InvoiceStatus != nil {
		v := strings.ToLower(strings.TrimSpace(*req.InvoiceStatus))
		if !isInvoiceStatus(v) {
			return domain.Order{}, store.ErrInvalidRequest
		}
		update.InvoiceStatus = &v
	}

	before, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	updated, err := s.repo.UpdateOrderStatus(ctx, id, update)
	if err != nil {
		return domain.Order{}, err
	}
	previous := lifecycle.ForOrder(*before)
	result := withUnifiedStatus(*updated)

	s.logAudit(ctx, "order_status_update", "order", result.ID, fmt.Sprintf(
		"fulfillment=%s,invoice=%s,paid=%t,status=%s->%s",
		result.FulfillmentStatus,
		result.InvoiceStatus,
		result.HasPaidInvoice,
		previous,
		result.UnifiedStatus,
	))
	if string(previous) != result.UnifiedStatus {
		s.publish(ctx, events.TypeOrderStatusChanged, result)
	}
	return result, nil
}

type quoteParams struct {
	channel             string
	codeInput           string
	manualDiscountCents int64
	lines               []domain.OrderLineRequest
}

func quoteParamsFrom(req domain.OrderQuoteRequest) quoteParams {
	return quoteParams{
		channel:             req.Channel,
		codeInput:           req.DiscountCode,
		manualDiscountCents: req.ManualDiscountCents,
		lines:               req.Lines,
	}
}

// quote gathers catalog listings and the code, then hands everything to the
// pricing engine. Nothing here mutates state.
func (s *Service) quote(ctx context.Context, p quoteParams) (pricing.Quote, string, error) {
	if p.manualDiscountCents < 0 {
		return pricing.Quote{}, "", store.ErrInvalidRequest
	}
	lines, err := normalizeLines(p.lines)
	if err != nil {
		return pricing.Quote{}, "", err
	}
	for _, line := range lines {
		if line.ManualUnitPriceCents != nil {
			if err := requireOverrideApproval(ctx); err != nil {
				return pricing.Quote{}, "", err
			}
			break
		}
	}

	channel := pricing.NormalizeChannel(p.channel, s.defaultChannel)
	catalog, err := s.loadCatalog(ctx)
	if err != nil {
		return pricing.Quote{}, "", err
	}

	items := make([]pricing.QuoteItem, 0, len(lines))
	for _, line := range lines {
		listing, err := catalog.Lookup(line.Barcode, channel)
		if err != nil {
			if errors.Is(err, pricing.ErrProductNotFound) {
				return pricing.Quote{}, "", fmt.Errorf("%w: product %s", store.ErrNotFound, line.Barcode)
			}
			return pricing.Quote{}, "", err
		}
		items = append(items, pricing.QuoteItem{
			Listing:         listing,
			Quantity:        line.Quantity,
			ManualUnitCents: line.ManualUnitPriceCents,
		})
	}

	in := pricing.QuoteInput{
		Items:               items,
		CodeInput:           p.codeInput,
		Now:                 s.now(),
		ManualDiscountCents: p.manualDiscountCents,
	}
	if pricing.NormalizeCode(p.codeInput) != "" {
		code, err := s.lookupCode(ctx, p.codeInput)
		if err != nil {
			return pricing.Quote{}, "", err
		}
		in.Code = code
	}

	q := pricing.QuoteOrder(in)
	if q.Rejection != nil {
		s.logger.Debug("discount code rejected",
			zap.String("code", q.Rejection.Code),
			zap.String("reason", string(q.Rejection.Reason)),
		)
	}
	return q, channel, nil
}

func requireOverrideApproval(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if ok && actor.Role == domain.RoleAdmin {
		return nil
	}
	if managerApproved(ctx) {
		return nil
	}
	return fmt.Errorf("%w: manual price override requires admin role or manager PIN", ErrForbidden)
}

// normalizeLines merges lines of the same product so quantity tiers see the
// full quantity. Lines with a manual price stay separate.
func normalizeLines(lines []domain.OrderLineRequest) ([]domain.OrderLineRequest, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	merged := make([]domain.OrderLineRequest, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		line.Barcode = pricing.NormalizeBarcode(line.Barcode)
		if line.Barcode == "" || line.Quantity < 1 || isNegative(line.ManualUnitPriceCents) {
			return nil, store.ErrInvalidRequest
		}
		if line.ManualUnitPriceCents != nil {
			merged = append(merged, line)
			continue
		}
		if i, ok := index[line.Barcode]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.Barcode] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

func toOrderQuote(q pricing.Quote, channel string, codeInput string) domain.OrderQuote {
	out := domain.OrderQuote{
		Channel:             channel,
		DiscountCode:        codeInput,
		DiscountApplied:     q.DiscountApplied(),
		Lines:               make([]domain.OrderLine, 0, len(q.Lines)),
		SubtotalCents:       q.Totals.SubtotalCents,
		PromoDiscountCents:  q.Totals.PromoDiscountCents,
		ManualDiscountCents: q.Totals.ManualDiscountCents,
		TotalCents:          q.Totals.TotalCents,
	}
	if codeInput != "" {
		out.DiscountMessage = pricingMessage(q, codeInput)
	}
	if q.Rejection != nil {
		out.RejectionReason = string(q.Rejection.Reason)
	}
	for _, line := range q.Lines {
		res := line.Resolution
		out.Lines = append(out.Lines, domain.OrderLine{
			Barcode:            line.Listing.Product.Barcode,
			ProductName:        line.Listing.Product.Name,
			Quantity:           line.Quantity,
			Tier:               res.Tier.String(),
			ReferenceUnitCents: res.ReferenceCents,
			ResolvedUnitCents:  res.UnitCents,
			UnitSavingsCents:   res.SavingsCents(),
			LineTotalCents:     line.TotalCents(),
			DiscountApplied:    res.DiscountApplied(),
			ManualOverride:     res.Tier == pricing.TierManual,
		})
	}
	return out
}

func withUnifiedStatus(order domain.Order) domain.Order {
	order.UnifiedStatus = string(lifecycle.ForOrder(order))
	return order
}

func (s *Service) publish(ctx context.Context, eventType string, order domain.Order) {
	event := events.NewOrderEvent(eventType, order, s.now())
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish order event",
			zap.String("type", eventType),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}

func isFulfillmentStatus(v string) bool {
	switch v {
	case domain.FulfillmentPending, domain.FulfillmentPacked, domain.FulfillmentShipped, domain.FulfillmentDelivered, domain.FulfillmentCancelled:
		return true
	}
	return false
}

func isInvoiceStatus(v string) bool {
	switch v {
	case domain.InvoiceNone, domain.InvoiceDraft, domain.InvoiceSent, domain.InvoicePaid, domain.InvoiceOverdue, domain.InvoiceVoid:
		return true
	}
	return false
}
