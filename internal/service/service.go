package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"orderdesk/backend/internal/cache"
	"orderdesk/backend/internal/domain"
	"orderdesk/backend/internal/events"
	"orderdesk/backend/internal/pricing"
	"orderdesk/backend/internal/store"
	"orderdesk/backend/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

type managerApprovalKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// WithManagerApproval marks the request as approved by a manager PIN. The HTTP
// layer sets it after checking the PIN.
func WithManagerApproval(ctx context.Context) context.Context {
	return context.WithValue(ctx, managerApprovalKey{}, true)
}

func managerApproved(ctx context.Context) bool {
	approved, _ := ctx.Value(managerApprovalKey{}).(bool)
	return approved
}

type Config struct {
	DefaultChannel string
	CatalogTTL     time.Duration
	Now            func() time.Time
}

type Service struct {
	repo           store.Repository
	catalogCache   cache.CatalogCache
	publisher      events.Publisher
	logger         *zap.Logger
	defaultChannel string
	catalogTTL     time.Duration
	now            func() time.Time
}

func New(repo store.Repository, catalogCache cache.CatalogCache, publisher events.Publisher, logger *zap.Logger, cfg Config) *Service {
	if catalogCache == nil {
		catalogCache = cache.NoopCatalogCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = pricing.ChannelRetail
	}
	if cfg.CatalogTTL <= 0 {
		cfg.CatalogTTL = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		repo:           repo,
		catalogCache:   catalogCache,
		publisher:      publisher,
		logger:         logger.Named("service"),
		defaultChannel: pricing.NormalizeChannel(cfg.DefaultChannel, pricing.ChannelRetail),
		catalogTTL:     cfg.CatalogTTL,
		now:            cfg.Now,
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.ProductListing, error) {
	return s.loadListings(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		Barcode:        pricing.NormalizeBarcode(req.Barcode),
		Name:           strings.TrimSpace(req.Name),
		Category:       strings.TrimSpace(req.Category),
		BasePriceCents: req.BasePriceCents,
		Active:         true,
	}
	if product.Barcode == "" || product.Name == "" || product.Category == "" || product.BasePriceCents < 0 {
		return domain.Product{}, store.ErrInvalidRequest
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateCatalog(ctx)

	s.logAudit(ctx, "product_create", "product", created.Barcode, fmt.Sprintf("name=%s,base_price=%d", created.Name, created.BasePriceCents))
	return *created, nil
}

func (s *Service) UpsertPriceTier(ctx context.Context, barcode string, req domain.PriceTierUpsertRequest) (domain.PriceTier, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PriceTier{}, err
	}

	tier := domain.PriceTier{
		Barcode:              pricing.NormalizeBarcode(barcode),
		Channel:              pricing.NormalizeChannel(req.Channel, ""),
		SingleUnitPriceCents: req.SingleUnitPriceCents,
		BulkUnitPriceCents:   req.BulkUnitPriceCents,
	}
	if tier.Barcode == "" || tier.Channel == "" {
		return domain.PriceTier{}, store.ErrInvalidRequest
	}
	if isNegative(tier.SingleUnitPriceCents) || isNegative(tier.BulkUnitPriceCents) {
		return domain.PriceTier{}, store.ErrInvalidRequest
	}

	saved, err := s.repo.UpsertPriceTier(ctx, tier)
	if err != nil {
		return domain.PriceTier{}, err
	}
	s.invalidateCatalog(ctx)

	s.logAudit(ctx, "price_tier_upsert", "product", saved.Barcode, fmt.Sprintf("channel=%s,single=%s,bulk=%s", saved.Channel, centsDetail(saved.SingleUnitPriceCents), centsDetail(saved.BulkUnitPriceCents)))
	return *saved, nil
}

func (s *Service) ListDiscountCodes(ctx context.Context) ([]domain.DiscountCode, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListDiscountCodes(ctx)
}

func (s *Service) CreateDiscountCode(ctx context.Context, req domain.DiscountCodeCreateRequest) (domain.DiscountCode, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.DiscountCode{}, err
	}

	rec := domain.DiscountCode{
		ID:               xid.New("code"),
		Code:             pricing.NormalizeCode(req.Code),
		Kind:             strings.ToLower(strings.TrimSpace(req.Kind)),
		Scope:            strings.ToLower(strings.TrimSpace(req.Scope)),
		Value:            req.Value,
		MinOrderCents:    req.MinOrderCents,
		MaxDiscountCents: req.MaxDiscountCents,
		UsageLimit:       req.UsageLimit,
		ValidFrom:        req.ValidFrom.UTC(),
		ValidUntil:       req.ValidUntil.UTC(),
		Active:           true,
		OverridePrices:   normalizeOverrides(req.OverridePrices),
		CreatedAt:        s.now().UTC(),
	}
	if rec.Code == "" || rec.UsageLimit < 1 || !rec.ValidUntil.After(rec.ValidFrom) {
		return domain.DiscountCode{}, store.ErrInvalidRequest
	}
	if isNegative(rec.MinOrderCents) || isNegative(rec.MaxDiscountCents) {
		return domain.DiscountCode{}, store.ErrInvalidRequest
	}
	for _, cents := range rec.OverridePrices {
		if cents < 0 {
			return domain.DiscountCode{}, fmt.Errorf("%w: negative override price", store.ErrInvalidRequest)
		}
	}

	parsed, err := pricing.CodeFromRecord(rec)
	if err != nil {
		return domain.DiscountCode{}, fmt.Errorf("%w: %v", store.ErrInvalidRequest, err)
	}
	if parsed.Kind == pricing.KindPriceOverride && parsed.Overrides.Len() == 0 {
		return domain.DiscountCode{}, fmt.Errorf("%w: price override code needs at least one override price", store.ErrInvalidRequest)
	}
	rec.Scope = parsed.Scope.String()
	if parsed.Kind == pricing.KindPriceOverride {
		rec.Value = 0
	}

	created, err := s.repo.CreateDiscountCode(ctx, rec)
	if err != nil {
		return domain.DiscountCode{}, err
	}

	s.logAudit(ctx, "discount_code_create", "discount_code", created.Code, fmt.Sprintf("kind=%s,scope=%s,value=%g,limit=%d", created.Kind, created.Scope, created.Value, created.UsageLimit))
	return *created, nil
}

func (s *Service) SetDiscountCodeActive(ctx context.Context, code string, active bool) (domain.DiscountCode, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.DiscountCode{}, err
	}

	code = pricing.NormalizeCode(code)
	if code == "" {
		return domain.DiscountCode{}, store.ErrInvalidRequest
	}
	updated, err := s.repo.SetDiscountCodeActive(ctx, code, active)
	if err != nil {
		return domain.DiscountCode{}, err
	}

	s.logAudit(ctx, "discount_code_toggle", "discount_code", updated.Code, fmt.Sprintf("active=%t", active))
	return *updated, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

// RecordAccountChange writes an audit entry for an account change made by the
// auth layer.
func (s *Service) RecordAccountChange(ctx context.Context, action string, username string) {
	s.logAudit(ctx, action, "user", username, "")
}

// loadListings reads the catalog through the cache. Cache failures only cost a
// database read.
func (s *Service) loadListings(ctx context.Context) ([]domain.ProductListing, error) {
	listings, ok, err := s.catalogCache.Get(ctx, cache.CatalogKey)
	if err != nil {
		s.logger.Warn("catalog cache read failed", zap.Error(err))
	}
	if ok && err == nil {
		return listings, nil
	}

	listings, err = s.repo.ListProductListings(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.catalogCache.Set(ctx, cache.CatalogKey, listings, s.catalogTTL); err != nil {
		s.logger.Warn("catalog cache write failed", zap.Error(err))
	}
	return listings, nil
}

func (s *Service) loadCatalog(ctx context.Context) (*pricing.Catalog, error) {
	listings, err := s.loadListings(ctx)
	if err != nil {
		return nil, err
	}
	return pricing.NewCatalog(listings), nil
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.catalogCache.Delete(ctx, cache.CatalogKey); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}

// lookupCode returns nil when no code with that name exists.
func (s *Service) lookupCode(ctx context.Context, input string) (*pricing.Code, error) {
	rec, err := s.repo.GetDiscountCode(ctx, pricing.NormalizeCode(input))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	code, err := pricing.CodeFromRecord(*rec)
	if err != nil {
		return nil, fmt.Errorf("stored discount code %s: %w", rec.Code, err)
	}
	return &code, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func normalizeOverrides(prices map[string]int64) map[string]int64 {
	if len(prices) == 0 {
		return nil
	}
	out := make(map[string]int64, len(prices))
	for barcode, cents := range prices {
		if key := pricing.NormalizeBarcode(barcode); key != "" {
			out[key] = cents
		}
	}
	return out
}

func isNegative(cents *int64) bool {
	return cents != nil && *cents < 0
}

func centsDetail(cents *int64) string {
	if cents == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *cents)
}
