package memory

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"orderdesk/backend/internal/domain"
	"orderdesk/backend/internal/ledger"
	"orderdesk/backend/internal/store"
	"orderdesk/backend/internal/xid"
)

// Store keeps everything in process. Code redemptions go through a ledger so
// that concurrent finalizations never hand out more uses than a code allows.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	tiers           map[string]map[string]domain.PriceTier
	codesByKey      map[string]domain.DiscountCode
	usage           *ledger.Ledger
	ordersByID      map[string]*domain.Order
	ordersByIdem    map[string]*domain.Order
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New(logger *zap.Logger) *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		tiers:           make(map[string]map[string]domain.PriceTier),
		codesByKey:      make(map[string]domain.DiscountCode),
		usage:           ledger.New(),
		ordersByID:      make(map[string]*domain.Order),
		ordersByIdem:    make(map[string]*domain.Order),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(logger),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD, falling back to fixed dev
// defaults with a warning. Production runs on Postgres (DATABASE_URL).
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	if logger == nil {
		logger = zap.NewNop()
	}
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func centsPtr(v int64) *int64 { return &v }

// NewSeeded returns a store with a small demo catalog and a few discount codes.
func NewSeeded(logger *zap.Logger) *Store {
	s := New(logger)

	products := []domain.Product{
		{Barcode: "B-100", Name: "Bracket Kit", Category: "hardware", BasePriceCents: 6000, Active: true},
		{Barcode: "C-200", Name: "Cable Set", Category: "electrical", BasePriceCents: 2500, Active: true},
		{Barcode: "D-300", Name: "Drill Bit Pack", Category: "tools", BasePriceCents: 1800, Active: true},
		{Barcode: "E-400", Name: "Legacy Hinge", Category: "hardware", BasePriceCents: 900, Active: false},
	}
	for _, p := range products {
		s.products[p.Barcode] = p
	}

	for _, tier := range []domain.PriceTier{
		{Barcode: "B-100", Channel: "retail", SingleUnitPriceCents: centsPtr(5000), BulkUnitPriceCents: centsPtr(4000)},
		{Barcode: "B-100", Channel: "bulk", SingleUnitPriceCents: centsPtr(4500), BulkUnitPriceCents: centsPtr(3600)},
		{Barcode: "C-200", Channel: "retail", SingleUnitPriceCents: centsPtr(2200)},
	} {
		s.putTier(tier)
	}

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC)
	for _, code := range []domain.DiscountCode{
		{ID: "code-save10", Code: "SAVE10", Kind: domain.DiscountKindPercentage, Scope: domain.DiscountScopeLine, Value: 10, MaxDiscountCents: centsPtr(300), UsageLimit: 1000, ValidFrom: from, ValidUntil: until, Active: true},
		{ID: "code-welcome5", Code: "WELCOME5", Kind: domain.DiscountKindFixedAmount, Scope: domain.DiscountScopeOrder, Value: 500, MinOrderCents: centsPtr(2000), UsageLimit: 100, ValidFrom: from, ValidUntil: until, Active: true},
		{ID: "code-vip", Code: "VIP", Kind: domain.DiscountKindPriceOverride, Scope: domain.DiscountScopeLine, OverridePrices: map[string]int64{"B-100": 3000}, UsageLimit: 50, ValidFrom: from, ValidUntil: until, Active: true},
		{ID: "code-spring23", Code: "SPRING23", Kind: domain.DiscountKindPercentage, Scope: domain.DiscountScopeLine, Value: 20, UsageLimit: 100, ValidFrom: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), ValidUntil: time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC), Active: true},
	} {
		code.CreatedAt = from
		s.codesByKey[code.Code] = code
		s.usage.Register(code.ID, code.UsedCount, code.UsageLimit)
	}

	return s
}

func (s *Store) putTier(tier domain.PriceTier) {
	byChannel, ok := s.tiers[tier.Barcode]
	if !ok {
		byChannel = make(map[string]domain.PriceTier)
		s.tiers[tier.Barcode] = byChannel
	}
	byChannel[tier.Channel] = cloneTier(tier)
}

func (s *Store) ListProductListings(_ context.Context) ([]domain.ProductListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make([]domain.ProductListing, 0, len(s.products))
	for barcode, p := range s.products {
		tiers := make([]domain.PriceTier, 0, len(s.tiers[barcode]))
		for _, tier := range s.tiers[barcode] {
			tiers = append(tiers, cloneTier(tier))
		}
		slices.SortFunc(tiers, func(a, b domain.PriceTier) int {
			return strings.Compare(a.Channel, b.Channel)
		})
		listings = append(listings, domain.ProductListing{Product: p, Tiers: tiers})
	}
	slices.SortFunc(listings, func(a, b domain.ProductListing) int {
		return strings.Compare(a.Product.Barcode, b.Product.Barcode)
	})
	return listings, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Barcode == "" || product.Name == "" || product.BasePriceCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.products[product.Barcode]; exists {
		return nil, store.ErrConflict
	}
	product.Active = true
	s.products[product.Barcode] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[barcode]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) UpsertPriceTier(_ context.Context, tier domain.PriceTier) (*domain.PriceTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tier.Channel == "" {
		return nil, store.ErrInvalidRequest
	}
	if _, ok := s.products[tier.Barcode]; !ok {
		return nil, store.ErrNotFound
	}
	s.putTier(tier)
	saved := cloneTier(tier)
	return &saved, nil
}

func (s *Store) GetDiscountCode(_ context.Context, code string) (*domain.DiscountCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.codesByKey[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := s.withUsage(rec)
	return &out, nil
}

func (s *Store) ListDiscountCodes(_ context.Context) ([]domain.DiscountCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]domain.DiscountCode, 0, len(s.codesByKey))
	for _, rec := range s.codesByKey {
		codes = append(codes, s.withUsage(rec))
	}
	slices.SortFunc(codes, func(a, b domain.DiscountCode) int {
		return strings.Compare(a.Code, b.Code)
	})
	return codes, nil
}

func (s *Store) CreateDiscountCode(_ context.Context, code domain.DiscountCode) (*domain.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code.Code = strings.ToUpper(strings.TrimSpace(code.Code))
	if code.Code == "" || code.UsageLimit < 0 || code.UsedCount < 0 || code.ValidUntil.Before(code.ValidFrom) {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.codesByKey[code.Code]; exists {
		return nil, store.ErrConflict
	}
	if code.ID == "" {
		code.ID = xid.New("code")
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	code.OverridePrices = cloneOverrides(code.OverridePrices)
	s.codesByKey[code.Code] = code
	s.usage.Register(code.ID, code.UsedCount, code.UsageLimit)

	out := s.withUsage(code)
	return &out, nil
}

func (s *Store) SetDiscountCodeActive(_ context.Context, code string, active bool) (*domain.DiscountCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToUpper(strings.TrimSpace(code))
	rec, ok := s.codesByKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec.Active = active
	s.codesByKey[key] = rec
	out := s.withUsage(rec)
	return &out, nil
}

// withUsage overlays the live redemption count. Callers hold s.mu.
func (s *Store) withUsage(rec domain.DiscountCode) domain.DiscountCode {
	rec.UsedCount = s.usage.Used(rec.ID)
	rec.OverridePrices = cloneOverrides(rec.OverridePrices)
	return rec
}

func (s *Store) FindOrderByIdempotency(_ context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) FinalizeOrder(_ context.Context, order domain.Order) (*domain.Order, bool, error) {
	if order.IdempotencyKey == "" || len(order.Lines) == 0 {
		return nil, false, store.ErrInvalidRequest
	}

	s.mu.RLock()
	existing, ok := s.ordersByIdem[order.IdempotencyKey]
	s.mu.RUnlock()
	if ok {
		return cloneOrder(existing), true, nil
	}

	redeemed := false
	if order.DiscountCodeID != "" {
		if _, err := s.usage.Redeem(order.DiscountCodeID); err != nil {
			if errors.Is(err, ledger.ErrUsageExceeded) {
				return nil, false, store.ErrUsageExceeded
			}
			return nil, false, store.ErrNotFound
		}
		redeemed = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// a concurrent retry with the same key may have won the race
	if existing, ok := s.ordersByIdem[order.IdempotencyKey]; ok {
		if redeemed {
			s.usage.Release(order.DiscountCodeID)
		}
		return cloneOrder(existing), true, nil
	}

	now := time.Now().UTC()
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	if order.FulfillmentStatus == "" {
		order.FulfillmentStatus = domain.FulfillmentPending
	}
	if order.InvoiceStatus == "" {
		order.InvoiceStatus = domain.InvoiceNone
	}
	order.UnifiedStatus = ""

	stored := cloneOrder(&order)
	s.ordersByID[order.ID] = stored
	s.ordersByIdem[order.IdempotencyKey] = stored
	return cloneOrder(stored), false, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		orders = append(orders, *cloneOrder(order))
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id string, update store.OrderStatusUpdate) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if update.FulfillmentStatus != nil {
		order.FulfillmentStatus = *update.FulfillmentStatus
	}
	if update.InvoiceStatus != nil {
		order.InvoiceStatus = *update.InvoiceStatus
	}
	if update.HasPaidInvoice != nil {
		order.HasPaidInvoice = *update.HasPaidInvoice
	}
	order.UpdatedAt = time.Now().UTC()
	return cloneOrder(order), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := slices.Clone(s.auditLogs)
	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneTier(src domain.PriceTier) domain.PriceTier {
	dup := src
	if src.SingleUnitPriceCents != nil {
		dup.SingleUnitPriceCents = centsPtr(*src.SingleUnitPriceCents)
	}
	if src.BulkUnitPriceCents != nil {
		dup.BulkUnitPriceCents = centsPtr(*src.BulkUnitPriceCents)
	}
	return dup
}

func cloneOverrides(src map[string]int64) map[string]int64 {
	if src == nil {
		return nil
	}
	dup := make(map[string]int64, len(src))
	for k, v := range src {
		dup[k] = v
	}
	return dup
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = slices.Clone(src.Lines)
	return &dup
}
