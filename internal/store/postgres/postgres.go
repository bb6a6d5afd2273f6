package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"orderdesk/backend/internal/domain"
	"orderdesk/backend/internal/store"
	"orderdesk/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables. Safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProductListings(ctx context.Context) ([]domain.ProductListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.barcode, p.name, p.category, p.base_price_cents, p.active,
			t.channel, t.single_unit_price_cents, t.bulk_unit_price_cents
		FROM products p
		LEFT JOIN price_tiers t ON t.barcode = p.barcode
		ORDER BY p.barcode, t.channel
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	listings := make([]domain.ProductListing, 0, 64)
	for rows.Next() {
		var p domain.Product
		var channel sql.NullString
		var single, bulk sql.NullInt64
		if err := rows.Scan(&p.Barcode, &p.Name, &p.Category, &p.BasePriceCents, &p.Active, &channel, &single, &bulk); err != nil {
			return nil, err
		}
		if n := len(listings); n == 0 || listings[n-1].Product.Barcode != p.Barcode {
			listings = append(listings, domain.ProductListing{Product: p, Tiers: []domain.PriceTier{}})
		}
		if channel.Valid {
			last := &listings[len(listings)-1]
			last.Tiers = append(last.Tiers, domain.PriceTier{
				Barcode:              p.Barcode,
				Channel:              channel.String,
				SingleUnitPriceCents: nullCents(single),
				BulkUnitPriceCents:   nullCents(bulk),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return listings, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Barcode == "" || product.Name == "" || product.BasePriceCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (barcode, name, category, base_price_cents, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
	`, product.Barcode, product.Name, product.Category, product.BasePriceCents, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, barcode string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT barcode, name, category, base_price_cents, active
		FROM products
		WHERE barcode = $1
	`, barcode).Scan(&product.Barcode, &product.Name, &product.Category, &product.BasePriceCents, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpsertPriceTier(ctx context.Context, tier domain.PriceTier) (*domain.PriceTier, error) {
	if tier.Barcode == "" || tier.Channel == "" {
		return nil, store.ErrInvalidRequest
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_tiers (barcode, channel, single_unit_price_cents, bulk_unit_price_cents, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (barcode, channel)
		DO UPDATE SET single_unit_price_cents = EXCLUDED.single_unit_price_cents,
			bulk_unit_price_cents = EXCLUDED.bulk_unit_price_cents,
			updated_at = now()
	`, tier.Barcode, tier.Channel, nullInt(tier.SingleUnitPriceCents), nullInt(tier.BulkUnitPriceCents))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	saved := tier
	return &saved, nil
}

const discountCodeColumns = `id, code, kind, scope, value, min_order_cents, max_discount_cents,
	usage_limit, used_count, valid_from, valid_until, active, override_prices, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscountCode(row rowScanner) (domain.DiscountCode, error) {
	var code domain.DiscountCode
	var minOrder, maxDiscount sql.NullInt64
	var overridesRaw []byte
	err := row.Scan(&code.ID, &code.Code, &code.Kind, &code.Scope, &code.Value, &minOrder, &maxDiscount,
		&code.UsageLimit, &code.UsedCount, &code.ValidFrom, &code.ValidUntil, &code.Active, &overridesRaw, &code.CreatedAt)
	if err != nil {
		return domain.DiscountCode{}, err
	}
	code.MinOrderCents = nullCents(minOrder)
	code.MaxDiscountCents = nullCents(maxDiscount)
	if len(overridesRaw) > 0 {
		if err := json.Unmarshal(overridesRaw, &code.OverridePrices); err != nil {
			return domain.DiscountCode{}, fmt.Errorf("decode override prices for %s: %w", code.Code, err)
		}
	}
	if len(code.OverridePrices) == 0 {
		code.OverridePrices = nil
	}
	code.ValidFrom = code.ValidFrom.UTC()
	code.ValidUntil = code.ValidUntil.UTC()
	code.CreatedAt = code.CreatedAt.UTC()
	return code, nil
}

func (s *Store) GetDiscountCode(ctx context.Context, code string) (*domain.DiscountCode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+discountCodeColumns+`
		FROM discount_codes
		WHERE upper(code) = upper($1)
	`, strings.TrimSpace(code))
	rec, err := scanDiscountCode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListDiscountCodes(ctx context.Context) ([]domain.DiscountCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+discountCodeColumns+`
		FROM discount_codes
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := make([]domain.DiscountCode, 0, 32)
	for rows.Next() {
		rec, err := scanDiscountCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return codes, nil
}

func (s *Store) CreateDiscountCode(ctx context.Context, code domain.DiscountCode) (*domain.DiscountCode, error) {
	code.Code = strings.ToUpper(strings.TrimSpace(code.Code))
	if code.Code == "" || code.UsageLimit < 0 || code.UsedCount < 0 || code.ValidUntil.Before(code.ValidFrom) {
		return nil, store.ErrInvalidRequest
	}
	if code.ID == "" {
		code.ID = xid.New("code")
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	overrides := code.OverridePrices
	if overrides == nil {
		overrides = map[string]int64{}
	}
	overridesJSON, err := json.Marshal(overrides)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO discount_codes (`+discountCodeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, code.ID, code.Code, code.Kind, code.Scope, code.Value, nullInt(code.MinOrderCents), nullInt(code.MaxDiscountCents),
		code.UsageLimit, code.UsedCount, code.ValidFrom, code.ValidUntil, code.Active, overridesJSON, code.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := code
	return &created, nil
}

func (s *Store) SetDiscountCodeActive(ctx context.Context, code string, active bool) (*domain.DiscountCode, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE discount_codes
		SET active = $2
		WHERE upper(code) = upper($1)
		RETURNING `+discountCodeColumns, strings.TrimSpace(code), active)
	rec, err := scanDiscountCode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

const orderColumns = `id, idempotency_key, customer_name, channel, COALESCE(discount_code_id, ''), discount_code,
	lines, subtotal_cents, promo_discount_cents, manual_discount_cents, total_cents,
	fulfillment_status, invoice_status, has_paid_invoice, created_by, created_at, updated_at`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var linesRaw []byte
	err := row.Scan(&order.ID, &order.IdempotencyKey, &order.CustomerName, &order.Channel, &order.DiscountCodeID,
		&order.DiscountCode, &linesRaw, &order.SubtotalCents, &order.PromoDiscountCents, &order.ManualDiscountCents,
		&order.TotalCents, &order.FulfillmentStatus, &order.InvoiceStatus, &order.HasPaidInvoice, &order.CreatedBy,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(linesRaw, &order.Lines); err != nil {
		return nil, fmt.Errorf("decode lines for order %s: %w", order.ID, err)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

func (s *Store) FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error) {
	return s.findOrder(ctx, "idempotency_key", key)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.findOrder(ctx, "id", id)
}

func (s *Store) findOrder(ctx context.Context, column string, value string) (*domain.Order, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s = $1`, orderColumns, column)
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

const finalizeAttempts = 5

// FinalizeOrder redeems the code with a conditional UPDATE and inserts the order
// in one serializable transaction. Zero updated rows means the last use is gone.
// Serialization failures are retried; the retry sees the winner's count.
func (s *Store) FinalizeOrder(ctx context.Context, order domain.Order) (*domain.Order, bool, error) {
	if order.IdempotencyKey == "" || len(order.Lines) == 0 {
		return nil, false, store.ErrInvalidRequest
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

	linesJSON, err := json.Marshal(order.Lines)
	if err != nil {
		return nil, false, err
	}

	for attempt := 1; ; attempt++ {
		if existing, err := s.FindOrderByIdempotency(ctx, order.IdempotencyKey); err == nil {
			return existing, true, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}

		err := s.finalizeOnce(ctx, order, linesJSON)
		switch {
		case err == nil:
			return &order, false, nil
		case isUniqueViolation(err):
			existing, lookupErr := s.FindOrderByIdempotency(ctx, order.IdempotencyKey)
			if lookupErr == nil {
				return existing, true, nil
			}
			return nil, false, err
		case isSerializationFailure(err) && attempt < finalizeAttempts:
			continue
		default:
			return nil, false, err
		}
	}
}

func (s *Store) finalizeOnce(ctx context.Context, order domain.Order, linesJSON []byte) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if order.DiscountCodeID != "" {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE discount_codes
			SET used_count = used_count + 1
			WHERE id = $1 AND used_count < usage_limit
		`, order.DiscountCodeID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return store.ErrUsageExceeded
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO orders (
			id, idempotency_key, customer_name, channel, discount_code_id, discount_code,
			lines, subtotal_cents, promo_discount_cents, manual_discount_cents, total_cents,
			fulfillment_status, invoice_status, has_paid_invoice, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, order.ID, order.IdempotencyKey, order.CustomerName, order.Channel, nullIfEmpty(order.DiscountCodeID),
		order.DiscountCode, linesJSON, order.SubtotalCents, order.PromoDiscountCents, order.ManualDiscountCents,
		order.TotalCents, order.FulfillmentStatus, order.InvoiceStatus, order.HasPaidInvoice, order.CreatedBy,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return err
	}

	return pgTx.Commit()
}

func (s *Store) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, update store.OrderStatusUpdate) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET fulfillment_status = COALESCE($2, fulfillment_status),
			invoice_status = COALESCE($3, invoice_status),
			has_paid_invoice = COALESCE($4, has_paid_invoice),
			updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, id, nullString(update.FulfillmentStatus), nullString(update.InvoiceStatus), nullBool(update.HasPaidInvoice))
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

func isSerializationFailure(err error) bool {
	return pgErrorCode(err) == "40001"
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullString(val *string) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullBool(val *bool) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullCents(val sql.NullInt64) *int64 {
	if !val.Valid {
		return nil
	}
	out := val.Int64
	return &out
}
