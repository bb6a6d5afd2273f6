package store

import (
	"context"
	"errors"

	"orderdesk/backend/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUsageExceeded  = errors.New("discount code usage limit reached")
	ErrConflict       = errors.New("already exists")
)

// OrderStatusUpdate carries the raw status fields to change. Nil fields are left as is.
type OrderStatusUpdate struct {
	FulfillmentStatus *string
	InvoiceStatus     *string
	HasPaidInvoice    *bool
}

type Repository interface {
	ListProductListings(ctx context.Context) ([]domain.ProductListing, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, barcode string) (*domain.Product, error)
	UpsertPriceTier(ctx context.Context, tier domain.PriceTier) (*domain.PriceTier, error)

	GetDiscountCode(ctx context.Context, code string) (*domain.DiscountCode, error)
	ListDiscountCodes(ctx context.Context) ([]domain.DiscountCode, error)
	CreateDiscountCode(ctx context.Context, code domain.DiscountCode) (*domain.DiscountCode, error)
	SetDiscountCodeActive(ctx context.Context, code string, active bool) (*domain.DiscountCode, error)

	// FinalizeOrder stores the order and, when DiscountCodeID is set, redeems one
	// use of that code in the same atomic step. If an order with the same
	// idempotency key exists it is returned with duplicate=true and nothing is
	// redeemed. ErrUsageExceeded means the code had no uses left.
	FinalizeOrder(ctx context.Context, order domain.Order) (stored *domain.Order, duplicate bool, err error)
	FindOrderByIdempotency(ctx context.Context, key string) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, update OrderStatusUpdate) (*domain.Order, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
