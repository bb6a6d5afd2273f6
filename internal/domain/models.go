package domain

import "time"

type Product struct {
	Barcode        string `json:"barcode"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	BasePriceCents int64  `json:"base_price_cents"`
	Active         bool   `json:"active"`
}

type ProductCreateRequest struct {
	Barcode        string `json:"barcode" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Category       string `json:"category" validate:"required"`
	BasePriceCents int64  `json:"base_price_cents" validate:"gte=0"`
}

// PriceTier holds the optional quantity price points of one product on one order channel.
type PriceTier struct {
	Barcode              string `json:"barcode"`
	Channel              string `json:"channel"`
	SingleUnitPriceCents *int64 `json:"single_unit_price_cents,omitempty"`
	BulkUnitPriceCents   *int64 `json:"bulk_unit_price_cents,omitempty"`
}

type PriceTierUpsertRequest struct {
	Channel              string `json:"channel" validate:"required"`
	SingleUnitPriceCents *int64 `json:"single_unit_price_cents,omitempty" validate:"omitempty,gte=0"`
	BulkUnitPriceCents   *int64 `json:"bulk_unit_price_cents,omitempty" validate:"omitempty,gte=0"`
}

type ProductListing struct {
	Product Product     `json:"product"`
	Tiers   []PriceTier `json:"tiers"`
}

// DiscountCode is the persisted shape of a promotional code. Kind and Scope stay
// strings here; the pricing package parses them into closed enums once per load.
type DiscountCode struct {
	ID               string           `json:"id"`
	Code             string           `json:"code"`
	Kind             string           `json:"kind"`
	Scope            string           `json:"scope"`
	Value            float64          `json:"value"`
	MinOrderCents    *int64           `json:"min_order_cents,omitempty"`
	MaxDiscountCents *int64           `json:"max_discount_cents,omitempty"`
	UsageLimit       int64            `json:"usage_limit"`
	UsedCount        int64            `json:"used_count"`
	ValidFrom        time.Time        `json:"valid_from"`
	ValidUntil       time.Time        `json:"valid_until"`
	Active           bool             `json:"active"`
	OverridePrices   map[string]int64 `json:"override_prices,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

type DiscountCodeCreateRequest struct {
	Code             string           `json:"code" validate:"required"`
	Kind             string           `json:"kind" validate:"required,oneof=percentage fixed_amount price_override"`
	Scope            string           `json:"scope" validate:"omitempty,oneof=line order"`
	Value            float64          `json:"value" validate:"gte=0"`
	MinOrderCents    *int64           `json:"min_order_cents,omitempty" validate:"omitempty,gte=0"`
	MaxDiscountCents *int64           `json:"max_discount_cents,omitempty" validate:"omitempty,gte=0"`
	UsageLimit       int64            `json:"usage_limit" validate:"gte=1"`
	ValidFrom        time.Time        `json:"valid_from" validate:"required"`
	ValidUntil       time.Time        `json:"valid_until" validate:"required"`
	OverridePrices   map[string]int64 `json:"override_prices,omitempty"`
}

type DiscountCodeToggleRequest struct {
	Active bool `json:"active"`
}

const (
	DiscountKindPercentage    = "percentage"
	DiscountKindFixedAmount   = "fixed_amount"
	DiscountKindPriceOverride = "price_override"
)

const (
	DiscountScopeLine  = "line"
	DiscountScopeOrder = "order"
)

// DiscountPricingRequest is the body of POST /discount-pricing. Field names follow
// the established camelCase contract of that endpoint.
type DiscountPricingRequest struct {
	Barcode      string `json:"barcode" validate:"required"`
	Quantity     int    `json:"quantity" validate:"required,gte=1"`
	DiscountCode string `json:"discountCode" validate:"required"`
	Channel      string `json:"channel,omitempty"`
}

type DiscountPricingResponse struct {
	Success           bool    `json:"success"`
	Barcode           string  `json:"barcode"`
	ProductName       string  `json:"productName"`
	Quantity          int     `json:"quantity"`
	DiscountCode      string  `json:"discountCode"`
	Channel           string  `json:"channel"`
	OriginalPrice     float64 `json:"originalPrice"`
	DiscountedPrice   float64 `json:"discountedPrice"`
	Savings           float64 `json:"savings"`
	TotalPrice        float64 `json:"totalPrice"`
	PricingTier       string  `json:"pricingTier"`
	IsDiscountApplied bool    `json:"isDiscountApplied"`
	Message           string  `json:"message"`
}

type OrderLineRequest struct {
	Barcode              string `json:"barcode" validate:"required"`
	Quantity             int    `json:"quantity" validate:"gte=1"`
	ManualUnitPriceCents *int64 `json:"manual_unit_price_cents,omitempty" validate:"omitempty,gte=0"`
}

type OrderQuoteRequest struct {
	Channel             string             `json:"channel"`
	DiscountCode        string             `json:"discount_code"`
	ManualDiscountCents int64              `json:"manual_discount_cents" validate:"gte=0"`
	ManagerPIN          string             `json:"manager_pin,omitempty"`
	Lines               []OrderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type OrderFinalizeRequest struct {
	OrderQuoteRequest
	IdempotencyKey string `json:"idempotency_key"`
	CustomerName   string `json:"customer_name"`
}

type OrderLine struct {
	Barcode            string `json:"barcode"`
	ProductName        string `json:"product_name"`
	Quantity           int    `json:"quantity"`
	Tier               string `json:"tier"`
	ReferenceUnitCents int64  `json:"reference_unit_cents"`
	ResolvedUnitCents  int64  `json:"resolved_unit_cents"`
	UnitSavingsCents   int64  `json:"unit_savings_cents"`
	LineTotalCents     int64  `json:"line_total_cents"`
	DiscountApplied    bool   `json:"discount_applied"`
	ManualOverride     bool   `json:"manual_override"`
}

type OrderQuote struct {
	Channel             string      `json:"channel"`
	DiscountCode        string      `json:"discount_code,omitempty"`
	DiscountApplied     bool        `json:"discount_applied"`
	DiscountMessage     string      `json:"discount_message,omitempty"`
	RejectionReason     string      `json:"rejection_reason,omitempty"`
	Lines               []OrderLine `json:"lines"`
	SubtotalCents       int64       `json:"subtotal_cents"`
	PromoDiscountCents  int64       `json:"promo_discount_cents"`
	ManualDiscountCents int64       `json:"manual_discount_cents"`
	TotalCents          int64       `json:"total_cents"`
}

// Order is a finalized order. UnifiedStatus is filled on read from the raw
// fulfillment and invoice fields and is never persisted.
type Order struct {
	ID                  string      `json:"id"`
	IdempotencyKey      string      `json:"idempotency_key"`
	CustomerName        string      `json:"customer_name,omitempty"`
	Channel             string      `json:"channel"`
	DiscountCodeID      string      `json:"discount_code_id,omitempty"`
	DiscountCode        string      `json:"discount_code,omitempty"`
	Lines               []OrderLine `json:"lines"`
	SubtotalCents       int64       `json:"subtotal_cents"`
	PromoDiscountCents  int64       `json:"promo_discount_cents"`
	ManualDiscountCents int64       `json:"manual_discount_cents"`
	TotalCents          int64       `json:"total_cents"`
	FulfillmentStatus   string      `json:"fulfillment_status"`
	InvoiceStatus       string      `json:"invoice_status"`
	HasPaidInvoice      bool        `json:"has_paid_invoice"`
	UnifiedStatus       string      `json:"unified_status"`
	CreatedBy           string      `json:"created_by"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

type OrderFinalizeResponse struct {
	Order           Order  `json:"order"`
	Duplicate       bool   `json:"duplicate"`
	DiscountMessage string `json:"discount_message,omitempty"`
}

type OrderStatusUpdateRequest struct {
	FulfillmentStatus *string `json:"fulfillment_status,omitempty" validate:"omitempty,oneof=pending packed shipped delivered cancelled"`
	InvoiceStatus     *string `json:"invoice_status,omitempty" validate:"omitempty,oneof=none draft sent paid overdue void"`
	HasPaidInvoice    *bool   `json:"has_paid_invoice,omitempty"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

const (
	FulfillmentPending   = "pending"
	FulfillmentPacked    = "packed"
	FulfillmentShipped   = "shipped"
	FulfillmentDelivered = "delivered"
	FulfillmentCancelled = "cancelled"
)

const (
	InvoiceNone    = "none"
	InvoiceDraft   = "draft"
	InvoiceSent    = "sent"
	InvoicePaid    = "paid"
	InvoiceOverdue = "overdue"
	InvoiceVoid    = "void"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

type StaffCreateRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=6"`
}

type StaffPasswordResetRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
