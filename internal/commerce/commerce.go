package commerce

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("commerce entity not found")
	ErrMissingExternalID = errors.New("external id is required")
)

// Order mirrors a storefront order. ExternalID is the storefront's order
// ID and the idempotency key for reconciliation.
type Order struct {
	ID                 uuid.UUID       `json:"id"`
	ExternalID         string          `json:"external_id"`
	OrderNumber        int64           `json:"order_number,omitempty"`
	Email              string          `json:"email,omitempty"`
	Currency           string          `json:"currency,omitempty"`
	TotalPrice         string          `json:"total_price,omitempty"`
	SubtotalPrice      string          `json:"subtotal_price,omitempty"`
	TotalTax           string          `json:"total_tax,omitempty"`
	FinancialStatus    string          `json:"financial_status,omitempty"`
	FulfillmentStatus  string          `json:"fulfillment_status,omitempty"`
	CustomerExternalID string          `json:"customer_external_id,omitempty"`
	Note               string          `json:"note,omitempty"`
	Tags               string          `json:"tags,omitempty"`
	CancelReason       string          `json:"cancel_reason,omitempty"`
	ProcessedAt        *time.Time      `json:"processed_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	FulfilledAt        *time.Time      `json:"fulfilled_at,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	LineItems          json.RawMessage `json:"line_items,omitempty"`
	ShippingAddress    json.RawMessage `json:"shipping_address,omitempty"`
	BillingAddress     json.RawMessage `json:"billing_address,omitempty"`
	DiscountCodes      json.RawMessage `json:"discount_codes,omitempty"`
	LastSyncedAt       time.Time       `json:"last_synced_at"`
	CreatedAt          time.Time       `json:"created_at"`
}

// OrderPatch carries the fields present in a single webhook delivery.
// Nil means "not present in this event" and never overwrites.
type OrderPatch struct {
	ExternalID         string
	OrderNumber        *int64
	Email              *string
	Currency           *string
	TotalPrice         *string
	SubtotalPrice      *string
	TotalTax           *string
	FinancialStatus    *string
	FulfillmentStatus  *string
	CustomerExternalID *string
	Note               *string
	Tags               *string
	CancelReason       *string
	ProcessedAt        *time.Time
	CancelledAt        *time.Time
	FulfilledAt        *time.Time
	PaidAt             *time.Time
	LineItems          json.RawMessage
	ShippingAddress    json.RawMessage
	BillingAddress     json.RawMessage
	DiscountCodes      json.RawMessage
}

// Customer mirrors a storefront customer record.
type Customer struct {
	ID               uuid.UUID       `json:"id"`
	ExternalID       string          `json:"external_id"`
	Email            string          `json:"email,omitempty"`
	FirstName        string          `json:"first_name,omitempty"`
	LastName         string          `json:"last_name,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	OrdersCount      int64           `json:"orders_count,omitempty"`
	TotalSpent       string          `json:"total_spent,omitempty"`
	Currency         string          `json:"currency,omitempty"`
	VerifiedEmail    bool            `json:"verified_email,omitempty"`
	TaxExempt        bool            `json:"tax_exempt,omitempty"`
	AcceptsMarketing bool            `json:"accepts_marketing,omitempty"`
	Tags             string          `json:"tags,omitempty"`
	Addresses        json.RawMessage `json:"addresses,omitempty"`
	DefaultAddress   json.RawMessage `json:"default_address,omitempty"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty"`
	LastSyncedAt     time.Time       `json:"last_synced_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

type CustomerPatch struct {
	ExternalID       string
	Email            *string
	FirstName        *string
	LastName         *string
	Phone            *string
	OrdersCount      *int64
	TotalSpent       *string
	Currency         *string
	VerifiedEmail    *bool
	TaxExempt        *bool
	AcceptsMarketing *bool
	Tags             *string
	Addresses        json.RawMessage
	DefaultAddress   json.RawMessage
}

// Product mirrors a storefront product.
type Product struct {
	ID           uuid.UUID       `json:"id"`
	ExternalID   string          `json:"external_id"`
	Title        string          `json:"title,omitempty"`
	BodyHTML     string          `json:"body_html,omitempty"`
	Vendor       string          `json:"vendor,omitempty"`
	ProductType  string          `json:"product_type,omitempty"`
	Handle       string          `json:"handle,omitempty"`
	Status       string          `json:"status,omitempty"`
	Tags         string          `json:"tags,omitempty"`
	PublishedAt  *time.Time      `json:"published_at,omitempty"`
	Variants     json.RawMessage `json:"variants,omitempty"`
	Options      json.RawMessage `json:"options,omitempty"`
	Images       json.RawMessage `json:"images,omitempty"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

type ProductPatch struct {
	ExternalID  string
	Title       *string
	BodyHTML    *string
	Vendor      *string
	ProductType *string
	Handle      *string
	Status      *string
	Tags        *string
	PublishedAt *time.Time
	Variants    json.RawMessage
	Options     json.RawMessage
	Images      json.RawMessage
}
