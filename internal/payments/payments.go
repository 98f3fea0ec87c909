package payments

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("payment entity not found")
	ErrMissingExternalID = errors.New("external id is required")
)

// Payment mirrors a processor charge. ExternalID is the processor's charge
// ID and the idempotency key for reconciliation.
type Payment struct {
	ID                 uuid.UUID       `json:"id"`
	ExternalID         string          `json:"external_id"`
	PaymentIntentID    string          `json:"payment_intent_id,omitempty"`
	CustomerExternalID string          `json:"customer_external_id,omitempty"`
	Amount             int64           `json:"amount"`
	AmountRefunded     int64           `json:"amount_refunded,omitempty"`
	Currency           string          `json:"currency,omitempty"`
	Status             string          `json:"status,omitempty"`
	Description        string          `json:"description,omitempty"`
	InvoiceID          string          `json:"invoice_id,omitempty"`
	PaymentMethodID    string          `json:"payment_method_id,omitempty"`
	PaymentMethodType  string          `json:"payment_method_type,omitempty"`
	ReceiptURL         string          `json:"receipt_url,omitempty"`
	FailureCode        string          `json:"failure_code,omitempty"`
	FailureMessage     string          `json:"failure_message,omitempty"`
	BillingDetails     json.RawMessage `json:"billing_details,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	LastSyncedAt       time.Time       `json:"last_synced_at"`
	CreatedAt          time.Time       `json:"created_at"`
}

// PaymentPatch carries the fields present in a single webhook delivery.
// Nil means "not present in this event" and never overwrites.
type PaymentPatch struct {
	ExternalID         string
	PaymentIntentID    *string
	CustomerExternalID *string
	Amount             *int64
	AmountRefunded     *int64
	Currency           *string
	Status             *string
	Description        *string
	InvoiceID          *string
	PaymentMethodID    *string
	PaymentMethodType  *string
	ReceiptURL         *string
	FailureCode        *string
	FailureMessage     *string
	BillingDetails     json.RawMessage
	Metadata           json.RawMessage
}

// PaymentCustomer mirrors a processor customer record.
type PaymentCustomer struct {
	ID                       uuid.UUID       `json:"id"`
	ExternalID               string          `json:"external_id"`
	Email                    string          `json:"email,omitempty"`
	Name                     string          `json:"name,omitempty"`
	Phone                    string          `json:"phone,omitempty"`
	Description              string          `json:"description,omitempty"`
	Currency                 string          `json:"currency,omitempty"`
	Delinquent               bool            `json:"delinquent,omitempty"`
	Balance                  int64           `json:"balance,omitempty"`
	DefaultPaymentMethodID   string          `json:"default_payment_method_id,omitempty"`
	DefaultPaymentMethodType string          `json:"default_payment_method_type,omitempty"`
	InvoicePrefix            string          `json:"invoice_prefix,omitempty"`
	Address                  json.RawMessage `json:"address,omitempty"`
	Metadata                 json.RawMessage `json:"metadata,omitempty"`
	DeletedAt                *time.Time      `json:"deleted_at,omitempty"`
	LastSyncedAt             time.Time       `json:"last_synced_at"`
	CreatedAt                time.Time       `json:"created_at"`
}

type PaymentCustomerPatch struct {
	ExternalID               string
	Email                    *string
	Name                     *string
	Phone                    *string
	Description              *string
	Currency                 *string
	Delinquent               *bool
	Balance                  *int64
	DefaultPaymentMethodID   *string
	DefaultPaymentMethodType *string
	InvoicePrefix            *string
	Address                  json.RawMessage
	Metadata                 json.RawMessage
}

// Subscription mirrors a processor subscription.
type Subscription struct {
	ID                 uuid.UUID       `json:"id"`
	ExternalID         string          `json:"external_id"`
	CustomerExternalID string          `json:"customer_external_id,omitempty"`
	Status             string          `json:"status,omitempty"`
	PriceID            string          `json:"price_id,omitempty"`
	Quantity           int64           `json:"quantity,omitempty"`
	CancelAtPeriodEnd  bool            `json:"cancel_at_period_end,omitempty"`
	CurrentPeriodStart *time.Time      `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time      `json:"current_period_end,omitempty"`
	TrialStart         *time.Time      `json:"trial_start,omitempty"`
	TrialEnd           *time.Time      `json:"trial_end,omitempty"`
	CanceledAt         *time.Time      `json:"canceled_at,omitempty"`
	Items              json.RawMessage `json:"items,omitempty"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	DeletedAt          *time.Time      `json:"deleted_at,omitempty"`
	LastSyncedAt       time.Time       `json:"last_synced_at"`
	CreatedAt          time.Time       `json:"created_at"`
}

type SubscriptionPatch struct {
	ExternalID         string
	CustomerExternalID *string
	Status             *string
	PriceID            *string
	Quantity           *int64
	CancelAtPeriodEnd  *bool
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CanceledAt         *time.Time
	Items              json.RawMessage
	Metadata           json.RawMessage
}
