package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/meridian-crm/meridian/internal/platform/database"
)

// Store handles payment entity persistence.
// Methods accept database.Querier so they can run inside WithTransaction.
type Store struct{}

// NewStore creates a new payments store.
func NewStore() *Store {
	return &Store{}
}

const paymentColumns = `id, external_id, payment_intent_id, customer_external_id, amount, amount_refunded, currency,
	status, description, invoice_id, payment_method_id, payment_method_type, receipt_url,
	failure_code, failure_message, billing_details, metadata, last_synced_at, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.ExternalID, &p.PaymentIntentID, &p.CustomerExternalID, &p.Amount, &p.AmountRefunded, &p.Currency,
		&p.Status, &p.Description, &p.InvoiceID, &p.PaymentMethodID, &p.PaymentMethodType, &p.ReceiptURL,
		&p.FailureCode, &p.FailureMessage, &p.BillingDetails, &p.Metadata, &p.LastSyncedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByExternalID returns the payment for the processor's charge ID.
func (s *Store) GetPaymentByExternalID(ctx context.Context, q database.Querier, externalID string) (*Payment, error) {
	p, err := scanPayment(q.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE external_id = $1`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting payment by external id: %w", err)
	}
	return p, nil
}

// GetPaymentForUpdate locks the payment row for the duration of the
// enclosing transaction.
func (s *Store) GetPaymentForUpdate(ctx context.Context, q database.Querier, externalID string) (*Payment, error) {
	p, err := scanPayment(q.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE external_id = $1 FOR UPDATE`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("locking payment by external id: %w", err)
	}
	return p, nil
}

// UpsertPayment writes the full merged payment row.
func (s *Store) UpsertPayment(ctx context.Context, q database.Querier, p *Payment) (*Payment, error) {
	if p.ExternalID == "" {
		return nil, ErrMissingExternalID
	}
	saved, err := scanPayment(q.QueryRow(ctx,
		`INSERT INTO payment_records (
			external_id, payment_intent_id, customer_external_id, amount, amount_refunded, currency,
			status, description, invoice_id, payment_method_id, payment_method_type, receipt_url,
			failure_code, failure_message, billing_details, metadata, last_synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (external_id) DO UPDATE SET
			payment_intent_id = EXCLUDED.payment_intent_id,
			customer_external_id = EXCLUDED.customer_external_id,
			amount = EXCLUDED.amount,
			amount_refunded = EXCLUDED.amount_refunded,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			invoice_id = EXCLUDED.invoice_id,
			payment_method_id = EXCLUDED.payment_method_id,
			payment_method_type = EXCLUDED.payment_method_type,
			receipt_url = EXCLUDED.receipt_url,
			failure_code = EXCLUDED.failure_code,
			failure_message = EXCLUDED.failure_message,
			billing_details = EXCLUDED.billing_details,
			metadata = EXCLUDED.metadata,
			last_synced_at = EXCLUDED.last_synced_at
		RETURNING `+paymentColumns,
		p.ExternalID, p.PaymentIntentID, p.CustomerExternalID, p.Amount, p.AmountRefunded, p.Currency,
		p.Status, p.Description, p.InvoiceID, p.PaymentMethodID, p.PaymentMethodType, p.ReceiptURL,
		p.FailureCode, p.FailureMessage, p.BillingDetails, p.Metadata, p.LastSyncedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting payment: %w", err)
	}
	return saved, nil
}

// GetPaymentByInvoiceID returns the payment tied to the processor invoice.
func (s *Store) GetPaymentByInvoiceID(ctx context.Context, q database.Querier, invoiceID string) (*Payment, error) {
	p, err := scanPayment(q.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE invoice_id = $1 ORDER BY created_at DESC LIMIT 1`,
		invoiceID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting payment by invoice id: %w", err)
	}
	return p, nil
}

const paymentCustomerColumns = `id, external_id, email, name, phone, description, currency, delinquent, balance,
	default_payment_method_id, default_payment_method_type, invoice_prefix,
	address, metadata, deleted_at, last_synced_at, created_at`

func scanPaymentCustomer(row pgx.Row) (*PaymentCustomer, error) {
	var c PaymentCustomer
	err := row.Scan(
		&c.ID, &c.ExternalID, &c.Email, &c.Name, &c.Phone, &c.Description, &c.Currency, &c.Delinquent, &c.Balance,
		&c.DefaultPaymentMethodID, &c.DefaultPaymentMethodType, &c.InvoicePrefix,
		&c.Address, &c.Metadata, &c.DeletedAt, &c.LastSyncedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCustomerByExternalID returns the customer for the processor's customer ID.
func (s *Store) GetCustomerByExternalID(ctx context.Context, q database.Querier, externalID string) (*PaymentCustomer, error) {
	c, err := scanPaymentCustomer(q.QueryRow(ctx,
		`SELECT `+paymentCustomerColumns+` FROM payment_customers WHERE external_id = $1`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting payment customer by external id: %w", err)
	}
	return c, nil
}

// GetCustomerForUpdate locks the customer row for the duration of the
// enclosing transaction.
func (s *Store) GetCustomerForUpdate(ctx context.Context, q database.Querier, externalID string) (*PaymentCustomer, error) {
	c, err := scanPaymentCustomer(q.QueryRow(ctx,
		`SELECT `+paymentCustomerColumns+` FROM payment_customers WHERE external_id = $1 FOR UPDATE`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("locking payment customer by external id: %w", err)
	}
	return c, nil
}

// UpsertCustomer writes the full merged customer row.
func (s *Store) UpsertCustomer(ctx context.Context, q database.Querier, c *PaymentCustomer) (*PaymentCustomer, error) {
	if c.ExternalID == "" {
		return nil, ErrMissingExternalID
	}
	saved, err := scanPaymentCustomer(q.QueryRow(ctx,
		`INSERT INTO payment_customers (
			external_id, email, name, phone, description, currency, delinquent, balance,
			default_payment_method_id, default_payment_method_type, invoice_prefix,
			address, metadata, deleted_at, last_synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (external_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			description = EXCLUDED.description,
			currency = EXCLUDED.currency,
			delinquent = EXCLUDED.delinquent,
			balance = EXCLUDED.balance,
			default_payment_method_id = EXCLUDED.default_payment_method_id,
			default_payment_method_type = EXCLUDED.default_payment_method_type,
			invoice_prefix = EXCLUDED.invoice_prefix,
			address = EXCLUDED.address,
			metadata = EXCLUDED.metadata,
			deleted_at = EXCLUDED.deleted_at,
			last_synced_at = EXCLUDED.last_synced_at
		RETURNING `+paymentCustomerColumns,
		c.ExternalID, c.Email, c.Name, c.Phone, c.Description, c.Currency, c.Delinquent, c.Balance,
		c.DefaultPaymentMethodID, c.DefaultPaymentMethodType, c.InvoicePrefix,
		c.Address, c.Metadata, c.DeletedAt, c.LastSyncedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting payment customer: %w", err)
	}
	return saved, nil
}

const subscriptionColumns = `id, external_id, customer_external_id, status, price_id, quantity, cancel_at_period_end,
	current_period_start, current_period_end, trial_start, trial_end, canceled_at,
	items, metadata, deleted_at, last_synced_at, created_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.ID, &sub.ExternalID, &sub.CustomerExternalID, &sub.Status, &sub.PriceID, &sub.Quantity, &sub.CancelAtPeriodEnd,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialStart, &sub.TrialEnd, &sub.CanceledAt,
		&sub.Items, &sub.Metadata, &sub.DeletedAt, &sub.LastSyncedAt, &sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionByExternalID returns the subscription for the processor's ID.
func (s *Store) GetSubscriptionByExternalID(ctx context.Context, q database.Querier, externalID string) (*Subscription, error) {
	sub, err := scanSubscription(q.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_id = $1`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting subscription by external id: %w", err)
	}
	return sub, nil
}

// GetSubscriptionForUpdate locks the subscription row for the duration of
// the enclosing transaction.
func (s *Store) GetSubscriptionForUpdate(ctx context.Context, q database.Querier, externalID string) (*Subscription, error) {
	sub, err := scanSubscription(q.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_id = $1 FOR UPDATE`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("locking subscription by external id: %w", err)
	}
	return sub, nil
}

// UpsertSubscription writes the full merged subscription row.
func (s *Store) UpsertSubscription(ctx context.Context, q database.Querier, sub *Subscription) (*Subscription, error) {
	if sub.ExternalID == "" {
		return nil, ErrMissingExternalID
	}
	saved, err := scanSubscription(q.QueryRow(ctx,
		`INSERT INTO subscriptions (
			external_id, customer_external_id, status, price_id, quantity, cancel_at_period_end,
			current_period_start, current_period_end, trial_start, trial_end, canceled_at,
			items, metadata, deleted_at, last_synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (external_id) DO UPDATE SET
			customer_external_id = EXCLUDED.customer_external_id,
			status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			quantity = EXCLUDED.quantity,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			trial_start = EXCLUDED.trial_start,
			trial_end = EXCLUDED.trial_end,
			canceled_at = EXCLUDED.canceled_at,
			items = EXCLUDED.items,
			metadata = EXCLUDED.metadata,
			deleted_at = EXCLUDED.deleted_at,
			last_synced_at = EXCLUDED.last_synced_at
		RETURNING `+subscriptionColumns,
		sub.ExternalID, sub.CustomerExternalID, sub.Status, sub.PriceID, sub.Quantity, sub.CancelAtPeriodEnd,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialStart, sub.TrialEnd, sub.CanceledAt,
		sub.Items, sub.Metadata, sub.DeletedAt, sub.LastSyncedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting subscription: %w", err)
	}
	return saved, nil
}
