package commerce

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/meridian-crm/meridian/internal/platform/database"
)

// Store handles commerce entity persistence.
// Methods accept database.Querier so they can run inside WithTransaction.
type Store struct{}

// NewStore creates a new commerce store.
func NewStore() *Store {
	return &Store{}
}

const orderColumns = `id, external_id, order_number, email, currency, total_price, subtotal_price, total_tax,
	financial_status, fulfillment_status, customer_external_id, note, tags, cancel_reason,
	processed_at, cancelled_at, fulfilled_at, paid_at,
	line_items, shipping_address, billing_address, discount_codes, last_synced_at, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.ExternalID, &o.OrderNumber, &o.Email, &o.Currency, &o.TotalPrice, &o.SubtotalPrice, &o.TotalTax,
		&o.FinancialStatus, &o.FulfillmentStatus, &o.CustomerExternalID, &o.Note, &o.Tags, &o.CancelReason,
		&o.ProcessedAt, &o.CancelledAt, &o.FulfilledAt, &o.PaidAt,
		&o.LineItems, &o.ShippingAddress, &o.BillingAddress, &o.DiscountCodes, &o.LastSyncedAt, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrderByExternalID returns the order for the storefront's order ID.
func (s *Store) GetOrderByExternalID(ctx context.Context, q database.Querier, externalID string) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM commerce_orders WHERE external_id = $1`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting order by external id: %w", err)
	}
	return o, nil
}

// GetOrderForUpdate locks the order row for the duration of the enclosing
// transaction, serializing concurrent reconciliations of the same order.
func (s *Store) GetOrderForUpdate(ctx context.Context, q database.Querier, externalID string) (*Order, error) {
	o, err := scanOrder(q.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM commerce_orders WHERE external_id = $1 FOR UPDATE`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("locking order by external id: %w", err)
	}
	return o, nil
}

// UpsertOrder writes the full merged order row. ON CONFLICT covers the
// create race two instances can hit when the row did not exist at lock time.
func (s *Store) UpsertOrder(ctx context.Context, q database.Querier, o *Order) (*Order, error) {
	if o.ExternalID == "" {
		return nil, ErrMissingExternalID
	}
	saved, err := scanOrder(q.QueryRow(ctx,
		`INSERT INTO commerce_orders (
			external_id, order_number, email, currency, total_price, subtotal_price, total_tax,
			financial_status, fulfillment_status, customer_external_id, note, tags, cancel_reason,
			processed_at, cancelled_at, fulfilled_at, paid_at,
			line_items, shipping_address, billing_address, discount_codes, last_synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (external_id) DO UPDATE SET
			order_number = EXCLUDED.order_number,
			email = EXCLUDED.email,
			currency = EXCLUDED.currency,
			total_price = EXCLUDED.total_price,
			subtotal_price = EXCLUDED.subtotal_price,
			total_tax = EXCLUDED.total_tax,
			financial_status = EXCLUDED.financial_status,
			fulfillment_status = EXCLUDED.fulfillment_status,
			customer_external_id = EXCLUDED.customer_external_id,
			note = EXCLUDED.note,
			tags = EXCLUDED.tags,
			cancel_reason = EXCLUDED.cancel_reason,
			processed_at = EXCLUDED.processed_at,
			cancelled_at = EXCLUDED.cancelled_at,
			fulfilled_at = EXCLUDED.fulfilled_at,
			paid_at = EXCLUDED.paid_at,
			line_items = EXCLUDED.line_items,
			shipping_address = EXCLUDED.shipping_address,
			billing_address = EXCLUDED.billing_address,
			discount_codes = EXCLUDED.discount_codes,
			last_synced_at = EXCLUDED.last_synced_at
		RETURNING `+orderColumns,
		o.ExternalID, o.OrderNumber, o.Email, o.Currency, o.TotalPrice, o.SubtotalPrice, o.TotalTax,
		o.FinancialStatus, o.FulfillmentStatus, o.CustomerExternalID, o.Note, o.Tags, o.CancelReason,
		o.ProcessedAt, o.CancelledAt, o.FulfilledAt, o.PaidAt,
		o.LineItems, o.ShippingAddress, o.BillingAddress, o.DiscountCodes, o.LastSyncedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting order: %w", err)
	}
	return saved, nil
}

const customerColumns = `id, external_id, email, first_name, last_name, phone, orders_count, total_spent, currency,
	verified_email, tax_exempt, accepts_marketing, tags, addresses, default_address,
	deleted_at, last_synced_at, created_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(
		&c.ID, &c.ExternalID, &c.Email, &c.FirstName, &c.LastName, &c.Phone, &c.OrdersCount, &c.TotalSpent, &c.Currency,
		&c.VerifiedEmail, &c.TaxExempt, &c.AcceptsMarketing, &c.Tags, &c.Addresses, &c.DefaultAddress,
		&c.DeletedAt, &c.LastSyncedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCustomerByExternalID returns the customer for the storefront's customer ID.
func (s *Store) GetCustomerByExternalID(ctx context.Context, q database.Querier, externalID string) (*Customer, error) {
	c, err := scanCustomer(q.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM commerce_customers WHERE external_id = $1`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting customer by external id: %w", err)
	}
	return c, nil
}

// GetCustomerForUpdate locks the customer row for the enclosing transaction.
func (s *Store) GetCustomerForUpdate(ctx context.Context, q database.Querier, externalID string) (*Customer, error) {
	c, err := scanCustomer(q.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM commerce_customers WHERE external_id = $1 FOR UPDATE`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("locking customer by external id: %w", err)
	}
	return c, nil
}

// UpsertCustomer writes the full merged customer row.
func (s *Store) UpsertCustomer(ctx context.Context, q database.Querier, c *Customer) (*Customer, error) {
	if c.ExternalID == "" {
		return nil, ErrMissingExternalID
	}
	saved, err := scanCustomer(q.QueryRow(ctx,
		`INSERT INTO commerce_customers (
			external_id, email, first_name, last_name, phone, orders_count, total_spent, currency,
			verified_email, tax_exempt, accepts_marketing, tags, addresses, default_address,
			deleted_at, last_synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (external_id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone,
			orders_count = EXCLUDED.orders_count,
			total_spent = EXCLUDED.total_spent,
			currency = EXCLUDED.currency,
			verified_email = EXCLUDED.verified_email,
			tax_exempt = EXCLUDED.tax_exempt,
			accepts_marketing = EXCLUDED.accepts_marketing,
			tags = EXCLUDED.tags,
			addresses = EXCLUDED.addresses,
			default_address = EXCLUDED.default_address,
			deleted_at = EXCLUDED.deleted_at,
			last_synced_at = EXCLUDED.last_synced_at
		RETURNING `+customerColumns,
		c.ExternalID, c.Email, c.FirstName, c.LastName, c.Phone, c.OrdersCount, c.TotalSpent, c.Currency,
		c.VerifiedEmail, c.TaxExempt, c.AcceptsMarketing, c.Tags, c.Addresses, c.DefaultAddress,
		c.DeletedAt, c.LastSyncedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting customer: %w", err)
	}
	return saved, nil
}

const productColumns = `id, external_id, title, body_html, vendor, product_type, handle, status, tags,
	published_at, variants, options, images, deleted_at, last_synced_at, created_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(
		&p.ID, &p.ExternalID, &p.Title, &p.BodyHTML, &p.Vendor, &p.ProductType, &p.Handle, &p.Status, &p.Tags,
		&p.PublishedAt, &p.Variants, &p.Options, &p.Images, &p.DeletedAt, &p.LastSyncedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProductByExternalID returns the product for the storefront's product ID.
func (s *Store) GetProductByExternalID(ctx context.Context, q database.Querier, externalID string) (*Product, error) {
	p, err := scanProduct(q.QueryRow(ctx,
		`SELECT `+productColumns+` FROM commerce_products WHERE external_id = $1`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting product by external id: %w", err)
	}
	return p, nil
}

// GetProductForUpdate locks the product row for the enclosing transaction.
func (s *Store) GetProductForUpdate(ctx context.Context, q database.Querier, externalID string) (*Product, error) {
	p, err := scanProduct(q.QueryRow(ctx,
		`SELECT `+productColumns+` FROM commerce_products WHERE external_id = $1 FOR UPDATE`,
		externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("locking product by external id: %w", err)
	}
	return p, nil
}

// UpsertProduct writes the full merged product row.
func (s *Store) UpsertProduct(ctx context.Context, q database.Querier, p *Product) (*Product, error) {
	if p.ExternalID == "" {
		return nil, ErrMissingExternalID
	}
	saved, err := scanProduct(q.QueryRow(ctx,
		`INSERT INTO commerce_products (
			external_id, title, body_html, vendor, product_type, handle, status, tags,
			published_at, variants, options, images, deleted_at, last_synced_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			body_html = EXCLUDED.body_html,
			vendor = EXCLUDED.vendor,
			product_type = EXCLUDED.product_type,
			handle = EXCLUDED.handle,
			status = EXCLUDED.status,
			tags = EXCLUDED.tags,
			published_at = EXCLUDED.published_at,
			variants = EXCLUDED.variants,
			options = EXCLUDED.options,
			images = EXCLUDED.images,
			deleted_at = EXCLUDED.deleted_at,
			last_synced_at = EXCLUDED.last_synced_at
		RETURNING `+productColumns,
		p.ExternalID, p.Title, p.BodyHTML, p.Vendor, p.ProductType, p.Handle, p.Status, p.Tags,
		p.PublishedAt, p.Variants, p.Options, p.Images, p.DeletedAt, p.LastSyncedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("upserting product: %w", err)
	}
	return saved, nil
}
