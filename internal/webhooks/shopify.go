package webhooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/meridian-crm/meridian/internal/commerce"
)

type commerceReconciler interface {
	ReconcileOrder(ctx context.Context, patch commerce.OrderPatch) (*commerce.Order, error)
	ReconcileCustomer(ctx context.Context, patch commerce.CustomerPatch) (*commerce.Customer, error)
	SoftDeleteCustomer(ctx context.Context, externalID string) (*commerce.Customer, error)
	ReconcileProduct(ctx context.Context, patch commerce.ProductPatch) (*commerce.Product, error)
	SoftDeleteProduct(ctx context.Context, externalID string) (*commerce.Product, error)
}

// ShopifyProcessor turns storefront webhook payloads into commerce
// reconciliations.
type ShopifyProcessor struct {
	commerce commerceReconciler
	now      func() time.Time
}

// NewShopifyProcessor creates a storefront event processor.
func NewShopifyProcessor(reconciler commerceReconciler) *ShopifyProcessor {
	return &ShopifyProcessor{commerce: reconciler, now: time.Now}
}

// Register wires the processor's topics into the router.
func (p *ShopifyProcessor) Register(r *Router) {
	r.Handle(SourceShopify, "orders/create", p.handleOrderChange("orders/create"))
	r.Handle(SourceShopify, "orders/updated", p.handleOrderChange("orders/updated"))
	r.Handle(SourceShopify, "orders/cancelled", p.handleOrderCancelled)
	r.Handle(SourceShopify, "orders/fulfilled", p.handleOrderFulfilled)
	r.Handle(SourceShopify, "orders/paid", p.handleOrderPaid)
	r.Handle(SourceShopify, "customers/create", p.handleCustomerChange("customers/create"))
	r.Handle(SourceShopify, "customers/update", p.handleCustomerChange("customers/update"))
	r.Handle(SourceShopify, "customers/delete", p.handleCustomerDelete)
	r.Handle(SourceShopify, "products/create", p.handleProductChange("products/create"))
	r.Handle(SourceShopify, "products/update", p.handleProductChange("products/update"))
	r.Handle(SourceShopify, "products/delete", p.handleProductDelete)
	r.Handle(SourceShopify, "carts/create", p.handleCartActivity("carts/create"))
	r.Handle(SourceShopify, "carts/update", p.handleCartActivity("carts/update"))
	r.Handle(SourceShopify, "checkouts/create", p.handleCheckoutActivity("checkouts/create"))
	r.Handle(SourceShopify, "checkouts/update", p.handleCheckoutActivity("checkouts/update"))
}

type shopifyOrderPayload struct {
	ID                json.Number `json:"id"`
	OrderNumber       *int64      `json:"order_number"`
	Email             *string     `json:"email"`
	Currency          *string     `json:"currency"`
	TotalPrice        *string     `json:"total_price"`
	SubtotalPrice     *string     `json:"subtotal_price"`
	TotalTax          *string     `json:"total_tax"`
	FinancialStatus   *string     `json:"financial_status"`
	FulfillmentStatus *string     `json:"fulfillment_status"`
	Note              *string     `json:"note"`
	Tags              *string     `json:"tags"`
	CancelReason      *string     `json:"cancel_reason"`
	ProcessedAt       *time.Time  `json:"processed_at"`
	CancelledAt       *time.Time  `json:"cancelled_at"`
	Customer          *struct {
		ID json.Number `json:"id"`
	} `json:"customer"`
	LineItems       json.RawMessage `json:"line_items"`
	ShippingAddress json.RawMessage `json:"shipping_address"`
	BillingAddress  json.RawMessage `json:"billing_address"`
	DiscountCodes   json.RawMessage `json:"discount_codes"`
}

func (p *ShopifyProcessor) parseOrder(topic string, payload json.RawMessage) (*shopifyOrderPayload, error) {
	var order shopifyOrderPayload
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, &MalformedEventError{Source: SourceShopify, Topic: topic, Reason: err.Error()}
	}
	if order.ID.String() == "" {
		return nil, &MalformedEventError{Source: SourceShopify, Topic: topic, Reason: "order id is missing"}
	}
	return &order, nil
}

func (o *shopifyOrderPayload) toPatch() commerce.OrderPatch {
	patch := commerce.OrderPatch{
		ExternalID:        o.ID.String(),
		OrderNumber:       o.OrderNumber,
		Email:             o.Email,
		Currency:          o.Currency,
		TotalPrice:        o.TotalPrice,
		SubtotalPrice:     o.SubtotalPrice,
		TotalTax:          o.TotalTax,
		FinancialStatus:   o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		Note:              o.Note,
		Tags:              o.Tags,
		CancelReason:      o.CancelReason,
		ProcessedAt:       o.ProcessedAt,
		CancelledAt:       o.CancelledAt,
		LineItems:         o.LineItems,
		ShippingAddress:   o.ShippingAddress,
		BillingAddress:    o.BillingAddress,
		DiscountCodes:     o.DiscountCodes,
	}
	if o.Customer != nil && o.Customer.ID.String() != "" {
		id := o.Customer.ID.String()
		patch.CustomerExternalID = &id
	}
	return patch
}

func (p *ShopifyProcessor) handleOrderChange(topic string) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		order, err := p.parseOrder(topic, payload)
		if err != nil {
			return err
		}
		_, err = p.commerce.ReconcileOrder(ctx, order.toPatch())
		return err
	}
}

func (p *ShopifyProcessor) handleOrderCancelled(ctx context.Context, payload json.RawMessage) error {
	order, err := p.parseOrder("orders/cancelled", payload)
	if err != nil {
		return err
	}
	patch := order.toPatch()
	if patch.CancelledAt == nil {
		now := p.now().UTC()
		patch.CancelledAt = &now
	}
	_, err = p.commerce.ReconcileOrder(ctx, patch)
	return err
}

func (p *ShopifyProcessor) handleOrderFulfilled(ctx context.Context, payload json.RawMessage) error {
	order, err := p.parseOrder("orders/fulfilled", payload)
	if err != nil {
		return err
	}
	patch := order.toPatch()
	if patch.FulfillmentStatus == nil {
		status := "fulfilled"
		patch.FulfillmentStatus = &status
	}
	now := p.now().UTC()
	patch.FulfilledAt = &now
	_, err = p.commerce.ReconcileOrder(ctx, patch)
	return err
}

func (p *ShopifyProcessor) handleOrderPaid(ctx context.Context, payload json.RawMessage) error {
	order, err := p.parseOrder("orders/paid", payload)
	if err != nil {
		return err
	}
	patch := order.toPatch()
	if patch.FinancialStatus == nil {
		status := "paid"
		patch.FinancialStatus = &status
	}
	now := p.now().UTC()
	patch.PaidAt = &now
	_, err = p.commerce.ReconcileOrder(ctx, patch)
	return err
}

type shopifyCustomerPayload struct {
	ID               json.Number     `json:"id"`
	Email            *string         `json:"email"`
	FirstName        *string         `json:"first_name"`
	LastName         *string         `json:"last_name"`
	Phone            *string         `json:"phone"`
	OrdersCount      *int64          `json:"orders_count"`
	TotalSpent       *string         `json:"total_spent"`
	Currency         *string         `json:"currency"`
	VerifiedEmail    *bool           `json:"verified_email"`
	TaxExempt        *bool           `json:"tax_exempt"`
	AcceptsMarketing *bool           `json:"accepts_marketing"`
	Tags             *string         `json:"tags"`
	Addresses        json.RawMessage `json:"addresses"`
	DefaultAddress   json.RawMessage `json:"default_address"`
}

func (p *ShopifyProcessor) handleCustomerChange(topic string) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		var customer shopifyCustomerPayload
		if err := json.Unmarshal(payload, &customer); err != nil {
			return &MalformedEventError{Source: SourceShopify, Topic: topic, Reason: err.Error()}
		}
		if customer.ID.String() == "" {
			return &MalformedEventError{Source: SourceShopify, Topic: topic, Reason: "customer id is missing"}
		}
		_, err := p.commerce.ReconcileCustomer(ctx, commerce.CustomerPatch{
			ExternalID:       customer.ID.String(),
			Email:            customer.Email,
			FirstName:        customer.FirstName,
			LastName:         customer.LastName,
			Phone:            customer.Phone,
			OrdersCount:      customer.OrdersCount,
			TotalSpent:       customer.TotalSpent,
			Currency:         customer.Currency,
			VerifiedEmail:    customer.VerifiedEmail,
			TaxExempt:        customer.TaxExempt,
			AcceptsMarketing: customer.AcceptsMarketing,
			Tags:             customer.Tags,
			Addresses:        customer.Addresses,
			DefaultAddress:   customer.DefaultAddress,
		})
		return err
	}
}

func (p *ShopifyProcessor) handleCustomerDelete(ctx context.Context, payload json.RawMessage) error {
	var ref struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(payload, &ref); err != nil {
		return &MalformedEventError{Source: SourceShopify, Topic: "customers/delete", Reason: err.Error()}
	}
	if ref.ID.String() == "" {
		return &MalformedEventError{Source: SourceShopify, Topic: "customers/delete", Reason: "customer id is missing"}
	}
	_, err := p.commerce.SoftDeleteCustomer(ctx, ref.ID.String())
	return err
}

type shopifyProductPayload struct {
	ID          json.Number     `json:"id"`
	Title       *string         `json:"title"`
	BodyHTML    *string         `json:"body_html"`
	Vendor      *string         `json:"vendor"`
	ProductType *string         `json:"product_type"`
	Handle      *string         `json:"handle"`
	Status      *string         `json:"status"`
	Tags        *string         `json:"tags"`
	PublishedAt *time.Time      `json:"published_at"`
	Variants    json.RawMessage `json:"variants"`
	Options     json.RawMessage `json:"options"`
	Images      json.RawMessage `json:"images"`
}

func (p *ShopifyProcessor) handleProductChange(topic string) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		var product shopifyProductPayload
		if err := json.Unmarshal(payload, &product); err != nil {
			return &MalformedEventError{Source: SourceShopify, Topic: topic, Reason: err.Error()}
		}
		if product.ID.String() == "" {
			return &MalformedEventError{Source: SourceShopify, Topic: topic, Reason: "product id is missing"}
		}
		_, err := p.commerce.ReconcileProduct(ctx, commerce.ProductPatch{
			ExternalID:  product.ID.String(),
			Title:       product.Title,
			BodyHTML:    product.BodyHTML,
			Vendor:      product.Vendor,
			ProductType: product.ProductType,
			Handle:      product.Handle,
			Status:      product.Status,
			Tags:        product.Tags,
			PublishedAt: product.PublishedAt,
			Variants:    product.Variants,
			Options:     product.Options,
			Images:      product.Images,
		})
		return err
	}
}

func (p *ShopifyProcessor) handleProductDelete(ctx context.Context, payload json.RawMessage) error {
	var ref struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(payload, &ref); err != nil {
		return &MalformedEventError{Source: SourceShopify, Topic: "products/delete", Reason: err.Error()}
	}
	if ref.ID.String() == "" {
		return &MalformedEventError{Source: SourceShopify, Topic: "products/delete", Reason: "product id is missing"}
	}
	_, err := p.commerce.SoftDeleteProduct(ctx, ref.ID.String())
	return err
}

// Cart and checkout deliveries are acknowledged and logged but keep no local
// mirror. Abandoned-cart followup would start here.

func (p *ShopifyProcessor) handleCartActivity(topic string) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		var ref struct {
			ID    json.Number `json:"id"`
			Token string      `json:"token"`
		}
		if err := json.Unmarshal(payload, &ref); err != nil {
			return &MalformedEventError{Source: SourceShopify, Topic: topic, Reason: err.Error()}
		}
		slog.Info("cart activity", "topic", topic, "cart_id", ref.ID.String(), "token", ref.Token)
		return nil
	}
}

func (p *ShopifyProcessor) handleCheckoutActivity(topic string) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		var ref struct {
			ID    json.Number `json:"id"`
			Token string      `json:"token"`
		}
		if err := json.Unmarshal(payload, &ref); err != nil {
			return &MalformedEventError{Source: SourceShopify, Topic: topic, Reason: err.Error()}
		}
		slog.Info("checkout activity", "topic", topic, "checkout_id", ref.ID.String(), "token", ref.Token)
		return nil
	}
}
