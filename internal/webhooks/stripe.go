package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/meridian-crm/meridian/internal/commerce"
	"github.com/meridian-crm/meridian/internal/payments"
)

type paymentsReconciler interface {
	ReconcilePayment(ctx context.Context, patch payments.PaymentPatch) (*payments.Payment, error)
	UpdatePaymentByInvoice(ctx context.Context, invoiceID string, patch payments.PaymentPatch) (*payments.Payment, error)
	ReconcileCustomer(ctx context.Context, patch payments.PaymentCustomerPatch) (*payments.PaymentCustomer, error)
	SoftDeleteCustomer(ctx context.Context, externalID string) (*payments.PaymentCustomer, error)
	ReconcileSubscription(ctx context.Context, patch payments.SubscriptionPatch) (*payments.Subscription, error)
	SoftDeleteSubscription(ctx context.Context, externalID string) (*payments.Subscription, error)
	AttachPaymentMethod(ctx context.Context, customerExternalID, methodID, methodType string) (*payments.PaymentCustomer, error)
	DetachPaymentMethod(ctx context.Context, customerExternalID, methodID string) (*payments.PaymentCustomer, error)
}

type orderReconciler interface {
	ReconcileOrder(ctx context.Context, patch commerce.OrderPatch) (*commerce.Order, error)
}

// StripeProcessor turns processor webhook payloads into payment
// reconciliations. Charge events carrying an order reference also mark the
// matching commerce order paid; that sequencing lives here, not in the
// reconcilers, which never call each other.
type StripeProcessor struct {
	payments paymentsReconciler
	orders   orderReconciler
	now      func() time.Time
}

// NewStripeProcessor creates a payment event processor.
func NewStripeProcessor(paymentsRec paymentsReconciler, ordersRec orderReconciler) *StripeProcessor {
	return &StripeProcessor{payments: paymentsRec, orders: ordersRec, now: time.Now}
}

// Register wires the processor's topics into the router.
func (p *StripeProcessor) Register(r *Router) {
	r.Handle(SourceStripe, "payment_intent.succeeded", p.handlePaymentIntent)
	r.Handle(SourceStripe, "payment_intent.payment_failed", p.handlePaymentIntentFailed)
	r.Handle(SourceStripe, "charge.succeeded", p.handleCharge)
	r.Handle(SourceStripe, "charge.failed", p.handleCharge)
	r.Handle(SourceStripe, "charge.refunded", p.handleCharge)
	r.Handle(SourceStripe, "customer.created", p.handleCustomerChange)
	r.Handle(SourceStripe, "customer.updated", p.handleCustomerChange)
	r.Handle(SourceStripe, "customer.deleted", p.handleCustomerDeleted)
	r.Handle(SourceStripe, "customer.subscription.created", p.handleSubscriptionChange)
	r.Handle(SourceStripe, "customer.subscription.updated", p.handleSubscriptionChange)
	r.Handle(SourceStripe, "customer.subscription.deleted", p.handleSubscriptionDeleted)
	r.Handle(SourceStripe, "customer.subscription.trial_will_end", p.handleTrialWillEnd)
	r.Handle(SourceStripe, "invoice.created", p.handleInvoiceCreated)
	r.Handle(SourceStripe, "invoice.payment_succeeded", p.handleInvoicePaymentSucceeded)
	r.Handle(SourceStripe, "invoice.payment_failed", p.handleInvoicePaymentFailed)
	r.Handle(SourceStripe, "payment_method.attached", p.handlePaymentMethodAttached)
	r.Handle(SourceStripe, "payment_method.detached", p.handlePaymentMethodDetached)
}

// stripeEvent is the envelope every processor delivery arrives in. The
// entity payload sits in data.object; detach events carry the previous
// owner in data.previous_attributes.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object             json.RawMessage `json:"object"`
		PreviousAttributes json.RawMessage `json:"previous_attributes"`
	} `json:"data"`
}

// ExtractStripeTopic pulls the event type out of the envelope without
// decoding the inner object.
func ExtractStripeTopic(payload []byte) (string, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", &MalformedEventError{Source: SourceStripe, Reason: err.Error()}
	}
	if event.Type == "" {
		return "", &MalformedEventError{Source: SourceStripe, Reason: "event type is missing"}
	}
	return event.Type, nil
}

func unmarshalObject(topic string, payload json.RawMessage, v any) (*stripeEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, &MalformedEventError{Source: SourceStripe, Topic: topic, Reason: err.Error()}
	}
	if len(event.Data.Object) == 0 {
		return nil, &MalformedEventError{Source: SourceStripe, Topic: topic, Reason: "data.object is missing"}
	}
	if err := json.Unmarshal(event.Data.Object, v); err != nil {
		return nil, &MalformedEventError{Source: SourceStripe, Topic: topic, Reason: err.Error()}
	}
	return &event, nil
}

type stripePaymentIntent struct {
	ID               string          `json:"id"`
	Amount           *int64          `json:"amount"`
	Currency         *string         `json:"currency"`
	Status           *string         `json:"status"`
	Customer         string          `json:"customer"`
	Description      *string         `json:"description"`
	PaymentMethod    *string         `json:"payment_method"`
	Metadata         json.RawMessage `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (pi *stripePaymentIntent) toPatch() payments.PaymentPatch {
	patch := payments.PaymentPatch{
		ExternalID:      pi.ID,
		PaymentIntentID: &pi.ID,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
		Status:          pi.Status,
		Description:     pi.Description,
		PaymentMethodID: pi.PaymentMethod,
		Metadata:        pi.Metadata,
	}
	if pi.Customer != "" {
		patch.CustomerExternalID = &pi.Customer
	}
	return patch
}

func (p *StripeProcessor) handlePaymentIntent(ctx context.Context, payload json.RawMessage) error {
	var pi stripePaymentIntent
	if _, err := unmarshalObject("payment_intent.succeeded", payload, &pi); err != nil {
		return err
	}
	if pi.ID == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: "payment_intent.succeeded", Reason: "payment intent id is missing"}
	}
	_, err := p.payments.ReconcilePayment(ctx, pi.toPatch())
	return err
}

func (p *StripeProcessor) handlePaymentIntentFailed(ctx context.Context, payload json.RawMessage) error {
	var pi stripePaymentIntent
	if _, err := unmarshalObject("payment_intent.payment_failed", payload, &pi); err != nil {
		return err
	}
	if pi.ID == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: "payment_intent.payment_failed", Reason: "payment intent id is missing"}
	}
	patch := pi.toPatch()
	if pi.LastPaymentError != nil {
		patch.FailureCode = &pi.LastPaymentError.Code
		patch.FailureMessage = &pi.LastPaymentError.Message
	}
	_, err := p.payments.ReconcilePayment(ctx, patch)
	return err
}

type stripeCharge struct {
	ID                   string  `json:"id"`
	PaymentIntent        string  `json:"payment_intent"`
	Customer             string  `json:"customer"`
	Amount               *int64  `json:"amount"`
	AmountRefunded       *int64  `json:"amount_refunded"`
	Currency             *string `json:"currency"`
	Status               *string `json:"status"`
	Refunded             bool    `json:"refunded"`
	Description          *string `json:"description"`
	Invoice              string  `json:"invoice"`
	PaymentMethod        *string `json:"payment_method"`
	PaymentMethodDetails *struct {
		Type string `json:"type"`
	} `json:"payment_method_details"`
	ReceiptURL     *string         `json:"receipt_url"`
	FailureCode    *string         `json:"failure_code"`
	FailureMessage *string         `json:"failure_message"`
	BillingDetails json.RawMessage `json:"billing_details"`
	Metadata       json.RawMessage `json:"metadata"`
}

func (p *StripeProcessor) handleCharge(ctx context.Context, payload json.RawMessage) error {
	var charge stripeCharge
	env, err := unmarshalObject("charge", payload, &charge)
	if err != nil {
		return err
	}
	if charge.ID == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: env.Type, Reason: "charge id is missing"}
	}

	patch := payments.PaymentPatch{
		ExternalID:      charge.ID,
		Amount:          charge.Amount,
		AmountRefunded:  charge.AmountRefunded,
		Currency:        charge.Currency,
		Status:          charge.Status,
		Description:     charge.Description,
		PaymentMethodID: charge.PaymentMethod,
		ReceiptURL:      charge.ReceiptURL,
		FailureCode:     charge.FailureCode,
		FailureMessage:  charge.FailureMessage,
		BillingDetails:  charge.BillingDetails,
		Metadata:        charge.Metadata,
	}
	if charge.PaymentIntent != "" {
		patch.PaymentIntentID = &charge.PaymentIntent
	}
	if charge.Customer != "" {
		patch.CustomerExternalID = &charge.Customer
	}
	if charge.Invoice != "" {
		patch.InvoiceID = &charge.Invoice
	}
	if charge.PaymentMethodDetails != nil {
		patch.PaymentMethodType = &charge.PaymentMethodDetails.Type
	}
	if env.Type == "charge.refunded" {
		status := "partially_refunded"
		if charge.Refunded {
			status = "refunded"
		}
		patch.Status = &status
	}
	if _, err := p.payments.ReconcilePayment(ctx, patch); err != nil {
		return err
	}

	// A successful charge that references a storefront order marks that
	// order paid. Only the succeeded topic carries the effect, so refund
	// deliveries never re-mark an order. The chain stops there: order
	// reconciliation triggers no further effects.
	if env.Type == "charge.succeeded" && charge.Status != nil && *charge.Status == "succeeded" {
		return p.markOrderPaid(ctx, charge.Metadata)
	}
	return nil
}

func (p *StripeProcessor) markOrderPaid(ctx context.Context, metadata json.RawMessage) error {
	if len(metadata) == 0 {
		return nil
	}
	var meta struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(metadata, &meta); err != nil || meta.OrderID == "" {
		return nil
	}
	status := "paid"
	now := p.now().UTC()
	_, err := p.orders.ReconcileOrder(ctx, commerce.OrderPatch{
		ExternalID:      meta.OrderID,
		FinancialStatus: &status,
		PaidAt:          &now,
	})
	return err
}

type stripeCustomer struct {
	ID              string          `json:"id"`
	Email           *string         `json:"email"`
	Name            *string         `json:"name"`
	Phone           *string         `json:"phone"`
	Description     *string         `json:"description"`
	Currency        *string         `json:"currency"`
	Delinquent      *bool           `json:"delinquent"`
	Balance         *int64          `json:"balance"`
	InvoicePrefix   *string         `json:"invoice_prefix"`
	Address         json.RawMessage `json:"address"`
	Metadata        json.RawMessage `json:"metadata"`
	InvoiceSettings *struct {
		DefaultPaymentMethod string `json:"default_payment_method"`
	} `json:"invoice_settings"`
}

func (p *StripeProcessor) handleCustomerChange(ctx context.Context, payload json.RawMessage) error {
	var customer stripeCustomer
	if _, err := unmarshalObject("customer", payload, &customer); err != nil {
		return err
	}
	if customer.ID == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: "customer", Reason: "customer id is missing"}
	}
	patch := payments.PaymentCustomerPatch{
		ExternalID:    customer.ID,
		Email:         customer.Email,
		Name:          customer.Name,
		Phone:         customer.Phone,
		Description:   customer.Description,
		Currency:      customer.Currency,
		Delinquent:    customer.Delinquent,
		Balance:       customer.Balance,
		InvoicePrefix: customer.InvoicePrefix,
		Address:       customer.Address,
		Metadata:      customer.Metadata,
	}
	if customer.InvoiceSettings != nil && customer.InvoiceSettings.DefaultPaymentMethod != "" {
		patch.DefaultPaymentMethodID = &customer.InvoiceSettings.DefaultPaymentMethod
	}
	_, err := p.payments.ReconcileCustomer(ctx, patch)
	return err
}

func (p *StripeProcessor) handleCustomerDeleted(ctx context.Context, payload json.RawMessage) error {
	var customer struct {
		ID string `json:"id"`
	}
	if _, err := unmarshalObject("customer.deleted", payload, &customer); err != nil {
		return err
	}
	if customer.ID == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: "customer.deleted", Reason: "customer id is missing"}
	}
	_, err := p.payments.SoftDeleteCustomer(ctx, customer.ID)
	return err
}

type stripeSubscription struct {
	ID                 string  `json:"id"`
	Customer           string  `json:"customer"`
	Status             *string `json:"status"`
	Quantity           *int64  `json:"quantity"`
	CancelAtPeriodEnd  *bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart *int64  `json:"current_period_start"`
	CurrentPeriodEnd   *int64  `json:"current_period_end"`
	TrialStart         *int64  `json:"trial_start"`
	TrialEnd           *int64  `json:"trial_end"`
	CanceledAt         *int64  `json:"canceled_at"`
	Plan               *struct {
		ID string `json:"id"`
	} `json:"plan"`
	Items    json.RawMessage `json:"items"`
	Metadata json.RawMessage `json:"metadata"`
}

func unixPtr(ts *int64) *time.Time {
	if ts == nil {
		return nil
	}
	t := time.Unix(*ts, 0).UTC()
	return &t
}

func (p *StripeProcessor) handleSubscriptionChange(ctx context.Context, payload json.RawMessage) error {
	var sub stripeSubscription
	if _, err := unmarshalObject("customer.subscription", payload, &sub); err != nil {
		return err
	}
	if sub.ID == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: "customer.subscription", Reason: "subscription id is missing"}
	}
	patch := payments.SubscriptionPatch{
		ExternalID:         sub.ID,
		Status:             sub.Status,
		Quantity:           sub.Quantity,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: unixPtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(sub.CurrentPeriodEnd),
		TrialStart:         unixPtr(sub.TrialStart),
		TrialEnd:           unixPtr(sub.TrialEnd),
		CanceledAt:         unixPtr(sub.CanceledAt),
		Items:              sub.Items,
		Metadata:           sub.Metadata,
	}
	if sub.Customer != "" {
		patch.CustomerExternalID = &sub.Customer
	}
	if sub.Plan != nil && sub.Plan.ID != "" {
		patch.PriceID = &sub.Plan.ID
	}
	_, err := p.payments.ReconcileSubscription(ctx, patch)
	return err
}

func (p *StripeProcessor) handleSubscriptionDeleted(ctx context.Context, payload json.RawMessage) error {
	var sub struct {
		ID string `json:"id"`
	}
	if _, err := unmarshalObject("customer.subscription.deleted", payload, &sub); err != nil {
		return err
	}
	if sub.ID == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: "customer.subscription.deleted", Reason: "subscription id is missing"}
	}
	_, err := p.payments.SoftDeleteSubscription(ctx, sub.ID)
	return err
}

func (p *StripeProcessor) handleTrialWillEnd(ctx context.Context, payload json.RawMessage) error {
	var sub stripeSubscription
	if _, err := unmarshalObject("customer.subscription.trial_will_end", payload, &sub); err != nil {
		return err
	}
	slog.Info("subscription trial ending soon",
		"subscription_id", sub.ID,
		"customer_id", sub.Customer,
		"trial_end", unixPtr(sub.TrialEnd),
	)
	return nil
}

type stripeInvoice struct {
	ID         string  `json:"id"`
	Charge     string  `json:"charge"`
	Customer   string  `json:"customer"`
	AmountPaid *int64  `json:"amount_paid"`
	AmountDue  *int64  `json:"amount_due"`
	Currency   *string `json:"currency"`
	Status     *string `json:"status"`
}

func (p *StripeProcessor) handleInvoiceCreated(ctx context.Context, payload json.RawMessage) error {
	var inv stripeInvoice
	if _, err := unmarshalObject("invoice.created", payload, &inv); err != nil {
		return err
	}
	slog.Info("invoice created", "invoice_id", inv.ID, "customer_id", inv.Customer)
	return nil
}

func (p *StripeProcessor) handleInvoicePaymentSucceeded(ctx context.Context, payload json.RawMessage) error {
	var inv stripeInvoice
	if _, err := unmarshalObject("invoice.payment_succeeded", payload, &inv); err != nil {
		return err
	}
	status := "succeeded"
	return p.applyInvoicePatch(ctx, inv, payments.PaymentPatch{
		Status:   &status,
		Amount:   inv.AmountPaid,
		Currency: inv.Currency,
	})
}

func (p *StripeProcessor) handleInvoicePaymentFailed(ctx context.Context, payload json.RawMessage) error {
	var inv stripeInvoice
	if _, err := unmarshalObject("invoice.payment_failed", payload, &inv); err != nil {
		return err
	}
	status := "failed"
	return p.applyInvoicePatch(ctx, inv, payments.PaymentPatch{
		Status:   &status,
		Amount:   inv.AmountDue,
		Currency: inv.Currency,
	})
}

// applyInvoicePatch lands an invoice event on the charge's payment row. The
// charge ID keys the row directly when present; otherwise the row is found
// through a previously recorded invoice reference. An invoice no payment row
// knows yet is an ordering gap, not a failure.
func (p *StripeProcessor) applyInvoicePatch(ctx context.Context, inv stripeInvoice, patch payments.PaymentPatch) error {
	if inv.ID != "" {
		patch.InvoiceID = &inv.ID
	}
	if inv.Customer != "" {
		patch.CustomerExternalID = &inv.Customer
	}

	if inv.Charge != "" {
		patch.ExternalID = inv.Charge
		_, err := p.payments.ReconcilePayment(ctx, patch)
		return err
	}

	if inv.ID == "" {
		slog.Warn("invoice event without charge or invoice id, nothing to reconcile")
		return nil
	}
	_, err := p.payments.UpdatePaymentByInvoice(ctx, inv.ID, patch)
	if errors.Is(err, payments.ErrNotFound) {
		slog.Warn("invoice references no known payment yet, nothing to reconcile", "invoice_id", inv.ID)
		return nil
	}
	return err
}

type stripePaymentMethod struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Customer string `json:"customer"`
}

func (p *StripeProcessor) handlePaymentMethodAttached(ctx context.Context, payload json.RawMessage) error {
	var pm stripePaymentMethod
	if _, err := unmarshalObject("payment_method.attached", payload, &pm); err != nil {
		return err
	}
	if pm.ID == "" || pm.Customer == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: "payment_method.attached", Reason: "payment method id or customer is missing"}
	}
	_, err := p.payments.AttachPaymentMethod(ctx, pm.Customer, pm.ID, pm.Type)
	return err
}

func (p *StripeProcessor) handlePaymentMethodDetached(ctx context.Context, payload json.RawMessage) error {
	var pm stripePaymentMethod
	event, err := unmarshalObject("payment_method.detached", payload, &pm)
	if err != nil {
		return err
	}
	if pm.ID == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: "payment_method.detached", Reason: "payment method id is missing"}
	}

	// Detached events null out data.object.customer; the previous owner is
	// only present in data.previous_attributes.
	customer := pm.Customer
	if customer == "" && len(event.Data.PreviousAttributes) > 0 {
		var prev struct {
			Customer string `json:"customer"`
		}
		if err := json.Unmarshal(event.Data.PreviousAttributes, &prev); err == nil {
			customer = prev.Customer
		}
	}
	if customer == "" {
		return &MalformedEventError{Source: SourceStripe, Topic: "payment_method.detached", Reason: "detached payment method has no customer"}
	}
	_, err = p.payments.DetachPaymentMethod(ctx, customer, pm.ID)
	return err
}
