package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/platform/keymutex"
)

type paymentStore interface {
	GetPaymentForUpdate(ctx context.Context, q database.Querier, externalID string) (*Payment, error)
	GetPaymentByInvoiceID(ctx context.Context, q database.Querier, invoiceID string) (*Payment, error)
	UpsertPayment(ctx context.Context, q database.Querier, p *Payment) (*Payment, error)
}

type paymentCustomerStore interface {
	GetCustomerForUpdate(ctx context.Context, q database.Querier, externalID string) (*PaymentCustomer, error)
	UpsertCustomer(ctx context.Context, q database.Querier, c *PaymentCustomer) (*PaymentCustomer, error)
}

type subscriptionStore interface {
	GetSubscriptionForUpdate(ctx context.Context, q database.Querier, externalID string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, q database.Querier, sub *Subscription) (*Subscription, error)
}

type txRunner func(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error

// Reconciler performs idempotent create-or-update of payment entities from
// processor webhook payloads, keyed by the processor's entity ID.
// Reconciliation of the same external ID is mutually exclusive: a per-key
// lock serializes in-process callers and SELECT ... FOR UPDATE serializes
// across instances.
type Reconciler struct {
	runTx         txRunner
	payments      paymentStore
	customers     paymentCustomerStore
	subscriptions subscriptionStore
	locks         *keymutex.KeyMutex
	now           func() time.Time
}

// NewReconciler creates a payments reconciler backed by the given pool and store.
func NewReconciler(pool *database.Pool, store *Store) *Reconciler {
	return &Reconciler{
		runTx: func(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
			return database.WithTransaction(ctx, pool, fn)
		},
		payments:      store,
		customers:     store,
		subscriptions: store,
		locks:         keymutex.New(),
		now:           time.Now,
	}
}

// ReconcilePayment creates the payment if absent, otherwise merges the
// patch into the existing row. Fields the event did not carry are left
// untouched.
func (r *Reconciler) ReconcilePayment(ctx context.Context, patch PaymentPatch) (*Payment, error) {
	externalID := strings.TrimSpace(patch.ExternalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("payment:" + externalID)
	defer unlock()

	var out *Payment
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.payments.GetPaymentForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &Payment{ExternalID: externalID}
		}
		applyPaymentPatch(existing, patch)
		existing.LastSyncedAt = r.now().UTC()
		out, err = r.payments.UpsertPayment(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling payment %s: %w", externalID, err)
	}
	return out, nil
}

// UpdatePaymentByInvoice applies the patch to the payment tied to the given
// processor invoice. Invoice events carry the invoice ID, not the charge ID,
// so the charge is resolved first and then reconciled under its own key.
func (r *Reconciler) UpdatePaymentByInvoice(ctx context.Context, invoiceID string, patch PaymentPatch) (*Payment, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return nil, ErrMissingExternalID
	}

	var externalID string
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		p, err := r.payments.GetPaymentByInvoiceID(ctx, q, invoiceID)
		if err != nil {
			return err
		}
		externalID = p.ExternalID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolving payment for invoice %s: %w", invoiceID, err)
	}

	patch.ExternalID = externalID
	return r.ReconcilePayment(ctx, patch)
}

// ReconcileCustomer creates or merges a payment customer row.
func (r *Reconciler) ReconcileCustomer(ctx context.Context, patch PaymentCustomerPatch) (*PaymentCustomer, error) {
	externalID := strings.TrimSpace(patch.ExternalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("customer:" + externalID)
	defer unlock()

	var out *PaymentCustomer
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.customers.GetCustomerForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &PaymentCustomer{ExternalID: externalID}
		}
		applyPaymentCustomerPatch(existing, patch)
		// A resurrection event for a soft-deleted customer reactivates it.
		existing.DeletedAt = nil
		existing.LastSyncedAt = r.now().UTC()
		out, err = r.customers.UpsertCustomer(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling payment customer %s: %w", externalID, err)
	}
	return out, nil
}

// SoftDeleteCustomer flags the customer inactive rather than removing the
// row. An unseen external ID produces a tombstone row.
func (r *Reconciler) SoftDeleteCustomer(ctx context.Context, externalID string) (*PaymentCustomer, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("customer:" + externalID)
	defer unlock()

	var out *PaymentCustomer
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.customers.GetCustomerForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &PaymentCustomer{ExternalID: externalID}
		}
		now := r.now().UTC()
		existing.DeletedAt = &now
		existing.LastSyncedAt = now
		out, err = r.customers.UpsertCustomer(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("soft-deleting payment customer %s: %w", externalID, err)
	}
	return out, nil
}

// AttachPaymentMethod records the method as the customer's default.
func (r *Reconciler) AttachPaymentMethod(ctx context.Context, customerExternalID, methodID, methodType string) (*PaymentCustomer, error) {
	return r.ReconcileCustomer(ctx, PaymentCustomerPatch{
		ExternalID:               customerExternalID,
		DefaultPaymentMethodID:   &methodID,
		DefaultPaymentMethodType: &methodType,
	})
}

// DetachPaymentMethod clears the customer's default method if it is the one
// being detached. Detaching a method that is not the default is a no-op.
func (r *Reconciler) DetachPaymentMethod(ctx context.Context, customerExternalID, methodID string) (*PaymentCustomer, error) {
	externalID := strings.TrimSpace(customerExternalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("customer:" + externalID)
	defer unlock()

	var out *PaymentCustomer
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.customers.GetCustomerForUpdate(ctx, q, externalID)
		if err != nil {
			return err
		}
		if existing.DefaultPaymentMethodID == methodID {
			existing.DefaultPaymentMethodID = ""
			existing.DefaultPaymentMethodType = ""
		}
		existing.LastSyncedAt = r.now().UTC()
		out, err = r.customers.UpsertCustomer(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("detaching payment method from customer %s: %w", externalID, err)
	}
	return out, nil
}

// ReconcileSubscription creates or merges a subscription row.
func (r *Reconciler) ReconcileSubscription(ctx context.Context, patch SubscriptionPatch) (*Subscription, error) {
	externalID := strings.TrimSpace(patch.ExternalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("subscription:" + externalID)
	defer unlock()

	var out *Subscription
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.subscriptions.GetSubscriptionForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &Subscription{ExternalID: externalID}
		}
		applySubscriptionPatch(existing, patch)
		existing.DeletedAt = nil
		existing.LastSyncedAt = r.now().UTC()
		out, err = r.subscriptions.UpsertSubscription(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling subscription %s: %w", externalID, err)
	}
	return out, nil
}

// SoftDeleteSubscription flags the subscription canceled and inactive,
// preserving the row for billing history.
func (r *Reconciler) SoftDeleteSubscription(ctx context.Context, externalID string) (*Subscription, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("subscription:" + externalID)
	defer unlock()

	var out *Subscription
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.subscriptions.GetSubscriptionForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &Subscription{ExternalID: externalID}
		}
		now := r.now().UTC()
		existing.Status = "canceled"
		if existing.CanceledAt == nil {
			existing.CanceledAt = &now
		}
		existing.DeletedAt = &now
		existing.LastSyncedAt = now
		out, err = r.subscriptions.UpsertSubscription(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("soft-deleting subscription %s: %w", externalID, err)
	}
	return out, nil
}
