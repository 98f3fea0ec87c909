package commerce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/platform/keymutex"
)

type orderStore interface {
	GetOrderForUpdate(ctx context.Context, q database.Querier, externalID string) (*Order, error)
	UpsertOrder(ctx context.Context, q database.Querier, o *Order) (*Order, error)
}

type customerStore interface {
	GetCustomerForUpdate(ctx context.Context, q database.Querier, externalID string) (*Customer, error)
	UpsertCustomer(ctx context.Context, q database.Querier, c *Customer) (*Customer, error)
}

type productStore interface {
	GetProductForUpdate(ctx context.Context, q database.Querier, externalID string) (*Product, error)
	UpsertProduct(ctx context.Context, q database.Querier, p *Product) (*Product, error)
}

type txRunner func(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error

// Reconciler performs idempotent create-or-update of commerce entities
// from storefront webhook payloads, keyed by the storefront's entity ID.
// Reconciliation of the same external ID is mutually exclusive: a per-key
// lock serializes in-process callers and SELECT ... FOR UPDATE serializes
// across instances.
type Reconciler struct {
	runTx     txRunner
	orders    orderStore
	customers customerStore
	products  productStore
	locks     *keymutex.KeyMutex
	now       func() time.Time
}

// NewReconciler creates a commerce reconciler backed by the given pool and store.
func NewReconciler(pool *database.Pool, store *Store) *Reconciler {
	return &Reconciler{
		runTx: func(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
			return database.WithTransaction(ctx, pool, fn)
		},
		orders:    store,
		customers: store,
		products:  store,
		locks:     keymutex.New(),
		now:       time.Now,
	}
}

// ReconcileOrder creates the order if absent, otherwise merges the patch
// into the existing row. Fields the event did not carry are left untouched.
func (r *Reconciler) ReconcileOrder(ctx context.Context, patch OrderPatch) (*Order, error) {
	externalID := strings.TrimSpace(patch.ExternalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("order:" + externalID)
	defer unlock()

	var out *Order
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.orders.GetOrderForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &Order{ExternalID: externalID}
		}
		applyOrderPatch(existing, patch)
		existing.LastSyncedAt = r.now().UTC()
		out, err = r.orders.UpsertOrder(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling order %s: %w", externalID, err)
	}
	return out, nil
}

// ReconcileCustomer creates or merges a customer row.
func (r *Reconciler) ReconcileCustomer(ctx context.Context, patch CustomerPatch) (*Customer, error) {
	externalID := strings.TrimSpace(patch.ExternalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("customer:" + externalID)
	defer unlock()

	var out *Customer
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.customers.GetCustomerForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &Customer{ExternalID: externalID}
		}
		applyCustomerPatch(existing, patch)
		// A resurrection event for a soft-deleted customer reactivates it.
		existing.DeletedAt = nil
		existing.LastSyncedAt = r.now().UTC()
		out, err = r.customers.UpsertCustomer(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling customer %s: %w", externalID, err)
	}
	return out, nil
}

// SoftDeleteCustomer flags the customer inactive rather than removing the
// row, preserving the external ID mapping in case of resurrection events.
// An unseen external ID produces a tombstone row.
func (r *Reconciler) SoftDeleteCustomer(ctx context.Context, externalID string) (*Customer, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("customer:" + externalID)
	defer unlock()

	var out *Customer
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.customers.GetCustomerForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &Customer{ExternalID: externalID}
		}
		now := r.now().UTC()
		existing.DeletedAt = &now
		existing.LastSyncedAt = now
		out, err = r.customers.UpsertCustomer(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("soft-deleting customer %s: %w", externalID, err)
	}
	return out, nil
}

// ReconcileProduct creates or merges a product row.
func (r *Reconciler) ReconcileProduct(ctx context.Context, patch ProductPatch) (*Product, error) {
	externalID := strings.TrimSpace(patch.ExternalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("product:" + externalID)
	defer unlock()

	var out *Product
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.products.GetProductForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &Product{ExternalID: externalID}
		}
		applyProductPatch(existing, patch)
		existing.DeletedAt = nil
		existing.LastSyncedAt = r.now().UTC()
		out, err = r.products.UpsertProduct(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling product %s: %w", externalID, err)
	}
	return out, nil
}

// SoftDeleteProduct flags the product inactive, preserving the row.
func (r *Reconciler) SoftDeleteProduct(ctx context.Context, externalID string) (*Product, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrMissingExternalID
	}

	unlock := r.locks.Lock("product:" + externalID)
	defer unlock()

	var out *Product
	err := r.runTx(ctx, func(ctx context.Context, q database.Querier) error {
		existing, err := r.products.GetProductForUpdate(ctx, q, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing == nil {
			existing = &Product{ExternalID: externalID}
		}
		now := r.now().UTC()
		existing.DeletedAt = &now
		existing.LastSyncedAt = now
		out, err = r.products.UpsertProduct(ctx, q, existing)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("soft-deleting product %s: %w", externalID, err)
	}
	return out, nil
}
