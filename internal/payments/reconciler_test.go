package payments

import (
	"context"
	"testing"
	"time"

	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/platform/keymutex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaymentStore struct {
	payments      map[string]*Payment
	customers     map[string]*PaymentCustomer
	subscriptions map[string]*Subscription
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{
		payments:      map[string]*Payment{},
		customers:     map[string]*PaymentCustomer{},
		subscriptions: map[string]*Subscription{},
	}
}

func (f *fakePaymentStore) GetPaymentForUpdate(_ context.Context, _ database.Querier, externalID string) (*Payment, error) {
	p, ok := f.payments[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePaymentStore) GetPaymentByInvoiceID(_ context.Context, _ database.Querier, invoiceID string) (*Payment, error) {
	for _, p := range f.payments {
		if p.InvoiceID == invoiceID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakePaymentStore) UpsertPayment(_ context.Context, _ database.Querier, p *Payment) (*Payment, error) {
	cp := *p
	f.payments[p.ExternalID] = &cp
	return p, nil
}

func (f *fakePaymentStore) GetCustomerForUpdate(_ context.Context, _ database.Querier, externalID string) (*PaymentCustomer, error) {
	c, ok := f.customers[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakePaymentStore) UpsertCustomer(_ context.Context, _ database.Querier, c *PaymentCustomer) (*PaymentCustomer, error) {
	cp := *c
	f.customers[c.ExternalID] = &cp
	return c, nil
}

func (f *fakePaymentStore) GetSubscriptionForUpdate(_ context.Context, _ database.Querier, externalID string) (*Subscription, error) {
	s, ok := f.subscriptions[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakePaymentStore) UpsertSubscription(_ context.Context, _ database.Querier, s *Subscription) (*Subscription, error) {
	cp := *s
	f.subscriptions[s.ExternalID] = &cp
	return s, nil
}

func newTestReconciler(store *fakePaymentStore) *Reconciler {
	return &Reconciler{
		runTx: func(ctx context.Context, fn func(ctx context.Context, q database.Querier) error) error {
			return fn(ctx, nil)
		},
		payments:      store,
		customers:     store,
		subscriptions: store,
		locks:         keymutex.New(),
		now:           func() time.Time { return time.Unix(1730000000, 0) },
	}
}

func strPtr(s string) *string { return &s }
func intPtr(n int64) *int64   { return &n }

func TestReconcilePayment_CreateThenRefund(t *testing.T) {
	store := newFakePaymentStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	_, err := r.ReconcilePayment(ctx, PaymentPatch{
		ExternalID: "ch_123",
		Amount:     intPtr(5000),
		Currency:   strPtr("usd"),
		Status:     strPtr("succeeded"),
	})
	require.NoError(t, err)

	p, err := r.ReconcilePayment(ctx, PaymentPatch{
		ExternalID:     "ch_123",
		AmountRefunded: intPtr(5000),
		Status:         strPtr("refunded"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5000), p.Amount)
	assert.Equal(t, int64(5000), p.AmountRefunded)
	assert.Equal(t, "refunded", p.Status)
	assert.Equal(t, "usd", p.Currency)
	assert.Len(t, store.payments, 1)
}

func TestReconcilePayment_MissingExternalID(t *testing.T) {
	r := newTestReconciler(newFakePaymentStore())

	_, err := r.ReconcilePayment(context.Background(), PaymentPatch{Amount: intPtr(100)})
	require.ErrorIs(t, err, ErrMissingExternalID)
}

func TestUpdatePaymentByInvoice(t *testing.T) {
	store := newFakePaymentStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	_, err := r.ReconcilePayment(ctx, PaymentPatch{
		ExternalID: "ch_123",
		InvoiceID:  strPtr("in_9"),
		Status:     strPtr("pending"),
	})
	require.NoError(t, err)

	p, err := r.UpdatePaymentByInvoice(ctx, "in_9", PaymentPatch{Status: strPtr("succeeded")})
	require.NoError(t, err)
	assert.Equal(t, "ch_123", p.ExternalID)
	assert.Equal(t, "succeeded", p.Status)
}

func TestUpdatePaymentByInvoice_UnknownInvoice(t *testing.T) {
	r := newTestReconciler(newFakePaymentStore())

	_, err := r.UpdatePaymentByInvoice(context.Background(), "in_missing", PaymentPatch{Status: strPtr("succeeded")})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAttachAndDetachPaymentMethod(t *testing.T) {
	store := newFakePaymentStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	_, err := r.ReconcileCustomer(ctx, PaymentCustomerPatch{ExternalID: "cus_1", Email: strPtr("x@example.com")})
	require.NoError(t, err)

	c, err := r.AttachPaymentMethod(ctx, "cus_1", "pm_9", "card")
	require.NoError(t, err)
	assert.Equal(t, "pm_9", c.DefaultPaymentMethodID)
	assert.Equal(t, "card", c.DefaultPaymentMethodType)

	c, err = r.DetachPaymentMethod(ctx, "cus_1", "pm_other")
	require.NoError(t, err)
	assert.Equal(t, "pm_9", c.DefaultPaymentMethodID)

	c, err = r.DetachPaymentMethod(ctx, "cus_1", "pm_9")
	require.NoError(t, err)
	assert.Empty(t, c.DefaultPaymentMethodID)
	assert.Empty(t, c.DefaultPaymentMethodType)
	assert.Equal(t, "x@example.com", c.Email)
}

func TestSoftDeleteCustomer_TombstoneAndResurrection(t *testing.T) {
	store := newFakePaymentStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	c, err := r.SoftDeleteCustomer(ctx, "cus_gone")
	require.NoError(t, err)
	require.NotNil(t, c.DeletedAt)

	c, err = r.ReconcileCustomer(ctx, PaymentCustomerPatch{ExternalID: "cus_gone", Name: strPtr("Back")})
	require.NoError(t, err)
	assert.Nil(t, c.DeletedAt)
	assert.Equal(t, "Back", c.Name)
}

func TestReconcileSubscription_LifecycleMerge(t *testing.T) {
	store := newFakePaymentStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	_, err := r.ReconcileSubscription(ctx, SubscriptionPatch{
		ExternalID:         "sub_1",
		CustomerExternalID: strPtr("cus_1"),
		Status:             strPtr("trialing"),
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	})
	require.NoError(t, err)

	sub, err := r.ReconcileSubscription(ctx, SubscriptionPatch{
		ExternalID: "sub_1",
		Status:     strPtr("active"),
	})
	require.NoError(t, err)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, "cus_1", sub.CustomerExternalID)
	assert.Equal(t, &start, sub.CurrentPeriodStart)
	assert.Len(t, store.subscriptions, 1)
}

func TestSoftDeleteSubscription(t *testing.T) {
	store := newFakePaymentStore()
	r := newTestReconciler(store)
	ctx := context.Background()

	_, err := r.ReconcileSubscription(ctx, SubscriptionPatch{ExternalID: "sub_2", Status: strPtr("active")})
	require.NoError(t, err)

	sub, err := r.SoftDeleteSubscription(ctx, "sub_2")
	require.NoError(t, err)
	assert.Equal(t, "canceled", sub.Status)
	assert.NotNil(t, sub.CanceledAt)
	assert.NotNil(t, sub.DeletedAt)
}
