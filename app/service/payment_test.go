package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibast-solutions/ms-go-investment-payments/app/cache"
	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
	"github.com/vibast-solutions/ms-go-investment-payments/app/events"
	"github.com/vibast-solutions/ms-go-investment-payments/app/provider"
	"github.com/vibast-solutions/ms-go-investment-payments/app/testutil"
	"github.com/vibast-solutions/ms-go-investment-payments/app/types"
	"github.com/vibast-solutions/ms-go-investment-payments/config"
)

const (
	investorID   = uint64(42)
	investmentID = uint64(7)
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []events.PaymentStatusChanged
	ids     []string
}

func (p *recordingPublisher) PublishPaymentStatusChanged(_ context.Context, correlationID string, event events.PaymentStatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, event)
	p.ids = append(p.ids, correlationID)
	return nil
}

func (p *recordingPublisher) published() []events.PaymentStatusChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.PaymentStatusChanged(nil), p.changes...)
}

type recordingCache struct {
	mu          sync.Mutex
	items       map[uint64]*entity.Payment
	invalidated []uint64
	getErr      error
}

func newRecordingCache() *recordingCache {
	return &recordingCache{items: map[uint64]*entity.Payment{}}
}

func (c *recordingCache) Get(_ context.Context, id uint64) (*entity.Payment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	item, ok := c.items[id]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func (c *recordingCache) Set(_ context.Context, payment *entity.Payment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *payment
	c.items[payment.ID] = &copied
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, ids ...uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.items, id)
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

type fixture struct {
	store     *testutil.MemoryStore
	paybox    *testutil.FakeProvider
	stripe    *testutil.FakeProvider
	cache     *recordingCache
	publisher *recordingPublisher
	svc       *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     testutil.NewMemoryStore(),
		paybox:    testutil.NewFakeProvider(provider.CodePaybox),
		stripe:    testutil.NewFakeProvider(provider.CodeStripe),
		cache:     newRecordingCache(),
		publisher: &recordingPublisher{},
	}
	f.svc = NewPaymentService(
		f.store,
		provider.NewRegistry(f.paybox, f.stripe),
		nil,
		f.cache,
		f.publisher,
		config.PaymentsConfig{
			DefaultProvider:     provider.CodePaybox,
			ProviderTimeout:     time.Second,
			PendingTimeout:      time.Hour,
			ReconcileStaleAfter: 15 * time.Minute,
			JobBatchSize:        10,
		},
	)

	now := time.Now().UTC()
	f.store.SeedInvestment(&entity.Investment{
		ID:         investmentID,
		CampaignID: 3,
		InvestorID: investorID,
		Amount:     decimal.NewFromInt(100),
		Currency:   "KZT",
		Status:     entity.InvestmentStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return f
}

func (f *fixture) initiate(t *testing.T, key string) *entity.Payment {
	t.Helper()
	payment, err := f.svc.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{
		UserId:         investorID,
		InvestmentId:   investmentID,
		Provider:       provider.CodePaybox,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return payment
}

func (f *fixture) seedPayment(t *testing.T, status entity.PaymentStatus, providerPaymentID string) *entity.Payment {
	t.Helper()
	now := time.Now().UTC().Add(-2 * time.Hour)
	return f.store.SeedPayment(&entity.Payment{
		InvestmentID:      investmentID,
		Provider:          provider.CodePaybox,
		ProviderPaymentID: &providerPaymentID,
		Amount:            decimal.NewFromInt(100),
		Currency:          "KZT",
		Status:            status,
		Version:           3,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

func TestInitiatePaymentReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)

	first := f.initiate(t, "k1")
	assert.Equal(t, entity.PaymentStatusPending, first.Status)
	require.NotNil(t, first.CheckoutURL)
	require.NotNil(t, first.ProviderPaymentID)
	assert.Equal(t, "k1", *first.IdempotencyKey)
	assert.Equal(t, int64(2), first.Version)
	assert.True(t, first.Amount.Equal(decimal.NewFromInt(100)))

	second := f.initiate(t, "k1")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, *first.CheckoutURL, *second.CheckoutURL)

	assert.Len(t, f.store.PaymentsForInvestment(investmentID), 1)
	assert.Len(t, f.store.IdempotencyRecords(), 1)
	assert.Len(t, f.paybox.Checkouts(), 1)
	assert.Equal(t, "investment-7-v1", f.paybox.Checkouts()[0].IdempotencyKey)

	transitions := f.store.Transitions(first.ID)
	require.Len(t, transitions, 1)
	assert.Equal(t, entity.PaymentStatusCreated, transitions[0].FromStatus)
	assert.Equal(t, entity.PaymentStatusPending, transitions[0].ToStatus)
	assert.Equal(t, entity.ActorUser, transitions[0].ActorType)
	require.NotNil(t, transitions[0].ActorID)
	assert.Equal(t, investorID, *transitions[0].ActorID)

	record := f.store.IdempotencyRecords()[0]
	assert.Equal(t, first.ID, record.PaymentID)
	assert.Equal(t, 201, record.ResponseCode)
	assert.Equal(t, "PENDING", record.ResponseBody["status"])

	require.Len(t, f.publisher.published(), 1)
	assert.Equal(t, "PENDING", f.publisher.published()[0].To)
}

func TestInitiatePaymentRejectsKeyReuseForDifferentRequest(t *testing.T) {
	f := newFixture(t)
	f.initiate(t, "k1")

	_, err := f.svc.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{
		UserId:         investorID,
		InvestmentId:   investmentID,
		Provider:       provider.CodeStripe,
		IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestInitiatePaymentRejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *fixture)
		req     *types.InitiatePaymentRequest
		wantErr error
	}{
		{
			name:    "missing user",
			req:     &types.InitiatePaymentRequest{InvestmentId: investmentID},
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown provider",
			req:     &types.InitiatePaymentRequest{UserId: investorID, InvestmentId: investmentID, Provider: "kaspi"},
			wantErr: ErrProviderUnsupported,
		},
		{
			name:    "unknown investment",
			req:     &types.InitiatePaymentRequest{UserId: investorID, InvestmentId: 999},
			wantErr: ErrInvestmentNotFound,
		},
		{
			name:    "foreign investment",
			req:     &types.InitiatePaymentRequest{UserId: investorID + 1, InvestmentId: investmentID},
			wantErr: ErrForbidden,
		},
		{
			name: "investment already paid",
			prepare: func(f *fixture) {
				investment := f.store.Investment(investmentID)
				investment.Status = entity.InvestmentStatusPaid
				f.store.SeedInvestment(investment)
			},
			req:     &types.InitiatePaymentRequest{UserId: investorID, InvestmentId: investmentID},
			wantErr: ErrAlreadyPaid,
		},
		{
			name: "payment already succeeded",
			prepare: func(f *fixture) {
				f.seedPayment(t, entity.PaymentStatusSuccess, "pb_done")
			},
			req:     &types.InitiatePaymentRequest{UserId: investorID, InvestmentId: investmentID},
			wantErr: ErrAlreadyPaid,
		},
		{
			name: "payment canceled",
			prepare: func(f *fixture) {
				f.seedPayment(t, entity.PaymentStatusCanceled, "pb_gone")
			},
			req:     &types.InitiatePaymentRequest{UserId: investorID, InvestmentId: investmentID},
			wantErr: ErrIllegalTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.prepare != nil {
				tt.prepare(f)
			}

			_, err := f.svc.InitiatePayment(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.paybox.Checkouts())
		})
	}
}

func TestInitiatePaymentConcurrentCallsCreateOnePayment(t *testing.T) {
	f := newFixture(t)

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]uint64, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payment, err := f.svc.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{
				UserId:       investorID,
				InvestmentId: investmentID,
			})
			errs[i] = err
			if payment != nil {
				ids[i] = payment.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Len(t, f.store.PaymentsForInvestment(investmentID), 1)
	assert.Len(t, f.paybox.Checkouts(), 1)
}

func TestInitiatePaymentPendingKeyBinding(t *testing.T) {
	f := newFixture(t)

	unbound := f.initiate(t, "")
	assert.Nil(t, unbound.IdempotencyKey)

	adopted := f.initiate(t, "k2")
	assert.Equal(t, unbound.ID, adopted.ID)
	require.NotNil(t, adopted.IdempotencyKey)
	assert.Equal(t, "k2", *adopted.IdempotencyKey)
	assert.Len(t, f.paybox.Checkouts(), 1)
	assert.Len(t, f.store.IdempotencyRecords(), 1)

	_, err := f.svc.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{
		UserId:         investorID,
		InvestmentId:   investmentID,
		IdempotencyKey: "k3",
	})
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestInitiatePaymentProviderFailureLeavesNoPayment(t *testing.T) {
	f := newFixture(t)
	f.paybox.CheckoutErr = errors.New("connection reset")

	_, err := f.svc.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{
		UserId:         investorID,
		InvestmentId:   investmentID,
		IdempotencyKey: "k1",
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Empty(t, f.store.PaymentsForInvestment(investmentID))
	assert.Empty(t, f.store.IdempotencyRecords())
	assert.Empty(t, f.publisher.published())
}

func TestInitiatePaymentRetriesFailedPayment(t *testing.T) {
	f := newFixture(t)
	failed := f.seedPayment(t, entity.PaymentStatusFailed, "pb_old")

	payment := f.initiate(t, "retry-1")
	assert.Equal(t, failed.ID, payment.ID)
	assert.Equal(t, entity.PaymentStatusPending, payment.Status)
	assert.Equal(t, int64(4), payment.Version)
	assert.NotEqual(t, "pb_old", *payment.ProviderPaymentID)

	require.Len(t, f.paybox.Checkouts(), 1)
	assert.Equal(t, "investment-7-v3", f.paybox.Checkouts()[0].IdempotencyKey)
}

func TestInitiatePaymentUpdateFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.FailPaymentUpdates = errors.New("deadlock found")

	_, err := f.svc.InitiatePayment(context.Background(), &types.InitiatePaymentRequest{
		UserId:         investorID,
		InvestmentId:   investmentID,
		IdempotencyKey: "k1",
	})
	require.Error(t, err)
	assert.Empty(t, f.store.PaymentsForInvestment(investmentID))
	assert.Empty(t, f.store.IdempotencyRecords())
}

func TestGetPaymentUsesCache(t *testing.T) {
	f := newFixture(t)
	created := f.initiate(t, "")

	payment, err := f.svc.GetPayment(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, payment.ID)

	cached, err := f.cache.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, entity.PaymentStatusPending, cached.Status)

	_, err = f.svc.GetPayment(context.Background(), 999)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestGetPaymentKeepsStaleReadOutOfCache(t *testing.T) {
	f := newFixture(t)
	payment := f.initiate(t, "")

	client := testutil.NewFakeRedis()
	svc := NewPaymentService(
		f.store,
		provider.NewRegistry(f.paybox, f.stripe),
		nil,
		cache.NewRedisPaymentCache(client, time.Minute),
		f.publisher,
		config.PaymentsConfig{DefaultProvider: provider.CodePaybox, ProviderTimeout: time.Second},
	)
	// The webhook commits after the poll has read the row but before it
	// stores the snapshot.
	client.BeforeEval = func() {
		client.BeforeEval = nil
		_, err := svc.HandleWebhook(context.Background(), webhookFor(payment, "evt-1", "success"), WebhookDelivery{})
		require.NoError(t, err)
	}

	polled, err := svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusPending, polled.Status)

	polled, err = svc.GetPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusSuccess, polled.Status)
	assert.Equal(t, entity.InvestmentStatusPaid, f.store.Investment(investmentID).Status)
}

func TestGetPaymentFallsBackWhenCacheFails(t *testing.T) {
	f := newFixture(t)
	created := f.initiate(t, "")
	f.cache.getErr = errors.New("redis down")

	payment, err := f.svc.GetPayment(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, payment.ID)
}

func TestCancelPayment(t *testing.T) {
	f := newFixture(t)
	created := f.initiate(t, "")

	_, err := f.svc.CancelPayment(context.Background(), &types.CancelPaymentRequest{Id: created.ID, UserId: investorID + 1})
	assert.ErrorIs(t, err, ErrForbidden)

	ctx := WithCorrelationID(context.Background(), "req-cancel")
	canceled, err := f.svc.CancelPayment(ctx, &types.CancelPaymentRequest{Id: created.ID, UserId: investorID})
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusCanceled, canceled.Status)
	assert.Equal(t, entity.InvestmentStatusPending, f.store.Investment(investmentID).Status)
	assert.Contains(t, f.cache.invalidated, created.ID)

	transitions := f.store.Transitions(created.ID)
	require.Len(t, transitions, 2)
	assert.Equal(t, reasonUserCancel, transitions[1].Reason)

	assert.Equal(t, "req-cancel", f.publisher.ids[len(f.publisher.ids)-1])

	_, err = f.svc.CancelPayment(context.Background(), &types.CancelPaymentRequest{Id: 999, UserId: investorID})
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestRefundPayment(t *testing.T) {
	f := newFixture(t)
	pending := f.initiate(t, "")

	_, err := f.svc.RefundPayment(context.Background(), &types.RefundPaymentRequest{Id: pending.ID})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, entity.PaymentStatusPending, f.store.Payment(pending.ID).Status)

	_, err = f.svc.HandleWebhook(context.Background(), &types.HandleWebhookRequest{
		Provider:          provider.CodePaybox,
		ProviderPaymentId: *pending.ProviderPaymentID,
		ProviderEventId:   "evt-paid",
		Status:            "success",
	}, WebhookDelivery{})
	require.NoError(t, err)

	refunded, err := f.svc.RefundPayment(context.Background(), &types.RefundPaymentRequest{Id: pending.ID, Reason: "chargeback"})
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusRefunded, refunded.Status)
	assert.Equal(t, entity.InvestmentStatusPending, f.store.Investment(investmentID).Status)

	transitions := f.store.Transitions(pending.ID)
	require.Len(t, transitions, 3)
	assert.Equal(t, "chargeback", transitions[2].Reason)
	assert.Equal(t, entity.ActorSystem, transitions[2].ActorType)
}

func TestListTransitions(t *testing.T) {
	f := newFixture(t)
	created := f.initiate(t, "")

	items, err := f.svc.ListTransitions(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, reasonInitiate, items[0].Reason)

	_, err = f.svc.ListTransitions(context.Background(), 999)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}
