// Package testutil provides an in-memory unit of work with the same
// uniqueness and not-found behavior as the MySQL repositories.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
	"github.com/vibast-solutions/ms-go-investment-payments/app/repository"
)

// MemoryStore serializes transactions on a single lock, which stands in for
// the row locks taken by the SQL repositories. A transaction works on a copy
// of the data that replaces the committed state only when fn succeeds.
type MemoryStore struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state *memoryState

	// FailPaymentUpdates, when set, is returned by every payment update.
	FailPaymentUpdates error
	// FailDeliveryLogs, when set, is returned by every delivery log insert.
	FailDeliveryLogs error
	// OnPaymentLock, when set, may change the stored payment right before a
	// locking read returns it, as a commit that won the row lock would.
	OnPaymentLock func(payment *entity.Payment)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func (m *MemoryStore) Repositories() repository.Repositories {
	return m.repositories(func(fn func(st *memoryState) error) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		return fn(m.state)
	})
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(repos repository.Repositories) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	working := m.state.clone()
	m.mu.Unlock()

	err := fn(m.repositories(func(fn func(st *memoryState) error) error {
		return fn(working)
	}))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.state = working
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) repositories(access accessor) repository.Repositories {
	return repository.Repositories{
		Payments:      &memoryPayments{store: m, access: access},
		Investments:   &memoryInvestments{access: access},
		Idempotency:   &memoryIdempotency{access: access},
		WebhookEvents: &memoryWebhookEvents{store: m, access: access},
		Transitions:   &memoryTransitions{access: access},
	}
}

// SeedInvestment stores a copy of investment, assigning an id when it has none.
func (m *MemoryStore) SeedInvestment(investment *entity.Investment) *entity.Investment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if investment.ID == 0 {
		m.state.investmentSeq++
		investment.ID = m.state.investmentSeq
	} else if investment.ID > m.state.investmentSeq {
		m.state.investmentSeq = investment.ID
	}
	m.state.investments[investment.ID] = cloneInvestment(investment)
	return cloneInvestment(investment)
}

// SeedPayment stores a copy of payment, assigning an id when it has none.
func (m *MemoryStore) SeedPayment(payment *entity.Payment) *entity.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if payment.ID == 0 {
		m.state.paymentSeq++
		payment.ID = m.state.paymentSeq
	} else if payment.ID > m.state.paymentSeq {
		m.state.paymentSeq = payment.ID
	}
	m.state.payments[payment.ID] = clonePayment(payment)
	return clonePayment(payment)
}

func (m *MemoryStore) Investment(id uint64) *entity.Investment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if investment, ok := m.state.investments[id]; ok {
		return cloneInvestment(investment)
	}
	return nil
}

func (m *MemoryStore) Payment(id uint64) *entity.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if payment, ok := m.state.payments[id]; ok {
		return clonePayment(payment)
	}
	return nil
}

func (m *MemoryStore) PaymentsForInvestment(investmentID uint64) []*entity.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*entity.Payment, 0)
	for _, payment := range m.state.sortedPayments() {
		if payment.InvestmentID == investmentID {
			out = append(out, clonePayment(payment))
		}
	}
	return out
}

func (m *MemoryStore) Transitions(paymentID uint64) []*entity.TransitionLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*entity.TransitionLogEntry, 0)
	for _, entry := range m.state.transitions {
		if entry.PaymentID == paymentID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out
}

func (m *MemoryStore) IdempotencyRecords() []*entity.IdempotencyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*entity.IdempotencyRecord, 0, len(m.state.idempotency))
	for _, record := range m.state.idempotency {
		copied := *record
		out = append(out, &copied)
	}
	return out
}

func (m *MemoryStore) WebhookEvents() []*entity.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*entity.WebhookEvent, 0, len(m.state.events))
	for _, event := range m.state.events {
		out = append(out, cloneWebhookEvent(event))
	}
	return out
}

func (m *MemoryStore) DeliveryLogs() []*entity.WebhookDeliveryLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*entity.WebhookDeliveryLog, 0, len(m.state.deliveryLogs))
	for _, log := range m.state.deliveryLogs {
		copied := *log
		out = append(out, &copied)
	}
	return out
}

type accessor func(fn func(st *memoryState) error) error

type memoryState struct {
	investmentSeq  uint64
	paymentSeq     uint64
	idempotencySeq uint64
	eventSeq       uint64
	deliverySeq    uint64
	transitionSeq  uint64

	investments  map[uint64]*entity.Investment
	payments     map[uint64]*entity.Payment
	idempotency  []*entity.IdempotencyRecord
	events       []*entity.WebhookEvent
	deliveryLogs []*entity.WebhookDeliveryLog
	transitions  []*entity.TransitionLogEntry
}

func newMemoryState() *memoryState {
	return &memoryState{
		investments: make(map[uint64]*entity.Investment),
		payments:    make(map[uint64]*entity.Payment),
	}
}

func (st *memoryState) clone() *memoryState {
	out := &memoryState{
		investmentSeq:  st.investmentSeq,
		paymentSeq:     st.paymentSeq,
		idempotencySeq: st.idempotencySeq,
		eventSeq:       st.eventSeq,
		deliverySeq:    st.deliverySeq,
		transitionSeq:  st.transitionSeq,
		investments:    make(map[uint64]*entity.Investment, len(st.investments)),
		payments:       make(map[uint64]*entity.Payment, len(st.payments)),
	}
	for id, investment := range st.investments {
		out.investments[id] = cloneInvestment(investment)
	}
	for id, payment := range st.payments {
		out.payments[id] = clonePayment(payment)
	}
	for _, record := range st.idempotency {
		copied := *record
		out.idempotency = append(out.idempotency, &copied)
	}
	for _, event := range st.events {
		out.events = append(out.events, cloneWebhookEvent(event))
	}
	for _, log := range st.deliveryLogs {
		copied := *log
		out.deliveryLogs = append(out.deliveryLogs, &copied)
	}
	for _, entry := range st.transitions {
		copied := *entry
		out.transitions = append(out.transitions, &copied)
	}
	return out
}

func (st *memoryState) sortedPayments() []*entity.Payment {
	out := make([]*entity.Payment, 0, len(st.payments))
	for _, payment := range st.payments {
		out = append(out, payment)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// providerIDTaken reports whether another payment already owns the
// (provider, provider_payment_id) pair.
func (st *memoryState) providerIDTaken(payment *entity.Payment) bool {
	if payment.ProviderPaymentID == nil {
		return false
	}
	for _, other := range st.payments {
		if other.ID == payment.ID || other.ProviderPaymentID == nil {
			continue
		}
		if other.Provider == payment.Provider && *other.ProviderPaymentID == *payment.ProviderPaymentID {
			return true
		}
	}
	return false
}

type memoryPayments struct {
	store  *MemoryStore
	access accessor
}

func (r *memoryPayments) Create(_ context.Context, payment *entity.Payment) error {
	return r.access(func(st *memoryState) error {
		for _, other := range st.payments {
			if other.InvestmentID == payment.InvestmentID {
				return repository.ErrPaymentAlreadyExists
			}
		}
		if st.providerIDTaken(payment) {
			return repository.ErrPaymentAlreadyExists
		}

		st.paymentSeq++
		payment.ID = st.paymentSeq
		st.payments[payment.ID] = clonePayment(payment)
		return nil
	})
}

func (r *memoryPayments) Update(_ context.Context, payment *entity.Payment) error {
	if r.store.FailPaymentUpdates != nil {
		return r.store.FailPaymentUpdates
	}
	return r.access(func(st *memoryState) error {
		if _, ok := st.payments[payment.ID]; !ok {
			return repository.ErrPaymentNotFound
		}
		if st.providerIDTaken(payment) {
			return repository.ErrPaymentAlreadyExists
		}
		st.payments[payment.ID] = clonePayment(payment)
		return nil
	})
}

func (r *memoryPayments) FindByID(_ context.Context, id uint64) (*entity.Payment, error) {
	return r.findOne(func(payment *entity.Payment) bool { return payment.ID == id })
}

func (r *memoryPayments) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Payment, error) {
	if hook := r.store.OnPaymentLock; hook != nil {
		err := r.access(func(st *memoryState) error {
			if payment, ok := st.payments[id]; ok {
				hook(payment)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return r.FindByID(ctx, id)
}

func (r *memoryPayments) FindByInvestmentIDForUpdate(_ context.Context, investmentID uint64) (*entity.Payment, error) {
	return r.findOne(func(payment *entity.Payment) bool { return payment.InvestmentID == investmentID })
}

func (r *memoryPayments) FindByProviderPaymentID(_ context.Context, provider, providerPaymentID string) (*entity.Payment, error) {
	return r.findOne(func(payment *entity.Payment) bool {
		return payment.Provider == provider && payment.ProviderPaymentID != nil && *payment.ProviderPaymentID == providerPaymentID
	})
}

func (r *memoryPayments) ListPendingBefore(_ context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error) {
	out := make([]*entity.Payment, 0)
	err := r.access(func(st *memoryState) error {
		for _, payment := range st.sortedPayments() {
			if payment.Status != entity.PaymentStatusPending || lastActivity(payment).After(cutoff) {
				continue
			}
			out = append(out, clonePayment(payment))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return lastActivity(out[i]).Before(lastActivity(out[j])) })
	if limit > 0 && len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryPayments) findOne(match func(payment *entity.Payment) bool) (*entity.Payment, error) {
	var found *entity.Payment
	err := r.access(func(st *memoryState) error {
		for _, payment := range st.sortedPayments() {
			if match(payment) {
				found = clonePayment(payment)
				return nil
			}
		}
		return nil
	})
	return found, err
}

func lastActivity(payment *entity.Payment) time.Time {
	if payment.LastEventAt != nil {
		return *payment.LastEventAt
	}
	return payment.CreatedAt
}

type memoryInvestments struct {
	access accessor
}

func (r *memoryInvestments) FindByID(_ context.Context, id uint64) (*entity.Investment, error) {
	var found *entity.Investment
	err := r.access(func(st *memoryState) error {
		if investment, ok := st.investments[id]; ok {
			found = cloneInvestment(investment)
		}
		return nil
	})
	return found, err
}

func (r *memoryInvestments) FindByIDForUpdate(ctx context.Context, id uint64) (*entity.Investment, error) {
	return r.FindByID(ctx, id)
}

func (r *memoryInvestments) UpdateStatus(_ context.Context, investment *entity.Investment) error {
	return r.access(func(st *memoryState) error {
		stored, ok := st.investments[investment.ID]
		if !ok {
			return repository.ErrInvestmentNotFound
		}
		stored.Status = investment.Status
		stored.PaidAt = cloneTime(investment.PaidAt)
		stored.UpdatedAt = investment.UpdatedAt
		return nil
	})
}

type memoryIdempotency struct {
	access accessor
}

func (r *memoryIdempotency) FindByKey(_ context.Context, userID uint64, scope, key string) (*entity.IdempotencyRecord, error) {
	var found *entity.IdempotencyRecord
	err := r.access(func(st *memoryState) error {
		for _, record := range st.idempotency {
			if record.UserID == userID && record.Scope == scope && record.IdempotencyKey == key {
				copied := *record
				found = &copied
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *memoryIdempotency) Create(_ context.Context, record *entity.IdempotencyRecord) error {
	return r.access(func(st *memoryState) error {
		for _, existing := range st.idempotency {
			if existing.UserID == record.UserID && existing.Scope == record.Scope && existing.IdempotencyKey == record.IdempotencyKey {
				return repository.ErrIdempotencyRecordExists
			}
		}
		st.idempotencySeq++
		record.ID = st.idempotencySeq
		copied := *record
		st.idempotency = append(st.idempotency, &copied)
		return nil
	})
}

type memoryWebhookEvents struct {
	store  *MemoryStore
	access accessor
}

func (r *memoryWebhookEvents) Create(_ context.Context, event *entity.WebhookEvent) error {
	return r.access(func(st *memoryState) error {
		for _, existing := range st.events {
			if existing.Provider != event.Provider {
				continue
			}
			if existing.PayloadHash == event.PayloadHash {
				return repository.ErrWebhookEventExists
			}
			if event.ProviderEventID != nil && existing.ProviderEventID != nil && *existing.ProviderEventID == *event.ProviderEventID {
				return repository.ErrWebhookEventExists
			}
		}
		st.eventSeq++
		event.ID = st.eventSeq
		st.events = append(st.events, cloneWebhookEvent(event))
		return nil
	})
}

func (r *memoryWebhookEvents) UpdateStatus(_ context.Context, event *entity.WebhookEvent) error {
	return r.access(func(st *memoryState) error {
		for _, existing := range st.events {
			if existing.ID != event.ID || existing.Status != entity.WebhookEventReceived {
				continue
			}
			existing.Status = event.Status
			existing.ErrorMessage = cloneString(event.ErrorMessage)
			existing.ProcessedAt = cloneTime(event.ProcessedAt)
			return nil
		}
		return repository.ErrWebhookEventNotFound
	})
}

func (r *memoryWebhookEvents) FindByProviderEventID(_ context.Context, provider, providerEventID string) (*entity.WebhookEvent, error) {
	return r.findOne(func(event *entity.WebhookEvent) bool {
		return event.Provider == provider && event.ProviderEventID != nil && *event.ProviderEventID == providerEventID
	})
}

func (r *memoryWebhookEvents) FindByPayloadHash(_ context.Context, provider, payloadHash string) (*entity.WebhookEvent, error) {
	return r.findOne(func(event *entity.WebhookEvent) bool {
		return event.Provider == provider && event.PayloadHash == payloadHash
	})
}

func (r *memoryWebhookEvents) CreateDeliveryLog(_ context.Context, log *entity.WebhookDeliveryLog) error {
	if r.store.FailDeliveryLogs != nil {
		return r.store.FailDeliveryLogs
	}
	return r.access(func(st *memoryState) error {
		for _, existing := range st.deliveryLogs {
			if existing.WebhookEventID == log.WebhookEventID && existing.AttemptNo == log.AttemptNo {
				return fmt.Errorf("delivery log %d/%d already exists", log.WebhookEventID, log.AttemptNo)
			}
		}
		st.deliverySeq++
		log.ID = st.deliverySeq
		copied := *log
		st.deliveryLogs = append(st.deliveryLogs, &copied)
		return nil
	})
}

func (r *memoryWebhookEvents) findOne(match func(event *entity.WebhookEvent) bool) (*entity.WebhookEvent, error) {
	var found *entity.WebhookEvent
	err := r.access(func(st *memoryState) error {
		for _, event := range st.events {
			if match(event) {
				found = cloneWebhookEvent(event)
				return nil
			}
		}
		return nil
	})
	return found, err
}

type memoryTransitions struct {
	access accessor
}

func (r *memoryTransitions) Append(_ context.Context, entry *entity.TransitionLogEntry) error {
	return r.access(func(st *memoryState) error {
		st.transitionSeq++
		entry.ID = st.transitionSeq
		copied := *entry
		st.transitions = append(st.transitions, &copied)
		return nil
	})
}

func (r *memoryTransitions) ListByPaymentID(_ context.Context, paymentID uint64) ([]*entity.TransitionLogEntry, error) {
	out := make([]*entity.TransitionLogEntry, 0)
	err := r.access(func(st *memoryState) error {
		for _, entry := range st.transitions {
			if entry.PaymentID == paymentID {
				copied := *entry
				out = append(out, &copied)
			}
		}
		return nil
	})
	return out, err
}

func clonePayment(payment *entity.Payment) *entity.Payment {
	copied := *payment
	copied.ProviderPaymentID = cloneString(payment.ProviderPaymentID)
	copied.CheckoutURL = cloneString(payment.CheckoutURL)
	copied.IdempotencyKey = cloneString(payment.IdempotencyKey)
	copied.LastEventAt = cloneTime(payment.LastEventAt)
	copied.ConfirmedAt = cloneTime(payment.ConfirmedAt)
	return &copied
}

func cloneInvestment(investment *entity.Investment) *entity.Investment {
	copied := *investment
	copied.PaidAt = cloneTime(investment.PaidAt)
	return &copied
}

func cloneWebhookEvent(event *entity.WebhookEvent) *entity.WebhookEvent {
	copied := *event
	copied.ProviderEventID = cloneString(event.ProviderEventID)
	copied.ErrorMessage = cloneString(event.ErrorMessage)
	copied.ProcessedAt = cloneTime(event.ProcessedAt)
	if event.Payload != nil {
		copied.Payload = make(map[string]any, len(event.Payload))
		for k, v := range event.Payload {
			copied.Payload[k] = v
		}
	}
	return &copied
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
