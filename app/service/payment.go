package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-investment-payments/app/cache"
	"github.com/vibast-solutions/ms-go-investment-payments/app/entity"
	"github.com/vibast-solutions/ms-go-investment-payments/app/events"
	"github.com/vibast-solutions/ms-go-investment-payments/app/factory"
	"github.com/vibast-solutions/ms-go-investment-payments/app/idempotency"
	"github.com/vibast-solutions/ms-go-investment-payments/app/provider"
	"github.com/vibast-solutions/ms-go-investment-payments/app/repository"
	"github.com/vibast-solutions/ms-go-investment-payments/app/statemachine"
	"github.com/vibast-solutions/ms-go-investment-payments/config"
)

const (
	defaultBatchSize       = int32(100)
	defaultProviderTimeout = 15 * time.Second

	maxIdempotencyKeyLength = 128
	maxErrorMessageLength   = 1024

	reasonInitiate      = "initiate"
	reasonUserCancel    = "user_cancel"
	reasonRefund        = "refund"
	reasonWebhook       = "provider_webhook"
	reasonPendingExpiry = "pending_timeout"
	reasonReconcile     = "provider_reconcile"
)

type initiatePaymentRequest interface {
	GetUserId() uint64
	GetInvestmentId() uint64
	GetProvider() string
	GetIdempotencyKey() string
}

type paymentActionRequest interface {
	GetId() uint64
	GetUserId() uint64
	GetReason() string
}

type PaymentService struct {
	uow       repository.UnitOfWork
	providers *provider.Registry
	machine   *statemachine.Machine
	cache     cache.PaymentCache
	publisher events.Publisher
	cfg       config.PaymentsConfig
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewPaymentService(
	uow repository.UnitOfWork,
	providers *provider.Registry,
	machine *statemachine.Machine,
	paymentCache cache.PaymentCache,
	publisher events.Publisher,
	cfg config.PaymentsConfig,
) *PaymentService {
	if machine == nil {
		machine = statemachine.New()
	}
	if paymentCache == nil {
		paymentCache = cache.NoopPaymentCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	return &PaymentService{
		uow:       uow,
		providers: providers,
		machine:   machine,
		cache:     paymentCache,
		publisher: publisher,
		cfg:       cfg,
		logger:    factory.NewModuleLogger("payments-service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiatePayment binds a checkout to the investment. Concurrent calls for
// the same investment serialize on the investment row lock; replays with a
// known idempotency key return the stored payment without a provider call.
func (s *PaymentService) InitiatePayment(ctx context.Context, req initiatePaymentRequest) (*entity.Payment, error) {
	userID := req.GetUserId()
	investmentID := req.GetInvestmentId()
	key := strings.TrimSpace(req.GetIdempotencyKey())
	if userID == 0 || investmentID == 0 || len(key) > maxIdempotencyKeyLength {
		return nil, ErrInvalidRequest
	}

	providerCode := strings.ToLower(strings.TrimSpace(req.GetProvider()))
	if providerCode == "" {
		providerCode = s.cfg.DefaultProvider
	}
	providerClient, err := s.providers.Get(providerCode)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	requestHash, err := idempotency.InitiateRequestHash(investmentID, providerClient.Code())
	if err != nil {
		return nil, err
	}

	var result *entity.Payment
	effects := &commitEffects{}
	err = s.uow.WithinTx(ctx, func(repos repository.Repositories) error {
		keys := idempotency.NewStore(repos.Idempotency)

		record, err := keys.Lookup(ctx, userID, entity.IdempotencyScopeInitiatePayment, key)
		if err != nil {
			return err
		}
		if record != nil {
			if record.RequestHash != requestHash {
				return ErrIdempotencyConflict
			}
			payment, err := repos.Payments.FindByID(ctx, record.PaymentID)
			if err != nil {
				return err
			}
			if payment == nil {
				return ErrPaymentNotFound
			}
			result = payment
			return nil
		}

		investment, err := repos.Investments.FindByIDForUpdate(ctx, investmentID)
		if err != nil {
			return err
		}
		if investment == nil {
			return ErrInvestmentNotFound
		}
		if investment.InvestorID != userID {
			return ErrForbidden
		}
		if investment.Status == entity.InvestmentStatusPaid {
			return ErrAlreadyPaid
		}

		payment, err := repos.Payments.FindByInvestmentIDForUpdate(ctx, investmentID)
		if err != nil {
			return err
		}

		if payment != nil {
			switch payment.Status {
			case entity.PaymentStatusSuccess:
				return ErrAlreadyPaid
			case entity.PaymentStatusPending:
				if err := s.adoptKey(ctx, repos, payment, key); err != nil {
					return err
				}
				effects.touch(payment.ID)
				result = payment
				return s.rememberKey(ctx, keys, userID, key, requestHash, payment)
			case entity.PaymentStatusCanceled, entity.PaymentStatusRefunded:
				return &statemachine.TransitionError{From: payment.Status, To: entity.PaymentStatusPending}
			}
		}

		payment, entry, err := s.checkout(ctx, repos, providerClient, investment, payment, key, entity.UserActor(userID))
		if err != nil {
			return err
		}
		effects.record(payment, entry)
		result = payment

		return s.rememberKey(ctx, keys, userID, key, requestHash, payment)
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, effects)
	return result, nil
}

// adoptKey binds an unbound PENDING payment to the caller's key. A payment
// already bound to another key belongs to a different logical request.
func (s *PaymentService) adoptKey(ctx context.Context, repos repository.Repositories, payment *entity.Payment, key string) error {
	if key == "" {
		return nil
	}
	if payment.IdempotencyKey != nil {
		if *payment.IdempotencyKey != key {
			return ErrIdempotencyConflict
		}
		return nil
	}

	patch := &entity.PaymentPatch{}
	patch.SetIdempotencyKey(key).Apply(payment)
	payment.UpdatedAt = s.now()

	return repos.Payments.Update(ctx, payment)
}

// checkout asks the provider for a fresh checkout and moves the payment to
// PENDING. The provider call happens before any payment row is written so a
// provider failure leaves nothing behind once the transaction rolls back.
func (s *PaymentService) checkout(
	ctx context.Context,
	repos repository.Repositories,
	providerClient provider.Provider,
	investment *entity.Investment,
	payment *entity.Payment,
	key string,
	actor entity.Actor,
) (*entity.Payment, *entity.TransitionLogEntry, error) {
	version := int64(1)
	if payment != nil {
		version = payment.Version
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	defer cancel()

	output, err := providerClient.CreateCheckout(callCtx, &provider.CheckoutInput{
		InvestmentID:   investment.ID,
		Amount:         investment.Amount,
		Currency:       investment.Currency,
		Description:    fmt.Sprintf("Investment #%d", investment.ID),
		IdempotencyKey: fmt.Sprintf("investment-%d-v%d", investment.ID, version),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	patch := &entity.PaymentPatch{}
	patch.SetProvider(providerClient.Code()).SetCheckout(output.ProviderPaymentID, output.CheckoutURL)
	if key != "" {
		patch.SetIdempotencyKey(key)
	}

	if payment == nil {
		now := s.now()
		payment = &entity.Payment{
			InvestmentID: investment.ID,
			Amount:       investment.Amount,
			Currency:     investment.Currency,
			Status:       entity.PaymentStatusCreated,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		patch.Apply(payment)
		if err := repos.Payments.Create(ctx, payment); err != nil {
			return nil, nil, err
		}
	} else {
		patch.Apply(payment)
	}

	entry, err := s.machine.Transition(ctx, repos.Transitions, payment, entity.PaymentStatusPending, reasonInitiate, actor)
	if err != nil {
		return nil, nil, err
	}
	if err := repos.Payments.Update(ctx, payment); err != nil {
		return nil, nil, err
	}

	return payment, entry, nil
}

func (s *PaymentService) rememberKey(
	ctx context.Context,
	keys *idempotency.Store,
	userID uint64,
	key string,
	requestHash string,
	payment *entity.Payment,
) error {
	if key == "" {
		return nil
	}

	return keys.Record(ctx, &entity.IdempotencyRecord{
		UserID:         userID,
		Scope:          entity.IdempotencyScopeInitiatePayment,
		IdempotencyKey: key,
		RequestHash:    requestHash,
		PaymentID:      payment.ID,
		ResponseCode:   http.StatusCreated,
		ResponseBody: map[string]any{
			"payment_id":    payment.ID,
			"investment_id": payment.InvestmentID,
			"status":        string(payment.Status),
		},
	})
}

// GetPayment serves the snapshot cache first and falls back to a plain read.
func (s *PaymentService) GetPayment(ctx context.Context, id uint64) (*entity.Payment, error) {
	if id == 0 {
		return nil, ErrInvalidRequest
	}

	cached, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", id).Warn("payment cache read failed")
	} else if cached != nil {
		return cached, nil
	}

	payment, err := s.uow.Repositories().Payments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}

	if err := s.cache.Set(ctx, payment); err != nil {
		s.logger.WithError(err).WithField("payment_id", id).Warn("payment cache write failed")
	}
	return payment, nil
}

func (s *PaymentService) ListTransitions(ctx context.Context, paymentID uint64) ([]*entity.TransitionLogEntry, error) {
	if paymentID == 0 {
		return nil, ErrInvalidRequest
	}

	repos := s.uow.Repositories()
	payment, err := repos.Payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}

	return repos.Transitions.ListByPaymentID(ctx, paymentID)
}

// CancelPayment lets the investor abandon a checkout that has not settled.
func (s *PaymentService) CancelPayment(ctx context.Context, req paymentActionRequest) (*entity.Payment, error) {
	if req.GetId() == 0 || req.GetUserId() == 0 {
		return nil, ErrInvalidRequest
	}

	payment, _, err := s.applyTransition(ctx, transitionCommand{
		paymentID: req.GetId(),
		to:        entity.PaymentStatusCanceled,
		reason:    reasonOrDefault(req.GetReason(), reasonUserCancel),
		actor:     entity.UserActor(req.GetUserId()),
		ownerID:   req.GetUserId(),
	})
	return payment, err
}

// RefundPayment records a refund settled outside the provider checkout.
func (s *PaymentService) RefundPayment(ctx context.Context, req paymentActionRequest) (*entity.Payment, error) {
	if req.GetId() == 0 {
		return nil, ErrInvalidRequest
	}

	payment, _, err := s.applyTransition(ctx, transitionCommand{
		paymentID: req.GetId(),
		to:        entity.PaymentStatusRefunded,
		reason:    reasonOrDefault(req.GetReason(), reasonRefund),
		actor:     entity.SystemActor(),
	})
	return payment, err
}

type transitionCommand struct {
	paymentID uint64
	to        entity.PaymentStatus
	reason    string
	actor     entity.Actor

	// ownerID, when set, must match the investor of the linked investment.
	ownerID uint64
	// onlyFrom, when set, skips payments that have since left that status.
	onlyFrom entity.PaymentStatus
	// provider and checkoutID, when set, skip payments whose checkout has
	// been replaced since the outcome was fetched.
	provider   string
	checkoutID string
}

// applyTransition locks the investment and payment, runs the state machine and
// keeps the investment in step, all in one transaction. It reports whether a
// transition was applied.
func (s *PaymentService) applyTransition(ctx context.Context, cmd transitionCommand) (*entity.Payment, bool, error) {
	var (
		result  *entity.Payment
		applied bool
	)
	effects := &commitEffects{}

	err := s.uow.WithinTx(ctx, func(repos repository.Repositories) error {
		investment, payment, err := lockPayment(ctx, repos, cmd.paymentID)
		if err != nil {
			return err
		}
		if cmd.ownerID != 0 && investment.InvestorID != cmd.ownerID {
			return ErrForbidden
		}

		result = payment
		if cmd.onlyFrom != "" && payment.Status != cmd.onlyFrom {
			return nil
		}
		if cmd.checkoutID != "" && !payment.HasCheckout(cmd.provider, cmd.checkoutID) {
			s.logger.WithFields(logrus.Fields{
				"payment_id":          payment.ID,
				"provider_payment_id": cmd.checkoutID,
			}).Info("skipping outcome for superseded checkout")
			return nil
		}

		entry, err := s.machine.Transition(ctx, repos.Transitions, payment, cmd.to, cmd.reason, cmd.actor)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}

		if err := repos.Payments.Update(ctx, payment); err != nil {
			return err
		}
		if err := s.syncInvestment(ctx, repos, investment, payment.Status); err != nil {
			return err
		}

		effects.record(payment, entry)
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.afterCommit(ctx, effects)
	return result, applied, nil
}

// lockPayment resolves the payment's investment with a plain read and then
// locks investment before payment, the same order initiation uses.
func lockPayment(ctx context.Context, repos repository.Repositories, paymentID uint64) (*entity.Investment, *entity.Payment, error) {
	current, err := repos.Payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if current == nil {
		return nil, nil, ErrPaymentNotFound
	}

	investment, err := repos.Investments.FindByIDForUpdate(ctx, current.InvestmentID)
	if err != nil {
		return nil, nil, err
	}
	if investment == nil {
		return nil, nil, ErrInvestmentNotFound
	}

	payment, err := repos.Payments.FindByIDForUpdate(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if payment == nil {
		return nil, nil, ErrPaymentNotFound
	}

	return investment, payment, nil
}

func (s *PaymentService) syncInvestment(ctx context.Context, repos repository.Repositories, investment *entity.Investment, status entity.PaymentStatus) error {
	now := s.now()
	if !investment.SyncWithPayment(status, now) {
		return nil
	}
	investment.UpdatedAt = now

	return repos.Investments.UpdateStatus(ctx, investment)
}

// commitEffects collects what must be announced once a transaction commits.
type commitEffects struct {
	paymentIDs []uint64
	changes    []events.PaymentStatusChanged
}

func (e *commitEffects) touch(paymentID uint64) {
	e.paymentIDs = append(e.paymentIDs, paymentID)
}

func (e *commitEffects) record(payment *entity.Payment, entry *entity.TransitionLogEntry) {
	e.touch(payment.ID)
	if entry != nil {
		e.changes = append(e.changes, events.NewPaymentStatusChanged(payment, entry))
	}
}

func (s *PaymentService) afterCommit(ctx context.Context, effects *commitEffects) {
	if len(effects.paymentIDs) > 0 {
		if err := s.cache.Invalidate(ctx, effects.paymentIDs...); err != nil {
			s.logger.WithError(err).Warn("payment cache invalidation failed")
		}
	}

	correlationID := CorrelationIDFromContext(ctx)
	for _, change := range effects.changes {
		if err := s.publisher.PublishPaymentStatusChanged(ctx, correlationID, change); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"payment_id": change.PaymentID,
				"to":         change.To,
			}).Warn("payment status event publish failed")
		}
	}
}

func (s *PaymentService) providerTimeout() time.Duration {
	if s.cfg.ProviderTimeout > 0 {
		return s.cfg.ProviderTimeout
	}
	return defaultProviderTimeout
}

func (s *PaymentService) batchSize() int32 {
	if s.cfg.JobBatchSize > 0 {
		return s.cfg.JobBatchSize
	}
	return defaultBatchSize
}

func reasonOrDefault(reason, fallback string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return truncate(trimmed, 255)
	}
	return fallback
}

func optionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
