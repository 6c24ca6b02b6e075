package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/events"
	"github.com/segyhp/lending-engine/internal/metrics"
	"github.com/segyhp/lending-engine/internal/repository"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

// LedgerService applies settled payments to loan accounts. Every channel
// that reports a payment ends in ApplyRepayment.
type LedgerService struct {
	repos     repository.Repositories
	txm       repository.TxManager
	gateway   domain.PaymentGateway
	cache     AccountCache
	guard     SettlementGuard
	publisher events.Publisher
	metrics   *metrics.Metrics
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

func NewLedgerService(
	repos repository.Repositories,
	txm repository.TxManager,
	gateway domain.PaymentGateway,
	cache AccountCache,
	guard SettlementGuard,
	publisher events.Publisher,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *LedgerService {
	return &LedgerService{
		repos:     repos,
		txm:       txm,
		gateway:   gateway,
		cache:     cache,
		guard:     guard,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// ApplyRepayment confirms the payment with the gateway and then, in one unit
// of work holding the account lock, allocates it interest first, records the
// transaction, advances the schedule and closes the account once nothing is
// owed. A payment whose key or order id was already recorded is reported as
// AlreadyApplied and changes nothing.
func (s *LedgerService) ApplyRepayment(ctx context.Context, st domain.Settlement) (*domain.RepaymentResult, error) {
	result, err := s.applyRepayment(ctx, st)
	if err != nil {
		s.countFailure(st.Channel, err)
		s.logger.Warn("Repayment not applied",
			zap.String("account_id", st.AccountID.String()),
			zap.String("order_id", st.OrderID),
			zap.String("channel", st.Channel),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}

func (s *LedgerService) applyRepayment(ctx context.Context, st domain.Settlement) (*domain.RepaymentResult, error) {
	if !st.Amount.IsPositive() {
		return nil, customError.WrapInvalidPaymentAmount(st.Amount.String())
	}
	if st.PaymentKey == "" && st.OrderID == "" {
		return nil, customError.WrapInvalidRequest("payment key or order id is required", nil)
	}

	account, err := s.repos.Accounts.GetByID(ctx, st.AccountID)
	if err != nil {
		return nil, storeError(err, func() *customError.BusinessError {
			return customError.WrapAccountNotFound(st.AccountID.String())
		})
	}

	if existing, err := s.findApplied(ctx, s.repos, st); err != nil {
		return nil, err
	} else if existing != nil {
		return s.alreadyApplied(st, existing, account), nil
	}

	if err := account.CheckRepayable(st.Amount, st.Owner); err != nil {
		return nil, err
	}
	if err := checkDisbursed(ctx, s.repos, account); err != nil {
		return nil, err
	}

	ref := st.OrderID
	if ref == "" {
		ref = st.PaymentKey
	}
	token, acquired, err := s.guard.AcquireSettlement(ctx, ref)
	switch {
	case err != nil:
		// the unique transaction record still prevents a double apply
		s.logger.Warn("Settlement guard unavailable", zap.String("order_id", ref), zap.Error(err))
	case acquired:
		defer s.guard.ReleaseSettlement(context.WithoutCancel(ctx), ref, token)
	case st.Channel == domain.ChannelWebhook:
		// a webhook may be the last report of this payment, so it waits on the
		// account lock instead of backing off
		s.logger.Info("Settlement guard held, applying webhook under the account lock", zap.String("order_id", ref))
	default:
		return nil, customError.WrapSettlementInProgress(ref)
	}

	confirmation, err := s.confirm(ctx, st)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var result *domain.RepaymentResult
	err = s.txm.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		locked, err := repos.Accounts.GetByIDForUpdate(ctx, st.AccountID)
		if err != nil {
			return storeError(err, func() *customError.BusinessError {
				return customError.WrapAccountNotFound(st.AccountID.String())
			})
		}

		// another channel may have applied this payment while we waited for the lock
		if existing, err := s.findApplied(ctx, repos, st); err != nil {
			return err
		} else if existing != nil {
			result = s.alreadyApplied(st, existing, locked)
			return nil
		}

		alloc, err := locked.ApplyPayment(st.Amount, st.Owner, now)
		if err != nil {
			return err
		}

		tx := domain.NewRepaymentTransaction(st, alloc, confirmation.TransactionRef, now)
		inserted, err := repos.Transactions.Insert(ctx, tx)
		if err != nil {
			return storeError(err, nil)
		}
		if !inserted {
			existing, err := s.findApplied(ctx, repos, st)
			if err != nil {
				return err
			}
			result = s.alreadyApplied(st, existing, nil)
			return nil
		}

		rows, err := repos.Schedules.ListByAccount(ctx, locked.ID)
		if err != nil {
			return storeError(err, nil)
		}
		for _, row := range domain.ReconcileSchedule(rows, st.Amount, alloc.Closed, now) {
			if err := repos.Schedules.Update(ctx, row); err != nil {
				return storeError(err, nil)
			}
		}
		overdueAmount, overdueDays := domain.OverdueSummary(rows)
		locked.RecordOverdue(overdueAmount, overdueDays, now)

		if err := repos.Accounts.Update(ctx, locked); err != nil {
			if errors.Is(err, repository.ErrStaleVersion) {
				return customError.WrapSettlementInProgress(ref)
			}
			return storeError(err, nil)
		}

		if alloc.Closed {
			if err := s.completeApplication(ctx, repos, locked, now); err != nil {
				return err
			}
		}

		result = &domain.RepaymentResult{Transaction: tx, Account: locked, Closed: alloc.Closed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.AlreadyApplied {
		return result, nil
	}

	s.cache.InvalidateAccount(ctx, st.AccountID)
	if s.metrics != nil {
		s.metrics.SettlementsApplied.WithLabelValues(st.Channel).Inc()
	}
	s.logger.Info("Repayment applied",
		zap.String("account_id", st.AccountID.String()),
		zap.String("order_id", st.OrderID),
		zap.String("channel", st.Channel),
		zap.String("amount", st.Amount.String()),
		zap.String("interest", result.Transaction.InterestAmount.String()),
		zap.String("principal", result.Transaction.PrincipalAmount.String()),
		zap.Bool("closed", result.Closed),
	)

	evts := []events.Event{events.NewEvent(events.RepaymentSettled, st.AccountID.String(), result.Transaction, now)}
	if result.Closed {
		evts = append(evts, events.NewEvent(events.AccountClosed, st.AccountID.String(), map[string]string{
			"account_number": result.Account.AccountNumber,
			"total_paid":     result.Account.TotalPaid.String(),
		}, now))
	}
	publish(ctx, s.publisher, s.logger, evts...)
	return result, nil
}

// confirm asks the gateway to confirm the payment before anything is written.
func (s *LedgerService) confirm(ctx context.Context, st domain.Settlement) (*domain.ConfirmResult, error) {
	cctx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()

	confirmation, err := s.gateway.ConfirmPayment(cctx, domain.ConfirmRequest{
		InstrumentRef: st.PaymentKey,
		OrderID:       st.OrderID,
		Amount:        st.Amount,
		KnownStatus:   st.KnownStatus,
	})
	if err != nil {
		return nil, gatewayError(err)
	}
	if !confirmation.Success {
		return nil, customError.WrapPaymentNotSettled(st.OrderID, string(confirmation.Status))
	}
	if confirmation.Amount.IsPositive() && !confirmation.Amount.Equal(st.Amount) {
		return nil, customError.WrapGatewayRejected("confirmed amount " + confirmation.Amount.String() + " differs from " + st.Amount.String())
	}
	return confirmation, nil
}

func (s *LedgerService) findApplied(ctx context.Context, repos repository.Repositories, st domain.Settlement) (*domain.LoanRepaymentTransaction, error) {
	existing, err := repos.Transactions.FindByReference(ctx, st.PaymentKey, st.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, storeError(err, nil)
	}
	return existing, nil
}

func (s *LedgerService) alreadyApplied(st domain.Settlement, tx *domain.LoanRepaymentTransaction, account *domain.LoanAccount) *domain.RepaymentResult {
	if s.metrics != nil {
		s.metrics.SettlementsDuplicate.WithLabelValues(st.Channel).Inc()
	}
	s.logger.Info("Repayment already applied",
		zap.String("account_id", st.AccountID.String()),
		zap.String("order_id", st.OrderID),
		zap.String("channel", st.Channel),
	)
	return &domain.RepaymentResult{Transaction: tx, Account: account, AlreadyApplied: true}
}

// completeApplication moves the linked application to completed. An account
// without a usable application still closes.
func (s *LedgerService) completeApplication(ctx context.Context, repos repository.Repositories, account *domain.LoanAccount, now time.Time) error {
	if account.ApplicationID == nil {
		s.logger.Warn("Closed account has no application", zap.String("account_id", account.ID.String()))
		return nil
	}

	app, err := repos.Applications.GetByID(ctx, *account.ApplicationID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("Closed account references a missing application",
			zap.String("account_id", account.ID.String()),
			zap.String("application_id", account.ApplicationID.String()),
		)
		return nil
	}
	if err != nil {
		return storeError(err, nil)
	}
	if !app.Status.CanTransitionTo(domain.ApplicationCompleted) {
		s.logger.Warn("Application cannot be completed",
			zap.String("application_id", app.ID.String()),
			zap.String("status", string(app.Status)),
		)
		return nil
	}

	entry, err := app.Transition(domain.ApplicationCompleted, "loan repaid in full", now)
	if err != nil {
		return err
	}
	if err := repos.Applications.Update(ctx, app); err != nil {
		return applicationUpdateError(err, app.ID)
	}
	if err := repos.Applications.AppendHistory(ctx, entry); err != nil {
		return storeError(err, nil)
	}
	return nil
}

func (s *LedgerService) countFailure(channel string, err error) {
	if s.metrics != nil {
		s.metrics.SettlementFailures.WithLabelValues(channel, string(customError.KindOf(err))).Inc()
	}
}
