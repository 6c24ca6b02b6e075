package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/events"
	"github.com/segyhp/lending-engine/internal/metrics"
	"github.com/segyhp/lending-engine/internal/repository"
	customError "github.com/segyhp/lending-engine/pkg/errors"
	"github.com/segyhp/lending-engine/pkg/utils"
)

// SweepResult summarises one overdue sweep.
type SweepResult struct {
	Accounts    int
	RowsMarked  int
	Defaulted   int
	Failed      int
	CompletedAt time.Time
}

// OverdueService flags late installments, charges late fees and defaults
// accounts that stayed late for too long.
type OverdueService struct {
	repos     repository.Repositories
	txm       repository.TxManager
	cache     AccountCache
	publisher events.Publisher
	metrics   *metrics.Metrics
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

func NewOverdueService(
	repos repository.Repositories,
	txm repository.TxManager,
	cache AccountCache,
	publisher events.Publisher,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *OverdueService {
	return &OverdueService{
		repos:     repos,
		txm:       txm,
		cache:     cache,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// SweepOverdue walks every active account with an unsettled installment
// dated before today. Each account is processed in its own unit of work so
// one failure does not hold back the rest.
func (s *OverdueService) SweepOverdue(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	asOf := utils.StartOfDay(now)

	due, err := s.repos.Schedules.ListDueBefore(ctx, asOf)
	if err != nil {
		return nil, storeError(err, nil)
	}

	var accountIDs []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, row := range due {
		if !seen[row.LoanAccountID] {
			seen[row.LoanAccountID] = true
			accountIDs = append(accountIDs, row.LoanAccountID)
		}
	}

	result := &SweepResult{}
	var evts []events.Event
	for _, id := range accountIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		marked, defaulted, err := s.sweepAccount(ctx, id, asOf, now)
		if err != nil {
			result.Failed++
			s.logger.Error("Overdue sweep failed for account", zap.String("account_id", id.String()), zap.Error(err))
			continue
		}

		result.Accounts++
		result.RowsMarked += marked
		s.cache.InvalidateAccount(ctx, id)
		if s.metrics != nil {
			s.metrics.OverdueAccounts.Inc()
		}
		if defaulted != nil {
			result.Defaulted++
			if s.metrics != nil {
				s.metrics.DefaultedAccounts.Inc()
			}
			evts = append(evts, events.NewEvent(events.AccountDefaulted, id.String(), map[string]interface{}{
				"account_number": defaulted.AccountNumber,
				"overdue_amount": defaulted.OverdueAmount.String(),
				"overdue_days":   defaulted.OverdueDays,
			}, now))
		}
	}

	publish(ctx, s.publisher, s.logger, evts...)
	result.CompletedAt = s.now()
	s.logger.Info("Overdue sweep finished",
		zap.Int("accounts", result.Accounts),
		zap.Int("rows_marked", result.RowsMarked),
		zap.Int("defaulted", result.Defaulted),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// sweepAccount updates one account's late installments and overdue figures.
// It returns the number of rows changed and the account when it defaulted.
func (s *OverdueService) sweepAccount(ctx context.Context, id uuid.UUID, asOf, now time.Time) (int, *domain.LoanAccount, error) {
	marked := 0
	var defaulted *domain.LoanAccount

	err := s.txm.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		account, err := repos.Accounts.GetByIDForUpdate(ctx, id)
		if err != nil {
			return storeError(err, func() *customError.BusinessError {
				return customError.WrapAccountNotFound(id.String())
			})
		}
		if account.Status != domain.AccountActive {
			return nil
		}

		rows, err := repos.Schedules.ListByAccount(ctx, id)
		if err != nil {
			return storeError(err, nil)
		}
		for _, row := range rows {
			if !row.MarkOverdue(asOf, s.opts.LateFeeDailyRate) {
				continue
			}
			if err := repos.Schedules.Update(ctx, row); err != nil {
				return storeError(err, nil)
			}
			marked++
		}

		amount, days := domain.OverdueSummary(rows)
		account.RecordOverdue(amount, days, now)
		if days > s.opts.DefaultAfterDays {
			if err := account.MarkDefaulted(now); err != nil {
				return err
			}
			defaulted = account
		}

		if err := repos.Accounts.Update(ctx, account); err != nil {
			return storeError(err, nil)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	if defaulted != nil {
		s.logger.Warn("Loan account defaulted",
			zap.String("account_id", id.String()),
			zap.Int("overdue_days", defaulted.OverdueDays),
			zap.String("overdue_amount", defaulted.OverdueAmount.String()),
		)
	}
	return marked, defaulted, nil
}
