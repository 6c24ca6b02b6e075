package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/amortization"
	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/events"
	"github.com/segyhp/lending-engine/internal/metrics"
	"github.com/segyhp/lending-engine/internal/repository"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

// ApprovalService turns an approved application into a loan account with
// its schedule and later pays the loan out.
type ApprovalService struct {
	repos     repository.Repositories
	txm       repository.TxManager
	gateway   domain.PaymentGateway
	publisher events.Publisher
	metrics   *metrics.Metrics
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

func NewApprovalService(
	repos repository.Repositories,
	txm repository.TxManager,
	gateway domain.PaymentGateway,
	publisher events.Publisher,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *ApprovalService {
	return &ApprovalService{
		repos:     repos,
		txm:       txm,
		gateway:   gateway,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Approve validates the application against its product, then creates the
// loan account, every schedule row and the application's approval in one
// unit of work. Nothing is stored when any step fails.
func (s *ApprovalService) Approve(ctx context.Context, id uuid.UUID, req domain.ApproveApplicationRequest) (*domain.ApprovalResponse, error) {
	now := s.now()
	var resp *domain.ApprovalResponse

	err := s.txm.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		app, err := repos.Applications.GetByID(ctx, id)
		if err != nil {
			return storeError(err, func() *customError.BusinessError {
				return customError.WrapApplicationNotFound(id.String())
			})
		}
		if err := app.CheckVersion(req.Version); err != nil {
			return err
		}
		if !app.Status.CanTransitionTo(domain.ApplicationApproved) {
			return customError.WrapInvalidTransition("application", string(app.Status), string(domain.ApplicationApproved))
		}

		product, err := repos.Products.GetByID(ctx, app.ProductID)
		if err != nil {
			return storeError(err, func() *customError.BusinessError {
				return customError.WrapProductNotFound(app.ProductID.String())
			})
		}

		terms := app.ResolveTerms(req)
		if err := product.CheckEligibility(app, terms); err != nil {
			return err
		}

		account := domain.NewLoanAccount(app, terms, product.RepaymentMethod, now, s.opts.FirstPaymentOffsetDays)
		periods, err := amortization.Calculate(terms.Amount, terms.Rate, terms.Period, product.RepaymentMethod, account.StartDate)
		if err != nil {
			return customError.WrapInvalidRequest("approved terms cannot be amortized", err)
		}
		schedule := domain.NewRepaymentSchedule(account.ID, periods, now)
		account.NextPaymentAmount = decimal.Min(schedule[0].TotalAmount, account.Outstanding())

		entry, err := app.Approve(terms, account.ID, req.Note, now)
		if err != nil {
			return err
		}

		if err := repos.Accounts.Create(ctx, account); err != nil {
			return storeError(err, nil)
		}
		if err := repos.Schedules.CreateBatch(ctx, schedule); err != nil {
			return storeError(err, nil)
		}
		if err := repos.Applications.Update(ctx, app); err != nil {
			return applicationUpdateError(err, id)
		}
		if err := repos.Applications.AppendHistory(ctx, entry); err != nil {
			return storeError(err, nil)
		}

		resp = &domain.ApprovalResponse{Application: app, Account: account, Schedule: schedule}
		return nil
	})
	if err != nil {
		s.logger.Warn("Loan approval failed", zap.String("application_id", id.String()), zap.Error(err))
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ApplicationTransitions.WithLabelValues(string(domain.ApplicationApproved)).Inc()
	}
	s.logger.Info("Loan application approved",
		zap.String("application_id", id.String()),
		zap.String("account_id", resp.Account.ID.String()),
		zap.String("principal", resp.Account.PrincipalAmount.String()),
		zap.Int("installments", len(resp.Schedule)),
	)
	publish(ctx, s.publisher, s.logger, events.NewEvent(events.ApplicationApproved, id.String(), map[string]string{
		"application_number": resp.Application.ApplicationNumber,
		"account_id":         resp.Account.ID.String(),
		"account_number":     resp.Account.AccountNumber,
		"principal":          resp.Account.PrincipalAmount.String(),
	}, now))
	return resp, nil
}

// Disburse issues the payout instrument for an approved application and
// activates it. A gateway failure leaves the application approved.
func (s *ApprovalService) Disburse(ctx context.Context, id uuid.UUID) (*domain.DisbursementResponse, error) {
	app, err := s.repos.Applications.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, func() *customError.BusinessError {
			return customError.WrapApplicationNotFound(id.String())
		})
	}
	if !app.Status.CanTransitionTo(domain.ApplicationActive) {
		return nil, customError.WrapInvalidTransition("application", string(app.Status), string(domain.ApplicationActive))
	}
	if app.LoanAccountID == nil || !app.ApprovedAmount.Valid {
		return nil, customError.WrapInvalidTransition("application", "approved without a loan account", string(domain.ApplicationActive))
	}

	instrument, err := s.gateway.InitiateDisbursementInstrument(ctx, domain.InstrumentRequest{
		OrderID:    domain.NewDisbursementOrderID(app.ApplicationNumber),
		Amount:     app.ApprovedAmount.Decimal,
		PartyName:  s.opts.DisbursePayee,
		ExpiryDays: s.opts.InstrumentExpiryDays,
	})
	if err != nil {
		s.logger.Error("Disbursement instrument failed", zap.String("application_id", id.String()), zap.Error(err))
		return nil, gatewayError(err)
	}

	now := s.now()
	var activated *domain.LoanApplication
	err = s.txm.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Applications.GetByID(ctx, id)
		if err != nil {
			return storeError(err, func() *customError.BusinessError {
				return customError.WrapApplicationNotFound(id.String())
			})
		}
		if current.Version != app.Version {
			return customError.WrapStaleApplication(id.String())
		}
		entry, err := current.Transition(domain.ApplicationActive, fmt.Sprintf("disbursed via %s", instrument.InstrumentRef), now)
		if err != nil {
			return err
		}
		if err := repos.Applications.Update(ctx, current); err != nil {
			return applicationUpdateError(err, id)
		}
		if err := repos.Applications.AppendHistory(ctx, entry); err != nil {
			return storeError(err, nil)
		}
		activated = current
		return nil
	})
	if err != nil {
		s.logger.Error("Disbursement issued but activation failed",
			zap.String("application_id", id.String()),
			zap.String("order_id", instrument.OrderID),
			zap.Error(err),
		)
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ApplicationTransitions.WithLabelValues(string(domain.ApplicationActive)).Inc()
	}
	s.logger.Info("Loan disbursed",
		zap.String("application_id", id.String()),
		zap.String("order_id", instrument.OrderID),
	)
	publish(ctx, s.publisher, s.logger, events.NewEvent(events.LoanDisbursed, id.String(), map[string]string{
		"account_id":     activated.LoanAccountID.String(),
		"order_id":       instrument.OrderID,
		"instrument_ref": instrument.InstrumentRef,
		"amount":         activated.ApprovedAmount.Decimal.String(),
	}, now))
	return &domain.DisbursementResponse{Application: activated, Instrument: instrument}, nil
}

// gatewayError keeps BusinessErrors from the gateway adapter and wraps
// anything else as an unavailable gateway.
func gatewayError(err error) error {
	if customError.KindOf(err) == customError.KindInternal {
		return customError.WrapGatewayUnavailable(err)
	}
	return err
}
