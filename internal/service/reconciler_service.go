package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/metrics"
	"github.com/segyhp/lending-engine/internal/repository"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

// Webhook outcomes recorded in metrics.
const (
	webhookApplied   = "applied"
	webhookDuplicate = "duplicate"
	webhookIgnored   = "ignored"
	webhookFailed    = "failed"
)

// ReconcilerService accepts payment reports from the borrower and from the
// gateway and hands each settled payment to the ledger.
type ReconcilerService struct {
	repos   repository.Repositories
	ledger  *LedgerService
	gateway domain.PaymentGateway
	metrics *metrics.Metrics
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewReconcilerService(
	repos repository.Repositories,
	ledger *LedgerService,
	gateway domain.PaymentGateway,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		repos:   repos,
		ledger:  ledger,
		gateway: gateway,
		metrics: m,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// InitiateRepayment issues a collection instrument for a repayment. The
// amount defaults to the account's next payment amount.
func (s *ReconcilerService) InitiateRepayment(ctx context.Context, actor domain.Actor, accountID uuid.UUID, req domain.InitiateRepaymentRequest) (*domain.InitiateRepaymentResponse, error) {
	account, err := s.repos.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeError(err, func() *customError.BusinessError {
			return customError.WrapAccountNotFound(accountID.String())
		})
	}

	amount := account.NextPaymentAmount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if err := account.CheckRepayable(amount, actor.Owner()); err != nil {
		return nil, err
	}
	if err := checkDisbursed(ctx, s.repos, account); err != nil {
		return nil, err
	}

	orderID := domain.NewRepaymentOrderID(account.ID, s.now())
	instrument, err := s.gateway.InitiateCollectionInstrument(ctx, domain.InstrumentRequest{
		OrderID:    orderID,
		Amount:     amount,
		PartyName:  s.opts.CollectionPayer,
		ExpiryDays: s.opts.InstrumentExpiryDays,
	})
	if err != nil {
		s.logger.Error("Collection instrument failed", zap.String("account_id", accountID.String()), zap.Error(err))
		return nil, gatewayError(err)
	}

	s.logger.Info("Repayment initiated",
		zap.String("account_id", accountID.String()),
		zap.String("order_id", orderID),
		zap.String("amount", amount.String()),
	)
	return &domain.InitiateRepaymentResponse{OrderID: orderID, Instrument: instrument}, nil
}

// CheckAndProcess asks the gateway once for the payment's status and applies
// it when it is settled or waiting for confirmation. A gateway that cannot
// be reached is reported as not processed yet so the caller polls again.
func (s *ReconcilerService) CheckAndProcess(ctx context.Context, actor domain.Actor, accountID uuid.UUID, req domain.SettlementRequest) (*domain.CheckRepaymentResponse, error) {
	if err := checkOrderAccount(req.OrderID, accountID); err != nil {
		return nil, err
	}
	account, err := s.repos.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeError(err, func() *customError.BusinessError {
			return customError.WrapAccountNotFound(accountID.String())
		})
	}
	if !actor.CanAccess(account.UserID) {
		return nil, customError.WrapNotOwner("loan account")
	}

	existing, err := s.ledger.findApplied(ctx, s.repos, domain.Settlement{PaymentKey: req.PaymentKey, OrderID: req.OrderID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.CheckRepaymentResponse{
			Processed: true,
			Message:   "payment already applied",
			Result:    &domain.RepaymentResult{Transaction: existing, AlreadyApplied: true},
		}, nil
	}

	status, err := s.gateway.GetPaymentStatus(ctx, req.PaymentKey)
	if err != nil {
		s.logger.Warn("Payment status check failed",
			zap.String("account_id", accountID.String()),
			zap.String("order_id", req.OrderID),
			zap.Error(err),
		)
		return &domain.CheckRepaymentResponse{Processed: false, Message: "payment gateway unavailable, check again later"}, nil
	}
	if status == nil {
		return &domain.CheckRepaymentResponse{Processed: false, Message: "payment not found at the gateway"}, nil
	}
	if status.OrderID != "" && status.OrderID != req.OrderID {
		return nil, customError.WrapGatewayRejected("payment belongs to another order")
	}
	if !status.Status.IsSettled() && !status.Status.IsConfirmable() {
		return &domain.CheckRepaymentResponse{
			Processed:     false,
			GatewayStatus: status.Status,
			Message:       "payment is " + string(status.Status),
		}, nil
	}

	result, err := s.ledger.ApplyRepayment(ctx, domain.Settlement{
		AccountID:   accountID,
		Owner:       actor.Owner(),
		Amount:      req.Amount,
		PaymentKey:  req.PaymentKey,
		OrderID:     req.OrderID,
		Channel:     domain.ChannelStatusCheck,
		KnownStatus: status.Status,
	})
	if err != nil {
		return nil, err
	}

	message := "payment applied"
	if result.AlreadyApplied {
		message = "payment already applied"
	}
	return &domain.CheckRepaymentResponse{
		Processed:     true,
		GatewayStatus: status.Status,
		Message:       message,
		Result:        result,
	}, nil
}

// ProcessRepayment confirms a payment the borrower completed at checkout.
func (s *ReconcilerService) ProcessRepayment(ctx context.Context, actor domain.Actor, accountID uuid.UUID, req domain.SettlementRequest) (*domain.RepaymentResult, error) {
	if err := checkOrderAccount(req.OrderID, accountID); err != nil {
		return nil, err
	}

	return s.ledger.ApplyRepayment(ctx, domain.Settlement{
		AccountID:  accountID,
		Owner:      actor.Owner(),
		Amount:     req.Amount,
		PaymentKey: req.PaymentKey,
		OrderID:    req.OrderID,
		Channel:    domain.ChannelConfirm,
	})
}

// HandleWebhook applies a settled repayment reported by the gateway. Orders
// that are not repayments and statuses other than settled are acknowledged
// without action. The caller acknowledges the delivery whatever is returned.
func (s *ReconcilerService) HandleWebhook(ctx context.Context, evt domain.WebhookEvent) error {
	outcome, err := s.handleWebhook(ctx, evt)
	if s.metrics != nil {
		s.metrics.WebhookEvents.WithLabelValues(evt.EventType, outcome).Inc()
	}
	if err != nil {
		s.logger.Error("Webhook processing failed, manual follow-up required",
			zap.String("event_type", evt.EventType),
			zap.String("order_id", evt.Data.OrderID),
			zap.String("payment_key", evt.Data.PaymentKey),
			zap.String("status", string(evt.Data.Status)),
			zap.Error(err),
		)
	}
	return err
}

func (s *ReconcilerService) handleWebhook(ctx context.Context, evt domain.WebhookEvent) (string, error) {
	data := evt.Data
	if !domain.IsRepaymentOrderID(data.OrderID) {
		s.logger.Info("Webhook for a non-repayment order acknowledged",
			zap.String("event_type", evt.EventType),
			zap.String("order_id", data.OrderID),
		)
		return webhookIgnored, nil
	}

	accountID, _, err := domain.ParseRepaymentOrderID(data.OrderID)
	if err != nil {
		return webhookFailed, err
	}
	if !data.Status.IsSettled() {
		s.logger.Info("Webhook status needs no settlement",
			zap.String("event_type", evt.EventType),
			zap.String("order_id", data.OrderID),
			zap.String("status", string(data.Status)),
		)
		return webhookIgnored, nil
	}

	result, err := s.ledger.ApplyRepayment(ctx, domain.Settlement{
		AccountID:   accountID,
		Amount:      data.TotalAmount,
		PaymentKey:  data.PaymentKey,
		OrderID:     data.OrderID,
		Channel:     domain.ChannelWebhook,
		KnownStatus: data.Status,
	})
	if err != nil {
		return webhookFailed, err
	}
	if result.AlreadyApplied {
		return webhookDuplicate, nil
	}
	return webhookApplied, nil
}

// checkOrderAccount makes sure a client reported order id was issued for accountID.
func checkOrderAccount(orderID string, accountID uuid.UUID) error {
	orderAccount, _, err := domain.ParseRepaymentOrderID(orderID)
	if err != nil {
		return err
	}
	if orderAccount != accountID {
		return customError.WrapInvalidRequest("order id was issued for another account", customError.ErrInvalidOrderID)
	}
	return nil
}

