package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/config"
	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/events"
	"github.com/segyhp/lending-engine/internal/repository"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

// AccountCache keeps read snapshots of loan accounts.
type AccountCache interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.LoanAccount, bool)
	SetAccount(ctx context.Context, account *domain.LoanAccount)
	InvalidateAccount(ctx context.Context, id uuid.UUID)
}

// SettlementGuard marks a payment order as being settled by one worker.
// Release only removes a marker still owned by token.
type SettlementGuard interface {
	AcquireSettlement(ctx context.Context, orderID string) (token string, ok bool, err error)
	ReleaseSettlement(ctx context.Context, orderID, token string)
}

// Options are the business settings the services run with.
type Options struct {
	FirstPaymentOffsetDays int
	ConfirmTimeout         time.Duration
	InstrumentExpiryDays   int
	DisbursePayee          string
	CollectionPayer        string
	LateFeeDailyRate       decimal.Decimal
	DefaultAfterDays       int
}

// OptionsFromConfig reads Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FirstPaymentOffsetDays: cfg.Business.FirstPaymentOffsetDays,
		ConfirmTimeout:         cfg.Gateway.ConfirmTimeout,
		InstrumentExpiryDays:   cfg.Gateway.ExpiryDays,
		DisbursePayee:          cfg.Gateway.DisbursePayee,
		CollectionPayer:        cfg.Gateway.CollectionPayer,
		LateFeeDailyRate:       cfg.GetLateFeeDailyRate(),
		DefaultAfterDays:       cfg.Business.DefaultAfterDays,
	}
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		FirstPaymentOffsetDays: 30,
		ConfirmTimeout:         15 * time.Second,
		InstrumentExpiryDays:   7,
		DisbursePayee:          "borrower",
		CollectionPayer:        "borrower",
		LateFeeDailyRate:       decimal.RequireFromString("0.0005"),
		DefaultAfterDays:       90,
	}
}

// storeError turns a repository error into a BusinessError. Errors that are
// already BusinessErrors pass through unchanged.
func storeError(err error, notFound func() *customError.BusinessError) error {
	var be *customError.BusinessError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &be):
		return err
	case errors.Is(err, repository.ErrNotFound) && notFound != nil:
		return notFound()
	default:
		return customError.WrapDatabaseError(err)
	}
}

// checkDisbursed rejects repayments on an account whose application is still
// waiting for the payout. Accounts without a linked application are allowed.
func checkDisbursed(ctx context.Context, repos repository.Repositories, account *domain.LoanAccount) error {
	if account.ApplicationID == nil {
		return nil
	}
	app, err := repos.Applications.GetByID(ctx, *account.ApplicationID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return storeError(err, nil)
	case app.Status == domain.ApplicationApproved:
		return customError.WrapLoanNotDisbursed(account.ID.String())
	}
	return nil
}

// applicationUpdateError reports a lost optimistic update as a stale application.
func applicationUpdateError(err error, id uuid.UUID) error {
	if errors.Is(err, repository.ErrStaleVersion) {
		return customError.WrapStaleApplication(id.String())
	}
	return storeError(err, nil)
}

// publish emits evts after a commit. A broker failure never undoes the
// committed change, it is only logged.
func publish(ctx context.Context, publisher events.Publisher, logger *zap.Logger, evts ...events.Event) {
	if publisher == nil || len(evts) == 0 {
		return
	}
	if err := publisher.Publish(ctx, evts...); err != nil {
		logger.Error("Failed to publish lifecycle events", zap.Int("count", len(evts)), zap.Error(err))
	}
}
