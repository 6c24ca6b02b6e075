package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/events"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

func TestApprovalService_ApproveWithinLTV(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 100_000_000, 200_000_000)

	resp, err := fx.approvals.Approve(context.Background(), app.ID, domain.ApproveApplicationRequest{Note: "LTV 50%"})
	require.NoError(t, err)

	assert.Equal(t, domain.ApplicationApproved, resp.Application.Status)
	require.NotNil(t, resp.Application.LoanAccountID)
	assert.Equal(t, resp.Account.ID, *resp.Application.LoanAccountID)
	assert.True(t, resp.Application.ApprovedAmount.Decimal.Equal(decimal.NewFromInt(100_000_000)))
	assert.Equal(t, domain.AccountActive, resp.Account.Status)
	assert.Len(t, resp.Schedule, 12)
	assert.Equal(t, []string{events.ApplicationApproved}, fx.publisher.Types())

	rows, err := fx.store.Repositories().Schedules.ListByAccount(context.Background(), resp.Account.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 12)
}

func TestApprovalService_ApproveOpensAnnuityAccount(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 12_000_000, 30_000_000)

	resp, err := fx.approvals.Approve(context.Background(), app.ID, domain.ApproveApplicationRequest{})
	require.NoError(t, err)

	account := resp.Account
	assert.True(t, account.PrincipalBalance.Equal(decimal.NewFromInt(12_000_000)))
	assert.True(t, account.TotalInterestAccrued.Equal(decimal.NewFromInt(100_000)), account.TotalInterestAccrued.String())
	assert.True(t, account.TotalPaid.IsZero())
	assert.Equal(t, 12, account.RemainingPeriod)

	// annuity of 12M at 10% over 12 months is about 1,054,991
	assert.True(t, account.NextPaymentAmount.Equal(resp.Schedule[0].TotalAmount))
	assert.True(t, account.NextPaymentAmount.GreaterThan(decimal.NewFromInt(1_054_000)))
	assert.True(t, account.NextPaymentAmount.LessThan(decimal.NewFromInt(1_056_000)))
	assert.True(t, resp.Schedule[0].InterestAmount.Equal(decimal.NewFromInt(100_000)))
	assert.True(t, resp.Schedule[11].RemainingPrincipal.IsZero())
	assert.Equal(t, testNow.AddDate(0, 0, 30), *account.NextPaymentDate)
}

func TestApprovalService_ApproveRejectsLTVAboveProductMaximum(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 150_000_000, 200_000_000)

	_, err := fx.approvals.Approve(context.Background(), app.ID, domain.ApproveApplicationRequest{})
	assert.ErrorIs(t, err, customError.ErrLTVExceeded)

	// lowering the approved amount does not get around the requested LTV
	lower := decimal.NewFromInt(100_000_000)
	_, err = fx.approvals.Approve(context.Background(), app.ID, domain.ApproveApplicationRequest{ApprovedAmount: &lower})
	assert.ErrorIs(t, err, customError.ErrLTVExceeded)

	stored, err := fx.applications.Get(context.Background(), admin, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationPending, stored.Status)

	accounts, err := fx.store.Repositories().Accounts.ListByStatus(context.Background(), domain.AccountActive)
	require.NoError(t, err)
	assert.Empty(t, accounts)
	assert.Empty(t, fx.publisher.Types())
}

func TestApprovalService_ApproveRejectsTermsOutsideProduct(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 10_000_000, 30_000_000)
	ctx := context.Background()

	rate := decimal.NewFromInt(12)
	_, err := fx.approvals.Approve(ctx, app.ID, domain.ApproveApplicationRequest{ApprovedRate: &rate})
	assert.ErrorIs(t, err, customError.ErrRateOutOfRange)

	period := 120
	_, err = fx.approvals.Approve(ctx, app.ID, domain.ApproveApplicationRequest{ApprovedPeriod: &period})
	assert.ErrorIs(t, err, customError.ErrPeriodOutOfRange)

	_, err = fx.approvals.Approve(ctx, app.ID, domain.ApproveApplicationRequest{Version: intPtr(7)})
	assert.ErrorIs(t, err, customError.ErrStaleApplication)
}

func TestApprovalService_ApproveRollsBackWhenScheduleWriteFails(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 10_000_000, 30_000_000)
	fx.store.FailOn("schedules.CreateBatch", errors.New("disk full"))

	_, err := fx.approvals.Approve(context.Background(), app.ID, domain.ApproveApplicationRequest{})
	require.Error(t, err)
	assert.Equal(t, customError.KindInternal, customError.KindOf(err))

	stored, err := fx.applications.Get(context.Background(), admin, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationPending, stored.Status)
	assert.Nil(t, stored.LoanAccountID)
	assert.Len(t, stored.History, 1)

	accounts, err := fx.store.Repositories().Accounts.ListByStatus(context.Background(), domain.AccountActive)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	fx.store.FailOn("schedules.CreateBatch", nil)
	_, err = fx.approvals.Approve(context.Background(), app.ID, domain.ApproveApplicationRequest{})
	assert.NoError(t, err)
}

func TestApprovalService_ApproveRejectsTerminalApplication(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 10_000_000, 30_000_000)
	_, err := fx.applications.Cancel(context.Background(), borrower, app.ID)
	require.NoError(t, err)

	_, err = fx.approvals.Approve(context.Background(), app.ID, domain.ApproveApplicationRequest{})

	assert.ErrorIs(t, err, customError.ErrInvalidTransition)
}

func TestApprovalService_Disburse(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 10_000_000)

	app, err := fx.applications.Get(context.Background(), admin, *account.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationActive, app.Status)
	assert.NotNil(t, app.DisbursedAt)
	assert.Equal(t, []string{events.ApplicationApproved, events.LoanDisbursed}, fx.publisher.Types())
	fx.gateway.AssertExpectations(t)
}

func TestApprovalService_DisburseFailureKeepsApplicationApproved(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 10_000_000, 30_000_000)
	ctx := context.Background()
	_, err := fx.approvals.Approve(ctx, app.ID, domain.ApproveApplicationRequest{})
	require.NoError(t, err)

	fx.gateway.On("InitiateDisbursementInstrument", mock.Anything, mock.Anything).
		Return(nil, customError.WrapGatewayUnavailable(errors.New("connection reset"))).Once()

	_, err = fx.approvals.Disburse(ctx, app.ID)
	assert.ErrorIs(t, err, customError.ErrGatewayUnavailable)
	assert.Equal(t, customError.KindExternal, customError.KindOf(err))

	stored, err := fx.applications.Get(ctx, admin, app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationApproved, stored.Status)
	assert.Nil(t, stored.DisbursedAt)
}

func TestApprovalService_DisburseRequiresApproval(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 10_000_000, 30_000_000)

	_, err := fx.approvals.Disburse(context.Background(), app.ID)

	assert.ErrorIs(t, err, customError.ErrInvalidTransition)
	fx.gateway.AssertNotCalled(t, "InitiateDisbursementInstrument", mock.Anything, mock.Anything)
}
