package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/lending-engine/internal/domain"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

func webhookFor(st domain.Settlement, status domain.GatewayStatus) domain.WebhookEvent {
	return domain.WebhookEvent{
		EventType: domain.EventPaymentStatusChanged,
		Data: domain.WebhookData{
			OrderID:     st.OrderID,
			PaymentKey:  st.PaymentKey,
			Status:      status,
			TotalAmount: st.Amount,
		},
	}
}

func requestFor(st domain.Settlement) domain.SettlementRequest {
	return domain.SettlementRequest{PaymentKey: st.PaymentKey, OrderID: st.OrderID, Amount: st.Amount}
}

func TestReconcilerService_InitiateRepaymentDefaultsToNextPayment(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	orderID := domain.NewRepaymentOrderID(account.ID, testNow)
	fx.gateway.On("InitiateCollectionInstrument", mock.Anything, mock.MatchedBy(func(req domain.InstrumentRequest) bool {
		return req.OrderID == orderID && req.Amount.Equal(account.NextPaymentAmount) && req.ExpiryDays == 7
	})).Return(&domain.Instrument{InstrumentRef: "va-1", OrderID: orderID, Amount: account.NextPaymentAmount}, nil).Once()

	resp, err := fx.reconciler.InitiateRepayment(context.Background(), borrower, account.ID, domain.InitiateRepaymentRequest{})

	require.NoError(t, err)
	assert.Equal(t, orderID, resp.OrderID)
	assert.Equal(t, "va-1", resp.Instrument.InstrumentRef)
	fx.gateway.AssertExpectations(t)
}

func TestReconcilerService_InitiateRepaymentValidatesBeforeGateway(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	ctx := context.Background()

	tooMuch := account.Outstanding().Add(decimal.NewFromInt(1))
	_, err := fx.reconciler.InitiateRepayment(ctx, borrower, account.ID, domain.InitiateRepaymentRequest{Amount: &tooMuch})
	assert.ErrorIs(t, err, customError.ErrPaymentExceedsDebt)

	_, err = fx.reconciler.InitiateRepayment(ctx, stranger, account.ID, domain.InitiateRepaymentRequest{})
	assert.ErrorIs(t, err, customError.ErrNotOwner)

	_, err = fx.reconciler.InitiateRepayment(ctx, borrower, uuid.New(), domain.InitiateRepaymentRequest{})
	assert.ErrorIs(t, err, customError.ErrAccountNotFound)

	fx.gateway.AssertNotCalled(t, "InitiateCollectionInstrument", mock.Anything, mock.Anything)
}

func TestReconcilerService_InitiateRepaymentWaitsForDisbursement(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 12_000_000, 24_000_000)
	approval, err := fx.approvals.Approve(context.Background(), app.ID, domain.ApproveApplicationRequest{})
	require.NoError(t, err)

	_, err = fx.reconciler.InitiateRepayment(context.Background(), borrower, approval.Account.ID, domain.InitiateRepaymentRequest{})

	assert.ErrorIs(t, err, customError.ErrLoanNotDisbursed)
	fx.gateway.AssertNotCalled(t, "InitiateCollectionInstrument", mock.Anything, mock.Anything)
}

func TestReconcilerService_InitiateRepaymentGatewayDown(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.gateway.On("InitiateCollectionInstrument", mock.Anything, mock.Anything).
		Return(nil, errors.New("dial tcp: connection refused")).Once()

	_, err := fx.reconciler.InitiateRepayment(context.Background(), borrower, account.ID, domain.InitiateRepaymentRequest{})

	assert.ErrorIs(t, err, customError.ErrGatewayUnavailable)
	assert.Equal(t, customError.KindExternal, customError.KindOf(err))
}

func TestReconcilerService_WebhookThenStatusCheckAppliesOnce(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.setBalances(t, account.ID, 1_000_000, 100_000)
	fx.confirmAll()
	ctx := context.Background()
	st := settlement(account.ID, 50_000, domain.ChannelWebhook)

	require.NoError(t, fx.reconciler.HandleWebhook(ctx, webhookFor(st, domain.GatewayDone)))

	resp, err := fx.reconciler.CheckAndProcess(ctx, borrower, account.ID, requestFor(st))
	require.NoError(t, err)
	assert.True(t, resp.Processed)
	require.NotNil(t, resp.Result)
	assert.True(t, resp.Result.AlreadyApplied)

	// a repeated delivery is acknowledged as a duplicate
	require.NoError(t, fx.reconciler.HandleWebhook(ctx, webhookFor(st, domain.GatewayDone)))

	stored := fx.account(t, account.ID)
	assert.True(t, stored.TotalPaid.Equal(decimal.NewFromInt(50_000)), stored.TotalPaid.String())
	fx.gateway.AssertNumberOfCalls(t, "ConfirmPayment", 1)
	fx.gateway.AssertNotCalled(t, "GetPaymentStatus", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.WebhookEvents.WithLabelValues(domain.EventPaymentStatusChanged, webhookApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.WebhookEvents.WithLabelValues(domain.EventPaymentStatusChanged, webhookDuplicate)))
}

func TestReconcilerService_StatusCheckThenWebhookAppliesOnce(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.confirmAll()
	ctx := context.Background()
	st := settlement(account.ID, 50_000, domain.ChannelStatusCheck)
	fx.gateway.On("GetPaymentStatus", mock.Anything, st.PaymentKey).Return(&domain.PaymentStatus{
		InstrumentRef: st.PaymentKey,
		OrderID:       st.OrderID,
		Status:        domain.GatewayDone,
		Amount:        st.Amount,
	}, nil).Once()

	resp, err := fx.reconciler.CheckAndProcess(ctx, borrower, account.ID, requestFor(st))
	require.NoError(t, err)
	assert.True(t, resp.Processed)
	assert.Equal(t, domain.GatewayDone, resp.GatewayStatus)
	assert.False(t, resp.Result.AlreadyApplied)

	require.NoError(t, fx.reconciler.HandleWebhook(ctx, webhookFor(st, domain.GatewayDone)))

	stored := fx.account(t, account.ID)
	assert.True(t, stored.TotalPaid.Equal(decimal.NewFromInt(50_000)))
	txs, err := fx.accounts.ListTransactions(ctx, borrower, account.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.ChannelStatusCheck, txs[0].PaymentMethod)
}

func TestReconcilerService_CheckAndProcessGatewayUnavailable(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	st := settlement(account.ID, 50_000, domain.ChannelStatusCheck)
	fx.gateway.On("GetPaymentStatus", mock.Anything, st.PaymentKey).
		Return(nil, customError.WrapGatewayUnavailable(errors.New("503"))).Once()

	resp, err := fx.reconciler.CheckAndProcess(context.Background(), borrower, account.ID, requestFor(st))

	require.NoError(t, err)
	assert.False(t, resp.Processed)
	assert.NotEmpty(t, resp.Message)
	assert.True(t, fx.account(t, account.ID).TotalPaid.IsZero())
	fx.gateway.AssertNumberOfCalls(t, "GetPaymentStatus", 1)
	fx.gateway.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything)
}

func TestReconcilerService_CheckAndProcessPendingPayment(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	st := settlement(account.ID, 50_000, domain.ChannelStatusCheck)
	fx.gateway.On("GetPaymentStatus", mock.Anything, st.PaymentKey).Return(&domain.PaymentStatus{
		OrderID: st.OrderID,
		Status:  domain.GatewayWaitingForDeposit,
	}, nil).Once()

	resp, err := fx.reconciler.CheckAndProcess(context.Background(), borrower, account.ID, requestFor(st))

	require.NoError(t, err)
	assert.False(t, resp.Processed)
	assert.Equal(t, domain.GatewayWaitingForDeposit, resp.GatewayStatus)
	fx.gateway.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything)
}

func TestReconcilerService_CheckAndProcessUnknownPayment(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	st := settlement(account.ID, 50_000, domain.ChannelStatusCheck)
	fx.gateway.On("GetPaymentStatus", mock.Anything, st.PaymentKey).Return(nil, nil).Once()

	resp, err := fx.reconciler.CheckAndProcess(context.Background(), borrower, account.ID, requestFor(st))

	require.NoError(t, err)
	assert.False(t, resp.Processed)
}

func TestReconcilerService_CheckAndProcessRejectsForeignOrder(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	other := fx.activeLoan(t, 5_000_000)
	ctx := context.Background()

	// order issued for a different account
	st := settlement(other.ID, 50_000, domain.ChannelStatusCheck)
	_, err := fx.reconciler.CheckAndProcess(ctx, borrower, account.ID, requestFor(st))
	assert.ErrorIs(t, err, customError.ErrInvalidOrderID)

	// gateway reports the payment under another order
	st = settlement(account.ID, 50_000, domain.ChannelStatusCheck)
	fx.gateway.On("GetPaymentStatus", mock.Anything, st.PaymentKey).Return(&domain.PaymentStatus{
		OrderID: "repay_" + other.ID.String() + "_1",
		Status:  domain.GatewayDone,
	}, nil).Once()
	_, err = fx.reconciler.CheckAndProcess(ctx, borrower, account.ID, requestFor(st))
	assert.ErrorIs(t, err, customError.ErrGatewayRejected)

	_, err = fx.reconciler.CheckAndProcess(ctx, stranger, account.ID, requestFor(st))
	assert.ErrorIs(t, err, customError.ErrNotOwner)
}

func TestReconcilerService_ProcessRepayment(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.confirmAll()
	st := settlement(account.ID, 80_000, domain.ChannelConfirm)

	result, err := fx.reconciler.ProcessRepayment(context.Background(), borrower, account.ID, requestFor(st))

	require.NoError(t, err)
	assert.Equal(t, domain.ChannelConfirm, result.Transaction.PaymentMethod)
	assert.True(t, fx.account(t, account.ID).TotalPaid.Equal(decimal.NewFromInt(80_000)))

	_, err = fx.reconciler.ProcessRepayment(context.Background(), borrower, account.ID, domain.SettlementRequest{
		PaymentKey: "pay-x",
		OrderID:    "order-x",
		Amount:     decimal.NewFromInt(1_000),
	})
	assert.ErrorIs(t, err, customError.ErrInvalidOrderID)
}

func TestReconcilerService_WebhookIgnoredEvents(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	ctx := context.Background()

	disbursement := domain.WebhookEvent{
		EventType: domain.EventPaymentStatusChanged,
		Data:      domain.WebhookData{OrderID: "DISB-LA20250115abcd", PaymentKey: "payout-1", Status: domain.GatewayDone},
	}
	assert.NoError(t, fx.reconciler.HandleWebhook(ctx, disbursement))

	waiting := webhookFor(settlement(account.ID, 50_000, domain.ChannelWebhook), domain.GatewayWaitingForDeposit)
	waiting.EventType = domain.EventDepositCallback
	assert.NoError(t, fx.reconciler.HandleWebhook(ctx, waiting))

	malformed := domain.WebhookEvent{
		EventType: domain.EventPaymentStatusChanged,
		Data:      domain.WebhookData{OrderID: "repay_not-a-uuid_1", PaymentKey: "p", Status: domain.GatewayDone},
	}
	assert.ErrorIs(t, fx.reconciler.HandleWebhook(ctx, malformed), customError.ErrInvalidOrderID)

	fx.gateway.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything)
	assert.True(t, fx.account(t, account.ID).TotalPaid.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.WebhookEvents.WithLabelValues(domain.EventPaymentStatusChanged, webhookIgnored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.WebhookEvents.WithLabelValues(domain.EventDepositCallback, webhookIgnored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.WebhookEvents.WithLabelValues(domain.EventPaymentStatusChanged, webhookFailed)))
}

func TestReconcilerService_WebhookForUnknownAccountFails(t *testing.T) {
	fx := newFixture(t)
	st := settlement(uuid.New(), 50_000, domain.ChannelWebhook)

	err := fx.reconciler.HandleWebhook(context.Background(), webhookFor(st, domain.GatewayDone))

	assert.ErrorIs(t, err, customError.ErrAccountNotFound)
}
