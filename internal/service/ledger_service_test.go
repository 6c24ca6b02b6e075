package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/events"
	"github.com/segyhp/lending-engine/internal/mocks"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

func TestLedgerService_InterestOnlyBalanceClosesAccount(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.setBalances(t, account.ID, 0, 50_000)
	fx.confirmAll()

	result, err := fx.ledger.ApplyRepayment(context.Background(), settlement(account.ID, 50_000, domain.ChannelConfirm))
	require.NoError(t, err)

	assert.True(t, result.Closed)
	assert.False(t, result.AlreadyApplied)
	assert.True(t, result.Transaction.InterestAmount.Equal(decimal.NewFromInt(50_000)))
	assert.True(t, result.Transaction.PrincipalAmount.IsZero())

	stored := fx.account(t, account.ID)
	assert.Equal(t, domain.AccountClosed, stored.Status)
	assert.True(t, stored.PrincipalBalance.IsZero())
	assert.True(t, stored.TotalInterestAccrued.IsZero())
	assert.NotNil(t, stored.ClosedAt)

	rows, err := fx.store.Repositories().Schedules.ListByAccount(context.Background(), account.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, domain.SchedulePaid, row.Status, "installment %d", row.InstallmentNumber)
	}

	app, err := fx.applications.Get(context.Background(), admin, *account.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationCompleted, app.Status)
	assert.Contains(t, fx.publisher.Types(), events.AccountClosed)
}

func TestLedgerService_AllocatesInterestFirst(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.confirmAll()
	payment := account.NextPaymentAmount

	st := settlement(account.ID, payment.IntPart(), domain.ChannelConfirm)
	result, err := fx.ledger.ApplyRepayment(context.Background(), st)
	require.NoError(t, err)

	assert.True(t, result.Transaction.InterestAmount.Equal(decimal.NewFromInt(100_000)))
	assert.True(t, result.Transaction.PrincipalAmount.Equal(payment.Sub(decimal.NewFromInt(100_000))))
	assert.Equal(t, st.OrderID, result.Transaction.OrderID)
	assert.Equal(t, "gw-tx", result.Transaction.BankTransactionID)

	stored := fx.account(t, account.ID)
	assert.True(t, stored.TotalPaid.Equal(payment))
	assert.Equal(t, 11, stored.RemainingPeriod)
	assert.Equal(t, domain.AccountActive, stored.Status)
	assert.Equal(t, testNow.AddDate(0, 0, 30).AddDate(0, 1, 0), *stored.NextPaymentDate)

	rows, err := fx.store.Repositories().Schedules.ListByAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SchedulePaid, rows[0].Status)
	assert.Equal(t, domain.ScheduleUnpaid, rows[1].Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.SettlementsApplied.WithLabelValues(domain.ChannelConfirm)))
	assert.Equal(t, []string{events.ApplicationApproved, events.LoanDisbursed, events.RepaymentSettled}, fx.publisher.Types())
}

func TestLedgerService_SamePaymentTwiceAppliesOnce(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.setBalances(t, account.ID, 1_000_000, 100_000)
	fx.confirmAll()
	ctx := context.Background()

	first, err := fx.ledger.ApplyRepayment(ctx, settlement(account.ID, 50_000, domain.ChannelWebhook))
	require.NoError(t, err)
	second, err := fx.ledger.ApplyRepayment(ctx, settlement(account.ID, 50_000, domain.ChannelStatusCheck))
	require.NoError(t, err)

	assert.False(t, first.AlreadyApplied)
	assert.True(t, second.AlreadyApplied)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	stored := fx.account(t, account.ID)
	assert.True(t, stored.TotalPaid.Equal(decimal.NewFromInt(50_000)), stored.TotalPaid.String())

	txs, err := fx.accounts.ListTransactions(ctx, borrower, account.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	fx.gateway.AssertNumberOfCalls(t, "ConfirmPayment", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.SettlementsDuplicate.WithLabelValues(domain.ChannelStatusCheck)))
}

func TestLedgerService_PaymentAboveOutstandingIsRejected(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.setBalances(t, account.ID, 100_000, 1_000)

	_, err := fx.ledger.ApplyRepayment(context.Background(), settlement(account.ID, 101_001, domain.ChannelConfirm))

	assert.ErrorIs(t, err, customError.ErrPaymentExceedsDebt)
	assert.Equal(t, customError.KindValidation, customError.KindOf(err))
	stored := fx.account(t, account.ID)
	assert.True(t, stored.TotalPaid.IsZero())
	assert.True(t, stored.PrincipalBalance.Equal(decimal.NewFromInt(100_000)))
	fx.gateway.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.SettlementFailures.WithLabelValues(domain.ChannelConfirm, string(customError.KindValidation))))
}

func TestLedgerService_RejectsInvalidInput(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	ctx := context.Background()

	st := settlement(account.ID, 0, domain.ChannelConfirm)
	_, err := fx.ledger.ApplyRepayment(ctx, st)
	assert.ErrorIs(t, err, customError.ErrInvalidPaymentAmount)

	st = settlement(account.ID, 1_000, domain.ChannelConfirm)
	st.PaymentKey, st.OrderID = "", ""
	_, err = fx.ledger.ApplyRepayment(ctx, st)
	assert.Equal(t, customError.KindValidation, customError.KindOf(err))

	st = settlement(account.ID, 1_000, domain.ChannelConfirm)
	st.Owner = otherID
	_, err = fx.ledger.ApplyRepayment(ctx, st)
	assert.ErrorIs(t, err, customError.ErrNotOwner)
}

func TestLedgerService_GatewayFailureLeavesAccountUntouched(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.gateway.On("ConfirmPayment", mock.Anything, mock.Anything).
		Return(nil, customError.WrapGatewayUnavailable(errors.New("timeout"))).Once()

	_, err := fx.ledger.ApplyRepayment(context.Background(), settlement(account.ID, 50_000, domain.ChannelConfirm))

	assert.ErrorIs(t, err, customError.ErrGatewayUnavailable)
	stored := fx.account(t, account.ID)
	assert.Equal(t, account.Version, stored.Version)
	assert.True(t, stored.TotalPaid.IsZero())
	txs, err := fx.accounts.ListTransactions(context.Background(), borrower, account.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestLedgerService_UnsettledConfirmationIsNotApplied(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.gateway.On("ConfirmPayment", mock.Anything, mock.Anything).
		Return(&domain.ConfirmResult{Success: false, Status: domain.GatewayWaitingForDeposit}, nil).Once()

	_, err := fx.ledger.ApplyRepayment(context.Background(), settlement(account.ID, 50_000, domain.ChannelConfirm))

	assert.ErrorIs(t, err, customError.ErrPaymentNotSettled)
	assert.True(t, fx.account(t, account.ID).TotalPaid.IsZero())
}

func TestLedgerService_ConfirmedAmountMustMatch(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.gateway.On("ConfirmPayment", mock.Anything, mock.Anything).
		Return(&domain.ConfirmResult{Success: true, Amount: decimal.NewFromInt(40_000), Status: domain.GatewayDone}, nil).Once()

	_, err := fx.ledger.ApplyRepayment(context.Background(), settlement(account.ID, 50_000, domain.ChannelConfirm))

	assert.ErrorIs(t, err, customError.ErrGatewayRejected)
	assert.True(t, fx.account(t, account.ID).TotalPaid.IsZero())
}

func TestLedgerService_PassesKnownStatusToGateway(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	st := settlement(account.ID, 50_000, domain.ChannelWebhook)
	st.KnownStatus = domain.GatewayDone
	fx.gateway.On("ConfirmPayment", mock.Anything, domain.ConfirmRequest{
		InstrumentRef: st.PaymentKey,
		OrderID:       st.OrderID,
		Amount:        st.Amount,
		KnownStatus:   domain.GatewayDone,
	}).Return(&domain.ConfirmResult{Success: true, Amount: st.Amount, Status: domain.GatewayDone}, nil).Once()

	_, err := fx.ledger.ApplyRepayment(context.Background(), st)

	require.NoError(t, err)
	fx.gateway.AssertExpectations(t)
}

func TestLedgerService_CommitFailureRollsBack(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.confirmAll()
	fx.store.FailOn("tx.Commit", errors.New("connection lost"))
	st := settlement(account.ID, 50_000, domain.ChannelConfirm)

	_, err := fx.ledger.ApplyRepayment(context.Background(), st)
	require.Error(t, err)
	assert.True(t, fx.account(t, account.ID).TotalPaid.IsZero())

	// the gateway already took the money, so a later report must still apply it
	fx.store.FailOn("tx.Commit", nil)
	result, err := fx.ledger.ApplyRepayment(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, result.AlreadyApplied)
	assert.True(t, fx.account(t, account.ID).TotalPaid.Equal(decimal.NewFromInt(50_000)))
}

func TestLedgerService_ConcurrentDeliveriesOfOnePayment(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.confirmAll()
	st := settlement(account.ID, 300_000, domain.ChannelWebhook)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
		dupes   int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := fx.ledger.ApplyRepayment(context.Background(), st)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if result.AlreadyApplied {
				dupes++
			} else {
				applied++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, workers-1, dupes)
	stored := fx.account(t, account.ID)
	assert.True(t, stored.TotalPaid.Equal(decimal.NewFromInt(300_000)), stored.TotalPaid.String())
	assert.Equal(t, account.Version+1, stored.Version)
}

func TestLedgerService_ConcurrentDistinctPayments(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.confirmAll()

	const payments = 10
	var wg sync.WaitGroup
	for i := 0; i < payments; i++ {
		st := settlement(account.ID, 100_000, domain.ChannelStatusCheck)
		st.OrderID = domain.NewRepaymentOrderID(account.ID, testNow.Add(time.Duration(i)*time.Minute))
		st.PaymentKey = fmt.Sprintf("pay-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.ledger.ApplyRepayment(context.Background(), st)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored := fx.account(t, account.ID)
	assert.True(t, stored.TotalPaid.Equal(decimal.NewFromInt(payments*100_000)), stored.TotalPaid.String())
	txs, err := fx.accounts.ListTransactions(context.Background(), borrower, account.ID)
	require.NoError(t, err)
	assert.Len(t, txs, payments)
}

func TestLedgerService_TotalPaidNeverDecreases(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 1_200_000)
	fx.confirmAll()
	ctx := context.Background()

	previous := decimal.Zero
	for i := 0; i < 24; i++ {
		current := fx.account(t, account.ID)
		if current.Status == domain.AccountClosed {
			break
		}
		st := settlement(account.ID, 0, domain.ChannelConfirm)
		st.Amount = decimal.Min(current.NextPaymentAmount, current.Outstanding())
		st.OrderID = domain.NewRepaymentOrderID(account.ID, testNow.AddDate(0, i, 0))
		st.PaymentKey = fmt.Sprintf("pay-%d", i)

		_, err := fx.ledger.ApplyRepayment(ctx, st)
		require.NoError(t, err)

		stored := fx.account(t, account.ID)
		assert.True(t, stored.TotalPaid.GreaterThan(previous))
		assert.False(t, stored.PrincipalBalance.IsNegative())
		assert.False(t, stored.TotalInterestAccrued.IsNegative())
		previous = stored.TotalPaid
	}

	assert.Equal(t, domain.AccountClosed, fx.account(t, account.ID).Status)
}

func TestLedgerService_PayingAdvertisedAmountClosesLoan(t *testing.T) {
	for _, principal := range []int64{7_777_777, 12_000_000, 1_000_000, 3_333_333, 100_001} {
		t.Run(fmt.Sprint(principal), func(t *testing.T) {
			fx := newFixture(t)
			account := fx.activeLoan(t, principal)
			fx.confirmAll()
			ctx := context.Background()

			for period := 1; period <= 12; period++ {
				current := fx.account(t, account.ID)
				if current.Status != domain.AccountActive {
					break
				}
				st := settlement(account.ID, 0, domain.ChannelConfirm)
				st.Amount = current.NextPaymentAmount
				st.OrderID = domain.NewRepaymentOrderID(account.ID, testNow.AddDate(0, period, 0))
				st.PaymentKey = fmt.Sprintf("pay-%d", period)

				_, err := fx.ledger.ApplyRepayment(ctx, st)
				require.NoError(t, err, "period %d: next %s outstanding %s", period, current.NextPaymentAmount, current.Outstanding())
			}

			stored := fx.account(t, account.ID)
			assert.Equal(t, domain.AccountClosed, stored.Status)
			assert.True(t, stored.NextPaymentAmount.IsZero())
			app, err := fx.applications.Get(ctx, admin, *account.ApplicationID)
			require.NoError(t, err)
			assert.Equal(t, domain.ApplicationCompleted, app.Status)
		})
	}
}

func TestLedgerService_ClosedAccountRejectsPayments(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.setBalances(t, account.ID, 0, 50_000)
	fx.confirmAll()
	ctx := context.Background()

	_, err := fx.ledger.ApplyRepayment(ctx, settlement(account.ID, 50_000, domain.ChannelConfirm))
	require.NoError(t, err)

	st := settlement(account.ID, 10_000, domain.ChannelConfirm)
	st.OrderID = domain.NewRepaymentOrderID(account.ID, testNow.Add(time.Hour))
	st.PaymentKey = "pay-late"
	_, err = fx.ledger.ApplyRepayment(ctx, st)

	assert.ErrorIs(t, err, customError.ErrAccountNotActive)
}

func TestLedgerService_SettlementGuard(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.confirmAll()
	st := settlement(account.ID, 50_000, domain.ChannelWebhook)

	t.Run("held by another worker", func(t *testing.T) {
		check := st
		check.Channel = domain.ChannelStatusCheck
		guard := &mocks.MockCache{}
		guard.On("AcquireSettlement", mock.Anything, check.OrderID).Return("", false, nil).Once()
		ledger := NewLedgerService(fx.store.Repositories(), fx.store, fx.gateway, guard, guard, fx.publisher, nil, DefaultOptions(), zap.NewNop())

		_, err := ledger.ApplyRepayment(context.Background(), check)

		assert.ErrorIs(t, err, customError.ErrSettlementInProgress)
		assert.True(t, fx.account(t, account.ID).TotalPaid.IsZero())
		guard.AssertExpectations(t)
	})

	t.Run("guard unavailable still applies once", func(t *testing.T) {
		guard := &mocks.MockCache{}
		guard.On("AcquireSettlement", mock.Anything, st.OrderID).Return("", false, errors.New("redis down")).Once()
		guard.On("InvalidateAccount", mock.Anything, account.ID).Return().Once()
		ledger := NewLedgerService(fx.store.Repositories(), fx.store, fx.gateway, guard, guard, fx.publisher, nil, DefaultOptions(), zap.NewNop())

		result, err := ledger.ApplyRepayment(context.Background(), st)

		require.NoError(t, err)
		assert.False(t, result.AlreadyApplied)
		guard.AssertNotCalled(t, "ReleaseSettlement", mock.Anything, mock.Anything, mock.Anything)
		guard.AssertExpectations(t)
	})

	t.Run("acquired guard is released with its token", func(t *testing.T) {
		next := settlement(account.ID, 50_000, domain.ChannelWebhook)
		next.OrderID = domain.NewRepaymentOrderID(account.ID, testNow.Add(time.Hour))
		next.PaymentKey = "pay-next"

		guard := &mocks.MockCache{}
		guard.On("AcquireSettlement", mock.Anything, next.OrderID).Return("tok-1", true, nil).Once()
		guard.On("ReleaseSettlement", mock.Anything, next.OrderID, "tok-1").Return().Once()
		guard.On("InvalidateAccount", mock.Anything, account.ID).Return().Once()
		ledger := NewLedgerService(fx.store.Repositories(), fx.store, fx.gateway, guard, guard, fx.publisher, nil, DefaultOptions(), zap.NewNop())

		_, err := ledger.ApplyRepayment(context.Background(), next)

		require.NoError(t, err)
		guard.AssertExpectations(t)
	})
}

func TestLedgerService_WebhookAppliesWhileGuardHeld(t *testing.T) {
	fx := newFixture(t)
	account := fx.activeLoan(t, 12_000_000)
	fx.confirmAll()
	st := settlement(account.ID, 50_000, domain.ChannelWebhook)

	// a status check holds the guard and gave up without applying
	guard := &mocks.MockCache{}
	guard.On("AcquireSettlement", mock.Anything, st.OrderID).Return("", false, nil)
	guard.On("InvalidateAccount", mock.Anything, account.ID).Return()
	ledger := NewLedgerService(fx.store.Repositories(), fx.store, fx.gateway, guard, guard, fx.publisher, nil, DefaultOptions(), zap.NewNop())
	ledger.now = func() time.Time { return testNow }

	result, err := ledger.ApplyRepayment(context.Background(), st)

	require.NoError(t, err)
	assert.False(t, result.AlreadyApplied)
	assert.True(t, fx.account(t, account.ID).TotalPaid.Equal(decimal.NewFromInt(50_000)))
	guard.AssertNotCalled(t, "ReleaseSettlement", mock.Anything, mock.Anything, mock.Anything)

	// a redelivery under the same held guard is still applied only once
	result, err = ledger.ApplyRepayment(context.Background(), st)

	require.NoError(t, err)
	assert.True(t, result.AlreadyApplied)
	assert.True(t, fx.account(t, account.ID).TotalPaid.Equal(decimal.NewFromInt(50_000)))
}

func TestLedgerService_RejectsPaymentBeforeDisbursement(t *testing.T) {
	fx := newFixture(t)
	app := fx.createApplication(t, 12_000_000, 24_000_000)
	approval, err := fx.approvals.Approve(context.Background(), app.ID, domain.ApproveApplicationRequest{Note: "ok"})
	require.NoError(t, err)
	accountID := approval.Account.ID

	_, err = fx.ledger.ApplyRepayment(context.Background(), settlement(accountID, 50_000, domain.ChannelConfirm))

	assert.ErrorIs(t, err, customError.ErrLoanNotDisbursed)
	assert.Equal(t, customError.KindConflict, customError.KindOf(err))
	assert.True(t, fx.account(t, accountID).TotalPaid.IsZero())
	fx.gateway.AssertNotCalled(t, "ConfirmPayment", mock.Anything, mock.Anything)

	stored, err := fx.store.Repositories().Applications.GetByID(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationApproved, stored.Status)
}
