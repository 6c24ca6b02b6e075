package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/amortization"
	"github.com/segyhp/lending-engine/internal/cache"
	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/metrics"
	"github.com/segyhp/lending-engine/internal/mocks"
	"github.com/segyhp/lending-engine/internal/repository/memory"
)

const (
	borrowerID = "user-1"
	otherID    = "user-2"
)

var (
	testNow  = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	borrower = domain.Actor{UserID: borrowerID}
	stranger = domain.Actor{UserID: otherID}
	admin    = domain.Actor{UserID: "admin-1", Admin: true}
)

type fixture struct {
	store     *memory.Store
	gateway   *mocks.MockPaymentGateway
	publisher *mocks.RecordingPublisher
	metrics   *metrics.Metrics
	product   domain.LoanProduct

	applications *ApplicationService
	approvals    *ApprovalService
	ledger       *LedgerService
	reconciler   *ReconcilerService
	accounts     *AccountService
	products     *ProductService
	overdue      *OverdueService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	product := domain.LoanProduct{
		ID:              uuid.New(),
		Code:            "REAL_ESTATE",
		Name:            "Real estate secured loan",
		ProductType:     "secured",
		MinInterestRate: decimal.NewFromInt(7),
		MaxInterestRate: decimal.NewFromInt(10),
		MinLoanAmount:   decimal.NewFromInt(50),
		MaxLoanAmount:   decimal.NewFromInt(500_000_000),
		MinLoanPeriod:   1,
		MaxLoanPeriod:   60,
		MaxLTV:          decimal.NewFromInt(70),
		RepaymentMethod: amortization.EqualPrincipalInterest,
		IsActive:        true,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
	store.AddProduct(product)

	gw := &mocks.MockPaymentGateway{}
	pub := &mocks.RecordingPublisher{}
	m := metrics.NewUnregistered()
	logger := zap.NewNop()
	opts := DefaultOptions()
	repos := store.Repositories()
	clock := func() time.Time { return testNow }

	fx := &fixture{
		store:     store,
		gateway:   gw,
		publisher: pub,
		metrics:   m,
		product:   product,
	}
	fx.applications = NewApplicationService(repos, store, pub, m, logger)
	fx.applications.now = clock
	fx.approvals = NewApprovalService(repos, store, gw, pub, m, opts, logger)
	fx.approvals.now = clock
	fx.ledger = NewLedgerService(repos, store, gw, cache.Noop{}, cache.Noop{}, pub, m, opts, logger)
	fx.ledger.now = clock
	fx.reconciler = NewReconcilerService(repos, fx.ledger, gw, m, opts, logger)
	fx.reconciler.now = clock
	fx.accounts = NewAccountService(repos, cache.Noop{}, logger)
	fx.products = NewProductService(repos)
	fx.overdue = NewOverdueService(repos, store, cache.Noop{}, pub, m, opts, logger)
	fx.overdue.now = clock
	return fx
}

func (fx *fixture) createApplication(t *testing.T, amount, collateral int64) *domain.LoanApplication {
	t.Helper()
	app, err := fx.applications.Create(context.Background(), borrower, domain.CreateApplicationRequest{
		ProductID:       fx.product.ID,
		RequestedAmount: decimal.NewFromInt(amount),
		RequestedPeriod: 12,
		RequestedRate:   decimal.NewFromInt(10),
		Purpose:         "home renovation",
		CollateralType:  "apartment",
		CollateralValue: decimal.NewFromInt(collateral),
	})
	require.NoError(t, err)
	return app
}

// activeLoan approves and disburses a 12 month loan of amount at 10%.
func (fx *fixture) activeLoan(t *testing.T, amount int64) *domain.LoanAccount {
	t.Helper()
	ctx := context.Background()
	app := fx.createApplication(t, amount, amount*2)

	approval, err := fx.approvals.Approve(ctx, app.ID, domain.ApproveApplicationRequest{Note: "ok"})
	require.NoError(t, err)

	fx.gateway.On("InitiateDisbursementInstrument", mock.Anything, mock.MatchedBy(func(req domain.InstrumentRequest) bool {
		return req.OrderID == domain.NewDisbursementOrderID(app.ApplicationNumber)
	})).Return(&domain.Instrument{
		InstrumentRef: "payout-" + app.ApplicationNumber,
		OrderID:       domain.NewDisbursementOrderID(app.ApplicationNumber),
		Amount:        decimal.NewFromInt(amount),
		Status:        domain.GatewayWaitingForDeposit,
	}, nil).Once()
	_, err = fx.approvals.Disburse(ctx, app.ID)
	require.NoError(t, err)

	return fx.account(t, approval.Account.ID)
}

func (fx *fixture) account(t *testing.T, id uuid.UUID) *domain.LoanAccount {
	t.Helper()
	account, err := fx.store.Repositories().Accounts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return account
}

// setBalances overwrites the account's principal and interest figures.
func (fx *fixture) setBalances(t *testing.T, id uuid.UUID, principal, interest int64) *domain.LoanAccount {
	t.Helper()
	account := fx.account(t, id)
	account.PrincipalBalance = decimal.NewFromInt(principal)
	account.TotalInterestAccrued = decimal.NewFromInt(interest)
	require.NoError(t, fx.store.Repositories().Accounts.Update(context.Background(), account))
	return account
}

// confirmAll makes the gateway confirm every payment as settled.
func (fx *fixture) confirmAll() {
	fx.gateway.On("ConfirmPayment", mock.Anything, mock.Anything).Return(&domain.ConfirmResult{
		Success:        true,
		TransactionRef: "gw-tx",
		Status:         domain.GatewayDone,
	}, nil)
}

func settlement(accountID uuid.UUID, amount int64, channel string) domain.Settlement {
	orderID := domain.NewRepaymentOrderID(accountID, testNow)
	return domain.Settlement{
		AccountID:  accountID,
		Owner:      borrowerID,
		Amount:     decimal.NewFromInt(amount),
		PaymentKey: "pay-" + orderID,
		OrderID:    orderID,
		Channel:    channel,
	}
}
