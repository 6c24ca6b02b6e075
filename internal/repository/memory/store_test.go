package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/repository"
)

func newAccount() *domain.LoanAccount {
	return &domain.LoanAccount{
		ID:               uuid.New(),
		UserID:           "user-1",
		PrincipalBalance: decimal.NewFromInt(1000),
		Status:           domain.AccountActive,
		Version:          1,
		CreatedAt:        time.Now(),
	}
}

func TestStore_WithinTxDiscardsOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	account := newAccount()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		require.NoError(t, repos.Accounts.Create(ctx, account))
		_, err := repos.Accounts.GetByID(ctx, account.ID)
		require.NoError(t, err, "writes are visible inside the unit of work")
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, err = store.Repositories().Accounts.GetByID(ctx, account.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_WithinTxCommits(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	account := newAccount()

	err := store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Accounts.Create(ctx, account)
	})
	require.NoError(t, err)

	got, err := store.Repositories().Accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestStore_FailOn(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	store.FailOn("schedules.CreateBatch", errors.New("injected"))

	err := store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if err := repos.Accounts.Create(ctx, newAccount()); err != nil {
			return err
		}
		return repos.Schedules.CreateBatch(ctx, []*domain.LoanRepaymentSchedule{{ID: uuid.New()}})
	})
	assert.EqualError(t, err, "injected")

	accounts, err := store.Repositories().Accounts.ListByStatus(ctx, domain.AccountActive)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	store.FailOn("schedules.CreateBatch", nil)
	assert.NoError(t, store.Repositories().Schedules.CreateBatch(ctx, nil))
}

func TestStore_AccountVersionCheck(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repos := store.Repositories()
	account := newAccount()
	require.NoError(t, repos.Accounts.Create(ctx, account))

	first, err := repos.Accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	second, err := repos.Accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)

	require.NoError(t, repos.Accounts.Update(ctx, first))
	assert.Equal(t, 2, first.Version)
	assert.ErrorIs(t, repos.Accounts.Update(ctx, second), repository.ErrStaleVersion)
}

func TestStore_TransactionUniqueness(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repos := store.Repositories()
	accountID := uuid.New()

	inserted, err := repos.Transactions.Insert(ctx, &domain.LoanRepaymentTransaction{ID: uuid.New(), LoanAccountID: accountID, PaymentKey: "pk", OrderID: "o-1"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repos.Transactions.Insert(ctx, &domain.LoanRepaymentTransaction{ID: uuid.New(), LoanAccountID: accountID, PaymentKey: "other", OrderID: "o-1"})
	require.NoError(t, err)
	assert.False(t, inserted, "same order id")

	inserted, err = repos.Transactions.Insert(ctx, &domain.LoanRepaymentTransaction{ID: uuid.New(), LoanAccountID: accountID, PaymentKey: "pk", OrderID: "o-2"})
	require.NoError(t, err)
	assert.False(t, inserted, "same payment key")

	found, err := repos.Transactions.FindByReference(ctx, "", "o-1")
	require.NoError(t, err)
	assert.Equal(t, "pk", found.PaymentKey)

	txs, err := repos.Transactions.ListByAccount(ctx, accountID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_ConcurrentUnitsOfWorkSerialize(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	account := newAccount()
	account.TotalPaid = decimal.Zero
	require.NoError(t, store.Repositories().Accounts.Create(ctx, account))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
				a, err := repos.Accounts.GetByIDForUpdate(ctx, account.ID)
				if err != nil {
					return err
				}
				a.TotalPaid = a.TotalPaid.Add(decimal.NewFromInt(1))
				return repos.Accounts.Update(ctx, a)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.Repositories().Accounts.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalPaid.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 51, got.Version)
}

func TestStore_ApplicationHistoryAndDelete(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repos := store.Repositories()

	app := domain.NewLoanApplication("user-1", domain.CreateApplicationRequest{ProductID: uuid.New()}, time.Now())
	require.NoError(t, repos.Applications.Create(ctx, app))

	entry, err := app.Transition(domain.ApplicationSubmitted, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, repos.Applications.Update(ctx, app))
	require.NoError(t, repos.Applications.AppendHistory(ctx, entry))

	got, err := repos.Applications.GetByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, got.History, 2)
	assert.Equal(t, 2, got.Version)

	assert.ErrorIs(t, repos.Applications.Delete(ctx, app.ID), repository.ErrNotFound, "only pending applications can be deleted")
}
