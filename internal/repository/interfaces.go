package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/lending-engine/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrStaleVersion is returned when an optimistic update lost a race.
	ErrStaleVersion = errors.New("record was modified by another transaction")
)

// ProductRepository defines the interface for loan product reads
type ProductRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LoanProduct, error)

	// List returns products, only active ones unless includeInactive is set
	List(ctx context.Context, includeInactive bool) ([]*domain.LoanProduct, error)
}

// ApplicationRepository defines the interface for loan application data operations
type ApplicationRepository interface {
	Create(ctx context.Context, app *domain.LoanApplication) error

	// GetByID loads the application together with its status history
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LoanApplication, error)

	List(ctx context.Context, filter domain.ListApplicationsFilter) ([]*domain.LoanApplication, error)

	// Update writes app if its stored version still equals app.Version and
	// bumps the version. Returns ErrStaleVersion otherwise.
	Update(ctx context.Context, app *domain.LoanApplication) error

	// Delete removes a pending application and its history
	Delete(ctx context.Context, id uuid.UUID) error

	AppendHistory(ctx context.Context, entry domain.StatusHistoryEntry) error
}

// AccountRepository defines the interface for loan account data operations
type AccountRepository interface {
	Create(ctx context.Context, account *domain.LoanAccount) error

	GetByID(ctx context.Context, id uuid.UUID) (*domain.LoanAccount, error)

	// GetByIDForUpdate locks the account row until the surrounding transaction ends
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.LoanAccount, error)

	// Update writes account with the same optimistic version rule as applications
	Update(ctx context.Context, account *domain.LoanAccount) error

	ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.LoanAccount, error)
}

// ScheduleRepository defines the interface for repayment schedule data operations
type ScheduleRepository interface {
	CreateBatch(ctx context.Context, rows []*domain.LoanRepaymentSchedule) error

	// ListByAccount returns rows ordered by installment number
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.LoanRepaymentSchedule, error)

	Update(ctx context.Context, row *domain.LoanRepaymentSchedule) error

	// ListDueBefore returns unsettled rows of active accounts scheduled before asOf
	ListDueBefore(ctx context.Context, asOf time.Time) ([]*domain.LoanRepaymentSchedule, error)
}

// TransactionRepository defines the interface for repayment transaction records
type TransactionRepository interface {
	// Insert stores tx unless a record with the same payment key or order id
	// exists. It reports whether a row was written.
	Insert(ctx context.Context, tx *domain.LoanRepaymentTransaction) (bool, error)

	// FindByReference looks a record up by payment key or order id
	FindByReference(ctx context.Context, paymentKey, orderID string) (*domain.LoanRepaymentTransaction, error)

	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.LoanRepaymentTransaction, error)
}

// Repositories bundles every repository bound to one connection or transaction.
type Repositories struct {
	Products     ProductRepository
	Applications ApplicationRepository
	Accounts     AccountRepository
	Schedules    ScheduleRepository
	Transactions TransactionRepository
}

// TxManager runs fn as a single unit of work. Returning an error from fn
// discards every write fn made through the repositories it was given.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
