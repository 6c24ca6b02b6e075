package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/lending-engine/internal/domain"
)

const accountColumns = `id, account_number, user_id, application_id, principal_amount, interest_rate, loan_period,
		repayment_method, principal_balance, total_interest_accrued, total_paid, remaining_period,
		next_payment_amount, next_payment_date, status, overdue_amount, overdue_days, start_date,
		target_end_date, closed_at, version, created_at, updated_at`

type accountRepository struct {
	db sqlx.ExtContext
}

func NewAccountRepository(db sqlx.ExtContext) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *domain.LoanAccount) error {
	query := `
		INSERT INTO loan_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.AccountNumber,
		account.UserID,
		account.ApplicationID,
		account.PrincipalAmount,
		account.InterestRate,
		account.LoanPeriod,
		account.RepaymentMethod,
		account.PrincipalBalance,
		account.TotalInterestAccrued,
		account.TotalPaid,
		account.RemainingPeriod,
		account.NextPaymentAmount,
		account.NextPaymentDate,
		account.Status,
		account.OverdueAmount,
		account.OverdueDays,
		account.StartDate,
		account.TargetEndDate,
		account.ClosedAt,
		account.Version,
		account.CreatedAt,
		account.UpdatedAt,
	)

	return err
}

func (r *accountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LoanAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM loan_accounts WHERE id = $1`
	return r.get(ctx, query, id)
}

func (r *accountRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.LoanAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM loan_accounts WHERE id = $1 FOR UPDATE`
	return r.get(ctx, query, id)
}

func (r *accountRepository) get(ctx context.Context, query string, id uuid.UUID) (*domain.LoanAccount, error) {
	var account domain.LoanAccount
	if err := sqlx.GetContext(ctx, r.db, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &account, nil
}

func (r *accountRepository) Update(ctx context.Context, account *domain.LoanAccount) error {
	query := `
		UPDATE loan_accounts
		SET principal_balance = $3, total_interest_accrued = $4, total_paid = $5, remaining_period = $6,
			next_payment_amount = $7, next_payment_date = $8, status = $9, overdue_amount = $10,
			overdue_days = $11, closed_at = $12, updated_at = $13, version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Version,
		account.PrincipalBalance,
		account.TotalInterestAccrued,
		account.TotalPaid,
		account.RemainingPeriod,
		account.NextPaymentAmount,
		account.NextPaymentDate,
		account.Status,
		account.OverdueAmount,
		account.OverdueDays,
		account.ClosedAt,
		account.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err := expectOneRow(result); err != nil {
		return err
	}

	account.Version++
	return nil
}

func (r *accountRepository) ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.LoanAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM loan_accounts WHERE status = $1 ORDER BY created_at`

	var accounts []*domain.LoanAccount
	if err := sqlx.SelectContext(ctx, r.db, &accounts, query, status); err != nil {
		return nil, err
	}

	return accounts, nil
}

// expectOneRow maps an update that touched nothing to ErrStaleVersion.
func expectOneRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleVersion
	}
	return nil
}
