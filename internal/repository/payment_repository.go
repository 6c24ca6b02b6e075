package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/lending-engine/internal/domain"
)

const transactionColumns = `id, transaction_number, loan_account_id, amount, payment_date, payment_method,
		principal_amount, interest_amount, penalty_amount, fee_amount, status, payment_key, order_id,
		bank_transaction_id, note, created_at`

type transactionRepository struct {
	db sqlx.ExtContext
}

func NewTransactionRepository(db sqlx.ExtContext) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Insert(ctx context.Context, tx *domain.LoanRepaymentTransaction) (bool, error) {
	// the partial unique indexes on payment_key and order_id decide who wins
	query := `
		INSERT INTO loan_repayment_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT DO NOTHING
		RETURNING id
	`

	var id uuid.UUID
	err := r.db.QueryRowxContext(ctx, query,
		tx.ID,
		tx.TransactionNumber,
		tx.LoanAccountID,
		tx.Amount,
		tx.PaymentDate,
		tx.PaymentMethod,
		tx.PrincipalAmount,
		tx.InterestAmount,
		tx.PenaltyAmount,
		tx.FeeAmount,
		tx.Status,
		tx.PaymentKey,
		tx.OrderID,
		tx.BankTransactionID,
		tx.Note,
		tx.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *transactionRepository) FindByReference(ctx context.Context, paymentKey, orderID string) (*domain.LoanRepaymentTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM loan_repayment_transactions
		WHERE ($1 <> '' AND payment_key = $1) OR ($2 <> '' AND order_id = $2)
		ORDER BY created_at
		LIMIT 1
	`

	var tx domain.LoanRepaymentTransaction
	if err := sqlx.GetContext(ctx, r.db, &tx, query, paymentKey, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &tx, nil
}

func (r *transactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.LoanRepaymentTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM loan_repayment_transactions
		WHERE loan_account_id = $1
		ORDER BY payment_date DESC
	`

	var txs []*domain.LoanRepaymentTransaction
	if err := sqlx.SelectContext(ctx, r.db, &txs, query, accountID); err != nil {
		return nil, err
	}

	return txs, nil
}
