package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/lending-engine/internal/domain"
)

const scheduleColumns = `id, loan_account_id, installment_number, scheduled_date, principal_amount,
		interest_amount, total_amount, remaining_principal, status, actual_payment_date,
		actual_payment_amount, days_overdue, late_fee, created_at, updated_at`

type scheduleRepository struct {
	db sqlx.ExtContext
}

func NewScheduleRepository(db sqlx.ExtContext) ScheduleRepository {
	return &scheduleRepository{db: db}
}

// CreateBatch inserts rows one statement at a time; callers wrap it in a
// TxManager unit so a failure leaves no partial schedule.
func (r *scheduleRepository) CreateBatch(ctx context.Context, rows []*domain.LoanRepaymentSchedule) error {
	query := `
		INSERT INTO loan_repayment_schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	for _, row := range rows {
		_, err := r.db.ExecContext(ctx, query,
			row.ID,
			row.LoanAccountID,
			row.InstallmentNumber,
			row.ScheduledDate,
			row.PrincipalAmount,
			row.InterestAmount,
			row.TotalAmount,
			row.RemainingPrincipal,
			row.Status,
			row.ActualPaymentDate,
			row.ActualPaymentAmount,
			row.DaysOverdue,
			row.LateFee,
			row.CreatedAt,
			row.UpdatedAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *scheduleRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.LoanRepaymentSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM loan_repayment_schedules
		WHERE loan_account_id = $1
		ORDER BY installment_number
	`

	var rows []*domain.LoanRepaymentSchedule
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, accountID); err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *scheduleRepository) Update(ctx context.Context, row *domain.LoanRepaymentSchedule) error {
	query := `
		UPDATE loan_repayment_schedules
		SET status = $2, actual_payment_date = $3, actual_payment_amount = $4, days_overdue = $5,
			late_fee = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		row.ID,
		row.Status,
		row.ActualPaymentDate,
		row.ActualPaymentAmount,
		row.DaysOverdue,
		row.LateFee,
		row.UpdatedAt,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *scheduleRepository) ListDueBefore(ctx context.Context, asOf time.Time) ([]*domain.LoanRepaymentSchedule, error) {
	query := `
		SELECT s.id, s.loan_account_id, s.installment_number, s.scheduled_date, s.principal_amount,
			s.interest_amount, s.total_amount, s.remaining_principal, s.status, s.actual_payment_date,
			s.actual_payment_amount, s.days_overdue, s.late_fee, s.created_at, s.updated_at
		FROM loan_repayment_schedules s
		JOIN loan_accounts a ON a.id = s.loan_account_id
		WHERE a.status = $1 AND s.status IN ($2, $3, $4) AND s.scheduled_date < $5
		ORDER BY s.loan_account_id, s.installment_number
	`

	var rows []*domain.LoanRepaymentSchedule
	err := sqlx.SelectContext(ctx, r.db, &rows, query,
		domain.AccountActive,
		domain.ScheduleUnpaid,
		domain.SchedulePartial,
		domain.ScheduleOverdue,
		asOf,
	)
	if err != nil {
		return nil, err
	}

	return rows, nil
}
