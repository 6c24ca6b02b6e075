package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/lending-engine/internal/domain"
)

const applicationColumns = `id, application_number, user_id, product_id, requested_amount, requested_period,
		requested_rate, purpose, collateral_type, collateral_value, collateral_address, approved_amount,
		approved_rate, approved_period, status, rejection_reason, submitted_at, approved_at, rejected_at,
		disbursed_at, loan_account_id, version, created_at, updated_at`

const defaultListLimit = 50

type applicationRepository struct {
	db sqlx.ExtContext
}

func NewApplicationRepository(db sqlx.ExtContext) ApplicationRepository {
	return &applicationRepository{db: db}
}

func (r *applicationRepository) Create(ctx context.Context, app *domain.LoanApplication) error {
	query := `
		INSERT INTO loan_applications (` + applicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	_, err := r.db.ExecContext(ctx, query,
		app.ID,
		app.ApplicationNumber,
		app.UserID,
		app.ProductID,
		app.RequestedAmount,
		app.RequestedPeriod,
		app.RequestedRate,
		app.Purpose,
		app.CollateralType,
		app.CollateralValue,
		app.CollateralAddress,
		app.ApprovedAmount,
		app.ApprovedRate,
		app.ApprovedPeriod,
		app.Status,
		app.RejectionReason,
		app.SubmittedAt,
		app.ApprovedAt,
		app.RejectedAt,
		app.DisbursedAt,
		app.LoanAccountID,
		app.Version,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, entry := range app.History {
		if err := r.AppendHistory(ctx, entry); err != nil {
			return err
		}
	}

	return nil
}

func (r *applicationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LoanApplication, error) {
	query := `SELECT ` + applicationColumns + ` FROM loan_applications WHERE id = $1`

	var app domain.LoanApplication
	if err := sqlx.GetContext(ctx, r.db, &app, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	history, err := r.listHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	app.History = history

	return &app, nil
}

func (r *applicationRepository) List(ctx context.Context, filter domain.ListApplicationsFilter) ([]*domain.LoanApplication, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + applicationColumns + ` FROM loan_applications`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	var apps []*domain.LoanApplication
	if err := sqlx.SelectContext(ctx, r.db, &apps, query, args...); err != nil {
		return nil, err
	}

	return apps, nil
}

func (r *applicationRepository) Update(ctx context.Context, app *domain.LoanApplication) error {
	query := `
		UPDATE loan_applications
		SET requested_amount = $3, requested_period = $4, requested_rate = $5, purpose = $6,
			collateral_type = $7, collateral_value = $8, collateral_address = $9, approved_amount = $10,
			approved_rate = $11, approved_period = $12, status = $13, rejection_reason = $14,
			submitted_at = $15, approved_at = $16, rejected_at = $17, disbursed_at = $18,
			loan_account_id = $19, updated_at = $20, version = version + 1
		WHERE id = $1 AND version = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		app.ID,
		app.Version,
		app.RequestedAmount,
		app.RequestedPeriod,
		app.RequestedRate,
		app.Purpose,
		app.CollateralType,
		app.CollateralValue,
		app.CollateralAddress,
		app.ApprovedAmount,
		app.ApprovedRate,
		app.ApprovedPeriod,
		app.Status,
		app.RejectionReason,
		app.SubmittedAt,
		app.ApprovedAt,
		app.RejectedAt,
		app.DisbursedAt,
		app.LoanAccountID,
		app.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err := expectOneRow(result); err != nil {
		return err
	}

	app.Version++
	return nil
}

func (r *applicationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM loan_applications WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, domain.ApplicationPending)
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

func (r *applicationRepository) AppendHistory(ctx context.Context, entry domain.StatusHistoryEntry) error {
	query := `
		INSERT INTO loan_application_status_history (id, application_id, status, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.ApplicationID, entry.Status, entry.Note, entry.CreatedAt)
	return err
}

func (r *applicationRepository) listHistory(ctx context.Context, applicationID uuid.UUID) ([]domain.StatusHistoryEntry, error) {
	query := `
		SELECT id, application_id, status, note, created_at
		FROM loan_application_status_history
		WHERE application_id = $1
		ORDER BY created_at, id
	`

	var history []domain.StatusHistoryEntry
	if err := sqlx.SelectContext(ctx, r.db, &history, query, applicationID); err != nil {
		return nil, err
	}

	return history, nil
}
