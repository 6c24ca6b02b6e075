package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/segyhp/lending-engine/internal/domain"
)

const productColumns = `id, code, name, product_type, min_interest_rate, max_interest_rate, min_loan_amount,
		max_loan_amount, min_loan_period, max_loan_period, max_ltv, repayment_method, required_documents,
		is_active, created_at, updated_at`

type productRepository struct {
	db sqlx.ExtContext
}

func NewProductRepository(db sqlx.ExtContext) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LoanProduct, error) {
	query := `SELECT ` + productColumns + ` FROM loan_products WHERE id = $1`

	var product domain.LoanProduct
	if err := sqlx.GetContext(ctx, r.db, &product, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &product, nil
}

func (r *productRepository) List(ctx context.Context, includeInactive bool) ([]*domain.LoanProduct, error) {
	query := `SELECT ` + productColumns + ` FROM loan_products WHERE is_active OR $1 ORDER BY code`

	var products []*domain.LoanProduct
	if err := sqlx.SelectContext(ctx, r.db, &products, query, includeInactive); err != nil {
		return nil, err
	}

	return products, nil
}
