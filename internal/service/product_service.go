package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/repository"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

// ProductService reads the loan product catalog.
type ProductService struct {
	repos repository.Repositories
}

func NewProductService(repos repository.Repositories) *ProductService {
	return &ProductService{repos: repos}
}

// ListProducts returns the products currently offered.
func (s *ProductService) ListProducts(ctx context.Context) ([]*domain.LoanProduct, error) {
	products, err := s.repos.Products.List(ctx, false)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return products, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.LoanProduct, error) {
	product, err := s.repos.Products.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, func() *customError.BusinessError {
			return customError.WrapProductNotFound(id.String())
		})
	}
	return product, nil
}
