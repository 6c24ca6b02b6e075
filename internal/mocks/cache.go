package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/segyhp/lending-engine/internal/domain"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetAccount(ctx context.Context, id uuid.UUID) (*domain.LoanAccount, bool) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*domain.LoanAccount), args.Bool(1)
}

func (m *MockCache) SetAccount(ctx context.Context, account *domain.LoanAccount) {
	m.Called(ctx, account)
}

func (m *MockCache) InvalidateAccount(ctx context.Context, id uuid.UUID) {
	m.Called(ctx, id)
}

func (m *MockCache) AcquireSettlement(ctx context.Context, orderID string) (string, bool, error) {
	args := m.Called(ctx, orderID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockCache) ReleaseSettlement(ctx context.Context, orderID, token string) {
	m.Called(ctx, orderID, token)
}
