package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/segyhp/lending-engine/internal/domain"
)

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) InitiateCollectionInstrument(ctx context.Context, req domain.InstrumentRequest) (*domain.Instrument, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Instrument), args.Error(1)
}

func (m *MockPaymentGateway) InitiateDisbursementInstrument(ctx context.Context, req domain.InstrumentRequest) (*domain.Instrument, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Instrument), args.Error(1)
}

func (m *MockPaymentGateway) ConfirmPayment(ctx context.Context, req domain.ConfirmRequest) (*domain.ConfirmResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConfirmResult), args.Error(1)
}

func (m *MockPaymentGateway) GetPaymentStatus(ctx context.Context, instrumentRef string) (*domain.PaymentStatus, error) {
	args := m.Called(ctx, instrumentRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentStatus), args.Error(1)
}
