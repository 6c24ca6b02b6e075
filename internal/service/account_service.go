package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/repository"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

// AccountService serves read access to loan accounts.
type AccountService struct {
	repos  repository.Repositories
	cache  AccountCache
	logger *zap.Logger
}

func NewAccountService(repos repository.Repositories, cache AccountCache, logger *zap.Logger) *AccountService {
	return &AccountService{
		repos:  repos,
		cache:  cache,
		logger: logger,
	}
}

// GetAccount returns the account, from cache when a snapshot exists.
func (s *AccountService) GetAccount(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.LoanAccount, error) {
	account, ok := s.cache.GetAccount(ctx, id)
	if !ok {
		var err error
		account, err = s.repos.Accounts.GetByID(ctx, id)
		if err != nil {
			return nil, storeError(err, func() *customError.BusinessError {
				return customError.WrapAccountNotFound(id.String())
			})
		}
		s.cache.SetAccount(ctx, account)
	}

	if !actor.CanAccess(account.UserID) {
		return nil, customError.WrapNotOwner("loan account")
	}
	return account, nil
}

// GetSchedule returns the account's installments in order.
func (s *AccountService) GetSchedule(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]*domain.LoanRepaymentSchedule, error) {
	if _, err := s.GetAccount(ctx, actor, id); err != nil {
		return nil, err
	}

	rows, err := s.repos.Schedules.ListByAccount(ctx, id)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return rows, nil
}

// ListTransactions returns the account's applied payments, newest first.
func (s *AccountService) ListTransactions(ctx context.Context, actor domain.Actor, id uuid.UUID) ([]*domain.LoanRepaymentTransaction, error) {
	if _, err := s.GetAccount(ctx, actor, id); err != nil {
		return nil, err
	}

	txs, err := s.repos.Transactions.ListByAccount(ctx, id)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return txs, nil
}
