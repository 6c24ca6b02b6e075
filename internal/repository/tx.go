package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// NewRepositories binds every repository to db, which may be a *sqlx.DB or a *sqlx.Tx.
func NewRepositories(db sqlx.ExtContext) Repositories {
	return Repositories{
		Products:     NewProductRepository(db),
		Applications: NewApplicationRepository(db),
		Accounts:     NewAccountRepository(db),
		Schedules:    NewScheduleRepository(db),
		Transactions: NewTransactionRepository(db),
	}
}

type sqlTxManager struct {
	db *sqlx.DB
}

// NewTxManager returns a TxManager backed by database transactions on db.
func NewTxManager(db *sqlx.DB) TxManager {
	return &sqlTxManager{db: db}
}

func (m *sqlTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, NewRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
