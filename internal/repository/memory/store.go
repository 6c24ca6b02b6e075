// Package memory provides in-process repositories with serialized units of
// work. It backs service tests and local runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/repository"
)

type state struct {
	products     map[uuid.UUID]domain.LoanProduct
	applications map[uuid.UUID]domain.LoanApplication
	history      map[uuid.UUID][]domain.StatusHistoryEntry
	accounts     map[uuid.UUID]domain.LoanAccount
	schedules    map[uuid.UUID][]domain.LoanRepaymentSchedule
	transactions []domain.LoanRepaymentTransaction
}

func newState() *state {
	return &state{
		products:     make(map[uuid.UUID]domain.LoanProduct),
		applications: make(map[uuid.UUID]domain.LoanApplication),
		history:      make(map[uuid.UUID][]domain.StatusHistoryEntry),
		accounts:     make(map[uuid.UUID]domain.LoanAccount),
		schedules:    make(map[uuid.UUID][]domain.LoanRepaymentSchedule),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.applications {
		c.applications[k] = v
	}
	for k, v := range s.history {
		c.history[k] = append([]domain.StatusHistoryEntry(nil), v...)
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.schedules {
		c.schedules[k] = append([]domain.LoanRepaymentSchedule(nil), v...)
	}
	c.transactions = append([]domain.LoanRepaymentTransaction(nil), s.transactions...)
	return c
}

// Store holds every record in memory. Units of work run one at a time on a
// private copy that replaces the committed state only when they succeed.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state

	failMu   sync.Mutex
	failures map[string]error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newState(), failures: make(map[string]error)}
}

// FailOn makes every later call of op (for example "schedules.CreateBatch")
// return err. A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failures[op]
}

// AddProduct seeds catalog data.
func (s *Store) AddProduct(p domain.LoanProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[p.ID] = p
}

// Repositories returns repositories that read and write committed state directly.
func (s *Store) Repositories() repository.Repositories {
	return s.bind(nil)
}

// WithinTx implements repository.TxManager.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, s.bind(work)); err != nil {
		return err
	}
	if err := s.fail("tx.Commit"); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *Store) bind(tx *state) repository.Repositories {
	v := &view{store: s, tx: tx}
	return repository.Repositories{
		Products:     &productRepo{v},
		Applications: &applicationRepo{v},
		Accounts:     &accountRepo{v},
		Schedules:    &scheduleRepo{v},
		Transactions: &transactionRepo{v},
	}
}

// view runs reads and writes against a unit of work's copy, or against the
// committed state when tx is nil.
type view struct {
	store *Store
	tx    *state
}

func (v *view) read(op string, fn func(st *state) error) error {
	if err := v.store.fail(op); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return fn(v.store.data)
}

func (v *view) write(op string, fn func(st *state) error) error {
	if err := v.store.fail(op); err != nil {
		return err
	}
	if v.tx != nil {
		return fn(v.tx)
	}
	// direct writes queue behind running units of work so a commit cannot drop them
	v.store.txMu.Lock()
	defer v.store.txMu.Unlock()
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.data)
}

type productRepo struct{ v *view }

func (r *productRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LoanProduct, error) {
	var out *domain.LoanProduct
	err := r.v.read("products.GetByID", func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *productRepo) List(ctx context.Context, includeInactive bool) ([]*domain.LoanProduct, error) {
	var out []*domain.LoanProduct
	err := r.v.read("products.List", func(st *state) error {
		for _, p := range st.products {
			if p.IsActive || includeInactive {
				p := p
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

type applicationRepo struct{ v *view }

func (r *applicationRepo) Create(ctx context.Context, app *domain.LoanApplication) error {
	return r.v.write("applications.Create", func(st *state) error {
		stored := *app
		stored.History = nil
		st.applications[app.ID] = stored
		st.history[app.ID] = append([]domain.StatusHistoryEntry(nil), app.History...)
		return nil
	})
}

func (r *applicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LoanApplication, error) {
	var out *domain.LoanApplication
	err := r.v.read("applications.GetByID", func(st *state) error {
		app, ok := st.applications[id]
		if !ok {
			return repository.ErrNotFound
		}
		app.History = append([]domain.StatusHistoryEntry(nil), st.history[id]...)
		out = &app
		return nil
	})
	return out, err
}

func (r *applicationRepo) List(ctx context.Context, filter domain.ListApplicationsFilter) ([]*domain.LoanApplication, error) {
	var out []*domain.LoanApplication
	err := r.v.read("applications.List", func(st *state) error {
		for _, app := range st.applications {
			if filter.UserID != "" && app.UserID != filter.UserID {
				continue
			}
			if filter.Status != "" && app.Status != filter.Status {
				continue
			}
			app := app
			out = append(out, &app)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *applicationRepo) Update(ctx context.Context, app *domain.LoanApplication) error {
	return r.v.write("applications.Update", func(st *state) error {
		current, ok := st.applications[app.ID]
		if !ok || current.Version != app.Version {
			return repository.ErrStaleVersion
		}
		stored := *app
		stored.History = nil
		stored.Version++
		st.applications[app.ID] = stored
		app.Version++
		return nil
	})
}

func (r *applicationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.v.write("applications.Delete", func(st *state) error {
		app, ok := st.applications[id]
		if !ok || app.Status != domain.ApplicationPending {
			return repository.ErrNotFound
		}
		delete(st.applications, id)
		delete(st.history, id)
		return nil
	})
}

func (r *applicationRepo) AppendHistory(ctx context.Context, entry domain.StatusHistoryEntry) error {
	return r.v.write("applications.AppendHistory", func(st *state) error {
		st.history[entry.ApplicationID] = append(st.history[entry.ApplicationID], entry)
		return nil
	})
}

type accountRepo struct{ v *view }

func (r *accountRepo) Create(ctx context.Context, account *domain.LoanAccount) error {
	return r.v.write("accounts.Create", func(st *state) error {
		st.accounts[account.ID] = *account
		return nil
	})
}

func (r *accountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.LoanAccount, error) {
	return r.get("accounts.GetByID", id)
}

// GetByIDForUpdate needs no row lock: units of work already run one at a time.
func (r *accountRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.LoanAccount, error) {
	return r.get("accounts.GetByIDForUpdate", id)
}

func (r *accountRepo) get(op string, id uuid.UUID) (*domain.LoanAccount, error) {
	var out *domain.LoanAccount
	err := r.v.read(op, func(st *state) error {
		account, ok := st.accounts[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &account
		return nil
	})
	return out, err
}

func (r *accountRepo) Update(ctx context.Context, account *domain.LoanAccount) error {
	return r.v.write("accounts.Update", func(st *state) error {
		current, ok := st.accounts[account.ID]
		if !ok || current.Version != account.Version {
			return repository.ErrStaleVersion
		}
		stored := *account
		stored.Version++
		st.accounts[account.ID] = stored
		account.Version++
		return nil
	})
}

func (r *accountRepo) ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.LoanAccount, error) {
	var out []*domain.LoanAccount
	err := r.v.read("accounts.ListByStatus", func(st *state) error {
		for _, account := range st.accounts {
			if account.Status == status {
				account := account
				out = append(out, &account)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

type scheduleRepo struct{ v *view }

func (r *scheduleRepo) CreateBatch(ctx context.Context, rows []*domain.LoanRepaymentSchedule) error {
	return r.v.write("schedules.CreateBatch", func(st *state) error {
		for _, row := range rows {
			st.schedules[row.LoanAccountID] = append(st.schedules[row.LoanAccountID], *row)
		}
		return nil
	})
}

func (r *scheduleRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.LoanRepaymentSchedule, error) {
	var out []*domain.LoanRepaymentSchedule
	err := r.v.read("schedules.ListByAccount", func(st *state) error {
		for _, row := range st.schedules[accountID] {
			row := row
			out = append(out, &row)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].InstallmentNumber < out[j].InstallmentNumber })
	return out, err
}

func (r *scheduleRepo) Update(ctx context.Context, row *domain.LoanRepaymentSchedule) error {
	return r.v.write("schedules.Update", func(st *state) error {
		rows := st.schedules[row.LoanAccountID]
		for i := range rows {
			if rows[i].ID == row.ID {
				rows[i] = *row
				return nil
			}
		}
		return repository.ErrNotFound
	})
}

func (r *scheduleRepo) ListDueBefore(ctx context.Context, asOf time.Time) ([]*domain.LoanRepaymentSchedule, error) {
	var out []*domain.LoanRepaymentSchedule
	err := r.v.read("schedules.ListDueBefore", func(st *state) error {
		for accountID, rows := range st.schedules {
			if st.accounts[accountID].Status != domain.AccountActive {
				continue
			}
			for _, row := range rows {
				if row.IsSettled() || !row.ScheduledDate.Before(asOf) {
					continue
				}
				row := row
				out = append(out, &row)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].LoanAccountID != out[j].LoanAccountID {
			return out[i].LoanAccountID.String() < out[j].LoanAccountID.String()
		}
		return out[i].InstallmentNumber < out[j].InstallmentNumber
	})
	return out, err
}

type transactionRepo struct{ v *view }

func (r *transactionRepo) Insert(ctx context.Context, tx *domain.LoanRepaymentTransaction) (bool, error) {
	inserted := false
	err := r.v.write("transactions.Insert", func(st *state) error {
		for _, existing := range st.transactions {
			if sameReference(existing, tx.PaymentKey, tx.OrderID) {
				return nil
			}
		}
		st.transactions = append(st.transactions, *tx)
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *transactionRepo) FindByReference(ctx context.Context, paymentKey, orderID string) (*domain.LoanRepaymentTransaction, error) {
	var out *domain.LoanRepaymentTransaction
	err := r.v.read("transactions.FindByReference", func(st *state) error {
		for _, existing := range st.transactions {
			if sameReference(existing, paymentKey, orderID) {
				existing := existing
				out = &existing
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r *transactionRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*domain.LoanRepaymentTransaction, error) {
	var out []*domain.LoanRepaymentTransaction
	err := r.v.read("transactions.ListByAccount", func(st *state) error {
		for _, existing := range st.transactions {
			if existing.LoanAccountID == accountID {
				existing := existing
				out = append(out, &existing)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaymentDate.After(out[j].PaymentDate) })
	return out, err
}

func sameReference(tx domain.LoanRepaymentTransaction, paymentKey, orderID string) bool {
	return (paymentKey != "" && tx.PaymentKey == paymentKey) || (orderID != "" && tx.OrderID == orderID)
}
