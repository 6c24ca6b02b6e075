package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/events"
	"github.com/segyhp/lending-engine/internal/metrics"
	"github.com/segyhp/lending-engine/internal/repository"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ApplicationService drives a loan application from creation to review.
// Approval and disbursement live in ApprovalService.
type ApplicationService struct {
	repos     repository.Repositories
	txm       repository.TxManager
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewApplicationService(
	repos repository.Repositories,
	txm repository.TxManager,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ApplicationService {
	return &ApplicationService{
		repos:     repos,
		txm:       txm,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Create opens a pending application against an active product.
func (s *ApplicationService) Create(ctx context.Context, actor domain.Actor, req domain.CreateApplicationRequest) (*domain.LoanApplication, error) {
	if actor.UserID == "" {
		return nil, customError.WrapInvalidRequest("user id is required", nil)
	}

	product, err := s.repos.Products.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, storeError(err, func() *customError.BusinessError {
			return customError.WrapProductNotFound(req.ProductID.String())
		})
	}
	if !product.IsActive {
		return nil, customError.WrapInvalidRequest("loan product is not offered", customError.ErrProductNotFound)
	}

	app := domain.NewLoanApplication(actor.UserID, req, s.now())
	err = s.txm.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return repos.Applications.Create(ctx, app)
	})
	if err != nil {
		return nil, storeError(err, nil)
	}

	s.countTransition(domain.ApplicationPending)
	s.logger.Info("Loan application created",
		zap.String("application_id", app.ID.String()),
		zap.String("user_id", app.UserID),
		zap.String("amount", app.RequestedAmount.String()),
	)
	return app, nil
}

// Get returns an application the actor may see.
func (s *ApplicationService) Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.LoanApplication, error) {
	app, err := s.load(ctx, s.repos, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(app.UserID) {
		return nil, customError.WrapNotOwner("loan application")
	}
	return app, nil
}

// ListByOwner lists the actor's applications, newest first. Administrators
// may list another user's applications through filter.UserID.
func (s *ApplicationService) ListByOwner(ctx context.Context, actor domain.Actor, filter domain.ListApplicationsFilter) ([]*domain.LoanApplication, error) {
	if !actor.Admin || filter.UserID == "" {
		filter.UserID = actor.UserID
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, customError.WrapInvalidRequest("unknown application status "+string(filter.Status), nil)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	apps, err := s.repos.Applications.List(ctx, filter)
	if err != nil {
		return nil, storeError(err, nil)
	}
	return apps, nil
}

// Update edits the owner's pending application.
func (s *ApplicationService) Update(ctx context.Context, actor domain.Actor, id uuid.UUID, req domain.UpdateApplicationRequest) (*domain.LoanApplication, error) {
	var updated *domain.LoanApplication
	err := s.txm.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		app, err := s.load(ctx, repos, id)
		if err != nil {
			return err
		}
		if err := app.EnsureEditable(actor.UserID); err != nil {
			return err
		}
		app.ApplyUpdate(req, s.now())
		if err := repos.Applications.Update(ctx, app); err != nil {
			return applicationUpdateError(err, id)
		}
		updated = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Submit hands the owner's pending application over for review.
func (s *ApplicationService) Submit(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.LoanApplication, error) {
	return s.transition(ctx, id, func(app *domain.LoanApplication, now time.Time) (domain.StatusHistoryEntry, error) {
		if !app.IsOwnedBy(actor.UserID) {
			return domain.StatusHistoryEntry{}, customError.WrapNotOwner("loan application")
		}
		return app.Transition(domain.ApplicationSubmitted, "submitted by borrower", now)
	})
}

// Cancel withdraws the owner's pending application.
func (s *ApplicationService) Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.LoanApplication, error) {
	return s.transition(ctx, id, func(app *domain.LoanApplication, now time.Time) (domain.StatusHistoryEntry, error) {
		if !actor.CanAccess(app.UserID) {
			return domain.StatusHistoryEntry{}, customError.WrapNotOwner("loan application")
		}
		return app.Transition(domain.ApplicationCancelled, "cancelled", now)
	})
}

// Delete removes the owner's pending application and its history.
func (s *ApplicationService) Delete(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	return s.txm.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		app, err := s.load(ctx, repos, id)
		if err != nil {
			return err
		}
		if err := app.EnsureEditable(actor.UserID); err != nil {
			return err
		}
		if err := repos.Applications.Delete(ctx, id); err != nil {
			return storeError(err, func() *customError.BusinessError {
				return customError.WrapApplicationNotFound(id.String())
			})
		}
		s.logger.Info("Loan application deleted", zap.String("application_id", id.String()))
		return nil
	})
}

// StartReview moves a submitted application into review.
func (s *ApplicationService) StartReview(ctx context.Context, id uuid.UUID, req domain.ReviewApplicationRequest) (*domain.LoanApplication, error) {
	return s.transition(ctx, id, func(app *domain.LoanApplication, now time.Time) (domain.StatusHistoryEntry, error) {
		if err := app.CheckVersion(req.Version); err != nil {
			return domain.StatusHistoryEntry{}, err
		}
		return app.Transition(domain.ApplicationReviewing, req.Note, now)
	})
}

// Reject closes an application that has not been approved yet.
func (s *ApplicationService) Reject(ctx context.Context, id uuid.UUID, req domain.RejectApplicationRequest) (*domain.LoanApplication, error) {
	if req.Reason == "" {
		return nil, customError.WrapInvalidRequest("rejection reason is required", nil)
	}

	app, err := s.transition(ctx, id, func(app *domain.LoanApplication, now time.Time) (domain.StatusHistoryEntry, error) {
		if err := app.CheckVersion(req.Version); err != nil {
			return domain.StatusHistoryEntry{}, err
		}
		return app.Reject(req.Reason, now)
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, s.logger, events.NewEvent(events.ApplicationRejected, app.ID.String(), map[string]string{
		"application_number": app.ApplicationNumber,
		"reason":             app.RejectionReason,
	}, s.now()))
	return app, nil
}

// transition loads the application, lets change move it and stores the
// new status together with its history entry.
func (s *ApplicationService) transition(
	ctx context.Context,
	id uuid.UUID,
	change func(app *domain.LoanApplication, now time.Time) (domain.StatusHistoryEntry, error),
) (*domain.LoanApplication, error) {
	var updated *domain.LoanApplication
	err := s.txm.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		app, err := s.load(ctx, repos, id)
		if err != nil {
			return err
		}
		entry, err := change(app, s.now())
		if err != nil {
			return err
		}
		if err := repos.Applications.Update(ctx, app); err != nil {
			return applicationUpdateError(err, id)
		}
		if err := repos.Applications.AppendHistory(ctx, entry); err != nil {
			return storeError(err, nil)
		}
		updated = app
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.countTransition(updated.Status)
	s.logger.Info("Loan application status changed",
		zap.String("application_id", id.String()),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

func (s *ApplicationService) load(ctx context.Context, repos repository.Repositories, id uuid.UUID) (*domain.LoanApplication, error) {
	app, err := repos.Applications.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, func() *customError.BusinessError {
			return customError.WrapApplicationNotFound(id.String())
		})
	}
	return app, nil
}

func (s *ApplicationService) countTransition(status domain.ApplicationStatus) {
	if s.metrics != nil {
		s.metrics.ApplicationTransitions.WithLabelValues(string(status)).Inc()
	}
}
