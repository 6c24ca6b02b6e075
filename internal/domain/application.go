package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/segyhp/lending-engine/pkg/errors"
)

// ApplicationStatus is the lifecycle state of a loan application.
type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationSubmitted ApplicationStatus = "submitted"
	ApplicationReviewing ApplicationStatus = "reviewing"
	ApplicationApproved  ApplicationStatus = "approved"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationActive    ApplicationStatus = "active"
	ApplicationCompleted ApplicationStatus = "completed"
	ApplicationCancelled ApplicationStatus = "cancelled"
)

var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	ApplicationPending:   {ApplicationSubmitted, ApplicationApproved, ApplicationRejected, ApplicationCancelled},
	ApplicationSubmitted: {ApplicationReviewing, ApplicationApproved, ApplicationRejected},
	ApplicationReviewing: {ApplicationApproved, ApplicationRejected},
	ApplicationApproved:  {ApplicationActive},
	ApplicationActive:    {ApplicationCompleted},
}

// CanTransitionTo reports whether s may move to next.
func (s ApplicationStatus) CanTransitionTo(next ApplicationStatus) bool {
	for _, allowed := range applicationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s ApplicationStatus) IsTerminal() bool {
	return len(applicationTransitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationPending, ApplicationSubmitted, ApplicationReviewing, ApplicationApproved,
		ApplicationRejected, ApplicationActive, ApplicationCompleted, ApplicationCancelled:
		return true
	}
	return false
}

// StatusHistoryEntry is one append-only record in an application's history.
type StatusHistoryEntry struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	ApplicationID uuid.UUID         `json:"application_id" db:"application_id"`
	Status        ApplicationStatus `json:"status" db:"status"`
	Note          string            `json:"note" db:"note"`
	CreatedAt     time.Time         `json:"timestamp" db:"created_at"`
}

// LoanApplication is a borrower's request for a secured loan.
type LoanApplication struct {
	ID                uuid.UUID           `json:"id" db:"id"`
	ApplicationNumber string              `json:"application_number" db:"application_number"`
	UserID            string              `json:"user_id" db:"user_id"`
	ProductID         uuid.UUID           `json:"product_id" db:"product_id"`
	RequestedAmount   decimal.Decimal     `json:"requested_amount" db:"requested_amount"`
	RequestedPeriod   int                 `json:"requested_period" db:"requested_period"`
	RequestedRate     decimal.Decimal     `json:"requested_rate" db:"requested_rate"`
	Purpose           string              `json:"purpose" db:"purpose"`
	CollateralType    string              `json:"collateral_type" db:"collateral_type"`
	CollateralValue   decimal.Decimal     `json:"collateral_value" db:"collateral_value"`
	CollateralAddress string              `json:"collateral_address" db:"collateral_address"`
	ApprovedAmount    decimal.NullDecimal `json:"approved_amount" db:"approved_amount"`
	ApprovedRate      decimal.NullDecimal `json:"approved_rate" db:"approved_rate"`
	ApprovedPeriod    *int                `json:"approved_period" db:"approved_period"`
	Status            ApplicationStatus   `json:"status" db:"status"`
	RejectionReason   string              `json:"rejection_reason,omitempty" db:"rejection_reason"`
	SubmittedAt       *time.Time          `json:"submitted_at,omitempty" db:"submitted_at"`
	ApprovedAt        *time.Time          `json:"approved_at,omitempty" db:"approved_at"`
	RejectedAt        *time.Time          `json:"rejected_at,omitempty" db:"rejected_at"`
	DisbursedAt       *time.Time          `json:"disbursed_at,omitempty" db:"disbursed_at"`
	LoanAccountID     *uuid.UUID          `json:"loan_account_id,omitempty" db:"loan_account_id"`
	Version           int                 `json:"version" db:"version"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" db:"updated_at"`

	History []StatusHistoryEntry `json:"status_history,omitempty" db:"-"`
}

// ApprovalTerms are the figures an administrator approves a loan on.
type ApprovalTerms struct {
	Amount decimal.Decimal
	Rate   decimal.Decimal
	Period int
}

// NewLoanApplication builds a pending application from a borrower request.
func NewLoanApplication(userID string, req CreateApplicationRequest, now time.Time) *LoanApplication {
	app := &LoanApplication{
		ID:                uuid.New(),
		ApplicationNumber: NewApplicationNumber(now),
		UserID:            userID,
		ProductID:         req.ProductID,
		RequestedAmount:   req.RequestedAmount,
		RequestedPeriod:   req.RequestedPeriod,
		RequestedRate:     req.RequestedRate,
		Purpose:           req.Purpose,
		CollateralType:    req.CollateralType,
		CollateralValue:   req.CollateralValue,
		CollateralAddress: req.CollateralAddress,
		Status:            ApplicationPending,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	app.History = []StatusHistoryEntry{app.historyEntry(ApplicationPending, "application created", now)}
	return app
}

// NewApplicationNumber returns a human readable unique application number.
func NewApplicationNumber(now time.Time) string {
	return fmt.Sprintf("LA%s%s", now.Format("20060102"), uuid.NewString()[:8])
}

// IsOwnedBy reports whether userID owns the application.
func (a *LoanApplication) IsOwnedBy(userID string) bool {
	return a.UserID == userID
}

// EnsureEditable allows borrower edits only on their own pending application.
func (a *LoanApplication) EnsureEditable(userID string) error {
	if !a.IsOwnedBy(userID) {
		return errors.WrapNotOwner("loan application")
	}
	if a.Status != ApplicationPending {
		return errors.WrapInvalidTransition("application", string(a.Status), "edited")
	}
	return nil
}

// ApplyUpdate copies the non-nil fields of req onto a pending application.
func (a *LoanApplication) ApplyUpdate(req UpdateApplicationRequest, now time.Time) {
	if req.RequestedAmount != nil {
		a.RequestedAmount = *req.RequestedAmount
	}
	if req.RequestedPeriod != nil {
		a.RequestedPeriod = *req.RequestedPeriod
	}
	if req.RequestedRate != nil {
		a.RequestedRate = *req.RequestedRate
	}
	if req.Purpose != nil {
		a.Purpose = *req.Purpose
	}
	if req.CollateralType != nil {
		a.CollateralType = *req.CollateralType
	}
	if req.CollateralValue != nil {
		a.CollateralValue = *req.CollateralValue
	}
	if req.CollateralAddress != nil {
		a.CollateralAddress = *req.CollateralAddress
	}
	a.UpdatedAt = now
}

// Transition moves the application to next and returns the history entry
// recording it. Timestamps belonging to next are stamped here.
func (a *LoanApplication) Transition(next ApplicationStatus, note string, now time.Time) (StatusHistoryEntry, error) {
	if !a.Status.CanTransitionTo(next) {
		return StatusHistoryEntry{}, errors.WrapInvalidTransition("application", string(a.Status), string(next))
	}

	switch next {
	case ApplicationSubmitted:
		a.SubmittedAt = &now
	case ApplicationApproved:
		a.ApprovedAt = &now
	case ApplicationRejected:
		a.RejectedAt = &now
	case ApplicationActive:
		a.DisbursedAt = &now
	}

	a.Status = next
	a.UpdatedAt = now
	entry := a.historyEntry(next, note, now)
	a.History = append(a.History, entry)
	return entry, nil
}

// Approve records the approved terms and moves the application to approved.
func (a *LoanApplication) Approve(terms ApprovalTerms, accountID uuid.UUID, note string, now time.Time) (StatusHistoryEntry, error) {
	entry, err := a.Transition(ApplicationApproved, note, now)
	if err != nil {
		return entry, err
	}
	period := terms.Period
	a.ApprovedAmount = decimal.NewNullDecimal(terms.Amount)
	a.ApprovedRate = decimal.NewNullDecimal(terms.Rate)
	a.ApprovedPeriod = &period
	a.LoanAccountID = &accountID
	return entry, nil
}

// Reject moves the application to rejected with reason.
func (a *LoanApplication) Reject(reason string, now time.Time) (StatusHistoryEntry, error) {
	entry, err := a.Transition(ApplicationRejected, reason, now)
	if err != nil {
		return entry, err
	}
	a.RejectionReason = reason
	return entry, nil
}

// ResolveTerms fills omitted approval figures from the requested ones.
func (a *LoanApplication) ResolveTerms(req ApproveApplicationRequest) ApprovalTerms {
	terms := ApprovalTerms{
		Amount: a.RequestedAmount,
		Rate:   a.RequestedRate,
		Period: a.RequestedPeriod,
	}
	if req.ApprovedAmount != nil {
		terms.Amount = *req.ApprovedAmount
	}
	if req.ApprovedRate != nil {
		terms.Rate = *req.ApprovedRate
	}
	if req.ApprovedPeriod != nil {
		terms.Period = *req.ApprovedPeriod
	}
	return terms
}

// CheckVersion rejects a caller that acted on an older copy of the application.
func (a *LoanApplication) CheckVersion(expected *int) error {
	if expected != nil && *expected != a.Version {
		return errors.WrapStaleApplication(a.ID.String())
	}
	return nil
}

func (a *LoanApplication) historyEntry(status ApplicationStatus, note string, now time.Time) StatusHistoryEntry {
	return StatusHistoryEntry{
		ID:            uuid.New(),
		ApplicationID: a.ID,
		Status:        status,
		Note:          note,
		CreatedAt:     now,
	}
}
