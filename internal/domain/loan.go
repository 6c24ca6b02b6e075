package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/segyhp/lending-engine/internal/amortization"
	"github.com/segyhp/lending-engine/pkg/errors"
)

// AccountStatus is the lifecycle state of a loan account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountClosed    AccountStatus = "closed"
	AccountDefaulted AccountStatus = "defaulted"
)

var accountTransitions = map[AccountStatus][]AccountStatus{
	AccountActive:    {AccountSuspended, AccountClosed, AccountDefaulted},
	AccountSuspended: {AccountActive, AccountDefaulted},
}

// CanTransitionTo reports whether s may move to next.
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	for _, allowed := range accountTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// LoanAccount is the running ledger of a disbursed loan. PrincipalBalance
// and TotalInterestAccrued are authoritative; the schedule is bookkeeping.
type LoanAccount struct {
	ID                   uuid.UUID           `json:"id" db:"id"`
	AccountNumber        string              `json:"account_number" db:"account_number"`
	UserID               string              `json:"user_id" db:"user_id"`
	ApplicationID        *uuid.UUID          `json:"application_id,omitempty" db:"application_id"`
	PrincipalAmount      decimal.Decimal     `json:"principal_amount" db:"principal_amount"`
	InterestRate         decimal.Decimal     `json:"interest_rate" db:"interest_rate"`
	LoanPeriod           int                 `json:"loan_period" db:"loan_period"`
	RepaymentMethod      amortization.Method `json:"repayment_method" db:"repayment_method"`
	PrincipalBalance     decimal.Decimal     `json:"principal_balance" db:"principal_balance"`
	TotalInterestAccrued decimal.Decimal     `json:"total_interest_accrued" db:"total_interest_accrued"`
	TotalPaid            decimal.Decimal     `json:"total_paid" db:"total_paid"`
	RemainingPeriod      int                 `json:"remaining_period" db:"remaining_period"`
	NextPaymentAmount    decimal.Decimal     `json:"next_payment_amount" db:"next_payment_amount"`
	NextPaymentDate      *time.Time          `json:"next_payment_date,omitempty" db:"next_payment_date"`
	Status               AccountStatus       `json:"status" db:"status"`
	OverdueAmount        decimal.Decimal     `json:"overdue_amount" db:"overdue_amount"`
	OverdueDays          int                 `json:"overdue_days" db:"overdue_days"`
	StartDate            time.Time           `json:"start_date" db:"start_date"`
	TargetEndDate        time.Time           `json:"target_end_date" db:"target_end_date"`
	ClosedAt             *time.Time          `json:"closed_at,omitempty" db:"closed_at"`
	Version              int                 `json:"version" db:"version"`
	CreatedAt            time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}

// Allocation is the interest-first split of one applied payment.
type Allocation struct {
	Amount           decimal.Decimal
	InterestApplied  decimal.Decimal
	PrincipalApplied decimal.Decimal
	InterestAccrued  decimal.Decimal
	Closed           bool
}

// NewLoanAccount opens an account for approved terms. The first period's
// interest is accrued up front and the first payment falls firstPaymentOffsetDays
// after now.
func NewLoanAccount(app *LoanApplication, terms ApprovalTerms, method amortization.Method, now time.Time, firstPaymentOffsetDays int) *LoanAccount {
	appID := app.ID
	nextPayment := now.AddDate(0, 0, firstPaymentOffsetDays)
	return &LoanAccount{
		ID:                   uuid.New(),
		AccountNumber:        NewAccountNumber(now),
		UserID:               app.UserID,
		ApplicationID:        &appID,
		PrincipalAmount:      terms.Amount,
		InterestRate:         terms.Rate,
		LoanPeriod:           terms.Period,
		RepaymentMethod:      method,
		PrincipalBalance:     terms.Amount,
		TotalInterestAccrued: amortization.MonthlyInterest(terms.Amount, terms.Rate),
		TotalPaid:            decimal.Zero,
		RemainingPeriod:      terms.Period,
		NextPaymentAmount:    decimal.Zero,
		NextPaymentDate:      &nextPayment,
		Status:               AccountActive,
		OverdueAmount:        decimal.Zero,
		StartDate:            now,
		TargetEndDate:        now.AddDate(0, terms.Period, 0),
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// NewAccountNumber returns a human readable unique account number.
func NewAccountNumber(now time.Time) string {
	return fmt.Sprintf("LN%s%s", now.Format("20060102"), uuid.NewString()[:8])
}

// Outstanding is principal plus unpaid accrued interest.
func (a *LoanAccount) Outstanding() decimal.Decimal {
	return a.PrincipalBalance.Add(a.TotalInterestAccrued)
}

// IsOwnedBy reports whether userID owns the account.
func (a *LoanAccount) IsOwnedBy(userID string) bool {
	return a.UserID == userID
}

// CheckRepayable validates a payment of amount by owner before any money moves.
// An empty owner skips the ownership check.
func (a *LoanAccount) CheckRepayable(amount decimal.Decimal, owner string) error {
	if !amount.IsPositive() {
		return errors.WrapInvalidPaymentAmount(amount.String())
	}
	if a.Status != AccountActive {
		return errors.WrapAccountNotActive(a.ID.String(), string(a.Status))
	}
	if owner != "" && !a.IsOwnedBy(owner) {
		return errors.WrapNotOwner("loan account")
	}
	if amount.GreaterThan(a.Outstanding()) {
		return errors.WrapPaymentExceedsDebt(amount.String(), a.Outstanding().String())
	}
	return nil
}

// ApplyPayment allocates amount interest first, accrues the next period's
// interest on any principal left and closes the account once nothing is owed.
func (a *LoanAccount) ApplyPayment(amount decimal.Decimal, owner string, now time.Time) (Allocation, error) {
	if err := a.CheckRepayable(amount, owner); err != nil {
		return Allocation{}, err
	}

	interestApplied := decimal.Min(a.TotalInterestAccrued, amount)
	principalApplied := amount.Sub(interestApplied)

	a.PrincipalBalance = decimal.Max(decimal.Zero, a.PrincipalBalance.Sub(principalApplied))
	a.TotalInterestAccrued = decimal.Max(decimal.Zero, a.TotalInterestAccrued.Sub(interestApplied))
	a.TotalPaid = a.TotalPaid.Add(amount)
	if a.RemainingPeriod > 0 {
		a.RemainingPeriod--
	}

	accrued := decimal.Zero
	if a.PrincipalBalance.IsPositive() {
		accrued = amortization.MonthlyInterest(a.PrincipalBalance, a.InterestRate)
		a.TotalInterestAccrued = a.TotalInterestAccrued.Add(accrued)
	}

	alloc := Allocation{
		Amount:           amount,
		InterestApplied:  interestApplied,
		PrincipalApplied: principalApplied,
		InterestAccrued:  accrued,
	}

	switch {
	case a.PrincipalBalance.IsZero() && a.TotalInterestAccrued.IsZero():
		a.Status = AccountClosed
		a.ClosedAt = &now
		a.NextPaymentAmount = decimal.Zero
		a.NextPaymentDate = nil
		alloc.Closed = true
	case a.PrincipalBalance.IsZero():
		a.NextPaymentAmount = a.TotalInterestAccrued
	case a.RemainingPeriod == 0:
		a.NextPaymentAmount = a.Outstanding()
	default:
		// the schedule ceils period interest while the ledger accrues it rounded
		a.NextPaymentAmount = decimal.Min(
			amortization.NextPayment(a.PrincipalBalance, a.InterestRate, a.RemainingPeriod, a.RepaymentMethod),
			a.Outstanding(),
		)
	}

	if !alloc.Closed && a.NextPaymentDate != nil {
		next := a.NextPaymentDate.AddDate(0, 1, 0)
		a.NextPaymentDate = &next
	}
	a.UpdatedAt = now

	return alloc, nil
}

// RecordOverdue stores the delinquency figures computed by the overdue sweep.
func (a *LoanAccount) RecordOverdue(amount decimal.Decimal, days int, now time.Time) {
	a.OverdueAmount = amount
	a.OverdueDays = days
	a.UpdatedAt = now
}

// MarkDefaulted moves the account to the terminal defaulted state.
func (a *LoanAccount) MarkDefaulted(now time.Time) error {
	if !a.Status.CanTransitionTo(AccountDefaulted) {
		return errors.WrapInvalidTransition("account", string(a.Status), string(AccountDefaulted))
	}
	a.Status = AccountDefaulted
	a.UpdatedAt = now
	return nil
}
