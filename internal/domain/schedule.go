package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/segyhp/lending-engine/internal/amortization"
	"github.com/segyhp/lending-engine/pkg/utils"
)

// ScheduleStatus is the payment state of one installment.
type ScheduleStatus string

const (
	ScheduleUnpaid  ScheduleStatus = "unpaid"
	SchedulePartial ScheduleStatus = "partial"
	SchedulePaid    ScheduleStatus = "paid"
	ScheduleOverdue ScheduleStatus = "overdue"
	ScheduleWaived  ScheduleStatus = "waived"
)

// scheduleTolerance absorbs the one unit a ceiled installment can exceed
// the rounded interest the ledger accrues.
var scheduleTolerance = decimal.NewFromInt(1)

// LoanRepaymentSchedule is one installment of a loan account.
type LoanRepaymentSchedule struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	LoanAccountID       uuid.UUID       `json:"loan_account_id" db:"loan_account_id"`
	InstallmentNumber   int             `json:"installment_number" db:"installment_number"`
	ScheduledDate       time.Time       `json:"scheduled_date" db:"scheduled_date"`
	PrincipalAmount     decimal.Decimal `json:"principal_amount" db:"principal_amount"`
	InterestAmount      decimal.Decimal `json:"interest_amount" db:"interest_amount"`
	TotalAmount         decimal.Decimal `json:"total_amount" db:"total_amount"`
	RemainingPrincipal  decimal.Decimal `json:"remaining_principal" db:"remaining_principal"`
	Status              ScheduleStatus  `json:"status" db:"status"`
	ActualPaymentDate   *time.Time      `json:"actual_payment_date,omitempty" db:"actual_payment_date"`
	ActualPaymentAmount decimal.Decimal `json:"actual_payment_amount" db:"actual_payment_amount"`
	DaysOverdue         int             `json:"days_overdue" db:"days_overdue"`
	LateFee             decimal.Decimal `json:"late_fee" db:"late_fee"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// NewRepaymentSchedule turns computed periods into unpaid schedule rows.
func NewRepaymentSchedule(accountID uuid.UUID, periods []amortization.Period, now time.Time) []*LoanRepaymentSchedule {
	rows := make([]*LoanRepaymentSchedule, 0, len(periods))
	for _, p := range periods {
		rows = append(rows, &LoanRepaymentSchedule{
			ID:                  uuid.New(),
			LoanAccountID:       accountID,
			InstallmentNumber:   p.Month,
			ScheduledDate:       p.Date,
			PrincipalAmount:     p.PrincipalPayment,
			InterestAmount:      p.InterestPayment,
			TotalAmount:         p.TotalPayment,
			RemainingPrincipal:  p.RemainingPrincipal,
			Status:              ScheduleUnpaid,
			ActualPaymentAmount: decimal.Zero,
			LateFee:             decimal.Zero,
			CreatedAt:           now,
			UpdatedAt:           now,
		})
	}
	return rows
}

// IsSettled reports whether the installment needs no further money.
func (s *LoanRepaymentSchedule) IsSettled() bool {
	return s.Status == SchedulePaid || s.Status == ScheduleWaived
}

// Outstanding is the part of the installment total not yet paid.
func (s *LoanRepaymentSchedule) Outstanding() decimal.Decimal {
	return decimal.Max(decimal.Zero, s.TotalAmount.Sub(s.ActualPaymentAmount))
}

// Apply credits up to budget to the installment and returns the amount used.
func (s *LoanRepaymentSchedule) Apply(budget decimal.Decimal, now time.Time) decimal.Decimal {
	if s.IsSettled() || !budget.IsPositive() {
		return decimal.Zero
	}

	used := decimal.Min(budget, s.Outstanding())
	s.ActualPaymentAmount = s.ActualPaymentAmount.Add(used)
	s.ActualPaymentDate = &now
	s.UpdatedAt = now

	switch {
	case s.Outstanding().LessThanOrEqual(scheduleTolerance):
		s.Status = SchedulePaid
		s.DaysOverdue = 0
	case s.Status != ScheduleOverdue:
		s.Status = SchedulePartial
	}
	return used
}

// MarkPaid settles the installment regardless of the amount received.
func (s *LoanRepaymentSchedule) MarkPaid(now time.Time) {
	if s.IsSettled() {
		return
	}
	s.Status = SchedulePaid
	s.DaysOverdue = 0
	s.ActualPaymentDate = &now
	s.UpdatedAt = now
}

// MarkOverdue flags an unsettled installment whose date has passed and
// recomputes its late fee. It reports whether the row changed.
func (s *LoanRepaymentSchedule) MarkOverdue(asOf time.Time, lateFeeDailyRate decimal.Decimal) bool {
	if s.IsSettled() || !utils.IsDateOverdue(s.ScheduledDate, asOf) {
		return false
	}

	days := utils.DaysBetween(s.ScheduledDate, asOf)
	fee := s.Outstanding().Mul(lateFeeDailyRate).Mul(decimal.NewFromInt(int64(days))).Ceil()
	if s.Status == ScheduleOverdue && s.DaysOverdue == days && s.LateFee.Equal(fee) {
		return false
	}

	s.Status = ScheduleOverdue
	s.DaysOverdue = days
	s.LateFee = fee
	s.UpdatedAt = asOf
	return true
}

// ReconcileSchedule walks installments in order and credits amount to the
// unsettled ones. When closed is true every remaining installment is settled.
// It returns the rows that changed.
func ReconcileSchedule(rows []*LoanRepaymentSchedule, amount decimal.Decimal, closed bool, now time.Time) []*LoanRepaymentSchedule {
	var changed []*LoanRepaymentSchedule
	budget := amount

	for _, row := range rows {
		if row.IsSettled() {
			continue
		}
		touched := false
		if used := row.Apply(budget, now); used.IsPositive() {
			budget = budget.Sub(used)
			touched = true
		}
		if closed && !row.IsSettled() {
			row.MarkPaid(now)
			touched = true
		}
		if touched {
			changed = append(changed, row)
		}
		if !budget.IsPositive() && !closed {
			break
		}
	}
	return changed
}

// OverdueSummary totals the unpaid part of overdue installments and returns
// the largest number of days any of them is late.
func OverdueSummary(rows []*LoanRepaymentSchedule) (decimal.Decimal, int) {
	amount := decimal.Zero
	days := 0
	for _, row := range rows {
		if row.Status != ScheduleOverdue {
			continue
		}
		amount = amount.Add(row.Outstanding())
		if row.DaysOverdue > days {
			days = row.DaysOverdue
		}
	}
	return amount, days
}
