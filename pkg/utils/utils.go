package utils

import (
	"time"

	"github.com/shopspring/decimal"
)

// DueDate returns the due date of installment n of a monthly schedule.
// Month-end overflow follows time.AddDate normalisation.
func DueDate(start time.Time, installment int) time.Time {
	return start.AddDate(0, installment, 0)
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween counts calendar days from from to to, never negative.
func DaysBetween(from, to time.Time) int {
	to = to.In(from.Location())
	days := int(StartOfDay(to).Sub(StartOfDay(from)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IsDateOverdue reports whether dueDate is on an earlier calendar day than asOf.
func IsDateOverdue(dueDate, asOf time.Time) bool {
	return DaysBetween(dueDate, asOf) > 0
}

// DecimalFromString converts string to decimal.Decimal
func DecimalFromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
