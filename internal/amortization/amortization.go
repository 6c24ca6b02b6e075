// Package amortization computes repayment schedules for fixed-term loans.
//
// All amounts are expressed in the smallest currency unit. Period amounts are
// rounded up so rounding never under-collects, and the running remaining
// principal never drops below zero.
package amortization

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/lending-engine/pkg/utils"
)

// Method is a repayment method.
type Method string

const (
	EqualPrincipalInterest Method = "equal_principal_interest"
	EqualPrincipal         Method = "equal_principal"
	Bullet                 Method = "bullet"
)

// Valid reports whether m is a known repayment method.
func (m Method) Valid() bool {
	switch m {
	case EqualPrincipalInterest, EqualPrincipal, Bullet:
		return true
	}
	return false
}

// powPrecision bounds the scale of (1+r)^n while compounding.
const powPrecision = 24

// percentPerMonth turns an annual percentage into a monthly fraction.
var percentPerMonth = decimal.NewFromInt(1200)

// Period is one row of a computed schedule.
type Period struct {
	Month              int
	Date               time.Time
	PrincipalPayment   decimal.Decimal
	InterestPayment    decimal.Decimal
	TotalPayment       decimal.Decimal
	RemainingPrincipal decimal.Decimal
}

// MonthlyRate converts an annual percentage rate into the periodic rate r.
func MonthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.Div(percentPerMonth)
}

// MonthlyInterest is round(principal * rate / 12 / 100), the interest the
// ledger accrues for one period on a running balance.
func MonthlyInterest(principal, annualRatePercent decimal.Decimal) decimal.Decimal {
	return principal.Mul(annualRatePercent).Div(percentPerMonth).Round(0)
}

// periodInterest is the scheduled interest on balance, rounded up.
func periodInterest(balance, annualRatePercent decimal.Decimal) decimal.Decimal {
	return balance.Mul(annualRatePercent).Div(percentPerMonth).Ceil()
}

// AnnuityPayment is the constant per-period payment of an equal
// principal+interest loan, rounded up.
func AnnuityPayment(principal, annualRatePercent decimal.Decimal, termMonths int) decimal.Decimal {
	if termMonths <= 0 || !principal.IsPositive() {
		return decimal.Zero
	}
	r := MonthlyRate(annualRatePercent)
	if r.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(termMonths))).Ceil()
	}

	onePlusR := decimal.NewFromInt(1).Add(r)
	factor := decimal.NewFromInt(1)
	for i := 0; i < termMonths; i++ {
		factor = factor.Mul(onePlusR).Round(powPrecision)
	}

	return principal.Mul(r).Mul(factor).Div(factor.Sub(decimal.NewFromInt(1))).Ceil()
}

// Calculate returns exactly termMonths periods for the given loan terms.
// Period m is dated start + m months.
func Calculate(principal, annualRatePercent decimal.Decimal, termMonths int, method Method, start time.Time) ([]Period, error) {
	if termMonths <= 0 {
		return nil, fmt.Errorf("term must be positive, got %d", termMonths)
	}
	if principal.IsNegative() {
		return nil, fmt.Errorf("principal must not be negative, got %s", principal)
	}
	if annualRatePercent.IsNegative() {
		return nil, fmt.Errorf("rate must not be negative, got %s", annualRatePercent)
	}

	periods := make([]Period, 0, termMonths)
	remaining := principal

	var fixedPayment, fixedPrincipal decimal.Decimal
	switch method {
	case EqualPrincipalInterest:
		fixedPayment = AnnuityPayment(principal, annualRatePercent, termMonths)
	case EqualPrincipal:
		fixedPrincipal = principal.Div(decimal.NewFromInt(int64(termMonths))).Ceil()
	case Bullet:
	default:
		return nil, fmt.Errorf("unknown repayment method %q", method)
	}

	for month := 1; month <= termMonths; month++ {
		interest := periodInterest(remaining, annualRatePercent)
		last := month == termMonths

		var principalPart decimal.Decimal
		switch method {
		case EqualPrincipalInterest:
			principalPart = fixedPayment.Sub(interest)
		case EqualPrincipal:
			principalPart = fixedPrincipal
		case Bullet:
			interest = periodInterest(principal, annualRatePercent)
			principalPart = decimal.Zero
		}

		// the final period settles whatever principal is left
		if last || principalPart.GreaterThan(remaining) {
			principalPart = remaining
		}
		if principalPart.IsNegative() {
			principalPart = decimal.Zero
		}

		remaining = decimal.Max(decimal.Zero, remaining.Sub(principalPart))

		periods = append(periods, Period{
			Month:              month,
			Date:               utils.DueDate(start, month),
			PrincipalPayment:   principalPart,
			InterestPayment:    interest,
			TotalPayment:       principalPart.Add(interest),
			RemainingPrincipal: remaining,
		})
	}

	return periods, nil
}

// NextPayment returns the total due for the first period of a schedule over
// the given balance and remaining term.
func NextPayment(balance, annualRatePercent decimal.Decimal, remainingMonths int, method Method) decimal.Decimal {
	if !balance.IsPositive() {
		return decimal.Zero
	}
	if remainingMonths <= 0 {
		return balance.Add(periodInterest(balance, annualRatePercent))
	}
	periods, err := Calculate(balance, annualRatePercent, remainingMonths, method, time.Time{})
	if err != nil || len(periods) == 0 {
		return balance
	}
	return periods[0].TotalPayment
}
