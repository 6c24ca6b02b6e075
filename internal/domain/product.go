package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/segyhp/lending-engine/internal/amortization"
	"github.com/segyhp/lending-engine/pkg/errors"
)

// LoanProduct is catalog reference data; this service never writes it.
type LoanProduct struct {
	ID                uuid.UUID           `json:"id" db:"id"`
	Code              string              `json:"code" db:"code"`
	Name              string              `json:"name" db:"name"`
	ProductType       string              `json:"product_type" db:"product_type"`
	MinInterestRate   decimal.Decimal     `json:"min_interest_rate" db:"min_interest_rate"`
	MaxInterestRate   decimal.Decimal     `json:"max_interest_rate" db:"max_interest_rate"`
	MinLoanAmount     decimal.Decimal     `json:"min_loan_amount" db:"min_loan_amount"`
	MaxLoanAmount     decimal.Decimal     `json:"max_loan_amount" db:"max_loan_amount"`
	MinLoanPeriod     int                 `json:"min_loan_period" db:"min_loan_period"`
	MaxLoanPeriod     int                 `json:"max_loan_period" db:"max_loan_period"`
	MaxLTV            decimal.Decimal     `json:"max_ltv" db:"max_ltv"`
	RepaymentMethod   amortization.Method `json:"repayment_method" db:"repayment_method"`
	RequiredDocuments pq.StringArray      `json:"required_documents" db:"required_documents"`
	IsActive          bool                `json:"is_active" db:"is_active"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" db:"updated_at"`
}

var hundred = decimal.NewFromInt(100)

// CheckAmount validates amount against the product's loan amount range.
func (p *LoanProduct) CheckAmount(amount decimal.Decimal) error {
	if amount.LessThan(p.MinLoanAmount) || amount.GreaterThan(p.MaxLoanAmount) {
		return errors.WrapAmountOutOfRange(amount.String(), p.MinLoanAmount.String(), p.MaxLoanAmount.String())
	}
	return nil
}

// CheckPeriod validates a term in months against the product's period range.
func (p *LoanProduct) CheckPeriod(months int) error {
	if months < p.MinLoanPeriod || months > p.MaxLoanPeriod {
		return errors.WrapPeriodOutOfRange(months, p.MinLoanPeriod, p.MaxLoanPeriod)
	}
	return nil
}

// CheckRate validates an annual percentage rate against the product's rate range.
func (p *LoanProduct) CheckRate(rate decimal.Decimal) error {
	if rate.LessThan(p.MinInterestRate) || rate.GreaterThan(p.MaxInterestRate) {
		return errors.WrapRateOutOfRange(rate.String(), p.MinInterestRate.String(), p.MaxInterestRate.String())
	}
	return nil
}

// CheckLTV rejects amount/collateral*100 above the product maximum.
func (p *LoanProduct) CheckLTV(amount, collateralValue decimal.Decimal) error {
	if !collateralValue.IsPositive() {
		return errors.WrapInvalidRequest("collateral value must be positive", errors.ErrLTVExceeded)
	}
	ltv := LTV(amount, collateralValue)
	if ltv.GreaterThan(p.MaxLTV) {
		return errors.WrapLTVExceeded(ltv.StringFixed(2), p.MaxLTV.String())
	}
	return nil
}

// LTV returns amount / collateralValue * 100.
func LTV(amount, collateralValue decimal.Decimal) decimal.Decimal {
	if collateralValue.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(hundred).Div(collateralValue)
}

// CheckEligibility runs every approval gate for an application and the
// terms an administrator chose for it. The requested figures are checked
// first so the LTV gate cannot be bypassed by lowering the approved amount.
func (p *LoanProduct) CheckEligibility(app *LoanApplication, terms ApprovalTerms) error {
	if err := p.CheckAmount(app.RequestedAmount); err != nil {
		return err
	}
	if err := p.CheckPeriod(app.RequestedPeriod); err != nil {
		return err
	}
	if err := p.CheckLTV(app.RequestedAmount, app.CollateralValue); err != nil {
		return err
	}

	if err := p.CheckAmount(terms.Amount); err != nil {
		return err
	}
	if err := p.CheckPeriod(terms.Period); err != nil {
		return err
	}
	if err := p.CheckRate(terms.Rate); err != nil {
		return err
	}
	return p.CheckLTV(terms.Amount, app.CollateralValue)
}
