package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the state of a repayment transaction record.
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
)

// Payment channels that can report a settlement.
const (
	ChannelStatusCheck = "status_check"
	ChannelWebhook     = "webhook"
	ChannelConfirm     = "confirm"
)

// LoanRepaymentTransaction is the immutable audit record of one applied
// payment. PaymentKey and OrderID are each unique across all records.
type LoanRepaymentTransaction struct {
	ID                uuid.UUID         `json:"id" db:"id"`
	TransactionNumber string            `json:"transaction_number" db:"transaction_number"`
	LoanAccountID     uuid.UUID         `json:"loan_account_id" db:"loan_account_id"`
	Amount            decimal.Decimal   `json:"amount" db:"amount"`
	PaymentDate       time.Time         `json:"payment_date" db:"payment_date"`
	PaymentMethod     string            `json:"payment_method" db:"payment_method"`
	PrincipalAmount   decimal.Decimal   `json:"principal_amount" db:"principal_amount"`
	InterestAmount    decimal.Decimal   `json:"interest_amount" db:"interest_amount"`
	PenaltyAmount     decimal.Decimal   `json:"penalty_amount" db:"penalty_amount"`
	FeeAmount         decimal.Decimal   `json:"fee_amount" db:"fee_amount"`
	Status            TransactionStatus `json:"status" db:"status"`
	PaymentKey        string            `json:"payment_key" db:"payment_key"`
	OrderID           string            `json:"order_id" db:"order_id"`
	BankTransactionID string            `json:"bank_transaction_id,omitempty" db:"bank_transaction_id"`
	Note              string            `json:"note,omitempty" db:"note"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
}

// Settlement identifies one real-world payment reported by any channel.
type Settlement struct {
	AccountID  uuid.UUID
	Owner      string
	Amount     decimal.Decimal
	PaymentKey string
	OrderID    string
	Channel    string
	// KnownStatus is the gateway status the channel already observed, if any.
	KnownStatus GatewayStatus
}

// NewRepaymentTransaction records an allocation that was applied for s.
func NewRepaymentTransaction(s Settlement, alloc Allocation, gatewayRef string, now time.Time) *LoanRepaymentTransaction {
	return &LoanRepaymentTransaction{
		ID:                uuid.New(),
		TransactionNumber: NewTransactionNumber(now),
		LoanAccountID:     s.AccountID,
		Amount:            alloc.Amount,
		PaymentDate:       now,
		PaymentMethod:     s.Channel,
		PrincipalAmount:   alloc.PrincipalApplied,
		InterestAmount:    alloc.InterestApplied,
		PenaltyAmount:     decimal.Zero,
		FeeAmount:         decimal.Zero,
		Status:            TransactionCompleted,
		PaymentKey:        s.PaymentKey,
		OrderID:           s.OrderID,
		BankTransactionID: gatewayRef,
		Note:              fmt.Sprintf("repayment via %s", s.Channel),
		CreatedAt:         now,
	}
}

// NewTransactionNumber returns a human readable unique transaction number.
func NewTransactionNumber(now time.Time) string {
	return fmt.Sprintf("TX%s%s", now.Format("20060102150405"), uuid.NewString()[:8])
}

// RepaymentResult is what the ledger reports for one settlement.
type RepaymentResult struct {
	Transaction    *LoanRepaymentTransaction `json:"transaction"`
	Account        *LoanAccount              `json:"account,omitempty"`
	AlreadyApplied bool                      `json:"already_applied"`
	Closed         bool                      `json:"closed"`
}
