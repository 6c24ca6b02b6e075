package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// GatewayStatus is a payment status as reported by the payment gateway.
type GatewayStatus string

const (
	GatewayReady             GatewayStatus = "READY"
	GatewayInProgress        GatewayStatus = "IN_PROGRESS"
	GatewayWaitingForDeposit GatewayStatus = "WAITING_FOR_DEPOSIT"
	GatewayDone              GatewayStatus = "DONE"
	GatewayCanceled          GatewayStatus = "CANCELED"
	GatewayPartialCanceled   GatewayStatus = "PARTIAL_CANCELED"
	GatewayAborted           GatewayStatus = "ABORTED"
	GatewayExpired           GatewayStatus = "EXPIRED"
)

// IsSettled reports whether money has reached the lender.
func (s GatewayStatus) IsSettled() bool {
	return s == GatewayDone
}

// IsConfirmable reports whether the payment is authorised and waits for
// the merchant's confirmation.
func (s GatewayStatus) IsConfirmable() bool {
	return s == GatewayInProgress
}

// InstrumentRequest asks the gateway for a collection or disbursement instrument.
type InstrumentRequest struct {
	OrderID    string
	Amount     decimal.Decimal
	PartyName  string
	ExpiryDays int
}

// Instrument is a virtual account or checkout issued by the gateway.
type Instrument struct {
	InstrumentRef string          `json:"instrument_ref"`
	CheckoutURL   string          `json:"checkout_url,omitempty"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        GatewayStatus   `json:"status"`
	BankCode      string          `json:"bank_code,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
}

// ConfirmRequest asks the gateway to confirm a payment.
type ConfirmRequest struct {
	InstrumentRef string
	OrderID       string
	Amount        decimal.Decimal
	KnownStatus   GatewayStatus
}

// ConfirmResult is the gateway's answer to a confirmation.
type ConfirmResult struct {
	Success        bool
	TransactionRef string
	Amount         decimal.Decimal
	Status         GatewayStatus
	ApprovedAt     *time.Time
}

// PaymentStatus is a payment as currently known to the gateway.
type PaymentStatus struct {
	InstrumentRef  string
	OrderID        string
	Status         GatewayStatus
	Amount         decimal.Decimal
	TransactionRef string
}

// PaymentGateway is the external payment provider consumed by the lending core.
type PaymentGateway interface {
	InitiateCollectionInstrument(ctx context.Context, req InstrumentRequest) (*Instrument, error)
	InitiateDisbursementInstrument(ctx context.Context, req InstrumentRequest) (*Instrument, error)
	ConfirmPayment(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	// GetPaymentStatus returns nil, nil when the gateway knows no such payment.
	GetPaymentStatus(ctx context.Context, instrumentRef string) (*PaymentStatus, error)
}

// Webhook event types sent by the gateway.
const (
	EventPaymentStatusChanged = "PAYMENT_STATUS_CHANGED"
	EventDepositCallback      = "DEPOSIT_CALLBACK"
	EventPaymentFailed        = "PAYMENT_FAILED"
)

// WebhookEvent is an inbound gateway notification.
type WebhookEvent struct {
	EventType string      `json:"eventType"`
	CreatedAt string      `json:"createdAt,omitempty"`
	Data      WebhookData `json:"data"`
}

// WebhookData is the payment carried by a WebhookEvent.
type WebhookData struct {
	OrderID     string          `json:"orderId"`
	PaymentKey  string          `json:"paymentKey"`
	Status      GatewayStatus   `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Method      string          `json:"method,omitempty"`
}
