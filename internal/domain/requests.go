package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DTOs for requests and responses

type CreateApplicationRequest struct {
	ProductID         uuid.UUID       `json:"product_id" validate:"required"`
	RequestedAmount   decimal.Decimal `json:"requested_amount" validate:"required,gt=0"`
	RequestedPeriod   int             `json:"requested_period" validate:"required,gt=0"`
	RequestedRate     decimal.Decimal `json:"requested_rate" validate:"required,gt=0"`
	Purpose           string          `json:"purpose" validate:"max=500"`
	CollateralType    string          `json:"collateral_type" validate:"required,max=50"`
	CollateralValue   decimal.Decimal `json:"collateral_value" validate:"required,gt=0"`
	CollateralAddress string          `json:"collateral_address" validate:"max=255"`
}

type UpdateApplicationRequest struct {
	RequestedAmount   *decimal.Decimal `json:"requested_amount" validate:"omitempty,gt=0"`
	RequestedPeriod   *int             `json:"requested_period" validate:"omitempty,gt=0"`
	RequestedRate     *decimal.Decimal `json:"requested_rate" validate:"omitempty,gt=0"`
	Purpose           *string          `json:"purpose" validate:"omitempty,max=500"`
	CollateralType    *string          `json:"collateral_type" validate:"omitempty,max=50"`
	CollateralValue   *decimal.Decimal `json:"collateral_value" validate:"omitempty,gt=0"`
	CollateralAddress *string          `json:"collateral_address" validate:"omitempty,max=255"`
}

type ApproveApplicationRequest struct {
	ApprovedAmount *decimal.Decimal `json:"approved_amount" validate:"omitempty,gt=0"`
	ApprovedRate   *decimal.Decimal `json:"approved_rate" validate:"omitempty,gt=0"`
	ApprovedPeriod *int             `json:"approved_period" validate:"omitempty,gt=0"`
	Note           string           `json:"note" validate:"max=500"`
	Version        *int             `json:"version" validate:"omitempty,gt=0"`
}

type RejectApplicationRequest struct {
	Reason  string `json:"reason" validate:"required,max=500"`
	Version *int   `json:"version" validate:"omitempty,gt=0"`
}

type ReviewApplicationRequest struct {
	Note    string `json:"note" validate:"max=500"`
	Version *int   `json:"version" validate:"omitempty,gt=0"`
}

type ApprovalResponse struct {
	Application *LoanApplication         `json:"application"`
	Account     *LoanAccount             `json:"account"`
	Schedule    []*LoanRepaymentSchedule `json:"schedule"`
}

type DisbursementResponse struct {
	Application *LoanApplication `json:"application"`
	Instrument  *Instrument      `json:"instrument"`
}

type InitiateRepaymentRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"omitempty,gt=0"`
}

type InitiateRepaymentResponse struct {
	OrderID    string      `json:"order_id"`
	Instrument *Instrument `json:"instrument"`
}

// SettlementRequest carries a payment the client saw complete at the gateway.
type SettlementRequest struct {
	PaymentKey string          `json:"payment_key" validate:"required,max=200"`
	OrderID    string          `json:"order_id" validate:"required,max=64"`
	Amount     decimal.Decimal `json:"amount" validate:"required,gt=0"`
}

type CheckRepaymentResponse struct {
	Processed     bool             `json:"processed"`
	GatewayStatus GatewayStatus    `json:"gateway_status,omitempty"`
	Message       string           `json:"message,omitempty"`
	Result        *RepaymentResult `json:"result,omitempty"`
}

type ListApplicationsFilter struct {
	UserID string
	Status ApplicationStatus
	Limit  int
	Offset int
}
