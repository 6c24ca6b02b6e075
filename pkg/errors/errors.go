package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a BusinessError so callers can tell bad input from bad timing.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindExternal   Kind = "external"
	KindInternal   Kind = "internal"
)

// Domain errors
var (
	ErrApplicationNotFound  = errors.New("loan application not found")
	ErrAccountNotFound      = errors.New("loan account not found")
	ErrProductNotFound      = errors.New("loan product not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrStaleApplication     = errors.New("application was modified concurrently")
	ErrNotOwner             = errors.New("caller does not own the resource")
	ErrAmountOutOfRange     = errors.New("loan amount outside product range")
	ErrPeriodOutOfRange     = errors.New("loan period outside product range")
	ErrRateOutOfRange       = errors.New("interest rate outside product range")
	ErrLTVExceeded          = errors.New("loan-to-value ratio exceeds product maximum")
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
	ErrAccountNotActive     = errors.New("loan account is not active")
	ErrLoanNotDisbursed     = errors.New("loan has not been disbursed")
	ErrPaymentExceedsDebt   = errors.New("payment exceeds outstanding balance")
	ErrPaymentNotSettled    = errors.New("payment is not settled at the gateway")
	ErrSettlementInProgress = errors.New("settlement already in progress")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrGatewayRejected      = errors.New("payment gateway rejected the request")
	ErrInvalidOrderID       = errors.New("invalid order id")
)

// BusinessError represents a business logic error
type BusinessError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates a new business error
func NewBusinessError(kind Kind, code, message string, err error) *BusinessError {
	return &BusinessError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeApplicationNotFound  = "APPLICATION_NOT_FOUND"
	ErrCodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	ErrCodeProductNotFound      = "PRODUCT_NOT_FOUND"
	ErrCodeInvalidTransition    = "INVALID_STATUS_TRANSITION"
	ErrCodeStaleApplication     = "STALE_APPLICATION"
	ErrCodeNotOwner             = "NOT_OWNER"
	ErrCodeAmountOutOfRange     = "AMOUNT_OUT_OF_RANGE"
	ErrCodePeriodOutOfRange     = "PERIOD_OUT_OF_RANGE"
	ErrCodeRateOutOfRange       = "RATE_OUT_OF_RANGE"
	ErrCodeLTVExceeded          = "LTV_EXCEEDED"
	ErrCodeInvalidPaymentAmount = "INVALID_PAYMENT_AMOUNT"
	ErrCodeAccountNotActive     = "ACCOUNT_NOT_ACTIVE"
	ErrCodeLoanNotDisbursed     = "LOAN_NOT_DISBURSED"
	ErrCodePaymentExceedsDebt   = "PAYMENT_EXCEEDS_OUTSTANDING"
	ErrCodePaymentNotSettled    = "PAYMENT_NOT_SETTLED"
	ErrCodeSettlementInProgress = "SETTLEMENT_IN_PROGRESS"
	ErrCodeGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayRejected      = "GATEWAY_REJECTED"
	ErrCodeInvalidOrderID       = "INVALID_ORDER_ID"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeDatabaseError        = "DATABASE_ERROR"
	ErrCodeCacheError           = "CACHE_ERROR"
)

// Wrap common errors with business context
func WrapApplicationNotFound(id string) *BusinessError {
	return NewBusinessError(KindNotFound, ErrCodeApplicationNotFound,
		fmt.Sprintf("Loan application %s not found", id), ErrApplicationNotFound)
}

func WrapAccountNotFound(id string) *BusinessError {
	return NewBusinessError(KindNotFound, ErrCodeAccountNotFound,
		fmt.Sprintf("Loan account %s not found", id), ErrAccountNotFound)
}

func WrapProductNotFound(id string) *BusinessError {
	return NewBusinessError(KindNotFound, ErrCodeProductNotFound,
		fmt.Sprintf("Loan product %s not found", id), ErrProductNotFound)
}

func WrapInvalidTransition(entity, from, to string) *BusinessError {
	return NewBusinessError(KindConflict, ErrCodeInvalidTransition,
		fmt.Sprintf("%s cannot move from %s to %s", entity, from, to), ErrInvalidTransition)
}

func WrapStaleApplication(id string) *BusinessError {
	return NewBusinessError(KindConflict, ErrCodeStaleApplication,
		fmt.Sprintf("Loan application %s was modified by another request", id), ErrStaleApplication)
}

func WrapNotOwner(resource string) *BusinessError {
	return NewBusinessError(KindForbidden, ErrCodeNotOwner,
		fmt.Sprintf("%s does not belong to the caller", resource), ErrNotOwner)
}

func WrapAmountOutOfRange(amount, min, max string) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeAmountOutOfRange,
		fmt.Sprintf("Amount %s must be between %s and %s", amount, min, max), ErrAmountOutOfRange)
}

func WrapPeriodOutOfRange(period, min, max int) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodePeriodOutOfRange,
		fmt.Sprintf("Period %d months must be between %d and %d", period, min, max), ErrPeriodOutOfRange)
}

func WrapRateOutOfRange(rate, min, max string) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeRateOutOfRange,
		fmt.Sprintf("Interest rate %s must be between %s and %s", rate, min, max), ErrRateOutOfRange)
}

func WrapLTVExceeded(ltv, max string) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeLTVExceeded,
		fmt.Sprintf("LTV %s%% exceeds product maximum %s%%", ltv, max), ErrLTVExceeded)
}

func WrapInvalidPaymentAmount(amount string) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeInvalidPaymentAmount,
		fmt.Sprintf("Invalid payment amount: %s", amount), ErrInvalidPaymentAmount)
}

func WrapAccountNotActive(id, status string) *BusinessError {
	return NewBusinessError(KindConflict, ErrCodeAccountNotActive,
		fmt.Sprintf("Loan account %s is %s", id, status), ErrAccountNotActive)
}

func WrapLoanNotDisbursed(accountID string) *BusinessError {
	return NewBusinessError(KindConflict, ErrCodeLoanNotDisbursed,
		fmt.Sprintf("Loan account %s has not been disbursed yet", accountID), ErrLoanNotDisbursed)
}

func WrapPaymentExceedsDebt(amount, outstanding string) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodePaymentExceedsDebt,
		fmt.Sprintf("Payment %s exceeds outstanding %s", amount, outstanding), ErrPaymentExceedsDebt)
}

func WrapPaymentNotSettled(orderID, status string) *BusinessError {
	return NewBusinessError(KindConflict, ErrCodePaymentNotSettled,
		fmt.Sprintf("Payment for order %s is %s", orderID, status), ErrPaymentNotSettled)
}

func WrapSettlementInProgress(orderID string) *BusinessError {
	return NewBusinessError(KindConflict, ErrCodeSettlementInProgress,
		fmt.Sprintf("Settlement for order %s is already being processed", orderID), ErrSettlementInProgress)
}

func WrapGatewayUnavailable(err error) *BusinessError {
	return NewBusinessError(KindExternal, ErrCodeGatewayUnavailable,
		"payment gateway unavailable, try again", errors.Join(ErrGatewayUnavailable, err))
}

func WrapGatewayRejected(reason string) *BusinessError {
	return NewBusinessError(KindConflict, ErrCodeGatewayRejected,
		fmt.Sprintf("payment gateway rejected the request: %s", reason), ErrGatewayRejected)
}

func WrapInvalidOrderID(orderID string) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeInvalidOrderID,
		fmt.Sprintf("Order id %q is not a repayment order", orderID), ErrInvalidOrderID)
}

func WrapInvalidRequest(message string, err error) *BusinessError {
	return NewBusinessError(KindValidation, ErrCodeInvalidRequest, message, err)
}

func WrapDatabaseError(err error) *BusinessError {
	return NewBusinessError(KindInternal, ErrCodeDatabaseError, "database operation failed", err)
}

func WrapCacheError(err error) *BusinessError {
	return NewBusinessError(KindInternal, ErrCodeCacheError, "Cache operation failed", err)
}

// KindOf returns the kind of the first BusinessError in err's chain.
func KindOf(err error) Kind {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code surfaced to API clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
