package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/lending-engine/pkg/errors"
)

const (
	RepaymentOrderPrefix    = "repay_"
	DisbursementOrderPrefix = "DISB-"
)

var repaymentOrderPattern = regexp.MustCompile(`^repay_(.+)_(\d+)$`)

// NewRepaymentOrderID encodes repay_{accountId}_{epochMillis}.
func NewRepaymentOrderID(accountID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s%s_%d", RepaymentOrderPrefix, accountID, at.UnixMilli())
}

// NewDisbursementOrderID encodes DISB-{applicationNumber}.
func NewDisbursementOrderID(applicationNumber string) string {
	return DisbursementOrderPrefix + applicationNumber
}

// IsRepaymentOrderID reports whether orderID carries the repayment prefix.
func IsRepaymentOrderID(orderID string) bool {
	return strings.HasPrefix(orderID, RepaymentOrderPrefix)
}

// ParseRepaymentOrderID extracts the account id and issue time from a
// repayment order id.
func ParseRepaymentOrderID(orderID string) (uuid.UUID, time.Time, error) {
	m := repaymentOrderPattern.FindStringSubmatch(orderID)
	if m == nil {
		return uuid.Nil, time.Time{}, errors.WrapInvalidOrderID(orderID)
	}
	accountID, err := uuid.Parse(m[1])
	if err != nil {
		return uuid.Nil, time.Time{}, errors.WrapInvalidOrderID(orderID)
	}
	millis, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return uuid.Nil, time.Time{}, errors.WrapInvalidOrderID(orderID)
	}
	return accountID, time.UnixMilli(millis), nil
}
