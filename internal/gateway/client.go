package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/config"
	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/metrics"
	"github.com/segyhp/lending-engine/pkg/errors"
)

const (
	collectionPath = "/v1/virtual-accounts"
	payoutPath     = "/v1/payouts"
	confirmPath    = "/v1/payments/confirm"
	paymentPath    = "/v1/payments/{paymentKey}"
)

type instrumentRequest struct {
	OrderID      string `json:"orderId"`
	Amount       int64  `json:"amount"`
	CustomerName string `json:"customerName"`
	ValidHours   int    `json:"validHours"`
}

type confirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type virtualAccount struct {
	BankCode      string     `json:"bankCode"`
	AccountNumber string     `json:"accountNumber"`
	DueDate       *time.Time `json:"dueDate"`
}

type checkout struct {
	URL string `json:"url"`
}

// paymentResponse is the gateway's payment object.
type paymentResponse struct {
	PaymentKey     string               `json:"paymentKey"`
	OrderID        string               `json:"orderId"`
	Status         domain.GatewayStatus `json:"status"`
	TotalAmount    decimal.Decimal      `json:"totalAmount"`
	TransactionKey string               `json:"lastTransactionKey"`
	ApprovedAt     *time.Time           `json:"approvedAt"`
	Checkout       *checkout            `json:"checkout"`
	VirtualAccount *virtualAccount      `json:"virtualAccount"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client is the HTTP adapter for the payment gateway.
type Client struct {
	http       *resty.Client
	expiryDays int
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient builds a gateway client. Only GET requests that were answered
// with 429 are retried, once; confirmations are never retried.
func NewClient(cfg config.GatewayConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.SecretKey, "").
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(1).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryWait * 4).
		AddRetryCondition(retryRateLimitedReads)

	return &Client{
		http:       httpClient,
		expiryDays: cfg.ExpiryDays,
		metrics:    m,
		logger:     logger,
	}
}

func retryRateLimitedReads(r *resty.Response, err error) bool {
	if err != nil || r == nil || r.Request == nil {
		return false
	}
	return r.StatusCode() == http.StatusTooManyRequests && r.Request.Method == http.MethodGet
}

func (c *Client) InitiateCollectionInstrument(ctx context.Context, req domain.InstrumentRequest) (*domain.Instrument, error) {
	return c.issueInstrument(ctx, "collection", collectionPath, req)
}

func (c *Client) InitiateDisbursementInstrument(ctx context.Context, req domain.InstrumentRequest) (*domain.Instrument, error) {
	return c.issueInstrument(ctx, "disbursement", payoutPath, req)
}

func (c *Client) issueInstrument(ctx context.Context, op, path string, req domain.InstrumentRequest) (*domain.Instrument, error) {
	defer c.observe(op, time.Now())

	expiry := req.ExpiryDays
	if expiry <= 0 {
		expiry = c.expiryDays
	}

	var result paymentResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(instrumentRequest{
			OrderID:      req.OrderID,
			Amount:       req.Amount.IntPart(),
			CustomerName: req.PartyName,
			ValidHours:   expiry * 24,
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post(path)
	if err := c.check(op, resp, err, &apiErr); err != nil {
		return nil, err
	}

	return result.toInstrument(), nil
}

// ConfirmPayment asks the gateway to capture an authorised payment. When
// the caller already saw the payment settled the payment is read back
// instead, so a settled payment is never confirmed twice.
func (c *Client) ConfirmPayment(ctx context.Context, req domain.ConfirmRequest) (*domain.ConfirmResult, error) {
	if req.KnownStatus.IsSettled() {
		return c.verifySettled(ctx, req)
	}

	defer c.observe("confirm", time.Now())

	var result paymentResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(confirmRequest{
			PaymentKey: req.InstrumentRef,
			OrderID:    req.OrderID,
			Amount:     req.Amount.IntPart(),
		}).
		SetResult(&result).
		SetError(&apiErr).
		Post(confirmPath)
	if err := c.check("confirm", resp, err, &apiErr); err != nil {
		return nil, err
	}

	return result.toConfirmResult(), nil
}

func (c *Client) verifySettled(ctx context.Context, req domain.ConfirmRequest) (*domain.ConfirmResult, error) {
	status, err := c.fetchPayment(ctx, req.InstrumentRef)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, errors.WrapGatewayRejected(fmt.Sprintf("payment %s not found", req.InstrumentRef))
	}
	if status.OrderID != "" && status.OrderID != req.OrderID {
		return nil, errors.WrapGatewayRejected(fmt.Sprintf("payment %s belongs to order %s", req.InstrumentRef, status.OrderID))
	}
	return status.toConfirmResult(), nil
}

// GetPaymentStatus reads a payment. It returns nil, nil for an unknown payment.
func (c *Client) GetPaymentStatus(ctx context.Context, instrumentRef string) (*domain.PaymentStatus, error) {
	result, err := c.fetchPayment(ctx, instrumentRef)
	if err != nil || result == nil {
		return nil, err
	}
	return &domain.PaymentStatus{
		InstrumentRef:  result.PaymentKey,
		OrderID:        result.OrderID,
		Status:         result.Status,
		Amount:         result.TotalAmount,
		TransactionRef: result.TransactionKey,
	}, nil
}

func (c *Client) fetchPayment(ctx context.Context, paymentKey string) (*paymentResponse, error) {
	defer c.observe("status", time.Now())

	var result paymentResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("paymentKey", paymentKey).
		SetResult(&result).
		SetError(&apiErr).
		Get(paymentPath)
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if err := c.check("status", resp, err, &apiErr); err != nil {
		return nil, err
	}
	return &result, nil
}

// check maps transport failures, throttling and 5xx to an unavailable
// gateway and any other non-2xx answer to a rejection.
func (c *Client) check(op string, resp *resty.Response, err error, apiErr *apiError) error {
	if err != nil {
		c.logger.Warn("gateway request failed", zap.String("op", op), zap.Error(err))
		return errors.WrapGatewayUnavailable(err)
	}
	if resp.IsSuccess() {
		return nil
	}

	status := resp.StatusCode()
	c.logger.Warn("gateway returned an error",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("code", apiErr.Code),
		zap.String("message", apiErr.Message),
	)
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return errors.WrapGatewayUnavailable(fmt.Errorf("gateway %s: http %d %s", op, status, apiErr.Code))
	}
	reason := apiErr.Message
	if reason == "" {
		reason = fmt.Sprintf("http %d", status)
	}
	return errors.WrapGatewayRejected(reason)
}

func (c *Client) observe(op string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.GatewayDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (p *paymentResponse) toInstrument() *domain.Instrument {
	inst := &domain.Instrument{
		InstrumentRef: p.PaymentKey,
		OrderID:       p.OrderID,
		Amount:        p.TotalAmount,
		Status:        p.Status,
	}
	if p.Checkout != nil {
		inst.CheckoutURL = p.Checkout.URL
	}
	if p.VirtualAccount != nil {
		inst.BankCode = p.VirtualAccount.BankCode
		inst.AccountNumber = p.VirtualAccount.AccountNumber
		inst.DueDate = p.VirtualAccount.DueDate
	}
	return inst
}

func (p *paymentResponse) toConfirmResult() *domain.ConfirmResult {
	return &domain.ConfirmResult{
		Success:        p.Status.IsSettled(),
		TransactionRef: p.TransactionKey,
		Amount:         p.TotalAmount,
		Status:         p.Status,
		ApprovedAt:     p.ApprovedAt,
	}
}
