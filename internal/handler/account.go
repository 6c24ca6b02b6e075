package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/service"
	"github.com/segyhp/lending-engine/pkg/response"
)

type AccountHandler struct {
	accounts   *service.AccountService
	reconciler *service.ReconcilerService
	validator  *validator.Validate
}

func NewAccountHandler(accounts *service.AccountService, reconciler *service.ReconcilerService) *AccountHandler {
	return &AccountHandler{
		accounts:   accounts,
		reconciler: reconciler,
		validator:  NewValidator(),
	}
}

// Get handles GET /api/v1/accounts/{id}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), actor, id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, account)
}

// Schedule handles GET /api/v1/accounts/{id}/schedule
func (h *AccountHandler) Schedule(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	rows, err := h.accounts.GetSchedule(r.Context(), actor, id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, rows)
}

// Transactions handles GET /api/v1/accounts/{id}/transactions
func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	txs, err := h.accounts.ListTransactions(r.Context(), actor, id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	if txs == nil {
		txs = []*domain.LoanRepaymentTransaction{}
	}
	response.Success(w, txs)
}

// InitiateRepayment handles POST /api/v1/accounts/{id}/repayments
func (h *AccountHandler) InitiateRepayment(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.InitiateRepaymentRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	resp, err := h.reconciler.InitiateRepayment(r.Context(), actor, id, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, resp)
}

// CheckRepayment handles POST /api/v1/accounts/{id}/repayments/check
func (h *AccountHandler) CheckRepayment(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.SettlementRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	resp, err := h.reconciler.CheckAndProcess(r.Context(), actor, id, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, resp)
}

// ConfirmRepayment handles POST /api/v1/accounts/{id}/repayments/confirm
func (h *AccountHandler) ConfirmRepayment(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.SettlementRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.reconciler.ProcessRepayment(r.Context(), actor, id, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, result)
}
