package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/service"
	"github.com/segyhp/lending-engine/pkg/response"
)

type ApplicationHandler struct {
	applications *service.ApplicationService
	approvals    *service.ApprovalService
	validator    *validator.Validate
}

func NewApplicationHandler(applications *service.ApplicationService, approvals *service.ApprovalService) *ApplicationHandler {
	return &ApplicationHandler{
		applications: applications,
		approvals:    approvals,
		validator:    NewValidator(),
	}
}

// Create handles POST /api/v1/applications
func (h *ApplicationHandler) Create(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req domain.CreateApplicationRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	app, err := h.applications.Create(r.Context(), actor, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Created(w, app)
}

// List handles GET /api/v1/applications
func (h *ApplicationHandler) List(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		response.FromError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		response.FromError(w, err)
		return
	}

	apps, err := h.applications.ListByOwner(r.Context(), actor, domain.ListApplicationsFilter{
		UserID: r.URL.Query().Get("user_id"),
		Status: domain.ApplicationStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		response.FromError(w, err)
		return
	}
	if apps == nil {
		apps = []*domain.LoanApplication{}
	}
	response.Success(w, apps)
}

// Get handles GET /api/v1/applications/{id}
func (h *ApplicationHandler) Get(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	app, err := h.applications.Get(r.Context(), actor, id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, app)
}

// Update handles PUT /api/v1/applications/{id}
func (h *ApplicationHandler) Update(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.UpdateApplicationRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	app, err := h.applications.Update(r.Context(), actor, id, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, app)
}

// Delete handles DELETE /api/v1/applications/{id}
func (h *ApplicationHandler) Delete(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.applications.Delete(r.Context(), actor, id); err != nil {
		response.FromError(w, err)
		return
	}
	response.NoContent(w)
}

// Submit handles POST /api/v1/applications/{id}/submit
func (h *ApplicationHandler) Submit(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	app, err := h.applications.Submit(r.Context(), actor, id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, app)
}

// Cancel handles POST /api/v1/applications/{id}/cancel
func (h *ApplicationHandler) Cancel(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	app, err := h.applications.Cancel(r.Context(), actor, id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, app)
}

// StartReview handles POST /api/v1/admin/applications/{id}/review
func (h *ApplicationHandler) StartReview(w http.ResponseWriter, r *http.Request, _ domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.ReviewApplicationRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	app, err := h.applications.StartReview(r.Context(), id, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, app)
}

// Approve handles POST /api/v1/admin/applications/{id}/approve
func (h *ApplicationHandler) Approve(w http.ResponseWriter, r *http.Request, _ domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.ApproveApplicationRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	resp, err := h.approvals.Approve(r.Context(), id, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, resp)
}

// Reject handles POST /api/v1/admin/applications/{id}/reject
func (h *ApplicationHandler) Reject(w http.ResponseWriter, r *http.Request, _ domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.RejectApplicationRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	app, err := h.applications.Reject(r.Context(), id, req)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, app)
}

// Disburse handles POST /api/v1/admin/applications/{id}/disburse
func (h *ApplicationHandler) Disburse(w http.ResponseWriter, r *http.Request, _ domain.Actor) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	resp, err := h.approvals.Disburse(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, resp)
}
