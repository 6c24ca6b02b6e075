package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/domain"
	"github.com/segyhp/lending-engine/internal/service"
	"github.com/segyhp/lending-engine/pkg/response"
)

type WebhookHandler struct {
	reconciler *service.ReconcilerService
	logger     *zap.Logger
}

func NewWebhookHandler(reconciler *service.ReconcilerService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, logger: logger}
}

type webhookAck struct {
	Received bool `json:"received"`
}

// Payment handles POST /api/v1/webhooks/payments. The gateway retries any
// delivery that is not answered with 200, so every delivery is acknowledged;
// failures are logged by the reconciler for follow-up.
func (h *WebhookHandler) Payment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var evt domain.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		h.logger.Warn("Unreadable webhook payload acknowledged", zap.Error(err))
		response.Success(w, webhookAck{Received: true})
		return
	}

	_ = h.reconciler.HandleWebhook(r.Context(), evt)
	response.Success(w, webhookAck{Received: true})
}
