package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/pkg/response"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Applications *ApplicationHandler
	Accounts     *AccountHandler
	Products     *ProductHandler
	Webhooks     *WebhookHandler
	Health       *HealthHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter registers every route of the lending API.
func NewRouter(h Handlers, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "no route for "+r.Method+" "+r.URL.Path)
	})
	router.Use(response.LoggingMiddleware(logger))
	router.Use(response.CORSMiddleware)

	// Health check
	router.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Health.Ready).Methods(http.MethodGet)
	if h.Metrics != nil {
		router.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/products", h.Products.List).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", h.Products.Get).Methods(http.MethodGet)

	api.HandleFunc("/applications", withActor(h.Applications.Create)).Methods(http.MethodPost)
	api.HandleFunc("/applications", withActor(h.Applications.List)).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}", withActor(h.Applications.Get)).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}", withActor(h.Applications.Update)).Methods(http.MethodPut)
	api.HandleFunc("/applications/{id}", withActor(h.Applications.Delete)).Methods(http.MethodDelete)
	api.HandleFunc("/applications/{id}/submit", withActor(h.Applications.Submit)).Methods(http.MethodPost)
	api.HandleFunc("/applications/{id}/cancel", withActor(h.Applications.Cancel)).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/applications/{id}/review", withAdmin(h.Applications.StartReview)).Methods(http.MethodPost)
	admin.HandleFunc("/applications/{id}/approve", withAdmin(h.Applications.Approve)).Methods(http.MethodPost)
	admin.HandleFunc("/applications/{id}/reject", withAdmin(h.Applications.Reject)).Methods(http.MethodPost)
	admin.HandleFunc("/applications/{id}/disburse", withAdmin(h.Applications.Disburse)).Methods(http.MethodPost)

	api.HandleFunc("/accounts/{id}", withActor(h.Accounts.Get)).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/schedule", withActor(h.Accounts.Schedule)).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/transactions", withActor(h.Accounts.Transactions)).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/repayments", withActor(h.Accounts.InitiateRepayment)).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/repayments/check", withActor(h.Accounts.CheckRepayment)).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/repayments/confirm", withActor(h.Accounts.ConfirmRepayment)).Methods(http.MethodPost)

	// the gateway calls this without user headers
	api.HandleFunc("/webhooks/payments", h.Webhooks.Payment).Methods(http.MethodPost)

	return router
}
