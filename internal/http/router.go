package http

import (
	"net/http"

	"billbook-backend/internal/config"
	"billbook-backend/internal/handlers"
	"billbook-backend/internal/logger"
	"billbook-backend/internal/middleware"
	"billbook-backend/internal/monitoring"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every route. Metrics and request logging run per route so
// they see the route template; recovery and CORS wrap the whole router.
func NewRouter(
	cfg *config.Config,
	billHandler *handlers.BillHandler,
	healthHandler *handlers.HealthHandler,
	hub *monitoring.Hub,
	apiLogging *middleware.APILoggingMiddleware,
	log *logger.Logger,
) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.MetricsMiddleware)
	if apiLogging != nil {
		r.Use(apiLogging.Handler)
	}

	// Storage
	r.HandleFunc("/api/status", billHandler.GetStatus).Methods("GET")
	r.HandleFunc("/api/storage/reconnect", billHandler.Reconnect).Methods("POST")
	r.HandleFunc("/api/storage/sync", billHandler.SyncOffline).Methods("POST")

	// Stored bills
	billsAPI := r.PathPrefix("/api/bills").Subrouter()
	billsAPI.HandleFunc("", billHandler.ListBills).Methods("GET")
	billsAPI.HandleFunc("/next-number", billHandler.NextNumber).Methods("GET")
	billsAPI.HandleFunc("/pdf", billHandler.RenderPDF).Methods("POST")
	billsAPI.HandleFunc("/{sNo}", billHandler.DeleteBill).Methods("DELETE")
	billsAPI.HandleFunc("/{sNo}/load", billHandler.LoadBill).Methods("POST")

	// Draft being edited
	draftAPI := r.PathPrefix("/api/draft").Subrouter()
	draftAPI.HandleFunc("", billHandler.GetDraft).Methods("GET")
	draftAPI.HandleFunc("", billHandler.UpdateDraft).Methods("PATCH")
	draftAPI.HandleFunc("/new", billHandler.NewDraft).Methods("POST")
	draftAPI.HandleFunc("/customer", billHandler.SetCustomer).Methods("PUT")
	draftAPI.HandleFunc("/items", billHandler.AddItem).Methods("POST")
	draftAPI.HandleFunc("/items/{id}", billHandler.UpdateItem).Methods("PATCH")
	draftAPI.HandleFunc("/items/{id}", billHandler.RemoveItem).Methods("DELETE")
	draftAPI.HandleFunc("/save", billHandler.SaveDraft).Methods("POST")
	draftAPI.HandleFunc("/pdf", billHandler.DraftPDF).Methods("GET")

	// Live status feed
	if hub != nil {
		r.HandleFunc("/ws/status", hub.HandleWebSocket).Methods("GET")
	}

	// Health check endpoints (no auth - for probes)
	r.HandleFunc("/health", healthHandler.BasicHealth).Methods("GET")
	r.HandleFunc("/health/ready", healthHandler.ReadinessHealth).Methods("GET")
	r.HandleFunc("/health/detailed", healthHandler.DetailedHealth).Methods("GET")

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	corsMiddleware := middleware.NewCORS(cfg)
	return middleware.PanicRecovery(log)(corsMiddleware(r))
}
