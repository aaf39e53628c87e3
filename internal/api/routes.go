package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Pipeline
	mux.Handle("POST /api/v1/pipeline/runs", chain(http.HandlerFunc(h.ExecutePipeline)))
	mux.Handle("GET /api/v1/pipeline/state", chain(http.HandlerFunc(h.GetPipelineState)))
	mux.Handle("GET /api/v1/pipeline/steps/{id}", chain(http.HandlerFunc(h.GetStep)))
	mux.Handle("POST /api/v1/pipeline/reset", chain(http.HandlerFunc(h.ResetPipeline)))

	// Health
	mux.Handle("GET /api/v1/health", chain(http.HandlerFunc(h.ListHealth)))
	mux.Handle("GET /api/v1/health/summary", chain(http.HandlerFunc(h.GetHealthSummary)))
	mux.Handle("GET /api/v1/health/{service}", chain(http.HandlerFunc(h.GetServiceHealth)))

	// Run history
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))

	// Events
	if h.events != nil {
		mux.Handle("GET /api/v1/events", chain(h.events))
	}
}
