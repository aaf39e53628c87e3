package api

import (
	"errors"
	"net/http"

	"github.com/shaiso/Veil/internal/health"
)

// ListHealth возвращает последние записи о здоровье всех сервисов.
// GET /api/v1/health
func (h *Handler) ListHealth(w http.ResponseWriter, r *http.Request) {
	records := healthSorted(h.health.Records())
	List(w, records, len(records))
}

// GetHealthSummary возвращает сводку здоровья.
// GET /api/v1/health/summary
func (h *Handler) GetHealthSummary(w http.ResponseWriter, r *http.Request) {
	Success(w, h.health.Summary())
}

// GetServiceHealth возвращает здоровье одного сервиса.
// GET /api/v1/health/{service}?refresh=true
//
// С refresh=true сервис проверяется немедленно.
func (h *Handler) GetServiceHealth(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")

	var err error
	var resp HealthResponse
	if r.URL.Query().Get("refresh") == "true" {
		rec, checkErr := h.health.CheckOne(r.Context(), name)
		resp, err = HealthFromDomain(rec), checkErr
	} else {
		rec, recErr := h.health.Record(name)
		resp, err = HealthFromDomain(rec), recErr
	}

	if err != nil {
		if errors.Is(err, health.ErrUnknownService) {
			NotFound(w, "service not found")
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	Success(w, resp)
}
