package api

import (
	"net/http"
	"time"

	"github.com/lessonlab/lesson-engine/internal/engine"
	"github.com/lessonlab/lesson-engine/internal/store"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// HealthHandler reports service liveness plus the state of each backend:
// the database, the local inference backend, and whether a cloud backend
// is configured.
type HealthHandler struct {
	store     *store.Store
	eng       *engine.Engine
	hasCloud  bool
	version   string
	startTime time.Time
}

func NewHealthHandler(st *store.Store, eng *engine.Engine, hasCloud bool, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		store:     st,
		eng:       eng,
		hasCloud:  hasCloud,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "ok"

	if err := h.store.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["database"] = "ok"
	}

	// A missing local backend is a valid configuration, not a failure;
	// the cloud path covers it.
	if h.eng.LocalAvailable(r.Context()) {
		checks["local_backend"] = "available"
	} else {
		checks["local_backend"] = "unavailable"
	}

	if h.hasCloud {
		checks["cloud_backend"] = "configured"
	} else {
		checks["cloud_backend"] = "not configured"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
