package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lessonlab/lesson-engine/internal/backend"
	"github.com/lessonlab/lesson-engine/internal/engine"
)

// ModelHandler exposes local model session lifecycle and usage reporting.
type ModelHandler struct {
	eng *engine.Engine
}

func NewModelHandler(eng *engine.Engine) *ModelHandler {
	return &ModelHandler{eng: eng}
}

var capabilities = map[backend.Capability]bool{
	backend.CapabilityPrompt:     true,
	backend.CapabilityWrite:      true,
	backend.CapabilityRewrite:    true,
	backend.CapabilitySummarize:  true,
	backend.CapabilityProofread:  true,
	backend.CapabilityTranscribe: true,
}

func parseCapability(r *http.Request) (backend.Capability, bool) {
	cap := backend.Capability(chi.URLParam(r, "capability"))
	return cap, capabilities[cap]
}

type usageResponse struct {
	Capability backend.Capability `json:"capability"`
	Available  bool               `json:"available"`
	Used       int64              `json:"used,omitempty"`
	Quota      int64              `json:"quota,omitempty"`
}

// Usage reports token usage for one capability's session, or the caller's
// cloud call counter when the backend has no native accounting.
func (h *ModelHandler) Usage(w http.ResponseWriter, r *http.Request) {
	cap, ok := parseCapability(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown capability")
		return
	}
	u, ok := h.eng.Sessions().Usage(r.Context(), cap)
	WriteJSON(w, http.StatusOK, usageResponse{
		Capability: cap,
		Available:  ok,
		Used:       u.Used,
		Quota:      u.Quota,
	})
}

// Clone replaces the capability's session with a clone of itself.
func (h *ModelHandler) Clone(w http.ResponseWriter, r *http.Request) {
	cap, ok := parseCapability(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown capability")
		return
	}
	if _, err := h.eng.Sessions().Clone(r.Context(), cap); err != nil {
		switch {
		case errors.Is(err, backend.ErrCapabilityUnsupported):
			WriteError(w, http.StatusNotImplemented, "cloning not supported")
		default:
			WriteError(w, http.StatusConflict, err.Error())
		}
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cloned"})
}

// Destroy releases the capability's session. The next execution creates a
// fresh one.
func (h *ModelHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	cap, ok := parseCapability(r)
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown capability")
		return
	}
	h.eng.Sessions().Destroy(cap)
	w.WriteHeader(http.StatusNoContent)
}

type modelStatusResponse struct {
	LocalAvailable bool                          `json:"local_available"`
	Sessions       map[backend.Capability]bool   `json:"sessions"`
	Descriptors    map[backend.Capability]detail `json:"capabilities,omitempty"`
}

type detail struct {
	Streaming   bool `json:"streaming"`
	Cloning     bool `json:"cloning"`
	NativeUsage bool `json:"native_usage"`
}

// Status reports local backend availability, active sessions, and the
// feature descriptor of each capability.
func (h *ModelHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := modelStatusResponse{
		LocalAvailable: h.eng.LocalAvailable(r.Context()),
		Sessions:       make(map[backend.Capability]bool),
	}
	if resp.LocalAvailable {
		resp.Descriptors = make(map[backend.Capability]detail)
	}
	for cap := range capabilities {
		resp.Sessions[cap] = h.eng.Sessions().Active(cap)
		if resp.LocalAvailable {
			d := h.eng.Describe(cap)
			resp.Descriptors[cap] = detail{
				Streaming:   d.Streaming,
				Cloning:     d.Cloning,
				NativeUsage: d.NativeUsage,
			}
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Routes registers model session routes.
func (h *ModelHandler) Routes(r chi.Router) {
	r.Get("/model/status", h.Status)
	r.Get("/model/sessions/{capability}/usage", h.Usage)
	r.Post("/model/sessions/{capability}/clone", h.Clone)
	r.Delete("/model/sessions/{capability}", h.Destroy)
}
