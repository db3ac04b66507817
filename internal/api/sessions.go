package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/analysis"
	"github.com/lessonlab/lesson-engine/internal/engine"
	"github.com/lessonlab/lesson-engine/internal/store"
)

// SessionsHandler manages saved assistant sessions and runs transcript
// analysis over them.
type SessionsHandler struct {
	store *store.Store
	gen   *analysis.Generator
	log   zerolog.Logger
}

func NewSessionsHandler(st *store.Store, gen *analysis.Generator, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		store: st,
		gen:   gen,
		log:   log.With().Str("handler", "sessions").Logger(),
	}
}

type createSessionRequest struct {
	Title      string `json:"title"`
	Transcript string `json:"transcript"`
}

// Create handles POST /sessions.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Transcript == "" {
		WriteError(w, http.StatusBadRequest, "transcript required")
		return
	}

	rec := &store.SessionRecord{Title: req.Title, Transcript: req.Transcript}
	id, err := h.store.InsertSession(r.Context(), rec)
	if err != nil {
		h.log.Error().Err(err).Msg("session insert failed")
		WriteError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	saved, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to load saved session")
		return
	}
	WriteJSON(w, http.StatusCreated, saved)
}

// List handles GET /sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := h.store.ListSessions(r.Context(), p.Limit, p.Offset)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []store.SessionRecord{}
	}
	WriteJSON(w, http.StatusOK, sessions)
}

// Get handles GET /sessions/{id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// Update handles PUT /sessions/{id}, replacing the record in place.
func (h *SessionsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var rec store.SessionRecord
	if err := DecodeJSONBody(r, &rec); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec.ID = id
	if err := h.store.UpdateSession(r.Context(), &rec); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to update session")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /sessions/{id}.
func (h *SessionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type analyzeResponse struct {
	Session    *store.SessionRecord `json:"session"`
	StepErrors map[string]string    `json:"step_errors,omitempty"`
}

// Analyze handles POST /sessions/{id}/analyze: derives title, summary, key
// points, and condensed lesson from the stored transcript and saves them.
// Failed steps are reported alongside the updated record.
func (h *SessionsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}

	bundle := h.gen.RunInitialAnalysis(r.Context(), rec.Transcript)
	if bundle.Title != "" {
		rec.Title = bundle.Title
	}
	rec.Summary = bundle.Summary
	rec.KeyPoints = bundle.KeyPoints
	rec.CondensedLesson = bundle.CondensedLesson
	rec.Partial = bundle.Partial
	if bundle.Partial {
		rec.FullTranscript = bundle.FullTranscript
	}

	if err := h.store.UpdateSession(r.Context(), rec); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to save analysis")
		return
	}
	WriteJSON(w, http.StatusOK, analyzeResponse{Session: rec, StepErrors: bundle.StepErrors})
}

type followUpRequest struct {
	Kind analysis.Kind `json:"kind"`
}

// FollowUp handles POST /sessions/{id}/followups: generates one follow-up
// artifact and saves it on the record.
func (h *SessionsHandler) FollowUp(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	var req followUpRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	text, err := h.gen.AnalyzeFollowUp(r.Context(), req.Kind, rec.Transcript)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	switch req.Kind {
	case analysis.KindHomework:
		rec.Homework = text
	case analysis.KindQuiz:
		rec.Quiz = text
	case analysis.KindLessonPrompt:
		rec.LessonPrompt = text
	}
	if err := h.store.UpdateSession(r.Context(), rec); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to save follow-up")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

type reprocessRequest struct {
	Kind analysis.ReprocessKind `json:"kind"`
}

// Reprocess handles POST /sessions/{id}/reprocess: one cloud bulk call
// over the full retained transcript, replacing the partial artifacts.
func (h *SessionsHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	var req reprocessRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	full := rec.FullTranscript
	if full == "" {
		full = rec.Transcript
	}
	result, err := h.gen.ReprocessFullTranscript(r.Context(), req.Kind, full)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	switch req.Kind {
	case analysis.ReprocessAnalysis:
		rec.Summary = result.Summary
		rec.KeyPoints = result.KeyPoints
		rec.CondensedLesson = result.CondensedLesson
		rec.Partial = false
	case analysis.ReprocessFollowUps:
		rec.Homework = result.Homework
		rec.Quiz = result.Quiz
		rec.LessonPrompt = result.LessonCreatorPrompt
	}
	if err := h.store.UpdateSession(r.Context(), rec); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to save reprocessed analysis")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (h *SessionsHandler) load(w http.ResponseWriter, r *http.Request) (*store.SessionRecord, bool) {
	id, err := URLParamID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	rec, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		WriteError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return rec, true
}

func (h *SessionsHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrAuthRequired):
		WriteError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, engine.ErrQuotaExceeded):
		WriteError(w, http.StatusTooManyRequests, "cloud call quota exceeded")
	case errors.Is(err, engine.ErrBackendUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "no inference backend available")
	default:
		WriteError(w, http.StatusBadGateway, err.Error())
	}
}

// Routes registers assistant session routes.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.Create)
	r.Get("/sessions", h.List)
	r.Get("/sessions/{id}", h.Get)
	r.Put("/sessions/{id}", h.Update)
	r.Delete("/sessions/{id}", h.Delete)
	r.Post("/sessions/{id}/analyze", h.Analyze)
	r.Post("/sessions/{id}/followups", h.FollowUp)
	r.Post("/sessions/{id}/reprocess", h.Reprocess)
}
