package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/store"
)

// LessonsHandler manages saved generated lessons, scenes and embedded
// images included.
type LessonsHandler struct {
	store *store.Store
	log   zerolog.Logger
}

func NewLessonsHandler(st *store.Store, log zerolog.Logger) *LessonsHandler {
	return &LessonsHandler{
		store: st,
		log:   log.With().Str("handler", "lessons").Logger(),
	}
}

// Create handles POST /lessons. Scene image bytes arrive base64-encoded in
// the JSON body.
func (h *LessonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var lesson store.Lesson
	if err := DecodeJSONBody(r, &lesson); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if lesson.Title == "" {
		WriteError(w, http.StatusBadRequest, "title required")
		return
	}

	id, err := h.store.InsertLesson(r.Context(), &lesson)
	if err != nil {
		h.log.Error().Err(err).Msg("lesson insert failed")
		WriteError(w, http.StatusInternalServerError, "failed to save lesson")
		return
	}
	lesson.ID = id
	WriteJSON(w, http.StatusCreated, lesson)
}

// List handles GET /lessons. Scene images are omitted from listings.
func (h *LessonsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	lessons, err := h.store.ListLessons(r.Context(), p.Limit, p.Offset)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list lessons")
		return
	}
	if lessons == nil {
		lessons = []store.Lesson{}
	}
	WriteJSON(w, http.StatusOK, lessons)
}

// Get handles GET /lessons/{id}, including full scene data.
func (h *LessonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	lesson, err := h.store.GetLesson(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "lesson not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load lesson")
		return
	}
	WriteJSON(w, http.StatusOK, lesson)
}

// Delete handles DELETE /lessons/{id}.
func (h *LessonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := URLParamID(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.DeleteLesson(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "lesson not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to delete lesson")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Routes registers lesson routes.
func (h *LessonsHandler) Routes(r chi.Router) {
	r.Post("/lessons", h.Create)
	r.Get("/lessons", h.List)
	r.Get("/lessons/{id}", h.Get)
	r.Delete("/lessons/{id}", h.Delete)
}
