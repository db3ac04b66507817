package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/storage"
	"github.com/lessonlab/lesson-engine/internal/transcribe"
)

// TranscriptionHandler accepts audio uploads and exposes transcription job
// state. Jobs run asynchronously; progress arrives on the event stream and
// via polling the job resource. Uploads are kept in the recording store so
// the source audio can be fetched back later.
type TranscriptionHandler struct {
	pipeline   *transcribe.Pipeline
	recordings *storage.Recordings
	maxBody    int64
	log        zerolog.Logger
}

func NewTranscriptionHandler(pipeline *transcribe.Pipeline, recordings *storage.Recordings, maxBody int64, log zerolog.Logger) *TranscriptionHandler {
	return &TranscriptionHandler{
		pipeline:   pipeline,
		recordings: recordings,
		maxBody:    maxBody,
		log:        log.With().Str("handler", "transcriptions").Logger(),
	}
}

// Upload handles POST /transcriptions. The multipart form carries the
// recording in an "audio" file field. Responds 202 with the job snapshot;
// the job itself may still fail, observable on the job resource.
func (h *TranscriptionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "audio file field required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "empty audio file")
		return
	}

	job := h.pipeline.Start(r.Context(), data, header.Filename)
	if err := h.recordings.Save(job.ID, data); err != nil {
		// The job still runs from memory; only replay from disk is lost.
		h.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist recording")
	}
	h.log.Info().
		Str("job_id", job.ID).
		Str("filename", header.Filename).
		Int("bytes", len(data)).
		Msg("transcription job started")
	WriteJSON(w, http.StatusAccepted, job.Snapshot())
}

// List handles GET /transcriptions.
func (h *TranscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.pipeline.Jobs())
}

// Get handles GET /transcriptions/{id}.
func (h *TranscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.pipeline.Job(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	WriteJSON(w, http.StatusOK, job.Snapshot())
}

// Cancel handles DELETE /transcriptions/{id}. Transcript text accumulated
// before the abort is preserved on the job.
func (h *TranscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, ok := h.pipeline.Job(chi.URLParam(r, "id"))
	if !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	job.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// Audio handles GET /transcriptions/{id}/audio, streaming back the stored
// source recording.
func (h *TranscriptionHandler) Audio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.pipeline.Job(id); !ok {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	f, err := h.recordings.Open(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "recording not stored")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/wav")
	io.Copy(w, f)
}

// Routes registers transcription routes.
func (h *TranscriptionHandler) Routes(r chi.Router) {
	r.Post("/transcriptions", h.Upload)
	r.Get("/transcriptions", h.List)
	r.Get("/transcriptions/{id}", h.Get)
	r.Get("/transcriptions/{id}/audio", h.Audio)
	r.Delete("/transcriptions/{id}", h.Cancel)
}
