package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/lessonlab/lesson-engine/internal/backend"
	"github.com/lessonlab/lesson-engine/internal/engine"
)

// ExecuteHandler runs one inference request to a terminal outcome, either
// as a single JSON response or as an SSE stream of output increments.
type ExecuteHandler struct {
	eng *engine.Engine
}

func NewExecuteHandler(eng *engine.Engine) *ExecuteHandler {
	return &ExecuteHandler{eng: eng}
}

type messagePayload struct {
	Role  string        `json:"role"`
	Parts []partPayload `json:"parts"`
}

type partPayload struct {
	Type backend.PartType `json:"type"`
	Text string           `json:"text,omitempty"`
	Data []byte           `json:"data,omitempty"` // base64 on the wire
	MIME string           `json:"mime,omitempty"`
}

type executeRequest struct {
	Prompt     string           `json:"prompt,omitempty"`
	Messages   []messagePayload `json:"messages,omitempty"`
	Capability string           `json:"capability,omitempty"`
	Tone       string           `json:"tone,omitempty"`
	Length     string           `json:"length,omitempty"`
	Context    []string         `json:"context,omitempty"`
	Schema     json.RawMessage  `json:"schema,omitempty"`
	Route      string           `json:"route,omitempty"`
	Stream     bool             `json:"stream,omitempty"`
}

type executeResponse struct {
	Status engine.Status `json:"status"`
	Text   string        `json:"text"`
	Reason string        `json:"reason,omitempty"`
}

func (req *executeRequest) prompt() (backend.Prompt, error) {
	if len(req.Messages) > 0 {
		sp := backend.StructuredPrompt{Messages: make([]backend.Message, len(req.Messages))}
		for i, m := range req.Messages {
			msg := backend.Message{Role: m.Role, Parts: make([]backend.Part, len(m.Parts))}
			for j, p := range m.Parts {
				msg.Parts[j] = backend.Part{Type: p.Type, Text: p.Text, Data: p.Data, MIME: p.MIME}
			}
			sp.Messages[i] = msg
		}
		return sp, nil
	}
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt or messages required")
	}
	return backend.TextPrompt(req.Prompt), nil
}

func (req *executeRequest) options() (engine.Options, error) {
	opts := engine.Options{
		Capability: backend.Capability(req.Capability),
		Tone:       req.Tone,
		Length:     req.Length,
		Context:    req.Context,
		Schema:     req.Schema,
	}
	switch req.Route {
	case "", "auto":
	case "cloud":
		opts.Route = engine.RouteCloud
	default:
		return opts, fmt.Errorf("invalid route %q", req.Route)
	}
	return opts, nil
}

// Execute handles POST /execute. With stream=true the response is an SSE
// stream: "increment" events for each output delta, then one "outcome"
// event. Abort by closing the connection.
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	prompt, err := req.prompt()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := req.options()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Stream {
		h.executeStreaming(w, r, prompt, opts)
		return
	}

	out := h.eng.Execute(r.Context(), engine.Request{Prompt: prompt, Options: opts})
	WriteJSON(w, outcomeStatusCode(out), executeResponse{
		Status: out.Status,
		Text:   out.Text,
		Reason: out.Reason(),
	})
}

func (h *ExecuteHandler) executeStreaming(w http.ResponseWriter, r *http.Request, prompt backend.Prompt, opts engine.Options) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	out := h.eng.Execute(r.Context(), engine.Request{
		Prompt:  prompt,
		Options: opts,
		OnIncrement: func(delta string) {
			data, _ := json.Marshal(delta)
			fmt.Fprintf(w, "event: increment\ndata: %s\n\n", data)
			flusher.Flush()
		},
	})

	data, _ := json.Marshal(executeResponse{Status: out.Status, Text: out.Text, Reason: out.Reason()})
	fmt.Fprintf(w, "event: outcome\ndata: %s\n\n", data)
	flusher.Flush()

	if out.Status == engine.StatusFailed {
		hlog.FromRequest(r).Warn().Err(out.Err).Msg("streamed execution failed")
	}
}

// outcomeStatusCode maps a terminal outcome to an HTTP status.
func outcomeStatusCode(out engine.Outcome) int {
	switch {
	case out.Status == engine.StatusSuccess:
		return http.StatusOK
	case out.Status == engine.StatusAborted:
		return http.StatusOK
	case errors.Is(out.Err, engine.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(out.Err, engine.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(out.Err, engine.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Routes registers execution routes.
func (h *ExecuteHandler) Routes(r chi.Router) {
	r.Post("/execute", h.Execute)
}
