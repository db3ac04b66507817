package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/account"
	"github.com/lessonlab/lesson-engine/internal/analysis"
	"github.com/lessonlab/lesson-engine/internal/backend"
	"github.com/lessonlab/lesson-engine/internal/config"
	"github.com/lessonlab/lesson-engine/internal/engine"
	"github.com/lessonlab/lesson-engine/internal/events"
	"github.com/lessonlab/lesson-engine/internal/session"
	"github.com/lessonlab/lesson-engine/internal/storage"
	"github.com/lessonlab/lesson-engine/internal/store"
	"github.com/lessonlab/lesson-engine/internal/transcribe"
)

// newTestServer builds a Server through NewServer so requests pass the full
// production middleware chain, not a bare router.
func newTestServer(t *testing.T, local *backend.FakeLocal) (*Server, *events.Bus) {
	t.Helper()
	log := zerolog.Nop()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	accounts := account.NewService(st, log)
	eng := engine.New(backend.NewProber(local, log), session.NewManager(local, accounts, log), nil, accounts, log)
	bus := events.NewBus(64)
	pipe := transcribe.NewPipeline(eng, nil, accounts, bus, transcribe.Options{
		ChunkDuration:  29 * time.Second,
		MaxDuration:    12 * time.Hour,
		MaxUploadBytes: 100 << 20,
	}, log)
	gen := analysis.NewGenerator(eng, 6000, log)

	cfg := &config.Config{HTTPAddr: "127.0.0.1:0"}
	srv := NewServer(cfg, Deps{
		Store:      st,
		Engine:     eng,
		Pipeline:   pipe,
		Generator:  gen,
		Accounts:   accounts,
		Recordings: storage.NewRecordings(t.TempDir()),
		Bus:        bus,
		Version:    "test",
		StartTime:  time.Now(),
	}, log)
	return srv, bus
}

func TestServerStreamingExecute(t *testing.T) {
	srv, _ := newTestServer(t, backend.NewFakeLocal("Hi there!"))

	body, _ := json.Marshal(map[string]any{"prompt": "Say hi", "stream": true})
	req := httptest.NewRequest("POST", "/api/v1/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	out := rec.Body.String()
	if n := strings.Count(out, "event: increment"); n == 0 {
		t.Errorf("no increment frames in stream:\n%s", out)
	}
	if !strings.Contains(out, "event: outcome") {
		t.Errorf("no outcome frame in stream:\n%s", out)
	}
	if !strings.Contains(out, "Hi there!") {
		t.Errorf("outcome frame missing final text:\n%s", out)
	}
}

func TestServerEventStreamReplay(t *testing.T) {
	srv, bus := newTestServer(t, backend.NewFakeLocal("unused"))

	bus.Publish("job_progress", "j1", map[string]int{"chunk": 1})
	bus.Publish("job_done", "j1", map[string]string{"state": "done"})

	buffered := bus.ReplaySince("", events.Filter{})
	if len(buffered) != 2 {
		t.Fatalf("buffered events = %d, want 2", len(buffered))
	}

	req := httptest.NewRequest("GET", "/api/v1/events/stream", nil)
	req.Header.Set("Last-Event-ID", buffered[0].ID)
	ctx, cancel := context.WithCancel(req.Context())
	cancel() // handler replays, then exits its loop immediately
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	out := rec.Body.String()
	if strings.Contains(out, "streaming not supported") {
		t.Fatalf("flusher not visible through middleware chain:\n%s", out)
	}
	if !strings.Contains(out, "event: job_done") {
		t.Errorf("replay missing job_done frame:\n%s", out)
	}
	if strings.Contains(out, "event: job_progress") {
		t.Errorf("replay repeated the acknowledged event:\n%s", out)
	}
}
