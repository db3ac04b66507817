package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLocal(t *testing.T, handler http.Handler) (*LocalClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewLocalClient(LocalOptions{
		BaseURL:       srv.URL,
		Model:         "test-model",
		ContextTokens: 4096,
		ProbeTimeout:  time.Second,
		Log:           zerolog.Nop(),
	})
	return client, srv
}

func tagsHandler(models ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type m struct {
			Name string `json:"name"`
		}
		var list []m
		for _, name := range models {
			list = append(list, m{Name: name})
		}
		json.NewEncoder(w).Encode(map[string]any{"models": list})
	}
}

func TestAvailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("test-model"))
	client, _ := newTestLocal(t, mux)

	if !client.Available(context.Background()) {
		t.Error("Available = false, want true")
	}
}

func TestAvailableServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewLocalClient(LocalOptions{BaseURL: url, ProbeTimeout: 200 * time.Millisecond, Log: zerolog.Nop()})
	if client.Available(context.Background()) {
		t.Error("Available = true for closed server, want false")
	}
}

func TestSessionPromptAtomic(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("test-model"))
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		if req.Stream {
			t.Error("Stream = true, want false for atomic prompt")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"content": "hello back"},
			"done":              true,
			"prompt_eval_count": 12,
		})
	})
	client, _ := newTestLocal(t, mux)

	sess, err := client.NewSession(context.Background(), CapabilityPrompt, CreateOptions{}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	got, err := sess.Prompt(context.Background(), TextPrompt("hi"))
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if got != "hello back" {
		t.Errorf("Prompt = %q, want %q", got, "hello back")
	}

	u, ok := sess.Usage()
	if !ok {
		t.Fatal("Usage ok = false, want true")
	}
	if u.Used != 12 {
		t.Errorf("Used = %d, want 12", u.Used)
	}
	if u.Quota != 4096 {
		t.Errorf("Quota = %d, want 4096", u.Quota)
	}
}

func TestSessionStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("test-model"))
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		// NDJSON deltas with one garbage line the client must skip.
		fmt.Fprintln(w, `{"message":{"content":"A"},"done":false}`)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, `{"message":{"content":"B"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"prompt_eval_count":3}`)
	})
	client, _ := newTestLocal(t, mux)

	sess, err := client.NewSession(context.Background(), CapabilityPrompt, CreateOptions{}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	var deltas []string
	got, err := sess.Stream(context.Background(), TextPrompt("hi"), func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got != "AB" {
		t.Errorf("Stream = %q, want AB", got)
	}
	if len(deltas) != 2 || deltas[0] != "A" || deltas[1] != "B" {
		t.Errorf("deltas = %v, want [A B]", deltas)
	}
}

func TestSessionDestroyedNotReusable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", tagsHandler("test-model"))
	client, _ := newTestLocal(t, mux)

	sess, err := client.NewSession(context.Background(), CapabilityPrompt, CreateOptions{}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	sess.Destroy()

	if _, err := sess.Prompt(context.Background(), TextPrompt("hi")); err != ErrSessionDestroyed {
		t.Errorf("Prompt after Destroy: err = %v, want ErrSessionDestroyed", err)
	}
	if _, err := sess.Clone(context.Background()); err != ErrSessionDestroyed {
		t.Errorf("Clone after Destroy: err = %v, want ErrSessionDestroyed", err)
	}
}

func TestPullProgressMonotonic(t *testing.T) {
	mux := http.NewServeMux()
	// Model not in tags, so NewSession must pull it.
	mux.HandleFunc("/api/tags", tagsHandler("other-model"))
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"status":"pulling","total":100,"completed":25}`)
		fmt.Fprintln(w, `{"status":"pulling","total":100,"completed":80}`)
		fmt.Fprintln(w, `{"status":"success","total":100,"completed":100}`)
	})
	client, _ := newTestLocal(t, mux)

	var loads []int64
	var lastTotal int64
	_, err := client.NewSession(context.Background(), CapabilityPrompt, CreateOptions{}, func(loaded, total int64) {
		loads = append(loads, loaded)
		lastTotal = total
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if len(loads) == 0 {
		t.Fatal("progress observer never invoked")
	}
	for i := 1; i < len(loads); i++ {
		if loads[i] < loads[i-1] {
			t.Errorf("progress not monotonic: %v", loads)
		}
	}
	if loads[len(loads)-1] != lastTotal {
		t.Errorf("final loaded = %d, want total %d", loads[len(loads)-1], lastTotal)
	}
}

func TestDescribe(t *testing.T) {
	client := NewLocalClient(LocalOptions{Log: zerolog.Nop()})

	d := client.Describe(CapabilityPrompt)
	if !d.Streaming || !d.Cloning || !d.NativeUsage {
		t.Errorf("prompt descriptor = %+v, want all features", d)
	}

	d = client.Describe(CapabilityTranscribe)
	if d.Streaming || d.Cloning || d.NativeUsage {
		t.Errorf("transcribe descriptor = %+v, want atomic-only", d)
	}
}

func TestSTTClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			f.Close()
		}
		if got := r.FormValue("model"); got != "whisper-test" {
			t.Errorf("model field = %q, want whisper-test", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "spoken words"})
	}))
	defer srv.Close()

	stt := NewSTTClient(srv.URL, "whisper-test", time.Second)
	got, err := stt.Transcribe(context.Background(), []byte("RIFF..."), "chunk.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "spoken words" {
		t.Errorf("Transcribe = %q, want %q", got, "spoken words")
	}
}

func TestProberTransitions(t *testing.T) {
	fake := NewFakeLocal("x")
	p := NewProber(fake, zerolog.Nop())

	if !p.Available(context.Background()) {
		t.Error("Available = false, want true")
	}
	fake.Availability = false
	if p.Available(context.Background()) {
		t.Error("Available = true after backend went away, want false")
	}
	// Repeated calls stay consistent with the environment.
	if p.Available(context.Background()) {
		t.Error("Available = true, want false")
	}
}
