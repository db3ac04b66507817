package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/account"
	"github.com/lessonlab/lesson-engine/internal/store"
)

func newTestAccounts(t *testing.T) (*account.Service, *store.User) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	user, err := st.EnsureUser(context.Background(), "teacher", 50)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return account.NewService(st, zerolog.Nop()), user
}

func TestRequestID(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("expected generated X-Request-ID header")
		}
	})

	t.Run("preserves_provided_id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "abc123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
			t.Errorf("X-Request-ID = %q, want abc123", got)
		}
	})
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestIdentity(t *testing.T) {
	accounts, user := newTestAccounts(t)

	var got *store.User
	h := Identity(accounts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = account.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("anonymous_passes_through", func(t *testing.T) {
		got = nil
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if got != nil {
			t.Errorf("user = %+v, want nil for anonymous request", got)
		}
	})

	t.Run("bearer_token_resolves_user", func(t *testing.T) {
		got = nil
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+user.Token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got == nil || got.ID != user.ID {
			t.Errorf("user = %+v, want id %d", got, user.ID)
		}
	})

	t.Run("query_token_fallback", func(t *testing.T) {
		got = nil
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/?token="+user.Token, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got == nil {
			t.Error("user not resolved from query token")
		}
	})

	t.Run("unknown_token_rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-real-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}
