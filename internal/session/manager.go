// Package session owns the lifecycle of local inference sessions, one per
// capability. The manager holds the only reference to each live session;
// callers never cache sessions across destroy/clone boundaries.
package session

import (
	"context"
	"fmt"

	"sync"

	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/backend"
)

// UsageFallback reports externally-tracked usage when the backend has no
// native token accounting (the cloud path counts calls instead of tokens).
type UsageFallback interface {
	Usage(ctx context.Context) (backend.Usage, bool)
}

// Manager creates, reuses, clones, and destroys sessions. The session map
// is instance state, injected wherever execution needs it, so independent
// managers can coexist (one per test, one per engine).
type Manager struct {
	local    backend.Local
	fallback UsageFallback
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[backend.Capability]backend.Session
}

// NewManager creates a session manager over the given local backend.
// fallback may be nil.
func NewManager(local backend.Local, fallback UsageFallback, log zerolog.Logger) *Manager {
	return &Manager{
		local:    local,
		fallback: fallback,
		log:      log,
		sessions: make(map[backend.Capability]backend.Session),
	}
}

// Ensure returns the live session for the capability, creating one lazily.
// An existing session is reused unchanged: creation options passed on a
// later call are ignored. Callers that need different options must Destroy
// and re-Ensure. Creation failures are returned, not retried.
func (m *Manager) Ensure(ctx context.Context, cap backend.Capability, opts backend.CreateOptions, progress backend.ProgressFunc) (backend.Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[cap]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	// Create outside the lock: model download can take minutes.
	s, err := m.local.NewSession(ctx, cap, opts, safeProgress(progress, m.log))
	if err != nil {
		return nil, fmt.Errorf("create %s session: %w", cap, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[cap]; ok {
		// Lost the race; keep the first session.
		s.Destroy()
		return existing, nil
	}
	m.sessions[cap] = s
	m.log.Debug().Str("capability", string(cap)).Msg("session created")
	return s, nil
}

// Clone duplicates the capability's session and replaces the manager's
// reference with the clone. The original is superseded, not destroyed:
// ownership transfers to the clone. Returns ErrCapabilityUnsupported when
// the backend cannot clone.
func (m *Manager) Clone(ctx context.Context, cap backend.Capability) (backend.Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[cap]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no session for capability %s", cap)
	}

	clone, err := s.Clone(ctx)
	if err != nil {
		return nil, fmt.Errorf("clone %s session: %w", cap, err)
	}

	m.mu.Lock()
	m.sessions[cap] = clone
	m.mu.Unlock()
	m.log.Debug().Str("capability", string(cap)).Msg("session cloned")
	return clone, nil
}

// Destroy releases the capability's session. Subsequent Ensure calls create
// a fresh one. Destroying an absent session is a no-op.
func (m *Manager) Destroy(cap backend.Capability) {
	m.mu.Lock()
	s, ok := m.sessions[cap]
	delete(m.sessions, cap)
	m.mu.Unlock()
	if ok {
		s.Destroy()
		m.log.Debug().Str("capability", string(cap)).Msg("session destroyed")
	}
}

// Usage reports token accounting for the capability. Backend-native
// accounting wins; without it the external fallback (cloud call counting)
// is consulted; ok is false when neither is available.
func (m *Manager) Usage(ctx context.Context, cap backend.Capability) (backend.Usage, bool) {
	m.mu.Lock()
	s, ok := m.sessions[cap]
	m.mu.Unlock()
	if ok {
		if u, native := s.Usage(); native {
			return u, true
		}
	}
	if m.fallback != nil {
		return m.fallback.Usage(ctx)
	}
	return backend.Usage{}, false
}

// Active reports whether a live session exists for the capability.
func (m *Manager) Active(cap backend.Capability) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[cap]
	return ok
}

// ActiveSessionCount reports the number of live sessions across capabilities.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// safeProgress wraps a progress observer so a panicking callback cannot
// take down a model download.
func safeProgress(progress backend.ProgressFunc, log zerolog.Logger) backend.ProgressFunc {
	if progress == nil {
		return nil
	}
	return func(loaded, total int64) {
		defer func() {
			if rv := recover(); rv != nil {
				log.Warn().Interface("panic", rv).Msg("progress observer panicked")
			}
		}()
		progress(loaded, total)
	}
}
