// Package account is the authentication/quota collaborator: it resolves
// the calling user and tracks the per-user cloud call counter and limit.
// "No identity" is a hard gate for any cloud-path operation; the engine
// and the transcription pipeline both consult this package before calling
// out.
package account

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/backend"
	"github.com/lessonlab/lesson-engine/internal/store"
)

type ctxKey struct{}

// WithUser attaches an authenticated user to the context.
func WithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the authenticated user, or nil when the request
// carries no identity.
func FromContext(ctx context.Context) *store.User {
	u, _ := ctx.Value(ctxKey{}).(*store.User)
	return u
}

// Service answers identity and quota questions against the user store.
type Service struct {
	store *store.Store
	log   zerolog.Logger
}

// NewService creates an account service.
func NewService(st *store.Store, log zerolog.Logger) *Service {
	return &Service{store: st, log: log}
}

// Authenticate resolves a bearer token. Returns nil, nil for an unknown
// token: absence of identity is a state, not an error.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, nil
	}
	u, err := s.store.UserByToken(ctx, token)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return u, err
}

// Current returns the request's authenticated user, refreshed from the
// store so the call counter is current. Nil when unauthenticated.
func (s *Service) Current(ctx context.Context) *store.User {
	u := FromContext(ctx)
	if u == nil {
		return nil
	}
	fresh, err := s.store.GetUser(ctx, u.ID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", u.ID).Msg("user refresh failed")
		return u
	}
	return fresh
}

// Increment atomically bumps the user's call counter.
func (s *Service) Increment(ctx context.Context, id int64) (int64, error) {
	return s.store.IncrementCalls(ctx, id)
}

// Usage reports the current user's cloud call counter against their limit.
// This is the fallback accounting when the backend has no native token
// usage (calls substitute for tokens on the cloud path).
func (s *Service) Usage(ctx context.Context) (backend.Usage, bool) {
	u := s.Current(ctx)
	if u == nil {
		return backend.Usage{}, false
	}
	return backend.Usage{Used: u.Calls, Quota: u.CallLimit}, true
}
