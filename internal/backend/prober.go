package backend

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Prober answers "can we run locally right now". It re-checks on every call
// (the check is cheap) and only remembers the previous answer to log
// availability transitions instead of spamming on every request.
type Prober struct {
	local Local
	log   zerolog.Logger

	mu   sync.Mutex
	last *bool
}

// NewProber wraps a local backend with transition-logged availability checks.
func NewProber(local Local, log zerolog.Logger) *Prober {
	return &Prober{local: local, log: log}
}

// Available reports whether the local backend can serve requests.
func (p *Prober) Available(ctx context.Context) bool {
	avail := p.local != nil && p.local.Available(ctx)

	p.mu.Lock()
	changed := p.last == nil || *p.last != avail
	p.last = &avail
	p.mu.Unlock()

	if changed {
		if avail {
			p.log.Info().Msg("local backend available")
		} else {
			p.log.Info().Msg("local backend unavailable, cloud fallback will be used")
		}
	}
	return avail
}

// Describe returns the capability descriptor from the wrapped backend.
func (p *Prober) Describe(cap Capability) Descriptor {
	if p.local == nil {
		return Descriptor{}
	}
	return p.local.Describe(cap)
}
