package backend

import (
	"context"
	"sync"
	"sync/atomic"
)

// FakeLocal is an in-memory Local implementation for tests. Responses are
// served in order; when the script runs out the last entry repeats.
type FakeLocal struct {
	Availability bool
	Desc         Descriptor
	Responses    []string
	Errs         []error

	mu       sync.Mutex
	calls    int
	sessions int
}

// NewFakeLocal creates an available fake backend that answers every prompt
// with the given responses and supports streaming, cloning, and usage.
func NewFakeLocal(responses ...string) *FakeLocal {
	return &FakeLocal{
		Availability: true,
		Desc:         Descriptor{Streaming: true, Cloning: true, NativeUsage: true},
		Responses:    responses,
	}
}

func (f *FakeLocal) Available(ctx context.Context) bool { return f.Availability }

func (f *FakeLocal) Describe(cap Capability) Descriptor { return f.Desc }

func (f *FakeLocal) NewSession(ctx context.Context, cap Capability, opts CreateOptions, progress ProgressFunc) (Session, error) {
	f.mu.Lock()
	f.sessions++
	f.mu.Unlock()
	if progress != nil {
		progress(50, 100)
		progress(100, 100)
	}
	return &FakeSession{parent: f, desc: f.Desc}, nil
}

// Calls reports how many prompt executions the fake has served.
func (f *FakeLocal) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// SessionsCreated reports how many sessions have been handed out.
func (f *FakeLocal) SessionsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

func (f *FakeLocal) next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if len(f.Errs) > 0 {
		if i < len(f.Errs) && f.Errs[i] != nil {
			return "", f.Errs[i]
		}
	}
	if len(f.Responses) == 0 {
		return "", nil
	}
	if i >= len(f.Responses) {
		i = len(f.Responses) - 1
	}
	return f.Responses[i], nil
}

// FakeSession is the session handed out by FakeLocal.
type FakeSession struct {
	parent    *FakeLocal
	desc      Descriptor
	destroyed atomic.Bool
	used      atomic.Int64
}

func (s *FakeSession) Prompt(ctx context.Context, p Prompt) (string, error) {
	if s.destroyed.Load() {
		return "", ErrSessionDestroyed
	}
	text, err := s.parent.next()
	if err != nil {
		return "", err
	}
	s.used.Add(int64(len(text)))
	return text, nil
}

func (s *FakeSession) Stream(ctx context.Context, p Prompt, emit func(string)) (string, error) {
	if s.destroyed.Load() {
		return "", ErrSessionDestroyed
	}
	if !s.desc.Streaming {
		return "", ErrCapabilityUnsupported
	}
	text, err := s.parent.next()
	if err != nil {
		return "", err
	}
	// Emit rune-by-rune so abort tests can cancel between increments.
	var out string
	for _, r := range text {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		out += string(r)
		if emit != nil {
			emit(string(r))
		}
	}
	s.used.Add(int64(len(text)))
	return out, nil
}

func (s *FakeSession) Clone(ctx context.Context) (Session, error) {
	if !s.desc.Cloning {
		return nil, ErrCapabilityUnsupported
	}
	if s.destroyed.Load() {
		return nil, ErrSessionDestroyed
	}
	clone := &FakeSession{parent: s.parent, desc: s.desc}
	clone.used.Store(s.used.Load())
	return clone, nil
}

func (s *FakeSession) Destroy() { s.destroyed.Store(true) }

func (s *FakeSession) Usage() (Usage, bool) {
	if !s.desc.NativeUsage {
		return Usage{}, false
	}
	return Usage{Used: s.used.Load(), Quota: 8192}, true
}

// Destroyed reports whether Destroy has been called.
func (s *FakeSession) Destroyed() bool { return s.destroyed.Load() }

// FakeCloud is an in-memory Cloud implementation for tests. Responses, when
// set, are served in order with the last entry repeating; otherwise every
// call answers with Response.
type FakeCloud struct {
	Response   string
	Responses  []string
	Transcript string
	Err        error

	mu         sync.Mutex
	lastPrompt Prompt
	genCalls   atomic.Int64
	sttCalls   atomic.Int64
}

func (f *FakeCloud) response(call int64) string {
	if len(f.Responses) == 0 {
		return f.Response
	}
	i := int(call)
	if i >= len(f.Responses) {
		i = len(f.Responses) - 1
	}
	return f.Responses[i]
}

func (f *FakeCloud) Generate(ctx context.Context, p Prompt, emit func(string)) (string, error) {
	f.mu.Lock()
	f.lastPrompt = p
	f.mu.Unlock()
	call := f.genCalls.Add(1) - 1
	if f.Err != nil {
		return "", f.Err
	}
	var out string
	for _, r := range f.response(call) {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		out += string(r)
		if emit != nil {
			emit(string(r))
		}
	}
	return out, nil
}

func (f *FakeCloud) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	f.sttCalls.Add(1)
	if f.Err != nil {
		return "", f.Err
	}
	return f.Transcript, nil
}

// GenerateCalls reports how many Generate calls were made.
func (f *FakeCloud) GenerateCalls() int64 { return f.genCalls.Load() }

// TranscribeCalls reports how many Transcribe calls were made.
func (f *FakeCloud) TranscribeCalls() int64 { return f.sttCalls.Load() }

// LastPrompt returns the prompt passed to the most recent Generate call.
func (f *FakeCloud) LastPrompt() Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}
