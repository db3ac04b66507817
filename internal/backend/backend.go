// Package backend defines the uniform contract over heterogeneous
// inference backends: a local on-host model server and a cloud
// chat-completions API. The execution engine talks to both through
// the interfaces here and never sees wire formats.
package backend

import (
	"context"
	"encoding/json"
	"errors"
)

// Capability names the logical API a session is bound to. It is fixed at
// session creation and never changes for the life of the session.
type Capability string

const (
	CapabilityPrompt     Capability = "prompt"
	CapabilityWrite      Capability = "write"
	CapabilityRewrite    Capability = "rewrite"
	CapabilitySummarize  Capability = "summarize"
	CapabilityProofread  Capability = "proofread"
	CapabilityTranscribe Capability = "transcribe"
)

var (
	// ErrCapabilityUnsupported is returned when a backend does not expose an
	// optional feature (cloning, streaming, native usage accounting).
	ErrCapabilityUnsupported = errors.New("capability not supported by backend")

	// ErrSessionDestroyed is returned by any call against a destroyed session.
	ErrSessionDestroyed = errors.New("session destroyed")
)

// Descriptor reports which optional entry points a capability exposes.
// It is resolved once when the backend is probed, not re-detected per call.
type Descriptor struct {
	Streaming   bool
	Cloning     bool
	NativeUsage bool
}

// Usage is a token-accounting snapshot reported by the backend.
type Usage struct {
	Used  int64 `json:"used"`
	Quota int64 `json:"quota"`
}

// ProgressFunc observes a model download. Loaded and total are bytes and
// loaded is monotonically non-decreasing; loaded == total means complete.
// Implementations must tolerate repeated invocation and must not panic.
type ProgressFunc func(loaded, total int64)

// CreateOptions are capability-specific session creation options.
type CreateOptions struct {
	SystemPrompt string
	Schema       json.RawMessage // structured-output constraint, nil for free text
	InputTypes   []PartType      // expected input modalities beyond text
}

// Session is one live connection to a backend, bound to one capability.
// A destroyed session cannot be reused; callers create a new one.
type Session interface {
	// Prompt executes atomically and returns the full response text.
	Prompt(ctx context.Context, p Prompt) (string, error)

	// Stream executes incrementally, invoking emit once per output delta,
	// and returns the accumulated text. Backends without a streaming entry
	// point return ErrCapabilityUnsupported.
	Stream(ctx context.Context, p Prompt, emit func(delta string)) (string, error)

	// Clone duplicates the session including its conversation context.
	Clone(ctx context.Context) (Session, error)

	// Destroy releases backend resources.
	Destroy()

	// Usage reports native token accounting; ok is false when the backend
	// does not track it.
	Usage() (u Usage, ok bool)
}

// Local is an on-host inference backend. Availability is a cheap
// asynchronous readiness check that may be issued before every execution.
type Local interface {
	Available(ctx context.Context) bool
	Describe(cap Capability) Descriptor
	NewSession(ctx context.Context, cap Capability, opts CreateOptions, progress ProgressFunc) (Session, error)
}

// Cloud is a network-hosted inference backend. It has no session state;
// every call is self-contained. Authentication and quota gating are the
// caller's responsibility.
type Cloud interface {
	// Generate streams a completion for the prompt, invoking emit once per
	// text delta, and returns the accumulated text.
	Generate(ctx context.Context, p Prompt, emit func(delta string)) (string, error)

	// Transcribe sends one whole audio file in a single call.
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}
