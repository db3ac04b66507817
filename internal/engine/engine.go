// Package engine executes one logical inference request against whichever
// backend is appropriate, hiding backend differences behind a single call.
// Routing prefers the local backend; the cloud path is gated on identity
// and call quota. Every execution ends in exactly one terminal Outcome.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/backend"
	"github.com/lessonlab/lesson-engine/internal/metrics"
	"github.com/lessonlab/lesson-engine/internal/session"
	"github.com/lessonlab/lesson-engine/internal/store"
)

// Route selects the backend routing policy for one request.
type Route int

const (
	// RouteAuto prefers the local backend, falling back to cloud.
	RouteAuto Route = iota
	// RouteCloud skips the local backend (bulk reprocessing is cloud-only).
	RouteCloud
)

// Options tune one execution.
type Options struct {
	// Capability selects the session the request runs against. Defaults to
	// CapabilityPrompt.
	Capability backend.Capability

	// Tone and Length are style hints folded into the session's system
	// prompt at creation time.
	Tone   string
	Length string

	// Context carries extra grounding lines for the system prompt.
	Context []string

	// Schema requests structured output conforming to a JSON schema. The
	// local backend enforces it natively; the cloud backend is instructed
	// in natural language. Invalid output triggers exactly one retry.
	Schema json.RawMessage

	// Route overrides backend selection.
	Route Route

	// Progress observes a model download during lazy session creation.
	Progress backend.ProgressFunc
}

// Request is one logical execution: a prompt, options, and an optional
// increment observer invoked once per streamed output delta.
type Request struct {
	Prompt      backend.Prompt
	Options     Options
	OnIncrement func(delta string)
}

// Accounts is the identity/quota collaborator the engine consults before
// any cloud call.
type Accounts interface {
	Current(ctx context.Context) *store.User
	Increment(ctx context.Context, id int64) (int64, error)
}

// Engine routes and executes requests.
type Engine struct {
	prober   *backend.Prober
	sessions *session.Manager
	cloud    backend.Cloud
	accounts Accounts
	log      zerolog.Logger
}

// New creates an engine. cloud may be nil when no cloud backend is
// configured; cloud-path requests then fail with ErrBackendUnavailable.
func New(prober *backend.Prober, sessions *session.Manager, cloud backend.Cloud, accounts Accounts, log zerolog.Logger) *Engine {
	return &Engine{
		prober:   prober,
		sessions: sessions,
		cloud:    cloud,
		accounts: accounts,
		log:      log,
	}
}

// Sessions exposes the session manager (lifecycle endpoints use it).
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// LocalAvailable reports whether the local backend can serve requests right
// now. The answer is probed fresh on every call.
func (e *Engine) LocalAvailable(ctx context.Context) bool {
	return e.prober.Available(ctx)
}

// Describe reports the local backend's feature descriptor for a capability.
func (e *Engine) Describe(cap backend.Capability) backend.Descriptor {
	return e.prober.Describe(cap)
}

// Execute runs one request to a terminal outcome. Cancel the context to
// abort: output already appended is preserved and the outcome is
// StatusAborted, not a failure.
func (e *Engine) Execute(ctx context.Context, req Request) Outcome {
	start := time.Now()

	which := "cloud"
	var out Outcome
	if req.Options.Route != RouteCloud && e.prober.Available(ctx) {
		which = "local"
		out = e.executeLocal(ctx, req)
	} else {
		out = e.executeCloud(ctx, req)
	}

	metrics.ExecutionsTotal.WithLabelValues(which, string(out.Status)).Inc()
	metrics.ExecutionDuration.WithLabelValues(which).Observe(time.Since(start).Seconds())

	ev := e.log.Debug()
	if out.Status == StatusFailed {
		ev = e.log.Warn().Err(out.Err)
	}
	ev.Str("backend", which).
		Str("capability", string(capability(req))).
		Str("status", string(out.Status)).
		Dur("duration_ms", time.Since(start)).
		Msg("execution finished")
	return out
}

func capability(req Request) backend.Capability {
	if req.Options.Capability != "" {
		return req.Options.Capability
	}
	return backend.CapabilityPrompt
}

func (e *Engine) executeLocal(ctx context.Context, req Request) Outcome {
	cap := capability(req)
	opts := backend.CreateOptions{
		SystemPrompt: systemPrompt(req.Options),
		Schema:       req.Options.Schema,
	}
	sess, err := e.sessions.Ensure(ctx, cap, opts, req.Options.Progress)
	if err != nil {
		return failed(err)
	}

	desc := e.prober.Describe(cap)
	run := func() (string, error) {
		emit := func(delta string) {
			if req.OnIncrement != nil {
				req.OnIncrement(delta)
			}
		}
		if desc.Streaming {
			return sess.Stream(ctx, req.Prompt, emit)
		}
		text, err := sess.Prompt(ctx, req.Prompt)
		if err == nil {
			emit(text)
		}
		return text, err
	}

	text, err := withSchemaRetry(len(req.Options.Schema) > 0, 2, run)
	return e.finish(text, err)
}

func (e *Engine) executeCloud(ctx context.Context, req Request) Outcome {
	user := e.accounts.Current(ctx)
	if user == nil {
		return failed(ErrAuthRequired)
	}
	if e.cloud == nil {
		return failed(ErrBackendUnavailable)
	}
	if user.Calls >= user.CallLimit {
		metrics.QuotaRejectionsTotal.Inc()
		return failed(fmt.Errorf("%w: %d/%d calls used", ErrQuotaExceeded, user.Calls, user.CallLimit))
	}

	prompt := req.Prompt
	if len(req.Options.Schema) > 0 {
		// The cloud backend has no native schema constraint; demand
		// schema-conformant JSON in the prompt itself.
		prompt = withSchemaInstruction(prompt, req.Options.Schema)
	}

	run := func() (string, error) {
		return e.cloud.Generate(ctx, prompt, func(delta string) {
			if req.OnIncrement != nil {
				req.OnIncrement(delta)
			}
		})
	}

	text, err := withSchemaRetry(len(req.Options.Schema) > 0, 2, run)
	out := e.finish(text, err)
	if out.Status == StatusSuccess {
		// One increment per call, independent of how many chunks streamed.
		if _, ierr := e.accounts.Increment(ctx, user.ID); ierr != nil {
			e.log.Warn().Err(ierr).Int64("user_id", user.ID).Msg("usage increment failed")
		}
	}
	return out
}

// finish converts a backend result into a terminal outcome, distinguishing
// caller-triggered aborts from failures.
func (e *Engine) finish(text string, err error) Outcome {
	switch {
	case err == nil:
		return success(text)
	case errors.Is(err, context.Canceled):
		return aborted(text)
	default:
		out := failed(err)
		out.Text = text
		return out
	}
}

// systemPrompt folds tone/length/context hints into one system prompt.
func systemPrompt(opts Options) string {
	var lines []string
	if opts.Tone != "" {
		lines = append(lines, fmt.Sprintf("Write in a %s tone.", opts.Tone))
	}
	if opts.Length != "" {
		lines = append(lines, fmt.Sprintf("Keep the response %s.", opts.Length))
	}
	lines = append(lines, opts.Context...)
	return strings.Join(lines, "\n")
}

// withSchemaInstruction attaches a JSON-only instruction to the first text
// part of the prompt, or adds a new text part when none exists. The input
// prompt is not mutated.
func withSchemaInstruction(p backend.Prompt, schema json.RawMessage) backend.Prompt {
	instr := fmt.Sprintf(
		"Respond only with valid JSON conforming to this schema, without markdown code fences or commentary:\n%s",
		string(schema))

	switch v := p.(type) {
	case backend.TextPrompt:
		return backend.TextPrompt(string(v) + "\n\n" + instr)
	case backend.StructuredPrompt:
		out := backend.StructuredPrompt{Messages: make([]backend.Message, len(v.Messages))}
		attached := false
		for i, m := range v.Messages {
			msg := backend.Message{Role: m.Role, Parts: append([]backend.Part{}, m.Parts...)}
			if !attached {
				for j, part := range msg.Parts {
					if part.Type == backend.PartText {
						msg.Parts[j].Text = part.Text + "\n\n" + instr
						attached = true
						break
					}
				}
			}
			out.Messages[i] = msg
		}
		if !attached {
			if len(out.Messages) == 0 {
				out.Messages = append(out.Messages, backend.TextMessage("user", instr))
			} else {
				last := len(out.Messages) - 1
				out.Messages[last].Parts = append(out.Messages[last].Parts,
					backend.Part{Type: backend.PartText, Text: instr})
			}
		}
		return out
	default:
		return p
	}
}
