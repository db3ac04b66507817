// Package transcribe turns recorded or uploaded audio into transcript text.
// Locally it decodes the WAV source, slices it into bounded chunks, and
// transcribes them strictly in order through the execution engine. When no
// local backend is available the whole file goes to the cloud in one call,
// gated on identity and quota.
package transcribe

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/audio"
	"github.com/lessonlab/lesson-engine/internal/backend"
	"github.com/lessonlab/lesson-engine/internal/engine"
	"github.com/lessonlab/lesson-engine/internal/events"
	"github.com/lessonlab/lesson-engine/internal/metrics"
)

// State is a transcription job's position in its lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateDecoding     State = "decoding"
	StateChunking     State = "chunking"
	StateTranscribing State = "transcribing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// ChunkFailureMarker is spliced into the transcript where one chunk's
// transcription failed, so downstream analysis can proceed on the rest.
const ChunkFailureMarker = "[segment transcription failed]"

var (
	// ErrRecordingTooLong marks a source over the duration cap. The job
	// fails before any transcription begins.
	ErrRecordingTooLong = errors.New("recording exceeds maximum duration")

	// ErrUploadTooLarge marks a cloud-path file over the upload ceiling.
	ErrUploadTooLarge = errors.New("file exceeds cloud upload limit")
)

// Options configures the pipeline.
type Options struct {
	ChunkDuration  time.Duration // per-chunk cap for the local path
	MaxDuration    time.Duration // total source duration cap
	MaxUploadBytes int64         // cloud path whole-file ceiling
}

// Pipeline runs transcription jobs. Jobs execute on their own goroutine
// and report progress through the event bus; Job/Jobs expose snapshots for
// polling.
type Pipeline struct {
	eng      *engine.Engine
	cloud    backend.Cloud
	accounts engine.Accounts
	bus      *events.Bus
	opts     Options
	log      zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	running int
}

// NewPipeline creates a pipeline. cloud may be nil; the cloud path then
// fails with ErrBackendUnavailable.
func NewPipeline(eng *engine.Engine, cloud backend.Cloud, accounts engine.Accounts, bus *events.Bus, opts Options, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		eng:      eng,
		cloud:    cloud,
		accounts: accounts,
		bus:      bus,
		opts:     opts,
		log:      log,
		jobs:     make(map[string]*Job),
	}
}

// Job is one transcription job. All fields behind the mutex; Snapshot
// returns a consistent copy.
type Job struct {
	ID       string
	Filename string

	mu            sync.Mutex
	state         State
	chunkIndex    int
	chunkCount    int
	transcript    string
	tokenEstimate int
	degraded      bool
	err           error

	cancel context.CancelFunc
	done   chan struct{}
}

// Snapshot is a point-in-time copy of a job's observable state.
type Snapshot struct {
	ID            string `json:"id"`
	Filename      string `json:"filename,omitempty"`
	State         State  `json:"state"`
	ChunkIndex    int    `json:"chunk_index"`
	ChunkCount    int    `json:"chunk_count"`
	Transcript    string `json:"transcript,omitempty"`
	TokenEstimate int    `json:"token_estimate"`
	Degraded      bool   `json:"degraded"`
	Error         string `json:"error,omitempty"`
}

// Snapshot returns the job's current observable state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := Snapshot{
		ID:            j.ID,
		Filename:      j.Filename,
		State:         j.state,
		ChunkIndex:    j.chunkIndex,
		ChunkCount:    j.chunkCount,
		Transcript:    j.transcript,
		TokenEstimate: j.tokenEstimate,
		Degraded:      j.degraded,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}

// Cancel aborts the job at its next suspension point. Transcript text
// already accumulated is preserved in the failed snapshot.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job reaches a terminal state.
func (j *Job) Wait() { <-j.done }

// Err returns the job's terminal error, nil while running or on success.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Start launches a transcription job for the given WAV bytes. The parent
// context gates identity lookup; the job itself runs detached and is
// stopped via Job.Cancel.
func (p *Pipeline) Start(ctx context.Context, wav []byte, filename string) *Job {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &Job{
		ID:       newJobID(),
		Filename: filename,
		state:    StateIdle,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	p.jobs[job.ID] = job
	p.running++
	p.mu.Unlock()

	go p.run(jobCtx, job, wav)
	return job
}

// Job returns a job by ID.
func (p *Pipeline) Job(id string) (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	return j, ok
}

// Jobs returns snapshots of all known jobs.
func (p *Pipeline) Jobs() []Snapshot {
	p.mu.Lock()
	jobs := make([]*Job, 0, len(p.jobs))
	for _, j := range p.jobs {
		jobs = append(jobs, j)
	}
	p.mu.Unlock()

	out := make([]Snapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	return out
}

// RunningJobCount reports jobs that have not reached a terminal state.
func (p *Pipeline) RunningJobCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) run(ctx context.Context, job *Job, wav []byte) {
	start := time.Now()
	log := p.log.With().Str("job_id", job.ID).Logger()

	var err error
	if p.eng.LocalAvailable(ctx) {
		err = p.runLocal(ctx, job, wav)
	} else {
		err = p.runCloud(ctx, job, wav)
	}

	job.mu.Lock()
	if err != nil {
		job.state = StateFailed
		job.err = err
	} else {
		job.state = StateDone
		job.tokenEstimate = EstimateTokens(job.transcript)
	}
	snap := snapshotLocked(job)
	job.mu.Unlock()

	p.mu.Lock()
	p.running--
	p.mu.Unlock()
	close(job.done)

	metrics.TranscriptionJobDuration.Observe(time.Since(start).Seconds())
	p.publish(job, snap)
	if err != nil {
		log.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("transcription job failed")
		return
	}
	log.Info().
		Int("chunks", snap.ChunkCount).
		Int("token_estimate", snap.TokenEstimate).
		Bool("degraded", snap.Degraded).
		Dur("elapsed", time.Since(start)).
		Msg("transcription job done")
}

func snapshotLocked(j *Job) Snapshot {
	s := Snapshot{
		ID:            j.ID,
		Filename:      j.Filename,
		State:         j.state,
		ChunkIndex:    j.chunkIndex,
		ChunkCount:    j.chunkCount,
		Transcript:    j.transcript,
		TokenEstimate: j.tokenEstimate,
		Degraded:      j.degraded,
	}
	if j.err != nil {
		s.Error = j.err.Error()
	}
	return s
}

func (p *Pipeline) runLocal(ctx context.Context, job *Job, wav []byte) error {
	job.setState(StateDecoding)
	p.publish(job, job.Snapshot())

	clip, err := audio.Decode(wav)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if clip.Duration() > p.opts.MaxDuration {
		return fmt.Errorf("%w: %s > %s", ErrRecordingTooLong, clip.Duration(), p.opts.MaxDuration)
	}

	job.setState(StateChunking)
	chunks := audio.Split(clip, p.opts.ChunkDuration)
	job.mu.Lock()
	job.chunkCount = len(chunks)
	job.mu.Unlock()
	p.publish(job, job.Snapshot())

	job.setState(StateTranscribing)
	var parts []string
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job.mu.Lock()
		job.chunkIndex = i + 1
		job.mu.Unlock()
		p.publish(job, job.Snapshot())

		out := p.eng.Execute(ctx, engine.Request{
			Prompt: backend.StructuredPrompt{Messages: []backend.Message{{
				Role: "user",
				Parts: []backend.Part{{
					Type: backend.PartAudio,
					Data: audio.Encode(chunk),
					MIME: "audio/wav",
				}},
			}}},
			Options: engine.Options{Capability: backend.CapabilityTranscribe},
		})

		switch out.Status {
		case engine.StatusSuccess:
			if text := strings.TrimSpace(out.Text); text != "" {
				parts = append(parts, text)
			}
			metrics.TranscriptionChunksTotal.WithLabelValues("ok").Inc()
		case engine.StatusAborted:
			return context.Canceled
		default:
			// One bad chunk degrades the job instead of failing it.
			parts = append(parts, ChunkFailureMarker)
			metrics.TranscriptionChunksTotal.WithLabelValues("failed").Inc()
			job.mu.Lock()
			job.degraded = true
			job.mu.Unlock()
			p.log.Warn().Err(out.Err).
				Str("job_id", job.ID).
				Int("chunk", i+1).
				Int("chunks", len(chunks)).
				Msg("chunk transcription failed")
		}

		job.mu.Lock()
		job.transcript = strings.Join(parts, " ")
		job.mu.Unlock()
	}

	return nil
}

func (p *Pipeline) runCloud(ctx context.Context, job *Job, wav []byte) error {
	user := p.accounts.Current(ctx)
	if user == nil {
		return engine.ErrAuthRequired
	}
	if int64(len(wav)) > p.opts.MaxUploadBytes {
		return fmt.Errorf("%w: %d bytes > %d", ErrUploadTooLarge, len(wav), p.opts.MaxUploadBytes)
	}
	if p.cloud == nil {
		return engine.ErrBackendUnavailable
	}
	if user.Calls >= user.CallLimit {
		metrics.QuotaRejectionsTotal.Inc()
		return fmt.Errorf("%w: %d/%d calls used", engine.ErrQuotaExceeded, user.Calls, user.CallLimit)
	}

	job.setState(StateTranscribing)
	job.mu.Lock()
	job.chunkCount = 1
	job.chunkIndex = 1
	job.mu.Unlock()
	p.publish(job, job.Snapshot())

	filename := job.Filename
	if filename == "" {
		filename = "recording.wav"
	}
	text, err := p.cloud.Transcribe(ctx, wav, filename)
	if err != nil {
		return fmt.Errorf("cloud transcribe: %w", err)
	}

	job.mu.Lock()
	job.transcript = strings.TrimSpace(text)
	job.mu.Unlock()

	// One increment per whole-file call.
	if _, ierr := p.accounts.Increment(ctx, user.ID); ierr != nil {
		p.log.Warn().Err(ierr).Int64("user_id", user.ID).Msg("usage increment failed")
	}
	return nil
}

func (p *Pipeline) publish(job *Job, snap Snapshot) {
	if p.bus == nil {
		return
	}
	eventType := "job_progress"
	if snap.State == StateDone || snap.State == StateFailed {
		eventType = "job_done"
	}
	p.bus.Publish(eventType, job.ID, snap)
}

// EstimateTokens approximates the token count of a transcript as one token
// per four characters, rounded up. Downstream analysis uses it to decide
// whether local processing must truncate.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// RecordingGuard force-stops a live recording when it hits the duration
// cap. stop runs at most once, on its own goroutine. The returned cancel
// disarms the guard when the recording ends normally.
func RecordingGuard(max time.Duration, stop func()) (cancel func()) {
	t := time.AfterFunc(max, stop)
	return func() { t.Stop() }
}

func newJobID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
