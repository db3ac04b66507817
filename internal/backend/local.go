package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LocalClient talks to an Ollama-compatible inference server on this host.
// Text capabilities map to /api/chat sessions against a configured model;
// the transcribe capability is served by an OpenAI-compatible STT endpoint.
type LocalClient struct {
	baseURL      string
	model        string
	ctxTokens    int64
	probeTimeout time.Duration
	stt          *STTClient
	client       *http.Client
	log          zerolog.Logger
}

// LocalOptions configures the local backend client.
type LocalOptions struct {
	BaseURL       string
	Model         string
	ContextTokens int64
	ProbeTimeout  time.Duration
	STT           *STTClient
	Log           zerolog.Logger
}

// NewLocalClient creates a local backend client. No connection is made
// until Available or NewSession is called.
func NewLocalClient(opts LocalOptions) *LocalClient {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	return &LocalClient{
		baseURL:      opts.BaseURL,
		model:        opts.Model,
		ctxTokens:    opts.ContextTokens,
		probeTimeout: opts.ProbeTimeout,
		stt:          opts.STT,
		// The overall client timeout must cover model load plus generation,
		// so only per-request contexts bound individual calls.
		client: &http.Client{},
		log:    opts.Log,
	}
}

// Available reports whether the local server answers its readiness
// endpoint. Cheap and safe to call before every execution.
func (l *LocalClient) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, l.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Describe reports the optional entry points per capability. Chat
// capabilities stream, clone (by copying conversation context), and report
// native token usage. Transcription is atomic-only.
func (l *LocalClient) Describe(cap Capability) Descriptor {
	if cap == CapabilityTranscribe {
		return Descriptor{}
	}
	return Descriptor{Streaming: true, Cloning: true, NativeUsage: true}
}

// NewSession creates a session bound to one capability. If the configured
// model is not present locally it is pulled first, reporting download
// progress through the observer.
func (l *LocalClient) NewSession(ctx context.Context, cap Capability, opts CreateOptions, progress ProgressFunc) (Session, error) {
	if cap == CapabilityTranscribe {
		if l.stt == nil {
			return nil, fmt.Errorf("transcribe: %w", ErrCapabilityUnsupported)
		}
		return &sttSession{client: l.stt}, nil
	}

	present, err := l.hasModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("check model: %w", err)
	}
	if !present {
		if err := l.pullModel(ctx, progress); err != nil {
			return nil, fmt.Errorf("pull model %s: %w", l.model, err)
		}
	}

	s := &localSession{client: l, cap: cap, opts: opts}
	if opts.SystemPrompt != "" {
		s.history = append(s.history, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	l.log.Debug().Str("capability", string(cap)).Str("model", l.model).Msg("local session created")
	return s, nil
}

func (l *LocalClient) hasModel(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("bad status: %s", resp.Status)
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, err
	}
	for _, m := range payload.Models {
		if m.Name == l.model {
			return true, nil
		}
	}
	return false, nil
}

// pullModel downloads the configured model, forwarding (completed, total)
// byte counts to the progress observer. The server emits one NDJSON status
// line per layer; invalid lines are skipped rather than failing the pull.
func (l *LocalClient) pullModel(ctx context.Context, progress ProgressFunc) error {
	body, err := json.Marshal(map[string]any{"name": l.model})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line struct {
			Status    string `json:"status"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if progress != nil && line.Total > 0 {
			progress(line.Completed, line.Total)
		}
		if line.Status == "success" && progress != nil && line.Total > 0 {
			progress(line.Total, line.Total)
		}
	}
	return scanner.Err()
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64-encoded
}

type chatRequest struct {
	Model    string          `json:"model"`
	Messages []chatMessage   `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"` // JSON schema constraint
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
}

// localSession is a stateful chat context against the local server. The
// conversation history is the session state; cloning copies it.
type localSession struct {
	client *LocalClient
	cap    Capability
	opts   CreateOptions

	mu        sync.Mutex
	history   []chatMessage
	used      int64
	destroyed bool
}

func (s *localSession) toChatMessages(p Prompt) []chatMessage {
	switch v := p.(type) {
	case TextPrompt:
		return []chatMessage{{Role: "user", Content: string(v)}}
	case StructuredPrompt:
		msgs := make([]chatMessage, 0, len(v.Messages))
		for _, m := range v.Messages {
			cm := chatMessage{Role: m.Role}
			var texts []string
			for _, part := range m.Parts {
				switch part.Type {
				case PartText:
					texts = append(texts, part.Text)
				case PartImage:
					cm.Images = append(cm.Images, base64.StdEncoding.EncodeToString(part.Data))
				}
			}
			cm.Content = joinNonEmpty(texts)
			msgs = append(msgs, cm)
		}
		return msgs
	default:
		return nil
	}
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p
	}
	return out
}

func (s *localSession) Prompt(ctx context.Context, p Prompt) (string, error) {
	return s.run(ctx, p, false, nil)
}

func (s *localSession) Stream(ctx context.Context, p Prompt, emit func(string)) (string, error) {
	return s.run(ctx, p, true, emit)
}

func (s *localSession) run(ctx context.Context, p Prompt, stream bool, emit func(string)) (string, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", ErrSessionDestroyed
	}
	msgs := append(append([]chatMessage{}, s.history...), s.toChatMessages(p)...)
	s.mu.Unlock()

	reqBody := chatRequest{
		Model:    s.client.model,
		Messages: msgs,
		Stream:   stream,
		Format:   s.opts.Schema,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("local backend status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	var text string
	var promptTokens int64
	if stream {
		// NDJSON, one delta per line. Lines that fail to parse are skipped;
		// some servers interleave keep-alive garbage.
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return text, ctx.Err()
			default:
			}
			var line chatResponse
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				continue
			}
			if line.Message.Content != "" {
				text += line.Message.Content
				if emit != nil {
					emit(line.Message.Content)
				}
			}
			if line.Done {
				promptTokens = line.PromptEvalCount
			}
		}
		if err := scanner.Err(); err != nil {
			return text, err
		}
	} else {
		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		text = out.Message.Content
		promptTokens = out.PromptEvalCount
	}

	s.mu.Lock()
	s.history = append(s.history, s.toChatMessages(p)...)
	s.history = append(s.history, chatMessage{Role: "assistant", Content: text})
	s.used += promptTokens
	s.mu.Unlock()
	return text, nil
}

func (s *localSession) Clone(ctx context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil, ErrSessionDestroyed
	}
	clone := &localSession{
		client:  s.client,
		cap:     s.cap,
		opts:    s.opts,
		history: append([]chatMessage{}, s.history...),
		used:    s.used,
	}
	return clone, nil
}

func (s *localSession) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.history = nil
	s.mu.Unlock()
}

func (s *localSession) Usage() (Usage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Usage{Used: s.used, Quota: s.client.ctxTokens}, true
}

// sttSession serves the transcribe capability. It is stateless: each prompt
// carries one audio part which is sent whole to the STT endpoint.
type sttSession struct {
	client *STTClient
}

func (s *sttSession) Prompt(ctx context.Context, p Prompt) (string, error) {
	part, ok := FirstAudio(p)
	if !ok {
		return "", fmt.Errorf("transcribe prompt has no audio part")
	}
	return s.client.Transcribe(ctx, part.Data, "chunk.wav")
}

func (s *sttSession) Stream(ctx context.Context, p Prompt, emit func(string)) (string, error) {
	return "", ErrCapabilityUnsupported
}

func (s *sttSession) Clone(ctx context.Context) (Session, error) {
	return nil, ErrCapabilityUnsupported
}

func (s *sttSession) Destroy() {}

func (s *sttSession) Usage() (Usage, bool) { return Usage{}, false }
