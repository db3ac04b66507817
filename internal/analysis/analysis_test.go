package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/backend"
	"github.com/lessonlab/lesson-engine/internal/engine"
	"github.com/lessonlab/lesson-engine/internal/session"
	"github.com/lessonlab/lesson-engine/internal/store"
	"github.com/lessonlab/lesson-engine/internal/transcribe"
)

type stubAccounts struct {
	mu         sync.Mutex
	user       *store.User
	increments int
}

func (s *stubAccounts) Current(ctx context.Context) *store.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *stubAccounts) Increment(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increments++
	s.user.Calls++
	return s.user.Calls, nil
}

func newTestGenerator(local *backend.FakeLocal, cloud backend.Cloud, accounts engine.Accounts, ceiling int) *Generator {
	log := zerolog.Nop()
	eng := engine.New(backend.NewProber(local, log), session.NewManager(local, nil, log), cloud, accounts, log)
	return NewGenerator(eng, ceiling, log)
}

func TestTruncateAtWordBoundary(t *testing.T) {
	t.Run("under ceiling passes through", func(t *testing.T) {
		got, truncated := TruncateAtWordBoundary("short text", 100)
		if truncated {
			t.Error("truncated = true, want false")
		}
		if got != "short text" {
			t.Errorf("got %q, want unchanged input", got)
		}
	})

	t.Run("cuts at word boundary", func(t *testing.T) {
		// 5 tokens = 20 runes of budget.
		text := "alpha bravo charlie delta echo foxtrot"
		got, truncated := TruncateAtWordBoundary(text, 5)
		if !truncated {
			t.Fatal("truncated = false, want true")
		}
		if transcribe.EstimateTokens(got) > 5 {
			t.Errorf("result estimates %d tokens, want <= 5", transcribe.EstimateTokens(got))
		}
		if !strings.HasPrefix(text, got) {
			t.Errorf("result %q is not a prefix of the input", got)
		}
		// The rune after the cut must be a space in the source, so no
		// word was split.
		if next := []rune(text)[len([]rune(got))]; next != ' ' {
			t.Errorf("cut mid-word: next rune is %q", next)
		}
		if strings.HasSuffix(got, " ") {
			t.Errorf("result %q has trailing whitespace", got)
		}
	})

	t.Run("unbroken run hard cuts", func(t *testing.T) {
		got, truncated := TruncateAtWordBoundary(strings.Repeat("x", 100), 5)
		if !truncated {
			t.Fatal("truncated = false, want true")
		}
		if len(got) != 20 {
			t.Errorf("len = %d, want 20", len(got))
		}
	})
}

func TestRunInitialAnalysis(t *testing.T) {
	local := backend.NewFakeLocal("Algebra Basics", "a summary", "- point", "condensed text")
	gen := newTestGenerator(local, nil, &stubAccounts{}, 6000)

	bundle := gen.RunInitialAnalysis(context.Background(), "teacher explains algebra")

	if bundle.Partial {
		t.Error("Partial = true for a short transcript")
	}
	if bundle.FullTranscript != "" {
		t.Errorf("FullTranscript retained for a short transcript: %q", bundle.FullTranscript)
	}
	if bundle.Title != "Algebra Basics" || bundle.Summary != "a summary" ||
		bundle.KeyPoints != "- point" || bundle.CondensedLesson != "condensed text" {
		t.Errorf("bundle = %+v", bundle)
	}
	if local.Calls() != 4 {
		t.Errorf("backend calls = %d, want 4", local.Calls())
	}
}

func TestRunInitialAnalysisPartial(t *testing.T) {
	local := backend.NewFakeLocal("t", "s", "k", "c")
	gen := newTestGenerator(local, nil, &stubAccounts{}, 5)

	transcript := strings.Repeat("word ", 100)
	bundle := gen.RunInitialAnalysis(context.Background(), transcript)

	if !bundle.Partial {
		t.Fatal("Partial = false, want true for an over-ceiling transcript")
	}
	if bundle.FullTranscript != transcript {
		t.Error("FullTranscript does not retain the untruncated input")
	}
}

func TestRunInitialAnalysisStepFailureContinues(t *testing.T) {
	local := backend.NewFakeLocal("t", "unused", "k", "c")
	local.Errs = []error{nil, errors.New("model choked"), nil, nil}
	gen := newTestGenerator(local, nil, &stubAccounts{}, 6000)

	bundle := gen.RunInitialAnalysis(context.Background(), "transcript")

	if bundle.Summary != "" {
		t.Errorf("Summary = %q, want empty for the failed step", bundle.Summary)
	}
	if _, ok := bundle.StepErrors["summary"]; !ok {
		t.Errorf("StepErrors = %v, want summary entry", bundle.StepErrors)
	}
	if bundle.Title != "t" || bundle.KeyPoints != "k" || bundle.CondensedLesson != "c" {
		t.Errorf("remaining steps did not run: %+v", bundle)
	}
	if local.Calls() != 4 {
		t.Errorf("backend calls = %d, want 4 (failed step must not halt the rest)", local.Calls())
	}
}

func TestAnalyzeFollowUpSeparatorContract(t *testing.T) {
	response := "1. Solve for x.\n2. Factor the trinomial.\n---ANSWERS---\n1. x=4\n2. (x+1)(x+2)"
	local := backend.NewFakeLocal(response)
	gen := newTestGenerator(local, nil, &stubAccounts{}, 6000)

	for _, kind := range []Kind{KindHomework, KindQuiz} {
		got, err := gen.AnalyzeFollowUp(context.Background(), kind, "transcript")
		if err != nil {
			t.Fatalf("AnalyzeFollowUp(%s): %v", kind, err)
		}
		if n := strings.Count(got, AnswerSeparator); n != 1 {
			t.Errorf("%s: separator occurs %d times, want 1", kind, n)
		}
		questions, answers, ok := SplitAnswers(got)
		if !ok {
			t.Fatalf("%s: SplitAnswers not ok for %q", kind, got)
		}
		if questions == "" || answers == "" {
			t.Errorf("%s: questions=%q answers=%q, want both non-empty", kind, questions, answers)
		}
	}
}

func TestAnalyzeFollowUpUnknownKind(t *testing.T) {
	local := backend.NewFakeLocal("unused")
	gen := newTestGenerator(local, nil, &stubAccounts{}, 6000)

	if _, err := gen.AnalyzeFollowUp(context.Background(), Kind("essay"), "t"); err == nil {
		t.Error("err = nil, want unknown-kind error")
	}
	if local.Calls() != 0 {
		t.Errorf("backend calls = %d, want 0", local.Calls())
	}
}

func TestSplitAnswers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"well formed", "Q\n---ANSWERS---\nA", true},
		{"missing separator", "questions then answers", false},
		{"empty answers", "Q\n---ANSWERS---\n", false},
		{"empty questions", "---ANSWERS---\nA", false},
	}
	for _, tt := range tests {
		if _, _, ok := SplitAnswers(tt.in); ok != tt.ok {
			t.Errorf("%s: ok = %v, want %v", tt.name, ok, tt.ok)
		}
	}
}

func TestReprocessFullTranscript(t *testing.T) {
	local := backend.NewFakeLocal("local answer never used")
	cloud := &backend.FakeCloud{Response: `{"summary":"s","keyPoints":"k","condensedLesson":"c"}`}
	accounts := &stubAccounts{user: &store.User{ID: 1, CallLimit: 50}}
	gen := newTestGenerator(local, cloud, accounts, 6000)

	got, err := gen.ReprocessFullTranscript(context.Background(), ReprocessAnalysis, "full transcript")
	if err != nil {
		t.Fatalf("ReprocessFullTranscript: %v", err)
	}
	if got.Summary != "s" || got.KeyPoints != "k" || got.CondensedLesson != "c" {
		t.Errorf("result = %+v", got)
	}
	if local.Calls() != 0 {
		t.Errorf("local calls = %d, want 0 (reprocess is cloud-only)", local.Calls())
	}
	if cloud.GenerateCalls() != 1 {
		t.Errorf("cloud calls = %d, want 1", cloud.GenerateCalls())
	}
	if accounts.increments != 1 {
		t.Errorf("usage increments = %d, want 1", accounts.increments)
	}
}

func TestReprocessFencedResponse(t *testing.T) {
	local := backend.NewFakeLocal("unused")
	local.Availability = false
	cloud := &backend.FakeCloud{Response: "```json\n{\"homework\":\"h\",\"quiz\":\"q\",\"lessonCreatorPrompt\":\"p\"}\n```"}
	accounts := &stubAccounts{user: &store.User{ID: 1, CallLimit: 50}}
	gen := newTestGenerator(local, cloud, accounts, 6000)

	got, err := gen.ReprocessFullTranscript(context.Background(), ReprocessFollowUps, "full transcript")
	if err != nil {
		t.Fatalf("ReprocessFullTranscript: %v", err)
	}
	if got.Homework != "h" || got.Quiz != "q" || got.LessonCreatorPrompt != "p" {
		t.Errorf("result = %+v", got)
	}
}

func TestReprocessRequiresIdentity(t *testing.T) {
	local := backend.NewFakeLocal("unused")
	cloud := &backend.FakeCloud{Response: "unused"}
	gen := newTestGenerator(local, cloud, &stubAccounts{}, 6000)

	_, err := gen.ReprocessFullTranscript(context.Background(), ReprocessAnalysis, "t")
	if !errors.Is(err, engine.ErrAuthRequired) {
		t.Errorf("err = %v, want ErrAuthRequired", err)
	}
	if cloud.GenerateCalls() != 0 {
		t.Errorf("cloud calls = %d, want 0", cloud.GenerateCalls())
	}
}
