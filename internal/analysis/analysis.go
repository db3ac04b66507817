// Package analysis derives lesson artifacts from a class transcript: title,
// summary, key points, a condensed lesson, plus follow-up homework, quiz,
// and lesson-recreation prompts. Each artifact is one execution engine call;
// transcripts over the local token ceiling are truncated first and the full
// text retained for cloud reprocessing.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/lessonlab/lesson-engine/internal/backend"
	"github.com/lessonlab/lesson-engine/internal/engine"
	"github.com/lessonlab/lesson-engine/internal/transcribe"
)

// AnswerSeparator is the exact line homework and quiz output must contain
// between question content and the answer key. Sharing strips everything
// after it, so the token must appear verbatim.
const AnswerSeparator = "---ANSWERS---"

// Kind names one follow-up artifact.
type Kind string

const (
	KindHomework     Kind = "homework"
	KindQuiz         Kind = "quiz"
	KindLessonPrompt Kind = "lessonPrompt"
)

// Bundle is the result of initial transcript analysis. When Partial is set
// the artifacts were derived from a truncated transcript and FullTranscript
// retains the original for cloud reprocessing. StepErrors records steps
// that failed; the others are still populated.
type Bundle struct {
	Title           string            `json:"title"`
	Summary         string            `json:"summary"`
	KeyPoints       string            `json:"key_points"`
	CondensedLesson string            `json:"condensed_lesson"`
	Partial         bool              `json:"partial"`
	FullTranscript  string            `json:"full_transcript,omitempty"`
	StepErrors      map[string]string `json:"step_errors,omitempty"`
}

// Generator runs analysis and follow-up generation through the execution
// engine.
type Generator struct {
	eng     *engine.Engine
	ceiling int
	log     zerolog.Logger
}

// NewGenerator creates a generator. ceiling is the local token budget above
// which transcripts are truncated for per-step analysis.
func NewGenerator(eng *engine.Engine, ceiling int, log zerolog.Logger) *Generator {
	return &Generator{eng: eng, ceiling: ceiling, log: log}
}

// RunInitialAnalysis derives title, summary, key points, and a condensed
// lesson from the transcript. A failed step is recorded in StepErrors and
// the remaining steps still run.
func (g *Generator) RunInitialAnalysis(ctx context.Context, transcript string) *Bundle {
	text, truncated := TruncateAtWordBoundary(transcript, g.ceiling)
	bundle := &Bundle{Partial: truncated}
	if truncated {
		bundle.FullTranscript = transcript
		g.log.Info().
			Int("tokens", transcribe.EstimateTokens(transcript)).
			Int("ceiling", g.ceiling).
			Msg("transcript over local ceiling, analyzing truncated text")
	}

	steps := []struct {
		name   string
		prompt string
		dest   *string
	}{
		{"title", titlePrompt, &bundle.Title},
		{"summary", summaryPrompt, &bundle.Summary},
		{"keyPoints", keyPointsPrompt, &bundle.KeyPoints},
		{"condensedLesson", condensedPrompt, &bundle.CondensedLesson},
	}

	for _, step := range steps {
		out := g.eng.Execute(ctx, engine.Request{
			Prompt: backend.TextPrompt(step.prompt + "\n\n" + text),
			Options: engine.Options{
				Capability: backend.CapabilitySummarize,
			},
		})
		if out.Status != engine.StatusSuccess {
			if bundle.StepErrors == nil {
				bundle.StepErrors = make(map[string]string)
			}
			bundle.StepErrors[step.name] = string(out.Status) + ": " + out.Reason()
			g.log.Warn().Err(out.Err).Str("step", step.name).Msg("analysis step failed")
			continue
		}
		*step.dest = strings.TrimSpace(out.Text)
	}
	return bundle
}

// AnalyzeFollowUp generates one follow-up artifact. Homework and quiz
// prompts demand the literal answer separator line.
func (g *Generator) AnalyzeFollowUp(ctx context.Context, kind Kind, transcript string) (string, error) {
	var prompt string
	switch kind {
	case KindHomework:
		prompt = homeworkPrompt
	case KindQuiz:
		prompt = quizPrompt
	case KindLessonPrompt:
		prompt = lessonPromptPrompt
	default:
		return "", fmt.Errorf("unknown follow-up kind %q", kind)
	}

	text, _ := TruncateAtWordBoundary(transcript, g.ceiling)
	out := g.eng.Execute(ctx, engine.Request{
		Prompt: backend.TextPrompt(prompt + "\n\n" + text),
		Options: engine.Options{
			Capability: backend.CapabilityWrite,
		},
	})
	if out.Status != engine.StatusSuccess {
		if out.Err != nil {
			return "", fmt.Errorf("%s generation: %w", kind, out.Err)
		}
		return "", fmt.Errorf("%s generation %s", kind, out.Status)
	}
	return strings.TrimSpace(out.Text), nil
}

// ReprocessKind selects which artifact group a cloud bulk reprocess
// returns.
type ReprocessKind string

const (
	// ReprocessAnalysis regenerates summary, key points, and the
	// condensed lesson.
	ReprocessAnalysis ReprocessKind = "analysis"
	// ReprocessFollowUps regenerates homework, quiz, and the lesson
	// creator prompt.
	ReprocessFollowUps ReprocessKind = "followups"
)

// ReprocessResult holds the fields of one bulk reprocess response. Only
// the group matching the requested kind is populated.
type ReprocessResult struct {
	Summary         string `json:"summary,omitempty"`
	KeyPoints       string `json:"keyPoints,omitempty"`
	CondensedLesson string `json:"condensedLesson,omitempty"`

	Homework            string `json:"homework,omitempty"`
	Quiz                string `json:"quiz,omitempty"`
	LessonCreatorPrompt string `json:"lessonCreatorPrompt,omitempty"`
}

// ReprocessFullTranscript runs one cloud bulk call over the full retained
// transcript, returning all artifacts of the requested group as a single
// structured response. Identity and quota gates apply; the caller's usage
// counter is incremented once on success.
func (g *Generator) ReprocessFullTranscript(ctx context.Context, kind ReprocessKind, fullTranscript string) (*ReprocessResult, error) {
	var prompt string
	var schema json.RawMessage
	switch kind {
	case ReprocessAnalysis:
		prompt = reprocessAnalysisPrompt
		schema = reprocessAnalysisSchema
	case ReprocessFollowUps:
		prompt = reprocessFollowUpsPrompt
		schema = reprocessFollowUpsSchema
	default:
		return nil, fmt.Errorf("unknown reprocess kind %q", kind)
	}

	out := g.eng.Execute(ctx, engine.Request{
		Prompt: backend.TextPrompt(prompt + "\n\n" + fullTranscript),
		Options: engine.Options{
			Capability: backend.CapabilitySummarize,
			Schema:     schema,
			Route:      engine.RouteCloud,
		},
	})
	if out.Status != engine.StatusSuccess {
		if out.Err != nil {
			return nil, fmt.Errorf("reprocess: %w", out.Err)
		}
		return nil, fmt.Errorf("reprocess %s", out.Status)
	}

	var result ReprocessResult
	if err := decodeJSON(out.Text, &result); err != nil {
		return nil, fmt.Errorf("reprocess response: %w", err)
	}
	return &result, nil
}

// SplitAnswers splits homework or quiz text on the answer separator line.
// ok is false when the separator is missing or either side is empty.
func SplitAnswers(text string) (questions, answers string, ok bool) {
	before, after, found := strings.Cut(text, AnswerSeparator)
	if !found {
		return "", "", false
	}
	questions = strings.TrimSpace(before)
	answers = strings.TrimSpace(after)
	return questions, answers, questions != "" && answers != ""
}

// TruncateAtWordBoundary cuts text at the last word boundary at or before
// the token ceiling. Text at or under the ceiling passes through unchanged.
func TruncateAtWordBoundary(text string, maxTokens int) (string, bool) {
	if transcribe.EstimateTokens(text) <= maxTokens {
		return text, false
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text, false
	}

	cut := limit
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		// One unbroken run longer than the whole budget; hard cut.
		cut = limit
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace), true
}

// decodeJSON unmarshals model output that may be wrapped in a markdown
// code fence.
func decodeJSON(text string, v any) error {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	return json.Unmarshal([]byte(s), v)
}

const (
	titlePrompt = "Generate a short, descriptive title for the class covered by the transcript below. Respond with the title only, no quotes or commentary."

	summaryPrompt = "Summarize the class transcript below in a few paragraphs a student could review before an exam."

	keyPointsPrompt = "List the key points of the class transcript below as a concise bulleted list."

	condensedPrompt = "Rewrite the class transcript below as a condensed lesson: keep every concept that was taught, drop repetition and asides."

	homeworkPrompt = "Create a homework assignment based on the class transcript below. Write the assignment questions first. Then output the line ---ANSWERS--- exactly, on its own line. Then write the answer key. Do not use the separator line anywhere else."

	quizPrompt = "Create a short quiz based on the class transcript below. Write the quiz questions first. Then output the line ---ANSWERS--- exactly, on its own line. Then write the answer key. Do not use the separator line anywhere else."

	lessonPromptPrompt = "Write a single prompt that a teacher could paste into a lesson creator to recreate the lesson taught in the transcript below. Respond with the prompt text only."

	reprocessAnalysisPrompt = "Analyze the full class transcript below and return a JSON object with fields summary, keyPoints, and condensedLesson."

	reprocessFollowUpsPrompt = "Based on the full class transcript below, return a JSON object with fields homework, quiz, and lessonCreatorPrompt. The homework and quiz values must each contain the line ---ANSWERS--- exactly once, separating questions from the answer key."
)

var (
	reprocessAnalysisSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "keyPoints": {"type": "string"},
    "condensedLesson": {"type": "string"}
  },
  "required": ["summary", "keyPoints", "condensedLesson"]
}`)

	reprocessFollowUpsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "homework": {"type": "string"},
    "quiz": {"type": "string"},
    "lessonCreatorPrompt": {"type": "string"}
  },
  "required": ["homework", "quiz", "lessonCreatorPrompt"]
}`)
)
