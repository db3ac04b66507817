package engine

import (
	"encoding/json"
	"strings"

	"github.com/lessonlab/lesson-engine/internal/metrics"
)

// withSchemaRetry runs fn, and when a schema was requested but the output
// is not well-formed structured data, re-runs it until maxAttempts is
// reached. Some local backends are known to ignore the schema constraint on
// the first call of a fresh session; one silent retry covers that. If the
// last attempt is still invalid the text is returned as-is; the caller
// must re-validate before trusting it. Execution errors are never retried here.
func withSchemaRetry(wantSchema bool, maxAttempts int, fn func() (string, error)) (string, error) {
	text, err := fn()
	if err != nil || !wantSchema {
		return text, err
	}
	for attempt := 1; attempt < maxAttempts; attempt++ {
		if _, ok := jsonPayload(text); ok {
			return text, nil
		}
		metrics.SchemaRetriesTotal.Inc()
		text, err = fn()
		if err != nil {
			return text, err
		}
	}
	return text, nil
}

// jsonPayload strips an optional markdown code fence and reports whether
// the remainder is well-formed JSON, returning the bare payload.
func jsonPayload(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if s == "" || !json.Valid([]byte(s)) {
		return "", false
	}
	return s, true
}
