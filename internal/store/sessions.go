package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord is a saved teacher-assistant session: the transcript plus
// every derived analysis artifact. FullTranscript retains the untruncated
// transcript when only partial analysis could run locally.
type SessionRecord struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Transcript      string    `json:"transcript"`
	FullTranscript  string    `json:"full_transcript,omitempty"`
	Partial         bool      `json:"partial"`
	Summary         string    `json:"summary"`
	KeyPoints       string    `json:"key_points"`
	CondensedLesson string    `json:"condensed_lesson"`
	Homework        string    `json:"homework"`
	Quiz            string    `json:"quiz"`
	LessonPrompt    string    `json:"lesson_prompt"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// InsertSession stores a new assistant session and returns its id.
func (s *Store) InsertSession(ctx context.Context, r *SessionRecord) (int64, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO assistant_sessions
		(title, transcript, full_transcript, partial, summary, key_points,
		 condensed_lesson, homework, quiz, lesson_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Title, r.Transcript, r.FullTranscript, boolToInt(r.Partial), r.Summary,
		r.KeyPoints, r.CondensedLesson, r.Homework, r.Quiz, r.LessonPrompt, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	return res.LastInsertId()
}

// UpdateSession updates an existing record in place.
func (s *Store) UpdateSession(ctx context.Context, r *SessionRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE assistant_sessions SET
		title = ?, transcript = ?, full_transcript = ?, partial = ?, summary = ?,
		key_points = ?, condensed_lesson = ?, homework = ?, quiz = ?,
		lesson_prompt = ?, updated_at = ?
		WHERE id = ?`,
		r.Title, r.Transcript, r.FullTranscript, boolToInt(r.Partial), r.Summary,
		r.KeyPoints, r.CondensedLesson, r.Homework, r.Quiz, r.LessonPrompt,
		time.Now().Unix(), r.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSession loads one assistant session.
func (s *Store) GetSession(ctx context.Context, id int64) (*SessionRecord, error) {
	var r SessionRecord
	var partial int
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, transcript, full_transcript, partial, summary, key_points,
		       condensed_lesson, homework, quiz, lesson_prompt, created_at, updated_at
		FROM assistant_sessions WHERE id = ?`, id).
		Scan(&r.ID, &r.Title, &r.Transcript, &r.FullTranscript, &partial, &r.Summary,
			&r.KeyPoints, &r.CondensedLesson, &r.Homework, &r.Quiz, &r.LessonPrompt,
			&created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	r.Partial = partial != 0
	r.CreatedAt = time.Unix(created, 0)
	r.UpdatedAt = time.Unix(updated, 0)
	return &r, nil
}

// ListSessions returns assistant sessions newest-first, without transcript
// bodies (title and analysis status only).
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, partial, created_at, updated_at
		FROM assistant_sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var partial int
		var created, updated int64
		if err := rows.Scan(&r.ID, &r.Title, &partial, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.Partial = partial != 0
		r.CreatedAt = time.Unix(created, 0)
		r.UpdatedAt = time.Unix(updated, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSession removes one assistant session.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM assistant_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
