package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// Scene is one illustrated step of a lesson. Image holds the raw encoded
// image bytes; it is omitted from list queries.
type Scene struct {
	Idx       int    `json:"idx"`
	Narration string `json:"narration"`
	Image     []byte `json:"image,omitempty"`
	ImageMIME string `json:"image_mime,omitempty"`
}

// Lesson is a generated, illustrated, quiz-backed lesson.
type Lesson struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Topic     string    `json:"topic"`
	Grade     string    `json:"grade"`
	Quiz      string    `json:"quiz"`
	Scenes    []Scene   `json:"scenes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InsertLesson stores a lesson and its scenes in one transaction and
// returns the assigned id.
func (s *Store) InsertLesson(ctx context.Context, l *Lesson) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO lessons (title, topic, grade, quiz, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.Title, l.Topic, l.Grade, l.Quiz, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert lesson: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	for _, sc := range l.Scenes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lesson_scenes (lesson_id, idx, narration, image, image_mime)
			VALUES (?, ?, ?, ?, ?)`,
			id, sc.Idx, sc.Narration, sc.Image, sc.ImageMIME); err != nil {
			return 0, fmt.Errorf("insert scene %d: %w", sc.Idx, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// GetLesson loads one lesson with its scenes (including image data).
func (s *Store) GetLesson(ctx context.Context, id int64) (*Lesson, error) {
	var l Lesson
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, topic, grade, quiz, created_at, updated_at
		FROM lessons WHERE id = ?`, id).
		Scan(&l.ID, &l.Title, &l.Topic, &l.Grade, &l.Quiz, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query lesson: %w", err)
	}
	l.CreatedAt = time.Unix(created, 0)
	l.UpdatedAt = time.Unix(updated, 0)

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, narration, image, image_mime
		FROM lesson_scenes WHERE lesson_id = ? ORDER BY idx ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query scenes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc Scene
		if err := rows.Scan(&sc.Idx, &sc.Narration, &sc.Image, &sc.ImageMIME); err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		l.Scenes = append(l.Scenes, sc)
	}
	return &l, rows.Err()
}

// ListLessons returns lessons newest-first, without scene image data.
func (s *Store) ListLessons(ctx context.Context, limit, offset int) ([]Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, topic, grade, quiz, created_at, updated_at
		FROM lessons ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query lessons: %w", err)
	}
	defer rows.Close()

	var lessons []Lesson
	for rows.Next() {
		var l Lesson
		var created, updated int64
		if err := rows.Scan(&l.ID, &l.Title, &l.Topic, &l.Grade, &l.Quiz, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		l.CreatedAt = time.Unix(created, 0)
		l.UpdatedAt = time.Unix(updated, 0)
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// DeleteLesson removes a lesson and, via cascade, its scenes.
func (s *Store) DeleteLesson(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lessons WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
