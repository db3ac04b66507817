package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.sqlite"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLessonRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertLesson(ctx, &Lesson{
		Title: "Photosynthesis",
		Topic: "biology",
		Grade: "5",
		Quiz:  "Q1...",
		Scenes: []Scene{
			{Idx: 0, Narration: "Plants capture light.", Image: []byte{0x89, 0x50}, ImageMIME: "image/png"},
			{Idx: 1, Narration: "Chlorophyll absorbs it."},
		},
	})
	if err != nil {
		t.Fatalf("InsertLesson: %v", err)
	}

	got, err := s.GetLesson(ctx, id)
	if err != nil {
		t.Fatalf("GetLesson: %v", err)
	}
	if got.Title != "Photosynthesis" {
		t.Errorf("Title = %q, want Photosynthesis", got.Title)
	}
	if len(got.Scenes) != 2 {
		t.Fatalf("scenes = %d, want 2", len(got.Scenes))
	}
	if got.Scenes[0].ImageMIME != "image/png" || len(got.Scenes[0].Image) != 2 {
		t.Errorf("scene 0 image not preserved: %+v", got.Scenes[0])
	}

	list, err := s.ListLessons(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListLessons: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list = %d lessons, want 1", len(list))
	}

	if err := s.DeleteLesson(ctx, id); err != nil {
		t.Fatalf("DeleteLesson: %v", err)
	}
	if _, err := s.GetLesson(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLesson after delete: err = %v, want ErrNotFound", err)
	}
}

func TestSessionUpdateInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertSession(ctx, &SessionRecord{
		Title:      "Tuesday class",
		Transcript: "short transcript",
	})
	if err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	rec, err := s.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	rec.Summary = "a summary"
	rec.Partial = true
	rec.FullTranscript = "short transcript plus the rest"
	if err := s.UpdateSession(ctx, rec); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, err := s.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Summary != "a summary" {
		t.Errorf("Summary = %q, want updated value", got.Summary)
	}
	if !got.Partial {
		t.Error("Partial = false, want true")
	}
	if got.FullTranscript == "" {
		t.Error("FullTranscript lost on update")
	}
}

func TestUpdateMissingSession(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateSession(context.Background(), &SessionRecord{ID: 999})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSession(999) err = %v, want ErrNotFound", err)
	}
}

func TestUserQuota(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "teacher", 5)
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if u.Token == "" {
		t.Error("Token empty, want generated")
	}
	if u.CallLimit != 5 {
		t.Errorf("CallLimit = %d, want 5", u.CallLimit)
	}

	// EnsureUser is idempotent.
	again, err := s.EnsureUser(ctx, "teacher", 99)
	if err != nil {
		t.Fatalf("EnsureUser again: %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("second EnsureUser created a new user: %d != %d", again.ID, u.ID)
	}

	for i := int64(1); i <= 3; i++ {
		n, err := s.IncrementCalls(ctx, u.ID)
		if err != nil {
			t.Fatalf("IncrementCalls: %v", err)
		}
		if n != i {
			t.Errorf("IncrementCalls returned %d, want %d", n, i)
		}
	}

	byToken, err := s.UserByToken(ctx, u.Token)
	if err != nil {
		t.Fatalf("UserByToken: %v", err)
	}
	if byToken.Calls != 3 {
		t.Errorf("Calls = %d, want 3", byToken.Calls)
	}

	if _, err := s.UserByToken(ctx, "bogus"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UserByToken(bogus) err = %v, want ErrNotFound", err)
	}
}
