package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	t.Run("subscriber_receives_published_event", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{})
		defer cancel()

		b.Publish("job_progress", "job-1", map[string]string{"state": "chunking"})

		select {
		case evt := <-ch:
			if evt.Type != "job_progress" {
				t.Errorf("Type = %q, want job_progress", evt.Type)
			}
			if evt.JobID != "job-1" {
				t.Errorf("JobID = %q, want job-1", evt.JobID)
			}
			if evt.ID == "" {
				t.Error("expected non-empty event ID")
			}
			var payload map[string]string
			if err := json.Unmarshal(evt.Data, &payload); err != nil {
				t.Fatalf("Data is not valid JSON: %v", err)
			}
			if payload["state"] != "chunking" {
				t.Errorf("payload state = %q, want chunking", payload["state"])
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("filtered_subscriber_misses_non_matching", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{Types: []string{"job_done"}})
		defer cancel()

		b.Publish("job_progress", "job-1", "x")

		select {
		case evt := <-ch:
			t.Fatalf("unexpected event %q delivered past filter", evt.Type)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("job_id_filter", func(t *testing.T) {
		b := NewBus(64)
		ch, cancel := b.Subscribe(Filter{JobIDs: []string{"job-2"}})
		defer cancel()

		b.Publish("job_progress", "job-1", "skip")
		b.Publish("job_progress", "job-2", "keep")

		select {
		case evt := <-ch:
			if evt.JobID != "job-2" {
				t.Errorf("JobID = %q, want job-2", evt.JobID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	})

	t.Run("cancel_removes_subscriber", func(t *testing.T) {
		b := NewBus(64)
		_, cancel := b.Subscribe(Filter{})
		if got := b.SubscriberCount(); got != 1 {
			t.Fatalf("SubscriberCount = %d, want 1", got)
		}
		cancel()
		if got := b.SubscriberCount(); got != 0 {
			t.Errorf("SubscriberCount = %d, want 0", got)
		}
	})
}

func TestBusReplay(t *testing.T) {
	b := NewBus(8)
	b.Publish("a", "", 1)
	b.Publish("b", "", 2)
	b.Publish("c", "", 3)

	all := b.ReplaySince("", Filter{})
	if len(all) != 3 {
		t.Fatalf("ReplaySince(\"\") = %d events, want 3", len(all))
	}
	if all[0].Type != "a" || all[2].Type != "c" {
		t.Errorf("replay order = [%s %s %s], want [a b c]", all[0].Type, all[1].Type, all[2].Type)
	}

	after := b.ReplaySince(all[0].ID, Filter{})
	if len(after) != 2 || after[0].Type != "b" {
		t.Errorf("ReplaySince(first) = %d events starting %q, want 2 starting b", len(after), after[0].Type)
	}

	// Overflow the ring; oldest events fall off.
	for i := 0; i < 10; i++ {
		b.Publish("late", "", i)
	}
	if got := len(b.ReplaySince("", Filter{})); got > 8 {
		t.Errorf("replay after overflow = %d events, want at most ring size", got)
	}
}
