package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if !es.disabled() || es.db != nil {
		t.Fatal("ephemeral store should not hold a database connection")
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "s", Type: "start"}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	sess := Session{ID: "session-123", RecognizerID: "kitchen", Language: "en"}
	if err := es.AppendSession(ctx, sess); err != nil {
		t.Fatalf("append session: %v", err)
	}
	for _, typ := range []string{"start", "result", "end"} {
		if err := es.AppendEvent(ctx, Event{SessionID: sess.ID, RecognizerID: "kitchen", Type: typ, Payload: []byte(typ)}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	events, err := es.ListSessionEvents(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Type != "result" || string(events[1].Payload) != "result" {
		t.Fatalf("unexpected event %+v", events[1])
	}

	sessions, err := es.ListSessions(ctx, "kitchen", 5)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sess.ID || sessions[0].Language != "en" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	ctx := context.Background()
	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, Session{ID: "old-session", RecognizerID: "desk"}); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", RecognizerID: "desk", Type: "start"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(ctx, Session{ID: "new-session", RecognizerID: "desk"}); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	sessions, err := es.ListSessions(ctx, "desk", 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "new-session" {
		t.Fatalf("expected only new session, got %+v", sessions)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	if got := parseTimestamp(want); !got.Equal(want) {
		t.Fatalf("time value: got %v", got)
	}
	if got := parseTimestamp(want.Format(time.RFC3339Nano)); !got.Equal(want) {
		t.Fatalf("rfc3339: got %v", got)
	}
	if got := parseTimestamp(want.String()); !got.Equal(want) {
		t.Fatalf("driver layout: got %v", got)
	}
	if !parseTimestamp(42).IsZero() {
		t.Fatal("expected zero time for unsupported type")
	}
}
