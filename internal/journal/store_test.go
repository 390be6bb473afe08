package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/udhaarlabs/udhaar-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.JournalConfig{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.AppendSession(context.Background(), "s1", "recording"); err != nil {
		t.Fatalf("append session on ephemeral store: %v", err)
	}
	events, err := s.ListSessionEvents(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if events != nil {
		t.Fatalf("ephemeral store should keep nothing, got %v", events)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "sessions.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessionID := "session-123"
	if err := s.AppendSession(context.Background(), sessionID, "recording"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.UpdateSession(context.Background(), sessionID, "analyzed", "lend 500 to rahul", 0.9); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if err := s.AppendEvent(context.Background(), Event{SessionID: sessionID, Type: "intent_extracted", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := s.ListSessionEvents(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != "intent_extracted" {
		t.Fatalf("unexpected event type: %s", events[0].Type)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "sessions.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendSession(context.Background(), "old-session", "complete"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.AppendEvent(context.Background(), Event{SessionID: "old-session", Type: "session_started"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendSession(context.Background(), "new-session", "recording"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := s.ListSessionEvents(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
