package store

import (
	"context"
	"testing"

	"github.com/54b3r/docchat-go/internal/rag"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "u1", "s1", rag.RoleUser, "hello"); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := s.Append(ctx, "u1", "s1", rag.RoleAssistant, "world"); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	msgs, err := s.Recent(ctx, "u1", "s1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != rag.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("msg[0]: want user/hello, got %s/%s", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != rag.RoleAssistant || msgs[1].Content != "world" {
		t.Errorf("msg[1]: want assistant/world, got %s/%s", msgs[1].Role, msgs[1].Content)
	}
}

func Test_Store_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 6 {
		role := rag.RoleUser
		if i%2 == 1 {
			role = rag.RoleAssistant
		}
		if err := s.Append(ctx, "u1", "s1", role, "msg"); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "u1", "s1", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("want 4 messages, got %d", len(msgs))
	}
}

func Test_Store_SessionIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "u1", "work", rag.RoleUser, "from work"); err != nil {
		t.Fatalf("append work: %v", err)
	}
	if err := s.Append(ctx, "u1", "play", rag.RoleUser, "from play"); err != nil {
		t.Fatalf("append play: %v", err)
	}
	// Same session name under a different user must stay separate.
	if err := s.Append(ctx, "u2", "work", rag.RoleUser, "other user"); err != nil {
		t.Fatalf("append other user: %v", err)
	}

	msgs, err := s.Recent(ctx, "u1", "work", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "from work" {
		t.Errorf("session isolation failed: got %v", msgs)
	}
}

func Test_Store_EmptySessionReturnsNil(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	msgs, err := s.Recent(ctx, "u1", "none", 10)
	if err != nil {
		t.Fatalf("recent empty: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("want 0 messages, got %d", len(msgs))
	}
}

func Test_Store_OldestFirstOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if err := s.Append(ctx, "u1", "order", rag.RoleUser, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "u1", "order", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for i, want := range contents {
		if msgs[i].Content != want {
			t.Errorf("msg[%d]: want %q, got %q", i, want, msgs[i].Content)
		}
	}
}

func Test_Store_PurgeRemovesAllSessions(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "u1", "a", rag.RoleUser, "one"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "u1", "b", rag.RoleUser, "two"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "u2", "a", rag.RoleUser, "keep"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.Purge(ctx, "u1"); err != nil {
		t.Fatalf("purge: %v", err)
	}

	for _, session := range []string{"a", "b"} {
		msgs, err := s.Recent(ctx, "u1", session, 10)
		if err != nil {
			t.Fatalf("recent after purge: %v", err)
		}
		if len(msgs) != 0 {
			t.Errorf("session %s has %d messages after purge, want 0", session, len(msgs))
		}
	}

	msgs, err := s.Recent(ctx, "u2", "a", 10)
	if err != nil {
		t.Fatalf("recent u2: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("u2 lost history to another user's purge")
	}
}

func Test_Store_Turns(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		{Role: rag.RoleUser, Content: "q"},
		{Role: rag.RoleAssistant, Content: "a"},
	}
	turns := Turns(msgs)
	if len(turns) != 2 {
		t.Fatalf("want 2 turns, got %d", len(turns))
	}
	if turns[0] != (rag.Turn{Role: rag.RoleUser, Text: "q"}) {
		t.Errorf("turn[0] = %+v", turns[0])
	}
	if turns[1] != (rag.Turn{Role: rag.RoleAssistant, Text: "a"}) {
		t.Errorf("turn[1] = %+v", turns[1])
	}
}
