package history

import (
	"testing"

	"github.com/kalambet/solace/internal/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("no migrations applied")
	}
	if versions[0] != 1 {
		t.Errorf("first migration = %d, want 1", versions[0])
	}
}

func TestAppendAndRecent(t *testing.T) {
	s := newTestStore(t)

	err := s.Append(
		chat.Turn{Role: chat.RoleUser, Content: "I'm so stressed"},
		chat.Turn{Role: chat.RoleAssistant, Content: "I hear you."},
	)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Role != chat.RoleUser || entries[0].Content != "I'm so stressed" {
		t.Errorf("entries[0] = %+v, want the user turn first", entries[0])
	}
	if entries[1].Role != chat.RoleAssistant || entries[1].Content != "I hear you." {
		t.Errorf("entries[1] = %+v, want the assistant turn", entries[1])
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Errorf("entry IDs not unique: %q, %q", entries[0].ID, entries[1].ID)
	}
}

func TestRecent_Limit(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Append(chat.Turn{Role: chat.RoleUser, Content: "msg"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := s.Recent(3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}
}

func TestGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append(chat.Turn{Role: chat.RoleAssistant, Content: "noted"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}

	got, err := s.Get(entries[0].ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "noted" {
		t.Errorf("Content = %q, want %q", got.Content, "noted")
	}

	if _, err := s.Get("no-such-id"); err != ErrNotFound {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append(chat.Turn{Role: chat.RoleUser, Content: "bye"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d after Clear, want 0", n)
	}
}
