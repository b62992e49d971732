package repository

import (
	"errors"
	"sync"
	"testing"
	"time"

	"chatbot-backend/internal/models"
)

func TestConversationRepo_GetOrCreate(t *testing.T) {
	repo := NewConversationRepo()

	history, created := repo.GetOrCreate("s1")
	if !created {
		t.Fatalf("expected first call to create the session")
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(history))
	}

	if _, created := repo.GetOrCreate("s1"); created {
		t.Fatalf("expected second call to reuse the session")
	}
	if got := len(repo.List()); got != 1 {
		t.Fatalf("expected exactly 1 session, got %d", got)
	}
}

func TestConversationRepo_AppendUnknownSession(t *testing.T) {
	repo := NewConversationRepo()

	_, err := repo.Append("missing", models.ChatMessage{Role: models.RoleUser, Content: "hi"})
	if !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if len(repo.List()) != 0 {
		t.Fatalf("append must not create sessions implicitly")
	}
}

func TestConversationRepo_AppendPreservesOrder(t *testing.T) {
	repo := NewConversationRepo()
	repo.GetOrCreate("s1")

	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi there"},
		{Role: models.RoleUser, Content: "how are you"},
	}
	for i, m := range msgs {
		n, err := repo.Append("s1", m)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if n != i+1 {
			t.Errorf("Expected length %d, got %d", i+1, n)
		}
	}

	history, err := repo.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := range msgs {
		if history[i] != msgs[i] {
			t.Errorf("message %d: expected %+v, got %+v", i, msgs[i], history[i])
		}
	}
}

func TestConversationRepo_ReturnsCopies(t *testing.T) {
	repo := NewConversationRepo()
	repo.GetOrCreate("s1")
	repo.Append("s1", models.ChatMessage{Role: models.RoleUser, Content: "hello"})

	history, _ := repo.Get("s1")
	history[0].Content = "tampered"

	again, _ := repo.Get("s1")
	if again[0].Content != "hello" {
		t.Fatalf("stored history was mutated through a returned slice: %q", again[0].Content)
	}
}

func TestConversationRepo_Delete(t *testing.T) {
	repo := NewConversationRepo()
	repo.GetOrCreate("s1")

	if !repo.Delete("s1") {
		t.Fatalf("expected delete of existing session to report true")
	}
	if _, ok := repo.List()["s1"]; ok {
		t.Fatalf("deleted session still listed")
	}
	if repo.Delete("s1") {
		t.Fatalf("expected delete of missing session to report false")
	}
	if _, err := repo.Get("s1"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession after delete, got %v", err)
	}
}

func TestConversationRepo_Clear(t *testing.T) {
	repo := NewConversationRepo()

	if err := repo.Clear("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}

	repo.GetOrCreate("s1")
	repo.Append("s1", models.ChatMessage{Role: models.RoleUser, Content: "hello"})
	if err := repo.Clear("s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	counts := repo.List()
	if n, ok := counts["s1"]; !ok || n != 0 {
		t.Fatalf("expected cleared session to remain with 0 messages, got %d (present=%v)", n, ok)
	}
}

func TestConversationRepo_List(t *testing.T) {
	repo := NewConversationRepo()
	repo.GetOrCreate("a")
	repo.GetOrCreate("b")
	repo.Append("b", models.ChatMessage{Role: models.RoleUser, Content: "x"}, models.ChatMessage{Role: models.RoleAssistant, Content: "y"})

	counts := repo.List()
	if counts["a"] != 0 || counts["b"] != 2 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestConversationRepo_ConcurrentSessions(t *testing.T) {
	repo := NewConversationRepo()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			repo.GetOrCreate(id)
			for i := 0; i < 50; i++ {
				repo.Append(id, models.ChatMessage{Role: models.RoleUser, Content: id})
			}
		}(id)
	}
	wg.Wait()

	for id, n := range repo.List() {
		if n != 50 {
			t.Errorf("session %s: expected 50 messages, got %d", id, n)
		}
	}
}

func TestConversationRepo_LockSessionSerializes(t *testing.T) {
	repo := NewConversationRepo()

	unlock := repo.LockSession("s1")

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		release := repo.LockSession("s1")
		close(acquired)
		release()
		close(released)
	}()

	select {
	case <-acquired:
		t.Fatalf("second locker acquired the session lock while it was held")
	case <-time.After(50 * time.Millisecond):
	}

	// A different session is never blocked.
	other := repo.LockSession("s2")
	other()

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second locker never acquired the session lock")
	}

	<-released

	// Calling unlock twice is harmless.
	unlock()

	repo.locksMu.Lock()
	remaining := len(repo.locks)
	repo.locksMu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected idle locks to be dropped, %d remain", remaining)
	}
}
