package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"chatbot-backend/internal/models"
	"chatbot-backend/internal/repository"
)

type stubGateway struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  [][]models.ChatMessage
	params []GenerationParams
}

func (g *stubGateway) Generate(_ context.Context, messages []models.ChatMessage, params GenerationParams) (models.ChatMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sent := make([]models.ChatMessage, len(messages))
	copy(sent, messages)
	g.calls = append(g.calls, sent)
	g.params = append(g.params, params)
	if g.err != nil {
		return models.ChatMessage{}, g.err
	}
	return models.ChatMessage{Role: models.RoleAssistant, Content: g.reply}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.WSMessage
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, msg models.WSMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msg)
}

func newTestService(gw Gateway, pub Publisher) (*ChatService, *repository.ConversationRepo) {
	repo := repository.NewConversationRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewChatService(repo, gw, GenerationParams{Model: "test-model", Temperature: 0.7}, pub, logger)
	return svc, repo
}

func TestProcessTurn_FirstTurn(t *testing.T) {
	gw := &stubGateway{reply: "hi there"}
	svc, repo := newTestService(gw, nil)

	result, err := svc.ProcessTurn(context.Background(), "s1", "hello")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if result.Reply != "hi there" || result.SessionID != "s1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	history, err := repo.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := []models.ChatMessage{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi there"},
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(history))
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("message %d: expected %+v, got %+v", i, want[i], history[i])
		}
	}

	if gw.params[0].Model != "test-model" || gw.params[0].Temperature != 0.7 {
		t.Errorf("generation params not passed through: %+v", gw.params[0])
	}
}

func TestProcessTurn_SecondTurnSendsFullHistory(t *testing.T) {
	gw := &stubGateway{reply: "hi there"}
	svc, repo := newTestService(gw, nil)
	ctx := context.Background()

	if _, err := svc.ProcessTurn(ctx, "s1", "hello"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	gw.reply = "doing well"
	if _, err := svc.ProcessTurn(ctx, "s1", "how are you"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	want := []models.ChatMessage{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi there"},
		{Role: models.RoleUser, Content: "how are you"},
		{Role: models.RoleAssistant, Content: "doing well"},
	}
	history, _ := repo.Get("s1")
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history))
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("message %d: expected %+v, got %+v", i, want[i], history[i])
		}
	}

	second := gw.calls[1]
	if len(second) != 3 {
		t.Fatalf("expected second outbound request to carry 3 messages, got %d", len(second))
	}
	for i := range second {
		if second[i] != want[i] {
			t.Errorf("outbound %d: expected %+v, got %+v", i, want[i], second[i])
		}
	}
}

func TestProcessTurn_AlternatesRoles(t *testing.T) {
	gw := &stubGateway{reply: "ok"}
	svc, repo := newTestService(gw, nil)

	const turns = 7
	for i := 0; i < turns; i++ {
		if _, err := svc.ProcessTurn(context.Background(), "fresh", fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	history, _ := repo.Get("fresh")
	if len(history) != 2*turns {
		t.Fatalf("expected %d messages, got %d", 2*turns, len(history))
	}
	for i, m := range history {
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleAssistant
		}
		if m.Role != want {
			t.Errorf("message %d: expected role %q, got %q", i, want, m.Role)
		}
	}
}

func TestProcessTurn_UnseenSessionCreatesExactlyOne(t *testing.T) {
	svc, repo := newTestService(&stubGateway{reply: "ok"}, nil)

	if _, err := svc.ProcessTurn(context.Background(), "brand-new", "hi"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	sessions := repo.List()
	if len(sessions) != 1 {
		t.Fatalf("expected exactly one session, got %v", sessions)
	}
	if sessions["brand-new"] != 2 {
		t.Fatalf("expected 2 messages in new session, got %d", sessions["brand-new"])
	}
}

func TestProcessTurn_DefaultSession(t *testing.T) {
	svc, repo := newTestService(&stubGateway{reply: "ok"}, nil)

	result, err := svc.ProcessTurn(context.Background(), "  ", "hi")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if result.SessionID != models.DefaultSessionID {
		t.Fatalf("expected session %q, got %q", models.DefaultSessionID, result.SessionID)
	}
	if _, err := repo.Get(models.DefaultSessionID); err != nil {
		t.Fatalf("expected default session to exist: %v", err)
	}
}

func TestProcessTurn_UpstreamFailureKeepsUserMessage(t *testing.T) {
	upstream := &UpstreamError{Provider: "stub", StatusCode: 503, Detail: "overloaded"}
	gw := &stubGateway{reply: "hi there"}
	svc, repo := newTestService(gw, nil)
	ctx := context.Background()

	if _, err := svc.ProcessTurn(ctx, "s1", "hello"); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	gw.err = upstream
	_, err := svc.ProcessTurn(ctx, "s1", "are you there?")
	if err == nil {
		t.Fatalf("expected upstream error to propagate")
	}
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *UpstreamError, got %T", err)
	}
	if upErr.StatusCode != 503 {
		t.Errorf("Expected status 503, got %d", upErr.StatusCode)
	}

	history, _ := repo.Get("s1")
	if len(history)%2 != 1 {
		t.Fatalf("expected odd history length after failed turn, got %d", len(history))
	}
	last := history[len(history)-1]
	if last.Role != models.RoleUser || last.Content != "are you there?" {
		t.Fatalf("expected trailing unanswered user message, got %+v", last)
	}

	// The next turn sees the unanswered message.
	gw.err = nil
	if _, err := svc.ProcessTurn(ctx, "s1", "hello again"); err != nil {
		t.Fatalf("recovery turn: %v", err)
	}
	sent := gw.calls[len(gw.calls)-1]
	if len(sent) != 4 || sent[2].Content != "are you there?" {
		t.Fatalf("expected outbound request to include the unanswered message, got %+v", sent)
	}
}

func TestProcessTurn_ValidationRejectsEmptyInput(t *testing.T) {
	gw := &stubGateway{reply: "ok"}
	svc, repo := newTestService(gw, nil)

	for _, input := range []string{"", "   ", "\n\t"} {
		_, err := svc.ProcessTurn(context.Background(), "s1", input)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("input %q: expected *ValidationError, got %v", input, err)
		}
		if vErr.Fields["user_input"] == "" {
			t.Errorf("input %q: expected user_input field error", input)
		}
	}

	if len(repo.List()) != 0 {
		t.Fatalf("validation failure must not touch the store")
	}
	if len(gw.calls) != 0 {
		t.Fatalf("validation failure must not call the gateway")
	}
}

func TestProcessTurn_AfterDeleteStartsFresh(t *testing.T) {
	gw := &stubGateway{reply: "hi there"}
	svc, repo := newTestService(gw, nil)
	ctx := context.Background()

	svc.ProcessTurn(ctx, "s2", "first")
	svc.ProcessTurn(ctx, "s2", "second")
	if !svc.DeleteSession(ctx, "s2") {
		t.Fatalf("expected delete to report existing session")
	}

	if _, err := svc.ProcessTurn(ctx, "s2", "hello"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	sent := gw.calls[len(gw.calls)-1]
	if len(sent) != 1 || sent[0].Content != "hello" {
		t.Fatalf("expected a fresh outbound history, got %+v", sent)
	}
	history, _ := repo.Get("s2")
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
}

func TestProcessTurn_SameSessionSerialized(t *testing.T) {
	gw := &stubGateway{reply: "ok"}
	svc, repo := newTestService(gw, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.ProcessTurn(context.Background(), "shared", fmt.Sprintf("msg %d", i)); err != nil {
				t.Errorf("turn %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	history, _ := repo.Get("shared")
	if len(history) != 40 {
		t.Fatalf("expected 40 messages, got %d", len(history))
	}
	for i, m := range history {
		if (i%2 == 0) != (m.Role == models.RoleUser) {
			t.Fatalf("turns interleaved at message %d: %+v", i, m)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newTestService(&stubGateway{reply: "ok"}, pub)
	ctx := context.Background()

	svc.ProcessTurn(ctx, "s1", "hi")

	if !svc.DeleteSession(ctx, "s1") {
		t.Fatalf("expected true for existing session")
	}
	if _, ok := svc.ListSessions()["s1"]; ok {
		t.Fatalf("deleted session still listed")
	}
	if svc.DeleteSession(ctx, "s1") {
		t.Fatalf("expected false for missing session")
	}

	types := make([]string, 0, len(pub.events))
	for _, e := range pub.events {
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != models.WSTypeTurnCompleted || types[1] != models.WSTypeSessionDeleted {
		t.Fatalf("unexpected published events: %v", types)
	}
}

func TestClearSessionAndHistory(t *testing.T) {
	svc, _ := newTestService(&stubGateway{reply: "ok"}, nil)
	ctx := context.Background()

	var nf *NotFoundError
	if err := svc.ClearSession(ctx, "nope"); !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if _, err := svc.History("nope"); !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}

	svc.ProcessTurn(ctx, "s1", "hi")
	history, err := svc.History("s1")
	if err != nil || len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d (err=%v)", len(history), err)
	}

	if err := svc.ClearSession(ctx, "s1"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	history, _ = svc.History("s1")
	if len(history) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(history))
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{"short stays", "hello", 50, "hello"},
		{"long is cut", "abcdefghij", 4, "abcd..."},
		{"runes not bytes", "héllo wörld", 5, "héllo..."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncate(tc.input, tc.n); got != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, got)
			}
		})
	}
}
