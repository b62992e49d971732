package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"chatbot-backend/internal/models"
)

type chatService interface {
	ProcessTurn(ctx context.Context, sessionID, userInput string) (*models.TurnResult, error)
	DeleteSession(ctx context.Context, sessionID string) bool
	ClearSession(ctx context.Context, sessionID string) error
	History(sessionID string) ([]models.ChatMessage, error)
	ListSessions() map[string]int
}

type ChatHandler struct {
	chatService chatService
}

func NewChatHandler(chatService chatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat runs one conversation turn: POST /chat {user_input, session_id}.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if strings.TrimSpace(req.UserInput) == "" {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"user_input": "must not be empty"}, r))
		return
	}
	if req.SessionID == "" {
		req.SessionID = models.DefaultSessionID
	}

	result, err := h.chatService.ProcessTurn(r.Context(), req.SessionID, req.UserInput)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{Reply: result.Reply, SessionID: result.SessionID})
}
