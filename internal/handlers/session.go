package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatbot-backend/internal/models"
)

type SessionHandler struct {
	chatService chatService
}

func NewSessionHandler(chatService chatService) *SessionHandler {
	return &SessionHandler{chatService: chatService}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	counts := h.chatService.ListSessions()

	sessions := make(map[string]models.SessionSummary, len(counts))
	for id, n := range counts {
		sessions[id] = models.SessionSummary{MessageCount: n}
	}

	writeJSON(w, http.StatusOK, models.SessionsResponse{ActiveSessions: sessions})
}

// Delete always answers 200; a missing session is reported in the body, not the status.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	if h.chatService.DeleteSession(r.Context(), sessionID) {
		writeJSON(w, http.StatusOK, models.DeleteSessionResponse{
			Status:  models.DeleteStatusSuccess,
			Message: fmt.Sprintf("Session %s cleared", sessionID),
		})
		return
	}

	writeJSON(w, http.StatusOK, models.DeleteSessionResponse{
		Status:  models.DeleteStatusNotFound,
		Message: fmt.Sprintf("Session %s not found", sessionID),
	})
}

func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	messages, err := h.chatService.History(sessionID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.HistoryResponse{SessionID: sessionID, Messages: messages})
}

func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	if err := h.chatService.ClearSession(r.Context(), sessionID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Session %s history reset", sessionID)})
}
