package models

type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	WSTypeReply          = "reply"
	WSTypeError          = "error"
	WSTypeTurnCompleted  = "turn_completed"
	WSTypeSessionDeleted = "session_deleted"
	WSTypeSessionCleared = "session_cleared"
)

// WSTurnRequest is one create-turn frame sent by a websocket client.
type WSTurnRequest struct {
	UserInput string `json:"user_input"`
}

// TurnEvent is published after a session changes.
type TurnEvent struct {
	SessionID    string `json:"session_id"`
	MessageCount int    `json:"message_count"`
	Reply        string `json:"reply,omitempty"`
}
