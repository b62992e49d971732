package models

// Role identifies who authored a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	UserInput string `json:"user_input"`
	SessionID string `json:"session_id"`
}

// ChatResponse is the reply from the AI chat.
type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// TurnResult is what a single processed turn hands back to the caller.
type TurnResult struct {
	Reply     string
	SessionID string
}

// DefaultSessionID is used when a request does not name a session.
const DefaultSessionID = "default"
