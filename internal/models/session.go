package models

const (
	DeleteStatusSuccess  = "success"
	DeleteStatusNotFound = "not_found"
)

type DeleteSessionResponse struct {
	Status  string `json:"status"` // "success" | "not_found"
	Message string `json:"message"`
}

type SessionSummary struct {
	MessageCount int `json:"message_count"`
}

type SessionsResponse struct {
	ActiveSessions map[string]SessionSummary `json:"active_sessions"`
}

type HistoryResponse struct {
	SessionID string        `json:"session_id"`
	Messages  []ChatMessage `json:"messages"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Version string `json:"version"`
}
