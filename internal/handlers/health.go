package handlers

import (
	"net/http"

	"chatbot-backend/internal/models"
)

const Version = "1.0.0"

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:  "online",
		Message: "Chatbot API is running",
		Version: Version,
	})
}
