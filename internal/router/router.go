package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"chatbot-backend/internal/handlers"
	"chatbot-backend/internal/middleware"
)

func New(
	chatHandler *handlers.ChatHandler,
	sessionHandler *handlers.SessionHandler,
	wsHandler http.HandlerFunc,
	chatLimiter *middleware.RateLimiter,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/", handlers.Health)
	r.Get("/health", handlers.Health)

	// ──── Chat ────
	r.Group(func(r chi.Router) {
		if chatLimiter != nil {
			r.Use(chatLimiter.Middleware)
		}
		r.Post("/chat", chatHandler.Chat)
	})

	// ──── Sessions ────
	r.Get("/sessions", sessionHandler.List)
	r.Route("/session/{session_id}", func(r chi.Router) {
		r.Get("/", sessionHandler.History)
		r.Delete("/", sessionHandler.Delete)
		r.Post("/clear", sessionHandler.Clear)
	})

	// ──── WebSocket ────
	if wsHandler != nil {
		r.Get("/ws", wsHandler)
	}

	return r
}
