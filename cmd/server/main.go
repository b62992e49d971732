package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatbot-backend/internal/config"
	"chatbot-backend/internal/database"
	"chatbot-backend/internal/handlers"
	"chatbot-backend/internal/middleware"
	"chatbot-backend/internal/repository"
	"chatbot-backend/internal/router"
	"chatbot-backend/internal/services"
	"chatbot-backend/internal/telemetry"
	"chatbot-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	// ──── Step 2: Initialize Logging & Telemetry ────
	logger, closeLog, err := telemetry.InitLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("✗ Logger initialization failed: %v", err)
	}
	defer closeLog()
	logger.Info("starting chatbot backend", "env", cfg.Env, "provider", cfg.LLMProvider)

	shutdownTelemetry, err := telemetry.InitTelemetry(context.Background(), cfg.TelemetryDir)
	if err != nil {
		logger.Error("telemetry initialization failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry()

	// ──── Step 3: Initialize Model Gateway ────
	provider := cfg.Provider()
	var gateway services.Gateway
	switch provider.Name {
	case config.ProviderGemini:
		geminiClient, err := services.NewGeminiClient(context.Background(), provider.Credential)
		if err != nil {
			logger.Error("gemini client initialization failed", "error", err)
			os.Exit(1)
		}
		defer geminiClient.Close()
		gateway = geminiClient
	default:
		openRouterClient, err := services.NewOpenRouterClient(services.OpenRouterConfig{
			APIKey:   provider.Credential,
			BaseURL:  provider.BaseURL,
			SiteURL:  cfg.OpenRouterSiteURL,
			SiteName: cfg.OpenRouterSiteName,
			Timeout:  cfg.UpstreamTimeout,
		})
		if err != nil {
			logger.Error("openrouter client initialization failed", "error", err)
			os.Exit(1)
		}
		gateway = openRouterClient
	}
	logger.Info("model gateway initialized", "provider", provider.Name, "model", provider.ModelID)

	// ──── Step 4: Initialize Redis (optional) & WebSocket Hub ────
	var (
		publisher services.Publisher
		wsHub     *websocket.Hub
	)
	if cfg.RedisURL != "" {
		redisClients, err := database.NewRedisClients(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisClients.Close()
		logger.Info("redis connected")

		publisher = services.NewRedisPublisher(redisClients.Publisher, logger)
		wsHub = websocket.NewHub(redisClients.PubSub, logger)
	} else {
		wsHub = websocket.NewHub(nil, logger)
		publisher = wsHub
	}

	// ──── Step 5: Initialize Store & Services ────
	conversationRepo := repository.NewConversationRepo()
	chatService := services.NewChatService(
		conversationRepo,
		gateway,
		services.GenerationParams{Model: provider.ModelID, Temperature: provider.Temperature},
		publisher,
		logger,
	)
	wsHub.SetProcessor(chatService)

	// ──── Step 6: Initialize Handlers ────
	chatHandler := handlers.NewChatHandler(chatService)
	sessionHandler := handlers.NewSessionHandler(chatService)

	chatLimiter := middleware.NewRateLimiter(cfg.ChatRequestsPerMin, time.Minute)
	defer chatLimiter.Stop()
	wsHub.SetLimiter(chatLimiter)

	// ──── Step 7: Start HTTP Server ────
	r := router.New(
		chatHandler,
		sessionHandler,
		wsHub.HandleWebSocket,
		chatLimiter,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Model calls can take a while; the response is written only after the reply arrives.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		wsHub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("chatbot backend ready",
		"api", fmt.Sprintf("http://localhost:%s", cfg.Port),
		"ws", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port),
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
