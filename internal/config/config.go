package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Model provider
	LLMProvider     string
	ModelID         string
	Temperature     float32
	UpstreamTimeout time.Duration

	// OpenRouter
	OpenRouterAPIKey   string
	OpenRouterBaseURL  string
	OpenRouterSiteURL  string
	OpenRouterSiteName string

	// Gemini AI
	GeminiAPIKey string

	// Redis (optional, turn events)
	RedisURL string

	// Frontend
	FrontendURL string

	// Rate limiting
	ChatRequestsPerMin int

	// Logging & telemetry
	LogLevel     string
	LogFile      string
	TelemetryDir string
}

// ProviderSettings is the provider-neutral view of the model gateway options.
type ProviderSettings struct {
	Name        string
	ModelID     string
	Temperature float32
	BaseURL     string
	Credential  string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderOpenRouter))

	cfg := &Config{
		Port:               getEnvOrDefault("PORT", "8000"),
		Env:                getEnvOrDefault("ENV", "development"),
		LLMProvider:        provider,
		UpstreamTimeout:    time.Duration(getEnvAsIntOrDefault("UPSTREAM_TIMEOUT_SECONDS", 0)) * time.Second,
		OpenRouterBaseURL:  getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterSiteURL:  getEnvOrDefault("OPENROUTER_SITE_URL", "http://localhost:8501"),
		OpenRouterSiteName: getEnvOrDefault("OPENROUTER_SITE_NAME", "LangGraph Chatbot"),
		RedisURL:           getEnvOrDefault("REDIS_URL", ""),
		FrontendURL:        getEnvOrDefault("FRONTEND_URL", "*"),
		ChatRequestsPerMin: getEnvAsIntOrDefault("CHAT_REQUESTS_PER_MINUTE", 30),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:            getEnvOrDefault("LOG_FILE", ""),
		TelemetryDir:       getEnvOrDefault("TELEMETRY_DIR", ""),
	}

	switch provider {
	case ProviderOpenRouter:
		cfg.OpenRouterAPIKey = mustGetEnv("OPENROUTER_API_KEY")
		cfg.ModelID = getEnvOrDefault("OPENROUTER_MODEL", "openai/gpt-4o")
		cfg.Temperature = getEnvAsFloat32OrDefault("OPENROUTER_TEMPERATURE", 0.7)
	case ProviderGemini:
		cfg.GeminiAPIKey = mustGetEnv("GEMINI_API_KEY")
		cfg.ModelID = getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash")
		cfg.Temperature = getEnvAsFloat32OrDefault("GEMINI_TEMPERATURE", 0.7)
	default:
		panic(fmt.Sprintf("unsupported LLM_PROVIDER %q (expected %q or %q)", provider, ProviderOpenRouter, ProviderGemini))
	}

	return cfg
}

func (c *Config) Provider() ProviderSettings {
	if c.LLMProvider == ProviderGemini {
		return ProviderSettings{
			Name:        ProviderGemini,
			ModelID:     c.ModelID,
			Temperature: c.Temperature,
			Credential:  c.GeminiAPIKey,
		}
	}
	return ProviderSettings{
		Name:        ProviderOpenRouter,
		ModelID:     c.ModelID,
		Temperature: c.Temperature,
		BaseURL:     c.OpenRouterBaseURL,
		Credential:  c.OpenRouterAPIKey,
	}
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloat32OrDefault(key string, defaultVal float32) float32 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 32)
	if err != nil {
		return defaultVal
	}
	return float32(f)
}
