package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"chatbot-backend/internal/middleware"
	"chatbot-backend/internal/models"
	"chatbot-backend/internal/services"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type turnProcessor interface {
	ProcessTurn(ctx context.Context, sessionID, userInput string) (*models.TurnResult, error)
}

type turnLimiter interface {
	Allow(key string) bool
}

// client serializes writes; gorilla allows one concurrent writer per conn.
type client struct {
	conn     *websocket.Conn
	remoteIP string
	mu       sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks websocket connections per conversation session. With a redis
// client it relays the session's pub/sub channel to them; without one it is
// itself the services.Publisher and broadcasts in-process.
type Hub struct {
	mu          sync.RWMutex
	connections map[string][]*client
	redisClient *redis.Client
	cancelFuncs map[string]context.CancelFunc
	processor   turnProcessor
	limiter     turnLimiter
	logger      *slog.Logger
}

func NewHub(redisClient *redis.Client, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connections: make(map[string][]*client),
		redisClient: redisClient,
		cancelFuncs: make(map[string]context.CancelFunc),
		logger:      logger,
	}
}

// SetProcessor attaches the turn processor. It is separate from NewHub
// because the processor usually publishes through this hub.
func (h *Hub) SetProcessor(p turnProcessor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processor = p
}

// SetLimiter makes websocket turns share the per-client budget of POST /chat.
func (h *Hub) SetLimiter(l turnLimiter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limiter = l
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, remoteIP: middleware.ClientIP(r)}
	h.registerConnection(sessionID, c)

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		defer h.unregisterConnection(sessionID, c)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.handleFrame(ctx, sessionID, c, data)
		}
	}()
}

func (h *Hub) handleFrame(ctx context.Context, sessionID string, c *client, data []byte) {
	var req models.WSTurnRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.reply(c, models.WSMessage{
			Type:    models.WSTypeError,
			Payload: models.APIError{Code: "VALIDATION_ERROR", Message: "Invalid message"},
		})
		return
	}

	h.mu.RLock()
	processor, limiter := h.processor, h.limiter
	h.mu.RUnlock()
	if limiter != nil && !limiter.Allow(c.remoteIP) {
		h.reply(c, models.WSMessage{
			Type:    models.WSTypeError,
			Payload: models.APIError{Code: "RATE_LIMITED", Message: "Too many requests. Please try again later."},
		})
		return
	}
	if processor == nil {
		h.reply(c, models.WSMessage{
			Type:    models.WSTypeError,
			Payload: models.APIError{Code: "INTERNAL_ERROR", Message: "Chat is not available"},
		})
		return
	}

	result, err := processor.ProcessTurn(ctx, sessionID, req.UserInput)
	if err != nil {
		h.reply(c, models.WSMessage{Type: models.WSTypeError, Payload: errorPayload(err)})
		return
	}

	h.reply(c, models.WSMessage{
		Type:    models.WSTypeReply,
		Payload: models.ChatResponse{Reply: result.Reply, SessionID: result.SessionID},
	})
}

func (h *Hub) reply(c *client, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.write(data); err != nil {
		h.logger.Debug("websocket write failed", "error", err)
	}
}

func errorPayload(err error) models.APIError {
	var (
		validationErr *services.ValidationError
		notFoundErr   *services.NotFoundError
		upstreamErr   *services.UpstreamError
	)
	switch {
	case errors.As(err, &validationErr):
		return models.APIError{Code: "VALIDATION_ERROR", Message: "Validation failed", Fields: validationErr.Fields}
	case errors.As(err, &notFoundErr):
		return models.APIError{Code: "NOT_FOUND", Message: notFoundErr.Message}
	case errors.As(err, &upstreamErr):
		return models.APIError{Code: "UPSTREAM_ERROR", Message: "Error processing request: " + upstreamErr.Error()}
	default:
		return models.APIError{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}
	}
}

func (h *Hub) registerConnection(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[sessionID] = append(h.connections[sessionID], c)

	// Subscribe on the first connection for this session
	if len(h.connections[sessionID]) == 1 && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[sessionID] = cancel
		go h.subscribeToPubSub(ctx, sessionID)
	}

	h.logger.Info("websocket connected", "session_id", sessionID, "total", len(h.connections[sessionID]))
}

func (h *Hub) unregisterConnection(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	conns := h.connections[sessionID]
	for i, existing := range conns {
		if existing == c {
			h.connections[sessionID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[sessionID]) == 0 {
		delete(h.connections, sessionID)
		if cancel, ok := h.cancelFuncs[sessionID]; ok {
			cancel()
			delete(h.cancelFuncs, sessionID)
		}
	}

	h.logger.Info("websocket disconnected", "session_id", sessionID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, sessionID string) {
	pubsub := h.redisClient.Subscribe(ctx, services.SessionChannel(sessionID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(sessionID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.connections[sessionID] {
		if err := c.write(data); err != nil {
			h.logger.Debug("websocket broadcast failed", "session_id", sessionID, "error", err)
		}
	}
}

// Publish implements services.Publisher for deployments without redis.
func (h *Hub) Publish(ctx context.Context, sessionID string, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode session event", "session_id", sessionID, "error", err)
		return
	}
	h.broadcast(sessionID, data)
}

// ConnectionCount reports how many sockets are attached to a session.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[sessionID])
}

// Close drops every connection and stops all subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, conns := range h.connections {
		for _, c := range conns {
			c.conn.Close()
		}
		delete(h.connections, sessionID)
	}
	for sessionID, cancel := range h.cancelFuncs {
		cancel()
		delete(h.cancelFuncs, sessionID)
	}
}
