// Package websocket pushes live updates to viewers watching a video.
// Uses github.com/coder/websocket - the context-aware WebSocket library for Go.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zfogg/vidlayer/internal/logger"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients grouped into one room per video
// and fans messages out to rooms.
type Hub struct {
	// Clients by video ID
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	publish    chan *roomMessage

	mu sync.RWMutex

	metrics *Metrics

	// Shutdown handling
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rateLimitConfig RateLimitConfig
}

// Metrics tracks WebSocket statistics
type Metrics struct {
	TotalConnections   atomic.Int64
	ActiveConnections  atomic.Int64
	MessagesReceived   atomic.Int64
	MessagesSent       atomic.Int64
	Errors             atomic.Int64
	ConnectionsDropped atomic.Int64
}

// RateLimitConfig limits inbound messages per client
type RateLimitConfig struct {
	MaxMessagesPerSecond float64
	BurstSize            int
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxMessagesPerSecond: 5,
		BurstSize:            10,
	}
}

type roomMessage struct {
	videoID string
	message *Message
}

// NewHub creates a new Hub instance. Call Start before registering clients.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:           make(map[string]map[*Client]struct{}),
		register:        make(chan *Client, 256),
		unregister:      make(chan *Client, 256),
		publish:         make(chan *roomMessage, 256),
		metrics:         &Metrics{},
		ctx:             ctx,
		cancel:          cancel,
		rateLimitConfig: DefaultRateLimitConfig(),
	}
}

// Start runs the hub's event loop in the background
func (h *Hub) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run()
	}()
}

func (h *Hub) run() {
	logger.Log.Info("WebSocket hub started")

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.publish:
			h.sendToRoom(msg.videoID, msg.message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.rooms[client.VideoID] == nil {
		h.rooms[client.VideoID] = make(map[*Client]struct{})
	}
	h.rooms[client.VideoID][client] = struct{}{}
	viewers := len(h.rooms[client.VideoID])
	h.mu.Unlock()

	h.metrics.TotalConnections.Add(1)
	h.metrics.ActiveConnections.Add(1)

	logger.Log.Debug("WebSocket client joined",
		zap.String("video_id", client.VideoID),
		zap.Int("viewers", viewers),
	)
	h.sendToRoom(client.VideoID, NewMessage(MessageTypeViewerCount, ViewerCountPayload{
		VideoID: client.VideoID,
		Viewers: viewers,
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.VideoID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := room[client]; !ok {
		h.mu.Unlock()
		return
	}

	delete(room, client)
	viewers := len(room)
	if viewers == 0 {
		delete(h.rooms, client.VideoID)
	}
	close(client.send)
	h.mu.Unlock()

	h.metrics.ActiveConnections.Add(-1)

	if viewers > 0 {
		h.sendToRoom(client.VideoID, NewMessage(MessageTypeViewerCount, ViewerCountPayload{
			VideoID: client.VideoID,
			Viewers: viewers,
		}))
	}
}

// sendToRoom writes to every client in the room. Clients whose buffer is
// full are dropped.
func (h *Hub) sendToRoom(videoID string, message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		logger.Log.Error("Failed to marshal websocket message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[videoID] {
		select {
		case client.send <- data:
			h.metrics.MessagesSent.Add(1)
		default:
			h.metrics.ConnectionsDropped.Add(1)
			go h.Unregister(client)
		}
	}
}

// PublishToVideo queues a message for everyone watching videoID
func (h *Hub) PublishToVideo(videoID, msgType string, payload interface{}) {
	select {
	case h.publish <- &roomMessage{videoID: videoID, message: NewMessage(msgType, payload)}:
	case <-h.ctx.Done():
	}
}

// Register adds a client to its video's room
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// RoomSize returns the number of connections watching videoID
func (h *Hub) RoomSize(videoID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[videoID])
}

// GetMetrics returns current WebSocket metrics
func (h *Hub) GetMetrics() MetricsSnapshot {
	h.mu.RLock()
	rooms := len(h.rooms)
	h.mu.RUnlock()

	return MetricsSnapshot{
		Rooms:              rooms,
		TotalConnections:   h.metrics.TotalConnections.Load(),
		ActiveConnections:  h.metrics.ActiveConnections.Load(),
		MessagesReceived:   h.metrics.MessagesReceived.Load(),
		MessagesSent:       h.metrics.MessagesSent.Load(),
		Errors:             h.metrics.Errors.Load(),
		ConnectionsDropped: h.metrics.ConnectionsDropped.Load(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Rooms              int   `json:"rooms"`
	TotalConnections   int64 `json:"total_connections"`
	ActiveConnections  int64 `json:"active_connections"`
	MessagesReceived   int64 `json:"messages_received"`
	MessagesSent       int64 `json:"messages_sent"`
	Errors             int64 `json:"errors"`
	ConnectionsDropped int64 `json:"connections_dropped"`
}

// String implements Stringer for MetricsSnapshot
func (m MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"rooms=%d connections=%d/%d messages=rx:%d/tx:%d errors=%d dropped=%d",
		m.Rooms, m.ActiveConnections, m.TotalConnections,
		m.MessagesReceived, m.MessagesSent,
		m.Errors, m.ConnectionsDropped,
	)
}

// Shutdown stops the event loop and closes every connection
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("WebSocket hub shutdown complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// shutdown closes all client connections
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	shutdownMsg := NewMessage(MessageTypeSystem, SystemPayload{Event: "server_shutdown"})
	shutdownMsg.Timestamp = FlexibleTime{Time: time.Now().UTC()}
	data, _ := json.Marshal(shutdownMsg)

	closed := 0
	for _, room := range h.rooms {
		for client := range room {
			select {
			case client.send <- data:
			default:
			}
			close(client.send)
			closed++
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})

	logger.Log.Info("Closed websocket connections during shutdown", zap.Int("count", closed))
}

// SetRateLimitConfig updates the rate limiting configuration
func (h *Hub) SetRateLimitConfig(config RateLimitConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rateLimitConfig = config
}

// GetRateLimitConfig returns the current rate limit configuration
func (h *Hub) GetRateLimitConfig() RateLimitConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rateLimitConfig
}
