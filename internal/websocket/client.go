package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/zfogg/vidlayer/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Viewers only send pings, keep frames small
	maxMessageSize = 4 * 1024

	sendBufferSize = 64
)

// Client is one viewer connection subscribed to a single video
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	VideoID string
	UserID  string // empty for anonymous viewers

	// Outbound messages, written only by the hub
	send chan []byte

	ConnectedAt time.Time
	RemoteAddr  string

	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, videoID, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := hub.GetRateLimitConfig()

	return &Client{
		hub:         hub,
		conn:        conn,
		VideoID:     videoID,
		UserID:      userID,
		send:        make(chan []byte, sendBufferSize),
		ConnectedAt: time.Now(),
		limiter:     rate.NewLimiter(rate.Limit(cfg.MaxMessagesPerSecond), cfg.BurstSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ReadPump reads client frames until the connection closes
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		readCtx, readCancel := context.WithTimeout(c.ctx, pongWait)
		_, data, err := c.conn.Read(readCtx)
		readCancel()

		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && c.ctx.Err() == nil {
				logger.Log.Debug("WebSocket read error",
					zap.String("video_id", c.VideoID),
					zap.Error(err))
				c.hub.metrics.Errors.Add(1)
			}
			return
		}

		if !c.limiter.Allow() {
			c.write(NewErrorMessage("rate_limited", "Too many messages, please slow down"))
			c.hub.metrics.Errors.Add(1)
			continue
		}
		c.hub.metrics.MessagesReceived.Add(1)

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			c.write(NewErrorMessage("invalid_json", "Failed to parse message"))
			continue
		}

		c.handleMessage(&message)
	}
}

// WritePump forwards hub messages to the connection and keeps it alive
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				return
			}

			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()

			if err != nil {
				c.hub.metrics.Errors.Add(1)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message *Message) {
	switch message.Type {
	case MessageTypePing, "heartbeat":
		var ping PingPayload
		_ = message.ParsePayload(&ping)

		serverTime := time.Now().UnixMilli()
		pong := NewMessage(MessageTypePong, PongPayload{
			ClientTime: ping.ClientTime,
			ServerTime: serverTime,
			Latency:    serverTime - ping.ClientTime,
		})
		pong.ReplyTo = message.ID
		c.write(pong)

	default:
		c.write(NewErrorMessage("unknown_type", "Unknown message type: "+message.Type))
	}
}

// write sends directly on the connection. Used for replies from the read
// loop so that only the hub ever writes to c.send.
func (c *Client) write(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeWait)
	defer cancel()
	_ = c.conn.Write(ctx, websocket.MessageText, data)
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "closing")
}
