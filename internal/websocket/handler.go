package websocket

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/util"
	"go.uber.org/zap"
)

// Authorizer decides whether r may watch videoID and returns the viewer's
// user ID, empty for anonymous viewers.
type Authorizer func(r *http.Request, videoID string) (string, error)

// Handler handles WebSocket HTTP upgrade requests
type Handler struct {
	hub            *Hub
	authorize      Authorizer
	originPatterns []string
}

// NewHandler creates a new WebSocket handler. originPatterns containing "*"
// disables the origin check.
func NewHandler(hub *Hub, authorize Authorizer, originPatterns []string) *Handler {
	return &Handler{
		hub:            hub,
		authorize:      authorize,
		originPatterns: originPatterns,
	}
}

// ServeHTTP upgrades GET /ws/videos/{id} and joins the video's room. It is
// mounted on the net/http mux in front of gin: gin's writer refuses to be
// hijacked once the 101 status has been flushed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")
	if videoID == "" {
		util.WriteAPIError(w, apierrors.NotFound("video"))
		return
	}

	var userID string
	if h.authorize != nil {
		id, err := h.authorize(r, videoID)
		if err != nil {
			apiErr, ok := apierrors.As(err)
			if !ok {
				apiErr = apierrors.InternalError("failed to authorize socket").Wrap(err)
			}
			util.WriteAPIError(w, apiErr)
			return
		}
		userID = id
	}

	opts := &websocket.AcceptOptions{CompressionMode: websocket.CompressionContextTakeover}
	for _, p := range h.originPatterns {
		if p == "*" {
			opts.InsecureSkipVerify = true
		}
	}
	if !opts.InsecureSkipVerify {
		opts.OriginPatterns = h.originPatterns
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		logger.Log.Debug("WebSocket upgrade failed", zap.String("video_id", videoID), zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, videoID, userID)
	client.RemoteAddr = remoteIP(r)

	client.write(NewMessage(MessageTypeSystem, SystemPayload{
		Event: "connected",
		Data: map[string]interface{}{
			"video_id":    videoID,
			"server_time": time.Now().UTC().UnixMilli(),
		},
	}))

	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump() // blocks until the client disconnects
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HandleMetrics returns WebSocket metrics (for monitoring)
func (h *Handler) HandleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"websocket": h.hub.GetMetrics(),
		"timestamp": time.Now().UTC(),
	})
}
