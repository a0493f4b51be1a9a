package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
)

func newTestServer(t *testing.T, authorize Authorizer) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub()
	hub.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})

	mux := http.NewServeMux()
	mux.Handle("GET /ws/videos/{id}", NewHandler(hub, authorize, []string{"*"}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, videoID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/videos/" + videoID
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readUntil reads messages until one of the wanted type arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var msg Message
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestPublishReachesOnlyTheVideoRoom(t *testing.T) {
	hub, srv := newTestServer(t, nil)

	watcher := dial(t, srv, "video-1")
	other := dial(t, srv, "video-2")

	require.Eventually(t, func() bool {
		return hub.RoomSize("video-1") == 1 && hub.RoomSize("video-2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.PublishToVideo("video-1", MessageTypePollResults, map[string]interface{}{"element_id": "e1", "total": 3})

	msg := readUntil(t, watcher, MessageTypePollResults)
	var payload struct {
		ElementID string `json:"element_id"`
		Total     int    `json:"total"`
	}
	require.NoError(t, msg.ParsePayload(&payload))
	assert.Equal(t, "e1", payload.ElementID)
	assert.Equal(t, 3, payload.Total)

	// The other room only sees its own join
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	for {
		var m Message
		if err := wsjson.Read(ctx, other, &m); err != nil {
			break
		}
		assert.NotEqual(t, MessageTypePollResults, m.Type)
	}
}

func TestViewerCountBroadcast(t *testing.T) {
	hub, srv := newTestServer(t, nil)

	first := dial(t, srv, "video-1")
	readUntil(t, first, MessageTypeViewerCount)

	dial(t, srv, "video-1")
	require.Eventually(t, func() bool { return hub.RoomSize("video-1") == 2 }, 2*time.Second, 10*time.Millisecond)

	msg := readUntil(t, first, MessageTypeViewerCount)
	var payload ViewerCountPayload
	require.NoError(t, msg.ParsePayload(&payload))
	assert.Equal(t, 2, payload.Viewers)
}

func TestPingPong(t *testing.T) {
	_, srv := newTestServer(t, nil)
	conn := dial(t, srv, "video-1")

	ping := NewMessage(MessageTypePing, PingPayload{ClientTime: time.Now().UnixMilli()})
	ping.ID = "p1"
	require.NoError(t, wsjson.Write(context.Background(), conn, ping))

	pong := readUntil(t, conn, MessageTypePong)
	assert.Equal(t, "p1", pong.ReplyTo)
}

func TestAuthorizerRejects(t *testing.T) {
	_, srv := newTestServer(t, func(r *http.Request, videoID string) (string, error) {
		return "", apierrors.Forbidden("private video")
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/videos/v1"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAuthorizedViewerJoinsRoom(t *testing.T) {
	hub, srv := newTestServer(t, func(r *http.Request, videoID string) (string, error) {
		return r.URL.Query().Get("token"), nil
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/videos/v1?token=user-7"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg := readUntil(t, conn, MessageTypeSystem)
	var payload SystemPayload
	require.NoError(t, msg.ParsePayload(&payload))
	assert.Equal(t, "connected", payload.Event)
	require.Eventually(t, func() bool { return hub.RoomSize("v1") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestFlexibleTime(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"ping","timestamp":1700000000000}`), &msg))
	assert.Equal(t, int64(1700000000000), msg.Timestamp.UnixMilli())

	require.NoError(t, json.Unmarshal([]byte(`{"type":"ping","timestamp":"2026-01-02T03:04:05Z"}`), &msg))
	assert.Equal(t, 2026, msg.Timestamp.Year())
}

func TestMetricsSnapshotString(t *testing.T) {
	hub := NewHub()
	assert.Contains(t, hub.GetMetrics().String(), "rooms=0 connections=0/0")
}
