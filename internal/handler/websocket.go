package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"dropmates/internal/auth"
	"dropmates/internal/hub"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	feedPongWait   = 60 * time.Second
	feedWriteWait  = 10 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
	feedReadLimit  = 4 * 1024
)

// WebSocketHandler streams batch progress for Account. Clients authenticate
// with the same bearer token as the REST API, passed as ?token=.
type WebSocketHandler struct {
	Hub         *hub.Hub
	Account     string
	TokenConfig auth.TokenConfig
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedConn serialises writes; gorilla connections allow one concurrent writer.
type feedConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (f *feedConn) Write(message []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.ws.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return f.ws.WriteMessage(websocket.TextMessage, message)
}

func (f *feedConn) Close() error {
	return f.ws.Close()
}

func (f *feedConn) ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait))
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	if !h.authorized(c.Query("token")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	feed := &feedConn{ws: ws}
	conn := &hub.Connection{Account: h.Account, Writer: feed}
	h.Hub.Register(conn)
	defer func() {
		h.Hub.Unregister(conn)
		_ = ws.Close()
	}()

	ws.SetReadLimit(feedReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(feedPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go keepAlive(feed, done)

	readFeed(feed)
}

func (h *WebSocketHandler) authorized(token string) bool {
	if token == "" {
		return false
	}
	claims, err := auth.VerifyToken(token, h.TokenConfig)
	return err == nil && claims.Account == h.Account
}

// keepAlive pings until done closes or a ping fails.
func keepAlive(feed *feedConn, done <-chan struct{}) {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := feed.ping(); err != nil {
				_ = feed.Close()
				return
			}
		}
	}
}

// readFeed answers pings until the client goes away. The feed is push-only,
// so anything else a client sends is ignored.
func readFeed(feed *feedConn) {
	pong, _ := json.Marshal(hub.Message{Type: "pong"})
	for {
		_, data, err := feed.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.Type != "ping" {
			continue
		}
		_ = feed.Write(pong)
	}
}
