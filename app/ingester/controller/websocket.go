package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	statusPushInterval = 2 * time.Second
	pingInterval       = 30 * time.Second
	readTimeout        = 60 * time.Second
	writeTimeout       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServerMessage is one frame pushed to a status subscriber.
type ServerMessage struct {
	Type    string `json:"type"` // "sync.status"
	Payload any    `json:"payload"`
}

// HandleStatusWebSocket pushes the sync snapshot on connect and every statusPushInterval
// until the client goes away. Client messages are read only to notice the close.
func (c *Controller) HandleStatusWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}()

	logger := c.App.Logger.With(zap.String("remote_addr", r.RemoteAddr))
	logger.Info("WebSocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Panic in WebSocket reader", zap.Any("panic", rec), zap.String("stack", string(debug.Stack())))
			}
			cancel()
		}()
		c.readUntilClosed(conn, logger)
	}()

	c.pushStatus(ctx, conn, logger, c.interval())
	logger.Info("WebSocket client disconnected")
}

func (c *Controller) interval() time.Duration {
	if c.StatusInterval > 0 {
		return c.StatusInterval
	}
	return statusPushInterval
}

// pushStatus is the only writer on conn.
func (c *Controller) pushStatus(ctx context.Context, conn *websocket.Conn, logger *zap.Logger, every time.Duration) {
	status := time.NewTicker(every)
	defer status.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	send := func() bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		msg := ServerMessage{Type: "sync.status", Payload: c.App.Engine.InitialSyncStatus()}
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("Failed to write WebSocket message", zap.Error(err))
			return false
		}
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-status.C:
			if !send() {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (c *Controller) readUntilClosed(conn *websocket.Conn, logger *zap.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}
