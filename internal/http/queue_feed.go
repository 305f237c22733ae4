package httpapi

import (
	"context"
	"net/http"
	"time"

	"swasthai-triage/internal/notify"
	"swasthai-triage/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedWriteWait    = 10 * time.Second
	feedPingInterval = 30 * time.Second
)

// FeedMessage websocket 推送的消息：每次都是完整队列快照
type FeedMessage struct {
	Type    string             `json:"type"`
	Trigger *notify.Change     `json:"trigger,omitempty"`
	Queue   *service.QueueView `json:"queue"`
}

// QueueFeed 实时队列推送
// 连接建立时发送一次快照，此后每收到一条变更通知重新计算并发送快照。
type QueueFeed struct {
	svc      *service.TriageService
	hub      *notify.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewQueueFeed 创建实时队列推送
func NewQueueFeed(svc *service.TriageService, hub *notify.Hub, allowedOrigins []string, logger *zap.Logger) *QueueFeed {
	return &QueueFeed{
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Serve GET /api/v1/queue/ws
func (f *QueueFeed) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	changes, unsubscribe := f.hub.Subscribe()
	defer unsubscribe()

	// 读循环只用于感知断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	if err := f.send(ctx, conn, nil); err != nil {
		f.logger.Debug("Queue feed closed", zap.Error(err))
		return
	}

	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if err := f.send(ctx, conn, &c); err != nil {
				f.logger.Debug("Queue feed closed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return
			}
		}
	}
}

func (f *QueueFeed) send(ctx context.Context, conn *websocket.Conn, trigger *notify.Change) error {
	view, err := f.svc.Queue(ctx)
	if err != nil {
		f.logger.Warn("Failed to compute queue for feed", zap.Error(err))
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		return conn.WriteJSON(map[string]string{"type": "error", "message": "queue unavailable"})
	}
	_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
	return conn.WriteJSON(FeedMessage{Type: "queue", Trigger: trigger, Queue: view})
}
