package notify

import (
	"context"
	"sync"
)

// Hub 进程内扇出（websocket 订阅者）
// 每个订阅者的通道缓冲为 1：订阅者落后时多个通知合并为一个，订阅者总是重新读取完整队列。
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Change)}
}

// Subscribe 订阅；返回的 cancel 必须调用
func (h *Hub) Subscribe() (<-chan Change, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Change, 1)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Publish 非阻塞投递
func (h *Hub) Publish(_ context.Context, c Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- c:
		default:
		}
	}
	return nil
}

// Subscribers 当前订阅者数量
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
