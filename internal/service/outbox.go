package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swasthai-triage/internal/models"
	"swasthai-triage/internal/notify"
	"swasthai-triage/internal/repository"

	"go.uber.org/zap"
)

// Outbox 已分类但未保存的事件，按提交顺序重试保存
// 重试使用同一个事件（同 ID），存储端按 ID 幂等。
type Outbox struct {
	repo      repository.IntakeEventsRepository
	publisher notify.Publisher
	logger    *zap.Logger

	flushMu sync.Mutex // 同一时间只有一个 flush
	mu      sync.Mutex
	pending []*models.IntakeEvent
	wake    chan struct{}

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewOutbox 创建 Outbox；publisher 可为 nil
func NewOutbox(repo repository.IntakeEventsRepository, publisher notify.Publisher, logger *zap.Logger) *Outbox {
	return &Outbox{
		repo:           repo,
		publisher:      publisher,
		logger:         logger,
		wake:           make(chan struct{}, 1),
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
}

// Enqueue 加入待保存队列
func (o *Outbox) Enqueue(ev *models.IntakeEvent) {
	o.mu.Lock()
	o.pending = append(o.pending, ev.Clone())
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Pending 待保存数量
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// flush 按顺序保存，遇到第一个失败即停止；返回本次保存成功的数量
func (o *Outbox) flush(ctx context.Context) (int, error) {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	stored := 0
	for {
		o.mu.Lock()
		if len(o.pending) == 0 {
			o.mu.Unlock()
			return stored, nil
		}
		ev := o.pending[0]
		o.mu.Unlock()

		saved, err := o.repo.Create(ctx, ev)
		if err != nil {
			return stored, fmt.Errorf("failed to save pending intake event %s: %w", ev.ID, err)
		}

		o.remove(ev.ID)
		stored++

		o.logger.Info("Pending intake event saved",
			zap.String("event_id", saved.ID),
			zap.String("band", string(saved.Classification.Band)),
		)
		if o.publisher != nil {
			if err := o.publisher.Publish(ctx, notify.ChangeFor(notify.KindCreated, saved, time.Now().UTC())); err != nil {
				o.logger.Warn("Failed to publish queue change", zap.String("event_id", saved.ID), zap.Error(err))
			}
		}
	}
}

// remove 按 ID 移出队列
func (o *Outbox) remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, ev := range o.pending {
		if ev.ID == id {
			o.pending = append(o.pending[:i:i], o.pending[i+1:]...)
			return
		}
	}
}

// Run 重试循环，直到 ctx 取消；失败时指数退避（1s 起，最多 30s）
func (o *Outbox) Run(ctx context.Context) error {
	backoffDuration := o.initialBackoff

	for {
		if o.Pending() == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-o.wake:
			}
		}

		if _, err := o.flush(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.logger.Error("Failed to flush pending intake events",
				zap.Int("pending", o.Pending()),
				zap.Duration("backoff", backoffDuration),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > o.maxBackoff {
					backoffDuration = o.maxBackoff
				}
			}
			continue
		}
		backoffDuration = o.initialBackoff
	}
}
