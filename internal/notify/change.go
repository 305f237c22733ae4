package notify

import (
	"context"
	"errors"
	"time"

	"swasthai-triage/internal/models"
)

// Kind 变更类型
type Kind string

const (
	KindCreated    Kind = "created"
	KindOverridden Kind = "overridden"
	KindSeen       Kind = "seen"
)

// Change 队列变更通知
// 投递语义为至少一次；消费者收到后重新计算完整队列，不做增量应用。
type Change struct {
	Kind    Kind            `json:"kind"`
	EventID string          `json:"event_id"`
	Band    models.RiskBand `json:"band"`
	Status  models.Status   `json:"status"`
	At      time.Time       `json:"at"`
}

// ChangeFor 根据事件生成通知
func ChangeFor(kind Kind, ev *models.IntakeEvent, at time.Time) Change {
	return Change{
		Kind:    kind,
		EventID: ev.ID,
		Band:    ev.Classification.Band,
		Status:  ev.Status,
		At:      at,
	}
}

// Publisher 变更发布者
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Multi 依次发布到多个发布者，汇总错误（一个失败不影响其它）
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, c Change) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublisherFunc 函数适配器
type PublisherFunc func(ctx context.Context, c Change) error

func (f PublisherFunc) Publish(ctx context.Context, c Change) error {
	return f(ctx, c)
}
