package repository

import (
	"context"
	"time"

	"swasthai-triage/internal/models"
)

// IntakeEventsRepository 分诊事件存储
// 所有写操作都是单条记录的原子更新；驱动错误统一包装为 models.ErrStoreUnavailable。
type IntakeEventsRepository interface {
	// Create 保存新事件：ID 为空时分配，created_at 由存储赋值，status=Waiting。
	// 相同 ID 重复创建返回已保存的事件（用于重试）。
	Create(ctx context.Context, ev *models.IntakeEvent) (*models.IntakeEvent, error)
	Get(ctx context.Context, id string) (*models.IntakeEvent, error)
	ListWaiting(ctx context.Context) ([]*models.IntakeEvent, error)
	// ListSince 返回 created_at >= since 的全部事件（含 Seen），用于审计导出
	ListSince(ctx context.Context, since time.Time) ([]*models.IntakeEvent, error)
	// UpdateClassification 改判；不存在返回 ErrNotFound，已 Seen 返回 StateTransitionError
	UpdateClassification(ctx context.Context, id string, band models.RiskBand, reason, actor string) (*models.IntakeEvent, error)
	// MarkSeen 幂等；changed 表示本次调用是否发生了状态变化
	MarkSeen(ctx context.Context, id, actor string) (ev *models.IntakeEvent, changed bool, err error)
}
