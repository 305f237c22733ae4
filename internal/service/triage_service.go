package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"swasthai-triage/internal/classifier"
	"swasthai-triage/internal/export"
	"swasthai-triage/internal/intake"
	"swasthai-triage/internal/models"
	"swasthai-triage/internal/notify"
	"swasthai-triage/internal/queue"
	"swasthai-triage/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TriageService 分诊服务层
// 职责：
// 1. 校验 -> 分类 -> 保存 -> 通知
// 2. 保存失败时把已计算的分类交给 Outbox 重试（不重新计算）
// 3. 改判 / 接诊的业务编排
type TriageService struct {
	repo      repository.IntakeEventsRepository
	engine    *classifier.Engine
	publisher notify.Publisher
	outbox    *Outbox
	logger    *zap.Logger
	now       func() time.Time
	exportLoc *time.Location
}

// NewTriageService 创建分诊服务；publisher 可为 nil
func NewTriageService(
	repo repository.IntakeEventsRepository,
	engine *classifier.Engine,
	publisher notify.Publisher,
	outbox *Outbox,
	logger *zap.Logger,
) *TriageService {
	return &TriageService{
		repo:      repo,
		engine:    engine,
		publisher: publisher,
		outbox:    outbox,
		logger:    logger,
		now:       time.Now,
		exportLoc: time.UTC,
	}
}

// SetExportLocation 设置导出时区
func (s *TriageService) SetExportLocation(loc *time.Location) {
	if loc != nil {
		s.exportLoc = loc
	}
}

// Engine 返回分类引擎
func (s *TriageService) Engine() *classifier.Engine {
	return s.engine
}

// SubmitResult 提交结果；Saved=false 表示已分类但尚未保存（Outbox 会重试）
type SubmitResult struct {
	Event *models.IntakeEvent
	Saved bool
}

// ============================================
// 登记
// ============================================

// Submit 校验并分类登记数据，然后保存
// 业务规则：
// - 校验失败返回 models.ValidationErrors，不做任何后续调用
// - 存储不可用时返回 Saved=false，同一个事件（同 ID、同分类）进入 Outbox
func (s *TriageService) Submit(ctx context.Context, payload map[string]any) (*SubmitResult, error) {
	record, err := intake.Validate(payload)
	if err != nil {
		s.logger.Info("Intake payload rejected", zap.Error(err))
		return nil, err
	}

	c := s.engine.Classify(*record)
	if !c.Band.Valid() || c.Reason == "" {
		err := &models.ClassificationError{Reason: fmt.Sprintf("rule produced band %q reason %q", c.Band, c.Reason)}
		s.logger.Error("Classifier produced an invalid result", zap.Error(err))
		return nil, err
	}

	ev := &models.IntakeEvent{
		ID:             uuid.New().String(),
		CreatedAt:      s.now().UTC(),
		Record:         *record,
		Classification: c,
		Status:         models.StatusWaiting,
	}

	stored, err := s.repo.Create(ctx, ev)
	if err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) && s.outbox != nil {
			s.outbox.Enqueue(ev)
			s.logger.Warn("Intake event classified but not saved, queued for retry",
				zap.String("event_id", ev.ID),
				zap.String("band", string(c.Band)),
				zap.Error(err),
			)
			return &SubmitResult{Event: ev, Saved: false}, nil
		}
		s.logger.Error("Failed to create intake event",
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create intake event: %w", err)
	}

	s.logger.Info("Intake event triaged",
		zap.String("event_id", stored.ID),
		zap.String("band", string(stored.Classification.Band)),
		zap.String("reason", stored.Classification.Reason),
	)
	s.publish(ctx, notify.KindCreated, stored)
	return &SubmitResult{Event: stored, Saved: true}, nil
}

// ============================================
// 查询
// ============================================

// QueueView 当前排队视图
type QueueView struct {
	Entries      []queue.Entry      `json:"entries"`
	Summary      queue.QueueSummary `json:"summary"`
	PendingSaves int                `json:"pending_saves"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// Queue 每次调用都从存储重新计算
func (s *TriageService) Queue(ctx context.Context) (*QueueView, error) {
	events, err := s.repo.ListWaiting(ctx)
	if err != nil {
		s.logger.Error("Failed to list waiting intake events", zap.Error(err))
		return nil, fmt.Errorf("failed to list waiting intake events: %w", err)
	}
	now := s.now().UTC()
	entries := queue.Project(events, now)
	view := &QueueView{
		Entries:     entries,
		Summary:     queue.Summary(entries),
		GeneratedAt: now,
	}
	if s.outbox != nil {
		view.PendingSaves = s.outbox.Pending()
	}
	return view, nil
}

// Get 获取单个事件
func (s *TriageService) Get(ctx context.Context, id string) (*models.IntakeEvent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, models.ValidationErrors{{Field: "id", Message: "is required"}}
	}
	ev, err := s.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("Failed to get intake event", zap.String("event_id", id), zap.Error(err))
		}
		return nil, fmt.Errorf("failed to get intake event: %w", err)
	}
	return ev, nil
}

// ============================================
// 改判 / 接诊
// ============================================

// Override 医生改判
// 业务规则：
// - band 必须是已知等级，reason 不能为空
// - 只有 Waiting 状态可以改判
func (s *TriageService) Override(ctx context.Context, id, band, reason, actor string) (*models.IntakeEvent, error) {
	var verrs models.ValidationErrors
	parsed, ok := models.ParseRiskBand(band)
	if !ok {
		verrs = append(verrs, models.FieldError{Field: "band", Message: "must be one of EMERGENCY, RED, AMBER, GREEN"})
	}
	if strings.TrimSpace(reason) == "" {
		verrs = append(verrs, models.FieldError{Field: "reason", Message: "is required"})
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	ev, err := s.repo.UpdateClassification(ctx, id, parsed, reason, actor)
	if err != nil {
		var ste *models.StateTransitionError
		switch {
		case errors.As(err, &ste), errors.Is(err, models.ErrNotFound):
			s.logger.Info("Override rejected", zap.String("event_id", id), zap.String("actor", actor), zap.Error(err))
		default:
			s.logger.Error("Failed to override intake event", zap.String("event_id", id), zap.Error(err))
		}
		return nil, fmt.Errorf("failed to override intake event: %w", err)
	}

	s.logger.Info("Intake event overridden",
		zap.String("event_id", id),
		zap.String("band", string(parsed)),
		zap.String("actor", actor),
	)
	s.publish(ctx, notify.KindOverridden, ev)
	return ev, nil
}

// MarkSeen 标记已接诊（幂等；重复调用不发通知）
func (s *TriageService) MarkSeen(ctx context.Context, id, actor string) (*models.IntakeEvent, error) {
	ev, changed, err := s.repo.MarkSeen(ctx, id, actor)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("Failed to mark intake event seen", zap.String("event_id", id), zap.Error(err))
		}
		return nil, fmt.Errorf("failed to mark intake event seen: %w", err)
	}
	if changed {
		s.logger.Info("Intake event seen", zap.String("event_id", id), zap.String("actor", actor))
		s.publish(ctx, notify.KindSeen, ev)
	}
	return ev, nil
}

// ============================================
// 导出
// ============================================

// Export 生成 xlsx：当前排队 + since 之后的全部事件和改判记录
func (s *TriageService) Export(ctx context.Context, since time.Time) ([]byte, error) {
	waiting, err := s.repo.ListWaiting(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting intake events: %w", err)
	}
	events, err := s.repo.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list intake events: %w", err)
	}
	data, err := export.Workbook(queue.Project(waiting, s.now().UTC()), events, s.exportLoc)
	if err != nil {
		s.logger.Error("Failed to build export workbook", zap.Error(err))
		return nil, err
	}
	return data, nil
}

// publish 通知失败只记录日志，不回滚已提交的变更
func (s *TriageService) publish(ctx context.Context, kind notify.Kind, ev *models.IntakeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, notify.ChangeFor(kind, ev, s.now().UTC())); err != nil {
		s.logger.Warn("Failed to publish queue change",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
