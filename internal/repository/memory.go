package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swasthai-triage/internal/lifecycle"
	"swasthai-triage/internal/models"

	"github.com/google/uuid"
)

// MemoryIntakeEventsRepo 内存实现（数据库未启用时及测试使用）
type MemoryIntakeEventsRepo struct {
	mu     sync.Mutex
	events map[string]*models.IntakeEvent
	order  []string
	now    func() time.Time
}

// NewMemoryIntakeEventsRepo 创建内存仓库；now 为 nil 时使用 time.Now
func NewMemoryIntakeEventsRepo(now func() time.Time) *MemoryIntakeEventsRepo {
	if now == nil {
		now = time.Now
	}
	return &MemoryIntakeEventsRepo{
		events: make(map[string]*models.IntakeEvent),
		now:    now,
	}
}

func (r *MemoryIntakeEventsRepo) Create(ctx context.Context, ev *models.IntakeEvent) (*models.IntakeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.StoreError("failed to create intake event", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.ID != "" {
		if existing, ok := r.events[ev.ID]; ok {
			return existing.Clone(), nil
		}
	}

	stored := ev.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.CreatedAt = r.now().UTC()
	stored.Status = models.StatusWaiting
	stored.SeenAt = nil
	stored.SeenBy = nil
	stored.Annotations = nil

	r.events[stored.ID] = stored
	r.order = append(r.order, stored.ID)
	return stored.Clone(), nil
}

func (r *MemoryIntakeEventsRepo) Get(ctx context.Context, id string) (*models.IntakeEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil, fmt.Errorf("intake event %s: %w", id, models.ErrNotFound)
	}
	return ev.Clone(), nil
}

func (r *MemoryIntakeEventsRepo) ListWaiting(ctx context.Context) ([]*models.IntakeEvent, error) {
	return r.filter(func(ev *models.IntakeEvent) bool { return ev.Status == models.StatusWaiting }), nil
}

func (r *MemoryIntakeEventsRepo) ListSince(ctx context.Context, since time.Time) ([]*models.IntakeEvent, error) {
	return r.filter(func(ev *models.IntakeEvent) bool { return !ev.CreatedAt.Before(since) }), nil
}

func (r *MemoryIntakeEventsRepo) filter(keep func(*models.IntakeEvent) bool) []*models.IntakeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.IntakeEvent, 0, len(r.order))
	for _, id := range r.order {
		if ev := r.events[id]; keep(ev) {
			out = append(out, ev.Clone())
		}
	}
	return out
}

func (r *MemoryIntakeEventsRepo) UpdateClassification(ctx context.Context, id string, band models.RiskBand, reason, actor string) (*models.IntakeEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil, fmt.Errorf("intake event %s: %w", id, models.ErrNotFound)
	}
	updated, err := lifecycle.Override(ev, band, reason, actor, r.now().UTC())
	if err != nil {
		return nil, err
	}
	r.events[id] = updated
	return updated.Clone(), nil
}

func (r *MemoryIntakeEventsRepo) MarkSeen(ctx context.Context, id, actor string) (*models.IntakeEvent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil, false, fmt.Errorf("intake event %s: %w", id, models.ErrNotFound)
	}
	updated, changed := lifecycle.MarkSeen(ev, actor, r.now().UTC())
	r.events[id] = updated
	return updated.Clone(), changed, nil
}
