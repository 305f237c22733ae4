package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"swasthai-triage/internal/lifecycle"
	"swasthai-triage/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema 创建表和索引（幂等）
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const eventColumns = `
			id,
			created_at,
			record,
			band,
			reason,
			action,
			explanation,
			ui_color,
			status,
			seen_at,
			seen_by`

// querier *sql.DB 与 *sql.Tx 的公共部分
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner *sql.Row 与 *sql.Rows 的公共部分
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresIntakeEventsRepo PostgreSQL 实现
type PostgresIntakeEventsRepo struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresIntakeEventsRepo 创建 PostgreSQL 分诊事件仓库
func NewPostgresIntakeEventsRepo(db *sql.DB, logger *zap.Logger) *PostgresIntakeEventsRepo {
	return &PostgresIntakeEventsRepo{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Ping 检查数据库连接（/ready 使用）
func (r *PostgresIntakeEventsRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Create 插入分诊事件；ON CONFLICT 时读取已存在的记录
func (r *PostgresIntakeEventsRepo) Create(ctx context.Context, ev *models.IntakeEvent) (*models.IntakeEvent, error) {
	out := ev.Clone()
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.Status = models.StatusWaiting
	out.SeenAt = nil
	out.SeenBy = nil
	out.Annotations = nil

	record, err := json.Marshal(out.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intake record: %w", err)
	}

	query := `
		INSERT INTO intake_events (
			id, record, band, reason, action, explanation, ui_color, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'Waiting')
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at
	`
	c := out.Classification
	err = r.db.QueryRowContext(ctx, query,
		out.ID, record, string(c.Band), c.Reason, c.Action, c.Explanation, c.Color,
	).Scan(&out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// 同 ID 已保存（重试）
		r.logger.Debug("Intake event already stored", zap.String("event_id", out.ID))
		return r.Get(ctx, out.ID)
	}
	if err != nil {
		return nil, models.StoreError("failed to create intake event", err)
	}
	return out, nil
}

// Get 读取单个事件（含注解）
func (r *PostgresIntakeEventsRepo) Get(ctx context.Context, id string) (*models.IntakeEvent, error) {
	return r.get(ctx, r.db, id, false)
}

func (r *PostgresIntakeEventsRepo) get(ctx context.Context, q querier, id string, forUpdate bool) (*models.IntakeEvent, error) {
	query := `SELECT` + eventColumns + `
		FROM intake_events
		WHERE id = $1`
	if forUpdate {
		query += `
		FOR UPDATE`
	}

	ev, err := scanEvent(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("intake event %s: %w", id, models.ErrNotFound)
		}
		return nil, models.StoreError("failed to get intake event", err)
	}
	if err := r.loadAnnotations(ctx, q, []*models.IntakeEvent{ev}); err != nil {
		return nil, err
	}
	return ev, nil
}

// ListWaiting 返回全部 Waiting 事件（排序由 queue 包负责）
func (r *PostgresIntakeEventsRepo) ListWaiting(ctx context.Context) ([]*models.IntakeEvent, error) {
	query := `SELECT` + eventColumns + `
		FROM intake_events
		WHERE status = 'Waiting'
		ORDER BY created_at, id`
	return r.list(ctx, query)
}

// ListSince 返回 created_at >= since 的全部事件
func (r *PostgresIntakeEventsRepo) ListSince(ctx context.Context, since time.Time) ([]*models.IntakeEvent, error) {
	query := `SELECT` + eventColumns + `
		FROM intake_events
		WHERE created_at >= $1
		ORDER BY created_at, id`
	return r.list(ctx, query, since)
}

func (r *PostgresIntakeEventsRepo) list(ctx context.Context, query string, args ...interface{}) ([]*models.IntakeEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.StoreError("failed to list intake events", err)
	}
	defer rows.Close()

	var events []*models.IntakeEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, models.StoreError("failed to scan intake event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, models.StoreError("failed to iterate intake events", err)
	}

	if err := r.loadAnnotations(ctx, r.db, events); err != nil {
		return nil, err
	}
	return events, nil
}

// loadAnnotations 批量读取注解（event_id = ANY($1)）
func (r *PostgresIntakeEventsRepo) loadAnnotations(ctx context.Context, q querier, events []*models.IntakeEvent) error {
	if len(events) == 0 {
		return nil
	}
	byID := make(map[string]*models.IntakeEvent, len(events))
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
		ids = append(ids, ev.ID)
	}

	query := `
		SELECT event_id, reason, actor, at, previous_band, new_band, previous_explanation
		FROM intake_event_annotations
		WHERE event_id = ANY($1)
		ORDER BY event_id, seq
	`
	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return models.StoreError("failed to load annotations", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventID, prevBand, newBand string
		var a models.OverrideAnnotation
		if err := rows.Scan(&eventID, &a.Reason, &a.Actor, &a.At, &prevBand, &newBand, &a.PreviousExplanation); err != nil {
			return models.StoreError("failed to scan annotation", err)
		}
		a.PreviousBand = models.RiskBand(prevBand)
		a.NewBand = models.RiskBand(newBand)
		if ev, ok := byID[eventID]; ok {
			ev.Annotations = append(ev.Annotations, a)
		}
	}
	if err := rows.Err(); err != nil {
		return models.StoreError("failed to iterate annotations", err)
	}
	return nil
}

// UpdateClassification 在事务中锁定行（FOR UPDATE）后改判并追加注解
// 同一事件的并发改判串行执行，每次改判各自写入一条注解。
func (r *PostgresIntakeEventsRepo) UpdateClassification(ctx context.Context, id string, band models.RiskBand, reason, actor string) (*models.IntakeEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.StoreError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	current, err := r.get(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	updated, err := lifecycle.Override(current, band, reason, actor, r.now().UTC())
	if err != nil {
		return nil, err
	}

	c := updated.Classification
	result, err := tx.ExecContext(ctx, `
		UPDATE intake_events
		SET band = $2, ui_color = $3, explanation = $4
		WHERE id = $1 AND status = 'Waiting'
	`, id, string(c.Band), c.Color, c.Explanation)
	if err != nil {
		return nil, models.StoreError("failed to update classification", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, models.StoreError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return nil, &models.StateTransitionError{EventID: id, From: models.StatusSeen, Action: lifecycle.ActionOverride}
	}

	a := updated.Annotations[len(updated.Annotations)-1]
	_, err = tx.ExecContext(ctx, `
		INSERT INTO intake_event_annotations (
			event_id, reason, actor, at, previous_band, new_band, previous_explanation
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, a.Reason, a.Actor, a.At, string(a.PreviousBand), string(a.NewBand), a.PreviousExplanation)
	if err != nil {
		return nil, models.StoreError("failed to insert annotation", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, models.StoreError("failed to commit override", err)
	}

	r.logger.Info("Intake event overridden",
		zap.String("event_id", id),
		zap.String("previous_band", string(a.PreviousBand)),
		zap.String("band", string(a.NewBand)),
		zap.String("actor", actor),
	)
	return updated, nil
}

// MarkSeen Waiting -> Seen；已 Seen 时返回当前记录，changed=false
func (r *PostgresIntakeEventsRepo) MarkSeen(ctx context.Context, id, actor string) (*models.IntakeEvent, bool, error) {
	var seenBy interface{}
	if actor != "" {
		seenBy = actor
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE intake_events
		SET status = 'Seen', seen_at = $2, seen_by = $3
		WHERE id = $1 AND status = 'Waiting'
	`, id, r.now().UTC(), seenBy)
	if err != nil {
		return nil, false, models.StoreError("failed to mark intake event seen", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, models.StoreError("failed to get rows affected", err)
	}

	ev, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return ev, rowsAffected > 0, nil
}

func scanEvent(s rowScanner) (*models.IntakeEvent, error) {
	var ev models.IntakeEvent
	var record []byte
	var band, status string
	var seenAt sql.NullTime
	var seenBy sql.NullString

	err := s.Scan(
		&ev.ID,
		&ev.CreatedAt,
		&record,
		&band,
		&ev.Classification.Reason,
		&ev.Classification.Action,
		&ev.Classification.Explanation,
		&ev.Classification.Color,
		&status,
		&seenAt,
		&seenBy,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(record, &ev.Record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal intake record: %w", err)
	}
	ev.Classification.Band = models.RiskBand(band)
	ev.Status = models.Status(status)
	if seenAt.Valid {
		ev.SeenAt = &seenAt.Time
	}
	if seenBy.Valid {
		ev.SeenBy = &seenBy.String
	}
	return &ev, nil
}
