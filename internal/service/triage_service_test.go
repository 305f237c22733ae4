package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"swasthai-triage/internal/classifier"
	"swasthai-triage/internal/models"
	"swasthai-triage/internal/notify"
	"swasthai-triage/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// flakyRepo 在 failCreates 次内 Create 返回存储不可用
type flakyRepo struct {
	*repository.MemoryIntakeEventsRepo
	mu          sync.Mutex
	failCreates int
	creates     []*models.IntakeEvent
}

func (r *flakyRepo) Create(ctx context.Context, ev *models.IntakeEvent) (*models.IntakeEvent, error) {
	r.mu.Lock()
	r.creates = append(r.creates, ev.Clone())
	fail := r.failCreates > 0
	if fail {
		r.failCreates--
	}
	r.mu.Unlock()
	if fail {
		return nil, models.StoreError("failed to create intake event", errors.New("connection refused"))
	}
	return r.MemoryIntakeEventsRepo.Create(ctx, ev)
}

type recorder struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (r *recorder) Publish(_ context.Context, c notify.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Kind)
	}
	return out
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupService(t *testing.T, failCreates int) (*TriageService, *flakyRepo, *recorder) {
	t.Helper()
	clock := base
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Minute)
		return clock
	}

	repo := &flakyRepo{
		MemoryIntakeEventsRepo: repository.NewMemoryIntakeEventsRepo(now),
		failCreates:            failCreates,
	}
	rec := &recorder{}
	outbox := NewOutbox(repo, rec, zap.NewNop())
	outbox.initialBackoff = 5 * time.Millisecond
	outbox.maxBackoff = 20 * time.Millisecond

	svc := NewTriageService(repo, classifier.NewDefaultEngine(), rec, outbox, zap.NewNop())
	svc.now = now
	return svc, repo, rec
}

func payload(overrides map[string]any) map[string]any {
	p := map[string]any{
		"age":                   40,
		"sex":                   "female",
		"temperature":           98.6,
		"spo2":                  98,
		"pulse":                 72,
		"chest_pain":            false,
		"breathlessness":        false,
		"bleeding":              false,
		"altered_sensorium":     false,
		"severe_abdominal_pain": false,
		"eye_injury":            false,
		"chief_complaint":       "cough",
		"duration_days":         10,
		"pain_score":            1,
		"chronic_conditions":    false,
	}
	for k, v := range overrides {
		p[k] = v
	}
	return p
}

func TestSubmit_Success(t *testing.T) {
	svc, _, rec := setupService(t, 0)

	res, err := svc.Submit(context.Background(), payload(map[string]any{"chest_pain": true}))
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, models.BandRed, res.Event.Classification.Band)
	assert.Equal(t, "Chest Pain", res.Event.Classification.Reason)
	assert.Equal(t, models.StatusWaiting, res.Event.Status)
	assert.Equal(t, []notify.Kind{notify.KindCreated}, rec.kinds())
}

func TestSubmit_ValidationErrorNoSideEffects(t *testing.T) {
	svc, repo, rec := setupService(t, 0)

	_, err := svc.Submit(context.Background(), payload(map[string]any{"spo2": 140, "pain_score": "high"}))
	var verrs models.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.Empty(t, repo.creates)
	assert.Empty(t, rec.kinds())
}

func TestSubmit_StoreUnavailableKeepsClassification(t *testing.T) {
	svc, repo, rec := setupService(t, 2)
	ctx := context.Background()

	res, err := svc.Submit(ctx, payload(map[string]any{"spo2": 85}))
	require.NoError(t, err)
	assert.False(t, res.Saved)
	assert.Equal(t, "Critical Hypoxia", res.Event.Classification.Reason)
	assert.Equal(t, 1, svc.outbox.Pending())

	view, err := svc.Queue(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Entries)
	assert.Equal(t, 1, view.PendingSaves)

	// 第一次重试仍失败
	n, err := svc.outbox.flush(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, n)

	n, err = svc.outbox.flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, svc.outbox.Pending())

	stored, err := svc.Get(ctx, res.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Event.Classification, stored.Classification)
	assert.Equal(t, res.Event.Record, stored.Record)

	// 每次尝试都是同一个事件
	require.Len(t, repo.creates, 3)
	for _, c := range repo.creates {
		assert.Equal(t, res.Event.ID, c.ID)
		assert.Equal(t, res.Event.Classification, c.Classification)
	}
	assert.Equal(t, []notify.Kind{notify.KindCreated}, rec.kinds())
}

func TestOutbox_ConcurrentFlushKeepsEveryEvent(t *testing.T) {
	svc, repo, rec := setupService(t, 5)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		res, err := svc.Submit(ctx, payload(nil))
		require.NoError(t, err)
		require.False(t, res.Saved)
		ids = append(ids, res.Event.ID)
	}
	require.Equal(t, 5, svc.outbox.Pending())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.outbox.flush(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, svc.outbox.Pending())
	for _, id := range ids {
		_, err := svc.Get(ctx, id)
		assert.NoError(t, err, id)
	}
	// 5 次失败的首次提交 + 每个事件恰好一次成功保存
	assert.Len(t, repo.creates, 10)
	assert.Len(t, rec.kinds(), 5)
}

func TestOutbox_RunRetriesWithBackoff(t *testing.T) {
	svc, _, _ := setupService(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.outbox.Run(ctx) }()

	res, err := svc.Submit(ctx, payload(nil))
	require.NoError(t, err)
	require.False(t, res.Saved)

	require.Eventually(t, func() bool { return svc.outbox.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)

	view, err := svc.Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, res.Event.ID, view.Entries[0].Event.ID)

	cancel()
	assert.NoError(t, <-done)
}

func TestQueue_OrderedAndRecomputed(t *testing.T) {
	svc, _, _ := setupService(t, 0)
	ctx := context.Background()

	amber, err := svc.Submit(ctx, payload(map[string]any{"temperature": 101}))
	require.NoError(t, err)
	emergency, err := svc.Submit(ctx, payload(map[string]any{"bleeding": true}))
	require.NoError(t, err)
	red, err := svc.Submit(ctx, payload(map[string]any{"pulse": 130}))
	require.NoError(t, err)

	view, err := svc.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, view.Entries, 3)
	assert.Equal(t, emergency.Event.ID, view.Entries[0].Event.ID)
	assert.Equal(t, red.Event.ID, view.Entries[1].Event.ID)
	assert.Equal(t, amber.Event.ID, view.Entries[2].Event.ID)
	assert.Equal(t, 3, view.Summary.Total)

	// 改判后立即反映在队列中
	_, err = svc.Override(ctx, amber.Event.ID, "emergency", "Patient Condition Changed", "dr.rao")
	require.NoError(t, err)
	view, err = svc.Queue(ctx)
	require.NoError(t, err)
	assert.Equal(t, amber.Event.ID, view.Entries[0].Event.ID)
}

func TestOverride(t *testing.T) {
	svc, _, rec := setupService(t, 0)
	ctx := context.Background()
	res, _ := svc.Submit(ctx, payload(map[string]any{"temperature": 101}))

	ev, err := svc.Override(ctx, res.Event.ID, "RED", "Clinical Judgement - Higher Acuity", "dr.rao")
	require.NoError(t, err)
	assert.Equal(t, models.BandRed, ev.Classification.Band)
	assert.Equal(t, "Febrile", ev.Classification.Reason)
	assert.Equal(t, "[Override: Clinical Judgement - Higher Acuity] Moderate fever present.", ev.Classification.Explanation)
	require.Len(t, ev.Annotations, 1)
	assert.Equal(t, "dr.rao", ev.Annotations[0].Actor)
	assert.Equal(t, []notify.Kind{notify.KindCreated, notify.KindOverridden}, rec.kinds())
}

func TestOverride_Errors(t *testing.T) {
	svc, _, _ := setupService(t, 0)
	ctx := context.Background()
	res, _ := svc.Submit(ctx, payload(nil))

	_, err := svc.Override(ctx, res.Event.ID, "BLUE", " ", "dr.rao")
	var verrs models.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)

	_, err = svc.Override(ctx, "missing", "RED", "Other", "dr.rao")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = svc.MarkSeen(ctx, res.Event.ID, "dr.rao")
	require.NoError(t, err)
	_, err = svc.Override(ctx, res.Event.ID, "RED", "Other", "dr.rao")
	var ste *models.StateTransitionError
	require.True(t, errors.As(err, &ste))

	stored, _ := svc.Get(ctx, res.Event.ID)
	assert.Equal(t, models.BandGreen, stored.Classification.Band)
	assert.Equal(t, models.StatusSeen, stored.Status)
}

func TestMarkSeen_IdempotentSingleNotification(t *testing.T) {
	svc, _, rec := setupService(t, 0)
	ctx := context.Background()
	res, _ := svc.Submit(ctx, payload(nil))

	first, err := svc.MarkSeen(ctx, res.Event.ID, "dr.rao")
	require.NoError(t, err)
	second, err := svc.MarkSeen(ctx, res.Event.ID, "dr.rao")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []notify.Kind{notify.KindCreated, notify.KindSeen}, rec.kinds())

	view, _ := svc.Queue(ctx)
	assert.Empty(t, view.Entries)

	_, err = svc.MarkSeen(ctx, "missing", "dr.rao")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGet_EmptyID(t *testing.T) {
	svc, _, _ := setupService(t, 0)
	_, err := svc.Get(context.Background(), " ")
	var verrs models.ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestExport(t *testing.T) {
	svc, _, _ := setupService(t, 0)
	ctx := context.Background()
	a, _ := svc.Submit(ctx, payload(map[string]any{"bleeding": true}))
	b, _ := svc.Submit(ctx, payload(nil))
	_, err := svc.MarkSeen(ctx, a.Event.ID, "dr.rao")
	require.NoError(t, err)

	data, err := svc.Export(ctx, base)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	queueRows, err := f.GetRows("Queue")
	require.NoError(t, err)
	require.Len(t, queueRows, 2)
	assert.Equal(t, b.Event.ID, queueRows[1][1])

	eventRows, err := f.GetRows("Events")
	require.NoError(t, err)
	assert.Len(t, eventRows, 3)
}
