package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"swasthai-triage/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newMemoryRepo() *MemoryIntakeEventsRepo {
	clock := &stepClock{now: fixedNow}
	return NewMemoryIntakeEventsRepo(clock.Now)
}

func TestMemory_CreateAndGet(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()

	in := newAmberEvent("")
	in.Status = models.StatusSeen
	created, err := repo.Create(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.StatusWaiting, created.Status)
	assert.Equal(t, fixedNow.Add(time.Second), created.CreatedAt)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	// 返回的是副本
	got.Classification.Band = models.BandGreen
	again, _ := repo.Get(ctx, created.ID)
	assert.Equal(t, models.BandAmber, again.Classification.Band)
}

func TestMemory_CreateIdempotentOnID(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()

	first, err := repo.Create(ctx, newAmberEvent("fixed-id"))
	require.NoError(t, err)
	second, err := repo.Create(ctx, newAmberEvent("fixed-id"))
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	all, _ := repo.ListWaiting(ctx)
	assert.Len(t, all, 1)
}

func TestMemory_CanceledContext(t *testing.T) {
	repo := newMemoryRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repo.Create(ctx, newAmberEvent(""))
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestMemory_GetNotFound(t *testing.T) {
	_, err := newMemoryRepo().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemory_OverrideAndSeen(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()
	ev, _ := repo.Create(ctx, newAmberEvent(""))

	updated, err := repo.UpdateClassification(ctx, ev.ID, models.BandRed, "Patient Condition Changed", "n1")
	require.NoError(t, err)
	assert.Equal(t, models.BandRed, updated.Classification.Band)
	require.Len(t, updated.Annotations, 1)

	seen, changed, err := repo.MarkSeen(ctx, ev.ID, "dr.rao")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusSeen, seen.Status)

	_, changed, err = repo.MarkSeen(ctx, ev.ID, "dr.rao")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = repo.UpdateClassification(ctx, ev.ID, models.BandGreen, "Other", "n1")
	var ste *models.StateTransitionError
	require.True(t, errors.As(err, &ste))

	stored, _ := repo.Get(ctx, ev.ID)
	assert.Equal(t, models.BandRed, stored.Classification.Band)
	assert.Equal(t, models.StatusSeen, stored.Status)
	assert.Len(t, stored.Annotations, 1)

	waiting, _ := repo.ListWaiting(ctx)
	assert.Empty(t, waiting)
}

func TestMemory_NotFoundOnWrites(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()
	_, err := repo.UpdateClassification(ctx, "x", models.BandRed, "Other", "n1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, _, err = repo.MarkSeen(ctx, "x", "n1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemory_ListSince(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, newAmberEvent(fmt.Sprintf("ev-%d", i)))
		require.NoError(t, err)
	}
	events, err := repo.ListSince(ctx, fixedNow.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].ID)
}

func TestMemory_ConcurrentOverridesAllRecorded(t *testing.T) {
	repo := newMemoryRepo()
	ctx := context.Background()
	ev, _ := repo.Create(ctx, newAmberEvent(""))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			band := models.BandRed
			if i%2 == 0 {
				band = models.BandGreen
			}
			_, err := repo.UpdateClassification(ctx, ev.ID, band, fmt.Sprintf("reason %d", i), "n1")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, _ := repo.Get(ctx, ev.ID)
	assert.Len(t, stored.Annotations, 20)
	last := stored.Annotations[len(stored.Annotations)-1]
	assert.Equal(t, last.NewBand, stored.Classification.Band)
}
