package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/desklet/internal/model"
)

func TestRunDueDeliversOnlyDueRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	due := h.create(t, "due", t0.Add(time.Minute))
	later := h.create(t, "later", t0.Add(time.Hour))

	fired := h.scheduler.RunDue(ctx, t0.Add(2*time.Minute))
	assert.Equal(t, 1, fired)

	got, _ := h.store.Get(due.ID)
	assert.Equal(t, model.StatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.DeliveredAt.Equal(t0.Add(2*time.Minute)))

	got, _ = h.store.Get(later.ID)
	assert.Equal(t, model.StatusPending, got.Status)

	require.Len(t, h.presenter.shown, 1)
	assert.Equal(t, due.ID, h.presenter.shown[0].id)

	next, ok := h.scheduler.Next()
	require.True(t, ok)
	assert.True(t, next.Equal(t0.Add(time.Hour)))
}

func TestDismissedRecordNeverFires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.create(t, "skip me", t0.Add(time.Minute))

	_, err := h.store.Mutate(ctx, n.ID, model.NotificationPatch{Status: statusPtr(model.StatusDismissed)}, t0)
	require.NoError(t, err)

	assert.Equal(t, 0, h.scheduler.RunDue(ctx, t0.Add(time.Hour)))
	assert.Empty(t, h.presenter.shown)
}

func TestStaleFireIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.create(t, "raced", t0.Add(time.Minute))
	_, err := h.store.Mutate(ctx, n.ID, model.NotificationPatch{Status: statusPtr(model.StatusDismissed)}, t0)
	require.NoError(t, err)

	// a deadline that outlived its record's liveness
	h.scheduler.queue.Set(n.ID, t0.Add(time.Minute))
	h.scheduler.queue.Set("deleted", t0.Add(time.Minute))

	assert.Equal(t, 0, h.scheduler.RunDue(ctx, t0.Add(time.Hour)))
	got, _ := h.store.Get(n.ID)
	assert.Equal(t, model.StatusDismissed, got.Status)
	assert.Empty(t, h.presenter.shown)
}

func TestSnoozedRecordFiresAtNewTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.create(t, "nap", t0.Add(time.Minute))

	until := t0.Add(15 * time.Minute)
	_, err := h.store.Mutate(ctx, n.ID, model.NotificationPatch{
		Status:      statusPtr(model.StatusSnoozed),
		ScheduledAt: &until,
	}, t0)
	require.NoError(t, err)

	assert.Equal(t, 0, h.scheduler.RunDue(ctx, t0.Add(5*time.Minute)))
	assert.Equal(t, 1, h.scheduler.RunDue(ctx, t0.Add(15*time.Minute)))

	got, _ := h.store.Get(n.ID)
	assert.Equal(t, model.StatusDelivered, got.Status)
}

func TestRepeatingRecordSchedulesSuccessor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.store.Create(ctx, model.NotificationInput{
		Category:    model.CategoryTimer,
		Title:       "hydrate",
		ScheduledAt: t0.Add(time.Minute),
		Repeat:      &model.Repeat{IntervalMinutes: 30},
	}, t0)
	require.NoError(t, err)

	deliveredAt := t0.Add(90 * time.Second)
	require.Equal(t, 1, h.scheduler.RunDue(ctx, deliveredAt))

	live := h.store.Live()
	require.Len(t, live, 1)
	next := live[0]
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, first.ID, next.DerivedFrom)
	assert.Equal(t, model.StatusPending, next.Status)
	assert.True(t, next.ScheduledAt.Equal(deliveredAt.Add(30*time.Minute)))
	require.NotNil(t, next.Repeat)
	assert.Equal(t, 30, next.Repeat.IntervalMinutes)

	// the chain keeps going
	require.Equal(t, 1, h.scheduler.RunDue(ctx, next.ScheduledAt))
	assert.Len(t, h.store.Live(), 1)
	assert.Equal(t, 3, h.store.Len())
}

func TestLoadDeliversMissedRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	missed := h.create(t, "missed", t0.Add(time.Minute))
	future := h.create(t, "future", t0.Add(2*time.Hour))

	restarted := newHarnessWithKV(t, h.kv)
	fired, err := restarted.scheduler.Load(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	got, _ := restarted.store.Get(missed.ID)
	assert.Equal(t, model.StatusDelivered, got.Status)
	at, ok := restarted.scheduler.Armed(future.ID)
	require.True(t, ok)
	assert.True(t, at.Equal(t0.Add(2*time.Hour)))
}

func TestDeliveryPanicDoesNotStopLoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.presenter.panics = true
	a := h.create(t, "a", t0.Add(time.Minute))
	b := h.create(t, "b", t0.Add(2*time.Minute))

	assert.Equal(t, 2, h.scheduler.RunDue(ctx, t0.Add(time.Hour)))
	for _, id := range []string{a.ID, b.ID} {
		got, _ := h.store.Get(id)
		assert.Equal(t, model.StatusDelivered, got.Status)
	}
}
