package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/desklet/internal/model"
)

func TestCreateDefaultsAndArms(t *testing.T) {
	h := newHarness(t)

	n := h.create(t, "  Stand-up  ", t0.Add(10*time.Minute))

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "Stand-up", n.Title)
	assert.Equal(t, model.StatusPending, n.Status)
	assert.Equal(t, model.PriorityMedium, n.Priority)
	assert.Equal(t, t0, n.CreatedAt)

	at, ok := h.scheduler.Armed(n.ID)
	require.True(t, ok)
	assert.True(t, at.Equal(t0.Add(10*time.Minute)))

	require.Len(t, h.changes, 1)
	assert.Equal(t, ChangeCreated, h.changes[0].Kind)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   model.NotificationInput
	}{
		{"empty title", model.NotificationInput{Category: model.CategoryReminder, Title: "  ", ScheduledAt: t0}},
		{"unknown category", model.NotificationInput{Category: "weather", Title: "x", ScheduledAt: t0}},
		{"unknown priority", model.NotificationInput{Category: model.CategoryReminder, Title: "x", ScheduledAt: t0, Priority: "urgent"}},
		{"missing time", model.NotificationInput{Category: model.CategoryReminder, Title: "x"}},
		{"zero interval", model.NotificationInput{Category: model.CategoryTimer, Title: "x", ScheduledAt: t0, Repeat: &model.Repeat{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.store.Create(ctx, tt.in, t0)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, h.store.Len())
}

func TestListOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	late := h.create(t, "late", t0.Add(30*time.Minute))
	early := h.create(t, "early", t0.Add(5*time.Minute))
	old := h.create(t, "old", t0.Add(time.Minute))
	recent := h.create(t, "recent", t0.Add(2*time.Minute))

	_, err := h.store.Mutate(ctx, old.ID, model.NotificationPatch{Status: statusPtr(model.StatusDelivered)}, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = h.store.Mutate(ctx, recent.ID, model.NotificationPatch{Status: statusPtr(model.StatusDismissed)}, t0.Add(2*time.Minute))
	require.NoError(t, err)

	var ids []string
	for _, n := range h.store.List(model.NotificationFilter{}) {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{early.ID, late.ID, recent.ID, old.ID}, ids)

	delivered := h.store.List(model.NotificationFilter{Status: model.StatusDelivered})
	require.Len(t, delivered, 1)
	assert.Equal(t, old.ID, delivered[0].ID)
}

func TestMutateTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.create(t, "water plants", t0.Add(time.Hour))

	_, err := h.store.Mutate(ctx, n.ID, model.NotificationPatch{Status: statusPtr(model.StatusDelivered)}, t0)
	require.NoError(t, err)

	_, err = h.store.Mutate(ctx, n.ID, model.NotificationPatch{Status: statusPtr(model.StatusPending)}, t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.store.Mutate(ctx, n.ID, model.NotificationPatch{Status: statusPtr(model.StatusDismissed)}, t0)
	require.NoError(t, err)

	_, err = h.store.Mutate(ctx, n.ID, model.NotificationPatch{Status: statusPtr(model.StatusSnoozed)}, t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.store.Mutate(ctx, "missing", model.NotificationPatch{}, t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutateRearmsAndCancels(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := h.create(t, "stretch", t0.Add(time.Minute))

	later := t0.Add(20 * time.Minute)
	_, err := h.store.Mutate(ctx, n.ID, model.NotificationPatch{
		Status:      statusPtr(model.StatusSnoozed),
		ScheduledAt: &later,
	}, t0)
	require.NoError(t, err)

	at, ok := h.scheduler.Armed(n.ID)
	require.True(t, ok)
	assert.True(t, at.Equal(later))

	_, err = h.store.Mutate(ctx, n.ID, model.NotificationPatch{Status: statusPtr(model.StatusDismissed)}, t0)
	require.NoError(t, err)
	_, ok = h.scheduler.Armed(n.ID)
	assert.False(t, ok)
}

func TestRemoveCancelsTimer(t *testing.T) {
	h := newHarness(t)
	n := h.create(t, "call mom", t0.Add(time.Hour))

	require.NoError(t, h.store.Remove(context.Background(), n.ID))

	_, ok := h.store.Get(n.ID)
	assert.False(t, ok)
	_, ok = h.scheduler.Armed(n.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, h.store.Remove(context.Background(), n.ID), ErrNotFound)
}

func TestCreateEvictsOldestFinishedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.UpdateSettings(ctx, model.SettingsPatch{MaxRetained: intPtr(3)})
	require.NoError(t, err)

	a := h.create(t, "a", t0)
	b := h.create(t, "b", t0)
	c := h.create(t, "c", t0.Add(time.Hour))
	_, err = h.store.Mutate(ctx, a.ID, model.NotificationPatch{Status: statusPtr(model.StatusDelivered)}, t0.Add(2*time.Minute))
	require.NoError(t, err)
	_, err = h.store.Mutate(ctx, b.ID, model.NotificationPatch{Status: statusPtr(model.StatusDelivered)}, t0.Add(time.Minute))
	require.NoError(t, err)

	d := h.create(t, "d", t0.Add(time.Hour))

	assert.Equal(t, 3, h.store.Len())
	_, ok := h.store.Get(b.ID)
	assert.False(t, ok, "oldest delivered record should be evicted")
	for _, id := range []string{a.ID, c.ID, d.ID} {
		_, ok := h.store.Get(id)
		assert.True(t, ok, id)
	}
}

func TestCreateFailsWhenOnlyLiveRecordsRemain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.UpdateSettings(ctx, model.SettingsPatch{MaxRetained: intPtr(2)})
	require.NoError(t, err)

	h.create(t, "a", t0.Add(time.Hour))
	h.create(t, "b", t0.Add(time.Hour))

	_, err = h.store.Create(ctx, model.NotificationInput{
		Category:    model.CategoryReminder,
		Title:       "c",
		ScheduledAt: t0.Add(time.Hour),
	}, t0)
	assert.ErrorIs(t, err, ErrStoreFull)
	assert.Equal(t, 2, h.store.Len())
}

func TestUpdateSettingsShrinksStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		n := h.create(t, "done", t0)
		_, err := h.store.Mutate(ctx, n.ID, model.NotificationPatch{Status: statusPtr(model.StatusDismissed)}, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	s, err := h.store.UpdateSettings(ctx, model.SettingsPatch{MaxRetained: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, s.MaxRetained)
	assert.Equal(t, 2, h.store.Len())

	_, err = h.store.UpdateSettings(ctx, model.SettingsPatch{MaxRetained: intPtr(0)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.store.UpdateSettings(ctx, model.SettingsPatch{Categories: map[model.Category]bool{"weather": false}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStoreRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	n, err := h.store.Create(ctx, model.NotificationInput{
		Category:     model.CategoryTimer,
		Title:        "break",
		Message:      "look away from the screen",
		ScheduledAt:  t0.Add(time.Hour),
		Priority:     model.PriorityHigh,
		SoundEnabled: true,
		Repeat:       &model.Repeat{IntervalMinutes: 45},
		Payload:      map[string]any{"source": "timer"},
	}, t0)
	require.NoError(t, err)
	_, err = h.store.UpdateSettings(ctx, model.SettingsPatch{
		SoundEnabled: boolPtr(false),
		Categories:   map[model.Category]bool{model.CategoryInsight: false},
	})
	require.NoError(t, err)

	reloaded := newHarnessWithKV(t, h.kv)
	require.NoError(t, reloaded.store.Load(ctx))

	got, ok := reloaded.store.Get(n.ID)
	require.True(t, ok)
	assert.Equal(t, "look away from the screen", got.Message)
	assert.Equal(t, model.PriorityHigh, got.Priority)
	require.NotNil(t, got.Repeat)
	assert.Equal(t, 45, got.Repeat.IntervalMinutes)
	assert.Equal(t, "timer", got.Payload["source"])
	assert.True(t, got.ScheduledAt.Equal(n.ScheduledAt))

	s := reloaded.store.Settings()
	assert.False(t, s.SoundEnabled)
	assert.False(t, s.CategoryEnabled(model.CategoryInsight))
	assert.True(t, s.CategoryEnabled(model.CategoryReminder))
}

func TestFailedWriteIsRetriedByNextMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.kv.setFailing(true)
	first := h.create(t, "first", t0.Add(time.Hour))
	assert.True(t, h.store.Dirty())

	// memory stays authoritative while the disk is failing
	_, ok := h.store.Get(first.ID)
	assert.True(t, ok)

	h.kv.setFailing(false)
	second := h.create(t, "second", t0.Add(time.Hour))
	assert.False(t, h.store.Dirty())

	reloaded := newHarnessWithKV(t, h.kv)
	require.NoError(t, reloaded.store.Load(ctx))
	assert.Equal(t, 2, reloaded.store.Len())
	_, ok = reloaded.store.Get(second.ID)
	assert.True(t, ok)
}

func TestFlushRetriesDirtyState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.kv.setFailing(true)
	h.create(t, "pending write", t0.Add(time.Hour))
	assert.Error(t, h.store.Flush(ctx))

	h.kv.setFailing(false)
	require.NoError(t, h.store.Flush(ctx))
	assert.False(t, h.store.Dirty())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusPending, model.StatusSnoozed, true},
		{model.StatusPending, model.StatusDelivered, true},
		{model.StatusSnoozed, model.StatusSnoozed, true},
		{model.StatusSnoozed, model.StatusPending, true},
		{model.StatusDelivered, model.StatusDismissed, true},
		{model.StatusDelivered, model.StatusSnoozed, false},
		{model.StatusDismissed, model.StatusPending, false},
		{model.StatusDismissed, model.StatusDismissed, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
