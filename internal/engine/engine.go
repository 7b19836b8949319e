// Package engine owns the notification and focus state for one process and
// serializes every mutation through a single lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/desklet/internal/activity"
	"github.com/dukerupert/desklet/internal/metrics"
	"github.com/dukerupert/desklet/internal/model"
	"github.com/dukerupert/desklet/internal/notify"
	"github.com/dukerupert/desklet/internal/nudge"
	"github.com/dukerupert/desklet/internal/store"
)

// maxWait bounds how long the loop sleeps so a wall-clock jump (machine
// sleep, NTP step) is noticed within a minute.
const maxWait = time.Minute

// Bus carries state changes to the view layer.
type Bus interface {
	NotificationChanged(c notify.Change)
	FocusUpdated(r model.FocusReport)
	IdleChanged(idle bool, at time.Time)
}

type Config struct {
	Activity    activity.Config
	Nudge       nudge.Config
	MaxRetained int
}

type Option func(*Engine)

// WithClock replaces time.Now. Tests use it to drive time explicitly.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBus sets where state changes are published.
func WithBus(b Bus) Option {
	return func(e *Engine) { e.bus = b }
}

type Engine struct {
	mu      sync.Mutex
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	bus     Bus

	store     *notify.Store
	pipeline  *notify.Pipeline
	scheduler *notify.Scheduler
	tracker   *activity.Tracker
	nudges    *nudge.Generator

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, kv store.KV, ch notify.Channels, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Engine {
	e := &Engine{
		now:     time.Now,
		logger:  logger,
		metrics: m,
		bus:     nopBus{},
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.store = notify.NewStore(kv, logger.With("component", "store"), m)
	if cfg.MaxRetained > 0 {
		d := model.DefaultSettings()
		d.MaxRetained = cfg.MaxRetained
		e.store.SetDefaultSettings(d)
	}
	e.store.OnChange(func(c notify.Change) {
		// Eviction and deletion both end here; neither may leave a removed
		// record on screen.
		if c.Kind == notify.ChangeRemoved {
			e.pipeline.Acknowledge(c.Notification.ID)
		}
		e.bus.NotificationChanged(c)
	})
	e.pipeline = notify.NewPipeline(ch, logger.With("component", "pipeline"), m)
	e.scheduler = notify.NewScheduler(e.store, e.pipeline, logger.With("component", "scheduler"), m)
	e.tracker = activity.NewTracker(cfg.Activity, kv, logger.With("component", "activity"), m)
	e.nudges = nudge.NewGenerator(cfg.Nudge, e.store, logger.With("component", "nudge"), m)
	return e
}

// Open restores persisted state, delivers anything that came due while the
// process was down, and starts the activity session. Load errors are
// returned after the engine is usable with whatever could be read.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	var errs []error
	fired, err := e.scheduler.Load(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	if err := e.tracker.Load(ctx, now); err != nil {
		errs = append(errs, err)
	}
	e.handleEvents(ctx, e.tracker.CheckDay(now), now)
	e.nudges.Start(now)

	e.logger.Info("engine opened",
		"records", e.store.Len(),
		"caught_up", fired,
		"focus_score", e.tracker.State().Score,
	)
	return errors.Join(errs...)
}

// Start runs the deadline loop until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go func() {
		defer close(done)
		timer := time.NewTimer(e.untilNext())
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				e.Tick(ctx)
			case <-e.wake:
			}
			timer.Reset(e.untilNext())
		}
	}()
}

// Stop ends the loop and waits for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Close writes any state that has not reached storage yet.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.store.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush notifications: %w", err))
	}
	if err := e.tracker.Save(ctx); err != nil {
		errs = append(errs, fmt.Errorf("save focus state: %w", err))
	}
	return errors.Join(errs...)
}

// Tick processes every deadline that is due: the day check, idle detection,
// session rollover, insight checks and notification delivery.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tick(ctx, e.now())
}

func (e *Engine) tick(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine tick panicked", "panic", r)
		}
	}()

	evs := e.tracker.CheckDay(now)
	evs = append(evs, e.tracker.CheckIdle(now)...)
	if e.tracker.RolloverDue(now) {
		evs = append(evs, e.tracker.Rollover(now)...)
	}
	e.handleEvents(ctx, evs, now)
	if e.tracker.Dirty() {
		_ = e.tracker.Save(ctx)
	}

	if e.store.Settings().NudgesEnabled {
		if _, _, err := e.nudges.CheckInsight(ctx, e.tracker.Report(now), now); err != nil {
			e.logger.Warn("insight check", "error", err)
		}
	}
	e.scheduler.RunDue(ctx, now)
}

func (e *Engine) handleEvents(ctx context.Context, evs []activity.Event, now time.Time) {
	if len(evs) == 0 {
		return
	}
	nudgesOn := e.store.Settings().NudgesEnabled
	save := false

	for _, ev := range evs {
		switch ev := ev.(type) {
		case activity.IdleStarted:
			e.bus.IdleChanged(true, ev.At)
		case activity.ActivityResumed:
			e.bus.IdleChanged(false, ev.At)
		case activity.SessionClosed, activity.DayReset:
			save = true
		}

		if !nudgesOn {
			continue
		}
		if _, _, err := e.nudges.Handle(ctx, ev, now); err != nil {
			e.logger.Warn("nudge", "error", err)
		}
	}

	if save {
		_ = e.tracker.Save(ctx)
		e.bus.FocusUpdated(e.tracker.Report(now))
	}
}

// untilNext returns how long the loop may sleep before something is due.
func (e *Engine) untilNext() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.tracker.NextDeadline()
	if at, ok := e.scheduler.Next(); ok && at.Before(next) {
		next = at
	}
	if at := e.nudges.NextInsight(); !at.IsZero() && at.Before(next) {
		next = at
	}

	d := next.Sub(e.now())
	if d < 0 {
		return 0
	}
	if d > maxWait {
		return maxWait
	}
	return d
}

// signal wakes the loop to recompute its deadline.
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// settle delivers anything a mutation made due and wakes the loop.
func (e *Engine) settle(ctx context.Context, now time.Time) {
	e.scheduler.RunDue(ctx, now)
	e.signal()
}

// Create stores a notification and arms it. A record whose time has already
// passed is delivered before Create returns.
func (e *Engine) Create(ctx context.Context, in model.NotificationInput) (model.Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	n, err := e.store.Create(ctx, in, now)
	if err != nil {
		return model.Notification{}, err
	}
	e.settle(ctx, now)
	return e.current(n), nil
}

// ScheduleReminder creates a reminder that fires leadMinutes before dueAt.
func (e *Engine) ScheduleReminder(ctx context.Context, title string, dueAt time.Time, leadMinutes int) (model.Notification, error) {
	if leadMinutes < 0 {
		return model.Notification{}, fmt.Errorf("%w: lead minutes must not be negative", notify.ErrInvalidInput)
	}
	if dueAt.IsZero() {
		return model.Notification{}, fmt.Errorf("%w: due time is required", notify.ErrInvalidInput)
	}

	message := fmt.Sprintf("Due at %s", dueAt.Format("15:04"))
	if leadMinutes > 0 {
		message = fmt.Sprintf("Due in %d minutes, at %s", leadMinutes, dueAt.Format("15:04"))
	}
	return e.Create(ctx, model.NotificationInput{
		Category:     model.CategoryReminder,
		Title:        title,
		Message:      message,
		ScheduledAt:  dueAt.Add(-time.Duration(leadMinutes) * time.Minute),
		Priority:     model.PriorityMedium,
		SoundEnabled: true,
		Payload: map[string]any{
			"due_at":       dueAt.Format(time.RFC3339),
			"lead_minutes": leadMinutes,
		},
	})
}

// ScheduleRepeatingAlert creates the first link of a repeat chain.
func (e *Engine) ScheduleRepeatingAlert(ctx context.Context, title, message string, firstAt time.Time, intervalMinutes int, category model.Category) (model.Notification, error) {
	if intervalMinutes <= 0 {
		return model.Notification{}, fmt.Errorf("%w: interval must be positive", notify.ErrInvalidInput)
	}
	if category == "" {
		category = model.CategoryTimer
	}
	return e.Create(ctx, model.NotificationInput{
		Category:     category,
		Title:        title,
		Message:      message,
		ScheduledAt:  firstAt,
		Priority:     model.PriorityMedium,
		SoundEnabled: true,
		Repeat:       &model.Repeat{IntervalMinutes: intervalMinutes},
	})
}

// ScheduleInsight creates an insight delivered delayMinutes from now.
func (e *Engine) ScheduleInsight(ctx context.Context, message string, priority model.Priority, delayMinutes int) (model.Notification, error) {
	if delayMinutes < 0 {
		return model.Notification{}, fmt.Errorf("%w: delay must not be negative", notify.ErrInvalidInput)
	}
	if strings.TrimSpace(message) == "" {
		return model.Notification{}, fmt.Errorf("%w: message is required", notify.ErrInvalidInput)
	}

	e.mu.Lock()
	at := e.now().Add(time.Duration(delayMinutes) * time.Minute)
	e.mu.Unlock()

	return e.Create(ctx, model.NotificationInput{
		Category:    model.CategoryInsight,
		Title:       "Insight",
		Message:     message,
		ScheduledAt: at,
		Priority:    priority,
	})
}

// Snooze pushes a pending or snoozed record minutes into the future,
// replacing any earlier snooze.
func (e *Engine) Snooze(ctx context.Context, id string, minutes int) (model.Notification, error) {
	if minutes <= 0 {
		return model.Notification{}, fmt.Errorf("%w: snooze minutes must be positive", notify.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	n, ok := e.store.Get(id)
	if !ok {
		return model.Notification{}, notify.ErrNotFound
	}
	if !n.Status.Live() {
		return model.Notification{}, fmt.Errorf("%w: cannot snooze a %s notification", notify.ErrInvalidTransition, n.Status)
	}

	status := model.StatusSnoozed
	until := now.Add(time.Duration(minutes) * time.Minute)
	n, err := e.store.Mutate(ctx, id, model.NotificationPatch{Status: &status, ScheduledAt: &until}, now)
	if err != nil {
		return model.Notification{}, err
	}
	e.signal()
	return n, nil
}

// Dismiss moves a record to dismissed. Dismissing twice is a no-op.
func (e *Engine) Dismiss(ctx context.Context, id string) (model.Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dismiss(ctx, id, false)
}

// MarkRead dismisses a delivered record.
func (e *Engine) MarkRead(ctx context.Context, id string) (model.Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dismiss(ctx, id, true)
}

func (e *Engine) dismiss(ctx context.Context, id string, requireDelivered bool) (model.Notification, error) {
	n, ok := e.store.Get(id)
	if !ok {
		return model.Notification{}, notify.ErrNotFound
	}
	if n.Status == model.StatusDismissed {
		return n, nil
	}
	if requireDelivered && n.Status != model.StatusDelivered {
		return model.Notification{}, fmt.Errorf("%w: cannot mark a %s notification read", notify.ErrInvalidTransition, n.Status)
	}

	status := model.StatusDismissed
	n, err := e.store.Mutate(ctx, id, model.NotificationPatch{Status: &status}, e.now())
	if err != nil {
		return model.Notification{}, err
	}
	e.pipeline.Acknowledge(id)
	e.signal()
	return n, nil
}

// Delete removes a record and cancels its timer.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Remove(ctx, id); err != nil {
		return err
	}
	e.signal()
	return nil
}

func (e *Engine) Get(id string) (model.Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.store.Get(id)
	if !ok {
		return model.Notification{}, notify.ErrNotFound
	}
	return n, nil
}

func (e *Engine) List(filter model.NotificationFilter) []model.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.List(filter)
}

func (e *Engine) Settings() model.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Settings()
}

func (e *Engine) UpdateSettings(ctx context.Context, patch model.SettingsPatch) (model.Settings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.store.UpdateSettings(ctx, patch)
	if err != nil {
		return model.Settings{}, err
	}
	e.logger.Info("notification settings updated")
	return s, nil
}

// TrackActivity records feature-specific activity.
func (e *Engine) TrackActivity(ctx context.Context, category model.ActivityCategory, amount float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	evs, err := e.tracker.TrackActivity(category, amount, now)
	if err != nil {
		return err
	}
	e.handleEvents(ctx, evs, now)
	e.settle(ctx, now)
	return nil
}

// Interaction records a generic input event.
func (e *Engine) Interaction(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()

	evs := e.tracker.Interaction(now)
	if len(evs) == 0 {
		return
	}
	e.handleEvents(ctx, evs, now)
	e.settle(ctx, now)
}

func (e *Engine) FocusReport() model.FocusReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Report(e.now())
}

// current re-reads n so callers see the effect of any immediate delivery.
func (e *Engine) current(n model.Notification) model.Notification {
	if cur, ok := e.store.Get(n.ID); ok {
		return cur
	}
	return n
}

type nopBus struct{}

func (nopBus) NotificationChanged(notify.Change) {}
func (nopBus) FocusUpdated(model.FocusReport)    {}
func (nopBus) IdleChanged(bool, time.Time)       {}
