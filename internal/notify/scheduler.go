package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/desklet/internal/metrics"
	"github.com/dukerupert/desklet/internal/model"
	"github.com/dukerupert/desklet/internal/schedule"
)

// Scheduler keeps one armed deadline per live record and fires them through
// the pipeline when they come due. It holds no clock of its own: the caller
// decides when to run due deadlines.
type Scheduler struct {
	store    *Store
	pipeline *Pipeline
	queue    *schedule.Queue
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewScheduler wires the scheduler to st so that store mutations arm and
// cancel deadlines.
func NewScheduler(st *Store, p *Pipeline, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	s := &Scheduler{
		store:    st,
		pipeline: p,
		queue:    schedule.NewQueue(),
		logger:   logger,
		metrics:  m,
	}
	st.SetTiming(s)
	return s
}

// Arm replaces any deadline for n with n.ScheduledAt.
func (s *Scheduler) Arm(n model.Notification) {
	s.queue.Set(n.ID, n.ScheduledAt)
	s.metrics.LiveRecords.Set(float64(s.queue.Len()))
}

func (s *Scheduler) Cancel(id string) {
	s.queue.Remove(id)
	s.metrics.LiveRecords.Set(float64(s.queue.Len()))
}

// Armed returns the deadline currently armed for id.
func (s *Scheduler) Armed(id string) (time.Time, bool) {
	return s.queue.Deadline(id)
}

// Next returns the earliest armed deadline.
func (s *Scheduler) Next() (time.Time, bool) {
	_, at, ok := s.queue.Next()
	return at, ok
}

// Load restores records from storage, arms every live one, and delivers those
// whose time passed while the process was down. A storage error is returned
// after arming whatever is in memory.
func (s *Scheduler) Load(ctx context.Context, now time.Time) (int, error) {
	err := s.store.Load(ctx)
	for _, n := range s.store.Live() {
		s.Arm(n)
	}
	return s.RunDue(ctx, now), err
}

// RunDue fires every deadline at or before now and returns how many records
// were delivered.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	fired := 0
	for {
		id, ok := s.queue.PopDue(now)
		if !ok {
			break
		}
		s.metrics.LiveRecords.Set(float64(s.queue.Len()))
		if s.fire(ctx, id, now) {
			fired++
		}
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, id string, now time.Time) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification delivery panicked", "id", id, "panic", r)
			delivered = false
		}
	}()

	n, ok := s.store.Get(id)
	if !ok || !n.Status.Live() {
		s.metrics.StaleFires.Inc()
		s.logger.Debug("ignoring stale fire", "id", id)
		return false
	}
	if n.ScheduledAt.After(now) {
		s.Arm(n)
		return false
	}

	report := s.pipeline.Deliver(ctx, n, s.store.Settings())

	status := model.StatusDelivered
	at := now
	if _, err := s.store.Mutate(ctx, id, model.NotificationPatch{Status: &status, DeliveredAt: &at}, now); err != nil {
		s.logger.Error("mark notification delivered", "id", id, "error", err)
		return false
	}
	s.logger.Info("notification delivered",
		"id", id,
		"category", n.Category,
		"suppressed", report.Suppressed,
		"native", report.Native,
		"in_app", report.InApp,
	)

	if n.Repeat != nil && n.Repeat.IntervalMinutes > 0 {
		s.scheduleSuccessor(ctx, n, now)
	}
	return true
}

func (s *Scheduler) scheduleSuccessor(ctx context.Context, n model.Notification, deliveredAt time.Time) {
	in := model.NotificationInput{
		Category:     n.Category,
		Title:        n.Title,
		Message:      n.Message,
		ScheduledAt:  deliveredAt.Add(n.Repeat.Interval()),
		Priority:     n.Priority,
		SoundEnabled: n.SoundEnabled,
		Repeat:       n.Repeat,
		Payload:      n.Payload,
		DerivedFrom:  n.ID,
	}
	next, err := s.store.Create(ctx, in, deliveredAt)
	if err != nil {
		s.logger.Error("schedule repeat", "id", n.ID, "error", err)
		return
	}
	s.logger.Debug("scheduled repeat", "id", next.ID, "derived_from", n.ID, "at", next.ScheduledAt)
}
