// Package activity turns raw interaction telemetry into rolling sessions and
// a smoothed focus score.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/dukerupert/desklet/internal/metrics"
	"github.com/dukerupert/desklet/internal/model"
	"github.com/dukerupert/desklet/internal/store"
)

var (
	ErrUnknownCategory = errors.New("unknown activity category")
	ErrInvalidAmount   = errors.New("activity amount must not be negative")
)

const stateKey = "focus_state"

// Config controls tracker timing. Zero fields fall back to DefaultConfig.
type Config struct {
	Throttle        time.Duration
	IdleThreshold   time.Duration
	RolloverPeriod  time.Duration
	StreakThreshold time.Duration
	MaxSessions     int
	// Location decides calendar-day boundaries for the daily reset.
	Location *time.Location
}

func DefaultConfig() Config {
	return Config{
		Throttle:        time.Second,
		IdleThreshold:   60 * time.Second,
		RolloverPeriod:  5 * time.Minute,
		StreakThreshold: 40 * time.Minute,
		MaxSessions:     10,
		Location:        time.Local,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Throttle <= 0 {
		c.Throttle = d.Throttle
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = d.IdleThreshold
	}
	if c.RolloverPeriod <= 0 {
		c.RolloverPeriod = d.RolloverPeriod
	}
	if c.StreakThreshold <= 0 {
		c.StreakThreshold = d.StreakThreshold
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}

// Tracker owns the FocusState and the open session. It is not safe for
// concurrent use; the engine serializes access.
type Tracker struct {
	cfg     Config
	kv      store.KV
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	state   model.FocusState
	current model.ActivitySession

	// activeSince marks the start of the current uninterrupted active
	// stretch; zero while idle.
	activeSince    time.Time
	streakSignaled bool
	nextRollover   time.Time
	dirty          bool
}

func NewTracker(cfg Config, kv store.KV, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		cfg:     cfg,
		kv:      kv,
		logger:  logger,
		metrics: m,
		limiter: rate.NewLimiter(rate.Every(cfg.Throttle), 1),
		state:   model.FocusState{Score: 100, IsIdle: true},
	}
}

// Load restores the persisted FocusState and opens a fresh session at now.
// A missing or unreadable state starts from a score of 100.
func (t *Tracker) Load(ctx context.Context, now time.Time) error {
	var loadErr error
	state := model.FocusState{Score: 100}
	if _, err := store.GetJSON(ctx, t.kv, stateKey, &state); err != nil {
		loadErr = fmt.Errorf("load focus state: %w", err)
		state = model.FocusState{Score: 100}
	}
	state.Score = clampScore(state.Score)
	if len(state.RecentSessions) > t.cfg.MaxSessions {
		state.RecentSessions = state.RecentSessions[len(state.RecentSessions)-t.cfg.MaxSessions:]
	}
	// Activity from a previous run does not carry into this one.
	state.IsIdle = state.LastActiveAt.IsZero() || now.Sub(state.LastActiveAt) >= t.cfg.IdleThreshold

	t.state = state
	t.current = model.ActivitySession{StartTime: now}
	t.activeSince = time.Time{}
	if !state.IsIdle {
		t.activeSince = state.LastActiveAt
	}
	t.streakSignaled = false
	t.nextRollover = now.Add(t.cfg.RolloverPeriod)
	t.metrics.FocusScore.Set(float64(state.Score))
	return loadErr
}

// Interaction records a generic input event. Events inside the throttle
// window are dropped.
func (t *Tracker) Interaction(now time.Time) []Event {
	if !t.limiter.AllowN(now, 1) {
		return nil
	}
	t.current.InteractionCount++
	return t.markActive(now)
}

// TrackActivity adds amount to the session counter for category and counts
// as a qualifying interaction. For timers amount is minutes; for the other
// categories it is an event count, with zero meaning one.
func (t *Tracker) TrackActivity(category model.ActivityCategory, amount float64, now time.Time) ([]Event, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, ErrInvalidAmount
	}
	events := 1
	if amount >= 1 {
		events = int(amount)
	}

	switch category {
	case model.ActivityTimer:
		t.current.TimerMinutes += amount
	case model.ActivityNote:
		t.current.NoteEvents += events
	case model.ActivityTodo:
		t.current.TodoEvents += events
	case model.ActivityMedia:
		t.current.MediaEvents += events
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	if t.limiter.AllowN(now, 1) {
		t.current.InteractionCount++
	}
	return t.markActive(now), nil
}

func (t *Tracker) markActive(now time.Time) []Event {
	evs := t.CheckIdle(now)
	if t.state.IsIdle {
		idleFor := t.accrueIdle(now)
		t.state.IsIdle = false
		t.activeSince = now
		t.streakSignaled = false
		evs = append(evs, ActivityResumed{At: now, IdleFor: idleFor})
	}
	if t.activeSince.IsZero() {
		t.activeSince = now
	}
	t.state.LastActiveAt = now
	return append(evs, t.checkStreak(now)...)
}

// CheckIdle flips the tracker to idle once the idle threshold has passed
// since the last qualifying interaction.
func (t *Tracker) CheckIdle(now time.Time) []Event {
	if t.state.IsIdle || t.state.LastActiveAt.IsZero() {
		return nil
	}
	idleAt := t.state.LastActiveAt.Add(t.cfg.IdleThreshold)
	if now.Before(idleAt) {
		return nil
	}
	evs := t.checkStreak(idleAt)
	t.state.IsIdle = true
	t.activeSince = time.Time{}
	t.streakSignaled = false
	return append(evs, IdleStarted{At: idleAt, LastActiveAt: t.state.LastActiveAt})
}

// accrueIdle folds the idle stretch that ends at now into the open session.
func (t *Tracker) accrueIdle(now time.Time) time.Duration {
	start := t.idleStart()
	if !now.After(start) {
		return 0
	}
	d := now.Sub(start)
	t.current.IdleDuration += d
	return d
}

func (t *Tracker) idleStart() time.Time {
	start := t.current.StartTime
	if !t.state.LastActiveAt.IsZero() {
		if s := t.state.LastActiveAt.Add(t.cfg.IdleThreshold); s.After(start) {
			start = s
		}
	}
	return start
}

func (t *Tracker) checkStreak(now time.Time) []Event {
	if t.activeSince.IsZero() || now.Before(t.activeSince) {
		return nil
	}
	stretch := now.Sub(t.activeSince)
	if stretch < t.cfg.StreakThreshold {
		return nil
	}
	minutes := int(stretch / time.Minute)
	if minutes <= t.state.StreakMinutes {
		return nil
	}
	t.state.StreakMinutes = minutes
	if t.streakSignaled {
		return nil
	}
	t.streakSignaled = true
	return []Event{StreakReached{At: now, Minutes: minutes}}
}

// CheckDay resets the day's history when now falls on a different calendar
// day than the last calculation. Calling it again on the same day is a no-op.
func (t *Tracker) CheckDay(now time.Time) []Event {
	if t.state.LastCalculated.IsZero() {
		t.state.LastCalculated = now
		return nil
	}
	if sameDay(t.state.LastCalculated, now, t.cfg.Location) {
		return nil
	}

	t.state.RecentSessions = []model.ActivitySession{}
	t.state.ActiveToday = 0
	t.state.SessionsToday = 0
	t.state.StreakMinutes = 0
	t.state.Score = 100
	t.state.LastCalculated = now
	t.streakSignaled = false
	t.metrics.DayResets.Inc()
	t.metrics.FocusScore.Set(100)
	t.logger.Info("focus state reset for new day")
	return []Event{DayReset{At: now}}
}

// RolloverDue reports whether the open session should be closed.
func (t *Tracker) RolloverDue(now time.Time) bool {
	return !now.Before(t.nextRollover)
}

// Rollover closes the open session, folds it into the score and opens a new
// one. The daily reset check runs first.
func (t *Tracker) Rollover(now time.Time) []Event {
	evs := t.CheckDay(now)
	evs = append(evs, t.CheckIdle(now)...)
	evs = append(evs, t.checkStreak(now)...)

	if t.state.IsIdle {
		t.accrueIdle(now)
	}
	closed := t.current
	end := now
	closed.EndTime = &end
	if limit := closed.Duration(now); closed.IdleDuration > limit {
		closed.IdleDuration = limit
	}

	breakdown := Score(closed, now)
	closed.Score = breakdown.Total
	prev := t.state.Score
	t.state.Score = Smooth(prev, breakdown.Total)

	t.state.ActiveToday += closed.ActiveDuration(now)
	t.state.SessionsToday++
	t.state.RecentSessions = append(t.state.RecentSessions, closed)
	if over := len(t.state.RecentSessions) - t.cfg.MaxSessions; over > 0 {
		t.state.RecentSessions = append([]model.ActivitySession(nil), t.state.RecentSessions[over:]...)
	}
	t.state.LastCalculated = now

	t.current = model.ActivitySession{StartTime: now}
	t.nextRollover = now.Add(t.cfg.RolloverPeriod)

	t.metrics.Rollovers.Inc()
	t.metrics.FocusScore.Set(float64(t.state.Score))
	t.logger.Debug("session rolled over",
		"session_score", breakdown.Total,
		"previous_score", prev,
		"score", t.state.Score,
		"interactions", closed.InteractionCount,
		"idle", closed.IdleDuration,
	)
	return append(evs, SessionClosed{Session: closed, SessionScore: breakdown.Total, Score: t.state.Score})
}

// NextDeadline returns the earliest time the tracker needs attention: an idle
// transition, the next rollover, or midnight.
func (t *Tracker) NextDeadline() time.Time {
	next := t.nextRollover
	if !t.state.IsIdle && !t.state.LastActiveAt.IsZero() {
		if idleAt := t.state.LastActiveAt.Add(t.cfg.IdleThreshold); idleAt.Before(next) {
			next = idleAt
		}
	}
	if !t.state.LastCalculated.IsZero() {
		if midnight := nextMidnight(t.state.LastCalculated, t.cfg.Location); midnight.Before(next) {
			next = midnight
		}
	}
	return next
}

// Report builds the focus read model at now.
func (t *Tracker) Report(now time.Time) model.FocusReport {
	r := model.FocusReport{
		CurrentScore:  t.state.Score,
		AverageScore:  t.state.Score,
		StreakMinutes: t.state.StreakMinutes,
		IsIdle:        t.state.IsIdle,
		LastActiveAt:  t.state.LastActiveAt,
	}

	var total time.Duration
	if !t.state.LastCalculated.IsZero() && sameDay(t.state.LastCalculated, now, t.cfg.Location) {
		r.SessionsToday = t.state.SessionsToday
		total = t.state.ActiveToday
	}
	sum := 0
	for _, s := range t.state.RecentSessions {
		sum += s.Score
	}
	if n := len(t.state.RecentSessions); n > 0 {
		r.AverageScore = int(math.Round(float64(sum) / float64(n)))
	}

	open := t.current
	if t.state.IsIdle {
		if start := t.idleStart(); now.After(start) {
			open.IdleDuration += now.Sub(start)
		}
	}
	total += open.ActiveDuration(now)
	r.TotalActiveMinutes = int(total / time.Minute)
	return r
}

// State returns a copy of the FocusState.
func (t *Tracker) State() model.FocusState {
	s := t.state
	s.RecentSessions = append([]model.ActivitySession(nil), t.state.RecentSessions...)
	return s
}

// Current returns a copy of the open session.
func (t *Tracker) Current() model.ActivitySession {
	return t.current
}

// Save writes the FocusState. A failure is logged and leaves the tracker
// dirty so the next Save retries.
func (t *Tracker) Save(ctx context.Context) error {
	if err := store.SetJSON(ctx, t.kv, stateKey, t.state); err != nil {
		t.dirty = true
		t.metrics.PersistFailures.WithLabelValues(stateKey).Inc()
		t.logger.Warn("persist focus state", "error", err)
		return err
	}
	t.dirty = false
	return nil
}

// Dirty reports whether the last Save failed.
func (t *Tracker) Dirty() bool {
	return t.dirty
}

// LoadReport reads the persisted FocusState without opening a session.
func LoadReport(ctx context.Context, kv store.KV, now time.Time) (model.FocusReport, error) {
	t := NewTracker(Config{}, kv, slog.New(slog.DiscardHandler), metrics.NewNop())
	if err := t.Load(ctx, now); err != nil {
		return model.FocusReport{}, err
	}
	return t.Report(now), nil
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

func nextMidnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
