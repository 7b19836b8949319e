// Package nudge turns derived activity events into notifications.
package nudge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/desklet/internal/activity"
	"github.com/dukerupert/desklet/internal/metrics"
	"github.com/dukerupert/desklet/internal/model"
)

// Creator stores a new notification record.
type Creator interface {
	Create(ctx context.Context, in model.NotificationInput, now time.Time) (model.Notification, error)
}

type Trigger string

const (
	TriggerIdle       Trigger = "idle"
	TriggerStreak     Trigger = "streak"
	TriggerLowFocus   Trigger = "low_focus"
	TriggerProductive Trigger = "productive_day"
)

type Config struct {
	// Cooldown is the minimum gap between any two nudges, whatever
	// triggered them.
	Cooldown        time.Duration
	InsightInterval time.Duration
	// Insights need at least MinSessions closed sessions today.
	MinSessions       int
	LowScore          int
	HighScore         int
	ProductiveMinutes int
}

func DefaultConfig() Config {
	return Config{
		Cooldown:          10 * time.Minute,
		InsightInterval:   30 * time.Minute,
		MinSessions:       3,
		LowScore:          40,
		HighScore:         80,
		ProductiveMinutes: 60,
	}
}

// Generator creates nudges through the record store so they take the normal
// delivery path.
type Generator struct {
	cfg     Config
	creator Creator
	logger  *slog.Logger
	metrics *metrics.Metrics

	lastSuggestion time.Time
	nextInsight    time.Time
}

func NewGenerator(cfg Config, creator Creator, logger *slog.Logger, m *metrics.Metrics) *Generator {
	d := DefaultConfig()
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.InsightInterval <= 0 {
		cfg.InsightInterval = d.InsightInterval
	}
	if cfg.MinSessions <= 0 {
		cfg.MinSessions = d.MinSessions
	}
	if cfg.LowScore <= 0 {
		cfg.LowScore = d.LowScore
	}
	if cfg.HighScore <= 0 {
		cfg.HighScore = d.HighScore
	}
	if cfg.ProductiveMinutes <= 0 {
		cfg.ProductiveMinutes = d.ProductiveMinutes
	}
	return &Generator{cfg: cfg, creator: creator, logger: logger, metrics: m}
}

// Start schedules the first insight check one interval after now.
func (g *Generator) Start(now time.Time) {
	g.nextInsight = now.Add(g.cfg.InsightInterval)
}

// NextInsight is when CheckInsight next wants to run.
func (g *Generator) NextInsight() time.Time {
	return g.nextInsight
}

// LastSuggestion is when the last nudge was created.
func (g *Generator) LastSuggestion() time.Time {
	return g.lastSuggestion
}

// Handle creates a nudge for ev if it is a trigger and the cooldown allows.
// The bool result reports whether a record was created.
func (g *Generator) Handle(ctx context.Context, ev activity.Event, now time.Time) (model.Notification, bool, error) {
	switch e := ev.(type) {
	case activity.IdleStarted:
		return g.suggest(ctx, TriggerIdle, model.NotificationInput{
			Category:     model.CategoryReminder,
			Title:        "Still there?",
			Message:      "You've been away for a bit. Pick up where you left off, or take a proper break.",
			Priority:     model.PriorityMedium,
			SoundEnabled: true,
		}, now)
	case activity.StreakReached:
		return g.suggest(ctx, TriggerStreak, model.NotificationInput{
			Category:     model.CategoryTimer,
			Title:        "Time for a break",
			Message:      fmt.Sprintf("You've been focused for %d minutes. A short break helps you keep going.", e.Minutes),
			Priority:     model.PriorityHigh,
			SoundEnabled: true,
			Payload:      map[string]any{"streak_minutes": e.Minutes},
		}, now)
	}
	return model.Notification{}, false, nil
}

// CheckInsight looks at the day's focus report once per insight interval and
// suggests an insight when the day is unusually unfocused or productive.
func (g *Generator) CheckInsight(ctx context.Context, report model.FocusReport, now time.Time) (model.Notification, bool, error) {
	if now.Before(g.nextInsight) {
		return model.Notification{}, false, nil
	}
	g.nextInsight = now.Add(g.cfg.InsightInterval)

	if report.SessionsToday < g.cfg.MinSessions {
		return model.Notification{}, false, nil
	}

	switch {
	case report.AverageScore < g.cfg.LowScore:
		return g.suggest(ctx, TriggerLowFocus, model.NotificationInput{
			Category: model.CategoryInsight,
			Title:    "Focus has been low",
			Message:  fmt.Sprintf("Your average focus today is %d. Try a timed session on a single task.", report.AverageScore),
			Priority: model.PriorityMedium,
			Payload:  map[string]any{"average_score": report.AverageScore},
		}, now)
	case report.AverageScore >= g.cfg.HighScore && report.TotalActiveMinutes >= g.cfg.ProductiveMinutes:
		return g.suggest(ctx, TriggerProductive, model.NotificationInput{
			Category: model.CategoryInsight,
			Title:    "Productive day",
			Message:  fmt.Sprintf("%d active minutes with an average focus of %d. Nice work.", report.TotalActiveMinutes, report.AverageScore),
			Priority: model.PriorityLow,
			Payload:  map[string]any{"average_score": report.AverageScore, "active_minutes": report.TotalActiveMinutes},
		}, now)
	}
	return model.Notification{}, false, nil
}

func (g *Generator) suggest(ctx context.Context, trigger Trigger, in model.NotificationInput, now time.Time) (model.Notification, bool, error) {
	if !g.lastSuggestion.IsZero() && now.Sub(g.lastSuggestion) < g.cfg.Cooldown {
		g.metrics.NudgesThrottled.WithLabelValues(string(trigger)).Inc()
		g.logger.Debug("nudge throttled", "trigger", trigger, "last", g.lastSuggestion)
		return model.Notification{}, false, nil
	}

	in.ScheduledAt = now
	if in.Payload == nil {
		in.Payload = map[string]any{}
	}
	in.Payload["trigger"] = string(trigger)

	n, err := g.creator.Create(ctx, in, now)
	if err != nil {
		return model.Notification{}, false, fmt.Errorf("create %s nudge: %w", trigger, err)
	}
	g.lastSuggestion = now
	g.metrics.Nudges.WithLabelValues(string(trigger)).Inc()
	g.logger.Info("nudge created", "trigger", trigger, "id", n.ID)
	return n, true, nil
}
