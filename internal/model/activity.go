package model

import "time"

// ActivityCategory is a feature-specific activity counter.
type ActivityCategory string

const (
	ActivityTimer ActivityCategory = "timer"
	ActivityNote  ActivityCategory = "note"
	ActivityTodo  ActivityCategory = "todo"
	ActivityMedia ActivityCategory = "media"
)

// ActivitySession accumulates telemetry for one rollover window.
type ActivitySession struct {
	StartTime        time.Time     `json:"start_time"`
	EndTime          *time.Time    `json:"end_time,omitempty"`
	InteractionCount int           `json:"interaction_count"`
	IdleDuration     time.Duration `json:"idle_duration"`
	TimerMinutes     float64       `json:"timer_minutes"`
	NoteEvents       int           `json:"note_events"`
	TodoEvents       int           `json:"todo_events"`
	MediaEvents      int           `json:"media_events"`
	Score            int           `json:"score"`
}

// Duration is the session length, measured to now while the session is open.
func (s ActivitySession) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// ActiveDuration is the session length minus idle time, never negative.
func (s ActivitySession) ActiveDuration(now time.Time) time.Duration {
	d := s.Duration(now) - s.IdleDuration
	if d < 0 {
		return 0
	}
	return d
}

// FocusState is the process-wide focus summary. It is persisted between runs.
type FocusState struct {
	Score          int               `json:"score"`
	LastActiveAt   time.Time         `json:"last_active_at"`
	IsIdle         bool              `json:"is_idle"`
	StreakMinutes  int               `json:"streak_minutes"`
	RecentSessions []ActivitySession `json:"recent_sessions"`
	LastCalculated time.Time         `json:"last_calculated"`
	// Day totals over every session closed since the last daily reset.
	// RecentSessions is capped and cannot answer these.
	ActiveToday   time.Duration `json:"active_today"`
	SessionsToday int           `json:"sessions_today"`
}

// FocusReport is the read model handed to the view layer.
type FocusReport struct {
	CurrentScore       int       `json:"current_score"`
	AverageScore       int       `json:"average_score"`
	TotalActiveMinutes int       `json:"total_active_minutes"`
	SessionsToday      int       `json:"sessions_today"`
	StreakMinutes      int       `json:"streak_minutes"`
	IsIdle             bool      `json:"is_idle"`
	LastActiveAt       time.Time `json:"last_active_at"`
}
