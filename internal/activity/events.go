package activity

import (
	"time"

	"github.com/dukerupert/desklet/internal/model"
)

// Event is a derived activity signal. The concrete types below are the only
// implementations.
type Event interface {
	activityEvent()
}

// IdleStarted fires when no qualifying interaction was seen for the idle
// threshold. At is when the threshold elapsed, not when it was noticed.
type IdleStarted struct {
	At           time.Time
	LastActiveAt time.Time
}

type ActivityResumed struct {
	At      time.Time
	IdleFor time.Duration
}

// StreakReached fires at most once per uninterrupted active stretch, when the
// stretch crosses the streak threshold and beats the day's longest streak.
type StreakReached struct {
	At      time.Time
	Minutes int
}

type SessionClosed struct {
	Session      model.ActivitySession
	SessionScore int
	Score        int
}

type DayReset struct {
	At time.Time
}

func (IdleStarted) activityEvent()     {}
func (ActivityResumed) activityEvent() {}
func (StreakReached) activityEvent()   {}
func (SessionClosed) activityEvent()   {}
func (DayReset) activityEvent()        {}
