package model

import "time"

// Category identifies the feature a notification belongs to. Each category can
// be toggled independently in Settings.
type Category string

const (
	CategoryReminder           Category = "reminder"
	CategoryTimer              Category = "timer"
	CategoryInsight            Category = "insight"
	CategoryExternalSuggestion Category = "external_suggestion"
)

// Categories lists every notification category in display order.
var Categories = []Category{
	CategoryReminder,
	CategoryTimer,
	CategoryInsight,
	CategoryExternalSuggestion,
}

func (c Category) Valid() bool {
	switch c {
	case CategoryReminder, CategoryTimer, CategoryInsight, CategoryExternalSuggestion:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusSnoozed   Status = "snoozed"
	StatusDismissed Status = "dismissed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusSnoozed, StatusDismissed:
		return true
	}
	return false
}

// Live reports whether a record in this status is waiting on a timer.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusSnoozed
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Repeat makes a delivered notification spawn its successor.
type Repeat struct {
	IntervalMinutes int `json:"interval_minutes"`
}

func (r Repeat) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

// Notification is a single schedulable notification record.
type Notification struct {
	ID           string         `json:"id"`
	Category     Category       `json:"category"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	ScheduledAt  time.Time      `json:"scheduled_at"`
	Status       Status         `json:"status"`
	Priority     Priority       `json:"priority"`
	SoundEnabled bool           `json:"sound_enabled"`
	Repeat       *Repeat        `json:"repeat,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	DerivedFrom  string         `json:"derived_from,omitempty"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Clone returns a copy that shares no mutable state with n.
func (n Notification) Clone() Notification {
	if n.Repeat != nil {
		r := *n.Repeat
		n.Repeat = &r
	}
	if n.DeliveredAt != nil {
		t := *n.DeliveredAt
		n.DeliveredAt = &t
	}
	if n.Payload != nil {
		p := make(map[string]any, len(n.Payload))
		for k, v := range n.Payload {
			p[k] = v
		}
		n.Payload = p
	}
	return n
}

// NotificationInput is everything a caller supplies to create a record.
type NotificationInput struct {
	Category     Category       `json:"category"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	ScheduledAt  time.Time      `json:"scheduled_at"`
	Priority     Priority       `json:"priority"`
	SoundEnabled bool           `json:"sound_enabled"`
	Repeat       *Repeat        `json:"repeat,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	DerivedFrom  string         `json:"-"`
}

// NotificationPatch is a partial update. Nil fields are left untouched.
type NotificationPatch struct {
	Title        *string
	Message      *string
	ScheduledAt  *time.Time
	Status       *Status
	Priority     *Priority
	SoundEnabled *bool
	DeliveredAt  *time.Time
}

// NotificationFilter narrows List. Zero values match everything.
type NotificationFilter struct {
	Category Category
	Status   Status
}

func (f NotificationFilter) Match(n Notification) bool {
	if f.Category != "" && n.Category != f.Category {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	return true
}
