package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "desklet"

// Metrics holds the engine's collectors.
type Metrics struct {
	// Delivery
	Deliveries  *prometheus.CounterVec
	Suppressed  *prometheus.CounterVec
	StaleFires  prometheus.Counter
	LiveRecords prometheus.Gauge
	Evictions   prometheus.Counter

	// Persistence
	PersistFailures *prometheus.CounterVec

	// Activity
	FocusScore prometheus.Gauge
	Rollovers  prometheus.Counter
	DayResets  prometheus.Counter

	// Nudges
	Nudges          *prometheus.CounterVec
	NudgesThrottled *prometheus.CounterVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "presentations_total",
			Help:      "Notifications presented, by category and channel",
		}, []string{"category", "channel"}),
		Suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "suppressed_total",
			Help:      "Notifications marked delivered without presentation because their category is disabled",
		}, []string{"category"}),
		StaleFires: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "stale_fires_total",
			Help:      "Timer fires ignored because the record had already left pending/snoozed",
		}),
		LiveRecords: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "armed_records",
			Help:      "Records currently armed in the delivery queue",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "evictions_total",
			Help:      "Delivered or dismissed records evicted by the retention cap",
		}),
		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_failures_total",
			Help:      "Failed persistence writes, by key",
		}, []string{"key"}),
		FocusScore: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "focus_score",
			Help:      "Current smoothed focus score",
		}),
		Rollovers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "rollovers_total",
			Help:      "Activity sessions closed by rollover",
		}),
		DayResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "day_resets_total",
			Help:      "Focus state resets caused by a calendar day change",
		}),
		Nudges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nudge",
			Name:      "created_total",
			Help:      "Nudges created, by trigger",
		}, []string{"trigger"}),
		NudgesThrottled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nudge",
			Name:      "throttled_total",
			Help:      "Nudge triggers dropped by the cooldown, by trigger",
		}, []string{"trigger"}),
	}
}

// NewNop returns collectors registered with a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
