package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukerupert/desklet/internal/metrics"
	"github.com/dukerupert/desklet/internal/model"
)

// NativeNotifier raises an OS- or browser-level alert.
type NativeNotifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// PermissionProvider reports whether native alerts may be shown.
type PermissionProvider interface {
	RequestNativeAlertPermission(ctx context.Context) bool
}

// Presenter shows in-app notifications. Only one transient notification is
// visible at a time; supersedes names the one being replaced, if any.
type Presenter interface {
	Present(n model.Notification, supersedes string)
	Withdraw(id string)
}

// SoundPlayer plays the audio cue for a category.
type SoundPlayer interface {
	PlayCue(ctx context.Context, category model.Category) error
}

// Channels bundles the delivery collaborators. Any of them may be nil, which
// makes that channel unavailable.
type Channels struct {
	Native     NativeNotifier
	Permission PermissionProvider
	Presenter  Presenter
	Sound      SoundPlayer
}

// Delivery reports which channels presented a notification.
type Delivery struct {
	Suppressed bool
	Native     bool
	InApp      bool
	Sound      bool
}

// Pipeline routes a due notification through the enabled channels. Channel
// failures never escape Deliver.
type Pipeline struct {
	ch      Channels
	logger  *slog.Logger
	metrics *metrics.Metrics

	visible string
}

func NewPipeline(ch Channels, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{ch: ch, logger: logger, metrics: m}
}

// Deliver presents n according to settings.
func (p *Pipeline) Deliver(ctx context.Context, n model.Notification, settings model.Settings) Delivery {
	if !settings.CategoryEnabled(n.Category) {
		p.metrics.Suppressed.WithLabelValues(string(n.Category)).Inc()
		p.logger.Debug("notification suppressed", "id", n.ID, "category", n.Category)
		return Delivery{Suppressed: true}
	}

	var d Delivery
	fallback := false

	if settings.NativeEnabled {
		if p.nativePermitted(ctx) {
			err := p.guard("native", func() error { return p.ch.Native.Notify(ctx, n) })
			if err != nil {
				p.logger.Warn("native notification failed, falling back to in-app", "id", n.ID, "error", err)
				fallback = true
			} else {
				d.Native = true
				p.metrics.Deliveries.WithLabelValues(string(n.Category), "native").Inc()
			}
		} else {
			fallback = true
		}
	}

	if (settings.InAppEnabled || fallback) && p.ch.Presenter != nil {
		supersedes := p.visible
		if supersedes == n.ID {
			supersedes = ""
		}
		err := p.guard("in_app", func() error {
			p.ch.Presenter.Present(n, supersedes)
			return nil
		})
		if err != nil {
			p.logger.Warn("in-app presentation failed", "id", n.ID, "error", err)
		} else {
			p.visible = n.ID
			d.InApp = true
			p.metrics.Deliveries.WithLabelValues(string(n.Category), "in_app").Inc()
		}
	}

	if n.SoundEnabled && settings.SoundEnabled && p.ch.Sound != nil {
		err := p.guard("sound", func() error { return p.ch.Sound.PlayCue(ctx, n.Category) })
		if err != nil {
			p.logger.Debug("sound cue failed", "category", n.Category, "error", err)
		} else {
			d.Sound = true
		}
	}

	return d
}

// Acknowledge clears the transient slot if id is the visible notification.
func (p *Pipeline) Acknowledge(id string) {
	if p.visible != id {
		return
	}
	p.visible = ""
	if p.ch.Presenter != nil {
		_ = p.guard("in_app", func() error {
			p.ch.Presenter.Withdraw(id)
			return nil
		})
	}
}

// Visible returns the id of the transient notification on screen, if any.
func (p *Pipeline) Visible() string {
	return p.visible
}

func (p *Pipeline) nativePermitted(ctx context.Context) bool {
	if p.ch.Native == nil {
		return false
	}
	if p.ch.Permission == nil {
		return true
	}
	granted := false
	_ = p.guard("permission", func() error {
		granted = p.ch.Permission.RequestNativeAlertPermission(ctx)
		return nil
	})
	return granted
}

func (p *Pipeline) guard(channel string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s channel panic: %v", channel, r)
		}
	}()
	return fn()
}
