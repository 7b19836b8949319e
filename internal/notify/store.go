// Package notify owns notification records and their delivery: the record
// store, the delivery scheduler, and the delivery pipeline.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/desklet/internal/metrics"
	"github.com/dukerupert/desklet/internal/model"
	"github.com/dukerupert/desklet/internal/store"
)

var (
	ErrNotFound          = errors.New("notification not found")
	ErrInvalidInput      = errors.New("invalid notification")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStoreFull         = errors.New("notification store is full of pending records")
)

const (
	recordsKey  = "notifications"
	settingsKey = "notification_settings"
)

// Timing is told whenever a record's delivery time or liveness changes.
type Timing interface {
	Arm(n model.Notification)
	Cancel(id string)
}

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change describes a committed record mutation.
type Change struct {
	Kind         ChangeKind
	Notification model.Notification
}

// Store is the canonical in-memory record set. It writes through to the KV
// store after every mutation; a failed write is logged and retried by the next
// mutation, and memory stays authoritative in between.
type Store struct {
	kv       store.KV
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timing   Timing
	onChange func(Change)

	records  map[string]*model.Notification
	settings model.Settings
	defaults model.Settings

	recordsDirty  bool
	settingsDirty bool
}

func NewStore(kv store.KV, logger *slog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		kv:       kv,
		logger:   logger,
		metrics:  m,
		records:  make(map[string]*model.Notification),
		settings: model.DefaultSettings(),
		defaults: model.DefaultSettings(),
	}
}

// SetDefaultSettings replaces the settings used when none are persisted.
func (s *Store) SetDefaultSettings(d model.Settings) {
	s.defaults = model.SettingsPatch{}.Apply(d)
	s.settings = model.SettingsPatch{}.Apply(d)
}

// SetTiming registers the component that arms and cancels delivery timers.
func (s *Store) SetTiming(t Timing) {
	s.timing = t
}

// OnChange registers a callback invoked after each committed mutation.
func (s *Store) OnChange(fn func(Change)) {
	s.onChange = fn
}

// Load replaces the in-memory state with the persisted records and settings.
func (s *Store) Load(ctx context.Context) error {
	var list []model.Notification
	if _, err := store.GetJSON(ctx, s.kv, recordsKey, &list); err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}

	settings := model.SettingsPatch{}.Apply(s.defaults)
	if _, err := store.GetJSON(ctx, s.kv, settingsKey, &settings); err != nil {
		return fmt.Errorf("load notification settings: %w", err)
	}
	if settings.Categories == nil {
		settings.Categories = map[model.Category]bool{}
	}
	if settings.MaxRetained <= 0 {
		settings.MaxRetained = model.DefaultMaxRetained
	}

	records := make(map[string]*model.Notification, len(list))
	for i := range list {
		n := list[i]
		if n.ID == "" {
			continue
		}
		records[n.ID] = &n
	}
	s.records = records
	s.settings = settings
	return nil
}

// Create validates input, stores a new pending record and arms it.
func (s *Store) Create(ctx context.Context, in model.NotificationInput, now time.Time) (model.Notification, error) {
	if err := normalizeInput(&in); err != nil {
		return model.Notification{}, err
	}
	if err := s.makeRoom(); err != nil {
		return model.Notification{}, err
	}

	n := &model.Notification{
		ID:           uuid.NewString(),
		Category:     in.Category,
		Title:        in.Title,
		Message:      in.Message,
		ScheduledAt:  in.ScheduledAt,
		Status:       model.StatusPending,
		Priority:     in.Priority,
		SoundEnabled: in.SoundEnabled,
		Repeat:       in.Repeat,
		Payload:      in.Payload,
		DerivedFrom:  in.DerivedFrom,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created := n.Clone()
	s.records[n.ID] = &created

	s.persist(ctx)
	if s.timing != nil {
		s.timing.Arm(created.Clone())
	}
	s.emit(ChangeCreated, created)
	return created.Clone(), nil
}

func normalizeInput(in *model.NotificationInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if !in.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}
	if in.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", ErrInvalidInput)
	}
	if in.Repeat != nil {
		if in.Repeat.IntervalMinutes <= 0 {
			return fmt.Errorf("%w: repeat interval must be positive", ErrInvalidInput)
		}
		r := *in.Repeat
		in.Repeat = &r
	}
	if in.Payload != nil {
		p := make(map[string]any, len(in.Payload))
		for k, v := range in.Payload {
			p[k] = v
		}
		in.Payload = p
	}
	return nil
}

// makeRoom evicts the oldest delivered/dismissed records until one more record
// fits under the cap. Pending and snoozed records are never evicted.
func (s *Store) makeRoom() error {
	limit := s.maxRetained()
	for len(s.records) >= limit {
		if !s.evictOldest() {
			return ErrStoreFull
		}
	}
	return nil
}

// enforceCap trims the store down to the cap after the cap was lowered.
func (s *Store) enforceCap() bool {
	evicted := false
	for len(s.records) > s.maxRetained() {
		if !s.evictOldest() {
			break
		}
		evicted = true
	}
	return evicted
}

func (s *Store) evictOldest() bool {
	var victim *model.Notification
	for _, n := range s.records {
		if n.Status.Live() {
			continue
		}
		if victim == nil || older(n, victim) {
			victim = n
		}
	}
	if victim == nil {
		return false
	}
	delete(s.records, victim.ID)
	s.metrics.Evictions.Inc()
	s.logger.Debug("evicted notification", "id", victim.ID, "status", victim.Status)
	s.emit(ChangeRemoved, *victim)
	return true
}

func older(a, b *model.Notification) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (s *Store) maxRetained() int {
	if s.settings.MaxRetained <= 0 {
		return model.DefaultMaxRetained
	}
	return s.settings.MaxRetained
}

// CanTransition reports whether a record may move between two statuses.
// Staying in the same status is always allowed.
func CanTransition(from, to model.Status) bool {
	if from == to {
		return true
	}
	switch from {
	case model.StatusPending:
		return to == model.StatusDelivered || to == model.StatusSnoozed || to == model.StatusDismissed
	case model.StatusSnoozed:
		return to == model.StatusPending || to == model.StatusDelivered || to == model.StatusDismissed
	case model.StatusDelivered:
		return to == model.StatusDismissed
	}
	return false
}

// Mutate applies patch to the record and re-arms or cancels its timer when
// the change affects delivery timing.
func (s *Store) Mutate(ctx context.Context, id string, patch model.NotificationPatch, now time.Time) (model.Notification, error) {
	n, ok := s.records[id]
	if !ok {
		return model.Notification{}, ErrNotFound
	}

	next := n.Clone()
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return model.Notification{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
		}
		next.Title = title
	}
	if patch.Message != nil {
		next.Message = *patch.Message
	}
	if patch.Priority != nil {
		if !patch.Priority.Valid() {
			return model.Notification{}, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, *patch.Priority)
		}
		next.Priority = *patch.Priority
	}
	if patch.SoundEnabled != nil {
		next.SoundEnabled = *patch.SoundEnabled
	}
	if patch.ScheduledAt != nil {
		if patch.ScheduledAt.IsZero() {
			return model.Notification{}, fmt.Errorf("%w: scheduled time is required", ErrInvalidInput)
		}
		next.ScheduledAt = *patch.ScheduledAt
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return model.Notification{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *patch.Status)
		}
		if !CanTransition(n.Status, *patch.Status) {
			return model.Notification{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, n.Status, *patch.Status)
		}
		next.Status = *patch.Status
	}
	if patch.DeliveredAt != nil {
		t := *patch.DeliveredAt
		next.DeliveredAt = &t
	}
	next.UpdatedAt = now

	wasLive := n.Status.Live()
	timingChanged := n.Status != next.Status || !n.ScheduledAt.Equal(next.ScheduledAt)
	s.records[id] = &next

	s.persist(ctx)
	if s.timing != nil {
		switch {
		case next.Status.Live() && timingChanged:
			s.timing.Arm(next.Clone())
		case !next.Status.Live() && wasLive:
			s.timing.Cancel(id)
		}
	}
	s.emit(ChangeUpdated, next)
	return next.Clone(), nil
}

// Remove cancels any armed timer and deletes the record.
func (s *Store) Remove(ctx context.Context, id string) error {
	n, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if s.timing != nil {
		s.timing.Cancel(id)
	}
	delete(s.records, id)
	s.persist(ctx)
	s.emit(ChangeRemoved, *n)
	return nil
}

// Get returns a copy of the record.
func (s *Store) Get(id string) (model.Notification, bool) {
	n, ok := s.records[id]
	if !ok {
		return model.Notification{}, false
	}
	return n.Clone(), true
}

// List returns matching records: pending/snoozed first by scheduled time
// ascending, then delivered/dismissed by most recently updated.
func (s *Store) List(filter model.NotificationFilter) []model.Notification {
	out := make([]model.Notification, 0, len(s.records))
	for _, n := range s.records {
		if filter.Match(*n) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aLive, bLive := a.Status.Live(), b.Status.Live()
		if aLive != bLive {
			return aLive
		}
		if aLive {
			if !a.ScheduledAt.Equal(b.ScheduledAt) {
				return a.ScheduledAt.Before(b.ScheduledAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID > b.ID
	})
	return out
}

// Live returns every pending or snoozed record.
func (s *Store) Live() []model.Notification {
	var out []model.Notification
	for _, n := range s.records {
		if n.Status.Live() {
			out = append(out, n.Clone())
		}
	}
	return out
}

func (s *Store) Len() int {
	return len(s.records)
}

func (s *Store) Settings() model.Settings {
	return model.SettingsPatch{}.Apply(s.settings)
}

// UpdateSettings applies patch, persists it, and trims the store if the cap shrank.
func (s *Store) UpdateSettings(ctx context.Context, patch model.SettingsPatch) (model.Settings, error) {
	if patch.MaxRetained != nil && *patch.MaxRetained < 1 {
		return model.Settings{}, fmt.Errorf("%w: max retained must be at least 1", ErrInvalidInput)
	}
	for c := range patch.Categories {
		if !c.Valid() {
			return model.Settings{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, c)
		}
	}

	s.settings = patch.Apply(s.settings)
	s.settingsDirty = true
	if s.enforceCap() {
		s.recordsDirty = true
	}
	s.persist(ctx)
	return s.Settings(), nil
}

// Flush retries any write that failed earlier.
func (s *Store) Flush(ctx context.Context) error {
	var errs []error
	if s.recordsDirty {
		if err := s.writeRecords(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.settingsDirty {
		if err := s.writeSettings(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dirty reports whether some state has not yet reached the KV store.
func (s *Store) Dirty() bool {
	return s.recordsDirty || s.settingsDirty
}

// persist writes records, and settings if they changed or an earlier write
// failed. Failures are logged; the next call retries.
func (s *Store) persist(ctx context.Context) {
	if err := s.writeRecords(ctx); err != nil {
		s.logger.Warn("persist notifications", "error", err)
	}
	if s.settingsDirty {
		if err := s.writeSettings(ctx); err != nil {
			s.logger.Warn("persist notification settings", "error", err)
		}
	}
}

func (s *Store) writeRecords(ctx context.Context) error {
	list := make([]model.Notification, 0, len(s.records))
	for _, n := range s.records {
		list = append(list, *n)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})

	if err := store.SetJSON(ctx, s.kv, recordsKey, list); err != nil {
		s.recordsDirty = true
		s.metrics.PersistFailures.WithLabelValues(recordsKey).Inc()
		return err
	}
	s.recordsDirty = false
	return nil
}

func (s *Store) writeSettings(ctx context.Context) error {
	if err := store.SetJSON(ctx, s.kv, settingsKey, s.settings); err != nil {
		s.settingsDirty = true
		s.metrics.PersistFailures.WithLabelValues(settingsKey).Inc()
		return err
	}
	s.settingsDirty = false
	return nil
}

func (s *Store) emit(kind ChangeKind, n model.Notification) {
	if s.onChange != nil {
		s.onChange(Change{Kind: kind, Notification: n.Clone()})
	}
}
