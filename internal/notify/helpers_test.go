package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/desklet/internal/metrics"
	"github.com/dukerupert/desklet/internal/model"
	"github.com/dukerupert/desklet/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyKV wraps MemoryKV and fails Set while failing is true.
type flakyKV struct {
	*store.MemoryKV
	mu      sync.Mutex
	failing bool
	writes  int
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	failing := f.failing
	f.writes++
	f.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func (f *flakyKV) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

type presented struct {
	id         string
	supersedes string
}

type fakePresenter struct {
	shown     []presented
	withdrawn []string
	panics    bool
}

func (p *fakePresenter) Present(n model.Notification, supersedes string) {
	if p.panics {
		panic("presenter exploded")
	}
	p.shown = append(p.shown, presented{id: n.ID, supersedes: supersedes})
}

func (p *fakePresenter) Withdraw(id string) {
	p.withdrawn = append(p.withdrawn, id)
}

type fakeNative struct {
	sent []string
	err  error
}

func (f *fakeNative) Notify(_ context.Context, n model.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n.ID)
	return nil
}

type fakePermission bool

func (p fakePermission) RequestNativeAlertPermission(context.Context) bool {
	return bool(p)
}

type fakeSound struct {
	played []model.Category
	err    error
}

func (f *fakeSound) PlayCue(_ context.Context, c model.Category) error {
	if f.err != nil {
		return f.err
	}
	f.played = append(f.played, c)
	return nil
}

type harness struct {
	kv        *flakyKV
	store     *Store
	pipeline  *Pipeline
	scheduler *Scheduler
	presenter *fakePresenter
	changes   []Change
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithKV(t, &flakyKV{MemoryKV: store.NewMemoryKV()})
}

func newHarnessWithKV(t *testing.T, kv *flakyKV) *harness {
	t.Helper()
	m := metrics.NewNop()
	h := &harness{kv: kv, presenter: &fakePresenter{}}
	h.store = NewStore(kv, discardLogger(), m)
	h.store.OnChange(func(c Change) { h.changes = append(h.changes, c) })
	h.pipeline = NewPipeline(Channels{Presenter: h.presenter}, discardLogger(), m)
	h.scheduler = NewScheduler(h.store, h.pipeline, discardLogger(), m)
	return h
}

func (h *harness) create(t *testing.T, title string, at time.Time) model.Notification {
	t.Helper()
	n, err := h.store.Create(context.Background(), model.NotificationInput{
		Category:    model.CategoryReminder,
		Title:       title,
		ScheduledAt: at,
	}, t0)
	if err != nil {
		t.Fatalf("create %q: %v", title, err)
	}
	return n
}

func statusPtr(s model.Status) *model.Status { return &s }

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }
