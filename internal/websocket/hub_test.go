package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/desklet/internal/model"
	"github.com/dukerupert/desklet/internal/notify"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		conn: nil,
		send: make(chan []byte, sendBufferSize),
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	// Should not panic
	hub.Unregister(c2)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestPresentCarriesSupersedes(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	hub.Present(model.Notification{ID: "b", Title: "Second"}, "a")

	got := receive(t, c)
	if got.Type != KindNotificationPresented {
		t.Errorf("type = %s, want %s", got.Type, KindNotificationPresented)
	}
	if got.Notification == nil || got.Notification.ID != "b" {
		t.Fatalf("notification = %+v, want id b", got.Notification)
	}
	if got.Supersedes != "a" {
		t.Errorf("supersedes = %q, want a", got.Supersedes)
	}
}

func TestNotificationChangeKinds(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	n := model.Notification{ID: "r1", Status: model.StatusPending}
	hub.NotificationChanged(notify.Change{Kind: notify.ChangeCreated, Notification: n})
	hub.NotificationChanged(notify.Change{Kind: notify.ChangeUpdated, Notification: n})
	hub.NotificationChanged(notify.Change{Kind: notify.ChangeRemoved, Notification: n})

	want := []Kind{KindNotificationCreated, KindNotificationUpdated, KindNotificationRemoved}
	for _, kind := range want {
		got := receive(t, c)
		if got.Type != kind {
			t.Errorf("type = %s, want %s", got.Type, kind)
		}
	}
}

func TestFocusAndIdleMessages(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	hub.FocusUpdated(model.FocusReport{CurrentScore: 72, SessionsToday: 3})
	got := receive(t, c)
	if got.Focus == nil || got.Focus.CurrentScore != 72 {
		t.Errorf("focus = %+v, want score 72", got.Focus)
	}

	at := time.Date(2026, 3, 2, 9, 1, 0, 0, time.UTC)
	hub.IdleChanged(true, at)
	got = receive(t, c)
	if got.Type != KindIdleChanged || got.Idle == nil || !*got.Idle {
		t.Errorf("idle message = %+v, want idle true", got)
	}
	if got.At == nil || !got.At.Equal(at) {
		t.Errorf("at = %v, want %v", got.At, at)
	}
}

func TestPlayCueNeedsListeners(t *testing.T) {
	hub := NewHub(slog.Default())
	if err := hub.PlayCue(context.Background(), model.CategoryTimer); !errors.Is(err, ErrNoListeners) {
		t.Errorf("err = %v, want ErrNoListeners", err)
	}

	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)
	if err := hub.PlayCue(context.Background(), model.CategoryTimer); err != nil {
		t.Fatalf("play cue: %v", err)
	}
	if got := receive(t, c); got.Category != model.CategoryTimer {
		t.Errorf("category = %q, want timer", got.Category)
	}
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub)
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Withdraw("fill")
	}

	// This should drop the message, not panic or block
	if sent := hub.Broadcast(Message{Type: KindSoundCue}); sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}

	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.FocusUpdated(model.FocusReport{})
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	hub := NewHub(slog.Default())
	interactions := make(chan struct{}, 1)
	hub.OnInteraction(func(context.Context) { interactions <- struct{}{} })

	srv := httptest.NewServer(HandleWebSocket(hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"interaction"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-interactions:
	case <-ctx.Done():
		t.Fatal("interaction frame not delivered")
	}

	// the client is registered once its first frame was read
	hub.Present(model.Notification{ID: "n1", Title: "Hello"}, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != KindNotificationPresented || got.Notification.ID != "n1" {
		t.Errorf("message = %+v, want presented n1", got)
	}
}
