// Package websocket is the typed message bus between the engine and the view
// layer.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/desklet/internal/model"
	"github.com/dukerupert/desklet/internal/notify"
)

// ErrNoListeners is returned by PlayCue when no view is connected.
var ErrNoListeners = errors.New("no connected clients")

type Kind string

const (
	KindNotificationPresented Kind = "notification_presented"
	KindNotificationWithdrawn Kind = "notification_withdrawn"
	KindNotificationCreated   Kind = "notification_created"
	KindNotificationUpdated   Kind = "notification_updated"
	KindNotificationRemoved   Kind = "notification_removed"
	KindSoundCue              Kind = "sound_cue"
	KindFocusUpdated          Kind = "focus_updated"
	KindIdleChanged           Kind = "idle_changed"

	// Sent by clients.
	KindInteraction Kind = "interaction"
)

// Message is one frame on the bus. Type selects which other fields are set.
type Message struct {
	Type         Kind                `json:"type"`
	Notification *model.Notification `json:"notification,omitempty"`
	Supersedes   string              `json:"supersedes,omitempty"`
	ID           string              `json:"id,omitempty"`
	Category     model.Category      `json:"category,omitempty"`
	Focus        *model.FocusReport  `json:"focus,omitempty"`
	Idle         *bool               `json:"idle,omitempty"`
	At           *time.Time          `json:"at,omitempty"`
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	logger      *slog.Logger
	interaction func(context.Context)
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// OnInteraction sets the callback for interaction frames sent by clients.
func (h *Hub) OnInteraction(fn func(context.Context)) {
	h.mu.Lock()
	h.interaction = fn
	h.mu.Unlock()
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients and returns how many
// accepted it.
func (h *Hub) Broadcast(msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for c := range h.clients {
		select {
		case c.send <- data:
			sent++
		default:
			// Client buffer full, drop the message
		}
	}
	return sent
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Present shows n in the transient slot, replacing supersedes.
func (h *Hub) Present(n model.Notification, supersedes string) {
	h.Broadcast(Message{Type: KindNotificationPresented, Notification: &n, Supersedes: supersedes})
}

// Withdraw clears id from the transient slot.
func (h *Hub) Withdraw(id string) {
	h.Broadcast(Message{Type: KindNotificationWithdrawn, ID: id})
}

// PlayCue asks connected views to play the sound for category.
func (h *Hub) PlayCue(_ context.Context, category model.Category) error {
	if h.Broadcast(Message{Type: KindSoundCue, Category: category}) == 0 {
		return ErrNoListeners
	}
	return nil
}

func (h *Hub) NotificationChanged(c notify.Change) {
	n := c.Notification
	switch c.Kind {
	case notify.ChangeCreated:
		h.Broadcast(Message{Type: KindNotificationCreated, Notification: &n})
	case notify.ChangeUpdated:
		h.Broadcast(Message{Type: KindNotificationUpdated, Notification: &n})
	case notify.ChangeRemoved:
		h.Broadcast(Message{Type: KindNotificationRemoved, ID: n.ID})
	}
}

func (h *Hub) FocusUpdated(r model.FocusReport) {
	h.Broadcast(Message{Type: KindFocusUpdated, Focus: &r})
}

func (h *Hub) IdleChanged(idle bool, at time.Time) {
	h.Broadcast(Message{Type: KindIdleChanged, Idle: &idle, At: &at})
}

// receive handles a frame sent by a client. Unknown frames are ignored.
func (h *Hub) receive(ctx context.Context, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug("ignoring malformed client frame", "error", err)
		return
	}
	if msg.Type != KindInteraction {
		return
	}

	h.mu.RLock()
	fn := h.interaction
	h.mu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
}
