// Package push delivers native alerts through Web Push.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/dukerupert/desklet/internal/model"
	"github.com/dukerupert/desklet/internal/store"
)

// ErrExpired is returned when a push subscription is no longer valid (404/410).
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON sent to the push service.
type Payload struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category,omitempty"`
	URL      string `json:"url,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// DefaultTimeout bounds one Notify call across all subscriptions. Delivery
// runs under the engine lock, so it stays short.
const DefaultTimeout = 3 * time.Second

// Config holds VAPID configuration.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is an e-mail address or https URL identifying the sender.
	Subscriber string
	TTL        int
	// Timeout bounds a whole Notify fan-out, not each request.
	Timeout time.Duration
}

// Service sends Web Push notifications to every stored subscription.
type Service struct {
	cfg    Config
	subs   *store.SubscriptionStore
	client *http.Client
	logger *slog.Logger
}

func NewService(cfg Config, subs *store.SubscriptionStore, logger *slog.Logger) *Service {
	if cfg.Subscriber == "" {
		cfg.Subscriber = "noreply@desklet.local"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Service{
		cfg:    cfg,
		subs:   subs,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// VAPIDPublicKey returns the VAPID public key for client-side subscription.
func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// Configured reports whether VAPID keys are set.
func (s *Service) Configured() bool {
	return s.cfg.VAPIDPublicKey != "" && s.cfg.VAPIDPrivateKey != ""
}

// RequestNativeAlertPermission grants native alerts when VAPID is configured
// and at least one browser has subscribed.
func (s *Service) RequestNativeAlertPermission(ctx context.Context) bool {
	if !s.Configured() {
		return false
	}
	n, err := s.subs.Count(ctx)
	if err != nil {
		s.logger.Warn("count push subscriptions", "error", err)
		return false
	}
	return n > 0
}

// Notify pushes n to every subscription. Expired subscriptions are removed.
// It fails only when no subscription accepted the message.
func (s *Service) Notify(ctx context.Context, n model.Notification) error {
	subs, err := s.subs.List(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return errors.New("no push subscriptions")
	}

	payload := Payload{
		ID:       n.ID,
		Title:    n.Title,
		Body:     n.Message,
		Category: string(n.Category),
		URL:      "/notifications/" + n.ID,
		Tag:      "desklet-" + string(n.Category),
	}
	urgency := urgencyFor(n.Priority)

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	sent := 0
	var errs []error
	for i := range subs {
		err := s.send(sendCtx, &subs[i], payload, urgency)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrExpired):
			s.logger.Info("removing expired push subscription", "endpoint", subs[i].Endpoint)
			if _, err := s.subs.DeleteByEndpoint(ctx, subs[i].Endpoint); err != nil {
				s.logger.Warn("delete expired push subscription", "error", err)
			}
		default:
			errs = append(errs, err)
		}
	}
	if sent == 0 {
		if len(errs) == 0 {
			return ErrExpired
		}
		return errors.Join(errs...)
	}
	for _, err := range errs {
		s.logger.Warn("push send failed", "id", n.ID, "error", err)
	}
	return nil
}

// Send pushes a single payload, used by the test endpoint.
func (s *Service) Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error {
	return s.send(ctx, sub, payload, webpush.UrgencyNormal)
}

func (s *Service) send(ctx context.Context, sub *model.PushSubscription, payload Payload, urgency webpush.Urgency) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		Subscriber:      s.cfg.Subscriber,
		TTL:             s.cfg.TTL,
		Urgency:         urgency,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

func urgencyFor(p model.Priority) webpush.Urgency {
	switch p {
	case model.PriorityHigh:
		return webpush.UrgencyHigh
	case model.PriorityLow:
		return webpush.UrgencyLow
	}
	return webpush.UrgencyNormal
}

// GenerateVAPIDKeys generates a new P-256 key pair for VAPID, both halves
// base64url encoded.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}
