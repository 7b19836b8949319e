package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/desklet/internal/engine"
	"github.com/dukerupert/desklet/internal/handler"
	"github.com/dukerupert/desklet/internal/middleware"
	"github.com/dukerupert/desklet/internal/push"
	"github.com/dukerupert/desklet/internal/store"
	ws "github.com/dukerupert/desklet/internal/websocket"
)

// Options tunes the HTTP surface.
type Options struct {
	RateLimit     float64
	RateBurst     int
	FocusCacheTTL time.Duration
}

type Server struct {
	hub           *ws.Hub
	notificationH *handler.NotificationHandler
	settingsH     *handler.SettingsHandler
	activityH     *handler.ActivityHandler
	pushH         *handler.PushHandler
	rateLimiter   *middleware.RateLimiter
	gatherer      prometheus.Gatherer
	logger        *slog.Logger
}

func New(eng *engine.Engine, hub *ws.Hub, subs *store.SubscriptionStore, pushSvc *push.Service, gatherer prometheus.Gatherer, opts Options, logger *slog.Logger) *Server {
	if opts.FocusCacheTTL <= 0 {
		opts.FocusCacheTTL = 2 * time.Second
	}
	return &Server{
		hub:           hub,
		notificationH: handler.NewNotificationHandler(eng, logger.With("component", "notification_handler")),
		settingsH:     handler.NewSettingsHandler(eng, logger.With("component", "settings_handler")),
		activityH:     handler.NewActivityHandler(eng, opts.FocusCacheTTL, logger.With("component", "activity_handler")),
		pushH:         handler.NewPushHandler(subs, pushSvc, logger.With("component", "push_handler")),
		rateLimiter:   middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst),
		gatherer:      gatherer,
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	outerMux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))

	apiMux := http.NewServeMux()
	s.registerAPIRoutes(apiMux)

	limit := middleware.RateLimit(s.rateLimiter, middleware.RealIP)
	outerMux.Handle("/api/", limit(apiMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	// Notification API routes
	mux.HandleFunc("POST /api/notifications", s.notificationH.Create)
	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("GET /api/notifications/{id}", s.notificationH.Get)
	mux.HandleFunc("POST /api/notifications/{id}/snooze", s.notificationH.Snooze)
	mux.HandleFunc("POST /api/notifications/{id}/dismiss", s.notificationH.Dismiss)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notificationH.MarkRead)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.notificationH.Delete)
	mux.HandleFunc("POST /api/reminders", s.notificationH.CreateReminder)
	mux.HandleFunc("POST /api/alerts/repeating", s.notificationH.CreateRepeatingAlert)
	mux.HandleFunc("POST /api/insights", s.notificationH.CreateInsight)

	// Settings API routes
	mux.HandleFunc("GET /api/settings/notifications", s.settingsH.Get)
	mux.HandleFunc("PUT /api/settings/notifications", s.settingsH.Update)

	// Activity API routes
	mux.HandleFunc("POST /api/activity", s.activityH.Track)
	mux.HandleFunc("POST /api/activity/interaction", s.activityH.Interaction)
	mux.HandleFunc("GET /api/focus", s.activityH.Focus)

	// Push notification API routes
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscriptions", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
}
