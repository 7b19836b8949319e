package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dukerupert/desklet/internal/activity"
	"github.com/dukerupert/desklet/internal/config"
	"github.com/dukerupert/desklet/internal/engine"
	"github.com/dukerupert/desklet/internal/logging"
	"github.com/dukerupert/desklet/internal/metrics"
	"github.com/dukerupert/desklet/internal/notify"
	"github.com/dukerupert/desklet/internal/nudge"
	"github.com/dukerupert/desklet/internal/push"
	"github.com/dukerupert/desklet/internal/server"
	"github.com/dukerupert/desklet/internal/store"
	ws "github.com/dukerupert/desklet/internal/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine and its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Setup(cfg.LogLevel, logging.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openKV(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeKV(); err != nil {
			logger.Error("close storage", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	hub := ws.NewHub(logger.With("component", "websocket"))
	subs := store.NewSubscriptionStore(kv)
	pushSvc := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubscriber,
	}, subs, logger.With("component", "push"))

	channels := notify.Channels{Presenter: hub, Sound: hub}
	if pushSvc.Configured() {
		channels.Native = pushSvc
		channels.Permission = pushSvc
	} else {
		logger.Info("VAPID keys not set, native alerts disabled")
	}

	eng := engine.New(engine.Config{
		Activity: activity.Config{
			Throttle:        cfg.InteractionThrottle,
			IdleThreshold:   cfg.IdleThreshold,
			RolloverPeriod:  cfg.RolloverPeriod,
			StreakThreshold: cfg.StreakThreshold,
		},
		Nudge: nudge.Config{
			Cooldown:        cfg.NudgeCooldown,
			InsightInterval: cfg.InsightInterval,
		},
		MaxRetained: cfg.MaxRetained,
	}, kv, channels, logger.With("component", "engine"), m, engine.WithBus(hub))
	hub.OnInteraction(eng.Interaction)

	if err := eng.Open(ctx); err != nil {
		logger.Warn("engine restored with errors", "error", err)
	}
	eng.Start(ctx)

	srv := server.New(eng, hub, subs, pushSvc, reg, server.Options{
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		FocusCacheTTL: cfg.FocusCacheTTL,
	}, logger)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				srv.RateLimiter().Cleanup(10 * time.Minute)
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("desklet running", "addr", "http://localhost:"+cfg.Port, "store", cfg.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	eng.Stop()
	if err := eng.Close(shutdownCtx); err != nil {
		logger.Error("persist engine state", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("serve http: %w", serveErr)
	}
	return nil
}
