// Command desklet runs the notification and focus engine behind a local
// HTTP and WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/desklet/internal/config"
	"github.com/dukerupert/desklet/internal/database"
	"github.com/dukerupert/desklet/internal/store"
)

var (
	configPath string
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:           "desklet",
	Short:         "Notification scheduling and focus tracking engine",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	// bare `desklet` serves
	rootCmd.RunE = serveCmd.RunE

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(vapidKeysCmd)
	rootCmd.AddCommand(focusCmd)
	rootCmd.AddCommand(listCmd)
}

// openKV opens the configured storage backend. The returned func releases it.
func openKV(ctx context.Context, cfg *config.Config) (store.KV, func() error, error) {
	switch cfg.Store {
	case config.StoreRedis:
		r, err := store.NewRedisKV(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis: %w", err)
		}
		return r, r.Close, nil
	case config.StoreMemory:
		return store.NewMemoryKV(), func() error { return nil }, nil
	default:
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		return store.NewSQLiteKV(db), db.Close, nil
	}
}
