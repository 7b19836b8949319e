package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/desklet/internal/activity"
	"github.com/dukerupert/desklet/internal/config"
	"github.com/dukerupert/desklet/internal/metrics"
	"github.com/dukerupert/desklet/internal/model"
	"github.com/dukerupert/desklet/internal/notify"
	"github.com/dukerupert/desklet/internal/push"
)

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair for native alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "DESKLET_VAPID_PUBLIC_KEY=%s\n", pub)
		fmt.Fprintf(out, "DESKLET_VAPID_PRIVATE_KEY=%s\n", priv)
		return nil
	},
}

var focusCmd = &cobra.Command{
	Use:   "focus",
	Short: "Print the persisted focus report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		kv, closeKV, err := openKV(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeKV()

		report, err := activity.LoadReport(cmd.Context(), kv, time.Now())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print stored notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := model.Status(listStatus)
		if status != "" && !status.Valid() {
			return fmt.Errorf("unknown status %q", listStatus)
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		kv, closeKV, err := openKV(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeKV()

		st := notify.NewStore(kv, slog.New(slog.DiscardHandler), metrics.NewNop())
		if err := st.Load(cmd.Context()); err != nil {
			return err
		}
		return printNotifications(cmd.OutOrStdout(), st.List(model.NotificationFilter{Status: status}))
	},
}

func printNotifications(w io.Writer, list []model.Notification) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tSTATUS\tSCHEDULED\tTITLE")
	for _, n := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			n.ID, n.Category, n.Status, n.ScheduledAt.Local().Format("2006-01-02 15:04"), n.Title)
	}
	return tw.Flush()
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "only show records with this status (pending, snoozed, delivered, dismissed)")
}
