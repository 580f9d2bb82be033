package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"trainingportal/internal/model"
)

func LogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent notification log rows",
		Long:  "Show recent notification log rows, newest first (default 50, max 500)",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.Service.ListRecent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to fetch logs: %w", err)
			}
			printLogRows(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().Int("limit", 50, "number of rows")
	return cmd
}

func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show notification counts for the last 30 days",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Service.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to fetch stats: %w", err)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

func printLogRows(w io.Writer, rows []model.NotificationLog) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No notifications logged.")
		return
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %s  %-22s %s:%d  %s  %q\n",
			r.CreatedAt.Format(time.RFC3339), statusLabel(r.Status), r.Kind, r.TargetType, r.TargetID, r.RecipientEmail, r.Subject)
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, "    error: %s\n", r.ErrorMessage)
		}
	}
}

func statusLabel(s model.LogStatus) string {
	switch s {
	case model.LogSent:
		return color.New(color.FgGreen).Sprintf("%-7s", s)
	case model.LogFailed:
		return color.New(color.FgRed).Sprintf("%-7s", s)
	default:
		return color.New(color.FgYellow).Sprintf("%-7s", s)
	}
}

func printStats(w io.Writer, s *model.LogStats) {
	fmt.Fprintf(w, "Since %s: %d notifications\n", s.Since.Format(time.RFC3339), s.Total)

	statuses := make([]string, 0, len(s.ByStatus))
	for status := range s.ByStatus {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "  %s %d\n", statusLabel(model.LogStatus(status)), s.ByStatus[model.LogStatus(status)])
	}

	kinds := make([]string, 0, len(s.ByKind))
	for kind := range s.ByKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(w, "  %-22s %d\n", kind, s.ByKind[model.Kind(kind)])
	}
}
