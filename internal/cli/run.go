package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"trainingportal/internal/service/reminder"
	"trainingportal/internal/service/schedule"
)

func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a notification job once",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "deadline-reminders",
			Short: "Send week and day deadline reminders",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd)
				if err != nil {
					return err
				}
				defer a.Close()

				summary, err := a.Service.CheckDeadlineReminders(cmd.Context())
				if err != nil {
					return fmt.Errorf("deadline reminders: %w", err)
				}
				printReminderSummary(cmd.OutOrStdout(), "deadline-reminders", summary)
				return nil
			},
		},
		&cobra.Command{
			Use:   "overdue",
			Short: "Send overdue notices",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd)
				if err != nil {
					return err
				}
				defer a.Close()

				summary, err := a.Service.CheckOverdue(cmd.Context())
				if err != nil {
					return fmt.Errorf("overdue: %w", err)
				}
				printReminderSummary(cmd.OutOrStdout(), "overdue", summary)
				return nil
			},
		},
		&cobra.Command{
			Use:   "schedule-queue",
			Short: "Deliver due schedule entries",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd)
				if err != nil {
					return err
				}
				defer a.Close()

				summary, err := a.Service.ProcessScheduleQueue(cmd.Context())
				if err != nil {
					return fmt.Errorf("schedule queue: %w", err)
				}
				printQueueSummary(cmd.OutOrStdout(), summary)
				return nil
			},
		},
	)
	return cmd
}

func printReminderSummary(w io.Writer, job string, s *reminder.Summary) {
	fmt.Fprintf(w, "%s: matched %d, notified %d, skipped %d, sent %s, failed %s\n",
		job, s.Matched, s.Notified, s.Skipped,
		color.New(color.FgGreen).Sprint(s.Sent),
		failedCount(s.Failed),
	)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s %s %s:%d: %s\n", color.New(color.FgRed).Sprint("ERROR"), e.Kind, e.TargetType, e.TargetID, e.Error)
	}
}

func printQueueSummary(w io.Writer, s *schedule.Summary) {
	fmt.Fprintf(w, "schedule-queue: selected %d, completed %s, failed %s, rearmed %d, skipped %d\n",
		s.Selected,
		color.New(color.FgGreen).Sprint(s.Completed),
		failedCount(s.Failed),
		s.Rearmed, s.Skipped,
	)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s %s: %s\n", color.New(color.FgRed).Sprint("ERROR"), e.ID, e.Error)
	}
}

func failedCount(n int) string {
	if n == 0 {
		return "0"
	}
	return color.New(color.FgRed).Sprint(n)
}
