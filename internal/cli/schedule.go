package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"trainingportal/internal/model"
	"trainingportal/internal/service/schedule"
)

func ScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Queue a future-dated notification",
		Example: `  notifyctl schedule --kind reminder --target-type assessment --target-id 42 --at 2026-11-01T09:00:00Z
  notifyctl schedule --kind overdue --target-type workstream --target-id 7 --in 48h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kindFlag, _ := cmd.Flags().GetString("kind")
			targetTypeFlag, _ := cmd.Flags().GetString("target-type")
			targetID, _ := cmd.Flags().GetInt64("target-id")
			at, _ := cmd.Flags().GetString("at")
			in, _ := cmd.Flags().GetDuration("in")
			payloadFlag, _ := cmd.Flags().GetString("payload")
			maxRetries, _ := cmd.Flags().GetInt("max-retries")

			req, err := buildScheduleRequest(kindFlag, targetTypeFlag, targetID, at, in, payloadFlag, time.Now().UTC())
			if err != nil {
				return err
			}
			req.MaxRetries = maxRetries

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.Service.Schedule(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("failed to schedule: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s:%d at %s\n",
				color.New(color.FgGreen).Sprint("Scheduled"),
				entry.ID, entry.NotificationType, entry.TargetType, entry.TargetID,
				entry.TriggerTime.Format(time.RFC3339),
			)
			return nil
		},
	}
	cmd.Flags().String("kind", string(model.KindReminder), "notification kind (reminder or overdue)")
	cmd.Flags().String("target-type", "", "workstream, chapter or assessment")
	cmd.Flags().Int64("target-id", 0, "target entity id")
	cmd.Flags().String("at", "", "trigger time, RFC3339")
	cmd.Flags().Duration("in", 0, "trigger after this duration instead of --at")
	cmd.Flags().String("payload", "", "JSON object stored with the entry")
	cmd.Flags().Int("max-retries", 0, "retry budget (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("target-type")
	_ = cmd.MarkFlagRequired("target-id")
	return cmd
}

func buildScheduleRequest(kind, targetType string, targetID int64, at string, in time.Duration, payload string, now time.Time) (schedule.Request, error) {
	var req schedule.Request

	k, err := model.ParseKind(kind)
	if err != nil {
		return req, err
	}
	t, err := model.ParseTargetType(targetType)
	if err != nil {
		return req, err
	}
	req.Kind = k
	req.Target = model.Target{ID: targetID, Type: t}

	switch {
	case at != "" && in != 0:
		return req, fmt.Errorf("use either --at or --in, not both")
	case at != "":
		trigger, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return req, fmt.Errorf("invalid --at: %w", err)
		}
		req.TriggerTime = trigger
	case in != 0:
		req.TriggerTime = now.Add(in)
	default:
		return req, fmt.Errorf("one of --at or --in is required")
	}

	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
			return req, fmt.Errorf("invalid --payload: %w", err)
		}
	}
	return req, nil
}
