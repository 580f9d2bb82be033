// Package cli implements notifyctl, which runs engine operations in-process
// against the configured stores.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"trainingportal/internal/app"
	"trainingportal/internal/config"
	pkgconfig "trainingportal/pkg/config"
	"trainingportal/pkg/logger"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "notifyctl",
		Short: "Operate the training portal notification engine",
		Long: `notifyctl runs reminder jobs, inspects the notification log and
queues scheduled notifications using the same configuration as the server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("env", pkgconfig.GetConfigEnv(), "config profile (CONFIG_ENV)")
	root.PersistentFlags().String("config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "config directory")
	root.PersistentFlags().String("log-level", "warn", "log level for engine output")

	root.AddCommand(RunCmd())
	root.AddCommand(LogsCmd())
	root.AddCommand(StatsCmd())
	root.AddCommand(ScheduleCmd())
	return root
}

// openApp builds the engine without starting the server, consumer or cron.
func openApp(cmd *cobra.Command) (*app.App, error) {
	env, _ := cmd.Flags().GetString("env")
	dir, _ := cmd.Flags().GetString("config-dir")
	level, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.LoadFrom(env, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Consumer.Enabled = false

	log, err := logger.New(logger.Options{Level: level})
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return app.New(cfg, log)
}
