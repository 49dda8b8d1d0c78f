package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"newstrace/internal/config"
	"newstrace/internal/logging"
	"newstrace/internal/security"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// NewRootCmd creates the root command for the CLI. A --config directory
// given on the command line is loaded before the command runs.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return newRootCmd(&App{Config: cfg, Logger: logger})
}

// NewRootCmdForDir is NewRootCmd for a configuration loaded from dir.
func NewRootCmdForDir(cfg *config.Config, dir string, logger zerolog.Logger) *cobra.Command {
	return newRootCmd(&App{Config: cfg, ConfigDir: dir, Logger: logger})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "newstrace",
		Short: "Track market outcomes of audited news and evolve audit weights",
		Long: `newstrace follows the tickers recommended by audited financial news,
captures their prices at fixed day offsets, and feeds the realised returns
back into the feature weights used by the news auditor.

Use 'newstrace run' to start the scheduler and metrics endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dir, _ := cmd.Flags().GetString("config"); dir != "" && dir != app.ConfigDir {
				loaded, err := config.Load(dir)
				if err != nil {
					return err
				}
				app.Config = loaded
				app.ConfigDir = dir
				app.Logger = logging.NewLoggerWithConfig(logging.FromConfig(loaded.Logging))
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/newstrace)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addAuditCommands(rootCmd, app)
	addTrackCommands(rootCmd, app)
	addEvolveCommands(rootCmd, app)
	addWeightsCommands(rootCmd, app)
	addRunCommands(rootCmd, app)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("newstrace v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			redacted := security.RedactConfig(app.Config)
			if output.IsJSON() {
				return output.JSON(redacted)
			}
			showConfig(output, &redacted)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := filepath.Join(app.configDir(), "config.toml")
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Tracking")
	output.Printf("  Duration:        %d days\n", cfg.Tracking.DurationDays)
	output.Printf("  Workers:         %d\n", cfg.Tracking.Workers)
	for _, cp := range cfg.Tracking.Checkpoints {
		if cp.AlertBelow < 0 {
			output.Printf("  T+%-3d           alert at %s (%s)\n", cp.Offset, FormatReturn(cp.AlertBelow), cp.AlertLevel)
		} else {
			output.Printf("  T+%-3d           no alert\n", cp.Offset)
		}
	}
	output.Println()

	e := cfg.Evolution
	output.Bold("Evolution")
	output.Printf("  Enabled:         %v\n", e.Enabled)
	output.Printf("  Min Samples:     %d\n", e.MinSamples)
	output.Printf("  Accuracy Thr:    %.0f%%\n", e.AccuracyThreshold*100)
	output.Printf("  Max Change:      %.2f\n", e.MaxWeightChange)
	output.Printf("  Decay:           %.2f\n", e.DecayFactor)
	output.Printf("  Bounds:          [%.2f, %.2f]\n", e.WeightMin, e.WeightMax)
	output.Printf("  Maintenance:     %s %02d:00\n", e.MaintenanceWeekday, e.MaintenanceHour)
	output.Println()

	output.Bold("Price")
	output.Printf("  Provider:        %s\n", cfg.Price.Provider)
	output.Printf("  Exchange:        %s\n", cfg.Price.DefaultExchange)
	output.Printf("  Rate Limit:      %.1f/s\n", cfg.Price.RequestsPerSecond)
	output.Printf("  Fallback:        %v\n", cfg.Price.FallbackEnabled)
	if cfg.Price.Kite.APIKey != "" {
		output.Printf("  Kite API Key:    %s\n", cfg.Price.Kite.APIKey)
	}
	output.Println()

	output.Bold("Scheduler")
	output.Printf("  Update:          %s\n", cfg.Scheduler.UpdateInterval)
	output.Printf("  Close:           %s\n", cfg.Scheduler.CloseInterval)
	output.Printf("  Evolve:          %s\n", cfg.Scheduler.EvolveInterval)
	output.Printf("  Locker:          %s\n", cfg.Scheduler.Locker)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Level:           %s\n", cfg.Notifications.Level)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
	output.Printf("  Email:           %v\n", cfg.Notifications.Email.Enabled)
}
