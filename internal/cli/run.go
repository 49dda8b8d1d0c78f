package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func addRunCommands(rootCmd *cobra.Command, app *App) {
	var job string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and metrics endpoint",
		Long: `Run starts the periodic jobs (update_prices, close_completed, evolve) and,
when enabled, serves Prometheus metrics. With --job a single job runs once
under the same lock as the scheduler and the command exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.services(); err != nil {
				return err
			}

			if job != "" {
				if err := app.Scheduler.RunOnce(cmd.Context(), job); err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(map[string]string{"job": job, "status": "completed"})
				}
				output.Success("✓ Job %s completed", job)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			if app.Config.Metrics.Enabled {
				go func() {
					errCh <- app.Metrics.Serve(ctx, app.Config.Metrics.Addr, app.Logger)
				}()
			}

			app.Scheduler.Start(ctx)
			output.Info("Scheduler running (%v), press Ctrl+C to stop", app.Scheduler.Jobs())

			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
				stop()
			}

			app.Scheduler.Wait()
			if serveErr != nil {
				return serveErr
			}
			app.Logger.Info().Msg("Scheduler stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "run a single job once: update_prices, close_completed, evolve")
	rootCmd.AddCommand(cmd)
}
