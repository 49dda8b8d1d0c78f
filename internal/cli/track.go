package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	apperrors "newstrace/internal/errors"
	"newstrace/internal/models"
	"newstrace/internal/store"
)

func addTrackCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Manage market tracking tasks",
	}

	cmd.AddCommand(newTrackCreateCmd(app))
	cmd.AddCommand(newTrackUpdateCmd(app))
	cmd.AddCommand(newTrackCloseCmd(app))
	cmd.AddCommand(newTrackListCmd(app))
	cmd.AddCommand(newTrackShowCmd(app))
	rootCmd.AddCommand(cmd)
}

func newTrackCreateCmd(app *App) *cobra.Command {
	var regime string
	cmd := &cobra.Command{
		Use:   "create NEWS_ID TICKER...",
		Short: "Start tracking the tickers recommended by a news item",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			newsID, err := newsIDArg(args)
			if err != nil {
				return err
			}
			if err := app.services(); err != nil {
				return err
			}

			ids, err := app.Tracker.CreateTracking(cmd.Context(), newsID, args[1:], models.Regime(regime))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"news_id":      newsID,
					"tracking_ids": ids,
				})
			}
			if len(ids) == 0 {
				output.Warning("No tasks created: no ticker had a usable price")
				return nil
			}
			output.Success("✓ Created %d tracking task(s) for %s", len(ids), newsID)
			for _, id := range ids {
				output.Printf("  %s\n", id)
			}
			if skipped := len(args[1:]) - len(ids); skipped > 0 {
				output.Warning("%d ticker(s) skipped, see log for details", skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&regime, "regime", "Neutral", "market regime: Bull, Bear, Neutral")
	return cmd
}

func newTrackUpdateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Capture due price checkpoints for all active tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.services(); err != nil {
				return err
			}

			report, err := app.Tracker.UpdateAllPrices(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			output.Bold("Price update")
			output.Printf("  Active:    %d\n", report.Active)
			output.Printf("  Captured:  %d\n", report.Captured)
			output.Printf("  Pending:   %d\n", report.Pending)
			if report.Failed > 0 {
				output.Printf("  Failed:    %s\n", output.Red(fmt.Sprint(report.Failed)))
			}
			if report.Alerts > 0 {
				output.Printf("  Alerts:    %s\n", output.Yellow(fmt.Sprint(report.Alerts)))
			}
			return nil
		},
	}
}

func newTrackCloseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Close tasks whose tracking window has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.services(); err != nil {
				return err
			}

			closed, err := app.Tracker.CheckAndCloseCompleted(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]int{"closed": closed})
			}
			output.Success("✓ Closed %d task(s)", closed)
			return nil
		},
	}
}

func newTrackListCmd(app *App) *cobra.Command {
	var (
		status string
		ticker string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracking tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			filter := store.TaskFilter{
				Ticker: strings.ToUpper(ticker),
				Limit:  limit,
			}
			switch strings.ToLower(status) {
			case "", "all":
			case string(models.StatusActive), string(models.StatusClosed):
				filter.Status = models.TaskStatus(strings.ToLower(status))
			default:
				return apperrors.NewValidationError("status", status, "must be active, closed or all")
			}

			if err := app.services(); err != nil {
				return err
			}
			tasks, err := app.Store.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(tasks)
			}
			if len(tasks) == 0 {
				output.Dim("No tracking tasks")
				return nil
			}
			renderTasks(output, tasks)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "filter by status: active, closed, all")
	cmd.Flags().StringVar(&ticker, "ticker", "", "filter by ticker")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of tasks")
	return cmd
}

func newTrackShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show NEWS_ID",
		Short: "Show tracking results of a news item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			newsID, err := newsIDArg(args)
			if err != nil {
				return err
			}
			if err := app.services(); err != nil {
				return err
			}

			tasks, err := app.Tracker.Results(cmd.Context(), newsID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(tasks)
			}
			if len(tasks) == 0 {
				output.Dim("No tracking tasks for %s", newsID)
				return nil
			}
			for i := range tasks {
				renderTaskDetail(output, &tasks[i])
			}
			return nil
		},
	}
}

func renderTasks(output *Output, tasks []models.TrackingTask) {
	table := NewTable(output, "ID", "NEWS", "TICKER", "REGIME", "STATUS", "ENTRY", "LAST", "PNL", "DRAWDOWN")
	for i := range tasks {
		t := &tasks[i]
		last := "-"
		if n := len(t.Checkpoints); n > 0 {
			cp := t.Checkpoints[n-1]
			last = fmt.Sprintf("T+%d %s", cp.Offset, output.FormatReturn(models.FractionalReturn(t.EntryPrice, cp.Price)))
		}
		table.AddRow(
			t.ID,
			TruncateString(t.NewsID, 16),
			t.Ticker,
			string(t.Regime),
			statusText(output, t.Status),
			FormatIndianCurrency(t.EntryPrice),
			last,
			optionalReturn(output, t.FinalPnL),
			optionalReturn(output, t.MaxDrawdown),
		)
	}
	table.Render()
}

func renderTaskDetail(output *Output, t *models.TrackingTask) {
	output.Bold("%s  %s", t.Ticker, t.ID)
	output.Printf("  Status:    %s\n", statusText(output, t.Status))
	output.Printf("  Regime:    %s\n", t.Regime)
	output.Printf("  Entry:     %s at %s\n", FormatIndianCurrency(t.EntryPrice), FormatDateTime(t.CreatedAt))
	output.Printf("  Closes:    %s\n", FormatDateTime(t.ExpectedCloseAt))
	for _, cp := range t.Checkpoints {
		if cp.Offset == models.EntryOffset {
			continue
		}
		output.Printf("  T+%-3d      %s  %s\n", cp.Offset, FormatIndianCurrency(cp.Price),
			output.FormatReturn(models.FractionalReturn(t.EntryPrice, cp.Price)))
	}
	if t.FinalPnL != nil {
		output.Printf("  Final PnL: %s\n", output.FormatReturn(*t.FinalPnL))
	}
	if t.MaxDrawdown != nil {
		output.Printf("  Drawdown:  %s\n", output.FormatReturn(*t.MaxDrawdown))
	}
	output.Println()
}

func statusText(output *Output, s models.TaskStatus) string {
	if s == models.StatusActive {
		return output.Green(string(s))
	}
	return output.DimText(string(s))
}

func optionalReturn(output *Output, v *float64) string {
	if v == nil {
		return "-"
	}
	return output.FormatReturn(*v)
}
