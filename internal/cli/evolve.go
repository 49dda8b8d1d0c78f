package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"newstrace/internal/evolution"
	"newstrace/internal/models"
)

func addEvolveCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Assess and run feature weight evolution",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report whether an evolution cycle would run now",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.services(); err != nil {
				return err
			}

			a := app.Evolver.Assess(cmd.Context())
			if output.IsJSON() {
				return output.JSON(a)
			}
			output.Bold("Evolution check")
			output.Printf("  Samples:   %d\n", a.Samples)
			output.Printf("  Accuracy:  %.2f%%\n", a.Accuracy*100)
			if a.Evolve {
				output.Printf("  Decision:  %s\n", output.Yellow("evolve"))
			} else {
				output.Printf("  Decision:  %s\n", output.DimText("hold"))
			}
			output.Printf("  Reason:    %s\n", a.Reason)
			return nil
		},
	})

	var force bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Run one evolution cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.services(); err != nil {
				return err
			}

			res, err := app.Evolver.RunCycle(cmd.Context(), force)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(res)
			}
			renderCycle(output, res)
			return nil
		},
	}
	run.Flags().BoolVar(&force, "force", false, "skip the accuracy and maintenance-window checks")
	cmd.AddCommand(run)

	rootCmd.AddCommand(cmd)
}

func renderCycle(output *Output, res evolution.CycleResult) {
	if !res.Evolved {
		output.Warning("No evolution: %s", res.Assessment.Reason)
		return
	}

	output.Success("✓ Weights evolved from %d samples (%s)", res.Assessment.Samples, res.Assessment.Reason)
	if res.Committed && res.Snapshot != nil {
		output.Dim("Snapshot version %d", res.Snapshot.Version)
	} else {
		output.Warning("Snapshot was not persisted, weights held in memory only (see log)")
	}
	if res.Record == nil || len(res.Record.Changes) == 0 {
		output.Dim("No feature moved beyond the change threshold")
		return
	}

	table := NewTable(output, "FEATURE", "OLD", "NEW", "DELTA", "SAMPLES")
	for _, c := range res.Record.Changes {
		delta := c.NewWeight - c.OldWeight
		d := FormatWeight(delta)
		if delta > 0 {
			d = output.Green(d)
		} else if delta < 0 {
			d = output.Red(d)
		}
		table.AddRow(c.Feature, FormatWeight(c.OldWeight), FormatWeight(c.NewWeight), d, fmt.Sprint(c.SampleCount))
	}
	table.Render()
}

func addWeightsCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Inspect feature weights",
	}

	var asYAML bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the current weight snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.services(); err != nil {
				return err
			}

			snap := app.Evolver.Current(cmd.Context())
			switch {
			case output.IsJSON():
				return output.JSON(snap)
			case asYAML:
				return output.YAML(snap)
			}
			renderSnapshot(output, snap)
			return nil
		},
	}
	show.Flags().BoolVar(&asYAML, "yaml", false, "output the snapshot as YAML")
	cmd.AddCommand(show)

	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show recent evolution cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.services(); err != nil {
				return err
			}

			records, err := app.Store.ListEvolutions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Dim("No evolution cycles recorded")
				return nil
			}
			renderHistory(output, records)
			return nil
		},
	}
	history.Flags().IntVar(&limit, "limit", 10, "number of cycles to show")
	cmd.AddCommand(history)

	cmd.AddCommand(&cobra.Command{
		Use:   "instructions",
		Short: "Print the audit directive block for the current weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.services(); err != nil {
				return err
			}

			text := evolution.Instructions(app.Evolver.Current(cmd.Context()))
			if output.IsJSON() {
				return output.JSON(map[string]string{"instructions": text})
			}
			output.Println(text)
			return nil
		},
	})

	rootCmd.AddCommand(cmd)
}

func renderSnapshot(output *Output, snap models.WeightSnapshot) {
	if snap.Version == 0 {
		output.Bold("Weights (built-in defaults)")
	} else {
		output.Bold("Weights v%d (%s)", snap.Version, FormatDateTime(snap.CreatedAt))
	}
	for _, f := range snap.Weights.Features() {
		w := snap.Weights[f]
		text := FormatWeight(w)
		if w > 0 {
			text = output.Green(text)
		} else if w < 0 {
			text = output.Red(text)
		}
		output.Printf("  %-20s %s\n", f, text)
	}
}

func renderHistory(output *Output, records []models.EvolutionRecord) {
	table := NewTable(output, "ID", "EVOLVED", "SAMPLES", "CHANGES", "REASON")
	for _, r := range records {
		table.AddRow(
			fmt.Sprint(r.ID),
			FormatDateTime(r.EvolvedAt),
			fmt.Sprint(r.BatchSize),
			fmt.Sprint(len(r.Changes)),
			TruncateString(r.Reason, 48),
		)
	}
	table.Render()
}
