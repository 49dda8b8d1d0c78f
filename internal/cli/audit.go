package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "newstrace/internal/errors"
	"newstrace/internal/models"
	"newstrace/internal/security"
)

func addAuditCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Record and inspect news audit results",
	}

	var (
		score    float64
		risk     string
		features []string
	)
	record := &cobra.Command{
		Use:   "record NEWS_ID",
		Short: "Record the audit result of a news item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			newsID, err := newsIDArg(args)
			if err != nil {
				return err
			}
			audit := &models.AuditResult{
				NewsID:           newsID,
				Score:            score,
				RiskLevel:        models.RiskLevel(strings.ToLower(risk)),
				DetectedFeatures: normaliseFeatures(features),
				AuditedAt:        time.Now(),
			}
			if !audit.Valid() {
				return apperrors.NewValidationError("score", score, "must be between 0 and 100")
			}
			switch audit.RiskLevel {
			case models.RiskLow, models.RiskMedium, models.RiskHigh:
			default:
				return apperrors.NewValidationError("risk", risk, "must be low, medium or high")
			}

			if err := app.services(); err != nil {
				return err
			}
			if err := app.Store.SaveAudit(cmd.Context(), audit); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(audit)
			}
			output.Success("✓ Audit recorded for %s (score %.1f, %s risk)", audit.NewsID, audit.Score, audit.RiskLevel)
			if len(audit.DetectedFeatures) > 0 {
				output.Dim("Features: %s", strings.Join(audit.DetectedFeatures, ", "))
			}
			return nil
		},
	}
	record.Flags().Float64Var(&score, "score", 0, "audit score from 0 to 100")
	record.Flags().StringVar(&risk, "risk", "medium", "risk level: low, medium, high")
	record.Flags().StringSliceVar(&features, "features", nil, "detected features (comma separated)")
	_ = record.MarkFlagRequired("score")

	show := &cobra.Command{
		Use:   "show NEWS_ID",
		Short: "Show the recorded audit of a news item",
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
			audit, err := app.Store.GetAudit(cmd.Context(), newsID)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(audit)
			}
			output.Bold("Audit %s", audit.NewsID)
			output.Printf("  Score:     %.1f\n", audit.Score)
			output.Printf("  Risk:      %s\n", audit.RiskLevel)
			output.Printf("  Features:  %s\n", strings.Join(audit.DetectedFeatures, ", "))
			output.Printf("  Audited:   %s\n", FormatDateTime(audit.AuditedAt))
			return nil
		},
	}

	cmd.AddCommand(record, show)
	rootCmd.AddCommand(cmd)
}

// normaliseFeatures lowercases, trims and de-duplicates feature names.
func normaliseFeatures(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(security.SanitizeText(f)))
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func newsIDArg(args []string) (string, error) {
	if len(args) == 0 {
		return security.ValidateNewsID("")
	}
	return security.ValidateNewsID(args[0])
}
