package cmd

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/decision"
	"github.com/xkilldash9x/coval-cli/internal/history"
	"github.com/xkilldash9x/coval-cli/internal/metrics"
	"github.com/xkilldash9x/coval-cli/internal/mre"
	"github.com/xkilldash9x/coval-cli/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newTriageCmd creates the `triage` command: the analysis half of `repair`.
// It scores the failure and prints the repair-or-rebuild verdict without
// generating any patches.
func newTriageCmd() *cobra.Command {
	triageCmd := &cobra.Command{
		Use:          "triage",
		Short:        "Scores a failure against the cost model without attempting a repair",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("fix_loop.model", cmd.Flags().Lookup("model")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			errorFile, _ := cmd.Flags().GetString("error")
			sourceRoot, _ := cmd.Flags().GetString("source")
			testPath, _ := cmd.Flags().GetString("test")
			asJSON, _ := cmd.Flags().GetBool("json")

			req, err := buildRequest(errorFile, sourceRoot, testPath)
			if err != nil {
				return err
			}

			cfg.SetFixLoopModel(viper.GetString("fix_loop.model"))
			profile := cfg.LLM().Profile(resolveModel(cfg))

			store, err := history.NewStore(cfg.History(), logger)
			if err != nil {
				return fmt.Errorf("failed to open history store: %w", err)
			}
			defer store.Close()

			report := mre.ParseErrorReport(req.ErrorText)
			calculator := metrics.NewCalculator(cfg.Metrics(), cfg.Decision().Weights(), store, logger)
			m := calculator.Collect(ctx, req.SourceRoot, report, req.TestPath, profile)

			estimator := decision.NewScopeEstimator(cfg.Decision().DefaultRebuildCost)
			model := decision.NewModel(cfg.Decision(), logger)
			result := model.Evaluate(m, estimator.EstimateRebuildCost(req.SourceRoot, m))

			if asJSON {
				return printTriageJSON(cmd, report, m, result)
			}
			printTriage(cmd, report, m, result)
			return nil
		},
	}

	triageCmd.Flags().String("error", "", "path to a file containing the error or crash output (required)")
	triageCmd.Flags().String("source", ".", "root directory of the failing codebase")
	triageCmd.Flags().String("test", "", "path to the failing test file, if known")
	triageCmd.Flags().String("model", "", "model identifier to score capability against (overrides config)")
	triageCmd.Flags().Bool("json", false, "emit the full analysis as JSON")
	_ = triageCmd.MarkFlagRequired("error")

	return triageCmd
}

func printTriageJSON(cmd *cobra.Command, report schemas.ErrorReport, m schemas.RepairMetrics, result schemas.DecisionResult) error {
	payload := struct {
		Category schemas.ProblemCategory `json:"category"`
		Metrics  schemas.RepairMetrics   `json:"metrics"`
		Decision schemas.DecisionResult  `json:"decision"`
	}{report.Category, m, result}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal triage result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func printTriage(cmd *cobra.Command, report schemas.ErrorReport, m schemas.RepairMetrics, result schemas.DecisionResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Category:            %s\n", report.Category)
	fmt.Fprintf(out, "Technical debt:      %.2f\n", m.TechnicalDebt)
	fmt.Fprintf(out, "Test coverage:       %.2f\n", m.TestCoverage)
	fmt.Fprintf(out, "Available context:   %.2f\n", m.AvailableContext)
	fmt.Fprintf(out, "Model capability:    %.2f\n", m.ModelCapability)
	fmt.Fprintf(out, "Historical success:  %.2f\n", m.HistoricalSuccessRate)
	fmt.Fprintf(out, "Repair cost:         %.2f\n", result.RepairCost)
	fmt.Fprintf(out, "Rebuild cost:        %.2f\n", result.RebuildCost)
	fmt.Fprintf(out, "Cost ratio:          %.2f\n", result.CostRatio)
	fmt.Fprintf(out, "Success probability: %.2f\n", result.SuccessProbability)
	fmt.Fprintf(out, "Decision:            %s\n", result.Decision)
	if result.LowConfidence {
		fmt.Fprintln(out, "Note: low confidence; inputs were degraded or clamped")
	}
	for _, r := range result.Reasoning {
		fmt.Fprintf(out, "  - %s\n", r)
	}
}
