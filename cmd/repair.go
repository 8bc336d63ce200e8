package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
	"github.com/xkilldash9x/coval-cli/internal/decision"
	"github.com/xkilldash9x/coval-cli/internal/fixloop"
	"github.com/xkilldash9x/coval-cli/internal/history"
	"github.com/xkilldash9x/coval-cli/internal/llmclient"
	"github.com/xkilldash9x/coval-cli/internal/metrics"
	"github.com/xkilldash9x/coval-cli/internal/mre"
	"github.com/xkilldash9x/coval-cli/internal/observability"
	"github.com/xkilldash9x/coval-cli/internal/orchestrator"
	"github.com/xkilldash9x/coval-cli/internal/reporting"
	"github.com/xkilldash9x/coval-cli/internal/sandbox"
	"github.com/xkilldash9x/coval-cli/internal/validation"
)

// newRepairCmd creates and configures the `repair` command.
func newRepairCmd() *cobra.Command {
	repairCmd := &cobra.Command{
		Use:          "repair",
		Short:        "Triages a failure and, when repair wins, runs the fix loop",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their corresponding Viper keys so command-line
			// values override the config file and environment.
			if err := viper.BindPFlag("fix_loop.max_iterations", cmd.Flags().Lookup("max-iterations")); err != nil {
				return err
			}
			if err := viper.BindPFlag("fix_loop.model", cmd.Flags().Lookup("model")); err != nil {
				return err
			}
			if err := viper.BindPFlag("sandbox.keep_workspace_on_failure", cmd.Flags().Lookup("keep-workspace")); err != nil {
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

			req, err := buildRequest(errorFile, sourceRoot, testPath)
			if err != nil {
				return err
			}

			// Re-resolve flag-backed values after PreRunE binding.
			cfg.SetFixLoopMaxIterations(viper.GetInt("fix_loop.max_iterations"))
			cfg.SetFixLoopModel(viper.GetString("fix_loop.model"))
			cfg.SetSandboxKeepOnFailure(viper.GetBool("sandbox.keep_workspace_on_failure"))
			req.MaxIterations = cfg.FixLoop().MaxIterations
			req.Profile = cfg.LLM().Profile(resolveModel(cfg))

			store, err := history.NewStore(cfg.History(), logger)
			if err != nil {
				return fmt.Errorf("failed to open history store: %w", err)
			}
			defer store.Close()

			llmClient, err := llmclient.NewClient(cfg.LLM(), req.Profile.ID, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize LLM client: %w", err)
			}

			sandboxRunner, err := sandbox.New(cfg.Sandbox(), logger)
			if err != nil {
				return fmt.Errorf("failed to initialize sandbox: %w", err)
			}

			runner := validation.NewRunner(cfg.Sandbox(), sandboxRunner, logger)
			loop := fixloop.NewLoop(cfg.FixLoop(), llmClient, runner, logger)

			orch, err := orchestrator.New(
				cfg,
				logger,
				metrics.NewCalculator(cfg.Metrics(), cfg.Decision().Weights(), store, logger),
				decision.NewModel(cfg.Decision(), logger),
				decision.NewScopeEstimator(cfg.Decision().DefaultRebuildCost),
				mre.NewBuilder(cfg.MRE(), logger),
				loop,
				store,
			)
			if err != nil {
				return err
			}

			result, err := orch.Run(ctx, req)
			if err != nil {
				return fmt.Errorf("repair run failed: %w", err)
			}

			printResult(cmd, result)

			if output, _ := cmd.Flags().GetString("output"); output != "" {
				format, _ := cmd.Flags().GetString("format")
				if err := writeReport(result, format, output); err != nil {
					return err
				}
				logger.Info("Wrote repair report", zap.String("path", output), zap.String("format", format))
			}

			if result.Decision == schemas.DecisionRepair && !result.Success {
				logger.Warn("Repair did not produce a passing patch",
					zap.String("ticket_id", result.TicketID),
					zap.Bool("recommend_rebuild", result.Report.RecommendRebuild))
				return fmt.Errorf("repair exhausted without a passing patch (ticket %s)", result.TicketID)
			}
			return nil
		},
	}

	repairCmd.Flags().String("error", "", "path to a file containing the error or crash output (required)")
	repairCmd.Flags().String("source", ".", "root directory of the failing codebase")
	repairCmd.Flags().String("test", "", "path to the failing test file, if known")
	repairCmd.Flags().String("model", "", "model identifier for the fix loop (overrides config)")
	repairCmd.Flags().Int("max-iterations", 0, "maximum fix iterations (overrides config)")
	repairCmd.Flags().Bool("keep-workspace", false, "keep attempt workspaces for failed validations")
	repairCmd.Flags().String("output", "", "write a report to this path in addition to stdout")
	repairCmd.Flags().String("format", "json", "report format: json or markdown")
	_ = repairCmd.MarkFlagRequired("error")

	return repairCmd
}

// resolveModel returns the fix-loop model, falling back to the router default
// the same way the client factory does.
func resolveModel(c *config.Config) string {
	if m := c.FixLoop().Model; m != "" {
		return m
	}
	return c.LLM().DefaultModel
}

// buildRequest reads the error text and validates the source root, producing
// the orchestrator request shared by repair and triage.
func buildRequest(errorFile, sourceRoot, testPath string) (orchestrator.Request, error) {
	errText, err := os.ReadFile(errorFile)
	if err != nil {
		return orchestrator.Request{}, fmt.Errorf("failed to read error file %q: %w", errorFile, err)
	}
	info, err := os.Stat(sourceRoot)
	if err != nil {
		return orchestrator.Request{}, fmt.Errorf("source root %q is not accessible: %w", sourceRoot, err)
	}
	if !info.IsDir() {
		return orchestrator.Request{}, fmt.Errorf("source root %q is not a directory", sourceRoot)
	}
	return orchestrator.Request{
		ErrorText:  string(errText),
		SourceRoot: sourceRoot,
		TestPath:   testPath,
	}, nil
}

// writeReport renders the result to a file through the reporting package.
func writeReport(result *schemas.RepairResult, format, output string) error {
	reporter, err := reporting.New(format, output)
	if err != nil {
		return err
	}
	if err := reporter.Write(result); err != nil {
		reporter.Close()
		return err
	}
	return reporter.Close()
}

func printResult(cmd *cobra.Command, result *schemas.RepairResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ticket:    %s\n", result.TicketID)
	fmt.Fprintf(out, "Decision:  %s\n", result.Decision)
	fmt.Fprintf(out, "Summary:   %s\n", result.Report.Summary)
	if result.Decision == schemas.DecisionRebuild {
		return
	}
	fmt.Fprintf(out, "Success:   %t (%d iteration(s))\n", result.Success, result.IterationsUsed)
	if result.Report.RecommendRebuild && !result.Success {
		fmt.Fprintln(out, "Recommendation: rebuild; repair exhausted its budget on a borderline decision")
	}
	if result.FinalPatch != "" {
		fmt.Fprintf(out, "\n%s\n", result.FinalPatch)
	}
}
