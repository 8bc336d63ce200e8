// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter defines the interface for writing repair results to an output.
type Reporter interface {
	// Write renders a single repair result.
	Write(result *schemas.RepairResult) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "json":
		return &jsonReporter{w: writer}, nil
	case "markdown", "md":
		return &markdownReporter{w: writer}, nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// jsonReporter emits the full result as indented JSON.
type jsonReporter struct {
	w io.WriteCloser
}

func (r *jsonReporter) Write(result *schemas.RepairResult) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal repair result: %w", err)
	}
	if _, err := r.w.Write(append(out, '\n')); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *jsonReporter) Close() error {
	return r.w.Close()
}

// markdownReporter emits a human-oriented summary with the final patch in a
// fenced diff block.
type markdownReporter struct {
	w io.WriteCloser
}

func (r *markdownReporter) Write(result *schemas.RepairResult) error {
	var buf []byte
	add := func(format string, args ...any) {
		buf = append(buf, fmt.Sprintf(format, args...)...)
	}

	add("# Repair Report: %s\n\n", result.TicketID)
	add("%s\n\n", result.Report.Summary)
	add("| Field | Value |\n|---|---|\n")
	add("| Decision | %s |\n", result.Decision)
	add("| Success | %t |\n", result.Success)
	add("| Iterations | %d |\n", result.IterationsUsed)
	add("| Category | %s |\n", result.Report.Metrics.ProblemCategory)
	add("| Cost ratio | %.2f |\n", result.Report.DecisionAnalysis.CostRatio)
	add("| Success probability | %.2f |\n", result.Report.DecisionAnalysis.SuccessProbability)
	if result.Report.RecommendRebuild {
		add("| Recommend rebuild | true |\n")
	}
	add("\n")

	if len(result.Report.AttemptOutcomes) > 0 {
		add("## Attempts\n\n")
		for i, outcome := range result.Report.AttemptOutcomes {
			add("- attempt %d: %s\n", i, outcome)
		}
		add("\n")
	}

	if result.FinalPatch != "" {
		add("## Final Patch\n\n```diff\n%s\n```\n", result.FinalPatch)
	}

	if _, err := r.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *markdownReporter) Close() error {
	return r.w.Close()
}
