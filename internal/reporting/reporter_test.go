package reporting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

func sampleResult() *schemas.RepairResult {
	return &schemas.RepairResult{
		TicketID:       "ticket-42",
		Decision:       schemas.DecisionRepair,
		Success:        true,
		FinalPatch:     "--- a/app.py\n+++ b/app.py\n@@ -1 +1 @@\n-x = 1\n+x = 2\n",
		IterationsUsed: 2,
		Report: schemas.RepairReport{
			Summary: "repair succeeded after 2 attempt(s)",
			Metrics: schemas.RepairMetrics{
				ProblemCategory: schemas.CategoryTypeError,
			},
			DecisionAnalysis: schemas.DecisionResult{
				CostRatio:          0.4,
				SuccessProbability: 0.8,
				Decision:           schemas.DecisionRepair,
			},
			AttemptOutcomes: []schemas.AttemptOutcome{schemas.OutcomeFail, schemas.OutcomePass},
		},
	}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	_, err := New("sarif", "")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestNew_UnwritableOutputPath(t *testing.T) {
	t.Parallel()

	_, err := New("json", filepath.Join(t.TempDir(), "missing", "out.json"))
	assert.ErrorContains(t, err, "failed to create output file")
}

func TestJSONReporter_WritesResultToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.json")
	r, err := New("json", path)
	require.NoError(t, err)

	require.NoError(t, r.Write(sampleResult()))
	require.NoError(t, r.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded schemas.RepairResult
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "ticket-42", decoded.TicketID)
	assert.Equal(t, schemas.DecisionRepair, decoded.Decision)
	assert.Len(t, decoded.Report.AttemptOutcomes, 2)
}

func TestMarkdownReporter_RendersSummaryAndPatch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.md")
	r, err := New("markdown", path)
	require.NoError(t, err)

	require.NoError(t, r.Write(sampleResult()))
	require.NoError(t, r.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)

	assert.Contains(t, out, "# Repair Report: ticket-42")
	assert.Contains(t, out, "| Decision | repair |")
	assert.Contains(t, out, "- attempt 0: fail")
	assert.Contains(t, out, "- attempt 1: pass")
	assert.Contains(t, out, "```diff")
	assert.Contains(t, out, "+x = 2")
}

func TestMarkdownReporter_OmitsPatchSectionWhenEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.md")
	r, err := New("md", path)
	require.NoError(t, err)

	result := sampleResult()
	result.FinalPatch = ""
	result.Report.RecommendRebuild = true

	require.NoError(t, r.Write(result))
	require.NoError(t, r.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "## Final Patch")
	assert.Contains(t, string(raw), "| Recommend rebuild | true |")
}
