// internal/orchestrator/artifacts.go
package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

// artifactWriter persists the append-only audit trail of one ticket:
//
//	<dir>/decision.json
//	<dir>/attempt_NNN/{prompt.txt,response.json,validation.json}
//	<dir>/final.patch
//	<dir>/report.json
//
// Artifacts are written once and never rewritten.
type artifactWriter struct {
	dir    string
	logger *zap.Logger
}

func newArtifactWriter(dir string, logger *zap.Logger) (*artifactWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ticket artifact directory: %w", err)
	}
	return &artifactWriter{dir: dir, logger: logger}, nil
}

func (w *artifactWriter) writeDecision(metrics schemas.RepairMetrics, result schemas.DecisionResult) error {
	payload := struct {
		Metrics  schemas.RepairMetrics  `json:"metrics"`
		Decision schemas.DecisionResult `json:"decision"`
	}{metrics, result}
	return w.writeJSON("decision.json", payload)
}

func (w *artifactWriter) writeAttempt(attempt schemas.FixAttempt) error {
	dir := filepath.Join(w.dir, fmt.Sprintf("attempt_%03d", attempt.Index))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create attempt directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "prompt.txt"), []byte(attempt.Prompt), 0o644); err != nil {
		return fmt.Errorf("write prompt: %w", err)
	}
	response := struct {
		Patch   schemas.ProposedPatch  `json:"patch"`
		Outcome schemas.AttemptOutcome `json:"outcome"`
		Reason  string                 `json:"reason,omitempty"`
	}{attempt.Patch, attempt.Outcome, attempt.Reason}
	if err := w.writeJSONAt(dir, "response.json", response); err != nil {
		return err
	}
	if attempt.Validation != nil {
		if err := w.writeJSONAt(dir, "validation.json", attempt.Validation); err != nil {
			return err
		}
	}
	return nil
}

func (w *artifactWriter) writeFinalPatch(diff string) error {
	if diff == "" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(w.dir, "final.patch"), []byte(diff), 0o644); err != nil {
		return fmt.Errorf("write final patch: %w", err)
	}
	return nil
}

func (w *artifactWriter) writeReport(result schemas.RepairResult) error {
	return w.writeJSON("report.json", result)
}

func (w *artifactWriter) writeJSON(name string, payload any) error {
	return w.writeJSONAt(w.dir, name, payload)
}

func (w *artifactWriter) writeJSONAt(dir, name string, payload any) error {
	data, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
