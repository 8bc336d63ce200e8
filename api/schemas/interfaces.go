package schemas

import (
	"context"
	"time"
)

// GenerationOptions tune a single LLM call.
type GenerationOptions struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	ForceJSON   bool    `json:"force_json,omitempty"`
}

// GenerationRequest is one prompt sent to the generation model.
type GenerationRequest struct {
	System  string            `json:"system,omitempty"`
	Prompt  string            `json:"prompt"`
	Options GenerationOptions `json:"options"`
}

// LLMClient abstracts the generation backend. Implementations must honor
// context cancellation and return the raw completion text; parsing into a
// ProposedPatch is the caller's concern.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// SandboxRunner executes one build+test cycle against an isolated workspace.
// The workspace is a directory the runner may read but must not modify; all
// execution happens in a throwaway copy or container. A non-nil error means
// the cycle itself could not run, not that the tests failed.
type SandboxRunner interface {
	BuildAndTest(ctx context.Context, workspace string, spec SandboxSpec, timeout time.Duration) (ExecReport, error)
}

// HistoryStore is the append-only outcome log behind the adaptive success
// estimate. Record never rewrites prior events; Adjustment returns 0 when a
// category has fewer than the configured minimum number of samples.
type HistoryStore interface {
	Record(ctx context.Context, rec HistoryRecord) error
	Adjustment(ctx context.Context, category ProblemCategory) (float64, error)
	Stats(ctx context.Context) ([]CategoryStats, error)
	Close() error
}

// RebuildEstimator supplies the rebuild-cost side of the decision inequality.
// Implementations must return a strictly positive value for any input.
type RebuildEstimator interface {
	EstimateRebuildCost(sourceRoot string, metrics RepairMetrics) float64
}
