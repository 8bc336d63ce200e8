// Package schemas defines the shared data model for the repair engine: the
// metrics that feed the repair/rebuild decision, the per-ticket audit trail,
// and the contracts of the external collaborators (LLM, sandbox, history).
package schemas

import "time"

// Decision is the outcome of the cost model: attempt a repair of the existing
// code, or recommend rebuilding it from scratch.
type Decision string

const (
	DecisionRepair  Decision = "repair"
	DecisionRebuild Decision = "rebuild"
)

// ProblemCategory classifies an error report against a fixed taxonomy. The
// history store aggregates outcomes per category, so the set is closed.
type ProblemCategory string

const (
	CategoryImportError        ProblemCategory = "import_error"
	CategoryTypeError          ProblemCategory = "type_error"
	CategorySyntaxError        ProblemCategory = "syntax_error"
	CategoryRuntimeException   ProblemCategory = "runtime_exception"
	CategoryTestFailure        ProblemCategory = "test_failure"
	CategoryDependencyConflict ProblemCategory = "dependency_conflict"
	CategoryTimeout            ProblemCategory = "timeout"
	CategoryUnknown            ProblemCategory = "unknown"
)

// AllCategories lists every member of the taxonomy, in a stable order.
var AllCategories = []ProblemCategory{
	CategoryImportError,
	CategoryTypeError,
	CategorySyntaxError,
	CategoryRuntimeException,
	CategoryTestFailure,
	CategoryDependencyConflict,
	CategoryTimeout,
	CategoryUnknown,
}

// CalibrationWeights are the tunable constants of the cost and probability
// formulas. They are configuration-supplied and snapshotted into each
// RepairMetrics so a persisted decision can be reproduced later.
type CalibrationWeights struct {
	Gamma      float64 `json:"gamma"`       // overall repair cost scale
	Lambda     float64 `json:"lambda"`      // penalty for missing test coverage
	Alpha      float64 `json:"alpha"`       // context weight in the probability logit
	Beta       float64 `json:"beta"`        // coverage weight in the probability logit
	GammaPrime float64 `json:"gamma_prime"` // capability weight in the probability logit
	Delta      float64 `json:"delta"`       // normalized-debt weight in the probability logit
	Eta        float64 `json:"eta"`         // historical success weight in the probability logit
}

// RepairMetrics is the immutable triage snapshot for one repair attempt.
// All fields except TechnicalDebt are normalized to [0,1]; TechnicalDebt is
// normalized to [0,100].
type RepairMetrics struct {
	TechnicalDebt         float64            `json:"technical_debt"`
	TestCoverage          float64            `json:"test_coverage"`
	AvailableContext      float64            `json:"available_context"`
	ModelCapability       float64            `json:"model_capability"`
	HistoricalSuccessRate float64            `json:"historical_success_rate"`
	ProblemCategory       ProblemCategory    `json:"problem_category"`
	Weights               CalibrationWeights `json:"weights"`

	// Degraded is set when the source tree or error report could not be read
	// and the metrics fell back to zero values. The decision model still
	// produces an answer, flagged as low confidence.
	Degraded bool `json:"degraded,omitempty"`
}

// DecisionResult captures one evaluation of the cost model. It is produced
// once per ticket and never mutated; a re-triage produces a new value.
type DecisionResult struct {
	RepairCost         float64  `json:"repair_cost"`
	RebuildCost        float64  `json:"rebuild_cost"`
	CostRatio          float64  `json:"cost_ratio"`
	SuccessProbability float64  `json:"success_probability"`
	Decision           Decision `json:"decision"`

	// LowConfidence marks results where a denominator had to be clamped to
	// epsilon or the input metrics were degraded.
	LowConfidence bool     `json:"low_confidence,omitempty"`
	Reasoning     []string `json:"reasoning,omitempty"`
}

// ErrorReport is the parsed form of the raw error/crash text handed to the
// engine.
type ErrorReport struct {
	Raw             string          `json:"raw"`
	ReferencedPaths []string        `json:"referenced_paths,omitempty"`
	Category        ProblemCategory `json:"category"`
	TraceParseable  bool            `json:"trace_parseable"`
}

// ModelProfile describes the generation model used for a ticket. Profiles
// live in a closed configuration table keyed by a typed identifier, with a
// required fallback entry.
type ModelProfile struct {
	ID             string  `json:"id"`
	Provider       string  `json:"provider"`
	BaseCapability float64 `json:"base_capability"`
	MaxTokens      int     `json:"max_tokens"`
	ContextWindow  int     `json:"context_window"`
	Temperature    float64 `json:"temperature"`
}

// RepairTicket identifies one repair session and owns its audit trail. The
// attempt list is append-only; the fix loop never discards evidence.
type RepairTicket struct {
	TicketID      string       `json:"ticket_id"`
	ErrorReport   ErrorReport  `json:"error_report"`
	SourceRoot    string       `json:"source_root"`
	TestPath      string       `json:"test_path,omitempty"`
	ModelProfile  ModelProfile `json:"model_profile"`
	MaxIterations int          `json:"max_iterations"`
	CreatedAt     time.Time    `json:"created_at"`
	Attempts      []FixAttempt `json:"attempts"`
}

// AttemptOutcome is the terminal state of a single fix attempt.
type AttemptOutcome string

const (
	OutcomePass  AttemptOutcome = "pass"
	OutcomeFail  AttemptOutcome = "fail"
	OutcomeError AttemptOutcome = "error"
)

// ProposedPatch is the structured payload parsed from a generation response.
// Either Diff (unified diff) or Files (full-file replacements) may be
// populated; Files takes effect when Diff is empty.
type ProposedPatch struct {
	Analysis       string            `json:"analysis,omitempty"`
	Explanation    string            `json:"explanation,omitempty"`
	Diff           string            `json:"patch,omitempty"`
	Files          map[string]string `json:"files,omitempty"`
	RegressionRisk string            `json:"regression_risk,omitempty"`
}

// Empty reports whether the patch carries no applicable change.
func (p ProposedPatch) Empty() bool {
	return p.Diff == "" && len(p.Files) == 0
}

// FixAttempt records one iteration of the fix loop.
type FixAttempt struct {
	Index      int               `json:"index"`
	Prompt     string            `json:"prompt"`
	Patch      ProposedPatch     `json:"patch"`
	Validation *ValidationResult `json:"validation,omitempty"`
	Outcome    AttemptOutcome    `json:"outcome"`

	// Reason explains FAIL/ERROR outcomes that never reached validation,
	// e.g. an unparsable generation response or a collaborator timeout.
	Reason string `json:"reason,omitempty"`
}

// ValidationResult is the interpreted outcome of one sandboxed build+test
// cycle. Produced once per attempt; immutable.
type ValidationResult struct {
	Applied        bool          `json:"applied"`
	BuildSucceeded bool          `json:"build_succeeded"`
	TestsPassed    bool          `json:"tests_passed"`
	Stdout         string        `json:"stdout,omitempty"`
	Stderr         string        `json:"stderr,omitempty"`
	Duration       time.Duration `json:"duration"`
	TimedOut       bool          `json:"timed_out,omitempty"`
}

// Passed reports whether the attempt fully succeeded.
func (v ValidationResult) Passed() bool {
	return v.Applied && v.BuildSucceeded && v.TestsPassed
}

// HistoryRecord is one append-only outcome event consumed by the adaptive
// history store.
type HistoryRecord struct {
	Category  ProblemCategory `json:"problem_category"`
	Model     string          `json:"model_used"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
}

// CategoryStats aggregates the event log for one problem category.
type CategoryStats struct {
	Category ProblemCategory `json:"category"`
	Total    int             `json:"total"`
	Success  int             `json:"success"`
}

// RepairReport is the human-oriented summary embedded in a RepairResult.
type RepairReport struct {
	Summary          string           `json:"summary"`
	Metrics          RepairMetrics    `json:"metrics"`
	DecisionAnalysis DecisionResult   `json:"decision_analysis"`
	AttemptOutcomes  []AttemptOutcome `json:"attempt_outcomes"`
	RecommendRebuild bool             `json:"recommend_rebuild,omitempty"`
	ContextDegraded  bool             `json:"context_degraded,omitempty"`
}

// RepairResult is the terminal artifact of one ticket. Created once when the
// orchestrator finishes; never mutated afterward.
type RepairResult struct {
	TicketID       string       `json:"ticket_id"`
	Decision       Decision     `json:"decision"`
	Success        bool         `json:"success"`
	FinalPatch     string       `json:"final_patch,omitempty"`
	IterationsUsed int          `json:"iterations_used"`
	Report         RepairReport `json:"report"`
}

// ExecReport is the raw outcome of one isolated build+test cycle as returned
// by the sandbox collaborator.
type ExecReport struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`

	// BuildFailed distinguishes an image/compile failure from a test failure.
	BuildFailed bool `json:"build_failed,omitempty"`
	// TimedOut is set when the cycle was killed by its deadline.
	TimedOut bool `json:"timed_out,omitempty"`
}

// SandboxSpec is the descriptor the MRE builder writes alongside an extracted
// workspace so the sandbox can build it without the original source root.
type SandboxSpec struct {
	Language  string   `yaml:"language" json:"language"`
	Framework string   `yaml:"framework" json:"framework"`
	Manifests []string `yaml:"manifests,omitempty" json:"manifests,omitempty"`
	TestCmd   []string `yaml:"test_cmd,omitempty" json:"test_cmd,omitempty"`

	// ContextDegraded is set when the builder could not resolve any files
	// from the error report and fell back to a bounded full-tree copy.
	ContextDegraded bool `yaml:"context_degraded,omitempty" json:"context_degraded,omitempty"`
}
