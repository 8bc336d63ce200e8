// internal/orchestrator/orchestrator.go
// Package orchestrator drives one repair ticket end to end: triage metrics,
// the repair/rebuild decision, workspace extraction, the bounded fix loop,
// and artifact/history persistence. Components are injected via interfaces.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
	"github.com/xkilldash9x/coval-cli/internal/mre"
	"github.com/xkilldash9x/coval-cli/internal/validation"
)

// MetricsCollector produces the triage snapshot for a ticket.
type MetricsCollector interface {
	Collect(ctx context.Context, sourceRoot string, report schemas.ErrorReport, testPath string, profile schemas.ModelProfile) schemas.RepairMetrics
}

// DecisionEvaluator is the pure cost model.
type DecisionEvaluator interface {
	Evaluate(metrics schemas.RepairMetrics, rebuildCost float64) schemas.DecisionResult
	Borderline(result schemas.DecisionResult) bool
}

// WorkspaceBuilder extracts the minimal reproducible example for a ticket.
type WorkspaceBuilder interface {
	Build(report schemas.ErrorReport, sourceRoot, testPath, destDir string) (schemas.SandboxSpec, error)
}

// FixRunner executes the bounded generate/validate loop against a workspace.
type FixRunner interface {
	Run(ctx context.Context, ticket *schemas.RepairTicket, workspace string, spec schemas.SandboxSpec) (*schemas.FixAttempt, error)
}

// Request describes one repair job as submitted by the CLI.
type Request struct {
	ErrorText     string
	SourceRoot    string
	TestPath      string
	Profile       schemas.ModelProfile
	MaxIterations int
}

// Orchestrator owns the per-ticket state machine. The only state shared
// between concurrently running tickets is the history store, which is safe
// for concurrent appends.
type Orchestrator struct {
	cfg       config.Interface
	logger    *zap.Logger
	collector MetricsCollector
	model     DecisionEvaluator
	estimator schemas.RebuildEstimator
	builder   WorkspaceBuilder
	fixLoop   FixRunner
	history   schemas.HistoryStore
}

// New wires an Orchestrator from fully configured components.
func New(
	cfg config.Interface,
	logger *zap.Logger,
	collector MetricsCollector,
	model DecisionEvaluator,
	estimator schemas.RebuildEstimator,
	builder WorkspaceBuilder,
	fixLoop FixRunner,
	history schemas.HistoryStore,
) (*Orchestrator, error) {
	if cfg == nil || logger == nil || collector == nil || model == nil ||
		estimator == nil || builder == nil || fixLoop == nil || history == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger.Named("Orchestrator"),
		collector: collector,
		model:     model,
		estimator: estimator,
		builder:   builder,
		fixLoop:   fixLoop,
		history:   history,
	}, nil
}

// Run executes one ticket. The returned result is always structured, also on
// failure paths; the error is reserved for infrastructure problems that
// prevented the ticket from producing a result at all.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*schemas.RepairResult, error) {
	report := mre.ParseErrorReport(req.ErrorText)
	ticket := &schemas.RepairTicket{
		TicketID:      uuid.NewString(),
		ErrorReport:   report,
		SourceRoot:    req.SourceRoot,
		TestPath:      req.TestPath,
		ModelProfile:  req.Profile,
		MaxIterations: req.MaxIterations,
		CreatedAt:     time.Now().UTC(),
	}
	logger := o.logger.With(zap.String("ticket_id", ticket.TicketID))
	logger.Info("Ticket opened",
		zap.String("category", string(report.Category)),
		zap.String("model", req.Profile.ID),
	)

	artifacts, err := newArtifactWriter(filepath.Join(o.cfg.Engine().ArtifactDir, ticket.TicketID), logger)
	if err != nil {
		return nil, err
	}

	metrics := o.collector.Collect(ctx, req.SourceRoot, report, req.TestPath, req.Profile)
	rebuildCost := o.estimator.EstimateRebuildCost(req.SourceRoot, metrics)
	decision := o.model.Evaluate(metrics, rebuildCost)
	if err := artifacts.writeDecision(metrics, decision); err != nil {
		return nil, err
	}

	if decision.Decision == schemas.DecisionRebuild {
		result := o.finalize(ticket, metrics, decision, nil, true, false)
		logger.Info("Ticket closed without repair attempt",
			zap.String("decision", string(decision.Decision)),
			zap.Float64("cost_ratio", decision.CostRatio),
		)
		if err := artifacts.writeReport(*result); err != nil {
			return nil, err
		}
		return result, nil
	}

	workspace := filepath.Join(o.cfg.Engine().ArtifactDir, ticket.TicketID, "mre")
	spec, err := o.builder.Build(report, req.SourceRoot, req.TestPath, workspace)
	if err != nil {
		return nil, fmt.Errorf("build workspace: %w", err)
	}

	passing, loopErr := o.fixLoop.Run(ctx, ticket, workspace, spec)
	for _, attempt := range ticket.Attempts {
		if err := artifacts.writeAttempt(attempt); err != nil {
			logger.Warn("Attempt artifact could not be persisted", zap.Int("attempt", attempt.Index), zap.Error(err))
		}
	}
	if loopErr != nil {
		return nil, fmt.Errorf("fix loop aborted: %w", loopErr)
	}

	success := passing != nil
	if err := o.history.Record(ctx, schemas.HistoryRecord{
		Category:  report.Category,
		Model:     req.Profile.ID,
		Success:   success,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		logger.Warn("History record could not be persisted", zap.Error(err))
	}

	result := o.finalize(ticket, metrics, decision, passing, false, spec.ContextDegraded)
	if success {
		if result.FinalPatch == "" && len(passing.Patch.Files) > 0 {
			if diff, diffErr := validation.SynthesizeDiff(workspace, passing.Patch.Files); diffErr == nil {
				result.FinalPatch = diff
			}
		}
		if err := artifacts.writeFinalPatch(result.FinalPatch); err != nil {
			logger.Warn("Final patch could not be persisted", zap.Error(err))
		}
	}
	if err := artifacts.writeReport(*result); err != nil {
		return nil, err
	}

	logger.Info("Ticket closed",
		zap.Bool("success", success),
		zap.Int("iterations_used", len(ticket.Attempts)),
		zap.Bool("recommend_rebuild", result.Report.RecommendRebuild),
	)
	return result, nil
}

// RunAll executes multiple tickets with bounded parallelism. Results keep the
// order of the requests; a nil slot marks a ticket that failed outright.
func (o *Orchestrator) RunAll(ctx context.Context, reqs []Request) ([]*schemas.RepairResult, error) {
	results := make([]*schemas.RepairResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	limit := o.cfg.Engine().WorkerConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			result, err := o.Run(gctx, req)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// finalize assembles the terminal result for a ticket.
func (o *Orchestrator) finalize(
	ticket *schemas.RepairTicket,
	metrics schemas.RepairMetrics,
	decision schemas.DecisionResult,
	passing *schemas.FixAttempt,
	rebuildDecided bool,
	contextDegraded bool,
) *schemas.RepairResult {
	outcomes := make([]schemas.AttemptOutcome, 0, len(ticket.Attempts))
	for _, attempt := range ticket.Attempts {
		outcomes = append(outcomes, attempt.Outcome)
	}

	success := passing != nil
	recommendRebuild := rebuildDecided
	if !rebuildDecided && !success && o.model.Borderline(decision) {
		recommendRebuild = true
	}

	result := &schemas.RepairResult{
		TicketID:       ticket.TicketID,
		Decision:       decision.Decision,
		Success:        success,
		IterationsUsed: len(ticket.Attempts),
		Report: schemas.RepairReport{
			Summary:          summarize(decision, success, rebuildDecided, len(ticket.Attempts)),
			Metrics:          metrics,
			DecisionAnalysis: decision,
			AttemptOutcomes:  outcomes,
			RecommendRebuild: recommendRebuild,
			ContextDegraded:  contextDegraded || metrics.Degraded,
		},
	}
	if success {
		result.FinalPatch = passing.Patch.Diff
	}
	return result
}

func summarize(decision schemas.DecisionResult, success, rebuildDecided bool, attempts int) string {
	switch {
	case rebuildDecided:
		return fmt.Sprintf("rebuild recommended without a repair attempt (%s)",
			strings.Join(decision.Reasoning, "; "))
	case success:
		return fmt.Sprintf("repair validated after %d attempt(s)", attempts)
	default:
		return fmt.Sprintf("repair failed: iteration budget exhausted after %d attempt(s)", attempts)
	}
}
