// internal/decision/model.go

// Package decision implements the repair-vs-rebuild cost model: a pure,
// deterministic mapping from triage metrics to costs, a success probability,
// and a decision.
package decision

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

// epsilon is the denominator clamp guarding against division pathologies when
// capability or context approach zero.
const epsilon = 1e-6

// Model evaluates triage metrics against the calibrated cost formulas. It
// performs no I/O; identical inputs always produce identical results.
type Model struct {
	cfg    config.DecisionConfig
	logger *zap.Logger
}

// NewModel builds a Model from the configured calibration.
func NewModel(cfg config.DecisionConfig, logger *zap.Logger) *Model {
	return &Model{cfg: cfg, logger: logger.Named("decision")}
}

// Evaluate computes repair cost, success probability, and the decision for
// one set of metrics against an externally estimated rebuild cost.
//
// repair_cost = gamma * D * (1/S) * (1/K) * (1 + lambda * (1 - T)), with raw
// (unnormalized) debt so large absolute debt dominates the cost even at high
// capability. Debt is normalized to [0,1] only inside the probability logit.
func (m *Model) Evaluate(metrics schemas.RepairMetrics, rebuildCost float64) schemas.DecisionResult {
	w := metrics.Weights

	lowConfidence := metrics.Degraded

	s := metrics.ModelCapability
	k := metrics.AvailableContext
	if s < epsilon {
		s = epsilon
		lowConfidence = true
	}
	if k < epsilon {
		k = epsilon
		lowConfidence = true
	}
	if rebuildCost <= 0 {
		rebuildCost = epsilon
		lowConfidence = true
	}

	repairCost := w.Gamma * metrics.TechnicalDebt * (1 / s) * (1 / k) * (1 + w.Lambda*(1-metrics.TestCoverage))
	if repairCost < epsilon {
		repairCost = epsilon
	}

	successProb := m.successProbability(metrics)
	costRatio := repairCost / rebuildCost

	decision := schemas.DecisionRepair
	if costRatio > m.cfg.RebuildBias {
		decision = schemas.DecisionRebuild
	}
	if successProb < m.cfg.MinSuccessProbability {
		decision = schemas.DecisionRebuild
	}

	result := schemas.DecisionResult{
		RepairCost:         repairCost,
		RebuildCost:        rebuildCost,
		CostRatio:          costRatio,
		SuccessProbability: successProb,
		Decision:           decision,
		LowConfidence:      lowConfidence,
		Reasoning:          m.reasoning(metrics, repairCost, rebuildCost, costRatio, successProb),
	}

	m.logger.Info("Decision evaluated",
		zap.Float64("repair_cost", repairCost),
		zap.Float64("rebuild_cost", rebuildCost),
		zap.Float64("cost_ratio", costRatio),
		zap.Float64("success_probability", successProb),
		zap.String("decision", string(decision)),
		zap.Bool("low_confidence", lowConfidence),
	)
	return result
}

// Borderline reports whether a REPAIR decision sat close enough to the
// rebuild threshold that an exhausted fix loop should recommend rebuilding.
func (m *Model) Borderline(result schemas.DecisionResult) bool {
	if result.LowConfidence {
		return true
	}
	return result.CostRatio > m.cfg.RebuildBias*0.8
}

// successProbability maps the weighted feature sum through a sigmoid; bounded
// in (0,1) by construction.
func (m *Model) successProbability(metrics schemas.RepairMetrics) float64 {
	w := metrics.Weights
	dNorm := math.Min(metrics.TechnicalDebt/100, 1.0)
	x := w.Alpha*metrics.AvailableContext +
		w.Beta*metrics.TestCoverage +
		w.GammaPrime*metrics.ModelCapability +
		w.Eta*metrics.HistoricalSuccessRate -
		w.Delta*dNorm
	return 1 / (1 + math.Exp(-x))
}

func (m *Model) reasoning(metrics schemas.RepairMetrics, repairCost, rebuildCost, costRatio, successProb float64) []string {
	var reasons []string

	switch {
	case costRatio < 0.8:
		reasons = append(reasons, fmt.Sprintf("repair is significantly cheaper (%.1f vs %.1f)", repairCost, rebuildCost))
	case costRatio > m.cfg.RebuildBias:
		reasons = append(reasons, fmt.Sprintf("repair cost exceeds the rebuild threshold (%.1f > %.1f x %.1f)", repairCost, m.cfg.RebuildBias, rebuildCost))
	default:
		reasons = append(reasons, fmt.Sprintf("costs are comparable (repair: %.1f, rebuild: %.1f)", repairCost, rebuildCost))
	}

	if metrics.TechnicalDebt > 50 {
		reasons = append(reasons, fmt.Sprintf("high technical debt (%.1f) suggests a fresh start", metrics.TechnicalDebt))
	} else if metrics.TechnicalDebt < 20 {
		reasons = append(reasons, fmt.Sprintf("low technical debt (%.1f) supports repair", metrics.TechnicalDebt))
	}

	coveragePct := metrics.TestCoverage * 100
	if coveragePct > 80 {
		reasons = append(reasons, fmt.Sprintf("excellent test coverage (%.0f%%) reduces repair risk", coveragePct))
	} else if coveragePct < 40 {
		reasons = append(reasons, fmt.Sprintf("poor test coverage (%.0f%%) increases repair risk", coveragePct))
	}

	if successProb < m.cfg.MinSuccessProbability {
		reasons = append(reasons, fmt.Sprintf("success probability %.2f is below the %.2f floor, recommending rebuild", successProb, m.cfg.MinSuccessProbability))
	}
	if metrics.Degraded {
		reasons = append(reasons, "triage inputs were degraded, treat this result as low confidence")
	}

	return reasons
}
