// internal/orchestrator/mocks_test.go
package orchestrator

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) Collect(ctx context.Context, sourceRoot string, report schemas.ErrorReport, testPath string, profile schemas.ModelProfile) schemas.RepairMetrics {
	args := m.Called(ctx, sourceRoot, report, testPath, profile)
	return args.Get(0).(schemas.RepairMetrics)
}

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Evaluate(metrics schemas.RepairMetrics, rebuildCost float64) schemas.DecisionResult {
	args := m.Called(metrics, rebuildCost)
	return args.Get(0).(schemas.DecisionResult)
}

func (m *mockModel) Borderline(result schemas.DecisionResult) bool {
	args := m.Called(result)
	return args.Bool(0)
}

type mockEstimator struct {
	mock.Mock
}

func (m *mockEstimator) EstimateRebuildCost(sourceRoot string, metrics schemas.RepairMetrics) float64 {
	args := m.Called(sourceRoot, metrics)
	return args.Get(0).(float64)
}

type mockBuilder struct {
	mock.Mock
}

func (m *mockBuilder) Build(report schemas.ErrorReport, sourceRoot, testPath, destDir string) (schemas.SandboxSpec, error) {
	args := m.Called(report, sourceRoot, testPath, destDir)
	return args.Get(0).(schemas.SandboxSpec), args.Error(1)
}

type mockFixRunner struct {
	mock.Mock
}

func (m *mockFixRunner) Run(ctx context.Context, ticket *schemas.RepairTicket, workspace string, spec schemas.SandboxSpec) (*schemas.FixAttempt, error) {
	args := m.Called(ctx, ticket, workspace, spec)
	if attempt := args.Get(0); attempt != nil {
		return attempt.(*schemas.FixAttempt), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockHistoryStore struct {
	mock.Mock
}

func (m *mockHistoryStore) Record(ctx context.Context, rec schemas.HistoryRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockHistoryStore) Adjustment(ctx context.Context, category schemas.ProblemCategory) (float64, error) {
	args := m.Called(ctx, category)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockHistoryStore) Stats(ctx context.Context) ([]schemas.CategoryStats, error) {
	args := m.Called(ctx)
	if stats := args.Get(0); stats != nil {
		return stats.([]schemas.CategoryStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockHistoryStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
