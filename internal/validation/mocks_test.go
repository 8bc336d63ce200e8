// internal/validation/mocks_test.go
package validation

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

type mockSandboxRunner struct {
	mock.Mock
}

func (m *mockSandboxRunner) BuildAndTest(ctx context.Context, workspace string, spec schemas.SandboxSpec, timeout time.Duration) (schemas.ExecReport, error) {
	args := m.Called(ctx, workspace, spec, timeout)
	return args.Get(0).(schemas.ExecReport), args.Error(1)
}
