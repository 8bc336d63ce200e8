// internal/fixloop/mocks_test.go
package fixloop

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

type mockLLMClient struct {
	mock.Mock
}

func (m *mockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) Validate(ctx context.Context, workspace string, spec schemas.SandboxSpec, patch schemas.ProposedPatch, attempt int) (schemas.ValidationResult, error) {
	args := m.Called(ctx, workspace, spec, patch, attempt)
	return args.Get(0).(schemas.ValidationResult), args.Error(1)
}
