// internal/sandbox/process.go
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

// ProcessRunner executes the test command directly on the host, with no
// container isolation. Intended for trusted local workspaces and environments
// without a docker daemon.
type ProcessRunner struct {
	logger *zap.Logger
}

var _ schemas.SandboxRunner = (*ProcessRunner)(nil)

func NewProcessRunner(logger *zap.Logger) *ProcessRunner {
	return &ProcessRunner{logger: logger.Named("ProcessRunner")}
}

// BuildAndTest runs the descriptor's test command in the workspace. There is
// no separate build phase: compiled languages build as part of their test
// command.
func (r *ProcessRunner) BuildAndTest(ctx context.Context, workspace string, spec schemas.SandboxSpec, timeout time.Duration) (schemas.ExecReport, error) {
	if len(spec.TestCmd) == 0 {
		return schemas.ExecReport{}, fmt.Errorf("sandbox descriptor carries no test command")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, spec.TestCmd[0], spec.TestCmd[1:]...)
	cmd.Dir = workspace
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	report := schemas.ExecReport{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if runCtx.Err() == context.DeadlineExceeded {
		report.TimedOut = true
		report.ExitCode = -1
		return report, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			report.ExitCode = exitErr.ExitCode()
		} else {
			// Command never started: missing interpreter counts as a build
			// failure of the workspace, not an infrastructure error.
			report.ExitCode = -1
			report.BuildFailed = true
			report.Stderr = strings.TrimSpace(report.Stderr + "\n" + err.Error())
		}
	}

	r.logger.Info("Process cycle finished",
		zap.String("workspace", workspace),
		zap.Int("exit_code", report.ExitCode),
		zap.Bool("timed_out", report.TimedOut),
	)
	return report, nil
}

// New selects the runner for the configured backend.
func New(cfg config.SandboxConfig, logger *zap.Logger) (schemas.SandboxRunner, error) {
	switch cfg.Backend {
	case "docker":
		return NewDockerRunner(cfg, logger)
	case "process":
		return NewProcessRunner(logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}
