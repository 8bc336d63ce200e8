// internal/validation/runner.go
// Package validation turns a proposed patch into a verdict: it applies the
// patch to a throwaway copy of the ticket workspace and runs the sandboxed
// build+test cycle there. The original workspace is never modified, so every
// attempt starts from the same state.
package validation

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

// Runner implements fixloop.Validator on top of a SandboxRunner.
type Runner struct {
	cfg     config.SandboxConfig
	sandbox schemas.SandboxRunner
	logger  *zap.Logger
}

func NewRunner(cfg config.SandboxConfig, sandbox schemas.SandboxRunner, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		sandbox: sandbox,
		logger:  logger.Named("ValidationRunner"),
	}
}

// Validate applies the patch to a fresh copy of workspace and runs the
// sandbox against the copy. A patch that fails to apply short-circuits with
// Applied=false and never reaches the sandbox. The returned error is reserved
// for infrastructure failures (unreadable workspace, canceled context).
func (r *Runner) Validate(ctx context.Context, workspace string, spec schemas.SandboxSpec, patch schemas.ProposedPatch, attempt int) (schemas.ValidationResult, error) {
	if patch.Empty() {
		return schemas.ValidationResult{}, nil
	}

	attemptDir, err := os.MkdirTemp(filepath.Dir(workspace), fmt.Sprintf("attempt-%03d-", attempt))
	if err != nil {
		return schemas.ValidationResult{}, fmt.Errorf("create attempt workspace: %w", err)
	}

	result := schemas.ValidationResult{}
	keep := false
	defer func() {
		if keep && r.cfg.KeepWorkspaceOnFailure {
			r.logger.Info("Keeping failed attempt workspace for inspection", zap.String("dir", attemptDir))
			return
		}
		if err := os.RemoveAll(attemptDir); err != nil {
			r.logger.Warn("Attempt workspace cleanup failed", zap.String("dir", attemptDir), zap.Error(err))
		}
	}()

	if err := cloneWorkspace(workspace, attemptDir); err != nil {
		return schemas.ValidationResult{}, fmt.Errorf("copy workspace: %w", err)
	}

	if _, err := applyPatch(ctx, attemptDir, patch); err != nil {
		if ctx.Err() != nil {
			return schemas.ValidationResult{}, fmt.Errorf("patch application canceled: %w", ctx.Err())
		}
		r.logger.Warn("Patch did not apply", zap.Int("attempt", attempt), zap.Error(err))
		result.Stderr = err.Error()
		keep = true
		return result, nil
	}
	result.Applied = true

	report, err := r.sandbox.BuildAndTest(ctx, attemptDir, spec, r.cfg.Timeout)
	if err != nil {
		return schemas.ValidationResult{}, fmt.Errorf("sandbox cycle failed to run: %w", err)
	}

	result.BuildSucceeded = !report.BuildFailed
	result.TestsPassed = result.BuildSucceeded && !report.TimedOut && report.ExitCode == 0
	result.Stdout = report.Stdout
	result.Stderr = report.Stderr
	result.Duration = report.Duration
	result.TimedOut = report.TimedOut
	if report.TimedOut && !strings.Contains(strings.ToLower(result.Stderr), "timeout") {
		result.Stderr = strings.TrimSpace(result.Stderr + "\nvalidation aborted: timeout after " + r.cfg.Timeout.String())
	}

	keep = !result.Passed()
	r.logger.Info("Validation cycle finished",
		zap.Int("attempt", attempt),
		zap.Bool("applied", result.Applied),
		zap.Bool("build_succeeded", result.BuildSucceeded),
		zap.Bool("tests_passed", result.TestsPassed),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// cloneWorkspace clones a workspace tree. Symlinks are skipped: an MRE is built
// from regular file copies, so none are expected.
func cloneWorkspace(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
