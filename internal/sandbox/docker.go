// internal/sandbox/docker.go
// Package sandbox runs one build+test cycle in an isolated docker container.
// Failures of the code under test come back as non-zero ExecReports; a Go
// error is reserved for the docker CLI itself being unusable.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

// buildTimeout bounds the image build separately from the test run, which
// gets the caller-supplied timeout.
const buildTimeout = 10 * time.Minute

// DockerRunner implements schemas.SandboxRunner on top of the docker CLI.
type DockerRunner struct {
	cfg    config.SandboxConfig
	logger *zap.Logger

	// nameSuffix disambiguates images and containers across instances.
	nameSuffix string
}

var _ schemas.SandboxRunner = (*DockerRunner)(nil)

func NewDockerRunner(cfg config.SandboxConfig, logger *zap.Logger) (*DockerRunner, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker CLI not found in PATH: %w", err)
	}
	return &DockerRunner{
		cfg:        cfg,
		logger:     logger.Named("DockerRunner"),
		nameSuffix: fmt.Sprintf("%d", time.Now().UnixNano()),
	}, nil
}

// BuildAndTest ensures the workspace has a Dockerfile, builds an image from
// it, and runs the test command in a throwaway container. Build or test
// failure is reported through the ExecReport, never through the error.
func (r *DockerRunner) BuildAndTest(ctx context.Context, workspace string, spec schemas.SandboxSpec, timeout time.Duration) (schemas.ExecReport, error) {
	start := time.Now()

	if err := EnsureDockerfile(workspace, spec); err != nil {
		return schemas.ExecReport{}, fmt.Errorf("prepare dockerfile: %w", err)
	}

	imageTag := fmt.Sprintf("coval-sandbox:%s-%s", sanitizeName(filepath.Base(workspace)), r.nameSuffix)
	defer r.removeImage(imageTag)

	buildCtx, cancelBuild := context.WithTimeout(ctx, buildTimeout)
	defer cancelBuild()
	if report, failed := r.runDocker(buildCtx, start, "build", "-t", imageTag, workspace); failed {
		report.BuildFailed = true
		r.logger.Warn("Sandbox image build failed",
			zap.String("image", imageTag),
			zap.Int("exit_code", report.ExitCode),
		)
		return report, nil
	}

	runCtx, cancelRun := context.WithTimeout(ctx, timeout)
	defer cancelRun()
	containerName := fmt.Sprintf("coval-run-%s-%s", sanitizeName(filepath.Base(workspace)), r.nameSuffix)
	defer r.removeContainer(containerName)

	args := []string{"run", "--rm", "--name", containerName, "--network", "none", imageTag}
	args = append(args, spec.TestCmd...)
	report, _ := r.runDocker(runCtx, start, args...)
	if runCtx.Err() == context.DeadlineExceeded {
		report.TimedOut = true
	}

	r.logger.Info("Sandbox cycle finished",
		zap.String("image", imageTag),
		zap.Int("exit_code", report.ExitCode),
		zap.Bool("timed_out", report.TimedOut),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// runDocker executes one docker command, converting exec failures into exit
// codes. The boolean is true when the command did not exit cleanly.
func (r *DockerRunner) runDocker(ctx context.Context, start time.Time, args ...string) (schemas.ExecReport, bool) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	report := schemas.ExecReport{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return report, false
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		report.ExitCode = exitErr.ExitCode()
	} else {
		report.ExitCode = -1
		report.Stderr = strings.TrimSpace(report.Stderr + "\n" + err.Error())
	}
	return report, true
}

func (r *DockerRunner) removeContainer(name string) {
	cmd := exec.Command("docker", "rm", "-f", name)
	if output, err := cmd.CombinedOutput(); err != nil {
		// --rm usually beat us to it.
		r.logger.Debug("Container removal skipped",
			zap.String("container", name),
			zap.String("output", strings.TrimSpace(string(output))),
		)
	}
}

func (r *DockerRunner) removeImage(tag string) {
	cmd := exec.Command("docker", "rmi", "-f", tag)
	if output, err := cmd.CombinedOutput(); err != nil {
		r.logger.Warn("Image removal failed",
			zap.String("image", tag),
			zap.String("output", strings.TrimSpace(string(output))),
		)
	}
}

// EnsureDockerfile writes a default Dockerfile for the detected language if
// the workspace does not already carry one.
func EnsureDockerfile(workspace string, spec schemas.SandboxSpec) error {
	path := filepath.Join(workspace, "Dockerfile")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	content := defaultDockerfile(spec)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write default dockerfile: %w", err)
	}
	return nil
}

func defaultDockerfile(spec schemas.SandboxSpec) string {
	switch spec.Language {
	case "python":
		var b strings.Builder
		b.WriteString("FROM python:3.11-slim\n\nWORKDIR /app\n\n")
		if hasManifest(spec, "requirements.txt") {
			b.WriteString("COPY requirements.txt .\nRUN pip install --no-cache-dir -r requirements.txt\n\n")
		}
		b.WriteString("RUN pip install --no-cache-dir pytest\n\nCOPY . .\n\nCMD [\"python\", \"-m\", \"pytest\", \"-v\"]\n")
		return b.String()
	case "node":
		var b strings.Builder
		b.WriteString("FROM node:20-alpine\n\nWORKDIR /app\n\n")
		if hasManifest(spec, "package.json") {
			b.WriteString("COPY package*.json ./\nRUN npm install\n\n")
		}
		b.WriteString("COPY . .\n\nCMD [\"npm\", \"test\"]\n")
		return b.String()
	case "go":
		return "FROM golang:1.25-alpine\n\nWORKDIR /app\n\nCOPY . .\n\nRUN go mod download || true\n\nCMD [\"go\", \"test\", \"./...\"]\n"
	default:
		return "FROM ubuntu:22.04\n\nWORKDIR /app\n\nCOPY . .\n\nCMD [\"/bin/sh\", \"-c\", \"exit 1\"]\n"
	}
}

func hasManifest(spec schemas.SandboxSpec, name string) bool {
	for _, m := range spec.Manifests {
		if m == name {
			return true
		}
	}
	return false
}

// sanitizeName makes a workspace basename safe for docker object names.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "workspace"
	}
	return b.String()
}
