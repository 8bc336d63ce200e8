// internal/fixloop/prompts.go
package fixloop

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

const (
	// Bounds on how much workspace source is inlined into a prompt.
	maxPromptFiles     = 12
	maxFileBytes       = 32 * 1024
	maxFailureOutBytes = 8 * 1024
)

const systemPrompt = `You are an expert software engineer specialized in debugging and minimal corrective patches.
You are given a failing workspace: the error output, the implicated source files, and the test that must pass.
Fix the root cause with the smallest change that makes the test pass. Do not refactor unrelated code.
Your response must be strict JSON with this shape:
{
  "analysis": "root cause analysis",
  "explanation": "what the fix changes and why it is sufficient",
  "patch": "unified diff (git diff format, paths prefixed a/ and b/)",
  "files": {"relative/path": "full replacement content"},
  "regression_risk": "low|medium|high with a one-line justification"
}
Prefer "patch". Use "files" only when a diff cannot express the change. At least one of the two must be non-empty.`

// initialPrompt is the attempt-0 template: full analysis of the error plus
// numbered source excerpts from the workspace.
func initialPrompt(report schemas.ErrorReport, workspace string, spec schemas.SandboxSpec) string {
	var b strings.Builder
	b.WriteString("A ")
	if spec.Language != "" && spec.Language != "unknown" {
		b.WriteString(spec.Language + " ")
	}
	b.WriteString("project is failing. Analyze the error and generate a fix.\n\n")

	fmt.Fprintf(&b, "**Problem category:** %s\n\n", report.Category)
	b.WriteString("**Error output:**\n```\n")
	b.WriteString(strings.TrimSpace(report.Raw))
	b.WriteString("\n```\n\n")

	writeSourceExcerpts(&b, workspace)

	if len(spec.TestCmd) > 0 {
		fmt.Fprintf(&b, "**Validation command:** `%s`\n\n", strings.Join(spec.TestCmd, " "))
	}
	b.WriteString("Respond with the strict JSON object described in the system instructions. ")
	b.WriteString("The patch must apply cleanly against the file contents shown above.\n")
	return b.String()
}

// retryPrompt is the template for attempts after the first failure: it shows
// the prior patch and its failure output and demands a different approach.
func retryPrompt(report schemas.ErrorReport, workspace string, spec schemas.SandboxSpec, prior schemas.FixAttempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A previous fix attempt (attempt %d) did not resolve the failure. Take a different approach.\n\n", prior.Index+1)

	b.WriteString("**Original error output:**\n```\n")
	b.WriteString(strings.TrimSpace(report.Raw))
	b.WriteString("\n```\n\n")

	if !prior.Patch.Empty() {
		b.WriteString("**Previous patch (did not work):**\n```diff\n")
		b.WriteString(strings.TrimSpace(describePatch(prior.Patch)))
		b.WriteString("\n```\n\n")
	}
	if failure := describeFailure(prior); failure != "" {
		b.WriteString("**Result of the previous attempt:**\n```\n")
		b.WriteString(failure)
		b.WriteString("\n```\n\n")
	}

	writeSourceExcerpts(&b, workspace)

	b.WriteString("Do not repeat the previous strategy. Reconsider the root cause: if the prior patch ")
	b.WriteString("treated a symptom, address the underlying defect instead. ")
	b.WriteString("Respond with the strict JSON object described in the system instructions.\n")
	return b.String()
}

func describePatch(patch schemas.ProposedPatch) string {
	if patch.Diff != "" {
		return patch.Diff
	}
	paths := make([]string, 0, len(patch.Files))
	for p := range patch.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return "full-file replacement of: " + strings.Join(paths, ", ")
}

func describeFailure(attempt schemas.FixAttempt) string {
	if attempt.Validation == nil {
		return truncate(attempt.Reason, maxFailureOutBytes)
	}
	v := attempt.Validation
	var parts []string
	switch {
	case !v.Applied:
		parts = append(parts, "the patch did not apply to the workspace")
	case !v.BuildSucceeded:
		parts = append(parts, "the build failed after applying the patch")
	case v.TimedOut:
		parts = append(parts, "the test run timed out")
	default:
		parts = append(parts, "the tests still failed")
	}
	if v.Stderr != "" {
		parts = append(parts, "stderr:\n"+truncate(v.Stderr, maxFailureOutBytes))
	}
	if v.Stdout != "" {
		parts = append(parts, "stdout:\n"+truncate(v.Stdout, maxFailureOutBytes))
	}
	return strings.Join(parts, "\n")
}

// writeSourceExcerpts inlines the workspace source files with line numbers so
// generated diffs line up with real content.
func writeSourceExcerpts(b *strings.Builder, workspace string) {
	files := listWorkspaceSources(workspace)
	if len(files) == 0 {
		return
	}
	b.WriteString("**Workspace files:**\n\n")
	for _, rel := range files {
		content, err := os.ReadFile(filepath.Join(workspace, rel))
		if err != nil || len(content) > maxFileBytes {
			continue
		}
		fmt.Fprintf(b, "`%s`:\n```\n%s```\n\n", rel, numberLines(string(content)))
	}
}

func listWorkspaceSources(workspace string) []string {
	var files []string
	_ = filepath.WalkDir(workspace, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == "error.log" || name == "sandbox.yaml" {
			return nil
		}
		rel, relErr := filepath.Rel(workspace, p)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	if len(files) > maxPromptFiles {
		files = files[:maxPromptFiles]
	}
	return files
}

func numberLines(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%4d: %s\n", i+1, line)
	}
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}
