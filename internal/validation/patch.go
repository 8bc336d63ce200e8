// internal/validation/patch.go
package validation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

// applyPatch applies a proposed patch to the workspace copy. Unified diffs go
// through git apply; when only a full-file map is present, the files are
// written directly and a unified diff is synthesized for the audit trail.
// The returned string is the effective diff in both cases.
func applyPatch(ctx context.Context, workspace string, patch schemas.ProposedPatch) (string, error) {
	if patch.Diff != "" {
		if err := gitApply(ctx, workspace, patch.Diff); err != nil {
			return "", err
		}
		return patch.Diff, nil
	}
	if len(patch.Files) == 0 {
		return "", fmt.Errorf("patch carries neither a diff nor file contents")
	}
	return applyFileMap(workspace, patch.Files)
}

func gitApply(ctx context.Context, workspace, diff string) error {
	if !strings.HasSuffix(diff, "\n") {
		diff += "\n"
	}
	cmd := exec.CommandContext(ctx, "git", "apply", "--ignore-whitespace", "-")
	cmd.Dir = workspace
	cmd.Stdin = strings.NewReader(diff)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git apply failed: %w. Output: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// applyFileMap writes full replacement files and returns a synthesized
// unified diff describing what changed.
func applyFileMap(workspace string, files map[string]string) (string, error) {
	combined, err := SynthesizeDiff(workspace, files)
	if err != nil {
		return "", err
	}
	for rel, after := range files {
		target := filepath.Join(workspace, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", fmt.Errorf("create directory for %s: %w", rel, err)
		}
		if err := os.WriteFile(target, []byte(after), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return combined, nil
}

// SynthesizeDiff computes the unified diff a full-file replacement map would
// produce against the current workspace content, without writing anything.
// Used for the audit trail when a generation response carries file contents
// instead of a diff.
func SynthesizeDiff(workspace string, files map[string]string) (string, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var combined strings.Builder
	for _, rel := range paths {
		if err := validateRelPath(rel); err != nil {
			return "", err
		}
		var before string
		if data, err := os.ReadFile(filepath.Join(workspace, filepath.FromSlash(rel))); err == nil {
			before = string(data)
		}
		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(before),
			B:        difflib.SplitLines(files[rel]),
			FromFile: "a/" + rel,
			ToFile:   "b/" + rel,
			Context:  3,
		})
		if err != nil {
			return "", fmt.Errorf("synthesize diff for %s: %w", rel, err)
		}
		combined.WriteString(diff)
	}
	return combined.String(), nil
}

// validateRelPath rejects paths that would escape the workspace.
func validateRelPath(rel string) error {
	if rel == "" || filepath.IsAbs(rel) {
		return fmt.Errorf("invalid patch path %q", rel)
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("patch path %q escapes the workspace", rel)
	}
	return nil
}
