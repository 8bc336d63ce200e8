// internal/validation/patch_test.go
package validation

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func TestGitApply_ValidDiff(t *testing.T) {
	t.Parallel()
	requireGit(t)

	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "app.py"),
		[]byte("for i in range(n - 1):\n    process(i)\n"), 0o644))

	diff := "--- a/app.py\n+++ b/app.py\n@@ -1,2 +1,2 @@\n-for i in range(n - 1):\n+for i in range(n):\n     process(i)\n"
	applied, err := applyPatch(context.Background(), workspace, schemas.ProposedPatch{Diff: diff})
	require.NoError(t, err)
	assert.Equal(t, diff, applied)

	content, err := os.ReadFile(filepath.Join(workspace, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "for i in range(n):\n    process(i)\n", string(content))
}

func TestGitApply_MalformedDiff(t *testing.T) {
	t.Parallel()
	requireGit(t)

	workspace := t.TempDir()
	_, err := applyPatch(context.Background(), workspace, schemas.ProposedPatch{Diff: "this is not a diff"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git apply failed")
}

func TestApplyFileMap_WritesAndSynthesizesDiff(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "app.py"), []byte("x = 1\n"), 0o644))

	patch := schemas.ProposedPatch{Files: map[string]string{
		"app.py":       "x = 2\n",
		"lib/extra.py": "y = 3\n",
	}}
	diff, err := applyPatch(context.Background(), workspace, patch)
	require.NoError(t, err)

	assert.Contains(t, diff, "--- a/app.py")
	assert.Contains(t, diff, "+++ b/app.py")
	assert.Contains(t, diff, "-x = 1")
	assert.Contains(t, diff, "+x = 2")
	assert.Contains(t, diff, "+++ b/lib/extra.py")

	content, err := os.ReadFile(filepath.Join(workspace, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 2\n", string(content))
	assert.FileExists(t, filepath.Join(workspace, "lib", "extra.py"))
}

func TestApplyPatch_EmptyPatch(t *testing.T) {
	t.Parallel()

	_, err := applyPatch(context.Background(), t.TempDir(), schemas.ProposedPatch{})
	assert.Error(t, err)
}

func TestApplyFileMap_RejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"../evil.py", "/etc/passwd", "a/../../evil.py", ""} {
		patch := schemas.ProposedPatch{Files: map[string]string{path: "pwned"}}
		_, err := applyPatch(context.Background(), t.TempDir(), patch)
		assert.Error(t, err, "path %q must be rejected", path)
	}
}

func TestSynthesizeDiff_DoesNotWrite(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "app.py"), []byte("x = 1\n"), 0o644))

	diff, err := SynthesizeDiff(workspace, map[string]string{"app.py": "x = 2\n"})
	require.NoError(t, err)
	assert.Contains(t, diff, "+x = 2")

	content, err := os.ReadFile(filepath.Join(workspace, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(content))
}
