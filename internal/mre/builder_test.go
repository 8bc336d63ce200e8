// internal/mre/builder_test.go
package mre

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

func defaultMREConfig() config.MREConfig {
	return config.MREConfig{
		NeighborDepth:    1,
		FallbackMaxBytes: 2 << 20,
		MaxFiles:         200,
	}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestBuild_ReferencedFilesAndNeighbors(t *testing.T) {
	t.Parallel()

	source := t.TempDir()
	writeTree(t, source, map[string]string{
		"a.py":             "from b import run\n\nrun()\n",
		"b.py":             "import c\n\ndef run():\n    return c.value\n",
		"c.py":             "value = 1\n",
		"d.py":             "unrelated = True\n",
		"requirements.txt": "flask==3.0.0\npytest\n",
	})

	raw := `Traceback (most recent call last):
  File "a.py", line 3, in <module>
  File "b.py", line 4, in run
TypeError: bad operand`
	report := ParseErrorReport(raw)
	dest := filepath.Join(t.TempDir(), "mre")

	builder := NewBuilder(defaultMREConfig(), zaptest.NewLogger(t))
	spec, err := builder.Build(report, source, "", dest)
	require.NoError(t, err)

	// Referenced files plus b's direct import, nothing else.
	assert.FileExists(t, filepath.Join(dest, "a.py"))
	assert.FileExists(t, filepath.Join(dest, "b.py"))
	assert.FileExists(t, filepath.Join(dest, "c.py"))
	assert.NoFileExists(t, filepath.Join(dest, "d.py"))

	assert.FileExists(t, filepath.Join(dest, "error.log"))
	assert.FileExists(t, filepath.Join(dest, "sandbox.yaml"))
	assert.FileExists(t, filepath.Join(dest, "requirements.txt"))

	assert.Equal(t, "python", spec.Language)
	assert.Equal(t, "flask", spec.Framework)
	assert.Equal(t, []string{"requirements.txt"}, spec.Manifests)
	assert.Equal(t, []string{"python", "-m", "pytest", "-v"}, spec.TestCmd)
	assert.False(t, spec.ContextDegraded)

	logged, err := os.ReadFile(filepath.Join(dest, "error.log"))
	require.NoError(t, err)
	assert.Equal(t, raw, string(logged))
}

func TestBuild_TestFileIncludedInCommand(t *testing.T) {
	t.Parallel()

	source := t.TempDir()
	writeTree(t, source, map[string]string{
		"app.py":            "x = 1\n",
		"tests/test_app.py": "def test_x():\n    assert True\n",
	})

	report := ParseErrorReport(`File "app.py", line 1, in <module>\nValueError: boom`)
	dest := filepath.Join(t.TempDir(), "mre")

	builder := NewBuilder(defaultMREConfig(), zaptest.NewLogger(t))
	spec, err := builder.Build(report, source, "tests/test_app.py", dest)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dest, "tests", "test_app.py"))
	assert.Equal(t, []string{"python", "-m", "pytest", "tests/test_app.py", "-v"}, spec.TestCmd)
}

func TestBuild_FallbackFullTreeCopy(t *testing.T) {
	t.Parallel()

	source := t.TempDir()
	writeTree(t, source, map[string]string{
		"main.go":          "package main\n",
		"helper.go":        "package main\n",
		"go.mod":           "module example.com/app\n",
		".git/config":      "noise\n",
		"vendor/x/file.go": "package x\n",
	})

	// No path the trace parser can resolve.
	report := ParseErrorReport("deploy failed: exit status 2")
	dest := filepath.Join(t.TempDir(), "mre")

	builder := NewBuilder(defaultMREConfig(), zaptest.NewLogger(t))
	spec, err := builder.Build(report, source, "", dest)
	require.NoError(t, err)

	assert.True(t, spec.ContextDegraded)
	assert.Equal(t, "go", spec.Language)
	assert.Equal(t, []string{"go", "test", "./..."}, spec.TestCmd)
	assert.FileExists(t, filepath.Join(dest, "main.go"))
	assert.FileExists(t, filepath.Join(dest, "helper.go"))
	assert.NoFileExists(t, filepath.Join(dest, ".git", "config"))
	assert.NoFileExists(t, filepath.Join(dest, "vendor", "x", "file.go"))
}

func TestBuild_FallbackRespectsFileCap(t *testing.T) {
	t.Parallel()

	source := t.TempDir()
	files := map[string]string{}
	for _, name := range []string{"a.py", "b.py", "c.py", "d.py", "e.py"} {
		files[name] = "x = 1\n"
	}
	writeTree(t, source, files)

	cfg := defaultMREConfig()
	cfg.MaxFiles = 2
	report := ParseErrorReport("nothing to see here")
	dest := filepath.Join(t.TempDir(), "mre")

	builder := NewBuilder(cfg, zaptest.NewLogger(t))
	spec, err := builder.Build(report, source, "", dest)
	require.NoError(t, err)
	require.True(t, spec.ContextDegraded)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	var copied int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".py" {
			copied++
		}
	}
	assert.Equal(t, 2, copied)
}

func TestBuild_ResolvesBasenameOnlyReferences(t *testing.T) {
	t.Parallel()

	source := t.TempDir()
	writeTree(t, source, map[string]string{
		"src/deep/nested/service.py": "ok = True\n",
	})

	report := ParseErrorReport(`File "/opt/deploy/src/deep/nested/service.py", line 9, in call
RuntimeError: exploded`)
	dest := filepath.Join(t.TempDir(), "mre")

	builder := NewBuilder(defaultMREConfig(), zaptest.NewLogger(t))
	spec, err := builder.Build(report, source, "", dest)
	require.NoError(t, err)

	assert.False(t, spec.ContextDegraded)
	assert.FileExists(t, filepath.Join(dest, "src", "deep", "nested", "service.py"))
}

func TestReadDescriptor_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	want := schemas.SandboxSpec{
		Language:        "python",
		Framework:       "fastapi",
		Manifests:       []string{"requirements.txt"},
		TestCmd:         []string{"python", "-m", "pytest", "-v"},
		ContextDegraded: true,
	}
	require.NoError(t, writeDescriptor(dir, want))

	got, err := ReadDescriptor(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadDescriptor_Missing(t *testing.T) {
	t.Parallel()

	_, err := ReadDescriptor(t.TempDir())
	assert.Error(t, err)
}
