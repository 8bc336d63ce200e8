// internal/mre/builder.go
package mre

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

const (
	errorLogName   = "error.log"
	descriptorName = "sandbox.yaml"
)

// manifestNames are the build/dependency manifests copied alongside the code
// so the sandbox can install what the snippet needs.
var manifestNames = []string{
	"requirements.txt", "pyproject.toml", "setup.py", "Pipfile",
	"package.json", "package-lock.json",
	"go.mod", "go.sum",
	"Cargo.toml", "Makefile",
}

// Language-specific import statements, scanned to pull in direct neighbors of
// the files the trace implicates.
var (
	pythonImportRegex = regexp.MustCompile(`(?m)^\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
	jsImportRegex     = regexp.MustCompile(`(?m)(?:import\s+[^'"]*?from\s*|require\(\s*)['"](\.{1,2}/[^'"]+)['"]`)
	goImportRegex     = regexp.MustCompile(`(?m)^\s*(?:[\w.]+\s+)?"([\w./-]+)"`)
)

// Builder assembles a minimal reproducible example under a destination
// directory: the implicated files, their direct import neighbors, the
// project manifests, the raw error log, and a sandbox descriptor.
type Builder struct {
	cfg    config.MREConfig
	logger *zap.Logger
}

func NewBuilder(cfg config.MREConfig, logger *zap.Logger) *Builder {
	return &Builder{cfg: cfg, logger: logger.Named("MREBuilder")}
}

// Build populates destDir with a self-contained workspace for the reported
// error. When no referenced file resolves against the source root it falls
// back to a size-bounded copy of the whole tree and flags the descriptor as
// context-degraded.
func (b *Builder) Build(report schemas.ErrorReport, sourceRoot, testPath, destDir string) (schemas.SandboxSpec, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return schemas.SandboxSpec{}, fmt.Errorf("create mre directory: %w", err)
	}

	resolved := b.resolveReferenced(report.ReferencedPaths, sourceRoot)
	for depth := 0; depth < b.cfg.NeighborDepth; depth++ {
		resolved = b.expandNeighbors(resolved, sourceRoot)
	}

	spec := schemas.SandboxSpec{}
	var copied []string
	if len(resolved) > 0 {
		for _, rel := range sortedKeys(resolved) {
			if b.cfg.MaxFiles > 0 && len(copied) >= b.cfg.MaxFiles {
				break
			}
			if err := copyIntoWorkspace(sourceRoot, rel, destDir); err != nil {
				b.logger.Warn("Skipping unreadable referenced file", zap.String("path", rel), zap.Error(err))
				continue
			}
			copied = append(copied, rel)
		}
	}
	if len(copied) == 0 {
		fallback, err := b.copyFullTree(sourceRoot, destDir)
		if err != nil {
			return schemas.SandboxSpec{}, err
		}
		copied = fallback
		spec.ContextDegraded = true
		b.logger.Warn("No referenced files resolved, fell back to bounded full-tree copy",
			zap.Int("files", len(copied)))
	}

	if testPath != "" {
		if rel, err := b.copyTestFile(sourceRoot, testPath, destDir); err != nil {
			b.logger.Warn("Test file could not be copied into workspace", zap.Error(err))
		} else {
			copied = append(copied, rel)
		}
	}

	spec.Manifests = b.copyManifests(sourceRoot, destDir)
	spec.Language = detectLanguage(copied)
	spec.Framework = detectFramework(spec.Language, spec.Manifests, destDir)
	spec.TestCmd = defaultTestCmd(spec.Language, testPath, sourceRoot)

	if err := os.WriteFile(filepath.Join(destDir, errorLogName), []byte(report.Raw), 0o644); err != nil {
		return schemas.SandboxSpec{}, fmt.Errorf("write error log: %w", err)
	}
	if err := writeDescriptor(destDir, spec); err != nil {
		return schemas.SandboxSpec{}, err
	}

	b.logger.Info("Built minimal reproducible example",
		zap.String("dest", destDir),
		zap.String("language", spec.Language),
		zap.Int("files", len(copied)),
		zap.Bool("context_degraded", spec.ContextDegraded),
	)
	return spec, nil
}

// resolveReferenced maps trace paths onto files that actually exist under the
// source root. Paths are tried as given, relative to the root, and finally by
// basename search.
func (b *Builder) resolveReferenced(paths []string, sourceRoot string) map[string]struct{} {
	resolved := make(map[string]struct{})
	for _, p := range paths {
		if rel, ok := resolveOne(p, sourceRoot); ok {
			resolved[rel] = struct{}{}
		}
	}
	return resolved
}

func resolveOne(path, sourceRoot string) (string, bool) {
	path = filepath.ToSlash(path)

	// Absolute paths from a trace may already point inside the root.
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(sourceRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
			if fileExists(filepath.Join(sourceRoot, rel)) {
				return filepath.ToSlash(rel), true
			}
		}
		path = filepath.Base(path)
	}

	if fileExists(filepath.Join(sourceRoot, path)) {
		return path, true
	}

	// Basename search, first match wins.
	base := filepath.Base(path)
	var found string
	_ = filepath.WalkDir(sourceRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return filepath.SkipAll
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == base {
			if rel, relErr := filepath.Rel(sourceRoot, p); relErr == nil {
				found = filepath.ToSlash(rel)
			}
			return filepath.SkipAll
		}
		return nil
	})
	return found, found != ""
}

// expandNeighbors adds files directly imported by the already-resolved set.
func (b *Builder) expandNeighbors(resolved map[string]struct{}, sourceRoot string) map[string]struct{} {
	out := make(map[string]struct{}, len(resolved))
	for rel := range resolved {
		out[rel] = struct{}{}
	}
	for rel := range resolved {
		content, err := os.ReadFile(filepath.Join(sourceRoot, rel))
		if err != nil {
			continue
		}
		for _, neighbor := range importedFiles(rel, string(content), sourceRoot) {
			out[neighbor] = struct{}{}
		}
	}
	return out
}

func importedFiles(rel, content, sourceRoot string) []string {
	var neighbors []string
	add := func(candidate string) {
		candidate = filepath.ToSlash(candidate)
		if fileExists(filepath.Join(sourceRoot, candidate)) {
			neighbors = append(neighbors, candidate)
		}
	}

	dir := filepath.ToSlash(filepath.Dir(rel))
	switch filepath.Ext(rel) {
	case ".py", ".pyi":
		for _, m := range pythonImportRegex.FindAllStringSubmatch(content, -1) {
			module := m[1]
			if module == "" {
				module = m[2]
			}
			modulePath := strings.ReplaceAll(module, ".", "/")
			for _, candidate := range []string{
				modulePath + ".py",
				modulePath + "/__init__.py",
				filepath.Join(dir, filepath.Base(modulePath)+".py"),
			} {
				add(candidate)
			}
		}
	case ".js", ".jsx", ".ts", ".tsx":
		for _, m := range jsImportRegex.FindAllStringSubmatch(content, -1) {
			target := filepath.Join(dir, m[1])
			if filepath.Ext(target) != "" {
				add(target)
				continue
			}
			for _, ext := range []string{".ts", ".tsx", ".js", ".jsx"} {
				add(target + ext)
			}
			add(filepath.Join(target, "index.js"))
			add(filepath.Join(target, "index.ts"))
		}
	case ".go":
		for _, m := range goImportRegex.FindAllStringSubmatch(content, -1) {
			for _, pkgDir := range goImportCandidates(m[1]) {
				addGoPackage(pkgDir, sourceRoot, add)
			}
		}
	}
	return neighbors
}

// goImportCandidates turns an import path into directory suffixes to probe
// under the source root. Module-qualified paths have the domain element
// stripped so "example.com/app/internal/db" tries "app/internal/db",
// "internal/db", and "db".
func goImportCandidates(importPath string) []string {
	parts := strings.Split(importPath, "/")
	if len(parts) > 0 && strings.Contains(parts[0], ".") {
		parts = parts[1:]
	}
	var candidates []string
	for i := 0; i < len(parts); i++ {
		candidates = append(candidates, strings.Join(parts[i:], "/"))
	}
	return candidates
}

func addGoPackage(pkgDir, sourceRoot string, add func(string)) {
	entries, err := os.ReadDir(filepath.Join(sourceRoot, pkgDir))
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
			continue
		}
		add(filepath.Join(pkgDir, name))
	}
}

// copyFullTree is the degraded path: copy everything under the root, bounded
// by the configured file count and byte budget.
func (b *Builder) copyFullTree(sourceRoot, destDir string) ([]string, error) {
	var copied []string
	var totalBytes int64
	err := filepath.WalkDir(sourceRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if b.cfg.MaxFiles > 0 && len(copied) >= b.cfg.MaxFiles {
			return filepath.SkipAll
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if b.cfg.FallbackMaxBytes > 0 && totalBytes+info.Size() > b.cfg.FallbackMaxBytes {
			return nil
		}
		rel, relErr := filepath.Rel(sourceRoot, p)
		if relErr != nil {
			return nil
		}
		if copyErr := copyIntoWorkspace(sourceRoot, rel, destDir); copyErr != nil {
			return nil
		}
		totalBytes += info.Size()
		copied = append(copied, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source tree: %w", err)
	}
	if len(copied) == 0 {
		return nil, fmt.Errorf("source tree %q has no copyable files", sourceRoot)
	}
	return copied, nil
}

func (b *Builder) copyTestFile(sourceRoot, testPath, destDir string) (string, error) {
	rel := testPath
	if filepath.IsAbs(testPath) {
		r, err := filepath.Rel(sourceRoot, testPath)
		if err != nil || strings.HasPrefix(r, "..") {
			// Test lives outside the tree: place it at the workspace root.
			rel = filepath.Base(testPath)
			data, readErr := os.ReadFile(testPath)
			if readErr != nil {
				return "", fmt.Errorf("read test file: %w", readErr)
			}
			if writeErr := os.WriteFile(filepath.Join(destDir, rel), data, 0o644); writeErr != nil {
				return "", fmt.Errorf("write test file: %w", writeErr)
			}
			return rel, nil
		}
		rel = r
	}
	if err := copyIntoWorkspace(sourceRoot, rel, destDir); err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (b *Builder) copyManifests(sourceRoot, destDir string) []string {
	var manifests []string
	for _, name := range manifestNames {
		if !fileExists(filepath.Join(sourceRoot, name)) {
			continue
		}
		if err := copyIntoWorkspace(sourceRoot, name, destDir); err != nil {
			b.logger.Warn("Manifest could not be copied", zap.String("name", name), zap.Error(err))
			continue
		}
		manifests = append(manifests, name)
	}
	return manifests
}

// detectLanguage runs an extension census over the copied files.
func detectLanguage(files []string) string {
	counts := map[string]int{}
	for _, f := range files {
		switch filepath.Ext(f) {
		case ".py", ".pyi":
			counts["python"]++
		case ".go":
			counts["go"]++
		case ".js", ".jsx", ".ts", ".tsx":
			counts["node"]++
		}
	}
	best, bestCount := "unknown", 0
	for lang, n := range counts {
		if n > bestCount || (n == bestCount && lang < best) {
			best, bestCount = lang, n
		}
	}
	if bestCount == 0 {
		return "unknown"
	}
	return best
}

// detectFramework sniffs the copied manifests for well-known frameworks.
func detectFramework(language string, manifests []string, destDir string) string {
	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(destDir, name))
		if err != nil {
			return ""
		}
		return strings.ToLower(string(data))
	}
	switch language {
	case "python":
		for _, name := range []string{"requirements.txt", "pyproject.toml", "Pipfile", "setup.py"} {
			if !contains(manifests, name) {
				continue
			}
			content := read(name)
			for _, fw := range []string{"django", "flask", "fastapi"} {
				if strings.Contains(content, fw) {
					return fw
				}
			}
		}
	case "node":
		if contains(manifests, "package.json") {
			content := read("package.json")
			for _, fw := range []string{"express", "next", "react"} {
				if strings.Contains(content, `"`+fw+`"`) {
					return fw
				}
			}
		}
	}
	return ""
}

func defaultTestCmd(language, testPath, sourceRoot string) []string {
	switch language {
	case "python":
		if testPath != "" {
			rel := testPath
			if filepath.IsAbs(testPath) {
				if r, err := filepath.Rel(sourceRoot, testPath); err == nil && !strings.HasPrefix(r, "..") {
					rel = r
				} else {
					rel = filepath.Base(testPath)
				}
			}
			return []string{"python", "-m", "pytest", filepath.ToSlash(rel), "-v"}
		}
		return []string{"python", "-m", "pytest", "-v"}
	case "go":
		return []string{"go", "test", "./..."}
	case "node":
		return []string{"npm", "test"}
	default:
		return nil
	}
}

func writeDescriptor(destDir string, spec schemas.SandboxSpec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("marshal sandbox descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, descriptorName), data, 0o644); err != nil {
		return fmt.Errorf("write sandbox descriptor: %w", err)
	}
	return nil
}

// ReadDescriptor loads the sandbox.yaml written by Build from a workspace.
func ReadDescriptor(dir string) (schemas.SandboxSpec, error) {
	data, err := os.ReadFile(filepath.Join(dir, descriptorName))
	if err != nil {
		return schemas.SandboxSpec{}, fmt.Errorf("read sandbox descriptor: %w", err)
	}
	var spec schemas.SandboxSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return schemas.SandboxSpec{}, fmt.Errorf("parse sandbox descriptor: %w", err)
	}
	return spec, nil
}

func copyIntoWorkspace(sourceRoot, rel, destDir string) error {
	src := filepath.Join(sourceRoot, rel)
	dst := filepath.Join(destDir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rel, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", rel, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", rel, err)
	}
	return nil
}

func skipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", "__pycache__", ".venv", "dist", "build":
		return true
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
