// internal/mre/trace.go
// Package mre builds minimal reproducible examples: it parses an error report
// for the source files it implicates and assembles a self-contained workspace
// holding those files, their direct neighbors, and a sandbox descriptor.
package mre

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/metrics"
)

// Regex definitions for the trace formats we understand.
var (
	// Python traceback frames: File "app/main.py", line 12, in <module>
	pythonFrameRegex = regexp.MustCompile(`File "([^"]+)", line \d+`)
	// Go panic / test output locations: \tapp/server.go:42 +0x1d
	goLocationRegex = regexp.MustCompile(`(?m)^\s*([\w@./\\~-]+\.go):\d+`)
	// Generic path:line references emitted by compilers and linters.
	genericLocationRegex = regexp.MustCompile(`([\w@./\\-]+\.(?:py|pyi|js|jsx|ts|tsx|go|rb|java|rs|c|h|cc|cpp|hpp)):\d+`)
)

// ParseErrorReport extracts the source paths an error text implicates and
// categorizes the failure. It never fails: text with no recognizable trace
// yields a report with TraceParseable=false and no referenced paths.
func ParseErrorReport(raw string) schemas.ErrorReport {
	report := schemas.ErrorReport{
		Raw:      raw,
		Category: metrics.Categorize(raw),
	}

	seen := make(map[string]struct{})
	addPath := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" || isForeignPath(path) {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		report.ReferencedPaths = append(report.ReferencedPaths, path)
	}

	for _, m := range pythonFrameRegex.FindAllStringSubmatch(raw, -1) {
		addPath(m[1])
	}
	for _, m := range goLocationRegex.FindAllStringSubmatch(raw, -1) {
		addPath(m[1])
	}
	for _, m := range genericLocationRegex.FindAllStringSubmatch(raw, -1) {
		addPath(m[1])
	}

	report.TraceParseable = len(report.ReferencedPaths) > 0
	return report
}

// isForeignPath filters frames from interpreters, runtimes, and installed
// dependencies. Those files exist outside the repair scope.
func isForeignPath(path string) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, marker := range []string{
		"site-packages/",
		"dist-packages/",
		"/usr/lib/",
		"/usr/local/lib/",
		"go/src/runtime/",
		"node_modules/",
		"<frozen",
	} {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}
