// internal/metrics/calculator.go

// Package metrics performs the triage analysis of a failing source tree: a
// technical debt score, a test coverage estimate, an available-context score,
// and a dynamic model capability estimate, bundled into a RepairMetrics
// snapshot for the decision model.
package metrics

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/coval-cli/api/schemas"
	"github.com/xkilldash9x/coval-cli/internal/config"
)

// baselineTokens is the token/context window size above which a model earns
// capability bonuses.
const baselineTokens = 8192

// duplicateWindow is the minimum run of normalized lines treated as a
// duplicated block.
const duplicateWindow = 6

var sourceExtensions = map[string]bool{
	".py": true, ".go": true, ".js": true, ".ts": true, ".jsx": true,
	".tsx": true, ".java": true, ".rb": true, ".rs": true, ".c": true,
	".cc": true, ".cpp": true, ".h": true, ".cs": true, ".php": true,
}

var manifestNames = []string{
	"requirements.txt", "pyproject.toml", "setup.py", "package.json",
	"go.mod", "Cargo.toml", "pom.xml", "Gemfile",
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "__pycache__": true,
	".venv": true, "venv": true, "dist": true, "build": true,
}

// Calculator derives RepairMetrics from a source tree, an error report, and a
// model profile. It is stateless apart from its injected collaborators.
type Calculator struct {
	cfg     config.MetricsConfig
	weights schemas.CalibrationWeights
	history schemas.HistoryStore
	logger  *zap.Logger
}

// NewCalculator builds a Calculator. history may be nil, in which case the
// historical term is neutral.
func NewCalculator(cfg config.MetricsConfig, weights schemas.CalibrationWeights, history schemas.HistoryStore, logger *zap.Logger) *Calculator {
	return &Calculator{
		cfg:     cfg,
		weights: weights,
		history: history,
		logger:  logger.Named("metrics"),
	}
}

// Collect runs the triage analysis. An unreadable source tree degrades to
// zero-valued metrics with the Degraded flag set; it never returns an error
// because the decision model must still produce an answer.
func (c *Calculator) Collect(ctx context.Context, sourceRoot string, report schemas.ErrorReport, testPath string, profile schemas.ModelProfile) schemas.RepairMetrics {
	m := schemas.RepairMetrics{
		ProblemCategory: report.Category,
		Weights:         c.weights,
	}

	files, err := listSourceFiles(sourceRoot)
	if err != nil || len(files) == 0 {
		c.logger.Warn("Source tree unreadable or empty, degrading metrics",
			zap.String("source_root", sourceRoot), zap.Error(err))
		m.Degraded = true
		m.ModelCapability = c.capability(profile, 0)
		return m
	}

	adjustment := c.historyAdjustment(ctx, report.Category)

	m.TechnicalDebt = technicalDebt(files)
	m.TestCoverage = testCoverage(files, testPath, report)
	m.AvailableContext = availableContext(sourceRoot, report, testPath)
	m.ModelCapability = c.capability(profile, adjustment)
	m.HistoricalSuccessRate = clamp(0.5+adjustment, 0, 1)

	c.logger.Info("Triage metrics computed",
		zap.Float64("technical_debt", m.TechnicalDebt),
		zap.Float64("test_coverage", m.TestCoverage),
		zap.Float64("available_context", m.AvailableContext),
		zap.Float64("model_capability", m.ModelCapability),
		zap.Float64("historical_success_rate", m.HistoricalSuccessRate),
		zap.String("problem_category", string(m.ProblemCategory)),
	)
	return m
}

// historyAdjustment asks the store for the centered adjustment term for the
// category. Untrusted or unavailable history is neutral (0).
func (c *Calculator) historyAdjustment(ctx context.Context, category schemas.ProblemCategory) float64 {
	if c.history == nil {
		return 0
	}
	adj, err := c.history.Adjustment(ctx, category)
	if err != nil {
		c.logger.Warn("Could not load repair history", zap.Error(err))
		return 0
	}
	return adj
}

// capability computes the dynamic model capability estimate: the profile's
// base score plus linear token/context bonuses above the 8192 baseline, minus
// a temperature penalty, plus the weighted historical adjustment.
func (c *Calculator) capability(profile schemas.ModelProfile, adjustment float64) float64 {
	tokenBonus := float64(max(0, profile.MaxTokens-baselineTokens)) * c.cfg.TokenBonusMultiplier
	contextBonus := float64(max(0, profile.ContextWindow-baselineTokens)) * c.cfg.ContextBonusMultiplier
	tempPenalty := profile.Temperature * c.cfg.TemperaturePenalty
	historyBonus := c.cfg.HistoryWeight * adjustment

	capability := profile.BaseCapability + tokenBonus + contextBonus - tempPenalty + historyBonus
	return clamp(capability, 0, c.cfg.MaxCapability)
}

// technicalDebt scores the tree on debt markers, branching density,
// documentation absence, and duplicated blocks, clamped to [0,100].
func technicalDebt(files []string) float64 {
	debt := 0.0
	windowCounts := make(map[string]int)

	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		text := string(content)
		lower := strings.ToLower(text)

		// Deferred-work markers are direct debt.
		debt += float64(strings.Count(lower, "todo")) * 0.5
		debt += float64(strings.Count(lower, "fixme")) * 1.0
		debt += float64(strings.Count(lower, "hack")) * 1.5

		lines := strings.Split(text, "\n")
		debt += branchingPenalty(lines)
		debt += docAbsencePenalty(lines)
		collectWindows(lines, windowCounts)
	}

	debt += duplicationPenalty(windowCounts)
	return clamp(debt, 0, 100)
}

var branchTokens = []string{
	"if ", "if(", "for ", "for(", "while ", "while(", "case ", "switch",
	"elif ", "except", "catch", "rescue",
}

// branchingPenalty penalizes files whose control-flow density is high.
func branchingPenalty(lines []string) float64 {
	if len(lines) == 0 {
		return 0
	}
	branches := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, tok := range branchTokens {
			if strings.HasPrefix(trimmed, tok) {
				branches++
				break
			}
		}
	}
	density := float64(branches) / float64(len(lines))
	if density > 0.15 {
		return 2.0
	}
	return 0
}

var declTokens = []string{"def ", "func ", "class ", "function ", "public "}

// docAbsencePenalty charges for public declarations with no adjacent comment.
func docAbsencePenalty(lines []string) float64 {
	total := 0
	undocumented := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		decl := false
		for _, tok := range declTokens {
			if strings.HasPrefix(trimmed, tok) {
				decl = true
				break
			}
		}
		if !decl {
			continue
		}
		// Private (underscore or lowercase Go) symbols are exempt; keep the
		// heuristic cheap and language-agnostic by checking underscores only.
		name := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(trimmed, "def "), "func "))
		if strings.HasPrefix(name, "_") {
			continue
		}
		total++
		if i == 0 || !isCommentLine(strings.TrimSpace(lines[i-1])) {
			undocumented++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(undocumented) / float64(total)
}

func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "//") ||
		strings.HasPrefix(line, "*") ||
		strings.HasPrefix(line, "/*") ||
		strings.HasPrefix(line, `"""`) ||
		strings.HasPrefix(line, "'''")
}

// collectWindows hashes normalized sliding windows of lines into counts so
// duplicated blocks can be detected across the whole tree.
func collectWindows(lines []string, counts map[string]int) {
	normalized := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isCommentLine(trimmed) {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	for i := 0; i+duplicateWindow <= len(normalized); i++ {
		key := strings.Join(normalized[i:i+duplicateWindow], "\n")
		counts[key]++
	}
}

// duplicationPenalty charges for every repeated window, capped so pathological
// repetition cannot dominate the score.
func duplicationPenalty(counts map[string]int) float64 {
	dupes := 0
	for _, n := range counts {
		if n > 1 {
			dupes += n - 1
		}
	}
	return clamp(float64(dupes)*0.1, 0, 20)
}

// testCoverage estimates coverage from the test-to-source file ratio, boosted
// when the supplied test references symbols implicated in the error.
func testCoverage(files []string, testPath string, report schemas.ErrorReport) float64 {
	if testPath == "" {
		return 0
	}
	if _, err := os.Stat(testPath); err != nil {
		return 0
	}

	sourceCount := 0
	testCount := 0
	for _, f := range files {
		if isTestFile(filepath.Base(f)) {
			testCount++
		} else {
			sourceCount++
		}
	}
	if sourceCount == 0 {
		return 0
	}

	coverage := clamp(float64(testCount)/float64(sourceCount), 0, 1)

	if testReferencesError(testPath, report) {
		coverage += 0.15
	}
	return clamp(coverage, 0, 1)
}

// testReferencesError reports whether the test mentions any implicated file's
// base name, a cheap proxy for "the failing code is exercised".
func testReferencesError(testPath string, report schemas.ErrorReport) bool {
	if len(report.ReferencedPaths) == 0 {
		return false
	}
	f, err := os.Open(testPath)
	if err != nil {
		return false
	}
	defer f.Close()

	stems := make([]string, 0, len(report.ReferencedPaths))
	for _, p := range report.ReferencedPaths {
		base := filepath.Base(p)
		stems = append(stems, strings.TrimSuffix(base, filepath.Ext(base)))
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for _, stem := range stems {
			if stem != "" && strings.Contains(line, stem) {
				return true
			}
		}
	}
	return false
}

// availableContext is a weighted presence check over the diagnostic material
// a repair attempt can draw on.
func availableContext(sourceRoot string, report schemas.ErrorReport, testPath string) float64 {
	score := 0.0
	if report.TraceParseable {
		score += 0.3
	}
	if testPath != "" {
		if _, err := os.Stat(testPath); err == nil {
			score += 0.2
		}
	}
	if hasManifest(sourceRoot) {
		score += 0.2
	}
	if hasDocs(sourceRoot) {
		score += 0.15
	}
	if hasRecognizedLayout(sourceRoot) {
		score += 0.15
	}
	return clamp(score, 0, 1)
}

func hasManifest(root string) bool {
	for _, name := range manifestNames {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return true
		}
	}
	return false
}

func hasDocs(root string) bool {
	for _, name := range []string{"README.md", "README.rst", "README", "docs"} {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return true
		}
	}
	return false
}

func hasRecognizedLayout(root string) bool {
	for _, name := range []string{"src", "lib", "app", "internal", "tests", "test", "pkg", "cmd"} {
		if info, err := os.Stat(filepath.Join(root, name)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// listSourceFiles walks the tree collecting recognized source files, skipping
// VCS and dependency directories.
func listSourceFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if sourceExtensions[filepath.Ext(d.Name())] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func isTestFile(name string) bool {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.HasPrefix(name, "test_") ||
		strings.HasSuffix(stem, "_test") ||
		strings.HasSuffix(stem, ".test") ||
		strings.HasSuffix(stem, ".spec")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
