// internal/decision/estimator.go
package decision

import (
	"math"
	"os"
	"path/filepath"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

// ScopeEstimator is the default schemas.RebuildEstimator: a fixed baseline
// scaled by the size of the tree that would have to be rewritten, discounted
// when plenty of diagnostic context would carry over into a rebuild.
type ScopeEstimator struct {
	baseCost float64
}

// NewScopeEstimator builds the default estimator around a baseline cost.
func NewScopeEstimator(baseCost float64) *ScopeEstimator {
	if baseCost <= 0 {
		baseCost = 100.0
	}
	return &ScopeEstimator{baseCost: baseCost}
}

// EstimateRebuildCost always returns a strictly positive value, including for
// unreadable trees, honoring the estimator contract.
func (e *ScopeEstimator) EstimateRebuildCost(sourceRoot string, metrics schemas.RepairMetrics) float64 {
	files := countFiles(sourceRoot)

	scope := 0.5 + math.Sqrt(float64(files))/10
	contextDiscount := 1 - metrics.AvailableContext*0.5

	cost := e.baseCost * scope * contextDiscount
	return math.Max(cost, 1.0)
}

func countFiles(root string) int {
	count := 0
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "node_modules", "vendor", "__pycache__", ".venv":
				return filepath.SkipDir
			}
			return nil
		}
		count++
		return nil
	})
	return count
}

var _ schemas.RebuildEstimator = (*ScopeEstimator)(nil)
