// internal/metrics/category.go
package metrics

import (
	"strings"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

// categoryRule is one ordered entry of the keyword taxonomy. Order matters:
// specific failure classes are checked before generic runtime noise.
type categoryRule struct {
	category schemas.ProblemCategory
	keywords []string
}

var categoryRules = []categoryRule{
	{schemas.CategorySyntaxError, []string{
		"syntaxerror", "invalid syntax", "unexpected token", "syntax error",
		"expected ';'", "unexpected eof",
	}},
	{schemas.CategoryImportError, []string{
		"modulenotfounderror", "importerror", "no module named",
		"cannot find module", "cannot find package", "undefined reference",
		"unresolved import",
	}},
	{schemas.CategoryTypeError, []string{
		"typeerror", "attributeerror", "type mismatch", "incompatible type",
		"cannot use", "is not a function",
	}},
	{schemas.CategoryDependencyConflict, []string{
		"dependency conflict", "version conflict", "requirement", "pip install",
		"npm err", "incompatible versions", "resolutionimpossible",
	}},
	{schemas.CategoryTimeout, []string{
		"timeout", "timed out", "deadline exceeded",
	}},
	{schemas.CategoryTestFailure, []string{
		"assertionerror", "assertion failed", "test failed", "--- fail",
		"failures=", "expected but got",
	}},
	{schemas.CategoryRuntimeException, []string{
		"traceback", "panic:", "exception", "runtimeerror", "segmentation fault",
		"nil pointer", "nullpointerexception", "keyerror", "indexerror",
		"zerodivisionerror", "error:",
	}},
}

// Categorize maps raw error text onto the closed problem taxonomy. Text that
// matches no rule is CategoryUnknown.
func Categorize(errorText string) schemas.ProblemCategory {
	lower := strings.ToLower(errorText)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return schemas.CategoryUnknown
}
