// internal/llmutil/parser_test.go
package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleResult struct {
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
}

func TestParseJSONResponse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		input     string
		expectErr bool
		expected  sampleResult
	}{
		{
			name:     "Plain JSON object",
			input:    `{"explanation": "off by one", "confidence": 0.9}`,
			expected: sampleResult{Explanation: "off by one", Confidence: 0.9},
		},
		{
			name:     "Markdown wrapped with json tag",
			input:    "```json\n{\"explanation\": \"bad import\", \"confidence\": 0.8}\n```",
			expected: sampleResult{Explanation: "bad import", Confidence: 0.8},
		},
		{
			name:     "Markdown wrapped without tag",
			input:    "```\n{\"explanation\": \"nil deref\", \"confidence\": 0.7}\n```",
			expected: sampleResult{Explanation: "nil deref", Confidence: 0.7},
		},
		{
			name:     "Embedded in conversational text",
			input:    "Sure, here is my analysis: {\"explanation\": \"race\", \"confidence\": 0.6} hope that helps!",
			expected: sampleResult{Explanation: "race", Confidence: 0.6},
		},
		{
			name:      "No JSON at all",
			input:     "I could not produce a fix.",
			expectErr: true,
		},
		{
			name:      "Malformed JSON",
			input:     `{"explanation": "truncated`,
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := ParseJSONResponse[sampleResult](tc.input)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, *result)
		})
	}
}

func TestParsePatchResponse(t *testing.T) {
	t.Parallel()

	const diff = "--- a/pkg/calc.py\n+++ b/pkg/calc.py\n@@ -1,3 +1,3 @@\n-import maths\n+import math\n"

	t.Run("structured JSON with diff", func(t *testing.T) {
		t.Parallel()
		input := `{"explanation": "typo in import", "patch": "--- a/pkg/calc.py\n+++ b/pkg/calc.py\n@@ -1,3 +1,3 @@\n-import maths\n+import math"}`
		patch, err := ParsePatchResponse(input)
		require.NoError(t, err)
		assert.Equal(t, "typo in import", patch.Explanation)
		assert.Equal(t, diff, patch.Diff)
	})

	t.Run("structured JSON with file map", func(t *testing.T) {
		t.Parallel()
		input := `{"explanation": "rewrite module", "files": {"pkg/calc.py": "import math\n"}}`
		patch, err := ParsePatchResponse(input)
		require.NoError(t, err)
		assert.Empty(t, patch.Diff)
		assert.Equal(t, "import math\n", patch.Files["pkg/calc.py"])
	})

	t.Run("raw fenced diff", func(t *testing.T) {
		t.Parallel()
		input := "```diff\n" + diff + "```"
		patch, err := ParsePatchResponse(input)
		require.NoError(t, err)
		assert.Equal(t, diff, patch.Diff)
		assert.Empty(t, patch.Files)
	})

	t.Run("empty patch object is an error", func(t *testing.T) {
		t.Parallel()
		_, err := ParsePatchResponse(`{"explanation": "nothing to do"}`)
		assert.Error(t, err)
	})

	t.Run("prose without any patch is an error", func(t *testing.T) {
		t.Parallel()
		_, err := ParsePatchResponse("The failure is environmental, no change needed.")
		assert.Error(t, err)
	})
}

func TestCleanCodeOutput(t *testing.T) {
	t.Parallel()

	t.Run("strips language fence", func(t *testing.T) {
		t.Parallel()
		out := CleanCodeOutput("```python\nimport math\n```")
		assert.Equal(t, "import math", out)
	})

	t.Run("preserves trailing newline on diffs", func(t *testing.T) {
		t.Parallel()
		out := CleanCodeOutput("```diff\n--- a/x.py\n+++ b/x.py\n@@ -1 +1 @@\n-a\n+b\n```")
		assert.True(t, len(out) > 0)
		assert.Equal(t, byte('\n'), out[len(out)-1])
	})

	t.Run("passes unfenced content through", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "plain text", CleanCodeOutput("plain text"))
	})
}
