// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/coval-cli/api/schemas"
)

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")

	// codeBlockRegex extracts content wrapped in markdown, supporting various language tags (diff, patch, go, etc.).
	codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
)

// ParseJSONResponse attempts to parse an LLM response string into a target Go type using generics.
// It handles common LLM formatting issues, such as wrapping the JSON in markdown code blocks
// or embedding it in conversational text.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	jsonStringToParse := response

	// Heuristically determine if the content is likely an object or array.
	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	// 1. Handle markdown wrapping (most common case).
	if strings.HasPrefix(response, "```") {
		var matches []string
		// Prioritize object regex if it looks like an object.
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		// If object regex didn't match or it's clearly an array, try array regex.
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}

		if len(matches) > 1 {
			jsonStringToParse = matches[1]
		}
	} else if (isObject || isArray) && (!strings.HasPrefix(response, "{") && !strings.HasPrefix(response, "[")) {
		// 2. Attempt to find the structure within conversational text.
		firstBracket := -1
		lastBracket := -1

		if isObject {
			fb := strings.Index(response, "{")
			lb := strings.LastIndex(response, "}")
			if fb != -1 && lb != -1 && lb > fb {
				firstBracket = fb
				lastBracket = lb + 1
			}
		}

		if (firstBracket == -1 || lastBracket == -1) && isArray {
			fb := strings.Index(response, "[")
			lb := strings.LastIndex(response, "]")
			if fb != -1 && lb != -1 && lb > fb {
				firstBracket = fb
				lastBracket = lb + 1
			}
		}

		if firstBracket != -1 && lastBracket != -1 {
			jsonStringToParse = response[firstBracket:lastBracket]
		}
	}

	// 3. Unmarshal
	var result T
	if err := json.Unmarshal([]byte(jsonStringToParse), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(jsonStringToParse, 500))
	}

	return &result, nil
}

// ParsePatchResponse interprets a generation response as a proposed patch.
// It tries strategies in order: structured JSON (possibly markdown-wrapped or
// embedded in prose), then a bare fenced code block treated as a raw unified
// diff. A response that yields neither is an error.
func ParsePatchResponse(response string) (*schemas.ProposedPatch, error) {
	patch, jsonErr := ParseJSONResponse[schemas.ProposedPatch](response)
	if jsonErr == nil && !patch.Empty() {
		patch.Diff = normalizeDiff(patch.Diff)
		return patch, nil
	}

	// Fallback: the model answered with a raw diff instead of JSON.
	cleaned := CleanCodeOutput(response)
	if looksLikeDiff(cleaned) {
		return &schemas.ProposedPatch{Diff: normalizeDiff(cleaned)}, nil
	}

	if jsonErr != nil {
		return nil, fmt.Errorf("response is neither a patch object nor a unified diff: %w", jsonErr)
	}
	return nil, fmt.Errorf("parsed patch object carries no diff and no file contents")
}

// CleanCodeOutput removes common markdown artifacts (like ```go or ```diff) from a code or patch string.
func CleanCodeOutput(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		matches := codeBlockRegex.FindStringSubmatch(content)
		if len(matches) > 1 {
			cleaned := strings.TrimSpace(matches[1])

			// Specific handling for patches: ensure one trailing newline, required by 'git apply'.
			if looksLikeDiff(cleaned) {
				return cleaned + "\n"
			}
			return cleaned
		}
	}
	return content
}

func looksLikeDiff(s string) bool {
	return strings.Contains(s, "--- a/") && strings.Contains(s, "+++ b/")
}

// normalizeDiff guarantees the single trailing newline 'git apply' expects.
func normalizeDiff(diff string) string {
	if diff == "" {
		return diff
	}
	return strings.TrimRight(diff, "\n") + "\n"
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
