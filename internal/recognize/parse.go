package recognize

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// parseRecognitionJSON parses the JSON response from a vision model
func parseRecognitionJSON(text string) (*Result, error) {
	// Remove markdown code blocks if present
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	text = text[startIdx : endIdx+1]

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	return normalizeResult(&result), nil
}

// resultFromPlainText builds a Result from raw OCR output, one text line
// per region
func resultFromPlainText(text string) *Result {
	return normalizeResult(&Result{Text: text})
}

// normalizeResult fills derived fields the provider left out
func normalizeResult(result *Result) *Result {
	result.Text = strings.TrimSpace(result.Text)
	result.Characters = utf8.RuneCountInString(result.Text)
	if result.Regions <= 0 {
		result.Regions = countTextRegions(result.Text)
	}
	if result.Text == "" {
		result.Regions = 0
	}
	return result
}

// countTextRegions counts non-blank lines as a region fallback
func countTextRegions(text string) int {
	regions := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			regions++
		}
	}
	return regions
}
