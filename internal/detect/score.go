// Package detect implements the document-likelihood heuristic and the
// detector that drives it.
package detect

import "regexp"

// Structured-content patterns. Two or more matches qualify the text as
// document-like.
var structuredPatterns = []*regexp.Regexp{
	// Date-like sequences, e.g. 12/31/2024 or 2024-06-01
	regexp.MustCompile(`\b\d{1,4}[./-]\d{1,2}[./-]\d{1,4}\b`),
	// Currency amounts, e.g. $12.50, 12,50 €, EUR 9.99
	regexp.MustCompile(`[$€£¥]\s*\d+(?:[.,]\d{2})?|\b\d+[.,]\d{2}\s*(?:[$€£¥]|USD|EUR|GBP)`),
	// All-caps multi-word sequences, e.g. GRAND TOTAL
	regexp.MustCompile(`\b[A-Z]{2,}(?:\s+[A-Z]{2,})+\b`),
	// Document keywords
	regexp.MustCompile(`(?i)\b(invoice|receipt|statement|total|amount|subtotal|tax|payment|due|balance)\b`),
	// Runs of 3+ digits
	regexp.MustCompile(`\d{3,}`),
	// Lines consisting solely of digits and punctuation
	regexp.MustCompile(`(?m)^[0-9.,:;/#\- ]*[0-9][0-9.,:;/#\- ]*$`),
	// Label-colon patterns, e.g. "Date: " or "Order no: "
	regexp.MustCompile(`(?m)^\s*[A-Za-z][A-Za-z .]{1,24}:\s`),
}

// HasStructuredContent reports whether the text matches at least two of
// the document-like patterns
func HasStructuredContent(text string) bool {
	matches := 0
	for _, pattern := range structuredPatterns {
		if pattern.MatchString(text) {
			matches++
			if matches >= 2 {
				return true
			}
		}
	}
	return false
}

// Score computes the document-likelihood confidence from recognized text
// length, structured-content presence, image aspect ratio (width/height)
// and the number of distinct text regions. The result is always in [0,1].
func Score(textLength int, structured bool, aspectRatio float64, regions int) float64 {
	score := 0.0

	switch {
	case textLength >= 100:
		score += 0.3
	case textLength >= 50:
		score += 0.2
	case textLength >= 20:
		score += 0.1
	}

	if structured {
		score += 0.3
	}

	// Portrait wins the 0.7-0.8 overlap and landscape the 1.2-1.4 overlap,
	// so every aspect ratio lands in at most one bucket.
	switch {
	case aspectRatio >= 0.5 && aspectRatio <= 0.8:
		score += 0.2
	case aspectRatio >= 1.2 && aspectRatio <= 2.0:
		score += 0.15
	case aspectRatio >= 0.7 && aspectRatio <= 1.4:
		score += 0.1
	}

	switch {
	case regions >= 5:
		score += 0.2
	case regions >= 3:
		score += 0.1
	case regions >= 1:
		score += 0.05
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}
