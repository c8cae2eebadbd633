package engine

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lazypower/linkboard/internal/graph"
)

// Text size limits for collaborator-supplied fields.
const (
	maxLabelChars       = 80
	maxExplanationChars = 1200
	maxCategoryChars    = 40
)

// validateCandidate canonicalizes a candidate's endpoints and checks them
// against the ids that were sent. Text fields are trimmed and capped;
// strength, surprise and category values are not judged.
func validateCandidate(c graph.Connection, known map[string]struct{}) (graph.Connection, error) {
	c.From = graph.Canonicalize(c.From)
	c.To = graph.Canonicalize(c.To)
	if c.From == "" || c.To == "" {
		return c, fmt.Errorf("missing endpoint")
	}
	if c.From == c.To {
		return c, fmt.Errorf("self connection on %s", c.From)
	}
	if _, ok := known[c.From]; !ok {
		return c, fmt.Errorf("unknown item %q", c.From)
	}
	if _, ok := known[c.To]; !ok {
		return c, fmt.Errorf("unknown item %q", c.To)
	}

	c.Label = truncateClean(strings.TrimSpace(c.Label), maxLabelChars)
	c.Explanation = truncateClean(strings.TrimSpace(c.Explanation), maxExplanationChars)
	c.Category = truncateClean(strings.TrimSpace(c.Category), maxCategoryChars)
	return c, nil
}

// truncateClean truncates a string to maxLen, cutting at the last word boundary
// to avoid mid-word breaks.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	// Back up to last space
	truncated := s[:maxLen]
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > maxLen/2 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
