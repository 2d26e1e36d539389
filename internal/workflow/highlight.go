package workflow

import (
	"regexp"
	"sort"
	"strings"
)

// Markers wrapped around matched desensitized values in rendered previews.
const (
	MarkStart = "<mark>"
	MarkEnd   = "</mark>"
)

// Highlight renders the desensitized text with every occurrence of an
// enabled item's produced value wrapped in markers. It is pure and
// idempotent: re-rendering already-marked text never nests markers.
//
// All values are matched in one pass over the text by a single alternation
// of every already-marked form and every raw value, longest alternative
// first. A marked span is consumed whole and left untouched, so no value
// can match inside another value's markers or inside the marker tag text
// itself. Values are escaped with regexp.QuoteMeta so pattern-special
// characters (a masked value containing an asterisk or parenthesis) match
// literally instead of being interpreted.
func Highlight(text string, items []SensitiveItem) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	// The same produced value shared by multiple items is collected once.
	seen := make(map[string]bool)
	var values []string
	for _, item := range items {
		if !item.Enabled || item.Masked == "" {
			continue
		}
		if seen[item.Masked] {
			continue
		}
		seen[item.Masked] = true
		values = append(values, item.Masked)
	}
	if len(values) == 0 {
		return text
	}

	marked := make(map[string]bool, len(values))
	alternatives := make([]string, 0, 2*len(values))
	for _, value := range values {
		wrapped := MarkStart + value + MarkEnd
		marked[wrapped] = true
		alternatives = append(alternatives, wrapped, value)
	}
	// Longer alternatives first, so at a shared start position the longest
	// value (and a marked form before its own bare value) wins.
	sort.SliceStable(alternatives, func(i, j int) bool {
		return len(alternatives[i]) > len(alternatives[j])
	})
	for i, alt := range alternatives {
		alternatives[i] = regexp.QuoteMeta(alt)
	}

	pattern := regexp.MustCompile(strings.Join(alternatives, "|"))
	return pattern.ReplaceAllStringFunc(text, func(m string) string {
		if marked[m] {
			return m
		}
		return MarkStart + m + MarkEnd
	})
}
