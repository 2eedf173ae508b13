package filter

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	minKeywordLen = 2
	maxKeywordLen = 50
)

// ErrKeywordLength is returned by ValidateKeywords when an entry falls
// outside [minKeywordLen, maxKeywordLen] after trimming.
var ErrKeywordLength = errors.New("keyword length out of bounds")

// ValidateKeywords trims, drops empties, enforces the 2..50 character
// bound, and deduplicates order-preservingly.
func ValidateKeywords(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, k := range raw {
		trimmed := strings.TrimSpace(k)
		if trimmed == "" {
			continue
		}
		n := utf8.RuneCountInString(trimmed)
		if n < minKeywordLen || n > maxKeywordLen {
			return nil, fmt.Errorf("%w: %q (len %d)", ErrKeywordLength, trimmed, n)
		}
		lower := strings.ToLower(trimmed)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	return out, nil
}
