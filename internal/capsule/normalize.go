package capsule

import (
	"regexp"
	"strings"
	"unicode"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return s
}

// Keywords splits text into a set of lowercase words with surrounding
// punctuation stripped. "Open-source, tools!" yields {"open-source", "tools"}.
func Keywords(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// KeywordsOf unions the keywords of several strings.
func KeywordsOf(texts ...string) map[string]struct{} {
	return Keywords(strings.Join(texts, " "))
}

// Overlap returns |a ∩ b| / |b|, or 0 when b is empty.
func Overlap(a, b map[string]struct{}) float64 {
	if len(b) == 0 {
		return 0
	}
	n := 0
	for w := range b {
		if _, ok := a[w]; ok {
			n++
		}
	}
	return float64(n) / float64(len(b))
}

// NormalizeTags trims tags, drops empties and removes case-insensitive
// duplicates while keeping first-seen order and spelling.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		key := Normalize(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
