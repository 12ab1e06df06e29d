// Package highlight marks search tokens inside a document's HTML.
package highlight

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	markOpen  = "<mark>"
	markClose = "</mark>"
)

// HTML wraps every occurrence of tokens in html with <mark>. Tag syntax and
// character references are never touched. Letter and digit tokens, in any
// alphabet, only match on word boundaries; tokens containing Han characters
// match anywhere. Matching is case-insensitive and longer tokens win over
// their prefixes.
func HTML(html string, tokens []string) string {
	re := compile(tokens)
	if re == nil {
		return html
	}
	var b strings.Builder
	last := 0
	// Group 1 is tag or entity syntax, group 2 a token.
	for _, loc := range re.FindAllStringSubmatchIndex(html, -1) {
		start, end := loc[4], loc[5]
		if start < 0 || !onBoundaries(html, start, end) {
			continue
		}
		b.WriteString(html[last:start])
		b.WriteString(markOpen)
		b.WriteString(html[start:end])
		b.WriteString(markClose)
		last = end
	}
	if b.Len() == 0 {
		return html
	}
	b.WriteString(html[last:])
	return b.String()
}

// onBoundaries reports whether s[start:end] may be marked: word matches
// must not continue a word on either side.
func onBoundaries(s string, start, end int) bool {
	if !isWord(s[start:end]) {
		return true
	}
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(s[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		if r, _ := utf8.DecodeRuneInString(s[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func compile(tokens []string) *regexp.Regexp {
	seen := make(map[string]struct{}, len(tokens))
	sorted := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		sorted = append(sorted, token)
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i]) > utf8.RuneCountInString(sorted[j])
	})

	patterns := make([]string, len(sorted))
	for i, token := range sorted {
		patterns[i] = regexp.QuoteMeta(token)
	}
	// Tags and entities are matched first so their contents are skipped.
	expr := `(?i)(<[^>]*>|&#?[0-9a-zA-Z]+;)|(` + strings.Join(patterns, "|") + `)`
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}
	return re
}

// isWord reports whether s is made only of non-Han letters, digits and
// underscores. RE2's \b knows ASCII only, so boundaries are checked by hand.
func isWord(s string) bool {
	for _, r := range s {
		if !isWordRune(r) {
			return false
		}
	}
	return s != ""
}

func isWordRune(r rune) bool {
	if unicode.Is(unicode.Han, r) {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || r == '_'
}
