package tokenizer

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// StripHTML returns the text content of s with every tag, attribute and
// comment removed. Tags are replaced by a space so words on either side of
// a tag never merge; script and style bodies are dropped entirely.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') && !strings.ContainsRune(s, '&') {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))
	skipping := atom.Atom(0)
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way what was read is kept.
			return b.String()
		case html.TextToken:
			if skipping == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if a := atom.Lookup(name); a == atom.Script || a == atom.Style {
				skipping = a
			}
			b.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == skipping {
				skipping = 0
			}
			b.WriteByte(' ')
		default:
			b.WriteByte(' ')
		}
	}
}
