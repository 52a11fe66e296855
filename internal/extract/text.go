// Package extract holds the text toolkit shared by the filter, the
// synthesizer and the scoring engine: accent folding, visible-text
// extraction, sentence splitting, keyword lexicons and the local promise
// extractor used when no language model is available.
package extract

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics ("Educação" -> "educacao")
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Normalize folds s and reduces it to space-separated alphanumeric tokens
func Normalize(s string) string {
	folded := Fold(s)
	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// CollapseSpace replaces runs of whitespace with a single space
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes, appending an ellipsis when cut
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

// VisibleText parses HTML and returns its text nodes, skipping scripts,
// styles and navigation chrome
func VisibleText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}
	return extractVisibleText(doc), nil
}

func extractVisibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "nav", "footer", "svg":
				return
			}
		}

		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		// Block elements end a sentence even without punctuation
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "li", "h1", "h2", "h3", "h4", "td", "br", "div":
				buf.WriteString("\n")
			}
		}
	}

	walk(n)
	return strings.TrimSpace(buf.String())
}

const (
	minSentenceChars = 20
	maxSentenceChars = 500
)

// SplitSentences splits text on terminal punctuation and line breaks,
// keeping sentences between 20 and 500 characters
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		sentence := CollapseSpace(current.String())
		current.Reset()
		if n := len([]rune(sentence)); n >= minSentenceChars && n <= maxSentenceChars {
			sentences = append(sentences, sentence)
		}
	}

	rs := []rune(text)
	for i, r := range rs {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' || r == ';' {
			// "R$ 1.500" must not split
			if i+1 == len(rs) || unicode.IsSpace(rs[i+1]) {
				if r == '.' && endsWithAbbreviation(current.String()) {
					continue
				}
				flush()
			}
		}
	}
	flush()

	return sentences
}

var abbreviations = []string{" sr.", " sra.", " dr.", " dra.", " art.", " inc.", " n.", " nº.", " prof.", " dep.", " ver.", " gov."}

func endsWithAbbreviation(s string) bool {
	lower := " " + strings.ToLower(strings.TrimSpace(s))
	for _, a := range abbreviations {
		if strings.HasSuffix(lower, a) {
			return true
		}
	}
	return false
}
