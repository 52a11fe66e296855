package extract

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// DocumentLink is an outbound link to a downloadable document
type DocumentLink struct {
	URL  string
	Text string
}

// DocumentLinks returns the PDF links of an HTML page, resolved against
// sourceURL. Government pages often carry the promise text only in an
// attached plan of government.
func DocumentLinks(htmlContent string, sourceURL string) ([]DocumentLink, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	baseURL, err := url.Parse(sourceURL)
	if err != nil {
		return nil, err
	}

	var links []DocumentLink
	var walk func(*html.Node)

	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href := ""
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					href = strings.TrimSpace(attr.Val)
				}
			}

			if href != "" {
				if resolved := resolveURL(baseURL, href); resolved != "" && isDocumentURL(resolved) {
					links = append(links, DocumentLink{
						URL:  resolved,
						Text: CollapseSpace(nodeText(n)),
					})
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)

	return dedupeLinks(links), nil
}

// resolveURL resolves a relative URL against a base URL
func resolveURL(base *url.URL, href string) string {
	if strings.HasPrefix(href, "#") {
		return ""
	}
	if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""

	return resolved.String()
}

func isDocumentURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func dedupeLinks(links []DocumentLink) []DocumentLink {
	seen := make(map[string]bool)
	var unique []DocumentLink

	for _, l := range links {
		if !seen[l.URL] {
			seen[l.URL] = true
			unique = append(unique, l)
		}
	}

	return unique
}
