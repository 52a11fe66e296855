package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	readability "github.com/go-shiori/go-readability"

	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/fetch"
)

type htmlHandler struct {
	renderer Renderer
	md       *htmltomarkdown.Converter
	logger   *slog.Logger
}

func newHTMLHandler(renderer Renderer, logger *slog.Logger) *htmlHandler {
	return &htmlHandler{
		renderer: renderer,
		md: htmltomarkdown.NewConverter(
			htmltomarkdown.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: logger,
	}
}

func (h *htmlHandler) Name() string { return "html" }

func (h *htmlHandler) CanHandle(_ string, contentType string, body []byte) bool {
	if strings.Contains(contentType, "html") {
		return true
	}
	if contentType == "" || strings.HasPrefix(contentType, "text/plain") {
		head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
		return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
	}
	return false
}

func (h *htmlHandler) Extract(ctx context.Context, resp *fetch.Response) (*Document, error) {
	page := string(resp.Body)
	prefix := ""

	if h.renderer != nil && !IsSufficient(resp.Body) {
		rendered, err := h.renderer.Render(ctx, resp.FinalURL)
		if err != nil {
			h.logger.DebugContext(ctx, "render failed, using static page", "component", "ingest", "url", resp.FinalURL, "error", err)
		} else if strings.TrimSpace(rendered) != "" {
			page = rendered
			prefix = "rendered+"
		}
	}

	doc := &Document{ContentType: "text/html"}
	pageURL, _ := url.Parse(resp.FinalURL)

	if article, err := readability.FromReader(strings.NewReader(page), pageURL); err == nil && strings.TrimSpace(article.TextContent) != "" {
		doc.Title = strings.TrimSpace(article.Title)
		doc.Text = article.TextContent
		doc.Method = prefix + "readability"
		return doc, nil
	}

	if md, err := h.md.ConvertString(page, htmltomarkdown.WithDomain(resp.FinalURL)); err == nil && strings.TrimSpace(md) != "" {
		doc.Text = md
		doc.Method = prefix + "markdown"
		return doc, nil
	}

	text, err := extract.VisibleText(page)
	if err != nil {
		return nil, err
	}
	doc.Text = text
	doc.Method = prefix + "visible-text"
	return doc, nil
}

// IsSufficient reports whether static HTML carries enough visible text to
// skip browser rendering. Script-only application shells are not sufficient.
func IsSufficient(html []byte) bool {
	if len(html) < 256 {
		return false
	}

	textLen, markupLen := textMarkupRatio(html)
	total := textLen + markupLen
	if total == 0 {
		return false
	}

	if float64(textLen)/float64(total) < 0.10 {
		return false
	}
	if textLen < 200 {
		return false
	}

	lower := bytes.ToLower(html)
	spaIndicators := []string{
		`<div id="root"></div>`,
		`<div id="app"></div>`,
		`<div id="__next"></div>`,
		"<noscript>you need to enable javascript",
		"<noscript>enable javascript",
		"<noscript>é necessário habilitar o javascript",
	}
	for _, ind := range spaIndicators {
		if bytes.Contains(lower, []byte(ind)) {
			return false
		}
	}

	return true
}

// textMarkupRatio counts non-whitespace text bytes against markup bytes,
// treating script and style bodies as markup
func textMarkupRatio(html []byte) (text, markup int) {
	s := string(html)
	inTag := false

	for i := 0; i < len(s); {
		ch := s[i]
		if ch == '<' {
			rest := strings.ToLower(s[i:min(len(s), i+8)])
			for _, block := range []string{"script", "style"} {
				if strings.HasPrefix(rest, "<"+block) {
					end := strings.Index(strings.ToLower(s[i:]), "</"+block)
					if end < 0 {
						return text, markup + len(s) - i
					}
					markup += end
					i += end
				}
			}
			inTag = true
			markup++
			i++
			continue
		}
		if ch == '>' {
			inTag = false
			markup++
			i++
			continue
		}
		if inTag {
			markup++
		} else if ch != ' ' && ch != '\t' && ch != '\n' && ch != '\r' {
			text++
		}
		i++
	}
	return text, markup
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
