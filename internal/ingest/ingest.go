// Package ingest turns a URL into normalized plain text. PDFs, HTML pages
// (rendered in a headless browser when the static page is an empty shell),
// plain text and images are each handled by their own Handler.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/promessa/internal/cache"
	"github.com/ppiankov/promessa/internal/extract"
	"github.com/ppiankov/promessa/internal/fetch"
	"github.com/ppiankov/promessa/internal/util"
	"github.com/ppiankov/promessa/internal/validate"
)

var (
	// ErrBlocked is returned when robots.txt disallows the URL
	ErrBlocked = errors.New("ingest: blocked by robots.txt")
	// ErrNoContent is returned when no text could be extracted
	ErrNoContent = errors.New("ingest: no text content")
	// ErrUnsupported is returned for content types no handler accepts
	ErrUnsupported = errors.New("ingest: unsupported content type")
)

// thinPageChars is the text length below which an HTML page's linked PDFs
// are ingested instead
const thinPageChars = 200

// Document is the normalized text of one URL
type Document struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	ContentType string `json:"content_type"`
	Method      string `json:"method"` // pdf, pdf+ocr, readability, markdown, visible-text, text, ocr, rendered+...
}

// OCR reads the text of an image
type OCR interface {
	OCR(ctx context.Context, image []byte, mimeType string) (string, error)
}

// Renderer loads a page in a browser and returns the rendered HTML
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// Handler extracts text from one family of content types
type Handler interface {
	Name() string
	CanHandle(rawURL, contentType string, body []byte) bool
	Extract(ctx context.Context, resp *fetch.Response) (*Document, error)
}

// Ingestor fetches URLs and dispatches them to the first matching Handler
type Ingestor struct {
	fetcher  *fetch.Fetcher
	robots   *util.RobotsChecker
	cache    *cache.Intelligent
	ttl      time.Duration
	maxChars int
	ocr      OCR
	renderer Renderer
	ocrPages int
	logger   *slog.Logger

	pdf      Handler
	handlers []Handler
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithRobots honours robots.txt through checker
func WithRobots(checker *util.RobotsChecker) Option {
	return func(in *Ingestor) { in.robots = checker }
}

// WithCache caches documents for ttl
func WithCache(ic *cache.Intelligent, ttl time.Duration) Option {
	return func(in *Ingestor) {
		in.cache = ic
		in.ttl = ttl
	}
}

// WithOCR enables OCR for image-only PDFs and images, reading at most
// maxPages PDF pages
func WithOCR(ocr OCR, maxPages int) Option {
	return func(in *Ingestor) {
		in.ocr = ocr
		if maxPages > 0 {
			in.ocrPages = maxPages
		}
	}
}

// WithRenderer re-renders thin or script-only HTML pages
func WithRenderer(r Renderer) Option {
	return func(in *Ingestor) { in.renderer = r }
}

// WithMaxChars caps document text
func WithMaxChars(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.maxChars = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingestor) {
		if l != nil {
			in.logger = l
		}
	}
}

// New creates an Ingestor
func New(f *fetch.Fetcher, opts ...Option) *Ingestor {
	in := &Ingestor{
		fetcher:  f,
		maxChars: 20000,
		ocrPages: 5,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(in)
	}

	in.pdf = &pdfHandler{ocr: in.ocr, maxOCRPages: in.ocrPages, logger: in.logger}
	in.handlers = []Handler{
		in.pdf,
		newHTMLHandler(in.renderer, in.logger),
		&imageHandler{ocr: in.ocr},
		&textHandler{},
	}
	return in
}

// Ingest returns the document at rawURL, from cache when possible
func (in *Ingestor) Ingest(ctx context.Context, rawURL string) (*Document, error) {
	if !validate.IsHTTPURL(rawURL) {
		return nil, fmt.Errorf("ingest: not an http(s) URL: %q", rawURL)
	}
	if in.robots != nil && !in.robots.IsAllowed(ctx, rawURL) {
		return nil, ErrBlocked
	}

	key := cache.Key("doc", rawURL)
	doc, err := cache.GetOrLoad(ctx, in.cache, key, in.ttl, func(ctx context.Context) (*Document, error) {
		return in.load(ctx, rawURL)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (in *Ingestor) load(ctx context.Context, rawURL string) (*Document, error) {
	resp, err := in.fetcher.FetchWithRetry(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	handler := in.handlerFor(rawURL, resp)
	if handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, resp.ContentType)
	}

	doc, err := handler.Extract(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("ingest: %s: %w", handler.Name(), err)
	}

	if handler.Name() == "html" && len([]rune(doc.Text)) < thinPageChars {
		if linked := in.linkedPDF(ctx, resp); linked != nil {
			doc = linked
		}
	}

	doc.URL = rawURL
	doc.Text = extract.Truncate(normalizeText(doc.Text), in.maxChars)
	if doc.Text == "" {
		return nil, ErrNoContent
	}

	in.logger.DebugContext(ctx, "document ingested",
		"component", "ingest",
		"url", rawURL,
		"method", doc.Method,
		"chars", len([]rune(doc.Text)))
	return doc, nil
}

func (in *Ingestor) handlerFor(rawURL string, resp *fetch.Response) Handler {
	ct := strings.ToLower(resp.ContentType)
	for _, h := range in.handlers {
		if h.CanHandle(rawURL, ct, resp.Body) {
			return h
		}
	}
	return nil
}

// linkedPDF ingests the first PDF linked from a thin HTML page
func (in *Ingestor) linkedPDF(ctx context.Context, page *fetch.Response) *Document {
	links, err := extract.DocumentLinks(string(page.Body), page.FinalURL)
	if err != nil || len(links) == 0 {
		return nil
	}

	resp, err := in.fetcher.FetchWithRetry(ctx, links[0].URL, nil)
	if err != nil {
		in.logger.DebugContext(ctx, "linked document fetch failed", "component", "ingest", "url", links[0].URL, "error", err)
		return nil
	}
	doc, err := in.pdf.Extract(ctx, resp)
	if err != nil || strings.TrimSpace(doc.Text) == "" {
		return nil
	}
	if doc.Title == "" {
		doc.Title = links[0].Text
	}
	doc.Method = "html+" + doc.Method
	return doc
}

// normalizeText collapses whitespace within lines and drops blank lines
func normalizeText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = extract.CollapseSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
