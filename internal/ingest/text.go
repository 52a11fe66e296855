package ingest

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/promessa/internal/fetch"
)

type textHandler struct{}

func (textHandler) Name() string { return "text" }

func (textHandler) CanHandle(_ string, contentType string, body []byte) bool {
	switch {
	case strings.HasPrefix(contentType, "text/"),
		strings.Contains(contentType, "json"),
		strings.Contains(contentType, "xml"):
		return true
	case contentType == "":
		trimmed := bytes.TrimSpace(body)
		return len(trimmed) > 0 && trimmed[0] != '<' && utf8.Valid(trimmed)
	}
	return false
}

func (textHandler) Extract(_ context.Context, resp *fetch.Response) (*Document, error) {
	text := string(resp.Body)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	return &Document{
		Text:        text,
		ContentType: resp.ContentType,
		Method:      "text",
	}, nil
}

type imageHandler struct {
	ocr OCR
}

func (h *imageHandler) Name() string { return "image" }

func (h *imageHandler) CanHandle(_ string, contentType string, _ []byte) bool {
	return h.ocr != nil && strings.HasPrefix(contentType, "image/")
}

func (h *imageHandler) Extract(ctx context.Context, resp *fetch.Response) (*Document, error) {
	mime := resp.ContentType
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	text, err := h.ocr.OCR(ctx, resp.Body, mime)
	if err != nil {
		return nil, err
	}
	return &Document{Text: text, ContentType: mime, Method: "ocr"}, nil
}
