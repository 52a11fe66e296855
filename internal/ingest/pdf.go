package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/ppiankov/promessa/internal/fetch"
)

type pdfHandler struct {
	ocr         OCR
	maxOCRPages int
	logger      *slog.Logger
}

func (h *pdfHandler) Name() string { return "pdf" }

func (h *pdfHandler) CanHandle(rawURL, contentType string, body []byte) bool {
	if strings.Contains(contentType, "application/pdf") || bytes.HasPrefix(body, []byte("%PDF-")) {
		return true
	}
	return strings.EqualFold(path.Ext(urlPath(rawURL)), ".pdf") && !strings.Contains(contentType, "html")
}

func (h *pdfHandler) Extract(ctx context.Context, resp *fetch.Response) (*Document, error) {
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(resp.Body), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	title, text, quality := extractPDFText(pdfCtx)
	doc := &Document{Title: title, Text: text, ContentType: "application/pdf", Method: "pdf"}

	if !quality.NeedsOCR() || h.ocr == nil {
		return doc, nil
	}

	ocrText := h.ocrPages(ctx, pdfCtx)
	if strings.TrimSpace(ocrText) == "" {
		// Degrade to whatever the content streams gave us
		return doc, nil
	}
	if doc.Text != "" {
		doc.Text += "\n"
	}
	doc.Text += ocrText
	doc.Method = "pdf+ocr"
	return doc, nil
}

// ocrPages sends the embedded images of the first pages to the OCR backend
func (h *pdfHandler) ocrPages(ctx context.Context, pdfCtx *model.Context) string {
	var sb strings.Builder
	pages := min(pdfCtx.PageCount, h.maxOCRPages)

	for pageNr := 1; pageNr <= pages; pageNr++ {
		images, err := pdfcpu.ExtractPageImages(pdfCtx, pageNr, false)
		if err != nil {
			h.logger.DebugContext(ctx, "page image extraction failed", "component", "ingest", "page", pageNr, "error", err)
			continue
		}
		for _, img := range images {
			data, err := io.ReadAll(img)
			if err != nil || len(data) == 0 {
				continue
			}
			text, err := h.ocr.OCR(ctx, data, "image/"+imageSubtype(img.FileType))
			if err != nil {
				h.logger.WarnContext(ctx, "ocr failed", "component", "ingest", "page", pageNr, "error", err)
				if ctx.Err() != nil {
					return sb.String()
				}
				continue
			}
			if text = strings.TrimSpace(text); text != "" {
				sb.WriteString(text)
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

func imageSubtype(fileType string) string {
	switch strings.ToLower(fileType) {
	case "jpg", "jpeg":
		return "jpeg"
	case "":
		return "png"
	default:
		return strings.ToLower(fileType)
	}
}

// extractPDFText reads every page's content stream
func extractPDFText(ctx *model.Context) (title, text string, quality *pdfQuality) {
	var all strings.Builder
	totalChars := 0

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageText := extractPageText(ctx, pageNr)
		if pageText == "" {
			continue
		}
		totalChars += len([]rune(pageText))

		if title == "" {
			title = pageText
			if r := []rune(title); len(r) > 200 {
				title = string(r[:200])
			}
		}

		if all.Len() > 0 {
			all.WriteByte('\n')
		}
		all.WriteString(pageText)
	}

	text = all.String()
	quality = &pdfQuality{
		PrintableRatio:  printableRatio(text),
		HasImageStreams: hasImages(ctx),
	}
	if ctx.PageCount > 0 {
		quality.CharsPerPage = float64(totalChars) / float64(ctx.PageCount)
	}
	return title, text, quality
}

func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return textFromContentStream(data)
}

func hasImages(ctx *model.Context) bool {
	if ctx.Optimize == nil {
		return false
	}
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
			return true
		}
	}
	return false
}

// pdfStringRe matches PDF string literals: (text)
var pdfStringRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)

// textFromContentStream collects the operands of the text-showing
// operators (Tj, TJ, ') and turns positioning operators into spaces or
// line breaks
func textFromContentStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			sb.WriteByte('\n')
		}
	}

	return cleanPDFText(sb.String())
}

// decodePDFString resolves PDF escape sequences, including octal escapes
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			// Latin-1 code points, as in WinAnsi-encoded Portuguese text
			sb.WriteRune(rune(raw[i]))
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteRune(rune(val & 0xFF))
		}
	}
	return sb.String()
}

// cleanPDFText collapses whitespace within lines and drops unprintable runes
func cleanPDFText(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		var sb strings.Builder
		prevSpace := false
		for _, r := range line {
			switch {
			case unicode.IsSpace(r):
				if !prevSpace && sb.Len() > 0 {
					sb.WriteByte(' ')
					prevSpace = true
				}
			case unicode.IsPrint(r):
				sb.WriteRune(r)
				prevSpace = false
			}
		}
		if l := strings.TrimSpace(sb.String()); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

// pdfQuality scores how well the content streams carried the text
type pdfQuality struct {
	CharsPerPage    float64
	PrintableRatio  float64
	HasImageStreams bool
}

// NeedsOCR reports whether the PDF is likely scanned
func (q *pdfQuality) NeedsOCR() bool {
	return (q.CharsPerPage < 50 && q.HasImageStreams) || q.PrintableRatio < 0.85
}

func printableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if (r >= 0xE000 && r <= 0xF8FF) || r == unicode.ReplacementChar {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}
