// Package extractor pulls the text layer out of PDFs and appends OCR output for embedded images.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/models"
)

// Recognition is one line of text found in an image.
type Recognition struct {
	Region     image.Rectangle
	Text       string
	Confidence float64
}

// OCREngine recognizes text lines in an encoded image, in reading order.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, mimeType string) ([]Recognition, error)
}

// PDFExtractor produces, per page, the native text followed by OCR lines of the page's images.
type PDFExtractor struct {
	ocr  OCREngine
	open openFunc
	log  logger.Logger
}

// NewPDFExtractor returns an extractor backed by unipdf. A nil OCR engine disables OCR.
func NewPDFExtractor(ocr OCREngine, log logger.Logger) *PDFExtractor {
	if log == nil {
		log = logger.GetDefault()
	}
	return &PDFExtractor{ocr: ocr, open: openUnipdf, log: log.With("component", "EXTRACTOR")}
}

// Extract reads the PDF at path.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", models.NewError(models.KindExtraction, "could not read "+path, err)
	}
	return e.ExtractBytes(ctx, data)
}

// ExtractBytes extracts text from an in-memory PDF. Whitespace-only output is an extraction failure.
func (e *PDFExtractor) ExtractBytes(ctx context.Context, data []byte) (string, error) {
	doc, err := e.open(bytesReader(data))
	if err != nil {
		return "", models.NewError(models.KindExtraction, "could not open PDF", err)
	}
	numPages, err := doc.NumPages()
	if err != nil {
		return "", models.NewError(models.KindExtraction, "could not read page count", err)
	}

	var sb strings.Builder
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.PageText(i)
		if err != nil {
			return "", models.NewError(models.KindExtraction, fmt.Sprintf("could not extract text of page %d", i), err)
		}
		sb.WriteString(text)
		if text != "" && !strings.HasSuffix(text, "\n") {
			sb.WriteString("\n")
		}
		if e.ocr != nil {
			e.appendImageText(ctx, &sb, doc, i)
		}
	}

	out := sb.String()
	if strings.TrimSpace(out) == "" {
		return "", models.NewError(models.KindExtraction, "no extractable text", nil)
	}
	e.log.Debug("extracted PDF", "pages", numPages, "chars", len(out))
	return out, nil
}

// appendImageText OCRs each image on the page. Failures skip only the affected image.
func (e *PDFExtractor) appendImageText(ctx context.Context, sb *strings.Builder, doc pdfDocument, page int) {
	images, err := doc.PageImages(page)
	if err != nil {
		e.log.Warn("skipping page images", "kind", models.KindOCRSkipped, "page", page, "error", err)
		return
	}
	for idx, pi := range images {
		if pi.err != nil {
			e.log.Warn("skipping image", "kind", models.KindOCRSkipped, "page", page, "image", idx, "error", pi.err)
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, pi.img); err != nil {
			e.log.Warn("skipping image", "kind", models.KindOCRSkipped, "page", page, "image", idx, "error", err)
			continue
		}
		lines, err := e.ocr.Recognize(ctx, buf.Bytes(), "image/png")
		if err != nil {
			e.log.Warn("skipping image", "kind", models.KindOCRSkipped, "page", page, "image", idx, "error", err)
			continue
		}
		for _, line := range lines {
			sb.WriteString(line.Text)
			sb.WriteString("\n")
		}
	}
}
