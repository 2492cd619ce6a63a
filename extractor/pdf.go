package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/unidoc/unipdf/v3/common/license"
	unipdf "github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
)

// SetLicense installs a UniDoc metered key. PDF processing fails without one.
func SetLicense(key string) error {
	if key == "" {
		return errors.New("no UniDoc license key configured")
	}
	if err := license.SetMeteredKey(key); err != nil {
		return fmt.Errorf("failed to set UniDoc license key: %w", err)
	}
	return nil
}

// pdfDocument is the per-page view the extractor needs from a PDF backend.
type pdfDocument interface {
	NumPages() (int, error)
	PageText(page int) (string, error)
	PageImages(page int) ([]pageImage, error)
}

type openFunc func(r io.ReadSeeker) (pdfDocument, error)

type unipdfDocument struct {
	reader *model.PdfReader
}

func openUnipdf(r io.ReadSeeker) (pdfDocument, error) {
	reader, err := model.NewPdfReader(r)
	if err != nil {
		return nil, err
	}
	return &unipdfDocument{reader: reader}, nil
}

func (d *unipdfDocument) NumPages() (int, error) {
	return d.reader.GetNumPages()
}

func (d *unipdfDocument) pageExtractor(page int) (*unipdf.Extractor, error) {
	p, err := d.reader.GetPage(page)
	if err != nil {
		return nil, err
	}
	return unipdf.New(p)
}

func (d *unipdfDocument) PageText(page int) (string, error) {
	ex, err := d.pageExtractor(page)
	if err != nil {
		return "", err
	}
	return ex.ExtractText()
}

// PageImages decodes every raster image drawn on the page, in content-stream order.
// An image that fails to decode is returned with its error so the others still get OCR.
func (d *unipdfDocument) PageImages(page int) ([]pageImage, error) {
	ex, err := d.pageExtractor(page)
	if err != nil {
		return nil, err
	}
	pageImages, err := ex.ExtractPageImages(nil)
	if err != nil {
		return nil, err
	}
	out := make([]pageImage, 0, len(pageImages.Images))
	for _, mark := range pageImages.Images {
		if mark.Image == nil {
			out = append(out, pageImage{err: errors.New("image has no data")})
			continue
		}
		img, err := mark.Image.ToGoImage()
		out = append(out, pageImage{img: img, err: err})
	}
	return out, nil
}

type pageImage struct {
	img image.Image
	err error
}

func bytesReader(data []byte) io.ReadSeeker {
	return bytes.NewReader(data)
}
