// Package document assembles staged page images into a paginated PDF.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/natefinch/atomic"

	"github.com/lehigh-university-libraries/pdfscan/internal/geometry"
	"github.com/lehigh-university-libraries/pdfscan/internal/staging"
)

// Producer is written as the producer and creator of every document.
const Producer = "pdfscan"

var (
	ErrNoPages   = errors.New("document has no pages")
	ErrFinalized = errors.New("document already finalized")
)

// Metadata is the document information set at save time.
type Metadata struct {
	Title    string `json:"title" yaml:"title"`
	Author   string `json:"author" yaml:"author"`
	Subject  string `json:"subject" yaml:"subject"`
	Keywords string `json:"keywords" yaml:"keywords"`
}

// Trimmed returns m with surrounding whitespace removed from every field.
func (m Metadata) Trimmed() Metadata {
	return Metadata{
		Title:    strings.TrimSpace(m.Title),
		Author:   strings.TrimSpace(m.Author),
		Subject:  strings.TrimSpace(m.Subject),
		Keywords: strings.TrimSpace(m.Keywords),
	}
}

// Page records an appended page.
type Page struct {
	Geometry    geometry.Page
	ImageWidth  int
	ImageHeight int
}

type pageImage struct {
	data      []byte
	imageType string
}

// Document is an output document under construction. Pages keep the
// order in which they were appended and cannot be changed afterwards.
// The PDF itself is only built when the document is rendered, so a failed
// save leaves the document open for more pages.
type Document struct {
	pages   []Page
	images  []pageImage
	written bool
}

// New starts an empty document.
func New() *Document {
	return &Document{}
}

// PageCount returns the number of appended pages.
func (d *Document) PageCount() int {
	return len(d.pages)
}

// Pages returns the appended pages in order.
func (d *Document) Pages() []Page {
	out := make([]Page, len(d.pages))
	copy(out, d.pages)
	return out
}

// AppendPage adds a page of the given size with the staged image
// stretched over it. On failure the document is left unchanged.
func (d *Document) AppendPage(page *staging.Page, g geometry.Page) error {
	if d.written {
		return ErrFinalized
	}
	if err := g.Validate(); err != nil {
		return err
	}
	if err := checkImage(page.Image); err != nil {
		return fmt.Errorf("failed to embed page image: %w", err)
	}

	d.images = append(d.images, pageImage{
		data:      bytes.Clone(page.Image.Data),
		imageType: page.Image.Type,
	})
	d.pages = append(d.pages, Page{
		Geometry:    g,
		ImageWidth:  page.Image.Width,
		ImageHeight: page.Image.Height,
	})
	slog.Debug("Page appended", "page", len(d.pages), "size", g.String())
	return nil
}

// checkImage parses img the way rendering will, without touching any
// document.
func checkImage(img staging.Image) error {
	pdf := newPdf()
	pdf.RegisterImageOptionsReader("page", fpdf.ImageOptions{ImageType: img.Type}, bytes.NewReader(img.Data))
	return pdf.Error()
}

func newPdf() *fpdf.Fpdf {
	pdf := fpdf.New("P", "in", "Letter", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	return pdf
}

// Render builds the PDF from the appended pages with meta applied.
func (d *Document) Render(meta Metadata) ([]byte, error) {
	if len(d.pages) == 0 {
		return nil, ErrNoPages
	}

	pdf := newPdf()
	for i, p := range d.pages {
		name := fmt.Sprintf("page-%d", i+1)
		opts := fpdf.ImageOptions{ImageType: d.images[i].imageType}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(d.images[i].data))
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: p.Geometry.Width, Ht: p.Geometry.Height})
		pdf.ImageOptions(name, 0, 0, p.Geometry.Width, p.Geometry.Height, false, opts, 0, "")
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to draw pages: %w", err)
	}

	meta = meta.Trimmed()
	pdf.SetTitle(meta.Title, true)
	pdf.SetAuthor(meta.Author, true)
	pdf.SetSubject(meta.Subject, true)
	pdf.SetKeywords(meta.Keywords, true)
	pdf.SetCreator(Producer, true)
	pdf.SetProducer(Producer, true)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	return buf.Bytes(), nil
}

// Finalize renders the document and writes it to path. The file is
// replaced atomically, so a failed save leaves any existing file intact
// and the document still accepts pages. A document can be written
// successfully only once.
func (d *Document) Finalize(path string, meta Metadata) ([]byte, error) {
	if d.written {
		return nil, ErrFinalized
	}
	data, err := d.Render(meta)
	if err != nil {
		return nil, err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return nil, &staging.IOError{Op: "write document", Path: path, Err: err}
	}
	d.written = true
	slog.Info("Document saved", "path", path, "pages", len(d.pages), "bytes", len(data))
	return data, nil
}

// Finalized reports whether the document has been written.
func (d *Document) Finalized() bool {
	return d.written
}
