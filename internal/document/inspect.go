package document

import (
	"fmt"
	"math"

	"github.com/ledongthuc/pdf"
)

// Summary describes a PDF file on disk.
type Summary struct {
	Pages    []PageSize
	Metadata Metadata
	Producer string
	Creator  string
}

// PageSize is a page's media box in inches.
type PageSize struct {
	Width  float64
	Height float64
}

// Inspect opens the PDF at path and reports its pages and metadata.
func Inspect(path string) (*Summary, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	s := &Summary{}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			return nil, fmt.Errorf("failed to read page %d", i)
		}
		w, h, err := mediaBox(p.V)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		s.Pages = append(s.Pages, PageSize{Width: round(w / 72), Height: round(h / 72)})
	}

	info := r.Trailer().Key("Info")
	s.Metadata = Metadata{
		Title:    info.Key("Title").Text(),
		Author:   info.Key("Author").Text(),
		Subject:  info.Key("Subject").Text(),
		Keywords: info.Key("Keywords").Text(),
	}
	s.Producer = info.Key("Producer").Text()
	s.Creator = info.Key("Creator").Text()
	return s, nil
}

// mediaBox returns the page size in points, following inherited values up
// the page tree.
func mediaBox(v pdf.Value) (float64, float64, error) {
	for depth := 0; !v.IsNull() && depth < 32; depth++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			return math.Abs(w), math.Abs(h), nil
		}
		v = v.Key("Parent")
	}
	return 0, 0, fmt.Errorf("no media box")
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
