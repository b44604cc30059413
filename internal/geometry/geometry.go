// Package geometry holds physical page sizes and the catalog of known paper sizes.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalid is returned for a page size that is not positive and finite.
var ErrInvalid = errors.New("invalid page geometry")

// DefaultLabel names the paper size used when no preference is stored.
const DefaultLabel = "Letter"

// CustomLabel is the label given to sizes entered by hand.
const CustomLabel = "Custom"

// Page is a physical page size in inches.
type Page struct {
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
	Label  string  `yaml:"label" json:"label"`
}

// New returns a validated page size.
func New(width, height float64, label string) (Page, error) {
	p := Page{Width: width, Height: height, Label: label}
	if err := p.Validate(); err != nil {
		return Page{}, err
	}
	return p, nil
}

// Validate checks that both dimensions are positive and finite.
func (p Page) Validate() error {
	if !validDimension(p.Width) || !validDimension(p.Height) {
		return fmt.Errorf("%w: %gx%g in", ErrInvalid, p.Width, p.Height)
	}
	return nil
}

// Pixels returns the page extent in device pixels at dpi.
func (p Page) Pixels(dpi int) (int, int) {
	return int(float64(dpi) * p.Width), int(float64(dpi) * p.Height)
}

// Points returns the page size in PDF points.
func (p Page) Points() (float64, float64) {
	return p.Width * 72, p.Height * 72
}

func (p Page) String() string {
	if p.Label == "" {
		return fmt.Sprintf("%gx%g in", p.Width, p.Height)
	}
	return fmt.Sprintf("%s (%gx%g in)", p.Label, p.Width, p.Height)
}

func validDimension(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

var catalog = []Page{
	{5.5, 8.5, "Statement"},
	{7.5, 10, "Executive"},
	{8.5, 11, "Letter"},
	{8.5, 11, "Note"},
	{8.5, 13, "Folio"},
	{8.5, 14, "Legal"},
	{11, 17, "Tabloid"},
	{17, 11, "Ledger"},
	{5.83, 8.27, "A5"},
	{8.27, 11.69, "A4"},
	{11.69, 16.54, "A3"},
	{7.17, 10.12, "B5"},
	{9.84, 13.94, "B4"},
	{8.46, 10.83, "Quarto"},
}

// Catalog returns the known paper sizes.
func Catalog() []Page {
	out := make([]Page, len(catalog))
	copy(out, catalog)
	return out
}

// Default returns the default paper size.
func Default() Page {
	p, _ := Lookup(DefaultLabel)
	return p
}

// Lookup finds a catalog entry by label, ignoring case.
func Lookup(label string) (Page, bool) {
	for _, p := range catalog {
		if strings.EqualFold(p.Label, strings.TrimSpace(label)) {
			return p, true
		}
	}
	return Page{}, false
}

// Resolve returns the catalog entry for label, falling back to the default
// size when the label is empty or unknown.
func Resolve(label string) Page {
	if p, ok := Lookup(label); ok {
		return p
	}
	return Default()
}
