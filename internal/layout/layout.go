// Package layout computes where an image goes on a fixed-size page.
package layout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spherical/fotopdf/internal/domain"
)

// Sizes are stored portrait, in millimetres.
var namedSizes = map[string][2]float64{
	"A3":     {297, 420},
	"A4":     {210, 297},
	"A5":     {148, 210},
	"LETTER": {215.9, 279.4},
	"LEGAL":  {215.9, 355.6},
}

var mmPerUnit = map[string]float64{
	"mm": 1,
	"cm": 10,
	"in": 25.4,
	"pt": 25.4 / 72,
}

// SizeNames lists the supported named page sizes.
func SizeNames() []string {
	names := make([]string, 0, len(namedSizes))
	for name := range namedSizes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Geometry resolves a named page size into a PageGeometry in unit.
func Geometry(size, unit string, margin float64, orientation domain.Orientation) (domain.PageGeometry, error) {
	dims, ok := namedSizes[strings.ToUpper(strings.TrimSpace(size))]
	if !ok {
		return domain.PageGeometry{}, domain.ValidationError(
			fmt.Sprintf("unknown page size %q (supported: %s)", size, strings.Join(SizeNames(), ", ")), nil)
	}
	unit = strings.ToLower(strings.TrimSpace(unit))
	if unit == "" {
		unit = "mm"
	}
	scale, ok := mmPerUnit[unit]
	if !ok {
		return domain.PageGeometry{}, domain.ValidationError(fmt.Sprintf("unknown unit %q", unit), nil)
	}
	if orientation == "" {
		orientation = domain.OrientationPortrait
	}

	g := domain.PageGeometry{
		SizeName:    strings.ToUpper(strings.TrimSpace(size)),
		Unit:        unit,
		Width:       dims[0] / scale,
		Height:      dims[1] / scale,
		Margin:      margin,
		Orientation: orientation,
	}
	if err := Validate(g); err != nil {
		return domain.PageGeometry{}, err
	}
	return g, nil
}

// Validate checks that the margin leaves a printable area on the page.
func Validate(g domain.PageGeometry) error {
	if g.Width <= 0 || g.Height <= 0 {
		return domain.ValidationError(fmt.Sprintf("page size must be positive, got %gx%g", g.Width, g.Height), nil)
	}
	if g.Margin < 0 {
		return domain.ValidationError(fmt.Sprintf("margin must not be negative, got %g", g.Margin), nil)
	}
	if g.PrintableWidth() <= 0 || g.PrintableHeight() <= 0 {
		return domain.ValidationError(fmt.Sprintf("margin %g leaves no printable area on a %gx%g page",
			g.Margin, g.Width, g.Height), nil)
	}
	return nil
}

// PageFor returns the page an image of the given pixel size is placed on,
// applying the geometry's orientation policy.
func PageFor(g domain.PageGeometry, imgW, imgH int) domain.PageGeometry {
	switch g.Orientation {
	case domain.OrientationLandscape:
		return g.Landscape()
	case domain.OrientationAuto:
		if imgW > imgH {
			return g.Landscape()
		}
	}
	return g
}

// Fit scales an image to the printable area of g, keeping its aspect
// ratio, and centres it on the page. The image is fitted width-first; if
// that overflows the printable height it is fitted height-first instead.
func Fit(imgW, imgH int, g domain.PageGeometry) (domain.PageLayout, error) {
	if imgW <= 0 || imgH <= 0 {
		return domain.PageLayout{}, domain.ValidationError(
			fmt.Sprintf("image dimensions must be positive, got %dx%d", imgW, imgH), nil)
	}
	if err := Validate(g); err != nil {
		return domain.PageLayout{}, err
	}

	ratio := float64(imgW) / float64(imgH)
	maxW := g.PrintableWidth()
	maxH := g.PrintableHeight()

	w := maxW
	h := w / ratio
	if h > maxH {
		h = maxH
		w = h * ratio
	}

	return domain.PageLayout{
		PageWidth:  g.Width,
		PageHeight: g.Height,
		X:          (g.Width - w) / 2,
		Y:          (g.Height - h) / 2,
		Width:      w,
		Height:     h,
	}, nil
}
