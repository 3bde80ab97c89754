package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

const (
	// LinearLegendHeight is the fixed height of a linear legend; palettes
	// passed to LinearLegend must have exactly this many colors.
	LinearLegendHeight = 128

	swatchWidth = 16
	legendPad   = 3
)

// LinearLegend draws a vertical color bar with high/low labels.
func LinearLegend(pal Palette, low, high string) (image.Image, error) {
	if len(pal) != LinearLegendHeight {
		return nil, fmt.Errorf("linear legend: palette length must be %d, got %d", LinearLegendHeight, len(pal))
	}

	textWidth := 0.0
	measure := NewContext(1, 1)
	for _, t := range []string{low, high} {
		w, _ := measure.MeasureString(t)
		textWidth = math.Max(textWidth, w)
	}

	w := swatchWidth + legendPad + int(math.Ceil(textWidth)) + legendPad
	dc := NewContext(w, LinearLegendHeight)
	dc.SetColor(color.White)
	dc.Clear()

	// highest value at the top
	for i := range pal {
		dc.SetColor(pal[len(pal)-1-i])
		dc.DrawRectangle(0, float64(i), swatchWidth, 1)
		dc.Fill()
	}

	dc.SetColor(color.Black)
	x := float64(swatchWidth + legendPad)
	dc.DrawStringAnchored(high, x, legendPad, 0, 1)
	dc.DrawStringAnchored(low, x, LinearLegendHeight-legendPad, 0, 0)

	return dc.Image(), nil
}

// CategoricalLegend draws one colored square per category with its label.
func CategoricalLegend(cats []string, pal Palette) (image.Image, error) {
	if len(cats) == 0 {
		return nil, fmt.Errorf("categorical legend: no categories")
	}
	if len(pal) < len(cats) {
		return nil, fmt.Errorf("categorical legend: %d colors for %d categories", len(pal), len(cats))
	}

	measure := NewContext(1, 1)
	tw, th := measure.MeasureMultilineString(strings.Join(cats, "\n"), 1)

	w := swatchWidth + legendPad + int(math.Ceil(tw)) + legendPad
	h := int(math.Ceil(th)) + legendPad
	dc := NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()

	rowH := th / float64(len(cats))
	for i, c := range cats {
		y0 := float64(i)*rowH + 1
		dc.SetColor(pal[i])
		dc.DrawRectangle(0, y0, swatchWidth, rowH)
		dc.Fill()
		dc.SetColor(color.Black)
		dc.SetLineWidth(1)
		dc.DrawRectangle(0.5, y0+0.5, swatchWidth-1, rowH-1)
		dc.Stroke()
		dc.DrawStringAnchored(c, swatchWidth+legendPad, y0+rowH/2, 0, 0.35)
	}

	return dc.Image(), nil
}

// NewContext is a transparent gg canvas with the bundled bitmap font.
func NewContext(w, h int) *gg.Context {
	dc := gg.NewContext(w, h)
	dc.SetFontFace(basicfont.Face7x13)
	return dc
}
