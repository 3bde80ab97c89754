// Package sample provides synthetic layers that draw wherever the client
// looks: coloured edges with request details, and an ellipse.
package sample

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wmsd/internal/geo"
	"github.com/mohammed-shakir/wmsd/internal/imaging"
	"github.com/mohammed-shakir/wmsd/internal/logger"
	"github.com/mohammed-shakir/wmsd/internal/modules"
	"github.com/mohammed-shakir/wmsd/internal/registry"
)

const (
	EdgeLayer    = "edge_layer"
	EllipseLayer = "ellipse_layer"

	StyleLinear      = "linear"
	StyleLinear2     = "linear2"
	StyleCategorical = "categorical"
)

var categories = []string{"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten_longer"}

func init() {
	modules.Register("sample", Register)
}

func Register(_ context.Context, reg *registry.Registry, _ modules.Deps) error {
	styles := []registry.StyleDefinition{
		{Name: StyleLinear, Legend: linearLegend(imaging.Blues, "Bottom", "Top")},
		{Name: StyleLinear2, Legend: linearLegend(imaging.Fire, "Cold", "Hot")},
		{Name: StyleCategorical, Legend: func(context.Context, string, string) (image.Image, error) {
			return imaging.CategoricalLegend(categories, imaging.Glasby)
		}},
	}
	for _, s := range styles {
		if err := reg.RegisterStyle(s); err != nil {
			return err
		}
	}

	layers := []registry.Layer{
		{
			Name:     EdgeLayer,
			Title:    "Edge layer",
			Abstract: "Provides a transparent image with multi-colored edges.",
			BBox:     geo.World,
			Styles:   []string{StyleLinear, StyleLinear2},
			Render:   renderEdges,
		},
		{
			Name:     EllipseLayer,
			Title:    "Ellipse layer",
			Abstract: "An image consisting of an ellipse.",
			BBox:     geo.World,
			Styles:   []string{StyleCategorical},
			Render:   renderEllipse,
		},
	}
	for _, l := range layers {
		if _, err := reg.RegisterLayer(l); err != nil {
			return err
		}
	}

	return reg.RegisterTreeProvider(func() []registry.LayerNode {
		return []registry.LayerNode{
			registry.Group("Sample layers", "Provides some sample layers.",
				registry.Leaf(EdgeLayer),
				registry.Leaf(EllipseLayer),
			),
		}
	})
}

func linearLegend(stops imaging.Palette, low, high string) registry.LegendFunc {
	pal := stops.Gradient(imaging.LinearLegendHeight)
	return func(context.Context, string, string) (image.Image, error) {
		return imaging.LinearLegend(pal, low, high)
	}
}

var (
	textBlue = color.NRGBA{B: 127, A: 0xff}
	textRed  = color.NRGBA{R: 127, A: 0xff}
	textBox  = color.NRGBA{R: 255, G: 255, B: 255, A: 192}
)

func renderEdges(ctx context.Context, req registry.RenderRequest) (image.Image, error) {
	w, h := float64(req.Width), float64(req.Height)
	dc := imaging.NewContext(req.Width, req.Height)
	dc.SetLineWidth(1)

	edges := []struct {
		x1, y1, x2, y2 float64
		c              color.Color
	}{
		{0, 0.5, w, 0.5, color.NRGBA{R: 255, A: 255}},
		{w - 0.5, 0, w - 0.5, h, color.NRGBA{G: 255, A: 255}},
		{w, h - 0.5, 0, h - 0.5, color.NRGBA{B: 255, A: 255}},
		{0.5, h, 0.5, 0, color.NRGBA{A: 255}},
	}
	for _, e := range edges {
		dc.SetColor(e.c)
		dc.DrawLine(e.x1, e.y1, e.x2, e.y2)
		dc.Stroke()
	}

	dc.SetColor(imaging.HashColor(req.Layer, req.BBox.String(), req.Path))
	dc.DrawLine(0, 0, w, h)
	dc.DrawLine(0, h, w, 0)
	dc.Stroke()

	text := info(req, logger.RequestID(ctx))
	tw, th := dc.MeasureMultilineString(text, 1)
	dc.SetColor(textBox)
	dc.DrawRectangle(1, 1, tw+2, th+2)
	dc.Fill()

	fill := textRed
	if req.Style == StyleLinear {
		fill = textBlue
	}
	dc.SetColor(fill)
	dc.DrawStringWrapped(text, 2, 2, 0, 0, tw+1, 1, 0)

	return dc.Image(), nil
}

func info(req registry.RenderRequest, reqID string) string {
	b := req.BBox
	lines := []string{
		fmt.Sprintf("wxh=%dx%d", req.Width, req.Height),
		fmt.Sprintf("w=%s e=%s", ff(b.West), ff(b.East)),
		fmt.Sprintf("s=%s n=%s", ff(b.South), ff(b.North)),
		"path=" + req.Path,
		"layer=" + req.Layer,
	}
	if reqID != "" {
		lines = append(lines, "request="+reqID)
	}
	return strings.Join(lines, "\n")
}

func renderEllipse(_ context.Context, req registry.RenderRequest) (image.Image, error) {
	w, h := float64(req.Width), float64(req.Height)
	dc := imaging.NewContext(req.Width, req.Height)
	dc.SetLineWidth(1)
	dc.SetColor(imaging.HashColor(req.Layer, req.BBox.String(), req.Path))
	dc.DrawEllipse(w/2, h/2, w/2-0.5, h/2-0.5)
	dc.Stroke()
	return dc.Image(), nil
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
