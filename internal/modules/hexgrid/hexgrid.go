// Package hexgrid draws the H3 cell tessellation of the requested area,
// choosing the resolution from the map scale.
package hexgrid

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/wmsd/internal/geo"
	"github.com/mohammed-shakir/wmsd/internal/imaging"
	"github.com/mohammed-shakir/wmsd/internal/modules"
	"github.com/mohammed-shakir/wmsd/internal/registry"
)

const (
	Layer     = "h3_cells"
	StyleTint = "h3_tint"

	maxCells = 40000
)

func init() {
	modules.Register("hexgrid", Register)
}

type renderer struct {
	minRes, maxRes int
	logger         *slog.Logger
}

func Register(_ context.Context, reg *registry.Registry, deps modules.Deps) error {
	r := &renderer{minRes: deps.Config.H3ResMin, maxRes: deps.Config.H3ResMax, logger: deps.Logger}
	if r.maxRes <= 0 || r.minRes > r.maxRes {
		r.minRes, r.maxRes = 2, 9
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	labels := make([]string, len(imaging.Glasby))
	for i := range labels {
		labels[i] = fmt.Sprintf("group %d", i+1)
	}
	err := reg.RegisterStyle(registry.StyleDefinition{
		Name: StyleTint,
		Legend: func(context.Context, string, string) (image.Image, error) {
			return imaging.CategoricalLegend(labels, imaging.Glasby)
		},
	})
	if err != nil {
		return err
	}

	_, err = reg.RegisterLayer(registry.Layer{
		Name:     Layer,
		Title:    "H3 cells",
		Abstract: fmt.Sprintf("H3 hexagonal grid, resolution %d to %d depending on scale.", r.minRes, r.maxRes),
		BBox:     geo.World,
		Styles:   []string{StyleTint},
		Render:   r.render,
	})
	return err
}

func (r *renderer) render(ctx context.Context, req registry.RenderRequest) (image.Image, error) {
	bb := req.BBox
	res := Resolution(bb, req.Width, r.minRes, r.maxRes)
	cells, err := CellsForBBox(bb, res)
	if err != nil {
		return nil, err
	}
	for len(cells) > maxCells && res > 0 {
		res--
		if cells, err = CellsForBBox(bb, res); err != nil {
			return nil, err
		}
	}
	r.logger.DebugContext(ctx, "hexgrid render", "res", res, "cells", len(cells))

	dc := imaging.NewContext(req.Width, req.Height)
	dc.SetLineWidth(1)
	sx := float64(req.Width) / bb.Width()
	sy := float64(req.Height) / bb.Height()

	for _, c := range cells {
		boundary, err := c.Boundary()
		if err != nil {
			return nil, fmt.Errorf("h3 boundary %s: %w", c, err)
		}
		if len(boundary) < 3 || crossesAntimeridian(boundary) {
			continue
		}
		for i, ll := range boundary {
			x, y := (ll.Lng-bb.West)*sx, (bb.North-ll.Lat)*sy
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()

		fill := tint(c)
		if req.Style == "" || req.Style == StyleTint {
			fill.A = 96
		} else {
			fill.A = 0
		}
		dc.SetColor(fill)
		dc.FillPreserve()
		dc.SetColor(color.NRGBA{R: 40, G: 40, B: 40, A: 200})
		dc.Stroke()
	}
	return dc.Image(), nil
}

// tint assigns a cell one of the legend's colours.
func tint(c h3.Cell) color.NRGBA {
	i := xxhash.Sum64String(c.String()) % uint64(len(imaging.Glasby))
	return imaging.Glasby[i]
}
