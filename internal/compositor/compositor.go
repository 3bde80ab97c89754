// Package compositor resolves GetMap requests into a single image, stacking
// multiple layers by priority.
package compositor

import (
	"cmp"
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"slices"
	"time"

	"github.com/mohammed-shakir/wmsd/internal/core/observability"
	"github.com/mohammed-shakir/wmsd/internal/geo"
	"github.com/mohammed-shakir/wmsd/internal/imaging"
	"github.com/mohammed-shakir/wmsd/internal/registry"
	"github.com/mohammed-shakir/wmsd/internal/wmserr"
)

// LayerSource is the part of the registry the compositor reads.
type LayerSource interface {
	Layer(name string) (registry.LayerDefinition, error)
}

// Request is a validated GetMap request with the bbox already in
// (west, south, east, north) order.
type Request struct {
	Width  int
	Height int
	BBox   geo.BBox
	Path   string
	Layers []string
	Styles []string
}

type Compositor struct {
	layers LayerSource
	logger *slog.Logger
}

func New(layers LayerSource, logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{layers: layers, logger: logger}
}

// Single renders one layer over the full request. A layer that does not
// intersect the request yields a transparent image without invoking the
// renderer.
func (c *Compositor) Single(ctx context.Context, def registry.LayerDefinition, req Request, style string) (image.Image, error) {
	if !geo.Intersects(req.BBox, def.BBox) {
		c.logger.DebugContext(ctx, "layer outside request bbox", "layer", def.Name, "bbox", req.BBox.String())
		return imaging.Transparent(req.Width, req.Height), nil
	}
	return c.render(ctx, def, registry.RenderRequest{
		Width:  req.Width,
		Height: req.Height,
		BBox:   req.BBox,
		Path:   req.Path,
		Layer:  def.Name,
		Style:  style,
	})
}

type pair struct {
	def   registry.LayerDefinition
	style string
}

// Multi stacks the requested layers onto a transparent canvas. Layers are
// drawn in descending priority so that the lowest priority ends up on top.
func (c *Compositor) Multi(ctx context.Context, req Request) (*image.RGBA, error) {
	if len(req.Layers) != len(req.Styles) {
		return nil, wmserr.New(wmserr.CodeMismatchedLayerStyleCount,
			"LAYERS has %d entries but STYLES has %d", len(req.Layers), len(req.Styles))
	}

	pairs := make([]pair, 0, len(req.Layers))
	for i, name := range req.Layers {
		def, err := c.layers.Layer(name)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair{def: def, style: req.Styles[i]})
	}
	slices.SortStableFunc(pairs, func(a, b pair) int {
		return cmp.Compare(b.def.Priority, a.def.Priority)
	})

	base := imaging.Transparent(req.Width, req.Height)
	full := req.BBox
	lonSpan, latSpan := full.Width(), full.Height()
	w, h := float64(req.Width), float64(req.Height)

	for _, p := range pairs {
		sub, ok := geo.Intersection(full, p.def.BBox)
		if !ok {
			continue
		}
		subW := int(w / lonSpan * sub.Width())
		subH := int(h / latSpan * sub.Height())
		if subW <= 0 || subH <= 0 {
			continue
		}

		img, err := c.render(ctx, p.def, registry.RenderRequest{
			Width:  subW,
			Height: subH,
			BBox:   sub,
			Path:   req.Path,
			Layer:  p.def.Name,
			Style:  p.style,
		})
		if err != nil {
			return nil, err
		}
		img = imaging.EnsureAlpha(img)

		x := int((sub.West - full.West) / lonSpan * w)
		y := int((full.North - sub.North) / latSpan * h)
		sb := img.Bounds()
		dst := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
		draw.Draw(base, dst, img, sb.Min, draw.Over)
	}

	return base, nil
}

func (c *Compositor) render(ctx context.Context, def registry.LayerDefinition, rr registry.RenderRequest) (image.Image, error) {
	start := time.Now()
	img, err := def.Render(ctx, rr)
	observability.ObserveRender("layer", def.Name, err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("render layer %q: %w", def.Name, err)
	}
	if img == nil {
		return nil, fmt.Errorf("render layer %q: renderer returned no image", def.Name)
	}
	return img, nil
}
