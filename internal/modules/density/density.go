// Package density renders point datasets stored in Redis as count heatmaps.
// The request path token selects the dataset.
package density

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"

	"github.com/mohammed-shakir/wmsd/internal/imaging"
	"github.com/mohammed-shakir/wmsd/internal/modules"
	"github.com/mohammed-shakir/wmsd/internal/registry"
)

const (
	Layer      = "point_density"
	StyleFire  = "density_fire"
	StyleBlues = "density_blues"
	StyleGlow  = "density_glow"

	CategoryLayer   = "point_categories"
	StyleCategories = "density_categories"

	// points are drawn 3px wide when fewer than this share of pixels is lit
	spreadThreshold = 0.3
	// alpha of the sparsest categorized pixel
	minCategoryAlpha = 40
)

var palettes = map[string]imaging.Palette{
	StyleFire:  imaging.Fire.Gradient(imaging.LinearLegendHeight),
	StyleBlues: imaging.Blues.Gradient(imaging.LinearLegendHeight),
	StyleGlow:  imaging.Glow.Gradient(imaging.LinearLegendHeight),
}

func init() {
	modules.Register("density", Register)
}

type renderer struct {
	store       *Store
	defaultName string
}

func Register(ctx context.Context, reg *registry.Registry, deps modules.Deps) error {
	if deps.Redis == nil {
		return fmt.Errorf("density: redis is not configured")
	}
	store, err := NewStore(deps.Redis, deps.Config.DatasetCacheSize, deps.Config.RedisOpTimeout, deps.Logger)
	if err != nil {
		return err
	}
	if deps.Invalidation != nil {
		deps.Invalidation.Subscribe(store.Evict)
	}
	name := deps.Config.DensityDataset
	if name == "" {
		name = "default"
	}

	ds, err := store.Get(ctx, name)
	if err != nil {
		return err
	}
	if len(ds.Points) == 0 {
		return fmt.Errorf("%w: %q", ErrEmptyDataset, name)
	}

	for _, st := range []string{StyleFire, StyleBlues, StyleGlow} {
		pal := palettes[st]
		err := reg.RegisterStyle(registry.StyleDefinition{
			Name: st,
			Legend: func(context.Context, string, string) (image.Image, error) {
				return imaging.LinearLegend(pal, "Low", "High")
			},
		})
		if err != nil {
			return err
		}
	}

	r := &renderer{store: store, defaultName: name}
	err = reg.RegisterStyle(registry.StyleDefinition{
		Name:   StyleCategories,
		Legend: r.categoryLegend,
	})
	if err != nil {
		return err
	}

	_, err = reg.RegisterLayer(registry.Layer{
		Name:     Layer,
		Title:    "Point density",
		Abstract: fmt.Sprintf("Point counts of dataset %q; the request path selects another dataset.", name),
		BBox:     ds.Extent,
		Priority: registry.Priority(2),
		Styles:   []string{StyleFire, StyleBlues, StyleGlow},
		Render:   r.render,
	})
	if err != nil {
		return err
	}
	_, err = reg.RegisterLayer(registry.Layer{
		Name:     CategoryLayer,
		Title:    "Point categories",
		Abstract: fmt.Sprintf("Points of dataset %q coloured by their %d most frequent categories.", name, maxCategories),
		BBox:     ds.Extent,
		Priority: registry.Priority(3),
		Styles:   []string{StyleCategories},
		Render:   r.renderCategories,
	})
	if err != nil {
		return err
	}
	return reg.RegisterTreeProvider(func() []registry.LayerNode {
		return []registry.LayerNode{
			registry.Group("Point density", "Heatmaps of point datasets.",
				registry.Leaf(Layer), registry.Leaf(CategoryLayer)),
		}
	})
}

func (r *renderer) dataset(ctx context.Context, path string) (*Dataset, error) {
	if path == "" {
		path = r.defaultName
	}
	return r.store.Get(ctx, path)
}

func (r *renderer) render(ctx context.Context, req registry.RenderRequest) (image.Image, error) {
	ds, err := r.dataset(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	pal, ok := palettes[req.Style]
	if !ok {
		pal = palettes[StyleFire]
	}
	counts := aggregate(ds, req)
	return shade(counts, req.Width, req.Height, pal), nil
}

// aggregate counts the points falling in each pixel, row-major from the
// north-west corner.
func aggregate(ds *Dataset, req registry.RenderRequest) []int {
	counts := make([]int, req.Width*req.Height)
	eachPixel(ds, req, func(_, px int) { counts[px]++ })
	return counts
}

// eachPixel calls fn with the index of every point inside the request bbox
// and the row-major pixel it falls in.
func eachPixel(ds *Dataset, req registry.RenderRequest, fn func(i, px int)) {
	w, h := req.Width, req.Height
	bb := req.BBox
	bound := bb.Bound()
	sx := float64(w) / bb.Width()
	sy := float64(h) / bb.Height()
	if !finite(sx) || !finite(sy) || sx <= 0 || sy <= 0 {
		return
	}
	for i, p := range ds.Points {
		if !bound.Contains(p) {
			continue
		}
		fx, fy := (p.Lon()-bb.West)*sx, (bb.North-p.Lat())*sy
		if !finite(fx) || !finite(fy) {
			continue
		}
		x := max(0, min(int(fx), w-1))
		y := max(0, min(int(fy), h-1))
		fn(i, y*w+x)
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// shade colours counts by histogram equalization: each distinct count maps
// to its rank among all distinct counts. Empty pixels stay transparent.
func shade(counts []int, w, h int, pal imaging.Palette) *image.NRGBA {
	return shadeWith(counts, w, h, func(_ int, rank float64) color.NRGBA { return pal.At(rank) })
}

// shadeWith is shade with the pixel colour chosen by colorOf from the pixel
// index and its equalized rank.
func shadeWith(counts []int, w, h int, colorOf func(px int, rank float64) color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	var distinct []int
	lit := 0
	for _, c := range counts {
		if c > 0 {
			distinct = append(distinct, c)
			lit++
		}
	}
	if lit == 0 {
		return img
	}
	slices.Sort(distinct)
	distinct = slices.Compact(distinct)
	rank := make(map[int]float64, len(distinct))
	for i, c := range distinct {
		if len(distinct) == 1 {
			rank[c] = 1
		} else {
			rank[c] = float64(i) / float64(len(distinct)-1)
		}
	}

	spread := 0
	if float64(lit)/float64(len(counts)) < spreadThreshold {
		spread = 1
	}
	for y := range h {
		for x := range w {
			c := counts[y*w+x]
			if c == 0 {
				continue
			}
			col := colorOf(y*w+x, rank[c])
			for dy := -spread; dy <= spread; dy++ {
				for dx := -spread; dx <= spread; dx++ {
					px, py := x+dx, y+dy
					if px < 0 || py < 0 || px >= w || py >= h {
						continue
					}
					// denser pixels win where spreads overlap
					if counts[py*w+px] > c {
						continue
					}
					img.SetNRGBA(px, py, col)
				}
			}
		}
	}
	return img
}

func (r *renderer) categoryLegend(ctx context.Context, path, _ string) (image.Image, error) {
	ds, err := r.dataset(ctx, path)
	if err != nil {
		return nil, err
	}
	return imaging.CategoricalLegend(ds.Top, imaging.Glasby)
}

// renderCategories blends the colours of the categories present in each
// pixel by their counts. Opacity follows the equalized total count.
func (r *renderer) renderCategories(ctx context.Context, req registry.RenderRequest) (image.Image, error) {
	ds, err := r.dataset(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	n := req.Width * req.Height
	counts := make([]int, n)
	sums := make([][3]float64, n)
	eachPixel(ds, req, func(i, px int) {
		c := ds.Category(i)
		if c < 0 || c >= len(imaging.Glasby) {
			return
		}
		col := imaging.Glasby[c]
		counts[px]++
		sums[px][0] += float64(col.R)
		sums[px][1] += float64(col.G)
		sums[px][2] += float64(col.B)
	})
	return shadeWith(counts, req.Width, req.Height, func(px int, rank float64) color.NRGBA {
		k := float64(counts[px])
		return color.NRGBA{
			R: uint8(math.Round(sums[px][0] / k)),
			G: uint8(math.Round(sums[px][1] / k)),
			B: uint8(math.Round(sums[px][2] / k)),
			A: uint8(minCategoryAlpha + math.Round(rank*(255-minCategoryAlpha))),
		}
	}), nil
}
