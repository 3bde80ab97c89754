package hexgrid

import (
	"errors"
	"fmt"
	"math"
	"slices"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/wmsd/internal/geo"
)

// average hexagon edge length in km, by resolution
var edgeKm = [16]float64{
	1281.256011, 483.0568391, 182.5129565, 68.97922179,
	26.07175968, 9.854090990, 3.724532667, 1.406475763,
	0.531414010, 0.200786148, 0.075863783, 0.028663897,
	0.010830188, 0.004092010, 0.001546100, 0.000584169,
}

const (
	kmPerDegree = 111.32
	// cells narrower than this many pixels are not drawn legibly
	minCellPx = 12.0
	// polyfill strips stay well under 180 degrees so edges are unambiguous
	maxStripDeg = 90.0
	maxLat      = 89.9
)

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// Resolution picks the finest resolution in [minRes, maxRes] whose cells are
// at least minCellPx wide at the request's pixel scale.
func Resolution(bb geo.BBox, width, minRes, maxRes int) int {
	if width <= 0 || bb.Width() <= 0 {
		return minRes
	}
	midLat := (bb.South + bb.North) / 2
	cos := math.Max(math.Cos(midLat*math.Pi/180), 0.01)
	kmPerPx := bb.Width() / float64(width) * kmPerDegree * cos

	res := minRes
	for r := minRes; r <= maxRes; r++ {
		if 2*edgeKm[r]/kmPerPx < minCellPx {
			break
		}
		res = r
	}
	return res
}

// CellsForBBox returns the sorted, unique cells covering bb padded by one
// cell edge, so cells straddling the border are included.
func CellsForBBox(bb geo.BBox, res int) ([]h3.Cell, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if !bb.Valid() {
		return nil, errors.New("invalid bbox")
	}
	pad := edgeKm[res] / kmPerDegree
	south := math.Max(bb.South-pad, -maxLat)
	north := math.Min(bb.North+pad, maxLat)
	west := math.Max(bb.West-pad, -180)
	east := math.Min(bb.East+pad, 180)
	if south >= north || west >= east {
		return nil, nil
	}

	seen := map[h3.Cell]struct{}{}
	var out []h3.Cell
	for x := west; x < east; x += maxStripDeg {
		x2 := math.Min(x+maxStripDeg, east)
		outer := h3.GeoLoop{
			{Lat: south, Lng: x},
			{Lat: south, Lng: x2},
			{Lat: north, Lng: x2},
			{Lat: north, Lng: x},
		}
		cells, err := polyfill(outer, res)
		if err != nil {
			return nil, err
		}
		for _, c := range cells {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out, nil
}

func polyfill(outer h3.GeoLoop, res int) ([]h3.Cell, error) {
	if len(outer) < 4 {
		return nil, errors.New("outer ring has < 4 vertices")
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	return cells, nil
}

// crossesAntimeridian reports boundaries whose longitudes wrap around.
func crossesAntimeridian(b h3.CellBoundary) bool {
	lo, hi := 180.0, -180.0
	for _, ll := range b {
		lo = math.Min(lo, ll.Lng)
		hi = math.Max(hi, ll.Lng)
	}
	return hi-lo > 180
}
