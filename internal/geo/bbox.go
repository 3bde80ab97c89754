// Package geo holds the bounding-box type and the spatial predicates used to
// decide which layers take part in a map request.
package geo

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
)

// BBox is an extent in longitude/latitude degrees.
type BBox struct {
	West, South, East, North float64
}

// World is the whole EPSG:4326 extent.
var World = BBox{West: -180, South: -90, East: 180, North: 90}

func (b BBox) String() string {
	return fmt.Sprintf("%s,%s,%s,%s", ff(b.West), ff(b.South), ff(b.East), ff(b.North))
}

func (b BBox) Width() float64  { return b.East - b.West }
func (b BBox) Height() float64 { return b.North - b.South }

// Valid reports whether the edges are ordered (zero-area boxes are valid).
func (b BBox) Valid() bool {
	return b.West <= b.East && b.South <= b.North
}

func (b BBox) IsZero() bool { return b == BBox{} }

// Bound converts to an orb.Bound with X as longitude.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

func FromBound(bd orb.Bound) BBox {
	return BBox{West: bd.Min.X(), South: bd.Min.Y(), East: bd.Max.X(), North: bd.Max.Y()}
}

// Intersects is the rectangle overlap test; touching edges count.
func Intersects(a, b BBox) bool {
	return a.Bound().Intersects(b.Bound())
}

// Intersection returns the overlapping rectangle of a and b.
// ok is false exactly when Intersects(a, b) is false.
func Intersection(a, b BBox) (BBox, bool) {
	if !Intersects(a, b) {
		return BBox{}, false
	}
	return BBox{
		West:  max(a.West, b.West),
		South: max(a.South, b.South),
		East:  min(a.East, b.East),
		North: min(a.North, b.North),
	}, true
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
