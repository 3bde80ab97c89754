package density

import (
	"context"
	"errors"
	"fmt"
	"cmp"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wmsd/internal/cache/keys"
	"github.com/mohammed-shakir/wmsd/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmsd/internal/core/observability"
	"github.com/mohammed-shakir/wmsd/internal/geo"
)

var ErrEmptyDataset = errors.New("dataset has no points")

const (
	// extentPad keeps single-point datasets from having an empty extent.
	extentPad = 1e-6

	maxCategories = 10
)

// Dataset is an immutable set of points loaded from Redis.
type Dataset struct {
	Name   string
	Points []orb.Point
	Extent geo.BBox

	// Top holds the most frequent categories in name order; colour i of the
	// categorical palette belongs to Top[i].
	Top []string
	// catIndex maps each point to its Top entry, or -1.
	catIndex []int
}

func NewDataset(name string, pts []orb.Point) *Dataset {
	return NewCategorizedDataset(name, pts, nil)
}

// NewCategorizedDataset keeps the maxCategories most frequent non-empty
// categories. cats is parallel to pts; a nil slice means none.
func NewCategorizedDataset(name string, pts []orb.Point, cats []string) *Dataset {
	ds := &Dataset{Name: name, Points: pts}
	if len(pts) > 0 {
		ext := geo.FromBound(orb.MultiPoint(pts).Bound().Pad(extentPad))
		ds.Extent, _ = geo.Intersection(ext, geo.World)
	}
	if len(cats) != len(pts) {
		return ds
	}

	freq := map[string]int{}
	for _, c := range cats {
		if c != "" {
			freq[c]++
		}
	}
	for c := range freq {
		ds.Top = append(ds.Top, c)
	}
	slices.SortFunc(ds.Top, func(a, b string) int {
		if n := cmp.Compare(freq[b], freq[a]); n != 0 {
			return n
		}
		return cmp.Compare(a, b)
	})
	if len(ds.Top) > maxCategories {
		ds.Top = ds.Top[:maxCategories]
	}
	slices.Sort(ds.Top)

	ds.catIndex = make([]int, len(cats))
	for i, c := range cats {
		ds.catIndex[i] = -1
		if c == "" {
			continue
		}
		if j, ok := slices.BinarySearch(ds.Top, c); ok {
			ds.catIndex[i] = j
		}
	}
	return ds
}

// Category returns the Top index of point i, or -1 when it has none or its
// category is not among the most frequent.
func (d *Dataset) Category(i int) int {
	if d.catIndex == nil {
		return -1
	}
	return d.catIndex[i]
}

// FormatPoint is the stored form of a point: "lon,lat".
func FormatPoint(p orb.Point) string {
	return strconv.FormatFloat(p.Lon(), 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat(), 'f', -1, 64)
}

func ParsePoint(s string) (orb.Point, error) {
	lonS, latS, ok := strings.Cut(s, ",")
	if !ok {
		return orb.Point{}, fmt.Errorf("point %q: want lon,lat", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("point %q lon: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("point %q lat: %w", s, err)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return orb.Point{}, fmt.Errorf("point %q out of range", s)
	}
	return orb.Point{lon, lat}, nil
}

// FormatRow is the stored form of a categorized point: "lon,lat,category".
// An empty category stores a plain point.
func FormatRow(p orb.Point, category string) string {
	if category == "" {
		return FormatPoint(p)
	}
	return FormatPoint(p) + "," + category
}

// ParseRow accepts "lon,lat" or "lon,lat,category". Everything after the
// second comma is the category.
func ParseRow(s string) (orb.Point, string, error) {
	f := strings.SplitN(s, ",", 3)
	if len(f) < 2 {
		return orb.Point{}, "", fmt.Errorf("point %q: want lon,lat[,category]", s)
	}
	p, err := ParsePoint(f[0] + "," + f[1])
	if err != nil {
		return orb.Point{}, "", err
	}
	if len(f) == 3 {
		return p, strings.TrimSpace(f[2]), nil
	}
	return p, "", nil
}

// Store loads datasets from Redis and keeps the most recently used ones in
// memory.
type Store struct {
	redis   *redisstore.Shared
	cache   *lru.Cache[string, *Dataset]
	timeout time.Duration
	logger  *slog.Logger
}

func NewStore(redis *redisstore.Shared, size int, timeout time.Duration, logger *slog.Logger) (*Store, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, *Dataset](size)
	if err != nil {
		return nil, fmt.Errorf("dataset cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{redis: redis, cache: c, timeout: timeout, logger: logger}, nil
}

func (s *Store) Get(ctx context.Context, name string) (*Dataset, error) {
	if ds, ok := s.cache.Get(name); ok {
		observability.IncLookupHit("dataset")
		return ds, nil
	}
	observability.IncLookupMiss("dataset")

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	c, err := s.redis.Get(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.LRange(ctx, keys.Dataset(name))
	if err != nil {
		return nil, fmt.Errorf("load dataset %q: %w", name, err)
	}

	pts := make([]orb.Point, 0, len(rows))
	cats := make([]string, 0, len(rows))
	bad := 0
	for _, row := range rows {
		p, cat, err := ParseRow(row)
		if err != nil {
			bad++
			continue
		}
		pts = append(pts, p)
		cats = append(cats, cat)
	}
	if bad > 0 {
		s.logger.WarnContext(ctx, "skipped malformed points", "dataset", name, "count", bad)
	}

	ds := NewCategorizedDataset(name, pts, cats)
	s.cache.Add(name, ds)
	s.logger.DebugContext(ctx, "dataset loaded", "dataset", name, "points", len(pts), "categories", len(ds.Top))
	return ds, nil
}

// Evict drops name from the cache so the next request reloads it.
func (s *Store) Evict(name string) bool {
	return s.cache.Remove(name)
}
