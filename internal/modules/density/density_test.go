package density

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wmsd/internal/cache/keys"
	"github.com/mohammed-shakir/wmsd/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmsd/internal/core/config"
	"github.com/mohammed-shakir/wmsd/internal/geo"
	"github.com/mohammed-shakir/wmsd/internal/imaging"
	"github.com/mohammed-shakir/wmsd/internal/invalidation"
	"github.com/mohammed-shakir/wmsd/internal/modules"
	"github.com/mohammed-shakir/wmsd/internal/registry"
)

func seed(t *testing.T, name string, rows ...string) (*miniredis.Miniredis, *redisstore.Shared) {
	t.Helper()
	mr := miniredis.RunT(t)
	if len(rows) > 0 {
		if _, err := mr.RPush(keys.Dataset(name), rows...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	sh := redisstore.NewShared(mr.Addr())
	t.Cleanup(func() { _ = sh.Close() })
	return mr, sh
}

func deps(sh *redisstore.Shared) modules.Deps {
	return modules.Deps{
		Config: config.Config{DensityDataset: "default", DatasetCacheSize: 4, RedisOpTimeout: time.Second},
		Redis:  sh,
	}
}

func TestRegister_ExtentFromDataset(t *testing.T) {
	_, sh := seed(t, "default", "10,20", "12,24", "11,21", "bogus")
	r := registry.New()
	if err := Register(context.Background(), r, deps(sh)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	def, err := r.Layer(Layer)
	if err != nil {
		t.Fatal(err)
	}
	if def.Priority != 2 {
		t.Fatalf("priority got %d want 2", def.Priority)
	}
	bb := def.BBox
	if bb.West > 10 || bb.West < 9.99 || bb.North < 24 || bb.North > 24.01 {
		t.Fatalf("extent got %v", bb)
	}
	for _, st := range []string{StyleFire, StyleBlues, StyleGlow} {
		sd, err := r.Style(st)
		if err != nil {
			t.Fatalf("style %s: %v", st, err)
		}
		img, err := sd.Legend(context.Background(), "", st)
		if err != nil {
			t.Fatalf("legend %s: %v", st, err)
		}
		if img.Bounds().Dy() != 128 {
			t.Fatalf("legend height got %d want 128", img.Bounds().Dy())
		}
	}
	if len(r.TreeProviders()) != 1 {
		t.Fatalf("tree providers got %d want 1", len(r.TreeProviders()))
	}
}

func TestRegister_EmptyDefault(t *testing.T) {
	_, sh := seed(t, "default")
	err := Register(context.Background(), registry.New(), deps(sh))
	if !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("got %v want ErrEmptyDataset", err)
	}
}

func TestRegister_NoRedis(t *testing.T) {
	if err := Register(context.Background(), registry.New(), modules.Deps{}); err == nil {
		t.Fatal("expected error without redis")
	}
}

func TestRender_Counts(t *testing.T) {
	// three points in the north-west pixel, one in the south-east one
	_, sh := seed(t, "default", "0.5,9.5", "0.5,9.5", "0.6,9.6", "9.5,0.5")
	store, err := NewStore(sh, 4, time.Second, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := &renderer{store: store, defaultName: "default"}
	img, err := r.render(context.Background(), registry.RenderRequest{
		Width: 10, Height: 10,
		BBox:  geo.BBox{West: 0, South: 0, East: 10, North: 10},
		Layer: Layer, Style: StyleBlues,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	pal := palettes[StyleBlues]
	hi := img.At(0, 0)
	if hi != pal[len(pal)-1] {
		t.Fatalf("dense pixel got %v want %v", hi, pal[len(pal)-1])
	}
	if got := img.At(9, 9); got != pal[0] {
		t.Fatalf("sparse pixel got %v want %v", got, pal[0])
	}
	// sparse coverage spreads points by one pixel
	if _, _, _, a := img.At(8, 8).RGBA(); a == 0 {
		t.Fatal("expected spread next to the south-east point")
	}
	if _, _, _, a := img.At(5, 5).RGBA(); a != 0 {
		t.Fatal("expected empty pixel to stay transparent")
	}
}

func TestRender_PathSelectsDataset(t *testing.T) {
	mr, sh := seed(t, "default", "1,1")
	if _, err := mr.RPush(keys.Dataset("day2"), "-5,-5"); err != nil {
		t.Fatal(err)
	}
	store, _ := NewStore(sh, 4, time.Second, nil)
	r := &renderer{store: store, defaultName: "default"}
	req := registry.RenderRequest{
		Width: 4, Height: 4,
		BBox: geo.BBox{West: -10, South: -10, East: 0, North: 0},
		Path: "day2",
	}
	img, err := r.render(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, a := img.At(2, 2).RGBA(); a == 0 {
		t.Fatal("expected day2 point painted")
	}

	req.Path = ""
	img, err = r.render(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	for y := range 4 {
		for x := range 4 {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0 {
				t.Fatalf("default dataset has nothing here, pixel %d,%d painted", x, y)
			}
		}
	}
}

func TestStore_CachesDatasets(t *testing.T) {
	mr, sh := seed(t, "default", "1,1")
	store, _ := NewStore(sh, 4, time.Second, nil)
	ctx := context.Background()
	first, err := store.Get(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mr.RPush(keys.Dataset("default"), "2,2"); err != nil {
		t.Fatal(err)
	}
	second, err := store.Get(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	if first != second || len(second.Points) != 1 {
		t.Fatalf("expected cached dataset, got %d points", len(second.Points))
	}
}

func TestParseFormatPoint(t *testing.T) {
	p, err := ParsePoint(" -73.98, 40.75")
	if err != nil {
		t.Fatal(err)
	}
	if p != (orb.Point{-73.98, 40.75}) {
		t.Fatalf("got %v", p)
	}
	if got := FormatPoint(p); got != "-73.98,40.75" {
		t.Fatalf("got %q", got)
	}
	for _, bad := range []string{"", "1", "a,1", "1,b", "181,0", "0,91"} {
		if _, err := ParsePoint(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestRegister_SubscribesToInvalidation(t *testing.T) {
	mr, sh := seed(t, "default", "1,1")
	hub := invalidation.NewHub()
	d := deps(sh)
	d.Invalidation = hub
	r := registry.New()
	if err := Register(context.Background(), r, d); err != nil {
		t.Fatal(err)
	}
	if _, err := mr.RPush(keys.Dataset("default"), "2,2"); err != nil {
		t.Fatal(err)
	}
	if n := hub.Dispatch("default"); n != 1 {
		t.Fatalf("evicted from %d caches, want 1", n)
	}
	def, _ := r.Layer(Layer)
	img, err := def.Render(context.Background(), registry.RenderRequest{
		Width: 2, Height: 2,
		BBox: geo.BBox{West: 1.5, South: 1.5, East: 2.5, North: 2.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, a := img.At(1, 1).RGBA(); a == 0 {
		t.Fatal("expected reloaded dataset to include the new point")
	}
}

func TestRender_NonFiniteBBoxIsEmpty(t *testing.T) {
	_, sh := seed(t, "default", "0,0", "1,1")
	store, _ := NewStore(sh, 4, time.Second, nil)
	r := &renderer{store: store, defaultName: "default"}
	for _, bb := range []geo.BBox{
		{West: math.Inf(-1), South: 0, East: math.Inf(1), North: 1},
		{West: math.NaN(), South: 0, East: 1, North: 1},
	} {
		img, err := r.render(context.Background(), registry.RenderRequest{Width: 4, Height: 4, BBox: bb})
		if err != nil {
			t.Fatalf("%v: %v", bb, err)
		}
		if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
			t.Fatalf("size %v", b)
		}
	}
}

func TestParseRow(t *testing.T) {
	tests := []struct {
		in      string
		want    orb.Point
		wantCat string
		wantErr bool
	}{
		{in: "1,2", want: orb.Point{1, 2}},
		{in: "1,2, Cargo ", want: orb.Point{1, 2}, wantCat: "Cargo"},
		{in: "1,2,a,b", want: orb.Point{1, 2}, wantCat: "a,b"},
		{in: "1,2,", want: orb.Point{1, 2}},
		{in: "1", wantErr: true},
		{in: "x,2,Cargo", wantErr: true},
		{in: "1,95,Cargo", wantErr: true},
	}
	for _, tt := range tests {
		p, cat, err := ParseRow(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if p != tt.want || cat != tt.wantCat {
			t.Fatalf("%q: got %v %q", tt.in, p, cat)
		}
	}
	if got := FormatRow(orb.Point{1, 2}, "Cargo"); got != "1,2,Cargo" {
		t.Fatalf("FormatRow got %q", got)
	}
	if got := FormatRow(orb.Point{1, 2}, ""); got != "1,2" {
		t.Fatalf("FormatRow got %q", got)
	}
}

func TestNewCategorizedDataset_TopCategories(t *testing.T) {
	var pts []orb.Point
	var cats []string
	// c00 appears 12 times down to c11 once; ties are impossible
	for i := range 12 {
		for range 12 - i {
			pts = append(pts, orb.Point{0, 0})
			cats = append(cats, fmt.Sprintf("c%02d", i))
		}
	}
	pts = append(pts, orb.Point{1, 1})
	cats = append(cats, "")

	ds := NewCategorizedDataset("d", pts, cats)
	want := []string{"c00", "c01", "c02", "c03", "c04", "c05", "c06", "c07", "c08", "c09"}
	if !slices.Equal(ds.Top, want) {
		t.Fatalf("top got %v", ds.Top)
	}
	if got := ds.Category(0); got != 0 {
		t.Fatalf("c00 index got %d", got)
	}
	// the rarest two and the uncategorized point have no colour
	if got := ds.Category(len(pts) - 2); got != -1 {
		t.Fatalf("c11 index got %d", got)
	}
	if got := ds.Category(len(pts) - 1); got != -1 {
		t.Fatalf("uncategorized index got %d", got)
	}

	if plain := NewDataset("p", pts); len(plain.Top) != 0 || plain.Category(0) != -1 {
		t.Fatalf("plain dataset has categories %v", plain.Top)
	}
}

func TestNewCategorizedDataset_TopSortedByName(t *testing.T) {
	ds := NewCategorizedDataset("d",
		[]orb.Point{{0, 0}, {0, 0}, {0, 0}, {0, 0}},
		[]string{"Tanker", "Cargo", "Tanker", "Fishing"})
	if want := []string{"Cargo", "Fishing", "Tanker"}; !slices.Equal(ds.Top, want) {
		t.Fatalf("top got %v want %v", ds.Top, want)
	}
	if ds.Category(0) != 2 || ds.Category(1) != 0 || ds.Category(3) != 1 {
		t.Fatalf("indexes got %d %d %d", ds.Category(0), ds.Category(1), ds.Category(3))
	}
}

func TestRenderCategories(t *testing.T) {
	_, sh := seed(t, "default",
		"0.5,9.5,a", "0.5,9.5,a", // north-west pixel, two of a
		"9.5,0.5,b", // south-east pixel, one b
		"5.5,4.5,a", "5.5,4.5,b", // centre pixel, mixed
		"2.5,7.5", // uncategorized, not drawn
	)
	store, _ := NewStore(sh, 4, time.Second, nil)
	r := &renderer{store: store, defaultName: "default"}
	img, err := r.renderCategories(context.Background(), registry.RenderRequest{
		Width: 10, Height: 10,
		BBox:  geo.BBox{West: 0, South: 0, East: 10, North: 10},
		Layer: CategoryLayer, Style: StyleCategories,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	a, b := imaging.Glasby[0], imaging.Glasby[1]
	tests := []struct {
		name string
		x, y int
		want color.NRGBA
	}{
		{"dense single category", 0, 0, color.NRGBA{a.R, a.G, a.B, 255}},
		{"sparse single category", 9, 9, color.NRGBA{b.R, b.G, b.B, minCategoryAlpha}},
		{"mixed", 5, 5, color.NRGBA{
			uint8(math.Round((float64(a.R) + float64(b.R)) / 2)),
			uint8(math.Round((float64(a.G) + float64(b.G)) / 2)),
			uint8(math.Round((float64(a.B) + float64(b.B)) / 2)),
			255,
		}},
		{"uncategorized", 2, 2, color.NRGBA{}},
	}
	for _, tt := range tests {
		if got := img.At(tt.x, tt.y); got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}

func TestRegister_CategoryLayer(t *testing.T) {
	_, sh := seed(t, "default", "1,1,Cargo", "2,2,Tanker", "3,3")
	r := registry.New()
	if err := Register(context.Background(), r, deps(sh)); err != nil {
		t.Fatal(err)
	}
	def, err := r.Layer(CategoryLayer)
	if err != nil {
		t.Fatal(err)
	}
	if def.Priority != 3 {
		t.Fatalf("priority got %d want 3", def.Priority)
	}
	if !slices.Equal(def.Styles, []string{StyleCategories}) {
		t.Fatalf("styles got %v", def.Styles)
	}

	sd, err := r.Style(StyleCategories)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sd.Legend(context.Background(), "", StyleCategories); err != nil {
		t.Fatalf("legend: %v", err)
	}

	tree := r.TreeProviders()[0]()
	if len(tree) != 1 || len(tree[0].Children) != 2 || tree[0].Children[1].LayerName != CategoryLayer {
		t.Fatalf("tree got %+v", tree)
	}
}

func TestCategoryLegend_NoCategories(t *testing.T) {
	_, sh := seed(t, "default", "1,1")
	store, _ := NewStore(sh, 4, time.Second, nil)
	r := &renderer{store: store, defaultName: "default"}
	if _, err := r.categoryLegend(context.Background(), "", StyleCategories); err == nil {
		t.Fatal("expected error for a dataset without categories")
	}
}
