package geo

import "testing"

func TestIntersects_Cases(t *testing.T) {
	layer := BBox{West: 10, South: 10, East: 20, North: 20}
	cases := []struct {
		name string
		req  BBox
		want bool
	}{
		{"disjoint west", BBox{0, 0, 5, 5}, false},
		{"disjoint east", BBox{25, 10, 30, 20}, false},
		{"disjoint north", BBox{10, 25, 20, 30}, false},
		{"disjoint south", BBox{10, -5, 20, 5}, false},
		{"touching edge", BBox{20, 10, 30, 20}, true},
		{"touching corner", BBox{0, 0, 10, 10}, true},
		{"contained", BBox{12, 12, 18, 18}, true},
		{"containing", World, true},
		{"partial", BBox{15, 15, 25, 25}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Intersects(tc.req, layer); got != tc.want {
				t.Fatalf("Intersects(%v,%v)=%v want %v", tc.req, layer, got, tc.want)
			}
			if got := Intersects(layer, tc.req); got != tc.want {
				t.Fatalf("Intersects is not symmetric for %v", tc.req)
			}
			_, ok := Intersection(tc.req, layer)
			if ok != tc.want {
				t.Fatalf("Intersection ok=%v want %v", ok, tc.want)
			}
		})
	}
}

func TestIntersection_SymmetryGrid(t *testing.T) {
	vals := []float64{-10, 0, 5, 10, 15}
	var boxes []BBox
	for _, w := range vals {
		for _, e := range vals {
			if e < w {
				continue
			}
			boxes = append(boxes, BBox{West: w, South: w, East: e, North: e})
		}
	}
	for _, a := range boxes {
		for _, b := range boxes {
			if Intersects(a, b) != Intersects(b, a) {
				t.Fatalf("asymmetric: %v %v", a, b)
			}
			ab, okA := Intersection(a, b)
			ba, okB := Intersection(b, a)
			if okA != Intersects(a, b) || okB != okA {
				t.Fatalf("Intersection ok mismatch for %v %v", a, b)
			}
			if okA && ab != ba {
				t.Fatalf("Intersection(%v,%v)=%v but reversed=%v", a, b, ab, ba)
			}
		}
	}
}

func TestIntersection_Values(t *testing.T) {
	got, ok := Intersection(BBox{0, 0, 15, 15}, BBox{10, 5, 20, 20})
	if !ok {
		t.Fatal("expected overlap")
	}
	want := BBox{West: 10, South: 5, East: 15, North: 15}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestBBox_StringAndValid(t *testing.T) {
	if s := (BBox{-75, 40, -74.5, 41}).String(); s != "-75,40,-74.5,41" {
		t.Fatalf("String()=%q", s)
	}
	if (BBox{West: 1, East: 0}).Valid() {
		t.Fatal("expected inverted box to be invalid")
	}
	if !World.Valid() {
		t.Fatal("world must be valid")
	}
}
