package registry

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/mohammed-shakir/wmsd/internal/geo"
	"github.com/mohammed-shakir/wmsd/internal/wmserr"
)

func nopRender(_ context.Context, req RenderRequest) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, req.Width, req.Height)), nil
}

func nopLegend(_ context.Context, _, _ string) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func TestRegisterLayer_DuplicateKeepsFirst(t *testing.T) {
	r := New()
	first, err := r.RegisterLayer(Layer{Name: "a", Title: "First", Render: nopRender})
	if err != nil {
		t.Fatalf("RegisterLayer: %v", err)
	}
	_, err = r.RegisterLayer(Layer{Name: "a", Title: "Second", Render: nopRender})
	if !errors.Is(err, ErrDuplicateLayer) {
		t.Fatalf("expected ErrDuplicateLayer, got %v", err)
	}
	got, err := r.Layer("a")
	if err != nil {
		t.Fatalf("Layer: %v", err)
	}
	if got.Title != first.Title || got.Priority != first.Priority {
		t.Fatalf("first registration was modified: %+v", got)
	}
}

func TestRegisterLayer_DefaultPriorityAndDefaults(t *testing.T) {
	r := New()
	a, _ := r.RegisterLayer(Layer{Name: "a", Render: nopRender})
	b, _ := r.RegisterLayer(Layer{Name: "b", Render: nopRender, Priority: Priority(2)})
	c, _ := r.RegisterLayer(Layer{Name: "c", Render: nopRender})

	if a.Priority != 1000 || b.Priority != 2 || c.Priority != 1002 {
		t.Fatalf("priorities a=%d b=%d c=%d", a.Priority, b.Priority, c.Priority)
	}
	if a.BBox != geo.World {
		t.Fatalf("zero bbox should default to world, got %v", a.BBox)
	}
	if a.Title != "Title" || a.Abstract != "Abstract" {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if got := r.LayerNames(); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("LayerNames=%v", got)
	}
}

func TestRegisterLayer_StyleMustExist(t *testing.T) {
	r := New()
	_, err := r.RegisterLayer(Layer{Name: "a", Styles: []string{"s"}, Render: nopRender})
	if !errors.Is(err, ErrUnknownStyle) {
		t.Fatalf("expected ErrUnknownStyle, got %v", err)
	}
	if err := r.RegisterStyle(StyleDefinition{Name: "s", Legend: nopLegend}); err != nil {
		t.Fatalf("RegisterStyle: %v", err)
	}
	if _, err := r.RegisterLayer(Layer{Name: "a", Styles: []string{"s"}, Render: nopRender}); err != nil {
		t.Fatalf("RegisterLayer after style: %v", err)
	}
}

func TestRegisterLayer_InvalidExtent(t *testing.T) {
	r := New()
	_, err := r.RegisterLayer(Layer{Name: "a", BBox: geo.BBox{West: 10, South: 0, East: 5, North: 1}, Render: nopRender})
	if !errors.Is(err, ErrInvalidExtent) {
		t.Fatalf("expected ErrInvalidExtent, got %v", err)
	}
}

func TestInvalidDefinitions(t *testing.T) {
	r := New()
	if err := r.RegisterStyle(StyleDefinition{Name: "s"}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("style without legend: got %v", err)
	}
	if _, err := r.RegisterLayer(Layer{Name: " "}); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("layer without name: got %v", err)
	}
	if err := r.RegisterTreeProvider(nil); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("nil provider: got %v", err)
	}
}

func TestRegisterLayer_ZeroExtentIsWorld(t *testing.T) {
	def, err := New().RegisterLayer(Layer{Name: "z", Render: nopRender})
	if err != nil {
		t.Fatal(err)
	}
	if def.BBox != geo.World {
		t.Fatalf("bbox %v want world", def.BBox)
	}
}

func TestRegisterStyle_Duplicate(t *testing.T) {
	r := New()
	if err := r.RegisterStyle(StyleDefinition{Name: "s", Legend: nopLegend}); err != nil {
		t.Fatalf("RegisterStyle: %v", err)
	}
	if err := r.RegisterStyle(StyleDefinition{Name: "s", Legend: nopLegend}); !errors.Is(err, ErrDuplicateStyle) {
		t.Fatalf("expected ErrDuplicateStyle, got %v", err)
	}
}

func TestLookups_ProtocolErrors(t *testing.T) {
	r := New()
	_, err := r.Layer("missing")
	if pe, ok := wmserr.As(err); !ok || pe.Code != wmserr.CodeLayerNotDefined {
		t.Fatalf("expected LayerNotDefined, got %v", err)
	}
	_, err = r.Style("missing")
	if pe, ok := wmserr.As(err); !ok || pe.Code != wmserr.CodeStyleNotDefined {
		t.Fatalf("expected StyleNotDefined, got %v", err)
	}
}

func TestAllLayers_IsSnapshot(t *testing.T) {
	r := New()
	_, _ = r.RegisterLayer(Layer{Name: "a", Render: nopRender})
	snap := r.AllLayers()
	_, _ = r.RegisterLayer(Layer{Name: "b", Render: nopRender})
	if len(snap) != 1 {
		t.Fatalf("snapshot observed later registration: %d", len(snap))
	}
	delete(snap, "a")
	if _, err := r.Layer("a"); err != nil {
		t.Fatalf("mutating snapshot changed registry: %v", err)
	}
}

func TestFreeze_RejectsRegistration(t *testing.T) {
	r := New()
	r.Freeze()
	if _, err := r.RegisterLayer(Layer{Name: "a", Render: nopRender}); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
	if err := r.RegisterStyle(StyleDefinition{Name: "s", Legend: nopLegend}); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
	if err := r.RegisterTreeProvider(func() []LayerNode { return nil }); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
}

func TestConcurrentReadsAfterFreeze(t *testing.T) {
	r := New()
	_, _ = r.RegisterLayer(Layer{Name: "a", Render: nopRender})
	r.Freeze()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if _, err := r.Layer("a"); err != nil {
					t.Errorf("Layer: %v", err)
					return
				}
				_ = r.AllLayers()
			}
		}()
	}
	wg.Wait()
}

func TestNodeConstructors(t *testing.T) {
	g := Group("Sample", "Some layers", Leaf("a"), Leaf("b"))
	if g.Kind != KindContainer || len(g.Children) != 2 {
		t.Fatalf("unexpected group: %+v", g)
	}
	if g.Children[0].Kind != KindLeaf || g.Children[0].LayerName != "a" {
		t.Fatalf("unexpected leaf: %+v", g.Children[0])
	}
}
