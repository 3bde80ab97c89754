// Package registry owns the layer, style and layer-tree-provider
// registrations made by rendering modules during startup.
package registry

import (
	"context"
	"image"

	"github.com/mohammed-shakir/wmsd/internal/geo"
)

// RenderRequest is what a layer's renderer is asked to draw.
type RenderRequest struct {
	Width  int
	Height int
	BBox   geo.BBox
	// Path is the token taken from the request URL path; modules may use it
	// as a global parameter (for example to pick a dataset).
	Path  string
	Layer string
	// Style is empty when the client asked for the default style.
	Style string
}

// RenderFunc draws a layer. The context is the request's context and is passed
// through untouched.
type RenderFunc func(ctx context.Context, req RenderRequest) (image.Image, error)

// LegendFunc draws the legend image of a style.
type LegendFunc func(ctx context.Context, path, style string) (image.Image, error)

// TreeProvider returns a forest describing how layers are presented in the
// capabilities document. It is called on every GetCapabilities request.
type TreeProvider func() []LayerNode

// Layer is the registration input for a layer.
type Layer struct {
	Name     string
	Title    string
	Abstract string
	// BBox defaults to geo.World when zero. A literal (0,0,0,0) extent is
	// therefore indistinguishable from "unset" and is also widened to the
	// world.
	BBox geo.BBox
	// Priority is assigned at registration when nil.
	Priority *int
	Styles   []string
	Render   RenderFunc
}

// LayerDefinition is an immutable registered layer.
type LayerDefinition struct {
	Name     string
	Title    string
	Abstract string
	BBox     geo.BBox
	Priority int
	Styles   []string
	Render   RenderFunc
}

type StyleDefinition struct {
	Name   string
	Legend LegendFunc
}

// Priority is a helper for filling Layer.Priority.
func Priority(p int) *int { return &p }

// NodeKind discriminates LayerNode variants.
type NodeKind int

const (
	KindContainer NodeKind = iota
	KindLeaf
)

func (k NodeKind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindLeaf:
		return "leaf"
	default:
		return "unknown"
	}
}

// LayerNode is one node of the presentation tree. Containers only carry a
// title and abstract; leaves reference a registered layer.
type LayerNode struct {
	Kind      NodeKind
	LayerName string
	Title     string
	Abstract  string
	Children  []LayerNode
}

// Leaf references a registered layer.
func Leaf(layerName string, children ...LayerNode) LayerNode {
	return LayerNode{Kind: KindLeaf, LayerName: layerName, Title: layerName, Abstract: layerName, Children: children}
}

// Group is a pure grouping container.
func Group(title, abstract string, children ...LayerNode) LayerNode {
	return LayerNode{Kind: KindContainer, Title: title, Abstract: abstract, Children: children}
}
