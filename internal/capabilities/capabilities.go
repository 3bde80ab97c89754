// Package capabilities assembles the GetCapabilities document: a templated
// XML skeleton whose <Capability> layer tree is rebuilt from the registry and
// the registered tree providers on every request.
package capabilities

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/beevik/etree"

	"github.com/mohammed-shakir/wmsd/internal/core/observability"
	"github.com/mohammed-shakir/wmsd/internal/imaging"
	"github.com/mohammed-shakir/wmsd/internal/registry"
)

const (
	Version = "1.3.0"
	CRS     = "EPSG:4326"
)

var (
	ErrUnregisteredLayerReference = errors.New("tree provider references unregistered layer")
	ErrMalformedTemplate          = errors.New("malformed capabilities template")
)

//go:embed templates/capabilities.xml
var defaultTemplate string

// Source is the part of the registry the builder reads.
type Source interface {
	TreeProviders() []registry.TreeProvider
	AllLayers() map[string]registry.LayerDefinition
	LayerNames() []string
	Style(name string) (registry.StyleDefinition, error)
}

type Options struct {
	// TemplatePath names a text/template file; empty uses the embedded skeleton.
	TemplatePath string
	Title        string
	Abstract     string
	MaxWidth     int
	MaxHeight    int
}

type Builder struct {
	src    Source
	tmpl   *template.Template
	opts   Options
	logger *slog.Logger
}

// templateData is what the skeleton template sees.
type templateData struct {
	URL       string
	Path      string
	Title     string
	Abstract  string
	Format    string
	MaxWidth  int
	MaxHeight int
}

func New(src Source, opts Options, logger *slog.Logger) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	text := defaultTemplate
	if opts.TemplatePath != "" {
		b, err := os.ReadFile(opts.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("read capabilities template: %w", err)
		}
		text = string(b)
	}
	tmpl, err := template.New("capabilities").Funcs(template.FuncMap{"xml": escape}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTemplate, err)
	}
	return &Builder{src: src, tmpl: tmpl, opts: opts, logger: logger}, nil
}

// ServiceURL is the WMS endpoint advertised for a path token.
func ServiceURL(root, path string) string {
	return strings.TrimRight(root, "/") + "/WMS/" + path
}

// LegendURL is the legend endpoint of a style for a path token.
func LegendURL(root, path, style string) string {
	u := strings.TrimRight(root, "/") + "/legend"
	if path != "" {
		u += "/" + path
	}
	return u + "/" + style
}

// Build renders the capabilities document for the given public root URL and
// path token. Legend functions are invoked with ctx to measure their images.
func (b *Builder) Build(ctx context.Context, root, path string) ([]byte, error) {
	start := time.Now()
	defer func() { observability.ObserveCapabilities(time.Since(start).Seconds()) }()

	var buf bytes.Buffer
	err := b.tmpl.Execute(&buf, templateData{
		URL:       ServiceURL(root, path),
		Path:      path,
		Title:     b.opts.Title,
		Abstract:  b.opts.Abstract,
		Format:    imaging.MIMEType,
		MaxWidth:  b.opts.MaxWidth,
		MaxHeight: b.opts.MaxHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTemplate, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTemplate, err)
	}
	capEl := doc.FindElement("//Capability")
	if capEl == nil {
		return nil, fmt.Errorf("%w: no <Capability> element", ErrMalformedTemplate)
	}
	for _, old := range capEl.SelectElements("Layer") {
		capEl.RemoveChild(old)
	}

	forest, err := b.Forest()
	if err != nil {
		return nil, err
	}

	w := writer{ctx: ctx, src: b.src, layers: b.src.AllLayers(), root: root, path: path}
	if err := w.nodes(capEl, forest); err != nil {
		return nil, err
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize capabilities: %w", err)
	}
	return out, nil
}

// Forest gathers the provider trees and appends a leaf for every registered
// layer no provider referenced, in registration order.
func (b *Builder) Forest() ([]registry.LayerNode, error) {
	layers := b.src.AllLayers()

	var forest []registry.LayerNode
	for _, p := range b.src.TreeProviders() {
		forest = append(forest, p()...)
	}

	seen := make(map[string]bool, len(layers))
	var walk func(nodes []registry.LayerNode) error
	walk = func(nodes []registry.LayerNode) error {
		for _, n := range nodes {
			if n.Kind == registry.KindLeaf {
				if _, ok := layers[n.LayerName]; !ok {
					return fmt.Errorf("%w: %q", ErrUnregisteredLayerReference, n.LayerName)
				}
				seen[n.LayerName] = true
			}
			if err := walk(n.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(forest); err != nil {
		return nil, err
	}

	for _, name := range b.src.LayerNames() {
		if !seen[name] {
			forest = append(forest, registry.Leaf(name))
		}
	}
	return forest, nil
}

type writer struct {
	ctx    context.Context
	src    Source
	layers map[string]registry.LayerDefinition
	root   string
	path   string
}

func (w writer) nodes(parent *etree.Element, nodes []registry.LayerNode) error {
	for _, n := range nodes {
		el := parent.CreateElement("Layer")
		switch n.Kind {
		case registry.KindContainer:
			text(el, "Title", n.Title)
			text(el, "Abstract", n.Abstract)
		case registry.KindLeaf:
			if err := w.leaf(el, w.layers[n.LayerName]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown layer node kind %v", n.Kind)
		}
		if err := w.nodes(el, n.Children); err != nil {
			return err
		}
	}
	return nil
}

func (w writer) leaf(el *etree.Element, def registry.LayerDefinition) error {
	el.CreateAttr("queryable", "0")
	el.CreateAttr("opaque", "0")
	el.CreateAttr("cascaded", "0")
	text(el, "Name", def.Name)
	text(el, "Title", def.Title)
	text(el, "Abstract", def.Abstract)
	text(el, "CRS", CRS)

	geoEl := el.CreateElement("EX_GeographicBoundingBox")
	text(geoEl, "westBoundLongitude", ff(def.BBox.West))
	text(geoEl, "eastBoundLongitude", ff(def.BBox.East))
	text(geoEl, "southBoundLatitude", ff(def.BBox.South))
	text(geoEl, "northBoundLatitude", ff(def.BBox.North))

	// EPSG:4326 axis order is latitude first.
	bbEl := el.CreateElement("BoundingBox")
	bbEl.CreateAttr("CRS", CRS)
	bbEl.CreateAttr("minx", ff(def.BBox.South))
	bbEl.CreateAttr("miny", ff(def.BBox.West))
	bbEl.CreateAttr("maxx", ff(def.BBox.North))
	bbEl.CreateAttr("maxy", ff(def.BBox.East))

	for _, name := range def.Styles {
		if err := w.style(el, def, name); err != nil {
			return err
		}
	}
	return nil
}

func (w writer) style(el *etree.Element, def registry.LayerDefinition, name string) error {
	st, err := w.src.Style(name)
	if err != nil {
		return fmt.Errorf("layer %q: %w", def.Name, err)
	}
	img, err := st.Legend(w.ctx, w.path, name)
	if err != nil {
		return fmt.Errorf("legend %q: %w", name, err)
	}
	size := img.Bounds().Size()

	styleEl := el.CreateElement("Style")
	text(styleEl, "Name", name)
	text(styleEl, "Title", fmt.Sprintf("%s (style %s)", def.Title, name))
	legendEl := styleEl.CreateElement("LegendURL")
	legendEl.CreateAttr("width", strconv.Itoa(size.X))
	legendEl.CreateAttr("height", strconv.Itoa(size.Y))
	text(legendEl, "Format", imaging.MIMEType)
	res := legendEl.CreateElement("OnlineResource")
	res.CreateAttr("xlink:type", "simple")
	res.CreateAttr("xlink:href", LegendURL(w.root, w.path, name))
	return nil
}

func text(parent *etree.Element, tag, s string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(s)
	return el
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func escape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}
