// Package dispatcher implements the WMS request state machine: it validates
// query parameters, routes GetMap and GetCapabilities, and turns protocol
// errors into exception documents.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/wmsd/internal/capabilities"
	"github.com/mohammed-shakir/wmsd/internal/compositor"
	"github.com/mohammed-shakir/wmsd/internal/core/observability"
	"github.com/mohammed-shakir/wmsd/internal/geo"
	"github.com/mohammed-shakir/wmsd/internal/imaging"
	"github.com/mohammed-shakir/wmsd/internal/logger"
	"github.com/mohammed-shakir/wmsd/internal/mapevents"
	"github.com/mohammed-shakir/wmsd/internal/registry"
	"github.com/mohammed-shakir/wmsd/internal/wmserr"
)

const (
	Version     = capabilities.Version
	Format      = imaging.MIMEType
	CRS         = capabilities.CRS
	ContentXML  = "application/xml"
	RequestMap  = "GetMap"
	RequestCaps = "GetCapabilities"
)

// Response is a fully rendered reply. Exception marks a protocol exception
// document, which transports send with status 200.
type Response struct {
	ContentType string
	Body        []byte
	Exception   bool
}

// Registry is what the dispatcher needs from the layer registry.
type Registry interface {
	compositor.LayerSource
	Style(name string) (registry.StyleDefinition, error)
}

type EventSink interface {
	Publish(ctx context.Context, ev mapevents.Event)
}

type Options struct {
	MaxWidth  int
	MaxHeight int
	// LegendCacheSize bounds the encoded legend cache; 0 disables it.
	LegendCacheSize int
	Events          EventSink
}

type Dispatcher struct {
	reg     Registry
	comp    *compositor.Compositor
	caps    *capabilities.Builder
	legends *lru.Cache[uint64, []byte]
	opts    Options
	logger  *slog.Logger
}

func New(reg Registry, caps *capabilities.Builder, opts Options, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		reg:    reg,
		comp:   compositor.New(reg, logger),
		caps:   caps,
		opts:   opts,
		logger: logger,
	}
	if opts.LegendCacheSize > 0 {
		c, err := lru.New[uint64, []byte](opts.LegendCacheSize)
		if err != nil {
			return nil, fmt.Errorf("legend cache: %w", err)
		}
		d.legends = c
	}
	return d, nil
}

// Serve handles one WMS request. root is the public base URL and path the
// token taken from the request path. Protocol errors come back as exception
// responses; any returned error is a collaborator or configuration failure.
func (d *Dispatcher) Serve(ctx context.Context, root, path string, q url.Values) (Response, error) {
	req := q.Get("REQUEST")
	ctx = logger.WithOperation(logger.WithPath(ctx, path), req)

	resp, err := d.dispatch(ctx, root, path, q)
	label := req
	if label != RequestMap && label != RequestCaps {
		label = "other"
	}
	if err == nil {
		observability.ObserveWMSRequest(label, "ok")
		return resp, nil
	}
	pe, ok := wmserr.As(err)
	if !ok {
		observability.ObserveWMSRequest(label, "error")
		return Response{}, err
	}
	observability.ObserveWMSRequest(label, "exception")
	d.logger.InfoContext(ctx, "wms exception", "code", pe.Code, "message", pe.Message)
	return exception(pe)
}

func (d *Dispatcher) dispatch(ctx context.Context, root, path string, q url.Values) (Response, error) {
	req, err := mandatory(q, "REQUEST")
	if err != nil {
		return Response{}, err
	}
	switch req {
	case RequestMap:
		return d.getMap(ctx, path, q)
	case RequestCaps:
		return d.getCapabilities(ctx, root, path, q)
	default:
		return Response{}, wmserr.New(wmserr.CodeOperationNotSupported, "Unrecognised REQUEST: %q", req)
	}
}

// MapParams is a validated GetMap request.
type MapParams struct {
	Width  int
	Height int
	Layers string
	Styles string
	// BBox is in (west, south, east, north) order.
	BBox geo.BBox
}

// ParseGetMap validates GetMap parameters in protocol order.
func ParseGetMap(q url.Values, maxW, maxH int) (MapParams, error) {
	var p MapParams

	version, err := mandatory(q, "VERSION")
	if err != nil {
		return p, err
	}
	if version != Version {
		return p, wmserr.Generic("Only version %q is supported", Version)
	}
	format, err := mandatory(q, "FORMAT")
	if err != nil {
		return p, err
	}
	if format != Format {
		return p, wmserr.New(wmserr.CodeInvalidFormat, "Only format %q is supported", Format)
	}
	if p.Width, err = dimension(q, "WIDTH", maxW); err != nil {
		return p, err
	}
	if p.Height, err = dimension(q, "HEIGHT", maxH); err != nil {
		return p, err
	}
	if p.Layers, err = mandatory(q, "LAYERS"); err != nil {
		return p, err
	}
	if p.Styles, err = mandatory(q, "STYLES"); err != nil {
		return p, err
	}
	crs, err := mandatory(q, "CRS")
	if err != nil {
		return p, err
	}
	raw, err := mandatory(q, "BBOX")
	if err != nil {
		return p, err
	}
	if crs != CRS {
		return p, wmserr.New(wmserr.CodeInvalidCRS, "Only CRS=%s is valid", CRS)
	}
	if p.BBox, err = ParseBBox(raw); err != nil {
		return p, err
	}
	return p, nil
}

// ParseBBox reads an EPSG:4326 BBOX, whose wire axis order is latitude
// first, into (west, south, east, north).
func ParseBBox(raw string) (geo.BBox, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return geo.BBox{}, wmserr.Generic("BBOX must have four comma-separated values, got %q", raw)
	}
	var v [4]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return geo.BBox{}, wmserr.Generic("BBOX value %q is not a finite number", s)
		}
		v[i] = f
	}
	bb := geo.BBox{West: v[1], South: v[0], East: v[3], North: v[2]}
	if bb.Width() <= 0 || bb.Height() <= 0 {
		return geo.BBox{}, wmserr.Generic("BBOX %q has an empty extent", raw)
	}
	// spans of values near MaxFloat64 overflow
	if math.IsInf(bb.Width(), 0) || math.IsInf(bb.Height(), 0) {
		return geo.BBox{}, wmserr.Generic("BBOX %q has a non-finite extent", raw)
	}
	return bb, nil
}

func (d *Dispatcher) getMap(ctx context.Context, path string, q url.Values) (Response, error) {
	p, err := ParseGetMap(q, d.opts.MaxWidth, d.opts.MaxHeight)
	if err != nil {
		return Response{}, err
	}
	creq := compositor.Request{Width: p.Width, Height: p.Height, BBox: p.BBox, Path: path}

	var body []byte
	if strings.Contains(p.Layers, ",") {
		creq.Layers = strings.Split(p.Layers, ",")
		creq.Styles = strings.Split(p.Styles, ",")
		img, err := d.comp.Multi(ctx, creq)
		if err != nil {
			return Response{}, err
		}
		if body, err = imaging.EncodePNG(img); err != nil {
			return Response{}, err
		}
	} else {
		def, err := d.reg.Layer(p.Layers)
		if err != nil {
			return Response{}, err
		}
		creq.Layers, creq.Styles = []string{p.Layers}, []string{p.Styles}
		img, err := d.comp.Single(ctx, def, creq, p.Styles)
		if err != nil {
			return Response{}, err
		}
		if body, err = imaging.EncodePNG(img); err != nil {
			return Response{}, err
		}
	}

	if d.opts.Events != nil {
		d.opts.Events.Publish(ctx, mapevents.NewEvent(ctx, path, creq.Layers, creq.Styles, p.BBox, p.Width, p.Height))
	}
	return Response{ContentType: Format, Body: body}, nil
}

func (d *Dispatcher) getCapabilities(ctx context.Context, root, path string, q url.Values) (Response, error) {
	service, err := mandatory(q, "SERVICE")
	if err != nil {
		return Response{}, err
	}
	if service != "WMS" {
		return Response{}, wmserr.Generic(`Mandatory parameter "SERVICE=WMS" missing`)
	}
	body, err := d.caps.Build(ctx, root, path)
	if err != nil {
		return Response{}, fmt.Errorf("build capabilities: %w", err)
	}
	return Response{ContentType: ContentXML, Body: body}, nil
}

// Legend renders the legend of a style as PNG. An unknown style yields a
// StyleNotDefined exception document.
func (d *Dispatcher) Legend(ctx context.Context, path, style string) (Response, error) {
	st, err := d.reg.Style(style)
	if err != nil {
		if pe, ok := wmserr.As(err); ok {
			return exception(pe)
		}
		return Response{}, err
	}

	key := legendKey(path, style)
	if d.legends != nil {
		if b, ok := d.legends.Get(key); ok {
			observability.IncLookupHit("legend")
			return Response{ContentType: Format, Body: b}, nil
		}
		observability.IncLookupMiss("legend")
	}

	start := time.Now()
	img, err := st.Legend(ctx, path, style)
	observability.ObserveRender("legend", style, err, time.Since(start).Seconds())
	if err != nil {
		return Response{}, fmt.Errorf("legend %q: %w", style, err)
	}
	body, err := imaging.EncodePNG(img)
	if err != nil {
		return Response{}, err
	}
	if d.legends != nil {
		d.legends.Add(key, body)
	}
	return Response{ContentType: Format, Body: body}, nil
}

func legendKey(path, style string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(path)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(style)
	return d.Sum64()
}

func exception(pe *wmserr.Error) (Response, error) {
	observability.IncException(pe.Code)
	body, err := wmserr.Document(pe)
	if err != nil {
		return Response{}, fmt.Errorf("render exception: %w", err)
	}
	return Response{ContentType: ContentXML, Body: body, Exception: true}, nil
}

// mandatory returns a parameter that must be present; an empty value is
// accepted.
func mandatory(q url.Values, name string) (string, error) {
	v, ok := q[name]
	if !ok || len(v) == 0 {
		return "", wmserr.MissingParameter(name)
	}
	return v[0], nil
}

func dimension(q url.Values, name string, limit int) (int, error) {
	raw, err := mandatory(q, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, wmserr.Generic("%s must be an integer, got %q", name, raw)
	}
	if n <= 0 {
		return 0, wmserr.Generic("%s must be positive, got %d", name, n)
	}
	if limit > 0 && n > limit {
		return 0, wmserr.Generic("%s %d exceeds the maximum of %d", name, n, limit)
	}
	return n, nil
}
