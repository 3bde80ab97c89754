// Package router adapts HTTP requests to the WMS dispatcher and writes its
// responses.
package router

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/wmsd/internal/core/config"
	"github.com/mohammed-shakir/wmsd/internal/core/observability"
	"github.com/mohammed-shakir/wmsd/internal/dispatcher"
)

// Dispatcher serves WMS and legend requests.
type Dispatcher interface {
	Serve(ctx context.Context, root, path string, q url.Values) (dispatcher.Response, error)
	Legend(ctx context.Context, path, style string) (dispatcher.Response, error)
}

// HandleWMS serves /WMS/ and /WMS/<path>; the wildcard is the path token.
func HandleWMS(logger *slog.Logger, cfg config.Config, d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		path := strings.Trim(chi.URLParam(r, "*"), "/")
		resp, err := d.Serve(r.Context(), RootURL(cfg, r), path, r.URL.Query())
		write(logger, sw, r, resp, err)
		observability.ObserveHTTP(r.Method, "/WMS", sw.code, time.Since(start).Seconds())
	}
}

// HandleRoot gives browsers a link to GetCapabilities and forwards requests
// that carry a query string to the WMS endpoint.
func HandleRoot(logger *slog.Logger, cfg config.Config, d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		if r.URL.RawQuery == "" {
			link := RootURL(cfg, r) + "/WMS/?SERVICE=WMS&REQUEST=GetCapabilities"
			sw.Header().Set("Content-Type", "text/html; charset=utf-8")
			sw.WriteHeader(http.StatusNotFound)
			esc := html.EscapeString(link)
			_, _ = fmt.Fprintf(sw, `Send me a WMS request, such as <a href="%s">%s</a>`, esc, esc)
		} else {
			resp, err := d.Serve(r.Context(), RootURL(cfg, r), "", r.URL.Query())
			write(logger, sw, r, resp, err)
		}
		observability.ObserveHTTP(r.Method, "/", sw.code, time.Since(start).Seconds())
	}
}

// HandleLegend serves /legend/<style> and /legend/<path>/<style>.
func HandleLegend(logger *slog.Logger, d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		path, style, ok := SplitLegendPath(chi.URLParam(r, "*"))
		if !ok {
			http.NotFound(sw, r)
		} else {
			resp, err := d.Legend(r.Context(), path, style)
			write(logger, sw, r, resp, err)
		}
		observability.ObserveHTTP(r.Method, "/legend", sw.code, time.Since(start).Seconds())
	}
}

// SplitLegendPath takes the last segment as the style and the rest as the
// path token.
func SplitLegendPath(rest string) (path, style string, ok bool) {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	i := strings.LastIndex(rest, "/")
	if i < 0 {
		return "", rest, true
	}
	return rest[:i], rest[i+1:], true
}

// RootURL is the public base URL: PUBLIC_URL when set, else derived from the
// request.
func RootURL(cfg config.Config, r *http.Request) string {
	if cfg.PublicURL != "" {
		return cfg.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func write(logger *slog.Logger, w http.ResponseWriter, r *http.Request, resp dispatcher.Response, err error) {
	if err != nil {
		logger.ErrorContext(r.Context(), "wms request failed", "err", err, "query", r.URL.RawQuery)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", resp.ContentType)
	if resp.Exception || resp.ContentType == dispatcher.ContentXML {
		w.Header().Set("Content-Disposition", "inline")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Body)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
