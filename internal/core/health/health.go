// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check is one readiness probe; a nil error means ready.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

func Readiness(timeout time.Duration, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status   string            `json:"status"`
			Failures map[string]string `json:"failures,omitempty"`
		}
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		out := resp{Status: "ready"}
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				if out.Failures == nil {
					out.Failures = map[string]string{}
				}
				out.Failures[c.Name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(out.Failures) > 0 {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
