package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

type Readyable interface {
	Ready(context.Context) error
}

type readyFunc func(context.Context) error

func (f readyFunc) Ready(ctx context.Context) error { return f(ctx) }

type dependency struct {
	name  string
	check Readyable
	ok    bool
}

// readiness probes the session cache, the REST backend and Supabase. A
// dependency that passed once is not probed again; the rest are retried on
// every request until they pass.
type readiness struct {
	mu   sync.Mutex
	deps []*dependency
}

// Add must be called before the server starts.
func (r *readiness) Add(name string, check Readyable) {
	r.deps = append(r.deps, &dependency{name: name, check: check})
}

func (r *readiness) pending() []*dependency {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*dependency
	for _, d := range r.deps {
		if !d.ok {
			out = append(out, d)
		}
	}
	return out
}

// Ready returns an error naming every dependency that failed this round.
func (r *readiness) Ready(ctx context.Context) error {
	pending := r.pending()
	if len(pending) == 0 {
		return nil
	}
	errs := make([]error, len(pending))
	var g errgroup.Group
	for i, d := range pending {
		g.Go(func() error {
			errs[i] = d.check.Ready(ctx)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	var failed []string
	for i, d := range pending {
		if errs[i] != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", d.name, errs[i]))
			continue
		}
		d.ok = true
	}
	if len(failed) > 0 {
		return errors.New(strings.Join(failed, "; "))
	}
	return nil
}

func (r *readiness) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if err := r.Ready(req.Context()); err != nil {
		slog.WarnContext(req.Context(), "not ready", "error", err)
		http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.ErrorContext(req.Context(), "failed to write readiness response", "error", err)
	}
}
