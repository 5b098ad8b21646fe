// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package debug serves the operational endpoints of an hllstore process:
// Prometheus metrics, pprof, liveness and readiness.
package debug

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ready atomic.Bool

	readyCheckMu sync.RWMutex
	readyCheck   func(context.Context) error

	registry = newRegistry()

	handlersMu sync.Mutex
	handlers   = make(map[string]http.HandlerFunc)
)

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func SetReady()    { ready.Store(true) }
func SetNotReady() { ready.Store(false) }

// SetReadyCheck registers a check consulted by /ready once SetReady has been
// called, typically a backend ping.
func SetReadyCheck(check func(context.Context) error) {
	readyCheckMu.Lock()
	defer readyCheckMu.Unlock()
	readyCheck = check
}

// IsReady reports readiness, running the registered check if any.
func IsReady(ctx context.Context) bool {
	if !ready.Load() {
		return false
	}
	readyCheckMu.RLock()
	check := readyCheck
	readyCheckMu.RUnlock()

	return check == nil || check(ctx) == nil
}

// Registry returns the registerer metrics should be added to.
func Registry() prometheus.Registerer {
	return registry
}

// Gatherer returns the gatherer backing /metrics.
func Gatherer() prometheus.Gatherer {
	return registry
}

// RegisterHandlerFunc adds an extra handler to muxes built by GetMux.
// Must be called before GetMux.
func RegisterHandlerFunc(pattern string, fn http.HandlerFunc) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[pattern] = fn
}

func GetMux() *http.ServeMux {
	mux := http.NewServeMux()

	handlersMu.Lock()
	for pattern, fn := range handlers {
		mux.HandleFunc(pattern, fn)
	}
	handlersMu.Unlock()

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if IsReady(ctx) {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	return mux
}

// Serve runs the debug mux on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           GetMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
