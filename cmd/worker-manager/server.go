package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maps-workers/pkg/registry"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// newServeMux serves liveness, readiness, metrics and the activity registry.
// /ready fails while any check fails.
func newServeMux(checks map[string]func(context.Context) error, activities *registry.ActivityRegistry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		status, code := "ready", http.StatusOK
		results := make(map[string]string, len(checks))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = err.Error()
				status, code = "not ready", http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		writeJSON(w, code, map[string]interface{}{
			"status": status,
			"checks": results,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/activities", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, activities)
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
