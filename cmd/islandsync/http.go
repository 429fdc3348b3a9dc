package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/islandsync/internal/injector"
)

type health struct {
	Session          string `json:"session"`
	Connected        bool   `json:"connected"`
	RenderingEnabled bool   `json:"rendering_enabled"`
	Received         uint64 `json:"received"`
	Dropped          uint64 `json:"dropped"`
	Sent             uint64 `json:"sent"`
	Reconnects       uint64 `json:"reconnects"`
}

func newRouter(app *injector.App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{Registry: app.Registry}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		stats := app.Client.Stats()
		status := http.StatusOK
		if !app.Client.IsConnected() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health{
			Session:          app.Engine.ID(),
			Connected:        app.Client.IsConnected(),
			RenderingEnabled: app.Engine.Access().RenderingEnabled(),
			Received:         stats.Received,
			Dropped:          stats.Dropped,
			Sent:             stats.Sent,
			Reconnects:       stats.Reconnects,
		})
	})

	r.Route("/debug/islands", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, app.Engine.Snapshot())
		})
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			for _, island := range app.Engine.Snapshot().Islands {
				if island.ID == id {
					writeJSON(w, http.StatusOK, island)
					return
				}
			}
			http.Error(w, "island not found", http.StatusNotFound)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
