// Package server wires HTTP handlers into a router for the relay.
package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/roomrelay/internal/metrics"
)

// Routes configures and returns the application's HTTP handler. Every route
// is wrapped in CORS derived from the configured origin allow-list.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler)
	r.Handle("/ws", s.RequireSession(http.HandlerFunc(s.WebSocketHandler)))
	r.HandleFunc("/test", TestPageHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.StatsHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler(s.gatherer)).Methods(http.MethodGet)
	return s.origins.corsMiddleware().Handler(r)
}
