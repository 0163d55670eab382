// Package server wires the gateway's HTTP handlers into a router.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures and returns a router with all gateway routes.
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.WebSocketHandler).Methods(http.MethodGet)
	return r
}
