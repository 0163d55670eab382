// Package server exposes the gateway's HTTP handlers: the WebSocket upgrade
// that joins browsers to the relay, a health check, and a status report.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/Tyrowin/tlschat/internal/securechan"
)

// StatusResponse reports table occupancy.
type StatusResponse struct {
	Active   int `json:"active"`
	Capacity int `json:"capacity"`
}

// WebSocketHandler upgrades the request and serves the connection as a relay
// slot until it closes. Connections arriving while the table is full are
// closed right after the upgrade.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if !s.startTask() {
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	h := newHandler(uuid.NewString(), r.RemoteAddr, s.table, s.relay, s.cfg, s.logger)
	h.Run(s.ctx, func() (securechan.Channel, error) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return nil, err
		}
		return newWSChannel(conn), nil
	})
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "tlschat relay is running!")
}

// StatusHandler reports how many slots are occupied.
func (s *Server) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := StatusResponse{Active: s.table.Active(), Capacity: s.table.Capacity()}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("error writing status response", "err", err)
	}
}
