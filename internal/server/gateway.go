// Package server runs the optional WebSocket gateway that lets browser
// clients share the relay's connection table.
package server

import (
	"errors"
	"net"
	"net/http"
	"time"
)

// CreateGatewayServer creates an HTTP server for the gateway. The timeouts
// cover request handling only; upgraded WebSocket connections clear them.
func CreateGatewayServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ServeGateway serves the gateway routes on ln until Shutdown. ln is expected
// to terminate TLS already.
func (s *Server) ServeGateway(ln net.Listener) error {
	srv := CreateGatewayServer(s.SetupRoutes())
	if !s.trackHTTPServer(srv, true) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.trackHTTPServer(srv, false)

	s.logger.Info("gateway listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return err
}
