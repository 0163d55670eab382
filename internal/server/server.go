// Package server constructs the relay, supervises its connection goroutines,
// and shuts it down gracefully.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	tls "github.com/refraction-networking/utls"
	"github.com/tevino/abool"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/tlschat/internal/securechan"
)

// Server owns the connection table and every goroutine serving it.
type Server struct {
	cfg        Config
	tlsConfig  *tls.Config
	table      *Table
	relay      *Relay
	handshaker securechan.Handshaker
	logger     *slog.Logger

	upgrader websocket.Upgrader
	origins  *originPolicy

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing *abool.AtomicBool

	mu          sync.Mutex
	listeners   map[net.Listener]struct{}
	httpServers map[*http.Server]struct{}
}

// New creates a server using cfg (nil selects defaults) and the TLS
// configuration holding its certificate.
func New(cfg *Config, tlsConfig *tls.Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	sanitized := sanitizeConfig(*cfg)
	table := NewTable(sanitized.Capacity, logger)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         sanitized,
		tlsConfig:   tlsConfig,
		table:       table,
		relay:       NewRelay(table, sanitized.WriteTimeout, logger),
		handshaker:  securechan.NewServerHandshaker(tlsConfig, sanitized.HandshakeTimeout),
		logger:      logger,
		origins:     newOriginPolicy(sanitized.AllowedOrigins, logger),
		ctx:         ctx,
		cancel:      cancel,
		closing:     abool.New(),
		listeners:   make(map[net.Listener]struct{}),
		httpServers: make(map[*http.Server]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// Table returns the server's connection table.
func (s *Server) Table() *Table {
	return s.table
}

// ListenAndServe binds the relay address, and the gateway address when one is
// configured, then serves both until Shutdown. Bind failures are returned
// immediately; after Shutdown it returns ErrServerClosed.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}

	var gatewayLn net.Listener
	if s.cfg.GatewayAddr != "" {
		rawLn, err := net.Listen("tcp", s.cfg.GatewayAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen on gateway %s: %w", s.cfg.GatewayAddr, err)
		}
		gatewayLn = tls.NewListener(rawLn, s.tlsConfig)
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return s.Serve(ln)
	})
	if gatewayLn != nil {
		g.Go(func() error {
			return s.ServeGateway(gatewayLn)
		})
	}
	// A listener failing outright takes the other one down with it.
	g.Go(func() error {
		<-ctx.Done()
		s.closeListeners()
		return nil
	})

	return g.Wait()
}

// startTask registers a connection goroutine unless shutdown has begun.
func (s *Server) startTask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.IsSet() {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.closing.IsSet() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) trackHTTPServer(srv *http.Server, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		if s.closing.IsSet() {
			return false
		}
		s.httpServers[srv] = struct{}{}
	} else {
		delete(s.httpServers, srv)
	}
	return true
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	listeners := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		listeners = append(listeners, ln)
	}
	servers := make([]*http.Server, 0, len(s.httpServers))
	for srv := range s.httpServers {
		servers = append(servers, srv)
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("error closing listener", "addr", ln.Addr().String(), "err", err)
		}
	}
	for _, srv := range servers {
		if err := srv.Close(); err != nil {
			s.logger.Warn("error closing gateway", "err", err)
		}
	}
}

// Shutdown stops accepting connections, aborts pending handshakes, closes
// every active channel, and waits for all connection goroutines to finish or
// for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating shutdown")

	s.mu.Lock()
	s.closing.Set()
	s.mu.Unlock()

	s.cancel()
	s.closeListeners()

	closed := s.table.CloseAll()
	s.logger.Info("closed client connections", "count", closed)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached, some connections may still be running")
		return ctx.Err()
	}
}
