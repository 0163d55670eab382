package server

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/tlschat/internal/securechan"
)

// Serve accepts connections on ln until Shutdown is called, then returns
// ErrServerClosed. Each connection is handshaken and served on its own
// goroutine, so a slow or stalled client never holds up the accept loop.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln, true) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	s.logger.Info("listening for connections", "addr", ln.Addr().String(), "capacity", s.table.Capacity())

	var tempDelay time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.closing.IsSet() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			s.logger.Warn("accept error", "err", err, "retry_in", tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		if !s.startTask() {
			closeQuietly(raw)
			return ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			s.handleConn(raw)
		}()
	}
}

// handleConn upgrades raw to a secure channel and serves it. Handshake
// failures are logged and only cost this connection.
func (s *Server) handleConn(raw net.Conn) {
	h := newHandler(uuid.NewString(), raw.RemoteAddr().String(), s.table, s.relay, s.cfg, s.logger)
	h.Run(s.ctx, func() (securechan.Channel, error) {
		ch, err := s.handshaker.Handshake(s.ctx, raw)
		if err != nil {
			closeQuietly(raw)
			return nil, err
		}
		return ch, nil
	})
}

func closeQuietly(c net.Conn) {
	_ = c.Close()
}
