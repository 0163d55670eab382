// Package server runs one Handler per connection: it completes the handshake,
// reads from the slot's channel, relays each read to the other slots, and
// frees the slot when the stream ends.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/tlschat/internal/securechan"
)

// State is a connection's lifecycle phase.
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "invalid"
}

// Handler carries one connection from its handshake to the release of its
// slot.
//
// Each successful read is relayed as one message. The stream carries no
// framing, so a message the peer wrote in one call can arrive split across
// reads, or two messages can arrive in one read.
type Handler struct {
	index   int
	session string
	remote  string
	channel securechan.Channel
	table   *Table
	relay   *Relay
	limiter *rateLimiter
	bufSize int
	logger  *slog.Logger
	state   atomic.Int32
}

// EstablishFunc completes a connection's handshake and returns its channel.
// On failure it must leave nothing open.
type EstablishFunc func() (securechan.Channel, error)

func newHandler(session, remote string, table *Table, relay *Relay, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	bufSize := cfg.MaxMessageSize
	if bufSize <= 0 {
		bufSize = MaxMessageSize
	}

	h := &Handler{
		index:   -1,
		session: session,
		remote:  remote,
		table:   table,
		relay:   relay,
		limiter: newRateLimiter(cfg.RateLimit),
		bufSize: bufSize,
		logger:  logger.With("session", session, "remote", remote),
	}
	h.state.Store(int32(StateHandshaking))
	return h
}

// State returns the handler's current lifecycle phase.
func (h *Handler) State() State {
	return State(h.state.Load())
}

func (h *Handler) setState(s State) {
	h.state.Store(int32(s))
	h.logger.Debug("connection state changed", "state", s)
}

// Run performs the handshake through establish, places the channel in a free
// slot, and relays its reads until the stream ends. A failed handshake or a
// full table ends the connection without holding a slot. When ctx is already
// done after the slot is taken, the slot is released without serving.
// Run returns once the connection is closed and its slot, if any, is free.
func (h *Handler) Run(ctx context.Context, establish EstablishFunc) {
	ch, err := establish()
	if err != nil {
		h.logger.Warn("handshake failed", "err", err)
		h.setState(StateClosed)
		return
	}
	h.channel = ch

	index, err := h.table.acquire(ch, h.session)
	if err != nil {
		h.logger.Warn("rejecting connection", "err", err, "capacity", h.table.Capacity())
		if cerr := ch.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			h.logger.Warn("error closing rejected channel", "err", cerr)
		}
		h.setState(StateClosed)
		return
	}
	h.index = index
	h.logger = h.logger.With("slot", index)

	// Shutdown may have swept the table between the handshake and acquire.
	if ctx.Err() != nil {
		h.logger.Info("server shutting down; dropping new connection")
		h.close()
		return
	}

	h.logger.Info("client connected", "active", h.table.Active())
	h.serve()
}

// serve runs the read loop until the channel reports end-of-stream or an
// error, then releases the slot.
func (h *Handler) serve() {
	h.setState(StateActive)
	defer h.close()

	buf := make([]byte, h.bufSize)
	for {
		n, err := h.channel.Read(buf)
		if n > 0 {
			h.processMessage(buf[:n])
		}
		if err != nil {
			h.handleReadError(err)
			return
		}
	}
}

// processMessage relays one read's payload. The relay finishes writing before
// the next read reuses the buffer.
func (h *Handler) processMessage(msg []byte) {
	if !h.checkRateLimit() {
		return
	}
	h.logger.Debug("received message", "bytes", len(msg))
	h.relay.Broadcast(msg, h.index)
}

// checkRateLimit reports whether the next message may be relayed.
func (h *Handler) checkRateLimit() bool {
	if !h.limiter.allow() {
		h.logger.Warn("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// handleReadError logs why the read loop is ending.
func (h *Handler) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		h.logger.Info("client disconnected")
	case errors.Is(err, websocket.ErrReadLimit):
		h.logger.Warn("message exceeded maximum size", "limit", wsReadLimit)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		h.logger.Info("client disconnected", "err", err)
	case isExpectedCloseError(err):
		h.logger.Info("connection closed", "err", err)
	default:
		h.logger.Warn("read error", "err", err)
	}
}

func (h *Handler) close() {
	h.setState(StateClosing)
	if err := h.table.Release(h.index); err != nil {
		h.logger.Error("failed to release slot", "err", err)
	}
	h.setState(StateClosed)
}
