// Package securechan provides the encrypted stream primitive the chat relay is
// built on: server-side handshakes over accepted TCP connections, client
// dialing with a selectable TLS fingerprint, and certificate loading.
package securechan

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	tls "github.com/refraction-networking/utls"
)

// Channel is an established, encrypted, bidirectional byte stream.
//
// Implementations must tolerate concurrent Write calls from several
// goroutines: the relay writes to a channel from every broadcasting
// connection handler without any lock of its own.
type Channel interface {
	io.Reader
	io.Writer
	io.Closer
}

// Handshaker upgrades an accepted raw connection into a Channel.
type Handshaker interface {
	Handshake(ctx context.Context, raw net.Conn) (Channel, error)
}

// ServerHandshaker performs the server side of a TLS handshake.
type ServerHandshaker struct {
	config  *tls.Config
	timeout time.Duration
}

// NewServerHandshaker returns a handshaker using config. A positive timeout
// bounds each handshake in addition to the caller's context.
func NewServerHandshaker(config *tls.Config, timeout time.Duration) *ServerHandshaker {
	return &ServerHandshaker{config: config, timeout: timeout}
}

// Handshake runs the TLS server handshake on raw. The raw connection is not
// closed on failure; that is left to the caller.
func (h *ServerHandshaker) Handshake(ctx context.Context, raw net.Conn) (Channel, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	conn := tls.Server(raw, h.config)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake with %s: %w", raw.RemoteAddr(), err)
	}
	return conn, nil
}
