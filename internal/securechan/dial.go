package securechan

import (
	"context"
	"fmt"
	"net"
	"strings"

	tls "github.com/refraction-networking/utls"
)

// DefaultPort is the relay's fixed listening port.
const DefaultPort = "4443"

var helloIDs = map[string]tls.ClientHelloID{
	"golang":     tls.HelloGolang,
	"chrome":     tls.HelloChrome_Auto,
	"firefox":    tls.HelloFirefox_Auto,
	"randomized": tls.HelloRandomizedNoALPN,
}

// ParseHelloID maps a fingerprint name to a utls ClientHelloID. An empty name
// selects the plain Go fingerprint.
func ParseHelloID(name string) (tls.ClientHelloID, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return tls.HelloGolang, nil
	}
	id, ok := helloIDs[name]
	if !ok {
		return tls.ClientHelloID{}, fmt.Errorf("unknown client hello %q", name)
	}
	return id, nil
}

// NormalizeAddr appends DefaultPort when addr carries no port.
func NormalizeAddr(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), DefaultPort)
}

// Dial connects to addr and completes a client handshake presenting hello.
func Dial(ctx context.Context, addr string, config *tls.Config, hello tls.ClientHelloID) (*tls.UConn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	conn := tls.UClient(raw, config.Clone(), hello)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return conn, nil
}
