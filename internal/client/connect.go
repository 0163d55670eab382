package client

import (
	"context"
	"fmt"
	"net"
	"os"

	tls "github.com/refraction-networking/utls"

	"github.com/Tyrowin/tlschat/internal/securechan"
)

// Config holds the client's connection settings.
type Config struct {
	Addr      string
	CAFile    string
	HelloName string
}

// NewConfigFromEnv creates a client Config for addr, reading the CA file and
// TLS fingerprint from the environment when set.
func NewConfigFromEnv(addr string) *Config {
	cfg := &Config{
		Addr:   addr,
		CAFile: "ca-cert.pem",
	}

	if caFile := os.Getenv("CHAT_CA_FILE"); caFile != "" {
		cfg.CAFile = caFile
	}

	if hello := os.Getenv("CHAT_CLIENT_HELLO"); hello != "" {
		cfg.HelloName = hello
	}

	return cfg
}

// Connect dials the server described by cfg, verifying its certificate
// against the configured CA and the host part of the address.
func Connect(ctx context.Context, cfg *Config) (*tls.UConn, error) {
	addr := securechan.NormalizeAddr(cfg.Addr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", cfg.Addr, err)
	}

	hello, err := securechan.ParseHelloID(cfg.HelloName)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := securechan.LoadClientConfig(cfg.CAFile, host)
	if err != nil {
		return nil, err
	}

	return securechan.Dial(ctx, addr, tlsConfig, hello)
}
