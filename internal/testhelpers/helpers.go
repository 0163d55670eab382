// Package testhelpers provides common utilities shared by the relay's tests.
//
// It generates throwaway certificate authorities and server certificates,
// dials TLS and WebSocket clients, and offers read helpers with deadlines so
// tests never block forever on a silent connection.
package testhelpers

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	tls "github.com/refraction-networking/utls"

	"github.com/Tyrowin/tlschat/internal/securechan"
)

// Certificates holds the file paths and parsed configs of a generated PKI.
type Certificates struct {
	CAFile       string
	CertFile     string
	KeyFile      string
	ServerConfig *tls.Config
	ClientConfig *tls.Config
}

// GenerateCertificates creates a CA and a server certificate valid for
// 127.0.0.1 and localhost, writes them as PEM files into a temporary
// directory, and loads them back through securechan.
func GenerateCertificates(t *testing.T) *Certificates {
	t.Helper()

	dir := t.TempDir()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "tlschat test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("Failed to create CA certificate: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("Failed to parse CA certificate: %v", err)
	}

	serverKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate server key: %v", err)
	}
	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	serverDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, caCert, &serverKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("Failed to create server certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(serverKey)
	if err != nil {
		t.Fatalf("Failed to marshal server key: %v", err)
	}

	certs := &Certificates{
		CAFile:   filepath.Join(dir, "ca-cert.pem"),
		CertFile: filepath.Join(dir, "server-cert.pem"),
		KeyFile:  filepath.Join(dir, "server-key.pem"),
	}
	writePEM(t, certs.CAFile, "CERTIFICATE", caDER)
	writePEM(t, certs.CertFile, "CERTIFICATE", serverDER)
	writePEM(t, certs.KeyFile, "EC PRIVATE KEY", keyDER)

	certs.ServerConfig, err = securechan.LoadServerConfig(certs.CertFile, certs.KeyFile)
	if err != nil {
		t.Fatalf("Failed to load server config: %v", err)
	}
	certs.ClientConfig, err = securechan.LoadClientConfig(certs.CAFile, "127.0.0.1")
	if err != nil {
		t.Fatalf("Failed to load client config: %v", err)
	}
	return certs
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// DialTLS connects to addr with the generated client config and the plain Go
// fingerprint. The connection is closed when the test ends.
func DialTLS(t *testing.T, addr string, certs *Certificates) *tls.UConn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := securechan.Dial(ctx, addr, certs.ClientConfig, tls.HelloGolang)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DeadlineReader is a stream whose reads can be bounded in time.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(time.Time) error
}

// ReadWithin performs a single read of at most 1024 bytes bounded by timeout.
func ReadWithin(conn DeadlineReader, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	return buf[:n], err
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ExpectNoMessage fails the test if conn yields any payload within wait.
func ExpectNoMessage(t *testing.T, conn DeadlineReader, wait time.Duration) {
	t.Helper()
	data, err := ReadWithin(conn, wait)
	if len(data) > 0 {
		t.Errorf("Expected no message, got %q", data)
		return
	}
	if err != nil && !IsTimeout(err) {
		t.Logf("Read ended with %v while expecting silence", err)
	}
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// origin as its Origin header when non-empty.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// AssertMessage checks that got equals want byte for byte.
func AssertMessage(t *testing.T, got []byte, want string) {
	t.Helper()
	if string(got) != want {
		t.Errorf("Expected message %q, got %q", want, got)
	}
}
