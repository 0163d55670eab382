package securechan

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tls "github.com/refraction-networking/utls"
)

var (
	errBlockIsNotCertificate = errors.New("block is not a certificate, unable to load certificates")
	errNoCertificateFound    = errors.New("no certificate found, unable to load certificates")
)

// LoadServerConfig reads a PEM certificate and private key pair and returns a
// server configuration restricted to TLS 1.2 and newer.
func LoadServerConfig(certFile, keyFile string) (*tls.Config, error) {
	certificate, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
	if err != nil {
		return nil, fmt.Errorf("loading server key pair %s/%s: %w", certFile, keyFile, err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadClientConfig returns a client configuration that trusts only the CA
// certificates found in caFile and verifies the peer as serverName.
func LoadClientConfig(caFile, serverName string) (*tls.Config, error) {
	pool, err := LoadCertPool(caFile)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// LoadCertPool reads every CERTIFICATE block from a PEM file into a pool.
func LoadCertPool(path string) (*x509.CertPool, error) {
	rawData, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}

	pool := x509.NewCertPool()
	found := 0
	for {
		block, rest := pem.Decode(rawData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("%s: %w", path, errBlockIsNotCertificate)
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate in %s: %w", path, err)
		}
		pool.AddCert(cert)
		found++
		rawData = rest
	}

	if found == 0 {
		return nil, fmt.Errorf("%s: %w", path, errNoCertificateFound)
	}
	return pool, nil
}
