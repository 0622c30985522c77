// Package mtls builds the TLS settings for agent to server traffic: an
// optional private CA and client certificate on the agent, and an optional
// serving certificate with client verification on the server.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fleetsync/inventory/internal/logging"
)

var log = logging.L("mtls")

var errNoCerts = errors.New("no PEM certificates found")

// ClientConfig returns nil when nothing is configured so callers keep the
// default transport. caFile adds a trust root; certFile and keyFile present a
// client certificate and must be given together.
func ClientConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	if caFile == "" && certFile == "" && keyFile == "" {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile != "" {
		pool, err := loadPool(caFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	if certFile != "" || keyFile != "" {
		cert, err := loadKeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// ServerConfig returns nil when no serving certificate is configured. With
// clientCAFile set, every client must present a certificate signed by it.
func ServerConfig(certFile, keyFile, clientCAFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		if clientCAFile != "" {
			return nil, errors.New("tls_client_ca_file requires tls_cert_file and tls_key_file")
		}
		return nil, nil
	}
	cert, err := loadKeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	if clientCAFile != "" {
		pool, err := loadPool(clientCAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle %s: %w", path, errNoCerts)
	}
	return pool, nil
}

func loadKeyPair(certFile, keyFile string) (tls.Certificate, error) {
	if certFile == "" || keyFile == "" {
		return tls.Certificate{}, errors.New("certificate and key files must be set together")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load key pair: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate %s: %w", certFile, err)
	}
	cert.Leaf = leaf
	warnExpiry(certFile, leaf, time.Now())
	return cert, nil
}

func warnExpiry(path string, leaf *x509.Certificate, now time.Time) {
	switch {
	case now.After(leaf.NotAfter):
		log.Error("certificate has expired", "file", path, "notAfter", leaf.NotAfter)
	case NeedsRenewal(leaf.NotBefore, leaf.NotAfter, now):
		log.Warn("certificate is past two thirds of its lifetime", "file", path, "notAfter", leaf.NotAfter)
	}
}

// NeedsRenewal reports whether now is past two thirds of the validity window.
func NeedsRenewal(notBefore, notAfter, now time.Time) bool {
	if !notAfter.After(notBefore) {
		return true
	}
	return now.After(notBefore.Add(notAfter.Sub(notBefore) * 2 / 3))
}
