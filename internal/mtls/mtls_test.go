package mtls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSelfSigned writes a self-signed CA certificate and its key as PEM.
func writeSelfSigned(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "inventory test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestClientConfigEmptyIsNil(t *testing.T) {
	cfg, err := ClientConfig("", "", "")
	if err != nil || cfg != nil {
		t.Fatalf("ClientConfig() = %v, %v; want nil, nil", cfg, err)
	}
}

func TestClientConfigLoadsCAAndKeyPair(t *testing.T) {
	cert, key := writeSelfSigned(t, t.TempDir())
	cfg, err := ClientConfig(cert, cert, key)
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("RootCAs not set")
	}
	if len(cfg.Certificates) != 1 || cfg.Certificates[0].Leaf == nil {
		t.Fatalf("client certificate not loaded: %+v", cfg.Certificates)
	}
}

func TestClientConfigRejectsHalfAPair(t *testing.T) {
	cert, _ := writeSelfSigned(t, t.TempDir())
	if _, err := ClientConfig("", cert, ""); err == nil {
		t.Fatal("expected error for certificate without key")
	}
}

func TestClientConfigRejectsEmptyBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := ClientConfig(path, "", ""); !errors.Is(err, errNoCerts) {
		t.Fatalf("err = %v, want errNoCerts", err)
	}
}

func TestServerConfigRequiresClientCerts(t *testing.T) {
	cert, key := writeSelfSigned(t, t.TempDir())
	cfg, err := ServerConfig(cert, key, cert)
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert || cfg.ClientCAs == nil {
		t.Fatalf("client verification not configured: %v", cfg.ClientAuth)
	}

	plain, err := ServerConfig(cert, key, "")
	if err != nil || plain.ClientAuth != tls.NoClientCert {
		t.Fatalf("plain TLS: %v, %v", plain, err)
	}
}

func TestServerConfigClientCAWithoutCert(t *testing.T) {
	if _, err := ServerConfig("", "", "/etc/inventory/ca.pem"); err == nil {
		t.Fatal("expected error for client CA without serving certificate")
	}
	cfg, err := ServerConfig("", "", "")
	if err != nil || cfg != nil {
		t.Fatalf("ServerConfig() = %v, %v; want nil, nil", cfg, err)
	}
}

func TestNeedsRenewal(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(90 * 24 * time.Hour)
	cases := []struct {
		now  time.Time
		want bool
	}{
		{start.Add(24 * time.Hour), false},
		{start.Add(59 * 24 * time.Hour), false},
		{start.Add(61 * 24 * time.Hour), true},
		{end.Add(time.Hour), true},
	}
	for _, c := range cases {
		if got := NeedsRenewal(start, end, c.now); got != c.want {
			t.Errorf("NeedsRenewal at %v = %v, want %v", c.now, got, c.want)
		}
	}
	if !NeedsRenewal(end, start, start) {
		t.Error("inverted validity window should need renewal")
	}
}
