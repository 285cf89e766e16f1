package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenerateServerCertPair(t *testing.T) {
	certPEM, keyPEM, err := GenerateServerCertPair("web-1.internal")
	if err != nil {
		t.Fatalf("GenerateServerCertPair() error = %v", err)
	}

	if certPEM == "" {
		t.Fatal("certPEM is empty")
	}
	if keyPEM == "" {
		t.Fatal("keyPEM is empty")
	}

	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		t.Fatal("failed to decode cert PEM")
	}
	if block.Type != "CERTIFICATE" {
		t.Fatalf("cert PEM block type = %q, want CERTIFICATE", block.Type)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("ParseCertificate() error = %v", err)
	}

	if cert.Subject.CommonName != "agentd-web-1.internal" {
		t.Errorf("CommonName = %q, want %q", cert.Subject.CommonName, "agentd-web-1.internal")
	}
	if len(cert.DNSNames) != 2 || cert.DNSNames[0] != "web-1.internal" || cert.DNSNames[1] != "localhost" {
		t.Errorf("DNSNames = %v", cert.DNSNames)
	}
	if len(cert.IPAddresses) != 2 {
		t.Errorf("IPAddresses = %v, want loopback pair", cert.IPAddresses)
	}

	// Validity (~10 years)
	expectedDuration := 10 * 365 * 24 * time.Hour
	actualDuration := cert.NotAfter.Sub(cert.NotBefore)
	if actualDuration < expectedDuration-time.Hour || actualDuration > expectedDuration+time.Hour {
		t.Errorf("validity duration = %v, want ~%v", actualDuration, expectedDuration)
	}

	if cert.KeyUsage&x509.KeyUsageKeyEncipherment == 0 {
		t.Error("KeyUsageKeyEncipherment not set")
	}
	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		t.Error("KeyUsageDigitalSignature not set")
	}
	if len(cert.ExtKeyUsage) != 1 || cert.ExtKeyUsage[0] != x509.ExtKeyUsageServerAuth {
		t.Errorf("ExtKeyUsage = %v, want [ServerAuth]", cert.ExtKeyUsage)
	}

	pubKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatal("public key is not ECDSA")
	}
	if pubKey.Curve != elliptic.P256() {
		t.Error("curve is not P-256")
	}

	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil {
		t.Fatal("failed to decode key PEM")
	}
	if keyBlock.Type != "EC PRIVATE KEY" {
		t.Fatalf("key PEM block type = %q, want EC PRIVATE KEY", keyBlock.Type)
	}

	privKey, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		t.Fatalf("ParseECPrivateKey() error = %v", err)
	}
	if !privKey.PublicKey.Equal(pubKey) {
		t.Error("private key does not match certificate public key")
	}

	if _, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM)); err != nil {
		t.Fatalf("X509KeyPair() error = %v", err)
	}
}

func TestGenerateServerCertPair_UniquePerCall(t *testing.T) {
	cert1, key1, err := GenerateServerCertPair("host-a")
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}

	cert2, key2, err := GenerateServerCertPair("host-a")
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}

	if cert1 == cert2 {
		t.Error("two calls with same hostname produced identical certs")
	}
	if key1 == key2 {
		t.Error("two calls with same hostname produced identical keys")
	}
}

func TestGenerateServerCertPair_SelfSigned(t *testing.T) {
	certPEM, _, err := GenerateServerCertPair("pinned.internal")
	if err != nil {
		t.Fatalf("GenerateServerCertPair() error = %v", err)
	}

	block, _ := pem.Decode([]byte(certPEM))
	cert, _ := x509.ParseCertificate(block.Bytes)

	if cert.Issuer.CommonName != cert.Subject.CommonName {
		t.Errorf("Issuer.CN = %q, Subject.CN = %q; expected equal for self-signed",
			cert.Issuer.CommonName, cert.Subject.CommonName)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)
	if _, err := cert.Verify(x509.VerifyOptions{Roots: pool, DNSName: "pinned.internal"}); err != nil {
		t.Errorf("self-signed verification failed: %v", err)
	}
}

func TestEnsureServerCert_CreatesOnce(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "agent-cert.pem")
	keyPath := filepath.Join(dir, "agent-key.pem")

	created, err := EnsureServerCert(certPath, keyPath, "db-1")
	if err != nil {
		t.Fatalf("EnsureServerCert() error = %v", err)
	}
	if !created {
		t.Fatal("first call did not create a pair")
	}

	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key mode = %o, want 0600", perm)
	}

	before, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatal(err)
	}

	created, err = EnsureServerCert(certPath, keyPath, "db-1")
	if err != nil {
		t.Fatalf("second EnsureServerCert() error = %v", err)
	}
	if created {
		t.Error("second call regenerated an existing pair")
	}
	after, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("existing certificate was rewritten")
	}
}

func TestEnsureServerCert_RefusesHalfPair(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "agent-cert.pem")
	keyPath := filepath.Join(dir, "agent-key.pem")
	if err := os.WriteFile(certPath, []byte("stale cert"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := EnsureServerCert(certPath, keyPath, "db-1"); err == nil {
		t.Fatal("expected an error when only the cert file exists")
	}
	if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
		t.Error("a key was written next to an orphaned cert")
	}
}
