package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// GenerateServerCertPair creates a self-signed ECDSA P-256 TLS serving
// certificate for an agent daemon. Self-signed is enough here: the operator
// copies the public cert to the console host's trust store, so no shared CA
// is involved.
func GenerateServerCertPair(hostname string) (certPEM, keyPEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: fmt.Sprintf("agentd-%s", hostname),
		},
		DNSNames:              []string{hostname, "localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		NotBefore:             now,
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour), // ~10 years
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("create certificate: %w", err)
	}

	certPEMBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal private key: %w", err)
	}

	keyPEMBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyDER,
	})

	return string(certPEMBytes), string(keyPEMBytes), nil
}

// EnsureServerCert makes sure a usable cert/key pair exists at the given
// paths, generating a self-signed pair on first boot. Existing files are
// left untouched, so the agent keeps a stable TLS identity across restarts.
// Reports whether a new pair was written.
func EnsureServerCert(certPath, keyPath, hostname string) (created bool, err error) {
	certExists := fileExists(certPath)
	keyExists := fileExists(keyPath)
	if certExists && keyExists {
		return false, nil
	}
	if certExists != keyExists {
		return false, fmt.Errorf("refusing to overwrite half of an existing pair (%s / %s)", certPath, keyPath)
	}

	certPEM, keyPEM, err := GenerateServerCertPair(hostname)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(keyPath, []byte(keyPEM), 0600); err != nil {
		return false, fmt.Errorf("write key: %w", err)
	}
	if err := os.WriteFile(certPath, []byte(certPEM), 0644); err != nil {
		return false, fmt.Errorf("write cert: %w", err)
	}
	return true, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
