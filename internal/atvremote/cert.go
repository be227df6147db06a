package atvremote

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// certValidity is the lifetime of a generated client certificate. The
// certificate only needs to outlive the pairing, but a short lifetime would
// force re-pairing when it expires, so it is deliberately long.
const certValidity = 10 * 365 * 24 * time.Hour

// LoadOrCreateCertificate returns the per-device client certificate,
// generating a new self-signed one on first use. Key material is stored as
// PEM files named after the device id inside dir. The certificate identifies
// this bridge to the device; the device learns to trust it during pairing.
func LoadOrCreateCertificate(dir, deviceID string) (tls.Certificate, error) {
	certPath := filepath.Join(dir, deviceID+".crt")
	keyPath := filepath.Join(dir, deviceID+".key")

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil {
		return cert, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return tls.Certificate{}, fmt.Errorf("load certificate: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate dir: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "atvbridge",
			Organization: []string{"atv-bridge"},
		},
		NotBefore:             now.Add(-time.Hour), // tolerate device clock skew
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return tls.Certificate{}, fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		os.Remove(certPath)
		return tls.Certificate{}, fmt.Errorf("write key: %w", err)
	}

	cert, err = tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("assemble key pair: %w", err)
	}
	return cert, nil
}

// RemoveCertificate deletes the stored certificate and key for a device.
// Called when the device is removed so its trust material does not linger.
// Missing files are not an error.
func RemoveCertificate(dir, deviceID string) error {
	certPath := filepath.Join(dir, deviceID+".crt")
	keyPath := filepath.Join(dir, deviceID+".key")

	var errs []error
	for _, path := range []string{certPath, keyPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", filepath.Base(path), err))
		}
	}
	return errors.Join(errs...)
}
