package atvremote

import (
	"bytes"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrCreateCertificate(t *testing.T) {
	dir := t.TempDir()

	cert, err := LoadOrCreateCertificate(dir, "living-room-tv")
	if err != nil {
		t.Fatalf("LoadOrCreateCertificate() unexpected error: %v", err)
	}
	if len(cert.Certificate) == 0 {
		t.Fatal("certificate has no leaf")
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}
	if leaf.Subject.CommonName != "atvbridge" {
		t.Errorf("CommonName = %q, want %q", leaf.Subject.CommonName, "atvbridge")
	}

	// PEM files on disk
	for _, name := range []string{"living-room-tv.crt", "living-room-tv.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s on disk: %v", name, err)
		}
	}
}

func TestLoadOrCreateCertificate_Stable(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateCertificate(dir, "tv")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := LoadOrCreateCertificate(dir, "tv")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	// A regenerated certificate would break device trust, so loading
	// must return the same key material.
	if !bytes.Equal(first.Certificate[0], second.Certificate[0]) {
		t.Error("second load returned a different certificate")
	}
}

func TestLoadOrCreateCertificate_PerDevice(t *testing.T) {
	dir := t.TempDir()

	a, err := LoadOrCreateCertificate(dir, "tv-a")
	if err != nil {
		t.Fatalf("tv-a: %v", err)
	}
	b, err := LoadOrCreateCertificate(dir, "tv-b")
	if err != nil {
		t.Fatalf("tv-b: %v", err)
	}

	if bytes.Equal(a.Certificate[0], b.Certificate[0]) {
		t.Error("devices share a certificate, want distinct identities")
	}
}

func TestRemoveCertificate(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadOrCreateCertificate(dir, "tv"); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := RemoveCertificate(dir, "tv"); err != nil {
		t.Fatalf("RemoveCertificate() unexpected error: %v", err)
	}

	for _, name := range []string{"tv.crt", "tv.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s still exists after removal", name)
		}
	}

	// Removing again is not an error.
	if err := RemoveCertificate(dir, "tv"); err != nil {
		t.Errorf("second RemoveCertificate() error: %v", err)
	}
}
