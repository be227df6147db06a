package atvremote

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

// startFakePairingService listens on an ephemeral port and returns a
// remote-service address one port BELOW it, so PairingAddress resolves back
// to the listener.
func startFakePairingService(t *testing.T, handler func(conn net.Conn)) string {
	t.Helper()

	cert, err := LoadOrCreateCertificate(t.TempDir(), "fake-device")
	if err != nil {
		t.Fatalf("device certificate: %v", err)
	}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequestClientCert,
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split listener addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return net.JoinHostPort(host, strconv.Itoa(port-1))
}

// servePairing answers the request/ack leg, then judges each submitted
// secret with verdict.
func servePairing(conn net.Conn, verdict func(secret string) pairingResultPayload) {
	defer conn.Close()
	buf := make([]byte, readBufferSize)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, _, err := readFrame(conn, buf)
	if err != nil || msgType != msgPairingRequest {
		return
	}
	msg, _ := encodeMessage(msgPairingAck, nil)
	if _, err := conn.Write(msg); err != nil {
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		msgType, payload, err := readFrame(conn, buf)
		if err != nil || msgType != msgPairingSecret {
			return
		}
		var secret pairingSecretPayload
		if err := json.Unmarshal(payload, &secret); err != nil {
			return
		}
		msg, _ := encodeMessage(msgPairingResult, verdict(secret.Secret))
		if _, err := conn.Write(msg); err != nil {
			return
		}
	}
}

func TestPairing_Success(t *testing.T) {
	clientCert, err := LoadOrCreateCertificate(t.TempDir(), "client")
	if err != nil {
		t.Fatalf("client certificate: %v", err)
	}
	wantSecret := pairingSecret(clientCert, "123456")

	addr := startFakePairingService(t, func(conn net.Conn) {
		servePairing(conn, func(secret string) pairingResultPayload {
			if secret == wantSecret {
				return pairingResultPayload{Trusted: true}
			}
			return pairingResultPayload{Trusted: false, Reason: "pin mismatch"}
		})
	})

	session, err := StartPairing(context.Background(), Config{
		Address:     addr,
		Certificate: clientCert,
	})
	if err != nil {
		t.Fatalf("StartPairing() unexpected error: %v", err)
	}
	defer session.Close()

	if err := session.FinishPairing(context.Background(), "123456"); err != nil {
		t.Errorf("FinishPairing() unexpected error: %v", err)
	}
}

func TestPairing_WrongPINRetry(t *testing.T) {
	clientCert, err := LoadOrCreateCertificate(t.TempDir(), "client")
	if err != nil {
		t.Fatalf("client certificate: %v", err)
	}
	wantSecret := pairingSecret(clientCert, "654321")

	addr := startFakePairingService(t, func(conn net.Conn) {
		servePairing(conn, func(secret string) pairingResultPayload {
			if secret == wantSecret {
				return pairingResultPayload{Trusted: true}
			}
			return pairingResultPayload{Trusted: false, Reason: "pin mismatch"}
		})
	})

	session, err := StartPairing(context.Background(), Config{
		Address:     addr,
		Certificate: clientCert,
	})
	if err != nil {
		t.Fatalf("StartPairing() unexpected error: %v", err)
	}
	defer session.Close()

	// Wrong PIN keeps the exchange open for another attempt.
	err = session.FinishPairing(context.Background(), "000000")
	if !errors.Is(err, ErrPairingFailed) {
		t.Fatalf("FinishPairing() error = %v, want ErrPairingFailed", err)
	}

	if err := session.FinishPairing(context.Background(), "654321"); err != nil {
		t.Errorf("retry FinishPairing() unexpected error: %v", err)
	}
}

func TestPairing_CancelledLeavesSessionClosed(t *testing.T) {
	clientCert, err := LoadOrCreateCertificate(t.TempDir(), "client")
	if err != nil {
		t.Fatalf("client certificate: %v", err)
	}

	addr := startFakePairingService(t, func(conn net.Conn) {
		servePairing(conn, func(string) pairingResultPayload {
			return pairingResultPayload{Trusted: true}
		})
	})

	session, err := StartPairing(context.Background(), Config{
		Address:     addr,
		Certificate: clientCert,
	})
	if err != nil {
		t.Fatalf("StartPairing() unexpected error: %v", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}

	// A closed exchange rejects the PIN instead of completing trust.
	if err := session.FinishPairing(context.Background(), "123456"); !errors.Is(err, ErrPairingFailed) {
		t.Errorf("FinishPairing() after Close error = %v, want ErrPairingFailed", err)
	}
}

func TestStartPairing_Unreachable(t *testing.T) {
	clientCert, err := LoadOrCreateCertificate(t.TempDir(), "client")
	if err != nil {
		t.Fatalf("client certificate: %v", err)
	}

	_, err = StartPairing(context.Background(), Config{
		Address:        "127.0.0.1:1",
		Certificate:    clientCert,
		ConnectTimeout: 2 * time.Second,
	})
	if err == nil {
		t.Fatal("StartPairing() expected error, got nil")
	}
	if !errors.Is(err, ErrDeviceUnreachable) && !errors.Is(err, ErrTimeout) {
		t.Errorf("StartPairing() error = %v, want ErrDeviceUnreachable or ErrTimeout", err)
	}
}
