package atvremote

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// PairingSession is a live PIN exchange with a device's pairing service.
// StartPairing puts the PIN on the device screen; FinishPairing proves
// knowledge of it. The session holds one connection and is single-use:
// after a successful FinishPairing (or Close) it cannot be reused.
type PairingSession struct {
	cfg  Config
	conn net.Conn
	buf  []byte

	mu     sync.Mutex
	closed bool

	logger   Logger
	loggerMu sync.RWMutex
}

// StartPairing opens a pairing exchange with the device. The pairing service
// is derived from cfg.Address (remote port + 1). On success the device is
// displaying a PIN and the caller should collect it from the user, then call
// FinishPairing.
//
// Returns:
//   - *PairingSession: open exchange awaiting the PIN
//   - error: ErrDeviceUnreachable or ErrTimeout
func StartPairing(ctx context.Context, cfg Config) (*PairingSession, error) {
	cfg.applyDefaults()

	pairingAddr, err := PairingAddress(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnreachable, err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	dialer := tls.Dialer{
		Config: &tls.Config{
			Certificates:       []tls.Certificate{cfg.Certificate},
			InsecureSkipVerify: true, // trust is what pairing establishes
			MinVersion:         tls.VersionTLS12,
		},
	}

	conn, err := dialer.DialContext(connectCtx, "tcp", pairingAddr)
	if err != nil {
		if connectCtx.Err() != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrTimeout, pairingAddr, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrDeviceUnreachable, pairingAddr, err)
	}

	p := &PairingSession{
		cfg:  cfg,
		conn: conn,
		buf:  make([]byte, readBufferSize),
	}

	if err := p.request(connectCtx); err != nil {
		conn.Close()
		return nil, err
	}

	return p, nil
}

// request announces the pairing attempt; the device responds once the PIN is
// on screen.
func (p *PairingSession) request(ctx context.Context) error {
	msg, err := encodeMessage(msgPairingRequest, pairingRequestPayload{
		ClientName:  p.cfg.ClientName,
		ServiceName: "atvbridge",
	})
	if err != nil {
		return fmt.Errorf("%w: encode pairing request: %w", ErrDeviceUnreachable, err)
	}

	msgType, _, err := p.roundTrip(ctx, msg)
	if err != nil {
		return err
	}
	if msgType != msgPairingAck {
		return fmt.Errorf("%w: unexpected pairing reply type 0x%04X", ErrProtocolDesync, msgType)
	}
	return nil
}

// FinishPairing completes the exchange with the PIN shown on the device
// screen. An invalid PIN returns ErrPairingFailed and leaves the session
// open so the caller can retry with a corrected PIN.
func (p *PairingSession) FinishPairing(ctx context.Context, pin string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: pairing session closed", ErrPairingFailed)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	finishCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	msg, err := encodeMessage(msgPairingSecret, pairingSecretPayload{
		Secret: pairingSecret(p.cfg.Certificate, pin),
	})
	if err != nil {
		return fmt.Errorf("%w: encode secret: %w", ErrPairingFailed, err)
	}

	msgType, payload, err := p.roundTrip(finishCtx, msg)
	if err != nil {
		return err
	}
	if msgType != msgPairingResult {
		return fmt.Errorf("%w: unexpected pairing reply type 0x%04X", ErrProtocolDesync, msgType)
	}

	var result pairingResultPayload
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("%w: parse pairing result: %w", ErrDeviceUnreachable, err)
	}
	if !result.Trusted {
		p.logInfo("pairing rejected", "reason", result.Reason)
		return fmt.Errorf("%w: %s", ErrPairingFailed, result.Reason)
	}

	// Trusted. The exchange is complete and the connection has served its
	// purpose.
	p.Close()
	return nil
}

// roundTrip writes one message and reads one reply under the context
// deadline.
func (p *PairingSession) roundTrip(ctx context.Context, msg []byte) (uint16, []byte, error) {
	deadline := time.Now().Add(p.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := p.conn.SetDeadline(deadline); err != nil {
		return 0, nil, fmt.Errorf("%w: set deadline: %w", ErrDeviceUnreachable, err)
	}

	if _, err := p.conn.Write(msg); err != nil {
		return 0, nil, fmt.Errorf("%w: write: %w", ErrDeviceUnreachable, err)
	}

	msgType, payload, err := readFrame(p.conn, p.buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil, fmt.Errorf("%w: pairing exchange: %w", ErrTimeout, err)
		}
		return 0, nil, fmt.Errorf("%w: read: %w", ErrDeviceUnreachable, err)
	}
	return msgType, payload, nil
}

// Close abandons the exchange. The device discards the in-progress pairing,
// so a cancelled attempt leaves no half-trusted certificate behind. Safe to
// call multiple times.
func (p *PairingSession) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

// SetLogger sets the logger for this pairing session.
func (p *PairingSession) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *PairingSession) logInfo(msg string, keysAndValues ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// pairingSecret binds the PIN to this client's certificate so the proof
// cannot be replayed by another client: SHA-256 over the leaf certificate
// DER followed by the PIN bytes, hex encoded.
func pairingSecret(cert tls.Certificate, pin string) string {
	h := sha256.New()
	if len(cert.Certificate) > 0 {
		h.Write(cert.Certificate[0])
	}
	h.Write([]byte(pin))
	return hex.EncodeToString(h.Sum(nil))
}
