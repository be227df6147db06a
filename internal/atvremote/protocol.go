package atvremote

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
)

// Message framing: every message is a 2-byte big-endian size field followed
// by a 2-byte big-endian message type and a JSON payload. The size field
// counts the type and payload bytes, not itself.
//
//	+--------+--------+--------......--------+
//	| size   | type   | payload (JSON)       |
//	+--------+--------+--------......--------+

// Message types for the remote and pairing services.
const (
	// Remote service (device port, typically 6466).
	msgConfigure    uint16 = 0x0001 // client → device: identify self
	msgConfigureAck uint16 = 0x0002 // device → client: device identity
	msgUnauthorized uint16 = 0x0003 // device → client: certificate not trusted
	msgKeyInject    uint16 = 0x0010 // client → device: press a key
	msgKeyAck       uint16 = 0x0011 // device → client: key result
	msgPing         uint16 = 0x0020 // device → client: keepalive probe
	msgPong         uint16 = 0x0021 // client → device: keepalive reply
	msgPowerState   uint16 = 0x0030 // device → client: screen on/off
	msgCurrentApp   uint16 = 0x0031 // device → client: foreground app changed
	msgVolume       uint16 = 0x0032 // device → client: volume changed

	// Pairing service (remote port + 1, typically 6467).
	msgPairingRequest uint16 = 0x0040 // client → device: begin exchange, device shows PIN
	msgPairingAck     uint16 = 0x0041 // device → client: PIN is on screen
	msgPairingSecret  uint16 = 0x0042 // client → device: proof of PIN knowledge
	msgPairingResult  uint16 = 0x0043 // device → client: trusted or rejected
)

// maxMessageSize bounds a single frame. Remote messages are tiny; anything
// larger means the stream is desynchronized.
const maxMessageSize = 4096

// Key actions recognized by the key-injection message.
const (
	ActionShort       = "SHORT"
	ActionLong        = "LONG"
	ActionDoubleClick = "DOUBLE_CLICK"
	ActionBegin       = "BEGIN"
	ActionEnd         = "END"
)

// Payloads.

type configurePayload struct {
	ClientName string `json:"client_name"`
	Version    int    `json:"version"`
}

type configureAckPayload struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	PowerOn      bool   `json:"power_on"`
}

type keyInjectPayload struct {
	ID      uint32 `json:"id"`
	Keycode string `json:"keycode"`
	Action  string `json:"action"`
}

type keyAckPayload struct {
	ID    uint32 `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type powerStatePayload struct {
	On bool `json:"on"`
}

type currentAppPayload struct {
	AppID string `json:"app_id"`
}

type volumePayload struct {
	Level int  `json:"level"`
	Max   int  `json:"max"`
	Muted bool `json:"muted"`
}

type pairingRequestPayload struct {
	ClientName  string `json:"client_name"`
	ServiceName string `json:"service_name"`
}

type pairingSecretPayload struct {
	Secret string `json:"secret"`
}

type pairingResultPayload struct {
	Trusted bool   `json:"trusted"`
	Reason  string `json:"reason,omitempty"`
}

// encodeMessage builds a framed message from a type and a JSON-serializable
// payload. A nil payload yields an empty body.
func encodeMessage(msgType uint16, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	size := 2 + len(body) // type + payload
	msg := make([]byte, 2+size)
	binary.BigEndian.PutUint16(msg[0:2], uint16(size))
	binary.BigEndian.PutUint16(msg[2:4], msgType)
	copy(msg[4:], body)
	return msg, nil
}

// readFrame reads one framed message from conn into buf and returns the
// message type and payload bytes. The payload slice aliases buf and is only
// valid until the next read. Returns ErrProtocolDesync for oversized frames.
func readFrame(conn net.Conn, buf []byte) (uint16, []byte, error) {
	if _, err := io.ReadFull(conn, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	size := binary.BigEndian.Uint16(buf[:2])
	if size < 2 {
		return 0, nil, fmt.Errorf("%w: frame size %d below minimum", ErrProtocolDesync, size)
	}

	totalLen := 2 + int(size)
	if totalLen > len(buf) {
		return 0, nil, fmt.Errorf("%w: frame size %d exceeds buffer %d", ErrProtocolDesync, totalLen, len(buf))
	}

	if _, err := io.ReadFull(conn, buf[2:totalLen]); err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}

	msgType := binary.BigEndian.Uint16(buf[2:4])
	return msgType, buf[4:totalLen], nil
}

// PairingAddress derives the pairing endpoint from a remote-service address.
// The pairing service listens on the port directly above the remote service
// (remote 6466 → pairing 6467).
func PairingAddress(remoteAddr string) (string, error) {
	host, portStr, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", remoteAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port >= 65535 {
		return "", fmt.Errorf("invalid port %q in address %q", portStr, remoteAddr)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1)), nil
}
