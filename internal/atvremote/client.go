package atvremote

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts for device communication.
const (
	// defaultConnectTimeout is the maximum time to wait for dial plus the
	// configure handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the per-read deadline. The device pings every
	// few seconds while connected, so a silent connection is a dead one.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the deadline for individual writes.
	defaultWriteTimeout = 5 * time.Second

	// defaultAckTimeout is how long SendKey waits for the device to
	// acknowledge a keycode.
	defaultAckTimeout = 5 * time.Second

	// readBufferSize holds one frame; see maxMessageSize.
	readBufferSize = maxMessageSize

	// eventQueueSize bounds the notification callback queue.
	eventQueueSize = 64
)

// Config holds the connection parameters for one device.
type Config struct {
	// Address is the remote service endpoint, host:port (typically :6466).
	Address string

	// Certificate is the client identity presented during the TLS
	// handshake. Generate with LoadOrCreateCertificate.
	Certificate tls.Certificate

	// ClientName identifies this bridge to the device. Default: "atvbridge".
	ClientName string

	// ConnectTimeout bounds dial plus handshake. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the per-read deadline. Default: 30 seconds.
	ReadTimeout time.Duration

	// AckTimeout bounds the wait for a keycode acknowledgment.
	// Default: 5 seconds.
	AckTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ClientName == "" {
		c.ClientName = "atvbridge"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = defaultAckTimeout
	}
}

// DeviceInfo is the identity the device reports during the configure
// handshake. Used for profile resolution.
type DeviceInfo struct {
	Manufacturer string
	Model        string
	PowerOn      bool
}

// VolumeInfo is a volume-change notification.
type VolumeInfo struct {
	Level int
	Max   int
	Muted bool
}

// Stats holds operational statistics.
type Stats struct {
	KeysTx        uint64
	EventsRx      uint64
	EventsDropped uint64 // Notifications dropped due to full callback queue
	ErrorsTotal   uint64
	LastActivity  time.Time
	Connected     bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Transport is the client interface consumed by the session layer.
// It allows mocking the device in tests.
type Transport interface {
	SendKey(ctx context.Context, keycode, action string) error
	DeviceInfo() DeviceInfo
	SetOnPowerState(callback func(on bool))
	SetOnCurrentApp(callback func(appID string))
	SetOnVolume(callback func(v VolumeInfo))
	SetOnDisconnect(callback func(err error))
	IsConnected() bool
	Stats() Stats
	Close() error
}

// Ensure Client implements Transport.
var _ Transport = (*Client)(nil)

// event carries a device notification through the bounded callback queue.
type event struct {
	msgType uint16
	power   powerStatePayload
	app     currentAppPayload
	volume  volumePayload
}

// Client is a live remote-control connection to one Android TV device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Notification callbacks are invoked from a single worker goroutine,
//     preserving event order.
//
// The client never reconnects on its own. After a transport loss it stays
// disconnected, fails pending sends and fires the OnDisconnect callback
// exactly once; the owner decides whether and when to dial again.
type Client struct {
	cfg  Config
	conn net.Conn
	info DeviceInfo

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Writes are serialized (one in-flight network write per connection)
	writeMu sync.Mutex

	// Keycode acknowledgment correlation
	nextID    atomic.Uint32
	pendingMu sync.Mutex
	pending   map[uint32]chan keyAckPayload

	// Notification callbacks
	callbackMu   sync.RWMutex
	onPowerState func(bool)
	onCurrentApp func(string)
	onVolume     func(VolumeInfo)
	onDisconnect func(error)

	// Bounded notification queue, drained by a single worker
	eventQueue chan event

	// Shutdown coordination
	done           *closeOnce
	disconnectOnce sync.Once
	wg             sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	keysTx        atomic.Uint64
	eventsRx      atomic.Uint64
	eventsDropped atomic.Uint64
	errorsTotal   atomic.Uint64
	lastActivity  atomic.Int64 // Unix timestamp
}

// Connect dials the device's remote service and performs the configure
// handshake.
//
// Returns:
//   - *Client: live connection ready for SendKey
//   - error: ErrPairingRequired when the device does not trust the
//     certificate, ErrDeviceUnreachable for transport failures,
//     ErrTimeout when the handshake exceeds ConnectTimeout
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()

	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	// The device presents a self-signed certificate; trust was established
	// (or will be) by PIN pairing, so chain verification is disabled.
	dialer := tls.Dialer{
		Config: &tls.Config{
			Certificates:       []tls.Certificate{cfg.Certificate},
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		},
	}

	conn, err := dialer.DialContext(connectCtx, "tcp", cfg.Address)
	if err != nil {
		if isCertificateRejection(err) {
			// Device aborted the handshake over the client certificate.
			return nil, fmt.Errorf("%w: %w", ErrPairingRequired, err)
		}
		if connectCtx.Err() != nil {
			return nil, fmt.Errorf("%w: dial %s: %w", ErrTimeout, cfg.Address, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrDeviceUnreachable, cfg.Address, err)
	}

	client := &Client{
		cfg:        cfg,
		conn:       conn,
		done:       newCloseOnce(),
		pending:    make(map[uint32]chan keyAckPayload),
		eventQueue: make(chan event, eventQueueSize),
	}
	client.lastActivity.Store(time.Now().Unix())

	if err := client.configure(connectCtx); err != nil {
		conn.Close()
		return nil, err
	}

	client.connMu.Lock()
	client.connected = true
	client.connMu.Unlock()

	client.wg.Add(1)
	go client.callbackWorker()

	client.wg.Add(1)
	go client.receiveLoop()

	return client, nil
}

// isCertificateRejection reports whether a TLS dial error was caused by the
// server refusing the client certificate. The crypto/tls alert surfaces only
// as error text, so string matching is the available signal.
func isCertificateRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "bad certificate") ||
		strings.Contains(msg, "certificate required") ||
		strings.Contains(msg, "unknown certificate")
}

// configure performs the identify handshake: the client announces itself and
// the device answers with its identity, or with unauthorized when the
// certificate is not trusted.
func (c *Client) configure(ctx context.Context) error {
	msg, err := encodeMessage(msgConfigure, configurePayload{
		ClientName: c.cfg.ClientName,
		Version:    1,
	})
	if err != nil {
		return fmt.Errorf("%w: encode configure: %w", ErrDeviceUnreachable, err)
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrDeviceUnreachable, err)
	}
	defer c.conn.SetDeadline(time.Time{})

	if _, err := c.conn.Write(msg); err != nil {
		return fmt.Errorf("%w: write configure: %w", ErrDeviceUnreachable, err)
	}

	buf := make([]byte, readBufferSize)
	msgType, payload, err := readFrame(c.conn, buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: configure handshake: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: read configure reply: %w", ErrDeviceUnreachable, err)
	}

	switch msgType {
	case msgConfigureAck:
		var ack configureAckPayload
		if err := json.Unmarshal(payload, &ack); err != nil {
			return fmt.Errorf("%w: parse configure reply: %w", ErrDeviceUnreachable, err)
		}
		c.info = DeviceInfo{
			Manufacturer: ack.Manufacturer,
			Model:        ack.Model,
			PowerOn:      ack.PowerOn,
		}
		return nil
	case msgUnauthorized:
		return ErrPairingRequired
	default:
		return fmt.Errorf("%w: unexpected handshake reply type 0x%04X", ErrProtocolDesync, msgType)
	}
}

// receiveLoop reads frames until the connection drops or Close is called.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.handleTransportLoss(fmt.Errorf("%w: set deadline: %w", ErrDeviceUnreachable, err))
			return
		}

		msgType, payload, err := readFrame(c.conn, buf)
		if err != nil {
			if c.isClosed() {
				return
			}
			// The device pings regularly, so a read timeout means the
			// connection is gone, same as any other read failure.
			c.errorsTotal.Add(1)
			c.handleTransportLoss(fmt.Errorf("%w: %w", ErrDeviceUnreachable, err))
			return
		}

		c.lastActivity.Store(time.Now().Unix())
		c.handleMessage(msgType, payload)
	}
}

// handleMessage dispatches a single inbound frame.
func (c *Client) handleMessage(msgType uint16, payload []byte) {
	switch msgType {
	case msgPing:
		c.sendPong()

	case msgKeyAck:
		var ack keyAckPayload
		if err := json.Unmarshal(payload, &ack); err != nil {
			c.logError("parse key ack failed", err)
			c.errorsTotal.Add(1)
			return
		}
		c.deliverAck(ack)

	case msgPowerState:
		var p powerStatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logError("parse power state failed", err)
			c.errorsTotal.Add(1)
			return
		}
		c.enqueueEvent(event{msgType: msgPowerState, power: p})

	case msgCurrentApp:
		var p currentAppPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logError("parse current app failed", err)
			c.errorsTotal.Add(1)
			return
		}
		c.enqueueEvent(event{msgType: msgCurrentApp, app: p})

	case msgVolume:
		var p volumePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logError("parse volume failed", err)
			c.errorsTotal.Add(1)
			return
		}
		c.enqueueEvent(event{msgType: msgVolume, volume: p})

	case msgUnauthorized:
		// Trust revoked mid-session. Reconnecting with this certificate
		// will never succeed; the owner must re-pair.
		c.handleTransportLoss(ErrCertificateInvalid)

	default:
		c.logDebug("ignoring unknown message type", "type", fmt.Sprintf("0x%04X", msgType))
	}
}

// sendPong answers a keepalive probe.
func (c *Client) sendPong() {
	msg, err := encodeMessage(msgPong, nil)
	if err != nil {
		return
	}
	if err := c.write(msg, time.Now().Add(defaultWriteTimeout)); err != nil {
		c.logError("pong write failed", err)
		c.errorsTotal.Add(1)
	}
}

// enqueueEvent queues a notification for the callback worker, dropping it
// when the queue is full to keep the read loop from blocking.
func (c *Client) enqueueEvent(ev event) {
	c.eventsRx.Add(1)
	select {
	case c.eventQueue <- ev:
	default:
		c.logError("event queue full, dropping notification", nil)
		c.eventsDropped.Add(1)
		c.errorsTotal.Add(1)
	}
}

// callbackWorker invokes notification callbacks in arrival order. A single
// worker keeps power/app transitions ordered for the session layer.
func (c *Client) callbackWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainEventQueue()
			return
		case ev := <-c.eventQueue:
			c.dispatchEvent(ev)
		}
	}
}

func (c *Client) dispatchEvent(ev event) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("notification callback panic", fmt.Errorf("%v", r))
		}
	}()

	c.callbackMu.RLock()
	onPower := c.onPowerState
	onApp := c.onCurrentApp
	onVolume := c.onVolume
	c.callbackMu.RUnlock()

	switch ev.msgType {
	case msgPowerState:
		if onPower != nil {
			onPower(ev.power.On)
		}
	case msgCurrentApp:
		if onApp != nil {
			onApp(ev.app.AppID)
		}
	case msgVolume:
		if onVolume != nil {
			onVolume(VolumeInfo{Level: ev.volume.Level, Max: ev.volume.Max, Muted: ev.volume.Muted})
		}
	}
}

// drainEventQueue discards queued notifications during shutdown.
func (c *Client) drainEventQueue() {
	for {
		select {
		case <-c.eventQueue:
		default:
			return
		}
	}
}

// handleTransportLoss marks the client disconnected, fails pending keycode
// waits and fires the OnDisconnect callback exactly once. Not called for
// owner-initiated Close.
func (c *Client) handleTransportLoss(cause error) {
	c.disconnectOnce.Do(func() {
		c.connMu.Lock()
		c.connected = false
		c.connMu.Unlock()

		c.conn.Close()
		c.failPending(cause)

		if !c.isClosed() {
			c.logInfo("connection lost", "cause", cause)
			c.callbackMu.RLock()
			callback := c.onDisconnect
			c.callbackMu.RUnlock()
			if callback != nil {
				// Own goroutine so a slow owner cannot stall teardown.
				go func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("disconnect callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(cause)
				}()
			}
		}
	})
}

// failPending completes every in-flight keycode wait with an error ack.
func (c *Client) failPending(cause error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- keyAckPayload{ID: id, OK: false, Error: cause.Error()}:
		default:
		}
		delete(c.pending, id)
	}
}

// deliverAck routes a key acknowledgment to its waiting sender.
func (c *Client) deliverAck(ack keyAckPayload) {
	c.pendingMu.Lock()
	ch, ok := c.pending[ack.ID]
	if ok {
		delete(c.pending, ack.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- ack:
		default:
		}
	}
}

// SendKey injects a keycode with the given action and waits for the device
// acknowledgment.
//
// Parameters:
//   - ctx: Context for cancellation
//   - keycode: e.g. "KEYCODE_DPAD_UP"
//   - action: one of ActionShort, ActionLong, ActionDoubleClick,
//     ActionBegin, ActionEnd
//
// Returns:
//   - error: ErrNotConnected, ErrTimeout, ErrKeyRejected with the device's
//     reason, or ErrDeviceUnreachable when the connection drops mid-wait
func (c *Client) SendKey(ctx context.Context, keycode, action string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	id := c.nextID.Add(1)
	ackCh := make(chan keyAckPayload, 1)

	c.pendingMu.Lock()
	c.pending[id] = ackCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	msg, err := encodeMessage(msgKeyInject, keyInjectPayload{
		ID:      id,
		Keycode: keycode,
		Action:  action,
	})
	if err != nil {
		return fmt.Errorf("encode key inject: %w", err)
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.write(msg, deadline); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrDeviceUnreachable, err)
	}

	c.keysTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-c.done.Done():
		return ErrNotConnected
	case <-time.After(c.cfg.AckTimeout):
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: no acknowledgment for %s", ErrTimeout, keycode)
	case ack := <-ackCh:
		if !ack.OK {
			if !c.IsConnected() {
				return fmt.Errorf("%w: %s", ErrDeviceUnreachable, ack.Error)
			}
			return fmt.Errorf("%w: %s: %s", ErrKeyRejected, keycode, ack.Error)
		}
		return nil
	}
}

// write sends a framed message under the write lock with a deadline.
func (c *Client) write(msg []byte, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.conn.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// DeviceInfo returns the identity reported during the configure handshake.
func (c *Client) DeviceInfo() DeviceInfo {
	return c.info
}

// SetOnPowerState sets the callback for screen power changes.
func (c *Client) SetOnPowerState(callback func(on bool)) {
	c.callbackMu.Lock()
	c.onPowerState = callback
	c.callbackMu.Unlock()
}

// SetOnCurrentApp sets the callback for foreground app changes.
func (c *Client) SetOnCurrentApp(callback func(appID string)) {
	c.callbackMu.Lock()
	c.onCurrentApp = callback
	c.callbackMu.Unlock()
}

// SetOnVolume sets the callback for volume changes.
func (c *Client) SetOnVolume(callback func(v VolumeInfo)) {
	c.callbackMu.Lock()
	c.onVolume = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets the callback invoked once when the transport drops.
// Not invoked for owner-initiated Close.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true while the connection is live.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		KeysTx:        c.keysTx.Load(),
		EventsRx:      c.eventsRx.Load(),
		EventsDropped: c.eventsDropped.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		LastActivity:  time.Unix(c.lastActivity.Load(), 0),
		Connected:     c.IsConnected(),
	}
}

// isClosed returns true if Close has been called.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close tears down the connection. Safe to call multiple times; pending
// keycode waits complete with ErrNotConnected and the OnDisconnect callback
// is not invoked.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.conn.Close()
	c.failPending(ErrNotConnected)
	c.wg.Wait()

	c.logDebug("connection closed")
	return nil
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
