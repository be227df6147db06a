package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/atv-bridge/internal/apps"
	"github.com/nerrad567/atv-bridge/internal/atvremote"
	"github.com/nerrad567/atv-bridge/internal/cast"
	"github.com/nerrad567/atv-bridge/internal/profile"
)

// State is the session lifecycle state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StatePairing      State = "PAIRING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateError        State = "ERROR"
)

// PowerState is the last known device power state.
type PowerState string

const (
	PowerOn      PowerState = "ON"
	PowerOff     PowerState = "OFF"
	PowerUnknown PowerState = "UNKNOWN"
)

// Attribute keys published through the Notifier.
const (
	AttrState  = "state"
	AttrPower  = "power"
	AttrSource = "source"
	AttrVolume = "volume"
	AttrMuted  = "muted"
)

// Default lifecycle tuning. The backoff constants come from field experience
// with devices that drop the connection on standby: the floor keeps standby
// wakeups snappy, the ceiling keeps a powered-off device from being hammered.
const (
	defaultInitialBackoff     = 500 * time.Millisecond
	defaultMaxBackoff         = 30 * time.Second
	defaultBackoffFactor      = 1.5
	defaultRetryBudget        = 10
	defaultErrorRetryInterval = 2 * time.Minute
	defaultQueueDepth         = 16
	defaultCommandTimeout     = 20 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Notifier receives attribute-change notifications for publication to the
// hub. Implementations must not block; they are called from session
// goroutines.
type Notifier interface {
	Notify(deviceID string, attrs map[string]any)
}

// Options configures a Session.
type Options struct {
	DeviceID    string
	Name        string
	Address     string // remote service endpoint, host:port
	Certificate tls.Certificate

	Resolver *profile.Resolver
	Notifier Notifier

	// CastClient enables the cast status mixer when non-nil.
	CastClient   cast.Client
	CastDebounce time.Duration

	ConnectTimeout     time.Duration
	InitialBackoff     time.Duration // default 500ms
	MaxBackoff         time.Duration // default 30s
	BackoffFactor      float64       // default 1.5
	RetryBudget        int           // attempts before Error, default 10
	ErrorRetryInterval time.Duration // default 2m
	QueueDepth         int           // pending commands, default 16
	CommandTimeout     time.Duration // result wait ceiling, default 20s

	// Dialer overrides the transport for tests. Default: atvremote.
	Dialer Dialer
	Logger Logger
}

func (o *Options) applyDefaults() {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.BackoffFactor < 1.0 {
		o.BackoffFactor = defaultBackoffFactor
	}
	if o.RetryBudget <= 0 {
		o.RetryBudget = defaultRetryBudget
	}
	if o.ErrorRetryInterval <= 0 {
		o.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = defaultQueueDepth
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = defaultCommandTimeout
	}
	if o.Dialer == nil {
		o.Dialer = netDialer{}
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
}

// request is one queued command.
type request struct {
	cmd    string
	params map[string]any
	result chan error
}

func (r *request) complete(err error) {
	select {
	case r.result <- err:
	default:
	}
}

// Session owns the connection lifecycle and command dispatch for one device.
// All exported methods are safe for concurrent use; the state machine itself
// runs on a single goroutine started by Start.
type Session struct {
	opts   Options
	logger Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	wake     chan struct{} // connect trigger (start, wake, power-on, PIN accepted)
	lost     chan error    // transport loss, fed by the disconnect callback
	repair   chan struct{} // user-initiated re-pair took over a live connection
	notEmpty chan struct{} // pending queue has work

	mu        sync.Mutex
	state     State
	power     PowerState
	resolved  *profile.Profile
	transport atvremote.Transport
	pairer    Pairer
	queue     []*request
	address   string

	mixer *cast.Mixer
}

// New creates a session in the Disconnected state. Call Start to begin
// connecting.
func New(opts Options) (*Session, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("session: device id is required")
	}
	if opts.Address == "" {
		return nil, errors.New("session: address is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("session: resolver is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("session: notifier is required")
	}
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		lost:     make(chan error, 1),
		repair:   make(chan struct{}, 1),
		notEmpty: make(chan struct{}, 1),
		state:    StateDisconnected,
		power:    PowerUnknown,
		address:  opts.Address,
	}

	s.mixer = cast.NewMixer(opts.CastDebounce, func(changes map[string]any) {
		s.opts.Notifier.Notify(s.opts.DeviceID, changes)
	})
	if lg, ok := opts.Logger.(cast.Logger); ok {
		s.mixer.SetLogger(lg)
	}

	return s, nil
}

// Start launches the state machine and triggers the first connection
// attempt. Must be called exactly once.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.run()
	s.signalWake()
}

// Stop tears the session down: cancels any in-flight connect or pairing
// attempt, releases the transport and the cast mixer, and fails all pending
// commands. Synchronous and safe to call multiple times; the session is
// Disconnected when it returns.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// ID returns the device id this session serves.
func (s *Session) ID() string {
	return s.opts.DeviceID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Power returns the last known power state.
func (s *Session) Power() PowerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power
}

// SetAddress updates the device endpoint after rediscovery. Takes effect on
// the next connection attempt.
func (s *Session) SetAddress(addr string) {
	s.mu.Lock()
	s.address = addr
	s.mu.Unlock()
}

// WakeUp triggers an immediate connection attempt from Error or
// Disconnected without queueing a command.
func (s *Session) WakeUp() {
	s.signalWake()
}

// MediaAttributes returns the cast mixer's current merged attribute set.
func (s *Session) MediaAttributes() map[string]any {
	return s.mixer.Attributes()
}

// SendCommand queues a command for the device and waits for its result
// under ctx. The queue is bounded; when full, the oldest pending command is
// dropped and completed with ErrQueueOverflow.
//
// While Disconnected or Error only power-on commands are accepted: they
// trigger a connection attempt and execute once Connected. Everything else
// is rejected with ErrNotConnected. Unsupported commands return
// profile.ErrNotSupported.
func (s *Session) SendCommand(ctx context.Context, cmd string, params map[string]any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd = strings.ToUpper(strings.TrimSpace(cmd))

	s.mu.Lock()
	state := s.state

	switch state {
	case StateDisconnected, StateError:
		if !isPowerOnCommand(cmd) {
			s.mu.Unlock()
			return ErrNotConnected
		}
	default:
	}

	// Reject unmappable commands immediately when a profile is already
	// resolved; otherwise mapping happens at execution time.
	if s.resolved != nil {
		if _, err := s.opts.Resolver.MapCommand(s.resolved, cmd); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	req := &request{cmd: cmd, params: params, result: make(chan error, 1)}
	dropped := s.enqueueLocked(req)
	s.mu.Unlock()

	if dropped != nil {
		dropped.complete(ErrQueueOverflow)
		s.logger.Warn("pending queue full, dropped oldest command",
			"device_id", s.opts.DeviceID, "dropped", dropped.cmd)
	}

	if state == StateDisconnected || state == StateError {
		s.signalWake()
	}
	s.signalNotEmpty()

	// The ceiling keeps a caller with a background context from hanging
	// on a command queued behind a stalled connection or an open PIN
	// exchange. The request stays queued; its buffered result channel
	// absorbs the late completion.
	timer := time.NewTimer(s.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("session: awaiting command result: %w", ctx.Err())
	case <-timer.C:
		return fmt.Errorf("session: command %s not delivered: %w", cmd, atvremote.ErrTimeout)
	}
}

// isPowerOnCommand reports whether a command may open a connection from a
// powered-off/errored state.
func isPowerOnCommand(cmd string) bool {
	return cmd == "ON" || cmd == "TOGGLE"
}

// enqueueLocked appends a request, evicting the oldest when full. Returns
// the evicted request, completed by the caller outside the lock.
func (s *Session) enqueueLocked(req *request) *request {
	var dropped *request
	if len(s.queue) >= s.opts.QueueDepth {
		dropped = s.queue[0]
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, req)
	return dropped
}

// StartPairing forces a PIN exchange for a user-initiated re-pair. The
// session normally enters Pairing by itself when the device rejects its
// certificate. No-op when an exchange is already open.
func (s *Session) StartPairing(ctx context.Context) error {
	s.mu.Lock()
	if s.pairer != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	pairer, err := s.opts.Dialer.StartPairing(ctx, s.transportConfig())
	if err != nil {
		return fmt.Errorf("start pairing: %w", err)
	}

	s.mu.Lock()
	if s.pairer != nil {
		// Raced with the state machine opening its own exchange.
		s.mu.Unlock()
		pairer.Close()
		return nil
	}
	s.pairer = pairer
	live := s.transport != nil
	s.mu.Unlock()

	s.setState(StatePairing)

	// A live connection cannot stay up on a certificate the user is about
	// to replace; tell the serve loop to release it.
	if live {
		select {
		case s.repair <- struct{}{}:
		default:
		}
	}
	return nil
}

// FinishPairing completes the open PIN exchange. An invalid PIN returns
// ErrPairingFailed (wrapped) and keeps the session in Pairing for another
// attempt; success triggers a fresh connection with the now-trusted
// certificate.
func (s *Session) FinishPairing(ctx context.Context, pin string) error {
	s.mu.Lock()
	pairer := s.pairer
	s.mu.Unlock()

	if pairer == nil {
		return ErrNotPairing
	}

	err := pairer.FinishPairing(ctx, pin)
	if err != nil {
		if errors.Is(err, atvremote.ErrPairingFailed) {
			// Wrong PIN: the exchange stays open for retry.
			return err
		}
		// Transport-level failure: abandon the exchange and reconnect,
		// which will reopen pairing if still needed.
		pairer.Close()
		s.clearPairer(pairer)
		s.signalWake()
		return err
	}

	s.clearPairer(pairer)
	s.logger.Info("pairing complete", "device_id", s.opts.DeviceID)
	s.signalWake()
	return nil
}

func (s *Session) clearPairer(pairer Pairer) {
	s.mu.Lock()
	if s.pairer == pairer {
		s.pairer = nil
	}
	s.mu.Unlock()
}

// run is the state machine loop. It owns all transitions; exported methods
// only queue work and signal it.
func (s *Session) run() {
	defer s.wg.Done()
	defer s.teardown()

	for {
		if s.ctx.Err() != nil {
			return
		}

		switch s.State() {
		case StateDisconnected:
			if !s.waitTrigger(0) {
				return
			}
			s.setState(StateConnecting)

		case StateError:
			// Retried on a fixed interval and on explicit wake;
			// never silently abandoned.
			if !s.waitTrigger(s.opts.ErrorRetryInterval) {
				return
			}
			s.setState(StateConnecting)

		case StatePairing:
			// Waiting for FinishPairing (or Stop).
			if !s.waitTrigger(0) {
				return
			}
			s.setState(StateConnecting)

		case StateConnecting, StateReconnecting:
			s.connect()

		case StateConnected:
			s.serve()
		}
	}
}

// waitTrigger blocks until a wake signal, the optional retry interval, or
// shutdown. Returns false on shutdown.
func (s *Session) waitTrigger(interval time.Duration) bool {
	if interval > 0 {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			return false
		case <-s.wake:
			return true
		case <-timer.C:
			return true
		}
	}
	select {
	case <-s.ctx.Done():
		return false
	case <-s.wake:
		return true
	}
}

// connect attempts to establish the transport with exponential backoff. It
// leaves the session Connected, Pairing, Error, or returns on shutdown.
func (s *Session) connect() {
	backoff := s.opts.InitialBackoff
	attempts := 0

	for {
		if s.ctx.Err() != nil {
			return
		}
		if s.State() == StatePairing {
			// A concurrent StartPairing took over.
			return
		}

		transport, err := s.opts.Dialer.Dial(s.ctx, s.transportConfig())
		if err == nil {
			s.onConnected(transport)
			return
		}

		if errors.Is(err, atvremote.ErrPairingRequired) ||
			errors.Is(err, atvremote.ErrCertificateInvalid) {
			// Reconnecting with an untrusted certificate can never
			// succeed; switch to pairing instead of looping.
			s.beginPairing()
			return
		}

		attempts++
		s.logger.Warn("connect attempt failed",
			"device_id", s.opts.DeviceID,
			"attempt", attempts,
			"backoff", backoff.String(),
			"error", err)

		if attempts >= s.opts.RetryBudget {
			s.logger.Error("retry budget exhausted, device unavailable",
				"device_id", s.opts.DeviceID, "attempts", attempts)
			s.failPending(ErrNotConnected)
			s.setPower(PowerUnknown)
			s.setState(StateError)
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * s.opts.BackoffFactor)
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
}

// beginPairing opens a PIN exchange and parks the session in Pairing.
func (s *Session) beginPairing() {
	pairer, err := s.opts.Dialer.StartPairing(s.ctx, s.transportConfig())
	if err != nil {
		s.logger.Error("pairing start failed",
			"device_id", s.opts.DeviceID, "error", err)
		s.failPending(ErrNotConnected)
		s.setState(StateError)
		return
	}

	s.mu.Lock()
	if s.pairer != nil {
		s.pairer.Close()
	}
	s.pairer = pairer
	s.mu.Unlock()

	s.logger.Info("pairing required, waiting for PIN", "device_id", s.opts.DeviceID)
	s.setState(StatePairing)
}

// onConnected installs the transport, resolves the device profile and
// attaches the cast mixer.
func (s *Session) onConnected(transport atvremote.Transport) {
	info := transport.DeviceInfo()

	// Resolved fresh on every connect: the device may identify
	// differently after a firmware update.
	resolved := s.opts.Resolver.Resolve(info.Manufacturer, info.Model)

	transport.SetOnPowerState(s.handlePowerState)
	transport.SetOnCurrentApp(s.handleCurrentApp)
	transport.SetOnVolume(s.handleVolume)
	transport.SetOnDisconnect(func(err error) {
		select {
		case s.lost <- err:
		default:
		}
	})
	// SetLogger is not part of the Transport contract; pass the logger
	// through when the concrete transport accepts one.
	if ls, ok := transport.(interface{ SetLogger(atvremote.Logger) }); ok {
		if lg, ok := s.logger.(atvremote.Logger); ok {
			ls.SetLogger(lg)
		}
	}

	s.mu.Lock()
	s.transport = transport
	s.resolved = resolved
	s.mu.Unlock()

	if info.PowerOn {
		s.setPower(PowerOn)
	} else {
		s.setPower(PowerOff)
	}

	s.logger.Info("device connected",
		"device_id", s.opts.DeviceID,
		"manufacturer", info.Manufacturer,
		"model", info.Model,
		"profile", resolved.Name)

	s.setState(StateConnected)
	s.attachMixer()

	// Commands queued during connect (e.g. the power-on path) run now.
	s.mu.Lock()
	pending := len(s.queue) > 0
	s.mu.Unlock()
	if pending {
		s.signalNotEmpty()
	}
}

// attachMixer subscribes the cast mixer when cast is enabled. Failure is
// logged, not fatal: media metadata is an enrichment, not a requirement.
func (s *Session) attachMixer() {
	if s.opts.CastClient == nil {
		return
	}

	host := s.Address()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if err := s.mixer.Attach(s.ctx, s.opts.CastClient, host); err != nil {
		s.logger.Warn("cast subscription failed",
			"device_id", s.opts.DeviceID, "error", err)
	}
}

// Address returns the current device endpoint.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// serve dispatches pending commands until the transport drops, a re-pair
// takes the connection over, or the session stops.
func (s *Session) serve() {
	// Drop signals left over from a transport already released; both
	// channels describe the previous connection, not this one.
	select {
	case <-s.lost:
	default:
	}
	select {
	case <-s.repair:
	default:
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.repair:
			s.mixer.Detach()
			s.closeTransport()
			s.setPower(PowerUnknown)
			return

		case cause := <-s.lost:
			s.mixer.Detach()
			s.closeTransport()
			s.setPower(PowerUnknown)

			if errors.Is(cause, atvremote.ErrCertificateInvalid) {
				s.logger.Warn("device revoked certificate trust",
					"device_id", s.opts.DeviceID)
				s.beginPairing()
				return
			}

			s.logger.Info("connection lost, reconnecting",
				"device_id", s.opts.DeviceID, "cause", cause)
			s.setState(StateReconnecting)
			return

		case <-s.notEmpty:
			s.processQueue()
		}
	}
}

// processQueue executes pending commands in FIFO order, one transport
// operation at a time.
func (s *Session) processQueue() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		req := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		req.complete(s.execute(req))
	}
}

// execute performs one command against the live transport.
func (s *Session) execute(req *request) error {
	s.mu.Lock()
	transport := s.transport
	resolved := s.resolved
	power := s.power
	s.mu.Unlock()

	if transport == nil || !transport.IsConnected() {
		return ErrNotConnected
	}

	// The POWER keycode is a toggle, so on/off must be no-ops when the
	// device is already in the requested state.
	switch req.cmd {
	case "ON":
		if power == PowerOn {
			return nil
		}
	case "OFF":
		if power == PowerOff {
			return nil
		}
	}

	mapped, err := s.opts.Resolver.MapCommand(resolved, req.cmd)
	if err != nil {
		return err
	}

	if err := transport.SendKey(s.ctx, mapped.Keycode, string(mapped.Action)); err != nil {
		return fmt.Errorf("send %s: %w", req.cmd, err)
	}
	return nil
}

// handlePowerState consumes power notifications from the transport.
func (s *Session) handlePowerState(on bool) {
	if on {
		s.setPower(PowerOn)
	} else {
		s.setPower(PowerOff)
	}
}

// handleCurrentApp publishes the foreground app as the source attribute.
// Launcher and screensaver packages resolve to their idle names rather than
// being treated as playing media.
func (s *Session) handleCurrentApp(appID string) {
	name := apps.FriendlyName(appID)
	s.notify(map[string]any{AttrSource: name})

	if apps.IsStandby(appID) {
		s.logger.Debug("device entered standby app",
			"device_id", s.opts.DeviceID, "app", appID)
	}
}

// handleVolume publishes volume notifications.
func (s *Session) handleVolume(v atvremote.VolumeInfo) {
	level := v.Level
	if v.Max > 0 && v.Max != 100 {
		level = v.Level * 100 / v.Max
	}
	s.notify(map[string]any{AttrVolume: level, AttrMuted: v.Muted})
}

// setState transitions the lifecycle state and publishes it on change.
func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("state changed", "device_id", s.opts.DeviceID, "state", string(state))
	s.notify(map[string]any{AttrState: string(state)})
}

// setPower records the last known power state and publishes it on change.
func (s *Session) setPower(power PowerState) {
	s.mu.Lock()
	if s.power == power {
		s.mu.Unlock()
		return
	}
	s.power = power
	s.mu.Unlock()

	s.notify(map[string]any{AttrPower: string(power)})
}

func (s *Session) notify(attrs map[string]any) {
	s.opts.Notifier.Notify(s.opts.DeviceID, attrs)
}

// transportConfig builds the atvremote configuration from current options.
func (s *Session) transportConfig() atvremote.Config {
	return atvremote.Config{
		Address:        s.Address(),
		Certificate:    s.opts.Certificate,
		ConnectTimeout: s.opts.ConnectTimeout,
	}
}

// closeTransport releases the current transport if any.
func (s *Session) closeTransport() {
	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
}

// failPending completes every queued command with err.
func (s *Session) failPending(err error) {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, req := range queue {
		req.complete(err)
	}
}

// teardown releases everything on shutdown. Runs once, on the state machine
// goroutine, after the loop exits.
func (s *Session) teardown() {
	s.mixer.Detach()
	s.closeTransport()

	s.mu.Lock()
	pairer := s.pairer
	s.pairer = nil
	s.mu.Unlock()
	if pairer != nil {
		// Abandoning the exchange leaves no half-trusted certificate.
		pairer.Close()
	}

	s.failPending(ErrStopped)
	s.setPower(PowerUnknown)
	s.setState(StateDisconnected)

	s.logger.Info("session stopped", "device_id", s.opts.DeviceID)
}

func (s *Session) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) signalNotEmpty() {
	select {
	case s.notEmpty <- struct{}{}:
	default:
	}
}
