package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/atv-bridge/internal/atvremote"
	"github.com/nerrad567/atv-bridge/internal/cast"
	"github.com/nerrad567/atv-bridge/internal/profile"
	"github.com/nerrad567/atv-bridge/internal/session"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Registry.
type Options struct {
	Store    Store
	Resolver *profile.Resolver

	// Notifier receives attribute changes from every device session.
	Notifier session.Notifier

	// CastClient, when set, is handed to sessions whose config enables the
	// cast media-status subscription.
	CastClient cast.Client

	// CertDir is where per-device client certificates live.
	CertDir string

	// Session tuning applied to every device session. Zero values use the
	// session package defaults.
	ConnectTimeout     time.Duration
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffFactor      float64
	RetryBudget        int
	ErrorRetryInterval time.Duration
	CastDebounce       time.Duration
	QueueDepth         int

	// Dialer overrides the session transport for tests.
	Dialer session.Dialer
	Logger Logger
}

// Registry owns the device_id -> Session map. It persists device
// configuration through the Store, starts a session per configured device,
// and routes commands to the right one. Per-device failures stay inside the
// owning session; the registry itself never goes down with a device.
//
// All exported methods are safe for concurrent use.
type Registry struct {
	opts   Options
	logger Logger

	mu        sync.Mutex
	sessions  map[string]*session.Session
	authFlags map[string]bool // last persisted auth_error per device
	closed    bool
}

// New creates a registry. Call Start to load persisted devices and bring
// their sessions up.
func New(opts Options) (*Registry, error) {
	if opts.Store == nil {
		return nil, errors.New("registry: store is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("registry: resolver is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("registry: notifier is required")
	}
	if opts.CertDir == "" {
		return nil, errors.New("registry: certificate directory is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Registry{
		opts:      opts,
		logger:    opts.Logger,
		sessions:  make(map[string]*session.Session),
		authFlags: make(map[string]bool),
	}, nil
}

// Start loads all configured devices from the store and starts a session for
// each. A device that fails to come up is logged and skipped; the others
// still start.
func (r *Registry) Start(ctx context.Context) error {
	configs, err := r.opts.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading configured devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range configs {
		cfg := configs[i]
		if _, ok := r.sessions[cfg.ID]; ok {
			continue
		}
		if err := r.startSessionLocked(&cfg); err != nil {
			r.logger.Error("device session failed to start",
				"device_id", cfg.ID, "name", cfg.Name, "error", err)
			continue
		}
	}

	r.logger.Info("registry started", "devices", len(r.sessions))
	return nil
}

// AddDevice persists a device config and starts its session. Idempotent:
// adding an id that already has a live session refreshes the stored config
// and the session endpoint instead of creating a second session. Two
// concurrent adds for the same id yield exactly one live session.
func (r *Registry) AddDevice(ctx context.Context, cfg DeviceConfig) error {
	if err := validateConfig(&cfg); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("registry: closed")
	}

	if existing, ok := r.sessions[cfg.ID]; ok {
		if err := r.opts.Store.Update(ctx, &cfg); err != nil {
			return fmt.Errorf("refreshing device config: %w", err)
		}
		existing.SetAddress(endpoint(&cfg))
		r.logger.Info("device config refreshed", "device_id", cfg.ID)
		return nil
	}

	err := r.opts.Store.Create(ctx, &cfg)
	if errors.Is(err, ErrDeviceExists) {
		// Row survives from an earlier run whose session never came up.
		err = r.opts.Store.Update(ctx, &cfg)
	}
	if err != nil {
		return fmt.Errorf("persisting device config: %w", err)
	}

	if err := r.startSessionLocked(&cfg); err != nil {
		return err
	}

	r.logger.Info("device added", "device_id", cfg.ID, "name", cfg.Name,
		"address", endpoint(&cfg))
	return nil
}

// RemoveDevice tears the device down synchronously: stops its session
// (cancelling any in-flight connect or pairing attempt), removes its client
// certificate, and deletes the stored config. Returns ErrUnknownDevice when
// the id is neither live nor persisted.
func (r *Registry) RemoveDevice(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, hadSession := r.sessions[id]
	delete(r.sessions, id)
	delete(r.authFlags, id)
	r.mu.Unlock()

	if hadSession {
		sess.Stop()
	}

	if err := atvremote.RemoveCertificate(r.opts.CertDir, id); err != nil {
		r.logger.Warn("removing device certificate", "device_id", id, "error", err)
	}

	err := r.opts.Store.Delete(ctx, id)
	if errors.Is(err, ErrUnknownDevice) && hadSession {
		err = nil
	}
	if err != nil {
		return err
	}

	r.logger.Info("device removed", "device_id", id)
	return nil
}

// Dispatch routes a command to the named device session. Returns
// ErrUnknownDevice for ids the registry does not own; command errors
// (profile.ErrNotSupported, session.ErrNotConnected, ...) pass through
// unwrapped so callers can map them to protocol-level results.
func (r *Registry) Dispatch(ctx context.Context, id, cmd string, params map[string]any) error {
	sess, ok := r.session(id)
	if !ok {
		return ErrUnknownDevice
	}
	return sess.SendCommand(ctx, cmd, params)
}

// StartPairing begins a fresh pairing exchange for the named device.
func (r *Registry) StartPairing(ctx context.Context, id string) error {
	sess, ok := r.session(id)
	if !ok {
		return ErrUnknownDevice
	}
	return sess.StartPairing(ctx)
}

// FinishPairing submits the on-screen PIN for the named device.
func (r *Registry) FinishPairing(ctx context.Context, id, pin string) error {
	sess, ok := r.session(id)
	if !ok {
		return ErrUnknownDevice
	}
	return sess.FinishPairing(ctx, pin)
}

// Wake triggers an immediate connection attempt for a device sitting in the
// Error or Disconnected state.
func (r *Registry) Wake(id string) error {
	sess, ok := r.session(id)
	if !ok {
		return ErrUnknownDevice
	}
	sess.WakeUp()
	return nil
}

// UpdateAddress records a new endpoint for a rediscovered device and nudges
// its session to reconnect there.
func (r *Registry) UpdateAddress(ctx context.Context, id, address string, port int) error {
	if err := r.opts.Store.UpdateAddress(ctx, id, address, port); err != nil {
		return err
	}

	if sess, ok := r.session(id); ok {
		if port == 0 {
			port = defaultRemotePort
		}
		sess.SetAddress(net.JoinHostPort(address, strconv.Itoa(port)))
		sess.WakeUp()
	}
	return nil
}

// Session returns the live session for a device id.
func (r *Registry) Session(id string) (*session.Session, bool) {
	return r.session(id)
}

// Devices returns all persisted device configs.
func (r *Registry) Devices(ctx context.Context) ([]DeviceConfig, error) {
	return r.opts.Store.List(ctx)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// OnClientDisconnect is called when a hub client drops its connection to us.
// Device sessions are deliberately left alone: the devices stay connected
// and keep reconciling state for the next client.
func (r *Registry) OnClientDisconnect(clientID string) {
	r.logger.Debug("hub client disconnected", "client_id", clientID)
}

// Close stops every device session. Synchronous: all sessions are down when
// it returns.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Stop()
		}(sess)
	}
	wg.Wait()

	r.logger.Info("registry closed", "devices", len(sessions))
}

// session looks up a live session by id.
func (r *Registry) session(id string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// startSessionLocked creates and starts the session for a device config.
// Caller holds r.mu.
func (r *Registry) startSessionLocked(cfg *DeviceConfig) error {
	cert, err := atvremote.LoadOrCreateCertificate(r.opts.CertDir, cfg.ID)
	if err != nil {
		return fmt.Errorf("device certificate: %w", err)
	}

	var castClient cast.Client
	if cfg.UseChromecast {
		castClient = r.opts.CastClient
	}

	sess, err := session.New(session.Options{
		DeviceID:    cfg.ID,
		Name:        cfg.Name,
		Address:     endpoint(cfg),
		Certificate: cert,
		Resolver:    r.opts.Resolver,
		Notifier:    notifierFunc(r.notify),
		CastClient:  castClient,

		CastDebounce:       r.opts.CastDebounce,
		ConnectTimeout:     r.opts.ConnectTimeout,
		InitialBackoff:     r.opts.InitialBackoff,
		MaxBackoff:         r.opts.MaxBackoff,
		BackoffFactor:      r.opts.BackoffFactor,
		RetryBudget:        r.opts.RetryBudget,
		ErrorRetryInterval: r.opts.ErrorRetryInterval,
		QueueDepth:         r.opts.QueueDepth,

		Dialer: r.opts.Dialer,
		Logger: r.logger,
	})
	if err != nil {
		return err
	}

	r.sessions[cfg.ID] = sess
	r.authFlags[cfg.ID] = cfg.AuthError
	sess.Start()
	return nil
}

// notify forwards session attribute changes upward and keeps the persisted
// auth_error flag in step with pairing transitions.
func (r *Registry) notify(deviceID string, attrs map[string]any) {
	if state, ok := attrs[session.AttrState].(string); ok {
		switch session.State(state) {
		case session.StatePairing:
			r.persistAuthFlag(deviceID, true)
		case session.StateConnected:
			r.persistAuthFlag(deviceID, false)
		}
	}

	r.opts.Notifier.Notify(deviceID, attrs)
}

// persistAuthFlag writes the auth_error marker when it actually changed.
func (r *Registry) persistAuthFlag(deviceID string, authError bool) {
	r.mu.Lock()
	last, tracked := r.authFlags[deviceID]
	if tracked && last == authError {
		r.mu.Unlock()
		return
	}
	if tracked {
		r.authFlags[deviceID] = authError
	}
	r.mu.Unlock()
	if !tracked {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.opts.Store.SetAuthError(ctx, deviceID, authError); err != nil {
		r.logger.Warn("persisting auth flag",
			"device_id", deviceID, "auth_error", authError, "error", err)
	}
}

// notifierFunc adapts a function to the session.Notifier interface.
type notifierFunc func(deviceID string, attrs map[string]any)

func (f notifierFunc) Notify(deviceID string, attrs map[string]any) {
	f(deviceID, attrs)
}

// validateConfig checks the fields a session cannot start without.
func validateConfig(cfg *DeviceConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("%w: missing address", ErrInvalidConfig)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	return nil
}

// endpoint composes the host:port the remote service listens on.
func endpoint(cfg *DeviceConfig) string {
	port := cfg.Port
	if port == 0 {
		port = defaultRemotePort
	}
	return net.JoinHostPort(cfg.Address, strconv.Itoa(port))
}
