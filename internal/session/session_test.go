package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/atv-bridge/internal/atvremote"
	"github.com/nerrad567/atv-bridge/internal/profile"
)

// fakeTransport is a scriptable atvremote.Transport.
type fakeTransport struct {
	mu           sync.Mutex
	info         atvremote.DeviceInfo
	connected    bool
	keys         []string // keycodes sent
	sendErr      error
	onPower      func(bool)
	onApp        func(string)
	onVolume     func(atvremote.VolumeInfo)
	onDisconnect func(error)
}

func newFakeTransport(info atvremote.DeviceInfo) *fakeTransport {
	return &fakeTransport{info: info, connected: true}
}

func (f *fakeTransport) SendKey(_ context.Context, keycode, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return atvremote.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.keys = append(f.keys, keycode)
	return nil
}

func (f *fakeTransport) DeviceInfo() atvremote.DeviceInfo { return f.info }

func (f *fakeTransport) SetOnPowerState(cb func(bool)) {
	f.mu.Lock()
	f.onPower = cb
	f.mu.Unlock()
}

func (f *fakeTransport) SetOnCurrentApp(cb func(string)) {
	f.mu.Lock()
	f.onApp = cb
	f.mu.Unlock()
}

func (f *fakeTransport) SetOnVolume(cb func(atvremote.VolumeInfo)) {
	f.mu.Lock()
	f.onVolume = cb
	f.mu.Unlock()
}

func (f *fakeTransport) SetOnDisconnect(cb func(error)) {
	f.mu.Lock()
	f.onDisconnect = cb
	f.mu.Unlock()
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Stats() atvremote.Stats { return atvremote.Stats{Connected: f.IsConnected()} }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

// dropConnection simulates a transport-level loss.
func (f *fakeTransport) dropConnection(cause error) {
	f.mu.Lock()
	f.connected = false
	cb := f.onDisconnect
	f.mu.Unlock()
	if cb != nil {
		cb(cause)
	}
}

func (f *fakeTransport) sentKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// fakePairer is a scriptable PIN exchange.
type fakePairer struct {
	mu      sync.Mutex
	wantPIN string
	closed  bool
}

func (f *fakePairer) FinishPairing(_ context.Context, pin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pin != f.wantPIN {
		return atvremote.ErrPairingFailed
	}
	f.closed = true
	return nil
}

func (f *fakePairer) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fakeDialer scripts dial outcomes: errs are consumed one per attempt, then
// dials succeed. A non-nil gate blocks Dial until closed.
type fakeDialer struct {
	mu         sync.Mutex
	errs       []error
	gate       chan struct{}
	info       atvremote.DeviceInfo
	dials      int
	transports []*fakeTransport
	pairers    []*fakePairer
	wantPIN    string
}

func (d *fakeDialer) Dial(ctx context.Context, _ atvremote.Config) (atvremote.Transport, error) {
	d.mu.Lock()
	d.dials++
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	tr := newFakeTransport(d.info)
	d.mu.Lock()
	d.transports = append(d.transports, tr)
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDialer) StartPairing(_ context.Context, _ atvremote.Config) (Pairer, error) {
	p := &fakePairer{wantPIN: d.wantPIN}
	d.mu.Lock()
	d.pairers = append(d.pairers, p)
	d.mu.Unlock()
	return p, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastTransport() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// recorder collects notified attributes.
type recorder struct {
	mu    sync.Mutex
	attrs []map[string]any
}

func (r *recorder) Notify(_ string, attrs map[string]any) {
	r.mu.Lock()
	r.attrs = append(r.attrs, attrs)
	r.mu.Unlock()
}

func (r *recorder) lastValue(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.attrs) - 1; i >= 0; i-- {
		if v, ok := r.attrs[i][key]; ok {
			return v, true
		}
	}
	return nil, false
}

func testResolver(t *testing.T) *profile.Resolver {
	t.Helper()
	r := profile.NewResolver()
	err := r.Register(&profile.Profile{
		Name:         "sony",
		Manufacturer: "Sony",
		Commands: map[string]profile.Command{
			"INPUT_HDMI1": {Keycode: "KEYCODE_TV_INPUT_HDMI_1", Action: profile.ActionShort},
		},
	})
	if err != nil {
		t.Fatalf("register profile: %v", err)
	}
	return r
}

func newTestSession(t *testing.T, dialer *fakeDialer, mutate func(*Options)) (*Session, *recorder) {
	t.Helper()

	rec := &recorder{}
	opts := Options{
		DeviceID:           "tv-1",
		Address:            "192.168.1.50:6466",
		Resolver:           testResolver(t),
		Notifier:           rec,
		Dialer:             dialer,
		InitialBackoff:     time.Millisecond,
		MaxBackoff:         5 * time.Millisecond,
		RetryBudget:        2,
		ErrorRetryInterval: 50 * time.Millisecond,
		QueueDepth:         4,
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, rec
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.State(), want)
}

func TestSession_ConnectPublishesState(t *testing.T) {
	dialer := &fakeDialer{info: atvremote.DeviceInfo{
		Manufacturer: "Sony", Model: "BRAVIA-X90", PowerOn: true,
	}}
	s, rec := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnected)

	if got := s.Power(); got != PowerOn {
		t.Errorf("Power() = %s, want %s", got, PowerOn)
	}
	if v, ok := rec.lastValue(AttrState); !ok || v != string(StateConnected) {
		t.Errorf("published state = %v, want %s", v, StateConnected)
	}
}

func TestSession_RejectsCommandsWhileDisconnected(t *testing.T) {
	dialer := &fakeDialer{}
	s, _ := newTestSession(t, dialer, nil)
	// Not started: session is Disconnected.

	err := s.SendCommand(context.Background(), "play_pause", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() error = %v, want ErrNotConnected", err)
	}
	if dialer.dialCount() != 0 {
		t.Errorf("dials = %d, want 0 (no connection attempt for a rejected command)", dialer.dialCount())
	}
}

func TestSession_CommandExecutesAfterConnect(t *testing.T) {
	dialer := &fakeDialer{info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true}}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.SendCommand(ctx, "play_pause", nil); err != nil {
		t.Fatalf("SendCommand() unexpected error: %v", err)
	}

	keys := dialer.lastTransport().sentKeys()
	if len(keys) != 1 || keys[0] != "KEYCODE_MEDIA_PLAY_PAUSE" {
		t.Errorf("sent keys = %v, want [KEYCODE_MEDIA_PLAY_PAUSE]", keys)
	}
}

func TestSession_ProfileCommandOverride(t *testing.T) {
	dialer := &fakeDialer{info: atvremote.DeviceInfo{
		Manufacturer: "Sony", Model: "BRAVIA", PowerOn: true,
	}}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.SendCommand(ctx, "input_hdmi1", nil); err != nil {
		t.Fatalf("SendCommand() unexpected error: %v", err)
	}

	keys := dialer.lastTransport().sentKeys()
	if len(keys) != 1 || keys[0] != "KEYCODE_TV_INPUT_HDMI_1" {
		t.Errorf("sent keys = %v, want the profile-specific keycode", keys)
	}
}

func TestSession_UnsupportedCommand(t *testing.T) {
	dialer := &fakeDialer{info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true}}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.SendCommand(ctx, "open_drawer", nil)
	if !errors.Is(err, profile.ErrNotSupported) {
		t.Errorf("SendCommand() error = %v, want profile.ErrNotSupported", err)
	}
}

func TestSession_PowerOnConnectsFirstThenTogglesPower(t *testing.T) {
	// Exhaust the retry budget so the session lands in Error.
	dialer := &fakeDialer{
		errs: []error{atvremote.ErrDeviceUnreachable, atvremote.ErrDeviceUnreachable},
		info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: false},
	}
	s, _ := newTestSession(t, dialer, func(o *Options) {
		o.ErrorRetryInterval = time.Hour // only an explicit trigger may retry
	})

	s.Start()
	waitForState(t, s, StateError)
	dialsBefore := dialer.dialCount()

	// Power-on from Error must connect first, then send a single POWER
	// toggle once connected.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.SendCommand(ctx, "on", nil); err != nil {
		t.Fatalf("SendCommand(on) unexpected error: %v", err)
	}

	waitForState(t, s, StateConnected)
	if dialer.dialCount() <= dialsBefore {
		t.Error("power-on did not trigger a connection attempt")
	}

	keys := dialer.lastTransport().sentKeys()
	if len(keys) != 1 || keys[0] != "KEYCODE_POWER" {
		t.Errorf("sent keys = %v, want exactly one KEYCODE_POWER", keys)
	}
}

func TestSession_PowerOnIsNoopWhenAlreadyOn(t *testing.T) {
	dialer := &fakeDialer{info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true}}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.SendCommand(ctx, "on", nil); err != nil {
		t.Fatalf("SendCommand(on) unexpected error: %v", err)
	}

	if keys := dialer.lastTransport().sentKeys(); len(keys) != 0 {
		t.Errorf("sent keys = %v, want none (device already on, POWER is a toggle)", keys)
	}
}

func TestSession_QueueOverflowDropsOldest(t *testing.T) {
	gate := make(chan struct{})
	dialer := &fakeDialer{
		gate: gate,
		info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true},
	}
	s, _ := newTestSession(t, dialer, func(o *Options) {
		o.QueueDepth = 2
	})

	s.Start()
	waitForState(t, s, StateConnecting)

	// Queue three commands while the dial is blocked; depth is 2, so the
	// first must be evicted with ErrQueueOverflow.
	results := make([]chan error, 3)
	for i := range results {
		results[i] = make(chan error, 1)
		go func(ch chan error) {
			ch <- s.SendCommand(context.Background(), "home", nil)
		}(results[i])
		// Deterministic queue order.
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case err := <-results[0]:
		if !errors.Is(err, ErrQueueOverflow) {
			t.Errorf("oldest command error = %v, want ErrQueueOverflow", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("oldest command never completed")
	}

	close(gate)
	waitForState(t, s, StateConnected)

	for i := 1; i < 3; i++ {
		select {
		case err := <-results[i]:
			if err != nil {
				t.Errorf("command %d error = %v, want nil", i, err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("command %d never completed", i)
		}
	}

	if keys := dialer.lastTransport().sentKeys(); len(keys) != 2 {
		t.Errorf("sent %d keys, want 2 (oldest dropped)", len(keys))
	}
}

func TestSession_StopDuringConnectingCancelsPromptly(t *testing.T) {
	gate := make(chan struct{}) // never released: dial blocks until cancelled
	dialer := &fakeDialer{gate: gate}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnecting)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not cancel the in-flight connect")
	}

	if got := s.State(); got != StateDisconnected {
		t.Errorf("state after Stop = %s, want %s", got, StateDisconnected)
	}
}

func TestSession_ReconnectAfterTransportLoss(t *testing.T) {
	dialer := &fakeDialer{info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true}}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnected)
	first := dialer.lastTransport()

	first.dropConnection(atvremote.ErrDeviceUnreachable)

	// The state still reads Connected until the loss is processed, so wait
	// for the redial itself rather than for a state round-trip.
	waitForDials(t, dialer, 2)
	waitForState(t, s, StateConnected)
	if dialer.lastTransport() == first {
		t.Error("session still holds the dead transport")
	}
}

// waitForDials polls until the dialer has been invoked at least want times.
func waitForDials(t *testing.T, d *fakeDialer, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if d.dialCount() >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("dials = %d, want at least %d", d.dialCount(), want)
}

func TestSession_ErrorStateRetriesOnInterval(t *testing.T) {
	dialer := &fakeDialer{
		errs: []error{atvremote.ErrDeviceUnreachable, atvremote.ErrDeviceUnreachable},
		info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true},
	}
	s, _ := newTestSession(t, dialer, func(o *Options) {
		o.ErrorRetryInterval = 30 * time.Millisecond
	})

	s.Start()
	waitForState(t, s, StateError)

	// Never silently abandoned: the interval timer must bring it back.
	waitForState(t, s, StateConnected)
}

func TestSession_PairingFlow(t *testing.T) {
	dialer := &fakeDialer{
		errs:    []error{atvremote.ErrPairingRequired},
		info:    atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true},
		wantPIN: "123456",
	}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StatePairing)

	// Wrong PIN keeps the session in Pairing.
	err := s.FinishPairing(context.Background(), "000000")
	if !errors.Is(err, atvremote.ErrPairingFailed) {
		t.Fatalf("FinishPairing() error = %v, want ErrPairingFailed", err)
	}
	if got := s.State(); got != StatePairing {
		t.Errorf("state after wrong PIN = %s, want %s", got, StatePairing)
	}

	// Correct PIN completes pairing and reconnects.
	if err := s.FinishPairing(context.Background(), "123456"); err != nil {
		t.Fatalf("FinishPairing() unexpected error: %v", err)
	}
	waitForState(t, s, StateConnected)
}

func TestSession_FinishPairingWithoutExchange(t *testing.T) {
	dialer := &fakeDialer{}
	s, _ := newTestSession(t, dialer, nil)

	err := s.FinishPairing(context.Background(), "123456")
	if !errors.Is(err, ErrNotPairing) {
		t.Errorf("FinishPairing() error = %v, want ErrNotPairing", err)
	}
}

func TestSession_CertificateRevocationForcesPairing(t *testing.T) {
	dialer := &fakeDialer{info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true}}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnected)

	dialer.lastTransport().dropConnection(atvremote.ErrCertificateInvalid)

	// Revoked trust must not loop reconnect attempts that can never
	// succeed.
	waitForState(t, s, StatePairing)
}

// loggingTransport is a fakeTransport that also accepts a logger, like the
// production client does.
type loggingTransport struct {
	*fakeTransport
	logMu  sync.Mutex
	logger atvremote.Logger
}

func (l *loggingTransport) SetLogger(lg atvremote.Logger) {
	l.logMu.Lock()
	l.logger = lg
	l.logMu.Unlock()
}

func (l *loggingTransport) gotLogger() bool {
	l.logMu.Lock()
	defer l.logMu.Unlock()
	return l.logger != nil
}

// staticDialer always hands out the same transport.
type staticDialer struct {
	transport atvremote.Transport
}

func (d staticDialer) Dial(context.Context, atvremote.Config) (atvremote.Transport, error) {
	return d.transport, nil
}

func (d staticDialer) StartPairing(context.Context, atvremote.Config) (Pairer, error) {
	return &fakePairer{}, nil
}

func TestSession_PassesLoggerToCapableTransport(t *testing.T) {
	lt := &loggingTransport{
		fakeTransport: newFakeTransport(atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true}),
	}
	s, _ := newTestSession(t, &fakeDialer{}, func(o *Options) {
		o.Dialer = staticDialer{transport: lt}
	})

	s.Start()
	waitForState(t, s, StateConnected)

	if !lt.gotLogger() {
		t.Error("transport accepting a logger never received one")
	}
}

func TestSession_RepairWhileConnectedReleasesTransport(t *testing.T) {
	dialer := &fakeDialer{
		info:    atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true},
		wantPIN: "654321",
	}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnected)
	first := dialer.lastTransport()

	if err := s.StartPairing(context.Background()); err != nil {
		t.Fatalf("StartPairing() unexpected error: %v", err)
	}
	if got := s.State(); got != StatePairing {
		t.Fatalf("state after StartPairing = %s, want %s", got, StatePairing)
	}

	// The published Pairing state must match reality: the live connection
	// is released rather than kept serving commands.
	deadline := time.Now().Add(3 * time.Second)
	for first.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if first.IsConnected() {
		t.Fatal("live transport kept open during a user-initiated re-pair")
	}

	// Completing the exchange reconnects on a fresh transport.
	if err := s.FinishPairing(context.Background(), "654321"); err != nil {
		t.Fatalf("FinishPairing() unexpected error: %v", err)
	}
	waitForState(t, s, StateConnected)
	if dialer.lastTransport() == first {
		t.Error("session reconnected on the released transport")
	}
}

func TestSession_CommandResultTimeoutBackstop(t *testing.T) {
	gate := make(chan struct{}) // never released: the connect never finishes
	dialer := &fakeDialer{gate: gate, info: atvremote.DeviceInfo{Manufacturer: "Sony"}}
	s, _ := newTestSession(t, dialer, func(o *Options) {
		o.CommandTimeout = 30 * time.Millisecond
	})

	s.Start()
	waitForState(t, s, StateConnecting)

	// A background context must not hang forever on a command queued
	// behind a stalled connection.
	err := s.SendCommand(context.Background(), "on", nil)
	if !errors.Is(err, atvremote.ErrTimeout) {
		t.Errorf("SendCommand() error = %v, want atvremote.ErrTimeout", err)
	}
}

func TestSession_StopFailsPendingCommands(t *testing.T) {
	gate := make(chan struct{})
	dialer := &fakeDialer{gate: gate, info: atvremote.DeviceInfo{Manufacturer: "Sony"}}
	s, _ := newTestSession(t, dialer, nil)

	s.Start()
	waitForState(t, s, StateConnecting)

	result := make(chan error, 1)
	go func() {
		result <- s.SendCommand(context.Background(), "home", nil)
	}()
	time.Sleep(20 * time.Millisecond) // let the command enqueue

	s.Stop()
	close(gate)

	select {
	case err := <-result:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("pending command error = %v, want ErrStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending command never completed")
	}
}
