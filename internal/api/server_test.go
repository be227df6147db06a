package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gorillaws "github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/atv-bridge/internal/atvremote"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/config"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/atv-bridge/internal/profile"
	"github.com/nerrad567/atv-bridge/internal/registry"
	"github.com/nerrad567/atv-bridge/internal/session"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

// fakeTransport is a minimal in-memory remote transport.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	keycodes  []string
	info      atvremote.DeviceInfo
}

func (f *fakeTransport) SendKey(_ context.Context, keycode, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return atvremote.ErrNotConnected
	}
	f.keycodes = append(f.keycodes, keycode)
	return nil
}

func (f *fakeTransport) DeviceInfo() atvremote.DeviceInfo             { return f.info }
func (f *fakeTransport) SetOnPowerState(func(bool))                   {}
func (f *fakeTransport) SetOnCurrentApp(func(string))                 {}
func (f *fakeTransport) SetOnVolume(func(atvremote.VolumeInfo))       {}
func (f *fakeTransport) SetOnDisconnect(func(err error))              {}
func (f *fakeTransport) Stats() atvremote.Stats                       { return atvremote.Stats{} }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

type fakePairer struct {
	wantPIN string
}

func (f *fakePairer) FinishPairing(_ context.Context, pin string) error {
	if pin != f.wantPIN {
		return atvremote.ErrPairingFailed
	}
	return nil
}

func (f *fakePairer) Close() error { return nil }

// fakeDialer hands out fake transports; dialErrs are consumed one per Dial.
type fakeDialer struct {
	mu       sync.Mutex
	dialErrs []error
	info     atvremote.DeviceInfo
	wantPIN  string
}

func (f *fakeDialer) Dial(_ context.Context, _ atvremote.Config) (atvremote.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		return nil, err
	}
	return &fakeTransport{connected: true, info: f.info}, nil
}

func (f *fakeDialer) StartPairing(_ context.Context, _ atvremote.Config) (session.Pairer, error) {
	return &fakePairer{wantPIN: f.wantPIN}, nil
}

func testRegistry(t *testing.T, dialer *fakeDialer) *registry.Registry {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE devices (
			id                    TEXT PRIMARY KEY,
			name                  TEXT NOT NULL,
			address               TEXT NOT NULL,
			port                  INTEGER NOT NULL DEFAULT 6466,
			manufacturer          TEXT NOT NULL DEFAULT '',
			model                 TEXT NOT NULL DEFAULT '',
			mac_address           TEXT NOT NULL DEFAULT '',
			auth_error            INTEGER NOT NULL DEFAULT 0,
			use_external_metadata INTEGER NOT NULL DEFAULT 0,
			use_chromecast        INTEGER NOT NULL DEFAULT 1,
			created_at            TEXT NOT NULL,
			updated_at            TEXT NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}

	resolver := profile.NewResolver()

	reg, err := registry.New(registry.Options{
		Store:          registry.NewSQLiteStore(db),
		Resolver:       resolver,
		Notifier:       noopNotifier{},
		CertDir:        t.TempDir(),
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RetryBudget:    2,
		Dialer:         dialer,
	})
	if err != nil {
		t.Fatalf("creating registry: %v", err)
	}
	t.Cleanup(reg.Close)

	return reg
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, map[string]any) {}

func newTestServer(t *testing.T, dialer *fakeDialer) (*httptest.Server, *Server, *registry.Registry) {
	t.Helper()

	reg := testRegistry(t, dialer)
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")

	srv, err := New(Deps{
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testJWTSecret, AccessTokenTTL: 15}},
		WS:       config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   logger,
		Registry: reg,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	return ts, srv, reg
}

// bearerToken signs a short-lived token with the test secret.
func bearerToken(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "admin",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// doRequest performs an authorised JSON request against the test server.
func doRequest(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling body: %v", err)
		}
	}

	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken(t))
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func waitForDeviceState(t *testing.T, ts *httptest.Server, id, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last string
	for time.Now().Before(deadline) {
		resp := doRequest(t, ts, http.MethodGet, "/api/v1/devices/"+id, nil)
		body := decodeBody(t, resp)
		last, _ = body["state"].(string)
		if last == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("device state = %q, want %q", last, want)
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, &fakeDialer{})

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestLogin(t *testing.T) {
	ts, _, _ := newTestServer(t, &fakeDialer{})

	t.Run("valid credentials return a token", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/auth/login", "application/json",
			strings.NewReader(`{"username":"admin","password":"admin"}`))
		if err != nil {
			t.Fatalf("POST /auth/login: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		body := decodeBody(t, resp)
		token, _ := body["access_token"].(string)
		if token == "" {
			t.Fatal("access_token missing from response")
		}

		// The issued token must pass the auth middleware.
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/devices/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		listResp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("GET /devices: %v", err)
		}
		defer listResp.Body.Close()
		if listResp.StatusCode != http.StatusOK {
			t.Errorf("authorised request status = %d, want 200", listResp.StatusCode)
		}
	})

	t.Run("wrong credentials are rejected", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/auth/login", "application/json",
			strings.NewReader(`{"username":"admin","password":"nope"}`))
		if err != nil {
			t.Fatalf("POST /auth/login: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})
}

func TestAuthMiddleware(t *testing.T) {
	ts, _, _ := newTestServer(t, &fakeDialer{})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/devices/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("GET /devices: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestDeviceLifecycle(t *testing.T) {
	dialer := &fakeDialer{info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true}}
	ts, _, _ := newTestServer(t, dialer)

	// Add
	resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/", map[string]any{
		"id":      "dev-001",
		"name":    "Living Room TV",
		"address": "192.168.1.50",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add device status = %d, want 201", resp.StatusCode)
	}

	waitForDeviceState(t, ts, "dev-001", string(session.StateConnected))

	// List
	resp = doRequest(t, ts, http.MethodGet, "/api/v1/devices/", nil)
	body := decodeBody(t, resp)
	if count, _ := body["count"].(float64); count != 1 {
		t.Errorf("device count = %v, want 1", body["count"])
	}

	// Command
	resp = doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-001/command",
		map[string]any{"command": "PLAY_PAUSE"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("command status = %d, want 200", resp.StatusCode)
	}

	// Remove
	resp = doRequest(t, ts, http.MethodDelete, "/api/v1/devices/dev-001", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("remove status = %d, want 204", resp.StatusCode)
	}

	// Gone
	resp = doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-001/command",
		map[string]any{"command": "PLAY_PAUSE"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("command after remove status = %d, want 404", resp.StatusCode)
	}
}

func TestCommandErrorMapping(t *testing.T) {
	dialer := &fakeDialer{info: atvremote.DeviceInfo{Manufacturer: "Sony", PowerOn: true}}
	ts, _, _ := newTestServer(t, dialer)

	resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/", map[string]any{
		"id": "dev-001", "name": "Living Room TV", "address": "192.168.1.50",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add device status = %d", resp.StatusCode)
	}
	waitForDeviceState(t, ts, "dev-001", string(session.StateConnected))

	t.Run("unsupported command maps to 422", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-001/command",
			map[string]any{"command": "TELEPORT"})
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", resp.StatusCode)
		}
	})

	t.Run("missing command maps to 400", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-001/command",
			map[string]any{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestPairingFlow(t *testing.T) {
	dialer := &fakeDialer{
		info:     atvremote.DeviceInfo{Manufacturer: "Sony"},
		dialErrs: []error{atvremote.ErrPairingRequired},
		wantPIN:  "123456",
	}
	ts, _, _ := newTestServer(t, dialer)

	resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/", map[string]any{
		"id": "dev-001", "name": "Living Room TV", "address": "192.168.1.50",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add device status = %d", resp.StatusCode)
	}
	waitForDeviceState(t, ts, "dev-001", string(session.StatePairing))

	t.Run("wrong pin returns 400 and stays in pairing", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-001/pairing/pin",
			map[string]any{"pin": "000000"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
		waitForDeviceState(t, ts, "dev-001", string(session.StatePairing))
	})

	t.Run("correct pin completes pairing", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-001/pairing/pin",
			map[string]any{"pin": "123456"})
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
		waitForDeviceState(t, ts, "dev-001", string(session.StateConnected))
	})

	t.Run("pin without pairing exchange returns 409", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost, "/api/v1/devices/dev-001/pairing/pin",
			map[string]any{"pin": "123456"})
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
	})
}

func TestWebSocketEventStream(t *testing.T) {
	ts, srv, _ := newTestServer(t, &fakeDialer{})

	// Obtain a single-use ticket.
	resp := doRequest(t, ts, http.MethodPost, "/api/v1/auth/ws-ticket", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ws-ticket status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	ticket, _ := body["ticket"].(string)
	if ticket == "" {
		t.Fatal("ticket missing from response")
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") +
		fmt.Sprintf("/api/v1/ws?ticket=%s", ticket)
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	// Subscribe to attribute changes.
	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelDeviceAttributes}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe write: %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("subscribe ack read: %v", err)
	}
	if ack.Type != WSTypeResponse {
		t.Fatalf("ack type = %q, want %q", ack.Type, WSTypeResponse)
	}

	// Broadcast and expect the event.
	srv.Hub().BroadcastAttributes("dev-001", map[string]any{"power": "ON"})

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("event read: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelDeviceAttributes {
		t.Errorf("event = %+v, want type=%q channel=%q", event, WSTypeEvent, ChannelDeviceAttributes)
	}

	t.Run("ticket is single use", func(t *testing.T) {
		_, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			t.Fatal("second dial with consumed ticket succeeded")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("second dial response = %+v, want 401", resp)
		}
	})

	t.Run("missing ticket rejected", func(t *testing.T) {
		bare := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
		_, resp, err := gorillaws.DefaultDialer.Dial(bare, nil)
		if err == nil {
			t.Fatal("dial without ticket succeeded")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %+v, want 401", resp)
		}
	})
}
