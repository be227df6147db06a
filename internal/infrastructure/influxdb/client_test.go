package influxdb_test

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/atv-bridge/internal/infrastructure/config"
	"github.com/nerrad567/atv-bridge/internal/infrastructure/influxdb"
)

// fakeInflux is an in-process stand-in for the InfluxDB v2 HTTP API. It
// answers pings and captures written line-protocol records so tests can
// assert on the exact measurements the bridge emits.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeInflux) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ping":
			w.WriteHeader(http.StatusNoContent)
		case strings.HasPrefix(r.URL.Path, "/api/v2/write"):
			body := io.Reader(r.Body)
			if r.Header.Get("Content-Encoding") == "gzip" {
				gz, err := gzip.NewReader(r.Body)
				if err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				defer gz.Close()
				body = gz
			}
			data, err := io.ReadAll(body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
				if line != "" {
					f.lines = append(f.lines, line)
				}
			}
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// waitForLine polls until a captured record contains every substring.
func (f *fakeInflux) waitForLine(t *testing.T, subs ...string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, line := range f.lines {
			ok := true
			for _, sub := range subs {
				if !strings.Contains(line, sub) {
					ok = false
					break
				}
			}
			if ok {
				f.mu.Unlock()
				return line
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Fatalf("no record containing %v; captured: %v", subs, f.lines)
	return ""
}

func (f *fakeInflux) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines)
}

func newTestClient(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()

	fake := &fakeInflux{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "test-token",
		Org:           "atvbridge",
		Bucket:        "telemetry",
		BatchSize:     1,
		FlushInterval: 1,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client, fake
}

func TestConnectDisabled(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectRefused(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "test-token",
	})
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndHealthCheck(t *testing.T) {
	client, _ := newTestClient(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheckAfterClose(t *testing.T) {
	client, _ := newTestClient(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestWriteConnectionState(t *testing.T) {
	client, fake := newTestClient(t)

	client.WriteConnectionState("living-room-tv", "reconnecting", 3)
	client.Flush()

	line := fake.waitForLine(t, "connection_state", "device_id=living-room-tv", "state=reconnecting")
	if !strings.Contains(line, "attempt=3i") {
		t.Errorf("record %q missing attempt field", line)
	}
}

func TestWriteCommandMetric(t *testing.T) {
	client, fake := newTestClient(t)

	client.WriteCommandMetric("office-tv", "DPAD_UP", true, 15*time.Millisecond)
	client.Flush()

	line := fake.waitForLine(t, "command", "device_id=office-tv", "command=DPAD_UP")
	if !strings.Contains(line, "ok=1i") {
		t.Errorf("record %q missing ok field", line)
	}
	if !strings.Contains(line, "latency_ms=15i") {
		t.Errorf("record %q missing latency field", line)
	}
}

func TestWriteMediaPosition(t *testing.T) {
	client, fake := newTestClient(t)

	client.WriteMediaPosition("bedroom-tv", 61, 3600)
	client.Flush()

	line := fake.waitForLine(t, "media_position", "device_id=bedroom-tv", "position_s=61")
	if !strings.Contains(line, "duration_s=3600") {
		t.Errorf("record %q missing duration field", line)
	}
}

func TestWriteMediaPositionUnknownDuration(t *testing.T) {
	client, fake := newTestClient(t)

	client.WriteMediaPosition("bedroom-tv", 100, 0)
	client.Flush()

	line := fake.waitForLine(t, "media_position", "device_id=bedroom-tv", "position_s=100")
	if strings.Contains(line, "duration_s") {
		t.Errorf("record %q carries duration for unknown media length", line)
	}
}

func TestWritePointWithTime(t *testing.T) {
	client, fake := newTestClient(t)

	ts := time.Now().Add(-time.Hour)
	client.WritePointWithTime("session_stats",
		map[string]string{"device_id": "office-tv"},
		map[string]interface{}{"queue_depth": 3},
		ts)
	client.Flush()

	// Line protocol records end with the timestamp in raw nanoseconds.
	line := fake.waitForLine(t, "session_stats", "device_id=office-tv", "queue_depth=3i")
	if !strings.HasSuffix(line, " "+strconv.FormatInt(ts.UnixNano(), 10)) {
		t.Errorf("record %q does not carry timestamp %d", line, ts.UnixNano())
	}
}

func TestWritesDroppedAfterClose(t *testing.T) {
	client, fake := newTestClient(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	before := fake.count()

	client.WriteConnectionState("living-room-tv", "connected", 0)
	client.WritePoint("session_stats", nil, map[string]interface{}{"reconnects": 1})
	client.Flush()

	time.Sleep(50 * time.Millisecond)
	if got := fake.count(); got != before {
		t.Errorf("records after Close = %d, want %d", got, before)
	}
}
