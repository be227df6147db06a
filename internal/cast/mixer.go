package cast

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// defaultPositionDebounce is the minimum interval between position-only
// publishes. Progress events arrive every second while media plays; the hub
// does not need them that often.
const defaultPositionDebounce = 30 * time.Second

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

// Mixer coalesces cast media-status events into attribute change sets.
//
// Publishing rules:
//   - state/title/artist/album are published only when they change
//   - position is published when the duration changed, or when it moved and
//     the debounce interval has elapsed since the last position publish;
//     a state change resets the debounce so the next position goes out
//     immediately
//   - image URLs must be absolute http(s) URLs; anything else is discarded
//     and the last valid value stays published
//
// All methods are safe for concurrent use. Publish callbacks run on the
// subscription consumer goroutine.
type Mixer struct {
	debounce time.Duration
	publish  func(changes map[string]any)
	now      func() time.Time

	mu                  sync.Mutex
	state               string
	title               string
	artist              string
	album               string
	imageURL            string
	position            time.Duration
	duration            time.Duration
	lastPositionPublish time.Time

	// Subscription lifecycle; nil when detached.
	cancel   func()
	consumer chan struct{} // closed when the consumer goroutine exits

	logger   Logger
	loggerMu sync.RWMutex
}

// NewMixer creates a detached mixer. publish receives each non-empty change
// set; debounce <= 0 selects the default.
func NewMixer(debounce time.Duration, publish func(changes map[string]any)) *Mixer {
	if debounce <= 0 {
		debounce = defaultPositionDebounce
	}
	return &Mixer{
		debounce: debounce,
		publish:  publish,
		now:      time.Now,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for this mixer.
func (m *Mixer) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	if logger != nil {
		m.logger = logger
	}
	m.loggerMu.Unlock()
}

func (m *Mixer) log() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// Attach subscribes to the device's cast channel and starts consuming
// events. An existing subscription is detached first, so every attach gets a
// fresh stream.
func (m *Mixer) Attach(ctx context.Context, client Client, address string) error {
	m.Detach()

	events, cancel, err := client.Subscribe(ctx, address)
	if err != nil {
		return fmt.Errorf("cast subscribe %s: %w", address, err)
	}

	consumerDone := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.consumer = consumerDone
	m.mu.Unlock()

	go func() {
		defer close(consumerDone)
		for ev := range events {
			m.handleEvent(ev)
		}
		m.log().Debug("cast stream closed", "address", address)
	}()

	m.log().Debug("cast mixer attached", "address", address)
	return nil
}

// Detach cancels the subscription and waits for the consumer goroutine to
// finish. Safe to call multiple times and while detached.
func (m *Mixer) Detach() {
	m.mu.Lock()
	cancel := m.cancel
	consumer := m.consumer
	m.cancel = nil
	m.consumer = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if consumer != nil {
		<-consumer
	}
}

// handleEvent folds one event into the cached state and publishes the delta.
func (m *Mixer) handleEvent(ev Event) {
	m.mu.Lock()
	changes := m.applyLocked(ev)
	m.mu.Unlock()

	if len(changes) > 0 && m.publish != nil {
		m.publish(changes)
	}
}

func (m *Mixer) applyLocked(ev Event) map[string]any {
	changes := make(map[string]any)

	if ev.State != nil && *ev.State != m.state {
		m.state = *ev.State
		// A play/pause/stop transition makes the current position
		// interesting again regardless of the debounce window.
		m.lastPositionPublish = time.Time{}
		changes[AttrState] = m.state
	}

	if ev.Title != nil && *ev.Title != m.title {
		m.title = *ev.Title
		changes[AttrTitle] = m.title
	}

	if ev.Artist != nil && *ev.Artist != m.artist {
		m.artist = *ev.Artist
		changes[AttrArtist] = m.artist
	}

	if ev.Album != nil && *ev.Album != m.album {
		m.album = *ev.Album
		changes[AttrAlbum] = m.album
	}

	changedDuration := false
	if ev.Duration != nil && *ev.Duration != m.duration {
		m.duration = *ev.Duration
		changes[AttrDuration] = int(m.duration.Seconds())
		changedDuration = true
	}

	if ev.Position != nil {
		now := m.now()
		moved := *ev.Position != m.position
		if changedDuration || (moved && now.Sub(m.lastPositionPublish) >= m.debounce) {
			m.position = *ev.Position
			changes[AttrPosition] = int(m.position.Seconds())
			changes[AttrDuration] = int(m.duration.Seconds())
			m.lastPositionPublish = now
		}
	}

	if ev.ImageURL != nil {
		if u := *ev.ImageURL; validImageURL(u) {
			if u != m.imageURL {
				m.imageURL = u
				changes[AttrImageURL] = m.imageURL
			}
		} else {
			// Transient junk must not displace the last good artwork.
			m.log().Debug("ignoring invalid media image url", "url", u)
		}
	}

	return changes
}

// Attributes returns the current merged attribute set, for re-publishing
// after a hub client (re)subscribes.
func (m *Mixer) Attributes() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	attrs := map[string]any{
		AttrTitle:    m.title,
		AttrArtist:   m.artist,
		AttrAlbum:    m.album,
		AttrImageURL: m.imageURL,
		AttrPosition: int(m.position.Seconds()),
		AttrDuration: int(m.duration.Seconds()),
	}
	if m.state != "" {
		attrs[AttrState] = m.state
	}
	return attrs
}

// validImageURL accepts only absolute http(s) URLs.
func validImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
