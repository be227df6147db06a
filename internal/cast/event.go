package cast

import (
	"context"
	"time"
)

// Player states reported over the cast channel.
const (
	StatePlaying   = "PLAYING"
	StatePaused    = "PAUSED"
	StateBuffering = "BUFFERING"
	StateIdle      = "IDLE"
)

// Event is one media-status update from the cast channel. Every field is
// optional; nil means the event carries no information about that attribute,
// which is different from an explicit empty value.
type Event struct {
	State    *string
	Title    *string
	Artist   *string
	Album    *string
	ImageURL *string
	Position *time.Duration
	Duration *time.Duration
}

// Client is the cast-protocol collaborator the Mixer consumes. Subscribe
// opens a media-status stream for the device at address; the returned cancel
// function closes the subscription and, eventually, the channel.
type Client interface {
	Subscribe(ctx context.Context, address string) (<-chan Event, func(), error)
}

// Attribute keys used in published change sets.
const (
	AttrState    = "media_state"
	AttrTitle    = "media_title"
	AttrArtist   = "media_artist"
	AttrAlbum    = "media_album"
	AttrImageURL = "media_image_url"
	AttrPosition = "media_position"
	AttrDuration = "media_duration"
)
