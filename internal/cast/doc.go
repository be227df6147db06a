// Package cast merges media-status events from a device's cast channel into
// the attribute set published to the hub.
//
// The cast channel is a secondary, optional stream next to the remote-control
// connection: it reports what is playing (title, artist, album, artwork,
// position). Events arrive in bursts and mostly repeat what is already known,
// so the Mixer coalesces them: metadata attributes are published only on
// change, and position updates are debounced so a burst of progress events
// yields at most one publish per debounce window.
//
// A Mixer is owned by exactly one device session. The session attaches it
// after the remote connection is established and detaches it on disconnect;
// re-attaching after a reconnect always creates a fresh subscription so no
// stale handle survives across connections.
package cast
