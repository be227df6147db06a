// Package profile implements keycode profile resolution for Android TV devices.
//
// A profile maps logical command names (e.g. "CHANNEL_UP") to concrete
// remote-protocol keycodes and key actions for one family of devices,
// matched by manufacturer/model prefix. Profiles are loaded from JSON
// files at startup and are immutable afterwards, so resolution needs no
// locking: every session resolves its profile once per connection and
// caches the result.
//
// Matching rules:
//   - Manufacturer prefix match is mandatory, case-insensitive.
//   - Model prefix is optional; empty matches every model.
//   - Profiles are tried in lexicographic filename order; first match wins.
//   - A built-in default profile always matches as the last resort.
package profile
