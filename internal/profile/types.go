package profile

import "strings"

// KeyAction is how a keycode is pressed.
type KeyAction string

// Key actions supported by the remote protocol.
const (
	// ActionShort is a regular press-and-release.
	ActionShort KeyAction = "SHORT"

	// ActionLong holds the key for the configured long-press duration.
	ActionLong KeyAction = "LONG"

	// ActionDoubleClick presses the key twice in quick succession.
	ActionDoubleClick KeyAction = "DOUBLE_CLICK"

	// ActionBegin starts holding the key (paired with ActionEnd).
	ActionBegin KeyAction = "BEGIN"

	// ActionEnd releases a key held with ActionBegin.
	ActionEnd KeyAction = "END"
)

// Command is a resolved keycode plus the action used to press it.
type Command struct {
	// Keycode is the remote-protocol key name (e.g. "KEYCODE_DPAD_UP")
	// or a numeric code as a string.
	Keycode string `json:"keycode"`

	// Action defaults to ActionShort when empty.
	Action KeyAction `json:"action,omitempty"`
}

// Profile maps logical command names to keycodes for one device family.
//
// Profiles are plain data records: matching is an ordered first-match
// lookup over the loaded set, not type dispatch.
type Profile struct {
	// Name identifies the profile, derived from its source filename.
	Name string `json:"name,omitempty"`

	// Manufacturer is a mandatory case-insensitive prefix matched against
	// the manufacturer the device reports.
	Manufacturer string `json:"manufacturer"`

	// Model is an optional case-insensitive prefix matched against the
	// reported model. Empty matches every model.
	Model string `json:"model,omitempty"`

	// Features lists capabilities this device family supports
	// (e.g. "volume_control", "channel_zapping").
	Features []string `json:"features,omitempty"`

	// Commands maps logical command names to keycodes.
	Commands map[string]Command `json:"command_map"`
}

// Matches reports whether this profile applies to the given device identity.
// Both prefixes are compared case-insensitively.
func (p *Profile) Matches(manufacturer, model string) bool {
	if !strings.HasPrefix(strings.ToLower(manufacturer), strings.ToLower(p.Manufacturer)) {
		return false
	}
	if p.Model == "" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(model), strings.ToLower(p.Model))
}

// HasFeature reports whether the profile declares the named feature.
func (p *Profile) HasFeature(name string) bool {
	for _, f := range p.Features {
		if f == name {
			return true
		}
	}
	return false
}

// DeepCopy returns a copy of the profile with no shared mutable state.
func (p *Profile) DeepCopy() *Profile {
	cp := *p
	if p.Features != nil {
		cp.Features = make([]string, len(p.Features))
		copy(cp.Features, p.Features)
	}
	if p.Commands != nil {
		cp.Commands = make(map[string]Command, len(p.Commands))
		for k, v := range p.Commands {
			cp.Commands[k] = v
		}
	}
	return &cp
}
