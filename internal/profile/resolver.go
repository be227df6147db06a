package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// Logger defines the logging interface used by the Resolver.
// This allows different logging implementations to be used.
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

// Resolver matches device identities against the loaded profile set and
// resolves logical command names to keycodes.
//
// The profile set is immutable after Load, so all methods are safe for
// concurrent use without locking.
type Resolver struct {
	profiles []*Profile
	fallback *Profile
	logger   Logger
}

// NewResolver creates a Resolver containing only the default profile.
// Call Load to add profiles from a directory.
func NewResolver() *Resolver {
	return &Resolver{
		fallback: defaultProfile(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger Logger) {
	r.logger = logger
}

// Load reads all profile definition files (*.json) from dir.
//
// Files are loaded in lexicographic filename order, which fixes the
// match order: Resolve tries profiles in exactly this order and returns
// the first match. A file that fails to parse or validate is skipped
// with a warning rather than aborting startup.
func (r *Resolver) Load(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading profile directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		p, err := loadProfileFile(filepath.Join(dir, name))
		if err != nil {
			r.logger.Warn("skipping invalid profile file", "file", name, "error", err)
			continue
		}
		if strings.EqualFold(p.Manufacturer, DefaultManufacturer) {
			// A literal "default" manufacturer replaces the built-in
			// fallback instead of joining the match order.
			r.fallback = p
			r.logger.Info("default profile replaced", "file", name, "name", p.Name)
			continue
		}
		r.profiles = append(r.profiles, p)
		r.logger.Debug("profile loaded",
			"name", p.Name,
			"manufacturer", p.Manufacturer,
			"model", p.Model,
			"commands", len(p.Commands),
		)
	}

	r.logger.Info("profiles loaded", "count", len(r.profiles), "dir", dir)
	return nil
}

// Register appends a profile to the match order. Used by tests and for
// profiles supplied programmatically rather than from files.
func (r *Resolver) Register(p *Profile) error {
	if err := validateProfile(p); err != nil {
		return err
	}
	r.profiles = append(r.profiles, p.DeepCopy())
	return nil
}

// Resolve returns the profile for the given device identity.
//
// Profiles are tried in load order; the first whose manufacturer prefix
// matches (and whose model prefix, if set, also matches) wins. Resolve
// never fails: if nothing matches, the default profile is returned.
func (r *Resolver) Resolve(manufacturer, model string) *Profile {
	for _, p := range r.profiles {
		if p.Matches(manufacturer, model) {
			r.logger.Debug("profile resolved",
				"profile", p.Name,
				"manufacturer", manufacturer,
				"model", model,
			)
			return p
		}
	}
	return r.fallback
}

// MapCommand resolves a logical command name to a keycode and action.
//
// The lookup order is:
//  1. The profile's own command map.
//  2. The built-in fallback table shared by all Android TV devices.
//  3. Raw passthrough: a name starting with "KEYCODE_" or a purely
//     numeric string is sent as-is with a short press.
//
// Returns ErrNotSupported when none applies; this is a normal result
// and must not abort the caller.
func (r *Resolver) MapCommand(p *Profile, command string) (Command, error) {
	if p == nil {
		p = r.fallback
	}

	if cmd, ok := p.Commands[command]; ok {
		return withDefaultAction(cmd), nil
	}

	if cmd, ok := fallbackCommands[command]; ok {
		return withDefaultAction(cmd), nil
	}

	if strings.HasPrefix(command, "KEYCODE_") || isNumeric(command) {
		return Command{Keycode: command, Action: ActionShort}, nil
	}

	return Command{}, fmt.Errorf("%w: %s", ErrNotSupported, command)
}

// Profiles returns the loaded profiles in match order (copies).
func (r *Resolver) Profiles() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, *p.DeepCopy())
	}
	return out
}

// loadProfileFile parses and validates a single profile definition.
func loadProfileFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}

	if err := validateProfile(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// validateProfile checks a profile definition for errors.
func validateProfile(p *Profile) error {
	if p.Manufacturer == "" {
		return fmt.Errorf("%w: manufacturer prefix is required", ErrInvalidProfile)
	}
	for name, cmd := range p.Commands {
		if cmd.Keycode == "" {
			return fmt.Errorf("%w: command %q has empty keycode", ErrInvalidProfile, name)
		}
		switch cmd.Action {
		case "", ActionShort, ActionLong, ActionDoubleClick, ActionBegin, ActionEnd:
		default:
			return fmt.Errorf("%w: command %q has unknown action %q", ErrInvalidProfile, name, cmd.Action)
		}
	}
	return nil
}

// withDefaultAction fills in ActionShort for mappings that omit the action.
func withDefaultAction(cmd Command) Command {
	if cmd.Action == "" {
		cmd.Action = ActionShort
	}
	return cmd
}

// isNumeric reports whether s is a non-empty string of digits.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
