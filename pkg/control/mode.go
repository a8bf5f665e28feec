package control

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Mode selects what the proxy's cache modifier does with traffic.
type Mode int

const (
	// ModeCache forwards every request and records the response.
	ModeCache Mode = iota + 1
	// ModeReplay answers from recorded responses and forwards misses.
	ModeReplay
)

// ParseMode converts the wire name of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "cache":
		return ModeCache, nil
	case "replay":
		return ModeReplay, nil
	}
	return 0, fmt.Errorf("unknown cache mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeCache:
		return "cache"
	case ModeReplay:
		return "replay"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m == ModeCache || m == ModeReplay
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid cache mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// UnmarshalYAML accepts the mode as a plain scalar.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: cache mode must be a string", value.Line)
	}
	return m.UnmarshalText([]byte(value.Value))
}

func (m Mode) MarshalYAML() (interface{}, error) {
	b, err := m.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
