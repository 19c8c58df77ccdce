package common

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// Duration wraps time.Duration so it can be parsed from the human-readable
// strings used throughout the YAML/JSON/TOML configuration files (e.g. "30s",
// "1h30m") instead of the raw nanosecond integers time.Duration marshals to
// by default.
type Duration struct {
	time.Duration
}

// NewDuration wraps a time.Duration value.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler, used by YAML and TOML decoders.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler so Duration can be used directly in JSON configs.
func (d *Duration) UnmarshalJSON(data []byte) error {
	// Strip surrounding quotes; encoding/json hands us the raw token including quotes.
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	return d.UnmarshalText(data)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.Duration.String())), nil
}

// JSONSchema implements invopop/jsonschema.JSONSchemaer so generated config
// schemas describe Duration as a human-readable string rather than a struct.
func (d Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units accepted by Go's time.ParseDuration, e.g. \"300ms\", \"1.5h\" or \"2h45m\".",
		Examples:    []interface{}{"1m", "300ms", "2h45m"},
	}
}
