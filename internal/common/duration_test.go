package common

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "milliseconds", input: "250ms", expected: 250 * time.Millisecond},
		{name: "seconds", input: "30s", expected: 30 * time.Second},
		{name: "minutes", input: "5m", expected: 5 * time.Minute},
		{name: "hours", input: "2h", expected: 2 * time.Hour},
		{name: "compound, poll-interval style", input: "1h30m45s", expected: 1*time.Hour + 30*time.Minute + 45*time.Second},
		{name: "zero duration", input: "0s", expected: 0},
		{name: "invalid format - no unit", input: "100", wantErr: true},
		{name: "invalid format - invalid unit", input: "100x", wantErr: true},
		{name: "invalid format - empty string", input: "", wantErr: true},
		{name: "invalid format - non-numeric", input: "abcs", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, d.Duration)
			}
		})
	}
}

func TestNewDuration(t *testing.T) {
	tests := []time.Duration{0, time.Second, 5 * time.Minute, time.Hour}

	for _, duration := range tests {
		d := NewDuration(duration)
		assert.Equal(t, duration, d.Duration)
	}
}

// Duration is what backs the queue's lock_ttl/poll_interval and the
// maintenance coordinator's check_interval fields, so every case is
// unmarshalled into a struct field tagged lock_ttl rather than a bare value.
func TestDuration_JSONAndYAMLUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		yaml     string
		expected time.Duration
		wantErr  bool
	}{
		{
			name:     "lock_ttl default",
			json:     `{"lock_ttl":"30s"}`,
			yaml:     "lock_ttl: 30s\n",
			expected: 30 * time.Second,
		},
		{
			name:     "lock_ttl hours and minutes",
			json:     `{"lock_ttl":"1h30m"}`,
			yaml:     "lock_ttl: 1h30m\n",
			expected: 90 * time.Minute,
		},
		{
			name:     "lock_ttl milliseconds",
			json:     `{"lock_ttl":"500ms"}`,
			yaml:     "lock_ttl: 500ms\n",
			expected: 500 * time.Millisecond,
		},
		{
			name:    "malformed",
			json:    `{"lock_ttl":"invalid"}`,
			yaml:    "lock_ttl: invalid\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/json", func(t *testing.T) {
			var cfg struct {
				LockTTL Duration `json:"lock_ttl"`
			}
			err := json.Unmarshal([]byte(tt.json), &cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.LockTTL.Duration)
		})

		t.Run(tt.name+"/yaml", func(t *testing.T) {
			var cfg struct {
				LockTTL Duration `yaml:"lock_ttl"`
			}
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.LockTTL.Duration)
		})
	}
}

func TestDuration_JSONSchema(t *testing.T) {
	d := Duration{}
	schema := d.JSONSchema()

	require.NotNil(t, schema)
	assert.Equal(t, "string", schema.Type)
	assert.Equal(t, "Duration", schema.Title)
	assert.Contains(t, schema.Description, "Duration expressed in units")
	assert.NotEmpty(t, schema.Examples)
	assert.Contains(t, schema.Examples, "1m")
	assert.Contains(t, schema.Examples, "300ms")
}

func TestDuration_ZeroValue(t *testing.T) {
	var d Duration
	assert.Equal(t, time.Duration(0), d.Duration)
}

func TestDuration_Roundtrip(t *testing.T) {
	t.Run("JSON roundtrip", func(t *testing.T) {
		original := struct {
			CheckInterval Duration `json:"check_interval"`
		}{CheckInterval: NewDuration(30 * time.Minute)}

		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded struct {
			CheckInterval Duration `json:"check_interval"`
		}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original.CheckInterval.Duration, decoded.CheckInterval.Duration)
	})

	t.Run("YAML roundtrip", func(t *testing.T) {
		original := struct {
			PollInterval Duration `yaml:"poll_interval"`
		}{PollInterval: NewDuration(2 * time.Second)}

		data, err := yaml.Marshal(original)
		require.NoError(t, err)

		var decoded struct {
			PollInterval Duration `yaml:"poll_interval"`
		}
		require.NoError(t, yaml.Unmarshal(data, &decoded))
		assert.Equal(t, original.PollInterval.Duration, decoded.PollInterval.Duration)
	})
}
