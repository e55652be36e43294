package engine

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Loops, 8)
	assert.True(t, cfg.Loops["logic"].InterpreterLock)
	assert.True(t, cfg.Loops["main"].InterpreterLock)
	assert.False(t, cfg.Loops["audio"].InterpreterLock)
}

func TestParseConfig_empty(t *testing.T) {
	cfg, err := ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfig_overlaysDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
log:
  level: debug
suspend:
  timeout: 500ms
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, FormatJSON, cfg.Log.Format)
	assert.Equal(t, 500*time.Millisecond, cfg.Suspend.Timeout)
	assert.Equal(t, DefaultConfig().Loops, cfg.Loops)
}

func TestParseConfig_loopsReplaceDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
loops:
  logic:
    cpu: 1
    interpreter_lock: true
`))
	require.NoError(t, err)
	require.Len(t, cfg.Loops, 1)
	require.NotNil(t, cfg.Loops["logic"].CPU)
	assert.Equal(t, 1, *cfg.Loops["logic"].CPU)
}

func TestParseConfig_invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		data string
	}{
		{"unknown field", "bogus: 1\n"},
		{"syntax", "log: [\n"},
		{"level", "log:\n  level: loud\n"},
		{"format", "log:\n  format: xml\n"},
		{"loop name", "loops:\n  physics: {}\n"},
		{"negative cpu", "loops:\n  logic:\n    cpu: -2\n"},
		{"threshold", "safety_threshold: 0\n"},
		{"timeout", "suspend:\n  timeout: 0s\n"},
		{"network without writer", "network:\n  listen: 127.0.0.1:0\nloops:\n  logic: {}\n"},
		{"script without logic", "script: x.js\nloops:\n  audio: {}\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.data))
			assert.Error(t, err)
		})
	}
}

func TestConfig_yamlRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cpu := 3
	cfg.Loops["audio"] = LoopConfig{CPU: &cpu}
	cfg.Network.Listen = "127.0.0.1:7000"

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))
	assert.Contains(t, buf.String(), "timeout: 2s")

	decoded, err := ParseConfig(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
}

func TestLoadConfig_missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
