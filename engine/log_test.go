package engine

import (
	"bytes"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]logiface.Level{
		"emerg":    logiface.LevelEmergency,
		"alert":    logiface.LevelAlert,
		"crit":     logiface.LevelCritical,
		"err":      logiface.LevelError,
		"ERROR":    logiface.LevelError,
		"warning":  logiface.LevelWarning,
		"warn":     logiface.LevelWarning,
		"notice":   logiface.LevelNotice,
		" info ":   logiface.LevelInformational,
		"debug":    logiface.LevelDebug,
		"trace":    logiface.LevelTrace,
		"disabled": logiface.LevelDisabled,
	} {
		level, err := ParseLevel(s)
		if assert.NoError(t, err, s) {
			assert.Equal(t, want, level, s)
		}
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewLogger_json(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "info", Format: FormatJSON}, &buf)
	require.NoError(t, err)
	logger.Debug().Log("hidden")
	logger.Info().Str("k", "v").Log("hello")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"lvl":"info"`)
	assert.Contains(t, out, `"time":"`)
	assert.Contains(t, out, `"k":"v"`)
	assert.Contains(t, out, `"msg":"hello"`)
}

func TestNewLogger_text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "debug", Format: FormatText}, &buf)
	require.NoError(t, err)
	logger.Warning().Str("k", "v").Log("hello")

	out := buf.String()
	assert.NotContains(t, out, "{")
	assert.Contains(t, out, "WARNING")
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "k=v")
}

func TestNewLogger_invalid(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "loud"}, nil)
	assert.Error(t, err)
	_, err = NewLogger(LogConfig{Level: "info", Format: "xml"}, nil)
	assert.Error(t, err)
}
