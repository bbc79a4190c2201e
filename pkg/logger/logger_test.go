package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	mu.RLock()
	orig := base
	mu.RUnlock()
	t.Cleanup(func() {
		mu.Lock()
		base = orig
		mu.Unlock()
	})

	var buf bytes.Buffer
	SetOutput(&buf, format)
	Init(level)
	return &buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		" WARN ":   zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"Error":    zerolog.ErrorLevel,
		"fatal":    zerolog.FatalLevel,
		"info":     zerolog.InfoLevel,
		"nonsense": zerolog.InfoLevel,
		"":         zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, "warn", "json")
	require.Equal(t, zerolog.WarnLevel, Level())

	Debugf("debug-msg")
	Infof("info-msg")
	Warnf("warn-msg")
	Errorf("error-msg %d", 7)

	out := buf.String()
	assert.NotContains(t, out, "debug-msg")
	assert.NotContains(t, out, "info-msg")
	assert.Contains(t, out, "warn-msg")
	assert.Contains(t, out, "error-msg 7")
}

func TestSetOutputKeepsLevel(t *testing.T) {
	capture(t, "error", "json")
	var buf bytes.Buffer
	SetOutput(&buf, "json")

	Warnf("dropped")
	assert.Empty(t, buf.String())
	assert.Equal(t, zerolog.ErrorLevel, Level())
}

func TestJSONLines(t *testing.T) {
	buf := capture(t, "info", "json")

	Infof("profile created for %s", "u-1")
	Get().Info().Str("user_id", "u-2").Msg("avatar uploaded")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "info", first["level"])
	assert.Equal(t, "profile created for u-1", first["message"])
	assert.Contains(t, first, "time")
	assert.Equal(t, "u-2", second["user_id"])
}

func TestConsoleFormat(t *testing.T) {
	buf := capture(t, "info", "console")
	Warnf("keyring unavailable")

	out := buf.String()
	assert.Contains(t, out, "keyring unavailable")
	assert.False(t, json.Valid(bytes.TrimSpace([]byte(out))), "console output is not JSON: %q", out)
}
