package utils

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info", "json").Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	NewLogger(&buf, "warn", "text").Info("hidden")
	assert.Empty(t, buf.String())
}

func TestMaskSensitiveString(t *testing.T) {
	assert.Equal(t, "", MaskSensitiveString(""))
	assert.Equal(t, "*****", MaskSensitiveString("short"))
	assert.Equal(t, "sk-a****wxyz", MaskSensitiveString("sk-a1234wxyz"))
}
