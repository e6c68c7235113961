package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilLoggerIsUsable(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Debugf("x %d", 1)
		l.Infof("x %d", 1)
		l.With("k", "v").Info("y")
	})
}

func TestWriterLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")

	l.Infof("hidden %s", "info")
	l.Warnf("visible %s", "warning")
	l.With(slog.String("vehicle", "plane-1")).Error("failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible warning")
	assert.Contains(t, out, "vehicle=plane-1")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}
