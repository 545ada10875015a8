package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func withObserver(level string) (*Logger, *observer.ObservedLogs) {
	core, observed := observer.New(parseLevel(level))
	return &Logger{z: zap.New(core), atom: zap.NewAtomicLevelAt(parseLevel(level))}, observed
}

func TestNew(t *testing.T) {
	l := New("info", "anomalydetector", "")
	assert.NotNil(t, l)
}

func TestInit(t *testing.T) {
	original := Global
	defer func() { Global = original }()

	Init("debug", "enricher", "console")
	assert.NotNil(t, Global)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
	}{
		{"debug"}, {"DEBUG"}, {"info"}, {"INFO"},
		{"warn"}, {"warning"}, {"error"}, {"ERROR"},
		{"unknown"}, {""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.NotPanics(t, func() { parseLevel(tt.input) })
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, observed := withObserver("warn")

	l.Debug("ignored")
	l.Info("ignored")
	l.Warn("kept", String("key", "val"))
	l.Error("also kept")

	assert.Equal(t, 2, observed.Len())
	assert.Equal(t, "kept", observed.All()[0].Message)
}

func TestLogger_With(t *testing.T) {
	l, observed := withObserver("info")
	child := l.With(String("tracking_id", "T1"), String("ship_id", "alpha-ship"))

	child.Info("anomaly detected")

	entry := observed.All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, "T1", fields["tracking_id"])
	assert.Equal(t, "alpha-ship", fields["ship_id"])
}

func TestGlobalFunctions(t *testing.T) {
	original := Global
	defer func() { Global = original }()

	core, observed := observer.New(zap.DebugLevel)
	Global = &Logger{z: zap.New(core)}

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	assert.Equal(t, 4, observed.Len())
}

func TestGlobalFunctions_NoGlobalLogger(t *testing.T) {
	original := Global
	Global = nil
	defer func() { Global = original }()

	assert.NotPanics(t, func() { Info("bootstraps a fallback logger") })
	assert.NotNil(t, Global)
}

func TestSetLevel(t *testing.T) {
	l := New("info", "", "")
	l.SetLevel("error")
	assert.Equal(t, zap.ErrorLevel, l.atom.Level())
}
