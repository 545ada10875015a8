// Package logger wraps zap with the level/prefix facade used throughout the
// pipeline so call sites log structured fields without depending on zap
// directly.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger with a fixed component prefix.
type Logger struct {
	z       *zap.Logger
	prefix  string
	atom    zap.AtomicLevel
}

// Global is the process-wide logger, set by Init.
var Global *Logger

// Init builds the global logger for a component process.
// format "console" yields human-readable development output; anything else
// (including "") yields JSON production output.
func Init(levelStr, component, format string) {
	Global = New(levelStr, component, format)
}

// New builds a component-scoped logger.
func New(levelStr, component, format string) *Logger {
	atom := zap.NewAtomicLevelAt(parseLevel(levelStr))

	var encoderCfg zapcore.EncoderConfig
	var encoder zapcore.Encoder
	if strings.EqualFold(format, "console") {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "timestamp"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), atom)
	z := zap.New(core, zap.AddCaller())
	if component != "" {
		z = z.With(zap.String("component", component))
	}

	return &Logger{z: z, prefix: component, atom: atom}
}

func parseLevel(levelStr string) zapcore.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel changes the log level at runtime.
func (l *Logger) SetLevel(levelStr string) {
	l.atom.SetLevel(parseLevel(levelStr))
}

// With returns a child logger carrying the given structured fields for every
// subsequent call — the mechanism components use to attach tracking_id,
// ship_id, ... to every log line for a unit of work.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...), prefix: l.prefix, atom: l.atom}
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sugar returns a printf-style logger for call sites that don't carry
// structured fields (tests, CLI scaffolding).
func (l *Logger) Sugar() *zap.SugaredLogger { return l.z.Sugar() }

// Printf-style helpers, kept for call sites (retry/backoff loops, circuit
// breakers) that log a formatted one-liner rather than structured fields.
func (l *Logger) Debugf(format string, args ...interface{}) { l.z.Sugar().Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.z.Sugar().Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.z.Sugar().Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.z.Sugar().Errorf(format, args...) }

// Package-level helpers delegating to Global, falling back to a bootstrap
// logger if Init hasn't run yet (e.g. package init order, tests).
func fallback() *Logger {
	if Global == nil {
		Global = New("info", "", "")
	}
	return Global
}

func Debug(msg string, fields ...zap.Field) { fallback().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { fallback().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { fallback().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { fallback().Error(msg, fields...) }

func Debugf(format string, args ...interface{}) { fallback().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { fallback().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { fallback().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { fallback().Errorf(format, args...) }

// Field constructors re-exported so call sites need only import this package.
var (
	String = zap.String
	Int    = zap.Int
	Float64 = zap.Float64
	Bool   = zap.Bool
	Err    = zap.Error
	Any    = zap.Any
)
