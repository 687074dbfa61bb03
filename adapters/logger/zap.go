package logger

import (
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapAdapter implements the moderation Logger contract on zap.
type ZapAdapter struct {
	l *zap.Logger
}

// NewZapAdapter wraps l. A nil logger becomes a no-op.
func NewZapAdapter(l *zap.Logger) *ZapAdapter {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapAdapter{l: l}
}

// Zap returns the underlying logger.
func (z *ZapAdapter) Zap() *zap.Logger { return z.l }

func (z *ZapAdapter) Debug(msg string, fields map[string]any) { z.l.Debug(msg, toFields(fields)...) }
func (z *ZapAdapter) Info(msg string, fields map[string]any)  { z.l.Info(msg, toFields(fields)...) }
func (z *ZapAdapter) Warn(msg string, fields map[string]any)  { z.l.Warn(msg, toFields(fields)...) }
func (z *ZapAdapter) Error(msg string, fields map[string]any) { z.l.Error(msg, toFields(fields)...) }

// toFields converts the map in key order so output is stable.
func toFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// New builds the process logger from a level (debug|info|warn|error) and a
// format (json|console).
func New(level, format string) *zap.Logger {
	var lvl zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	console := strings.ToLower(format) == "console"
	if console {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      console,
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if console {
		cfg.Encoding = "console"
	}

	l, err := cfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		l, _ = zap.NewProduction()
	}
	return l
}
