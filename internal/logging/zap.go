package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a *zap.Logger to Logger. It is the production backend.
type ZapLogger struct {
	z *zap.Logger
}

// NewZapLogger builds a JSON zap logger writing to stdout at the given level
// ("debug", "info", "warn", "error"; empty means info).
func NewZapLogger(component, level string) (*ZapLogger, error) {
	lvl := zapcore.InfoLevel
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", level, err)
		}
	}

	encoderConfig := zapcore.EncoderConfig{
		MessageKey:   "msg",
		LevelKey:     "level",
		TimeKey:      "time",
		CallerKey:    "caller",
		NameKey:      "component",
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
		EncodeName:   zapcore.FullNameEncoder,
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	z, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	if component != "" {
		z = z.Named(component)
	}
	return &ZapLogger{z: z}, nil
}

// WrapZap wraps an existing zap logger, e.g. zaptest or zap.NewNop.
func WrapZap(z *zap.Logger) *ZapLogger {
	return &ZapLogger{z: z}
}

func toZap(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (l *ZapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZap(fields)...) }
func (l *ZapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZap(fields)...) }
func (l *ZapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZap(fields)...) }
func (l *ZapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZap(fields)...) }

func (l *ZapLogger) With(fields ...Field) Logger {
	z := l.z
	rest := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Key == "component" {
			if s, ok := f.Value.(string); ok {
				z = z.Named(s)
				continue
			}
		}
		rest = append(rest, f)
	}
	return &ZapLogger{z: z.With(toZap(rest)...)}
}

// Sync flushes buffered entries; call it before exit.
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}

// New picks a backend by format: "zap" (default) or "json" for the
// dependency-free StdoutLogger.
func New(format, component, level string) (Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "zap":
		return NewZapLogger(component, level)
	case "json", "stdout":
		return NewStdoutLogger(component), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
