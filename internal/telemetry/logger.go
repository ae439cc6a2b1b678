// Package telemetry carries the job graph core's ambient observability
// surface: a narrow Logger contract the core depends on (§1 lists logging
// as an external collaborator — an interface, not an implementation) and a
// concrete zap-backed adapter, following the interface-plus-adapter split
// used by jontk-slurm-client's pkg/logging (there over log/slog; here over
// go.uber.org/zap, since zap is the logging dependency the rest of the
// retrieval pack actually carries).
package telemetry

import "go.uber.org/zap"

// Logger is the logging contract the job graph core depends on. Callers
// inject an implementation via Config.Logger; the core never imports zap
// directly.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	With(fields ...any) Logger
}

// NoopLogger discards everything. It is the default when Config.Logger is
// left nil, keeping the core free of logging overhead unless a caller
// opts in.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any)  {}
func (NoopLogger) Info(string, ...any)   {}
func (NoopLogger) Warn(string, ...any)   {}
func (NoopLogger) Error(string, ...any)  {}
func (n NoopLogger) With(...any) Logger  { return n }

// zapLogger adapts *zap.SugaredLogger to the Logger contract.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps an existing *zap.Logger. Passing nil uses
// zap.NewNop(), matching the package default of "no logging unless asked".
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{s: l.Sugar()}
}

// NewProductionZapLogger builds a ready-to-use Logger from zap's production
// config (JSON encoding, info level), the shape go-coffee's services wire
// up for their own service loggers.
func NewProductionZapLogger() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l), nil
}

func (z *zapLogger) Debug(msg string, fields ...any) { z.s.Debugw(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...any)  { z.s.Infow(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...any)  { z.s.Warnw(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...any) { z.s.Errorw(msg, fields...) }

func (z *zapLogger) With(fields ...any) Logger {
	return &zapLogger{s: z.s.With(fields...)}
}
