// Package logger - zap logger shared by the binary and the HTTP server.
package logger

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var once sync.Once
var core zapcore.Core

// Init builds the shared tee core. Only the first call has an effect.
//
// Debug and info entries go to stdout, warn and above to stderr. debug
// enables debug entries and the development encoder.
func Init(debug bool) {
	once.Do(func() {
		core = newCore(debug, zapcore.Lock(os.Stdout), zapcore.Lock(os.Stderr))
	})
}

func newCore(debug bool, stdout, stderr zapcore.WriteSyncer) zapcore.Core {
	// warn, error and fatal level enabler
	warnErrorFatalLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	if debug {
		debugInfoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
			return level == zapcore.DebugLevel || level == zapcore.InfoLevel
		})
		return zapcore.NewTee(
			zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()), stdout, debugInfoLevel),
			zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig()), stderr, warnErrorFatalLevel),
		)
	}

	infoLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level == zapcore.InfoLevel
	})
	return zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), stdout, infoLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), stderr, warnErrorFatalLevel),
	)
}

// GetZapLogger returns a logger on the shared core that records every entry as
// an event of the span carried by ctx.
func GetZapLogger(ctx context.Context) *zap.Logger {
	Init(false)
	return WithSpan(ctx, zap.New(core))
}

// WithSpan returns l with a hook that records every written entry as an event
// of the span carried by ctx. Error entries also mark the span as failed.
func WithSpan(ctx context.Context, l *zap.Logger) *zap.Logger {
	return l.WithOptions(zap.Hooks(spanHook(ctx)))
}

// spanHook injects log entries into the active trace span.
func spanHook(ctx context.Context) func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() {
			return nil
		}

		span.AddEvent("log", trace.WithAttributes(
			attribute.String("log.severity", entry.Level.String()),
			attribute.String("log.message", entry.Message),
		))
		if entry.Level >= zap.ErrorLevel {
			span.SetStatus(codes.Error, entry.Message)
		}
		return nil
	}
}
