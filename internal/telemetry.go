// Package internal contains the telemetry (logs, metrics and traces)
// shared by all the packages of the library.
package internal

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

const scopeName = "github.com/FerroO2000/falconudp"

var logHandler atomic.Pointer[slog.Handler]

func init() {
	SetLogHandler(newConsoleHandler())
}

func newConsoleHandler() slog.Handler {
	return tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.StampMilli,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

// SetLogHandler sets the handler used by the telemetry created afterwards.
func SetLogHandler(handler slog.Handler) {
	logHandler.Store(&handler)
}

// EnableOTelLogs routes the logs of the telemetry created afterwards
// to the global OpenTelemetry logger provider.
func EnableOTelLogs() {
	SetLogHandler(otelslog.NewHandler(scopeName))
}

// Telemetry bundles the logger, the meter and the tracer of a component.
type Telemetry struct {
	logger *slog.Logger
	meter  metric.Meter
	tracer trace.Tracer

	attrs metric.MeasurementOption

	regMux        sync.Mutex
	registrations []metric.Registration
}

// NewTelemetry returns the telemetry of the component identified by kind and name.
// It uses the global meter and tracer providers.
func NewTelemetry(kind, name string) *Telemetry {
	return NewTelemetryWithProvider(kind, name, otel.GetMeterProvider())
}

// NewTelemetryWithProvider is like [NewTelemetry] but the metrics are
// registered on the given meter provider.
func NewTelemetryWithProvider(kind, name string, meterProvider metric.MeterProvider) *Telemetry {
	handler := *logHandler.Load()

	return &Telemetry{
		logger: slog.New(handler).With("kind", kind, "name", name),
		meter:  meterProvider.Meter(scopeName),
		tracer: otel.Tracer(scopeName),

		attrs: metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("name", name),
		),
	}
}

// LogDebug logs a message at the debug level.
func (t *Telemetry) LogDebug(msg string, args ...any) {
	t.logger.Debug(msg, args...)
}

// LogInfo logs a message at the info level.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.logger.Info(msg, args...)
}

// LogWarn logs a message at the warning level.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.logger.Warn(msg, args...)
}

// LogError logs a message and the error that caused it at the error level.
func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.logger.Error(msg, append([]any{"error", err}, args...)...)
}

// NewCounter registers an observable monotonic counter.
// The callback is invoked on every collection until [Telemetry.Close] is called.
func (t *Telemetry) NewCounter(name string, callback func() int64) {
	counter, err := t.meter.Int64ObservableCounter(name)
	if err != nil {
		t.LogError("failed to create counter", err, "counter", name)
		return
	}

	t.register(name, counter, callback)
}

// NewUpDownCounter registers an observable up-down counter.
// The callback is invoked on every collection until [Telemetry.Close] is called.
func (t *Telemetry) NewUpDownCounter(name string, callback func() int64) {
	counter, err := t.meter.Int64ObservableUpDownCounter(name)
	if err != nil {
		t.LogError("failed to create up-down counter", err, "counter", name)
		return
	}

	t.register(name, counter, callback)
}

func (t *Telemetry) register(name string, instrument metric.Int64Observable, callback func() int64) {
	reg, err := t.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(instrument, callback(), t.attrs)
		return nil
	}, instrument)

	if err != nil {
		t.LogError("failed to register callback", err, "counter", name)
		return
	}

	t.regMux.Lock()
	t.registrations = append(t.registrations, reg)
	t.regMux.Unlock()
}

// Close unregisters the callbacks of the counters, so the component
// is no longer observed. It can be called more than once.
func (t *Telemetry) Close() error {
	t.regMux.Lock()
	defer t.regMux.Unlock()

	var errs error
	for _, reg := range t.registrations {
		errs = multierr.Append(errs, reg.Unregister())
	}
	t.registrations = nil

	return errs
}

// NewTrace starts a new span.
func (t *Telemetry) NewTrace(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName)
}
