// Package instrumentation wires OpenTelemetry meters and tracers for the
// auth service. With Enabled=false every provider is a no-op.
package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	DefaultServiceName    = "gatekeeper"
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/aussiebroadwan/gatekeeper/"
)

type Config struct {
	ServiceName    string
	ServiceVersion string

	// Enabled switches from no-op providers to the SDK providers.
	Enabled bool

	// MetricReaders are attached to the SDK meter provider. Tests pass a
	// sdkmetric.ManualReader here.
	MetricReaders []sdkmetric.Reader

	// SpanProcessors are attached to the SDK tracer provider.
	SpanProcessors []sdktrace.SpanProcessor
}

type Instrumentation struct {
	config Config

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// registered during New only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	inst := &Instrumentation{config: config}

	if config.Enabled {
		res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		))
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}

		mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
		for _, r := range config.MetricReaders {
			mopts = append(mopts, sdkmetric.WithReader(r))
		}
		mp := sdkmetric.NewMeterProvider(mopts...)

		topts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
		for _, sp := range config.SpanProcessors {
			topts = append(topts, sdktrace.WithSpanProcessor(sp))
		}
		tp := sdktrace.NewTracerProvider(topts...)

		inst.meterProvider = mp
		inst.tracerProvider = tp
		inst.shutdownFuncs = append(inst.shutdownFuncs, mp.Shutdown, tp.Shutdown)
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst.Meter("auth"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	return inst, nil
}

// Noop returns a disabled instance. It never fails.
func Noop() *Instrumentation {
	inst, err := New(Config{})
	if err != nil {
		panic(err)
	}
	return inst
}

// Shutdown flushes and stops the SDK providers. Safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var errs []error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Meter returns a meter named after scope, e.g. "auth" or "ratelimit".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a tracer named after scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

func (i *Instrumentation) Enabled() bool {
	return i.config.Enabled
}

// RegisterGauge reports fn under name on every collection, e.g. the number
// of tracked rate-limit keys.
func (i *Instrumentation) RegisterGauge(name, description string, fn func() int64) error {
	_, err := i.Meter("auth").Int64ObservableGauge(name,
		metric.WithDescription(description),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn())
			return nil
		}),
	)
	return err
}
