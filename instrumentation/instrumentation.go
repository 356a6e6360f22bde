package instrumentation

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
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
	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// ExporterPrometheus exports metrics through a Prometheus registry
	ExporterPrometheus = "prometheus"

	// ExporterNone keeps metrics in-process only
	ExporterNone = "none"

	scopePrefix = "github.com/giantswarm/idp/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (default: "idp")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, uses no-op providers.
	Enabled bool

	// MetricsExporter selects the metrics exporter: "prometheus" or "none" (default: "none")
	MetricsExporter string

	// LogClientIPs controls whether client IP addresses are attached to spans.
	// Client IPs may be personal data; leave false unless required.
	LogClientIPs bool

	// Resource allows custom resource attributes.
	// If nil, a resource is created with service name and version.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	registry       *prometheus.Registry

	metrics *Metrics

	// registered during New only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "idp"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = ExporterNone
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

func (i *Instrumentation) initializeProviders() error {
	readerOpts := []sdkmetric.Option{sdkmetric.WithResource(i.resource)}

	switch i.config.MetricsExporter {
	case ExporterPrometheus:
		i.registry = prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(i.registry))
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		readerOpts = append(readerOpts, sdkmetric.WithReader(exporter))
	case ExporterNone:
	default:
		return fmt.Errorf("unsupported metrics exporter %q", i.config.MetricsExporter)
	}

	mp := sdkmetric.NewMeterProvider(readerOpts...)
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(i.resource))

	i.meterProvider = mp
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown, tp.Shutdown)
	return nil
}

// Shutdown gracefully shuts down all instrumentation providers
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}

// Meter returns a named meter for the given scope ("http", "server", "storage", "provider", "token")
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// TracerProvider returns the underlying tracer provider, for HTTP middleware
// that creates its own tracers
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// ShouldLogClientIPs returns whether client IP addresses should be recorded
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// PrometheusHandler serves the Prometheus registry. It returns 404 when the
// Prometheus exporter is not configured.
func (i *Instrumentation) PrometheusHandler() http.Handler {
	if i.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks registers gauges reporting the number of live
// sessions and pending flow records.
func (i *Instrumentation) RegisterStorageSizeCallbacks(sessionsCount, flowsCount StorageSizeCallback) error {
	_, err := i.Meter("storage").RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if sessionsCount != nil {
				observer.ObserveInt64(i.metrics.StorageSessions, sessionsCount())
			}
			if flowsCount != nil {
				observer.ObserveInt64(i.metrics.StorageFlows, flowsCount())
			}
			return nil
		},
		i.metrics.StorageSessions,
		i.metrics.StorageFlows,
	)
	return err
}
