// Package telemetry wires the OpenTelemetry meter and tracer providers used
// during a measurement: a Prometheus scrape endpoint or stdout for metrics,
// stdout or OTLP/gRPC for traces.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

var (
	// ErrNilContext is returned when Init is called with a nil context
	ErrNilContext = errors.New("telemetry: nil context")
	// ErrUnknownExporter is returned for an unsupported exporter name
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config selects the exporters
type Config struct {
	ServiceName    string `json:"service_name" yaml:"service_name"`
	ServiceVersion string `json:"service_version" yaml:"service_version"`

	// TraceExporter is "none", "stdout" or "otlp"
	TraceExporter string `json:"trace_exporter" yaml:"trace_exporter"`
	// MetricExporter is "none", "prometheus" or "stdout"
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter"`

	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `json:"otlp_insecure" yaml:"otlp_insecure"`

	// MetricsAddr is where Serve exposes /metrics for the prometheus exporter
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	// Writer receives stdout exporter output. Results own stdout, so the
	// default is stderr.
	Writer io.Writer `json:"-" yaml:"-"`
}

// DefaultConfig disables every exporter
func DefaultConfig() Config {
	return Config{
		ServiceName:    "cyclictest",
		ServiceVersion: "dev",
		TraceExporter:  "none",
		MetricExporter: "none",
		OTLPEndpoint:   "localhost:4317",
		OTLPInsecure:   true,
		MetricsAddr:    ":9464",
	}
}

// Validate checks the exporter names
func (c Config) Validate() error {
	switch c.TraceExporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("%w: trace exporter %q", ErrUnknownExporter, c.TraceExporter)
	}
	switch c.MetricExporter {
	case "none", "prometheus", "stdout":
	default:
		return fmt.Errorf("%w: metric exporter %q", ErrUnknownExporter, c.MetricExporter)
	}
	return nil
}

// Provider owns the configured providers and the optional scrape server
type Provider struct {
	config Config
	logger *zap.Logger

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	handler        http.Handler

	server   *http.Server
	listener net.Listener

	shutdownFuncs []func(context.Context) error
}

// Init builds the providers for cfg and installs them as the otel globals
func Init(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Provider{
		config:         cfg,
		logger:         logger.Named("telemetry"),
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	if cfg.TraceExporter != "none" {
		tp, err := p.initTracer(ctx, res)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		p.tracerProvider = tp
		p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricExporter != "none" {
		mp, err := p.initMeter(res)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		p.meterProvider = mp
		p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	p.logger.Debug("Telemetry initialized",
		zap.String("traces", cfg.TraceExporter),
		zap.String("metrics", cfg.MetricExporter))
	return p, nil
}

func (p *Provider) initTracer(ctx context.Context, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch p.config.TraceExporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
		}
		if p.config.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(p.config.Writer), stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, p.config.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

func (p *Provider) initMeter(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	switch p.config.MetricExporter {
	case "prometheus":
		// A private registry keeps repeated runs in one process from
		// colliding on the default registerer.
		registry := prometheus.NewRegistry()
		exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		p.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(p.config.Writer), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}

		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, p.config.MetricExporter)
	}
}

// Meter returns a named meter, a no-op meter when metrics are disabled
func (p *Provider) Meter(name string) metric.Meter {
	return p.meterProvider.Meter(name)
}

// Tracer returns a named tracer, a no-op tracer when tracing is disabled
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracerProvider.Tracer(name)
}

// MetricsEnabled reports whether a metric exporter is configured
func (p *Provider) MetricsEnabled() bool {
	return p.config.MetricExporter != "none"
}

// MetricsHandler returns the /metrics handler, nil unless the prometheus
// exporter is configured
func (p *Provider) MetricsHandler() http.Handler {
	return p.handler
}

// Serve starts the scrape endpoint in the background. It is a no-op
// without the prometheus exporter.
func (p *Provider) Serve() error {
	if p.handler == nil || p.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", p.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", p.config.MetricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", p.handler)
	p.listener = ln
	p.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	p.logger.Info("Serving metrics", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound scrape address, empty before Serve
func (p *Provider) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Shutdown stops the scrape server and flushes every provider
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
		p.server = nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdownFuncs = nil
	return errors.Join(errs...)
}
