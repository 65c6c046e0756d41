package telemetry

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	config "github.com/tigerroll/swell/pkg/batch/core/config"
	exception "github.com/tigerroll/swell/pkg/batch/support/util/exception"
)

const moduleTelemetry = "telemetry"

// Supported OTLP transports.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// metricExportInterval is the push interval of the periodic metric reader.
const metricExportInterval = 15 * time.Second

// Providers bundles the OpenTelemetry SDK providers built from one configuration.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// NewProviders builds OTLP-exporting tracer and meter providers and installs
// them as the process-global OpenTelemetry providers.
func NewProviders(ctx context.Context, cfg *config.Config) (*Providers, error) {
	tcfg := cfg.Swell.Telemetry

	protocol := tcfg.Protocol
	if protocol == "" {
		protocol = ProtocolGRPC
	}
	switch protocol {
	case ProtocolGRPC, ProtocolHTTP:
	default:
		return nil, exception.NewBatchErrorf(moduleTelemetry, "unsupported OTLP protocol '%s': expected '%s' or '%s'", protocol, ProtocolGRPC, ProtocolHTTP)
	}

	res := newResource(tcfg.ServiceName)

	traceExporter, err := newTraceExporter(ctx, protocol, tcfg)
	if err != nil {
		return nil, exception.NewBatchError(moduleTelemetry, "failed to create OTLP trace exporter", err, false, false)
	}
	metricExporter, err := newMetricExporter(ctx, protocol, tcfg)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, exception.NewBatchError(moduleTelemetry, "failed to create OTLP metric exporter", err, false, false)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricExportInterval))),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	return &Providers{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
	}, nil
}

// Shutdown flushes and stops both providers, collecting every failure.
func (p *Providers) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if err := p.TracerProvider.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.MeterProvider.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func newResource(serviceName string) *resource.Resource {
	if serviceName == "" {
		serviceName = "swell"
	}
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)
}

func newTraceExporter(ctx context.Context, protocol string, tcfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	if protocol == ProtocolHTTP {
		opts := make([]otlptracehttp.Option, 0, 2)
		if tcfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(tcfg.Endpoint))
		}
		if tcfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := make([]otlptracegrpc.Option, 0, 2)
	if tcfg.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(tcfg.Endpoint))
	}
	if tcfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newMetricExporter(ctx context.Context, protocol string, tcfg config.TelemetryConfig) (sdkmetric.Exporter, error) {
	if protocol == ProtocolHTTP {
		opts := make([]otlpmetrichttp.Option, 0, 2)
		if tcfg.Endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(tcfg.Endpoint))
		}
		if tcfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	}

	opts := make([]otlpmetricgrpc.Option, 0, 2)
	if tcfg.Endpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(tcfg.Endpoint))
	}
	if tcfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}
