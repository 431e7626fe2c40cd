package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flybeeper/drone-sim/internal/config"
	"github.com/flybeeper/drone-sim/pkg/utils"
)

// ShutdownFunc сбрасывает накопленные спаны и останавливает провайдер
type ShutdownFunc func(context.Context) error

// Init настраивает глобальный TracerProvider. При выключенной трассировке
// устанавливается noop провайдер, и спаны симулятора ничего не стоят.
func Init(ctx context.Context, cfg config.TracingConfig, logger *utils.Logger) (ShutdownFunc, error) {
	return initWithWriter(ctx, cfg, os.Stdout, logger)
}

func initWithWriter(ctx context.Context, cfg config.TracingConfig, out io.Writer, logger *utils.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = utils.Nop()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		logger.Debug("Tracing disabled, using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := exporterFromConfig(ctx, cfg, out)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.namespace", "drone-sim"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	logger.WithFields(map[string]interface{}{
		"exporter":     cfg.Exporter,
		"service_name": cfg.ServiceName,
		"sample_ratio": cfg.SampleRatio,
	}).Info("Tracing enabled")

	return tp.Shutdown, nil
}

func exporterFromConfig(ctx context.Context, cfg config.TracingConfig, out io.Writer) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout вызывает shutdown с ограничением по времени, ошибки только логируются
func ShutdownWithTimeout(ctx context.Context, shutdown ShutdownFunc, timeout time.Duration, logger *utils.Logger) {
	if shutdown == nil {
		return
	}
	if logger == nil {
		logger = utils.Nop()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Tracing shutdown failed")
	}
}
