package middleware

import (
	"context"
	"fmt"
	"os"
	"time"

	"right-rider/infra"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

type OtelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // 空白時使用 stdout exporter
	SampleRatio    float64
	Enabled        bool
}

// NewOtelConfig 由 tracing 設定區段建立，OTEL_EXPORTER_OTLP_ENDPOINT 優先
func NewOtelConfig(serviceName string, cfg infra.Config) OtelConfig {
	endpoint := cfg.Tracing.OTLPEndpoint
	if env := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); env != "" {
		endpoint = env
	}
	return OtelConfig{
		ServiceName:    serviceName,
		ServiceVersion: cfg.App.AppVersion,
		Environment:    infra.Environment(),
		OTLPEndpoint:   endpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Enabled:        cfg.Tracing.Enabled,
	}
}

func (c OtelConfig) sampler() sdktrace.Sampler {
	if c.SampleRatio <= 0 || c.SampleRatio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

func newSpanExporter(ctx context.Context, config OtelConfig) (sdktrace.SpanExporter, error) {
	if config.OTLPEndpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
}

// InitOpenTelemetry 安裝 tracer provider，回傳清理函數
func InitOpenTelemetry(config OtelConfig, logger zerolog.Logger) (func(), error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !config.Enabled {
		return func() {}, nil
	}

	exporter, err := newSpanExporter(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("建立 trace exporter 失敗: %w", err)
	}

	hostname, _ := os.Hostname()
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(config.ServiceName),
		semconv.ServiceVersionKey.String(config.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(config.Environment),
		semconv.ServiceInstanceIDKey.String(fmt.Sprintf("%s-%d", hostname, os.Getpid())),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(config.sampler()),
	)
	otel.SetTracerProvider(tp)

	exporterName := "stdout"
	if config.OTLPEndpoint != "" {
		exporterName = "otlp-grpc"
	}
	logger.Info().
		Str("exporter", exporterName).
		Str("endpoint", config.OTLPEndpoint).
		Float64("sample_ratio", config.SampleRatio).
		Msg("OpenTelemetry 初始化成功")

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("OpenTelemetry 關閉失敗")
		}
	}, nil
}

// OpenTelemetryMiddleware 為每個 API 請求建立 server span，span 名稱取 operation 路徑樣板
func OpenTelemetryMiddleware(config OtelConfig) func(huma.Context, func(huma.Context)) {
	if !config.Enabled {
		return func(ctx huma.Context, next func(huma.Context)) {
			next(ctx)
		}
	}

	tracer := otel.Tracer(config.ServiceName + "/api")

	return func(ctx huma.Context, next func(huma.Context)) {
		parentCtx := otel.GetTextMapPropagator().Extract(ctx.Context(), &HeaderCarrier{ctx: ctx})

		route := ctx.URL().Path
		if op := ctx.Operation(); op != nil {
			route = op.Path
		}
		spanCtx, span := tracer.Start(parentCtx, ctx.Method()+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(ctx.Method()),
				semconv.HTTPRouteKey.String(route),
				attribute.String("net.peer.ip", ctx.RemoteAddr()),
			),
		)
		defer span.End()

		ctx.SetHeader("X-Trace-ID", span.SpanContext().TraceID().String())

		next(huma.WithContext(ctx, spanCtx))

		status := ctx.Status()
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}

// HeaderCarrier 將 huma.Context 轉為 propagation.TextMapCarrier
type HeaderCarrier struct {
	ctx huma.Context
}

func (h *HeaderCarrier) Get(key string) string {
	return h.ctx.Header(key)
}

func (h *HeaderCarrier) Set(key, value string) {
	h.ctx.SetHeader(key, value)
}

func (h *HeaderCarrier) Keys() []string {
	return []string{"traceparent", "tracestate", "baggage"}
}
