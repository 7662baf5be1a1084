package infra

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName = "right-rider"
)

// 監看流程使用的 span 屬性鍵
const (
	attrKeyOrderID       = "order.id"
	attrKeyDriverID      = "driver.id"
	attrKeyResolveSource = "watch.resolve_source"
	attrKeyOrderStatus   = "order.status"
	attrKeyOperation     = "watch.operation"
)

func tracer() trace.Tracer {
	return otel.Tracer(ServiceName + "/watcher")
}

// StartPollSpan 每次輪詢 /orders/active 的 span
func StartPollSpan(ctx context.Context, orderID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "order_watcher.poll",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrKeyOperation, "poll"),
			attribute.String(attrKeyOrderID, orderID),
		),
	)
}

// StartResolveSpan 判定司機已指派並導航的 span
func StartResolveSpan(ctx context.Context, orderID, driverID, source string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "order_watcher.resolve",
		trace.WithAttributes(
			attribute.String(attrKeyOperation, "resolve"),
			attribute.String(attrKeyOrderID, orderID),
			attribute.String(attrKeyDriverID, driverID),
			attribute.String(attrKeyResolveSource, source),
		),
	)
}

// EndPollSpan 依輪詢結果設定狀態後結束 span
func EndPollSpan(span trace.Span, status string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "輪詢訂單狀態失敗")
	} else {
		if status != "" {
			span.SetAttributes(attribute.String(attrKeyOrderStatus, status))
		}
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
