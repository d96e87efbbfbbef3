package examples

import (
	"context"

	"github.com/x402-protocol/core/internal/observability"
)

// OpenTelemetryHook emits events to OpenTelemetry traces.
// This is a template implementation - requires OpenTelemetry SDK integration.
//
// To use this hook:
//  1. Import OpenTelemetry SDK: "go.opentelemetry.io/otel"
//  2. Initialize OTEL tracer provider in main()
//  3. Register this hook with the observability registry
//
// Example integration:
//
//	import (
//	    "go.opentelemetry.io/otel"
//	    "go.opentelemetry.io/otel/exporters/jaeger"
//	    "go.opentelemetry.io/otel/sdk/trace"
//	)
//
//	func main() {
//	    exporter, _ := jaeger.New(jaeger.WithCollectorEndpoint())
//	    tp := trace.NewTracerProvider(trace.WithBatcher(exporter))
//	    otel.SetTracerProvider(tp)
//
//	    hook := examples.NewOpenTelemetryHook()
//	    registry.RegisterPaymentHook(hook)
//	}
type OpenTelemetryHook struct {
	// Add OTEL tracer reference here when integrating
	// tracer trace.Tracer
}

// NewOpenTelemetryHook creates a hook that emits events to OpenTelemetry.
func NewOpenTelemetryHook() *OpenTelemetryHook {
	return &OpenTelemetryHook{}
}

func (h *OpenTelemetryHook) Name() string {
	return "opentelemetry"
}

// ===============================================
// RouteHook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnRouteMatched(ctx context.Context, event observability.RouteMatchedEvent) {
	// ctx, span := h.tracer.Start(ctx, "route.matched",
	//     trace.WithAttributes(
	//         attribute.String("route.method", event.Method),
	//         attribute.String("route.path", event.Path),
	//         attribute.String("route.resource", event.Resource),
	//     ),
	// )
	// defer span.End()
}

// ===============================================
// PaymentHook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnVerifyStarted(ctx context.Context, event observability.VerifyStartedEvent) {
	// Example OpenTelemetry integration:
	//
	// ctx, span := h.tracer.Start(ctx, "x402.verify",
	//     trace.WithAttributes(
	//         attribute.String("x402.scheme", event.Scheme),
	//         attribute.String("x402.network", event.Network),
	//         attribute.String("x402.resource", event.Resource),
	//         attribute.String("x402.amount", event.Amount),
	//     ),
	// )
	// defer span.End()
	//
	// // Store span in context for OnVerifyCompleted
	// ctx = context.WithValue(ctx, "otel_span", span)
}

func (h *OpenTelemetryHook) OnVerifyCompleted(ctx context.Context, event observability.VerifyCompletedEvent) {
	// span, ok := ctx.Value("otel_span").(trace.Span)
	// if !ok {
	//     return
	// }
	//
	// span.SetAttributes(
	//     attribute.Bool("x402.is_valid", event.IsValid),
	//     attribute.String("x402.payer", event.Payer),
	//     attribute.Int64("x402.duration_ms", event.Duration.Milliseconds()),
	// )
	//
	// if !event.IsValid {
	//     span.RecordError(fmt.Errorf("verify failed: %s", event.InvalidReason))
	//     span.SetStatus(codes.Error, event.InvalidReason)
	// } else {
	//     span.SetStatus(codes.Ok, "verified")
	// }
}

func (h *OpenTelemetryHook) OnSettleStarted(ctx context.Context, event observability.SettleStartedEvent) {
	// ctx, span := h.tracer.Start(ctx, "x402.settle",
	//     trace.WithAttributes(
	//         attribute.String("x402.scheme", event.Scheme),
	//         attribute.String("x402.network", event.Network),
	//         attribute.String("x402.payer", event.Payer),
	//     ),
	// )
	// defer span.End()
}

func (h *OpenTelemetryHook) OnSettleCompleted(ctx context.Context, event observability.SettleCompletedEvent) {
	// span.SetAttributes(
	//     attribute.Bool("x402.success", event.Success),
	//     attribute.String("x402.tx_id", event.TransactionID),
	//     attribute.Int64("x402.duration_ms", event.Duration.Milliseconds()),
	// )
}

// ===============================================
// RPCHook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnRPCCall(ctx context.Context, event observability.RPCCallEvent) {
	// Track RPC call as child span with latency
}

// ===============================================
// DatabaseHook Implementation
// ===============================================

func (h *OpenTelemetryHook) OnDatabaseQuery(ctx context.Context, event observability.DatabaseQueryEvent) {
	// Track database queries with operation and backend
}
