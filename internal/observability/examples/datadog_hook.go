package examples

import (
	"context"

	"github.com/x402-protocol/core/internal/observability"
)

// DataDogHook emits events to DataDog APM.
// This is a template implementation - requires DataDog SDK integration.
//
// To use this hook:
//  1. Import DataDog SDK: "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
//  2. Initialize DataDog tracer in main()
//  3. Register this hook with the observability registry
//
// Example integration:
//
//	import "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
//
//	func main() {
//	    tracer.Start(tracer.WithService("x402-resource-server"))
//	    defer tracer.Stop()
//
//	    hook := examples.NewDataDogHook()
//	    registry.RegisterPaymentHook(hook)
//	}
type DataDogHook struct {
	// Add DataDog tracer reference here when integrating
	// tracer ddtrace.Tracer
}

// NewDataDogHook creates a hook that emits events to DataDog.
func NewDataDogHook() *DataDogHook {
	return &DataDogHook{}
}

func (h *DataDogHook) Name() string {
	return "datadog"
}

// ===============================================
// RouteHook Implementation
// ===============================================

func (h *DataDogHook) OnRouteMatched(ctx context.Context, event observability.RouteMatchedEvent) {
	// span, _ := tracer.StartSpanFromContext(ctx, "route.matched",
	//     tracer.Tag("route.method", event.Method),
	//     tracer.Tag("route.path", event.Path),
	//     tracer.Tag("route.resource", event.Resource),
	// )
	// defer span.Finish()
}

// ===============================================
// PaymentHook Implementation
// ===============================================

func (h *DataDogHook) OnVerifyStarted(ctx context.Context, event observability.VerifyStartedEvent) {
	// Example DataDog integration:
	//
	// span, ctx := tracer.StartSpanFromContext(ctx, "x402.verify",
	//     tracer.Tag("x402.scheme", event.Scheme),
	//     tracer.Tag("x402.network", event.Network),
	//     tracer.Tag("x402.resource", event.Resource),
	//     tracer.Tag("x402.amount", event.Amount),
	// )
	// defer span.Finish()
	//
	// // Store span in context for OnVerifyCompleted
	// ctx = context.WithValue(ctx, "datadog_span", span)
}

func (h *DataDogHook) OnVerifyCompleted(ctx context.Context, event observability.VerifyCompletedEvent) {
	// span, ok := ctx.Value("datadog_span").(ddtrace.Span)
	// if !ok {
	//     return
	// }
	//
	// span.SetTag("x402.is_valid", event.IsValid)
	// span.SetTag("x402.payer", event.Payer)
	// span.SetTag("x402.duration_ms", event.Duration.Milliseconds())
	//
	// if !event.IsValid {
	//     span.SetTag("error", true)
	//     span.SetTag("error.msg", event.InvalidReason)
	// }
}

func (h *DataDogHook) OnSettleStarted(ctx context.Context, event observability.SettleStartedEvent) {
	// span, _ := tracer.StartSpanFromContext(ctx, "x402.settle",
	//     tracer.Tag("x402.scheme", event.Scheme),
	//     tracer.Tag("x402.network", event.Network),
	//     tracer.Tag("x402.payer", event.Payer),
	// )
	// defer span.Finish()
}

func (h *DataDogHook) OnSettleCompleted(ctx context.Context, event observability.SettleCompletedEvent) {
	// span.SetTag("x402.success", event.Success)
	// span.SetTag("x402.tx_id", event.TransactionID)
	// span.SetTag("x402.duration_ms", event.Duration.Milliseconds())
}

// ===============================================
// RPCHook Implementation
// ===============================================

func (h *DataDogHook) OnRPCCall(ctx context.Context, event observability.RPCCallEvent) {
	// Track RPC calls to blockchain with latency
}

// ===============================================
// DatabaseHook Implementation
// ===============================================

func (h *DataDogHook) OnDatabaseQuery(ctx context.Context, event observability.DatabaseQueryEvent) {
	// Track database query performance
}
