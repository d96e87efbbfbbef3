package observability

import (
	"context"

	"github.com/x402-protocol/core/internal/metrics"
)

// PrometheusHook adapts the x402 pipeline events to the Prometheus metrics
// collectors in internal/metrics, the same adapter role it played over the
// teacher's payment/webhook/refund events.
type PrometheusHook struct {
	metrics *metrics.Metrics
}

// NewPrometheusHook creates a hook that emits events to Prometheus metrics.
func NewPrometheusHook(m *metrics.Metrics) *PrometheusHook {
	return &PrometheusHook{metrics: m}
}

func (h *PrometheusHook) Name() string {
	return "prometheus"
}

// ===============================================
// PaymentHook Implementation
// ===============================================

func (h *PrometheusHook) OnVerifyStarted(ctx context.Context, event VerifyStartedEvent) {
	// Prometheus doesn't track "started" events separately - only completions
}

func (h *PrometheusHook) OnVerifyCompleted(ctx context.Context, event VerifyCompletedEvent) {
	if !event.IsValid {
		h.metrics.ObservePaymentFailure(event.Scheme, event.Resource, event.InvalidReason)
	}
}

func (h *PrometheusHook) OnSettleStarted(ctx context.Context, event SettleStartedEvent) {
	// Prometheus doesn't track "started" events separately
}

func (h *PrometheusHook) OnSettleCompleted(ctx context.Context, event SettleCompletedEvent) {
	h.metrics.ObservePayment(event.Scheme, event.Resource, event.Success, event.Duration, 0, event.Network)
	if event.Success {
		h.metrics.ObserveSettlement(event.Network, event.Duration)
	} else if event.ErrorReason != "" {
		h.metrics.ObservePaymentFailure(event.Scheme, event.Resource, event.ErrorReason)
	}
}

// ===============================================
// RouteHook Implementation
// ===============================================

func (h *PrometheusHook) OnRouteMatched(ctx context.Context, event RouteMatchedEvent) {
	// Route matches are not independently metered; verify/settle counters
	// downstream already key on resource.
}

// ===============================================
// RPCHook Implementation
// ===============================================

func (h *PrometheusHook) OnRPCCall(ctx context.Context, event RPCCallEvent) {
	var err error
	if !event.Success {
		err = &rpcError{errorType: event.ErrorType}
	}
	h.metrics.ObserveRPCCall(event.Method, event.Network, event.Duration, err)
}

// ===============================================
// DatabaseHook Implementation
// ===============================================

func (h *PrometheusHook) OnDatabaseQuery(ctx context.Context, event DatabaseQueryEvent) {
	h.metrics.ObserveDBQuery(event.Operation, event.Backend, event.Duration)
}

// rpcError is a minimal error type for Prometheus hook.
type rpcError struct {
	errorType string
}

func (e *rpcError) Error() string {
	return e.errorType
}
