package examples

import (
	"context"

	"github.com/x402-protocol/core/internal/observability"
	"github.com/rs/zerolog"
)

// LoggingHook logs all observability events using zerolog.
// Useful for debugging and development environments.
type LoggingHook struct {
	logger zerolog.Logger
}

// NewLoggingHook creates a hook that logs all events.
func NewLoggingHook(logger zerolog.Logger) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

// ===============================================
// RouteHook Implementation
// ===============================================

func (h *LoggingHook) OnRouteMatched(ctx context.Context, event observability.RouteMatchedEvent) {
	h.logger.Debug().
		Str("method", event.Method).
		Str("path", event.Path).
		Str("resource", event.Resource).
		Msg("route matched")
}

// ===============================================
// PaymentHook Implementation
// ===============================================

func (h *LoggingHook) OnVerifyStarted(ctx context.Context, event observability.VerifyStartedEvent) {
	h.logger.Debug().
		Str("scheme", event.Scheme).
		Str("network", event.Network).
		Str("resource", event.Resource).
		Str("amount", event.Amount).
		Str("asset", event.Asset).
		Msg("verify started")
}

func (h *LoggingHook) OnVerifyCompleted(ctx context.Context, event observability.VerifyCompletedEvent) {
	log := h.logger.Info()
	if !event.IsValid {
		log = h.logger.Warn().Str("invalid_reason", event.InvalidReason)
	}

	log.Str("scheme", event.Scheme).
		Str("network", event.Network).
		Str("resource", event.Resource).
		Bool("is_valid", event.IsValid).
		Str("payer", event.Payer).
		Dur("duration", event.Duration).
		Msg("verify completed")
}

func (h *LoggingHook) OnSettleStarted(ctx context.Context, event observability.SettleStartedEvent) {
	h.logger.Debug().
		Str("scheme", event.Scheme).
		Str("network", event.Network).
		Str("resource", event.Resource).
		Str("payer", event.Payer).
		Msg("settle started")
}

func (h *LoggingHook) OnSettleCompleted(ctx context.Context, event observability.SettleCompletedEvent) {
	log := h.logger.Info()
	if !event.Success {
		log = h.logger.Warn().Str("error_reason", event.ErrorReason)
	}

	log.Str("scheme", event.Scheme).
		Str("network", event.Network).
		Str("resource", event.Resource).
		Bool("success", event.Success).
		Str("payer", event.Payer).
		Str("tx_id", event.TransactionID).
		Dur("duration", event.Duration).
		Msg("settle completed")
}

// ===============================================
// RPCHook Implementation
// ===============================================

func (h *LoggingHook) OnRPCCall(ctx context.Context, event observability.RPCCallEvent) {
	log := h.logger.Debug()
	if !event.Success {
		log = h.logger.Warn().Str("error_type", event.ErrorType)
	}

	log.Str("method", event.Method).
		Str("network", event.Network).
		Dur("duration", event.Duration).
		Bool("success", event.Success).
		Msg("RPC call")
}

// ===============================================
// DatabaseHook Implementation
// ===============================================

func (h *LoggingHook) OnDatabaseQuery(ctx context.Context, event observability.DatabaseQueryEvent) {
	log := h.logger.Debug()
	if !event.Success {
		log = h.logger.Warn().Str("error", event.Error)
	}

	log.Str("operation", event.Operation).
		Str("backend", event.Backend).
		Dur("duration", event.Duration).
		Bool("success", event.Success).
		Msg("database query")
}
