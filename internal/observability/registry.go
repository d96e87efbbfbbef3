package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages a collection of observability hooks.
// It safely dispatches events to all registered hooks with error handling.
type Registry struct {
	paymentHooks  []PaymentHook
	routeHooks    []RouteHook
	rpcHooks      []RPCHook
	databaseHooks []DatabaseHook
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// RegisterPaymentHook adds a payment hook to the registry.
func (r *Registry) RegisterPaymentHook(hook PaymentHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paymentHooks = append(r.paymentHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered payment hook")
}

// RegisterRouteHook adds a route hook to the registry.
func (r *Registry) RegisterRouteHook(hook RouteHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routeHooks = append(r.routeHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered route hook")
}

// RegisterRPCHook adds an RPC hook to the registry.
func (r *Registry) RegisterRPCHook(hook RPCHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rpcHooks = append(r.rpcHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered RPC hook")
}

// RegisterDatabaseHook adds a database hook to the registry.
func (r *Registry) RegisterDatabaseHook(hook DatabaseHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.databaseHooks = append(r.databaseHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered database hook")
}

// ===============================================
// Route Hook Dispatchers
// ===============================================

// EmitRouteMatched dispatches the event to all route hooks.
func (r *Registry) EmitRouteMatched(ctx context.Context, event RouteMatchedEvent) {
	r.mu.RLock()
	hooks := r.routeHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnRouteMatched", hook.Name())
			hook.OnRouteMatched(ctx, event)
		}()
	}
}

// ===============================================
// Payment Hook Dispatchers
// ===============================================

// EmitVerifyStarted dispatches the event to all payment hooks.
func (r *Registry) EmitVerifyStarted(ctx context.Context, event VerifyStartedEvent) {
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnVerifyStarted", hook.Name())
			hook.OnVerifyStarted(ctx, event)
		}()
	}
}

// EmitVerifyCompleted dispatches the event to all payment hooks.
func (r *Registry) EmitVerifyCompleted(ctx context.Context, event VerifyCompletedEvent) {
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnVerifyCompleted", hook.Name())
			hook.OnVerifyCompleted(ctx, event)
		}()
	}
}

// EmitSettleStarted dispatches the event to all payment hooks.
func (r *Registry) EmitSettleStarted(ctx context.Context, event SettleStartedEvent) {
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnSettleStarted", hook.Name())
			hook.OnSettleStarted(ctx, event)
		}()
	}
}

// EmitSettleCompleted dispatches the event to all payment hooks.
func (r *Registry) EmitSettleCompleted(ctx context.Context, event SettleCompletedEvent) {
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnSettleCompleted", hook.Name())
			hook.OnSettleCompleted(ctx, event)
		}()
	}
}

// ===============================================
// RPC Hook Dispatchers
// ===============================================

// EmitRPCCall dispatches the event to all RPC hooks.
func (r *Registry) EmitRPCCall(ctx context.Context, event RPCCallEvent) {
	r.mu.RLock()
	hooks := r.rpcHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnRPCCall", hook.Name())
			hook.OnRPCCall(ctx, event)
		}()
	}
}

// ===============================================
// Database Hook Dispatchers
// ===============================================

// EmitDatabaseQuery dispatches the event to all database hooks.
func (r *Registry) EmitDatabaseQuery(ctx context.Context, event DatabaseQueryEvent) {
	r.mu.RLock()
	hooks := r.databaseHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnDatabaseQuery", hook.Name())
			hook.OnDatabaseQuery(ctx, event)
		}()
	}
}

// ===============================================
// Error Recovery
// ===============================================

// recoverPanic recovers from panics in hook implementations.
// This ensures one bad hook doesn't crash the entire system.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability hook panicked (recovered)")
	}
}
