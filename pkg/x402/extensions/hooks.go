// Package extensions implements the optional pre/post behavior attached
// around the resource-server engine's pipeline stages (§4.8): signed
// offers/receipts (offerreceipt), EIP-2612 gas sponsorship (gassponsor), and
// discovery/bazaar publishing (bazaar). Negotiated pricing is its own scheme
// package (pkg/x402/schemes/negotiated) since it participates in
// verify/settle dispatch rather than wrapping it.
//
// Grounded on CedrosPay's internal/observability Hook/Registry dispatch and
// panic-recovery pattern, generalized from purely observational SaaS events
// to a hook chain that can abort a pipeline stage or recover it with a
// substitute result, per §4.8: "A hook MAY abort with {abort:true, reason}
// or recover with {recovered:true, result}."
package extensions

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/x402-protocol/core/pkg/x402"
)

// Stage identifies one of the resource-server engine's extension points.
type Stage string

const (
	StageRouteMatched    Stage = "route_matched"    // §4.6 step 2
	StageBeforeVerify    Stage = "before_verify"    // §4.8
	StageAfterVerify     Stage = "after_verify"     // §4.8
	StageVerifyFailure   Stage = "verify_failure"   // §4.8
	StageBeforeExecution Stage = "before_execution" // §4.6 step 8
	StageBeforeSettle    Stage = "before_settle"    // §4.8
	StageAfterSettle     Stage = "after_settle"     // §4.8
	StageSettleFailure   Stage = "settle_failure"   // §4.8
	StageAfterSettlement Stage = "after_settlement" // §4.6 step 11
)

// Event carries the pipeline state visible to a hook at a given stage. Not
// every field is populated at every stage; e.g. VerifyResult is nil before
// StageAfterVerify.
type Event struct {
	Stage        Stage
	Route        x402.RouteConfig
	Requirement  x402.PaymentRequirements
	Payload      x402.PaymentPayload
	VerifyResult *x402.VerifyResponse
	SettleResult *x402.SettleResponse
	Err          error
}

// Decision is a hook's response to an Event. The zero value continues the
// pipeline unchanged.
type Decision struct {
	// Abort stops the pipeline and returns a 402 with AbortReason as the
	// error code.
	Abort       bool
	AbortReason string

	// Recovered substitutes RecoveredVerify/RecoveredSettle for the stage's
	// natural outcome, letting a hook paper over a transient facilitator
	// failure (e.g. a cached prior verification).
	Recovered       bool
	RecoveredVerify *x402.VerifyResponse
	RecoveredSettle *x402.SettleResponse
}

// Hook is one extension's participation in the pipeline. A single Hook
// implementation may be registered for multiple stages; Handle inspects
// event.Stage to decide what to do.
type Hook interface {
	Name() string
	Handle(ctx context.Context, event Event) (Decision, error)
}

// Registry dispatches pipeline events to the hooks registered for each
// stage, in registration order, stopping at the first Abort or Recovered
// decision. A panicking hook is recovered and logged, then treated as a
// no-op so one broken extension cannot take down the resource server.
type Registry struct {
	mu     sync.RWMutex
	hooks  map[Stage][]Hook
	logger zerolog.Logger
}

// NewRegistry creates an empty extension hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{hooks: make(map[Stage][]Hook), logger: logger}
}

// Register adds hook to the given stage's chain.
func (r *Registry) Register(stage Stage, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[stage] = append(r.hooks[stage], hook)
	r.logger.Info().Str("hook", hook.Name()).Str("stage", string(stage)).Msg("registered extension hook")
}

// Run invokes every hook registered for stage against event, in order,
// returning the first non-zero Decision. If no hook aborts or recovers, the
// zero Decision is returned and the engine proceeds normally.
func (r *Registry) Run(ctx context.Context, stage Stage, event Event) (decision Decision, err error) {
	r.mu.RLock()
	hooks := r.hooks[stage]
	r.mu.RUnlock()

	event.Stage = stage

	for _, hook := range hooks {
		d, hookErr := r.invoke(ctx, hook, event)
		if hookErr != nil {
			return Decision{}, hookErr
		}
		if d.Abort || d.Recovered {
			return d, nil
		}
	}
	return Decision{}, nil
}

func (r *Registry) invoke(ctx context.Context, hook Hook, event Event) (d Decision, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("hook", hook.Name()).
				Str("stage", string(event.Stage)).
				Interface("panic", p).
				Msg("extension hook panicked (recovered)")
			d, err = Decision{}, nil
		}
	}()
	return hook.Handle(ctx, event)
}
