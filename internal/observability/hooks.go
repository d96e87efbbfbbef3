package observability

import (
	"context"
	"time"
)

// Hook is the base interface for all observability hooks.
// Implementations can emit events to DataDog, New Relic, OpenTelemetry, etc.
type Hook interface {
	// Name returns the hook's identifier for logging/debugging
	Name() string
}

// PaymentHook receives events during the resource-server and facilitator
// verify/settle lifecycle (§4.6, §4.7). Unlike pkg/x402/extensions.Hook,
// these are pure observers: they cannot abort or recover a pipeline step.
type PaymentHook interface {
	Hook

	// OnVerifyStarted is called before a scheme's Verify is invoked.
	OnVerifyStarted(ctx context.Context, event VerifyStartedEvent)

	// OnVerifyCompleted is called after Verify returns, success or failure.
	OnVerifyCompleted(ctx context.Context, event VerifyCompletedEvent)

	// OnSettleStarted is called before a scheme's Settle is invoked.
	OnSettleStarted(ctx context.Context, event SettleStartedEvent)

	// OnSettleCompleted is called after Settle returns, success or failure.
	OnSettleCompleted(ctx context.Context, event SettleCompletedEvent)
}

// RouteHook receives events as the resource-server engine matches incoming
// requests against configured routes (§4.6 step 1-2).
type RouteHook interface {
	Hook

	// OnRouteMatched is called once a request matches a protected route,
	// before payment requirements are built.
	OnRouteMatched(ctx context.Context, event RouteMatchedEvent)
}

// RPCHook receives events from blockchain/mint/LND RPC calls made by scheme
// facilitators.
type RPCHook interface {
	Hook

	// OnRPCCall is called after an RPC call completes.
	OnRPCCall(ctx context.Context, event RPCCallEvent)
}

// DatabaseHook receives events from database operations (nonce store,
// idempotency cache).
type DatabaseHook interface {
	Hook

	// OnDatabaseQuery is called for database queries.
	OnDatabaseQuery(ctx context.Context, event DatabaseQueryEvent)
}

// ===============================================
// Event Types
// ===============================================

// RouteMatchedEvent is emitted when a request matches a protected route.
type RouteMatchedEvent struct {
	Timestamp time.Time
	Method    string
	Path      string
	Resource  string
}

// VerifyStartedEvent is emitted before a scheme's Verify call.
type VerifyStartedEvent struct {
	Timestamp time.Time
	Scheme    string
	Network   string
	Resource  string
	Amount    string // atomic-unit decimal string
	Asset     string
}

// VerifyCompletedEvent is emitted after a scheme's Verify call returns.
type VerifyCompletedEvent struct {
	Timestamp     time.Time
	Scheme        string
	Network       string
	Resource      string
	IsValid       bool
	InvalidReason string // set if IsValid=false
	Payer         string
	Duration      time.Duration
}

// SettleStartedEvent is emitted before a scheme's Settle call.
type SettleStartedEvent struct {
	Timestamp time.Time
	Scheme    string
	Network   string
	Resource  string
	Payer     string
}

// SettleCompletedEvent is emitted after a scheme's Settle call returns.
type SettleCompletedEvent struct {
	Timestamp     time.Time
	Scheme        string
	Network       string
	Resource      string
	Success       bool
	ErrorReason   string // set if Success=false
	Payer         string
	TransactionID string
	Duration      time.Duration
}

// RPCCallEvent is emitted for blockchain/mint/LND RPC calls.
type RPCCallEvent struct {
	Timestamp time.Time
	Method    string // "eth_call", "getTransaction", "checkstate", etc.
	Network   string // CAIP-2 network identifier
	Duration  time.Duration
	Success   bool
	ErrorType string // "timeout", "rate_limit", "connection", "not_found", "other"
	Metadata  map[string]string
}

// DatabaseQueryEvent is emitted for database operations.
type DatabaseQueryEvent struct {
	Timestamp time.Time
	Operation string // "reserve_nonce", "release_nonce", "prune_expired", etc.
	Backend   string // "postgres", "mongodb", "memory"
	Duration  time.Duration
	Success   bool
	Error     string
	Metadata  map[string]string
}
