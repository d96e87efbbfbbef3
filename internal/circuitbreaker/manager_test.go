package circuitbreaker

import (
	"errors"
	"testing"
)

func testBreaker(consecutiveFailures uint32) BreakerConfig {
	return BreakerConfig{MaxRequests: 1, ConsecutiveFailures: consecutiveFailures}
}

func TestManager_DisabledPassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	calls := 0
	_, err := m.Execute(ServiceEVMRPC, func() (interface{}, error) {
		calls++
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1", calls)
	}
	if m.State(ServiceEVMRPC) != "disabled" {
		t.Fatalf("State() = %q, want disabled", m.State(ServiceEVMRPC))
	}
}

func TestManager_TripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager(Config{Enabled: true, EVMRPC: testBreaker(2)})
	failFn := func() (interface{}, error) { return nil, errors.New("rpc down") }

	for i := 0; i < 2; i++ {
		if _, err := m.Execute(ServiceEVMRPC, failFn); err == nil {
			t.Fatal("Execute() should propagate the underlying failure")
		}
	}

	if m.State(ServiceEVMRPC) != "open" {
		t.Fatalf("State() = %q, want open after consecutive failures trip the breaker", m.State(ServiceEVMRPC))
	}

	_, err := m.Execute(ServiceEVMRPC, func() (interface{}, error) { return "ok", nil })
	if err == nil {
		t.Fatal("Execute() on an open breaker should short-circuit without calling fn")
	}
}

func TestManager_UnconfiguredServicePassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: true})
	if _, err := m.Execute(ServiceType("unknown"), func() (interface{}, error) { return nil, nil }); err != nil {
		t.Fatalf("Execute() for an unconfigured service should pass through: %v", err)
	}
	if m.State(ServiceType("unknown")) != "not_configured" {
		t.Fatalf("State() = %q, want not_configured", m.State(ServiceType("unknown")))
	}
}

func TestManager_CountsTrackRequests(t *testing.T) {
	m := NewManager(Config{Enabled: true, EVMRPC: testBreaker(5)})
	_, _ = m.Execute(ServiceEVMRPC, func() (interface{}, error) { return "ok", nil })
	_, _ = m.Execute(ServiceEVMRPC, func() (interface{}, error) { return nil, errors.New("fail") })

	counts := m.Counts(ServiceEVMRPC)
	if counts.Requests != 2 {
		t.Fatalf("Requests = %d, want 2", counts.Requests)
	}
	if counts.TotalSuccesses != 1 || counts.TotalFailures != 1 {
		t.Fatalf("Counts = %+v, want 1 success and 1 failure", counts)
	}
}

func TestDefaultConfig_EnablesAllServices(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled {
		t.Fatal("DefaultConfig() should enable circuit breakers")
	}
	if cfg.Webhook.MinRequests != 20 {
		t.Fatalf("Webhook.MinRequests = %d, want 20 (more tolerant default)", cfg.Webhook.MinRequests)
	}
}
