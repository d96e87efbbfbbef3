package cedros

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/x402-protocol/core/internal/config"
)

// TestNewApp_WiresDefaultConfig builds exactly one App for the whole package
// test binary: internal/metrics.New registers its collectors against
// prometheus.DefaultRegisterer, so a second NewApp call in the same process
// would panic on duplicate registration. Every assertion about NewApp's
// wiring lives in this single test as a result.
func TestNewApp_WiresDefaultConfig(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load(\"\") error = %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer app.Close()

	if app.Registry == nil {
		t.Error("Registry should be populated from cfg.Chains")
	}
	if app.Nonces == nil {
		t.Error("Nonces should default to a memory-backed store")
	}
	if app.Idempotency == nil {
		t.Error("Idempotency store should always be constructed")
	}
	if app.Receipts == nil {
		t.Error("Receipts store should default to a memory-backed store")
	}
	if app.Facilitator == nil {
		t.Fatal("Facilitator engine should always be constructed")
	}
	if app.Facilitator.Negotiator == nil {
		t.Error("Facilitator.Negotiator should be wired to the negotiated scheme engine")
	}
	if app.Facilitator.Receipts != app.Receipts {
		t.Error("Facilitator.Receipts should be the same store as App.Receipts")
	}
	if app.ResourceServer == nil {
		t.Fatal("ResourceServer engine should always be constructed")
	}

	t.Run("facilitator routes are mounted", func(t *testing.T) {
		mux, ok := app.Router().(*chi.Mux)
		if !ok {
			t.Fatalf("Router() = %T, want *chi.Mux", app.Router())
		}
		found := map[string]bool{}
		_ = chi.Walk(mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			found[route] = true
			return nil
		})
		for _, path := range []string{"/facilitator/supported", "/facilitator/verify", "/facilitator/settle"} {
			if !found[path] {
				t.Errorf("expected route %s to be mounted under /facilitator", path)
			}
		}
	})

	t.Run("unprotected requests pass through the resource-server middleware", func(t *testing.T) {
		app.Router().Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 for a route absent from cfg.ResourceServer.Routes", rec.Code)
		}
	})

	t.Run("facilitator supported endpoint responds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/facilitator/supported", nil)
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 from GET /facilitator/supported", rec.Code)
		}
	})
}

func TestCorsOrigins_DefaultsToWildcard(t *testing.T) {
	if got := corsOrigins(nil); len(got) != 1 || got[0] != "*" {
		t.Fatalf("corsOrigins(nil) = %v, want [\"*\"]", got)
	}
}

func TestCorsOrigins_PassesThroughConfiguredList(t *testing.T) {
	origins := []string{"https://example.com"}
	got := corsOrigins(origins)
	if len(got) != 1 || got[0] != "https://example.com" {
		t.Fatalf("corsOrigins(%v) = %v, want it returned unchanged", origins, got)
	}
}
