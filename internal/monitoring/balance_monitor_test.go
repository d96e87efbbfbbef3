package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/x402-protocol/core/internal/config"
)

func testMonitor(t *testing.T, alertURL string) *BalanceMonitor {
	t.Helper()
	cfg := &config.Config{
		Monitoring: config.MonitoringConfig{
			LowBalanceAlertURL:  alertURL,
			LowBalanceThreshold: 0.01,
			Headers:             map[string]string{},
			Timeout:             config.Duration{Duration: 2 * time.Second},
		},
	}
	wallet, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("NewRandomPrivateKey() error = %v", err)
	}
	return NewBalanceMonitor(cfg, nil, []solana.PrivateKey{wallet})
}

func TestNewBalanceMonitor_ExtractsPublicKeysFromWallets(t *testing.T) {
	m := testMonitor(t, "")
	if len(m.wallets) != 1 {
		t.Fatalf("wallets = %d, want 1", len(m.wallets))
	}
}

func TestShouldAlert_FirstTimeIsTrue(t *testing.T) {
	m := testMonitor(t, "")
	if !m.shouldAlert("wallet-a") {
		t.Fatal("shouldAlert() should be true the first time a wallet is seen")
	}
}

func TestShouldAlert_FalseWithinCooldownWindow(t *testing.T) {
	m := testMonitor(t, "")
	m.alertedKeys["wallet-a"] = time.Now()
	if m.shouldAlert("wallet-a") {
		t.Fatal("shouldAlert() should be false within the 24h cooldown")
	}
}

func TestShouldAlert_TrueAfterCooldownExpires(t *testing.T) {
	m := testMonitor(t, "")
	m.alertedKeys["wallet-a"] = time.Now().Add(-25 * time.Hour)
	if !m.shouldAlert("wallet-a") {
		t.Fatal("shouldAlert() should be true once the cooldown has elapsed")
	}
}

func TestClearAlert_RemovesHistory(t *testing.T) {
	m := testMonitor(t, "")
	m.alertedKeys["wallet-a"] = time.Now()
	m.clearAlert("wallet-a")
	if _, exists := m.alertedKeys["wallet-a"]; exists {
		t.Fatal("clearAlert() should remove the wallet's alert history")
	}
}

func TestRenderTemplate_SubstitutesAlertFields(t *testing.T) {
	m := testMonitor(t, "")
	m.cfg.Monitoring.BodyTemplate = `{"text":"wallet {{.Wallet}} at {{.Balance}}"}`

	body, err := m.renderTemplate(BalanceAlert{Wallet: "abc123", Balance: 0.005})
	if err != nil {
		t.Fatalf("renderTemplate() error = %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal rendered body: %v", err)
	}
	if decoded["text"] != "wallet abc123 at 0.005" {
		t.Fatalf("rendered text = %q", decoded["text"])
	}
}

func TestRenderTemplate_InvalidTemplateErrors(t *testing.T) {
	m := testMonitor(t, "")
	m.cfg.Monitoring.BodyTemplate = `{{.Unclosed`

	if _, err := m.renderTemplate(BalanceAlert{}); err == nil {
		t.Fatal("renderTemplate() should error on malformed template syntax")
	}
}

func TestSendAlert_PostsDefaultDiscordPayloadAndMarksWallet(t *testing.T) {
	received := make(chan *http.Request, 1)
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := testMonitor(t, srv.URL)
	m.sendAlert(context.Background(), "wallet-xyz", 0.002)

	select {
	case r := <-received:
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
		}
	case <-time.After(time.Second):
		t.Fatal("sendAlert() did not reach the webhook")
	}
	if len(body) == 0 {
		t.Fatal("sendAlert() sent an empty body")
	}

	if _, alerted := m.alertedKeys["wallet-xyz"]; !alerted {
		t.Fatal("sendAlert() should mark the wallet as alerted on a 2xx response")
	}
}

func TestSendAlert_DoesNotMarkWalletOnFailureResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := testMonitor(t, srv.URL)
	m.sendAlert(context.Background(), "wallet-xyz", 0.002)

	if _, alerted := m.alertedKeys["wallet-xyz"]; alerted {
		t.Fatal("sendAlert() should not mark the wallet as alerted on a non-2xx response")
	}
}
