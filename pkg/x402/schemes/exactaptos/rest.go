package exactaptos

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func decodeTxBytes(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

type simulationResult struct {
	Success bool   `json:"success"`
	VMError string `json:"vm_status"`
}

// simulateTransaction POSTs the signed transaction bytes to the fullnode's
// simulate endpoint, which dry-runs it without committing.
func simulateTransaction(ctx context.Context, client *http.Client, nodeURL, txB64 string) (simulationResult, error) {
	body, _ := json.Marshal(map[string]string{"bcs_txn": txB64})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL+"/v1/transactions/simulate", bytes.NewReader(body))
	if err != nil {
		return simulationResult{}, err
	}
	req.Header.Set("Content-Type", "application/x.aptos.signed_transaction+bcs")
	resp, err := client.Do(req)
	if err != nil {
		return simulationResult{}, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return simulationResult{}, err
	}
	if resp.StatusCode >= 400 {
		return simulationResult{}, fmt.Errorf("exactaptos: simulate failed: %s", string(payload))
	}
	var results []simulationResult
	if err := json.Unmarshal(payload, &results); err != nil || len(results) == 0 {
		return simulationResult{}, fmt.Errorf("exactaptos: unexpected simulate response")
	}
	return results[0], nil
}

// submitTransaction POSTs the signed transaction bytes for on-chain inclusion
// and returns the resulting transaction hash.
func submitTransaction(ctx context.Context, client *http.Client, nodeURL, txB64 string) (string, error) {
	body, _ := json.Marshal(map[string]string{"bcs_txn": txB64})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x.aptos.signed_transaction+bcs")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("exactaptos: submit failed: %s", string(payload))
	}
	var result struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("exactaptos: unexpected submit response")
	}
	return result.Hash, nil
}
