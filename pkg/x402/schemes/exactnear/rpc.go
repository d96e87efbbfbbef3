package exactnear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// broadcastTxCommit submits a base64 Borsh SignedTransaction and blocks
// until it is committed, returning its transaction hash.
func broadcastTxCommit(ctx context.Context, client *http.Client, rpcURL, signedTxB64 string) (string, error) {
	reqBody, _ := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "x402",
		Method:  "broadcast_tx_commit",
		Params:  [1]string{signedTxB64},
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return "", fmt.Errorf("exactnear: unexpected rpc response: %s", string(body))
	}
	if rpcResp.Error != nil {
		return "", fmt.Errorf("exactnear: rpc error: %s", rpcResp.Error.Message)
	}
	var result struct {
		Transaction struct {
			Hash string `json:"hash"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return "", fmt.Errorf("exactnear: decode broadcast_tx_commit result: %w", err)
	}
	return result.Transaction.Hash, nil
}
