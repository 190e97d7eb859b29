package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"PerpCrank/internal/chain"
)

// HTTPClient talks to the relayer's JSON endpoint.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type transferRequestJSON struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Asset     string `json:"asset"`
	Kind      string `json:"kind"`
}

type transferResponseJSON struct {
	Success    bool   `json:"success"`
	TransferID string `json:"transfer_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (c *HTTPClient) ExecuteTransfer(ctx context.Context, req TransferRequest) (Result, error) {
	body, err := json.Marshal(transferRequestJSON{
		Sender:    req.Sender.String(),
		Recipient: req.Recipient.String(),
		Amount:    req.Amount,
		Asset:     req.Asset.String(),
		Kind:      string(req.Kind),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal transfer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build transfer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Transport failure: surface as the chain taxonomy's transient class
		// so the saga treats it as retryable.
		return Result{}, fmt.Errorf("execute transfer: %w: %v", chain.ErrTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, fmt.Errorf("execute transfer: %w", chain.ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("execute transfer: %w: status %d", chain.ErrConnReset, resp.StatusCode)
	}

	var out transferResponseJSON
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode transfer response: %w", err)
	}

	if !out.Success {
		return Result{}, &RejectionError{Reason: out.Error}
	}
	return Result{TransferID: out.TransferID}, nil
}
