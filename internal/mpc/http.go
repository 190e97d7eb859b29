package mpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"PerpCrank/internal/chain"
)

// HTTPResultStore reads computation outputs from the MPC cluster's result
// endpoint.
type HTTPResultStore struct {
	baseURL string
	http    *http.Client
}

func NewHTTPResultStore(baseURL string, timeout time.Duration) *HTTPResultStore {
	return &HTTPResultStore{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type resultJSON struct {
	Status string `json:"status"` // "pending" | "complete"
	Output string `json:"output,omitempty"`
}

func (s *HTTPResultStore) FetchResult(ctx context.Context, id ComputationID) (*Result, error) {
	url := fmt.Sprintf("%s/v1/results/%s", s.baseURL, hex.EncodeToString(id[:]))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build result request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w: %v", chain.ErrTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrResultNotReady
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch result: unexpected status %d", resp.StatusCode)
	}

	var out resultJSON
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if out.Status != "complete" {
		return nil, ErrResultNotReady
	}

	output, err := hex.DecodeString(out.Output)
	if err != nil {
		return nil, fmt.Errorf("decode result output: %w", err)
	}
	return &Result{ID: id, Output: output}, nil
}
