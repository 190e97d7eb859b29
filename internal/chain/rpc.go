package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// RPCClient implements Client over the ledger node's JSON-RPC endpoint.
type RPCClient struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Uint64
}

func NewRPCClient(endpoint string, timeout time.Duration) *RPCClient {
	return &RPCClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Node error codes outside the JSON-RPC reserved range. Custom program
// error codes (6000+) pass through in the message as "custom program error:
// <code>".
const (
	rpcCodeAccountNotFound = -32001
	rpcCodeStaleReference  = -32002
	rpcCodeRateLimited     = -32005
)

func (c *RPCClient) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", method, ErrTimeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", method, ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: %w: status %d", method, ErrConnReset, resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if out.Error != nil {
		return mapRPCError(method, out.Error)
	}
	if result != nil {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

func mapRPCError(method string, e *rpcError) error {
	switch e.Code {
	case rpcCodeAccountNotFound:
		return fmt.Errorf("%s: %w", method, ErrAccountNotFound)
	case rpcCodeStaleReference:
		return fmt.Errorf("%s: %w", method, ErrStaleReference)
	case rpcCodeRateLimited:
		return fmt.Errorf("%s: %w", method, ErrRateLimited)
	}

	// "custom program error: 6002" style messages carry the program code.
	if idx := strings.LastIndex(e.Message, "custom program error: "); idx >= 0 {
		var code uint32
		if _, err := fmt.Sscanf(e.Message[idx:], "custom program error: %d", &code); err == nil {
			return &ProgramError{Op: method, Code: code}
		}
	}

	return fmt.Errorf("%s: rpc error %d: %s", method, e.Code, e.Message)
}

type scanParams struct {
	Program string       `json:"program"`
	Filters []filterJSON `json:"filters,omitempty"`
}

type filterJSON struct {
	DataSize uint64      `json:"dataSize,omitempty"`
	Memcmp   *memcmpJSON `json:"memcmp,omitempty"`
}

type memcmpJSON struct {
	Offset uint64 `json:"offset"`
	Bytes  string `json:"bytes"`
}

type keyedAccountJSON struct {
	Address string `json:"address"`
	Data    string `json:"data"`
}

func (c *RPCClient) ScanAccounts(ctx context.Context, program Address, filter AccountFilter) ([]KeyedAccount, error) {
	params := scanParams{Program: program.String()}
	if filter.DataSize != 0 {
		params.Filters = append(params.Filters, filterJSON{DataSize: filter.DataSize})
	}
	for _, m := range filter.Memcmp {
		params.Filters = append(params.Filters, filterJSON{Memcmp: &memcmpJSON{
			Offset: m.Offset,
			Bytes:  base64.StdEncoding.EncodeToString(m.Bytes),
		}})
	}

	var raw []keyedAccountJSON
	if err := c.call(ctx, "scanProgramAccounts", params, &raw); err != nil {
		return nil, err
	}

	accounts := make([]KeyedAccount, 0, len(raw))
	for _, r := range raw {
		acct, err := decodeKeyedAccount(r)
		if err != nil {
			return nil, fmt.Errorf("scanProgramAccounts: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func (c *RPCClient) FetchAccount(ctx context.Context, addr Address) (*KeyedAccount, error) {
	var raw *keyedAccountJSON
	if err := c.call(ctx, "getAccount", map[string]string{"address": addr.String()}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("getAccount: %w", ErrAccountNotFound)
	}
	acct, err := decodeKeyedAccount(*raw)
	if err != nil {
		return nil, fmt.Errorf("getAccount: %w", err)
	}
	return &acct, nil
}

type instructionJSON struct {
	Program  string     `json:"program"`
	Accounts []metaJSON `json:"accounts"`
	Data     string     `json:"data"`
}

type metaJSON struct {
	Address    string `json:"address"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type submitResultJSON struct {
	Signature string `json:"signature"`
}

func (c *RPCClient) SubmitTransaction(ctx context.Context, instrs []Instruction, commitment Commitment) (Signature, error) {
	encoded := make([]instructionJSON, 0, len(instrs))
	for _, in := range instrs {
		metas := make([]metaJSON, 0, len(in.Accounts))
		for _, a := range in.Accounts {
			metas = append(metas, metaJSON{
				Address:    a.Address.String(),
				IsSigner:   a.IsSigner,
				IsWritable: a.IsWritable,
			})
		}
		encoded = append(encoded, instructionJSON{
			Program:  in.Program.String(),
			Accounts: metas,
			Data:     base64.StdEncoding.EncodeToString(in.Data),
		})
	}

	var out submitResultJSON
	err := c.call(ctx, "submitTransaction", map[string]any{
		"instructions": encoded,
		"commitment":   string(commitment),
	}, &out)
	if err != nil {
		return "", err
	}
	return Signature(out.Signature), nil
}

func decodeKeyedAccount(r keyedAccountJSON) (KeyedAccount, error) {
	addr, err := ParseAddress(r.Address)
	if err != nil {
		return KeyedAccount{}, fmt.Errorf("bad account address %q: %w", r.Address, err)
	}
	data, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return KeyedAccount{}, fmt.Errorf("bad account data for %s: %w", addr.Short(), err)
	}
	return KeyedAccount{Address: addr, Data: data}, nil
}
