// Package rpc exposes the read-only chain queries relaypool routes through the
// endpoint pool. Results are returned raw or minimally decoded; typed decoding
// of accounts and transactions belongs to callers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaypool/relaypool/internal/pool"
	"github.com/relaypool/relaypool/internal/rpcclient"
)

// Upstream limits on batch and page sizes.
const (
	MaxAccountsPerCall   = 100
	MaxSignaturesPerPage = 1000
)

// Commitment levels accepted by the upstream API.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Client runs queries through a pool executor.
type Client struct {
	exec       *pool.Executor
	Commitment string
}

func New(exec *pool.Executor) *Client {
	return &Client{exec: exec}
}

// Call runs method with params on the next eligible endpoint and returns the
// raw result.
func (c *Client) Call(ctx context.Context, method string, params any, opts pool.Options) (json.RawMessage, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, fmt.Errorf("method is required")
	}
	return pool.Do(ctx, c.exec, opts, func(ctx context.Context, handle *rpcclient.Client, _ int) (json.RawMessage, error) {
		return handle.Call(ctx, method, params)
	})
}

// callInto runs method and decodes its result into a fresh T.
func callInto[T any](ctx context.Context, c *Client, method string, params any, opts pool.Options) (T, error) {
	return pool.Do(ctx, c.exec, opts, func(ctx context.Context, handle *rpcclient.Client, _ int) (T, error) {
		var out T
		err := handle.CallInto(ctx, method, params, &out)
		return out, err
	})
}

// GetSlot returns the current slot.
func (c *Client) GetSlot(ctx context.Context, opts pool.Options) (uint64, error) {
	return callInto[uint64](ctx, c, "getSlot", c.commitmentParams(), opts)
}

// GetBlockHeight returns the current block height.
func (c *Client) GetBlockHeight(ctx context.Context, opts pool.Options) (uint64, error) {
	return callInto[uint64](ctx, c, "getBlockHeight", c.commitmentParams(), opts)
}

// AccountResult is the context-wrapped value of an account query.
type AccountResult struct {
	Slot  uint64
	Value json.RawMessage
}

type contextResult[T any] struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value T `json:"value"`
}

// GetAccountInfo returns the raw account record for address, base64 encoded.
// Value is JSON null when the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address string, opts pool.Options) (AccountResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return AccountResult{}, fmt.Errorf("address is required")
	}
	res, err := callInto[contextResult[json.RawMessage]](ctx, c, "getAccountInfo",
		[]any{address, c.encodingConfig("base64")}, opts)
	if err != nil {
		return AccountResult{}, err
	}
	return AccountResult{Slot: res.Context.Slot, Value: res.Value}, nil
}

// GetMultipleAccounts returns raw account records in the order of addresses.
// Lists longer than MaxAccountsPerCall are split into sequential calls, each
// routed independently through the pool.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []string, opts pool.Options) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(addresses))
	for start := 0; start < len(addresses); start += MaxAccountsPerCall {
		end := min(start+MaxAccountsPerCall, len(addresses))
		chunk := addresses[start:end]

		res, err := callInto[contextResult[[]json.RawMessage]](ctx, c, "getMultipleAccounts",
			[]any{chunk, c.encodingConfig("base64")}, opts)
		if err != nil {
			return nil, fmt.Errorf("accounts %d-%d: %w", start, end-1, err)
		}
		if len(res.Value) != len(chunk) {
			return nil, fmt.Errorf("accounts %d-%d: expected %d results, got %d", start, end-1, len(chunk), len(res.Value))
		}
		out = append(out, res.Value...)
	}
	return out, nil
}

// SignatureInfo is one entry of an address's transaction history.
type SignatureInfo struct {
	Signature          string          `json:"signature"`
	Slot               uint64          `json:"slot"`
	Err                json.RawMessage `json:"err"`
	Memo               *string         `json:"memo"`
	BlockTime          *int64          `json:"blockTime"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// SignaturesQuery bounds a history walk. Limit 0 fetches a single page.
type SignaturesQuery struct {
	Address  string
	Before   string
	Until    string
	Limit    int
	PageSize int
}

// GetSignaturesForAddress walks an address's history newest first, paging
// with the last signature of each page until Limit entries are collected or
// the history ends. Each page is a separate pooled call.
func (c *Client) GetSignaturesForAddress(ctx context.Context, q SignaturesQuery, opts pool.Options) ([]SignatureInfo, error) {
	address := strings.TrimSpace(q.Address)
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}
	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > MaxSignaturesPerPage {
		pageSize = MaxSignaturesPerPage
	}
	if q.Limit > 0 && q.Limit < pageSize {
		pageSize = q.Limit
	}

	var out []SignatureInfo
	before := q.Before
	for {
		cfg := map[string]any{"limit": pageSize}
		if before != "" {
			cfg["before"] = before
		}
		if q.Until != "" {
			cfg["until"] = q.Until
		}
		if c.Commitment != "" {
			cfg["commitment"] = c.Commitment
		}

		page, err := callInto[[]SignatureInfo](ctx, c, "getSignaturesForAddress", []any{address, cfg}, opts)
		if err != nil {
			return out, fmt.Errorf("signatures page after %d entries: %w", len(out), err)
		}
		out = append(out, page...)

		if q.Limit > 0 && len(out) >= q.Limit {
			return out[:q.Limit], nil
		}
		if q.Limit == 0 || len(page) < pageSize {
			return out, nil
		}
		before = page[len(page)-1].Signature
		if remaining := q.Limit - len(out); remaining < pageSize {
			pageSize = remaining
		}
	}
}

// GetTransaction returns the raw transaction for signature, or JSON null when
// the upstream does not know it.
func (c *Client) GetTransaction(ctx context.Context, signature string, opts pool.Options) (json.RawMessage, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, fmt.Errorf("signature is required")
	}
	cfg := c.encodingConfig("json")
	cfg["maxSupportedTransactionVersion"] = 0
	return c.Call(ctx, "getTransaction", []any{signature, cfg}, opts)
}

func (c *Client) commitmentParams() any {
	if c.Commitment == "" {
		return nil
	}
	return []any{map[string]any{"commitment": c.Commitment}}
}

func (c *Client) encodingConfig(encoding string) map[string]any {
	cfg := map[string]any{"encoding": encoding}
	if c.Commitment != "" {
		cfg["commitment"] = c.Commitment
	}
	return cfg
}
