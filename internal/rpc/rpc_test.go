package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypool/relaypool/internal/pool"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type fakeUpstream struct {
	mu       sync.Mutex
	requests []rpcRequest
	handle   func(req rpcRequest) (any, int)
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	result, status := f.handle(req)
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("upstream says no"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (f *fakeUpstream) Requests() []rpcRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rpcRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func newTestClient(t *testing.T, handlers ...*fakeUpstream) *Client {
	t.Helper()
	source := make(pool.StaticSource, 0, len(handlers))
	for i, h := range handlers {
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		source = append(source, pool.EndpointSpec{Name: fmt.Sprintf("up%d", i), URL: srv.URL})
	}
	p := pool.New(pool.Config{Source: source})
	require.Equal(t, len(handlers), p.Size())

	exec := pool.NewExecutor(p, nil)
	exec.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return New(exec)
}

func TestGetSlot(t *testing.T) {
	up := &fakeUpstream{handle: func(req rpcRequest) (any, int) { return 250_000_123, 0 }}
	c := newTestClient(t, up)

	slot, err := c.GetSlot(context.Background(), pool.Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(250_000_123), slot)

	reqs := up.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "getSlot", reqs[0].Method)
	assert.Empty(t, reqs[0].Params)
}

func TestGetBlockHeightWithCommitment(t *testing.T) {
	up := &fakeUpstream{handle: func(req rpcRequest) (any, int) { return 99, 0 }}
	c := newTestClient(t, up)
	c.Commitment = CommitmentFinalized

	height, err := c.GetBlockHeight(context.Background(), pool.Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(99), height)

	reqs := up.Requests()
	require.Len(t, reqs[0].Params, 1)
	assert.JSONEq(t, `{"commitment":"finalized"}`, string(reqs[0].Params[0]))
}

func TestGetAccountInfo(t *testing.T) {
	up := &fakeUpstream{handle: func(req rpcRequest) (any, int) {
		return map[string]any{
			"context": map[string]any{"slot": 77},
			"value":   map[string]any{"lamports": 5, "data": []string{"AAEC", "base64"}},
		}, 0
	}}
	c := newTestClient(t, up)

	res, err := c.GetAccountInfo(context.Background(), "Acct1111", pool.Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(77), res.Slot)
	assert.JSONEq(t, `{"lamports":5,"data":["AAEC","base64"]}`, string(res.Value))

	reqs := up.Requests()
	require.Len(t, reqs[0].Params, 2)
	assert.JSONEq(t, `"Acct1111"`, string(reqs[0].Params[0]))
	assert.JSONEq(t, `{"encoding":"base64"}`, string(reqs[0].Params[1]))

	_, err = c.GetAccountInfo(context.Background(), " ", pool.Options{})
	assert.Error(t, err)
}

func TestGetMultipleAccountsChunks(t *testing.T) {
	up := &fakeUpstream{handle: func(req rpcRequest) (any, int) {
		var addrs []string
		_ = json.Unmarshal(req.Params[0], &addrs)
		values := make([]any, len(addrs))
		for i, a := range addrs {
			values[i] = map[string]any{"owner": a}
		}
		return map[string]any{"context": map[string]any{"slot": 1}, "value": values}, 0
	}}
	c := newTestClient(t, up)

	addresses := make([]string, MaxAccountsPerCall+5)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("addr-%d", i)
	}

	got, err := c.GetMultipleAccounts(context.Background(), addresses, pool.Options{})
	require.NoError(t, err)
	require.Len(t, got, len(addresses))
	assert.JSONEq(t, `{"owner":"addr-0"}`, string(got[0]))
	assert.JSONEq(t, `{"owner":"addr-104"}`, string(got[104]))
	assert.Len(t, up.Requests(), 2)
}

func TestGetMultipleAccountsLengthMismatch(t *testing.T) {
	up := &fakeUpstream{handle: func(req rpcRequest) (any, int) {
		return map[string]any{"context": map[string]any{"slot": 1}, "value": []any{}}, 0
	}}
	c := newTestClient(t, up)

	_, err := c.GetMultipleAccounts(context.Background(), []string{"a", "b"}, pool.Options{})
	assert.ErrorContains(t, err, "expected 2 results")
}

func TestGetSignaturesForAddressPaginates(t *testing.T) {
	const total = 7
	up := &fakeUpstream{handle: func(req rpcRequest) (any, int) {
		var cfg struct {
			Limit  int    `json:"limit"`
			Before string `json:"before"`
		}
		_ = json.Unmarshal(req.Params[1], &cfg)

		start := 0
		if cfg.Before != "" {
			_, _ = fmt.Sscanf(cfg.Before, "sig-%d", &start)
			start++
		}
		var page []map[string]any
		for i := start; i < total && len(page) < cfg.Limit; i++ {
			page = append(page, map[string]any{"signature": fmt.Sprintf("sig-%d", i), "slot": 1000 - i})
		}
		return page, 0
	}}
	c := newTestClient(t, up)

	sigs, err := c.GetSignaturesForAddress(context.Background(), SignaturesQuery{Address: "Acct", Limit: 100, PageSize: 3}, pool.Options{})
	require.NoError(t, err)
	require.Len(t, sigs, total)
	assert.Equal(t, "sig-0", sigs[0].Signature)
	assert.Equal(t, "sig-6", sigs[6].Signature)
	assert.Equal(t, uint64(994), sigs[6].Slot)
	assert.Len(t, up.Requests(), 3)

	limited, err := c.GetSignaturesForAddress(context.Background(), SignaturesQuery{Address: "Acct", Limit: 4, PageSize: 3}, pool.Options{})
	require.NoError(t, err)
	require.Len(t, limited, 4)
	assert.Equal(t, "sig-3", limited[3].Signature)

	single, err := c.GetSignaturesForAddress(context.Background(), SignaturesQuery{Address: "Acct", PageSize: 2}, pool.Options{})
	require.NoError(t, err)
	assert.Len(t, single, 2)
}

func TestGetTransaction(t *testing.T) {
	up := &fakeUpstream{handle: func(req rpcRequest) (any, int) {
		return map[string]any{"slot": 5, "meta": nil}, 0
	}}
	c := newTestClient(t, up)

	raw, err := c.GetTransaction(context.Background(), "5igSig", pool.Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"slot":5,"meta":null}`, string(raw))

	reqs := up.Requests()
	assert.JSONEq(t, `{"encoding":"json","maxSupportedTransactionVersion":0}`, string(reqs[0].Params[1]))
}

func TestCallFailsOverToHealthyEndpoint(t *testing.T) {
	var limitedHits atomic.Int32
	limited := &fakeUpstream{handle: func(req rpcRequest) (any, int) {
		limitedHits.Add(1)
		return nil, http.StatusTooManyRequests
	}}
	healthy := &fakeUpstream{handle: func(req rpcRequest) (any, int) { return "pong", 0 }}
	c := newTestClient(t, limited, healthy)

	raw, err := c.Call(context.Background(), "ping", nil, pool.DefaultOptions())
	require.NoError(t, err)
	assert.JSONEq(t, `"pong"`, string(raw))

	raw, err = c.Call(context.Background(), "ping", nil, pool.DefaultOptions())
	require.NoError(t, err)
	assert.JSONEq(t, `"pong"`, string(raw))
	assert.Equal(t, int32(1), limitedHits.Load())
}

func TestCallSurfacesFinalError(t *testing.T) {
	up := &fakeUpstream{handle: func(req rpcRequest) (any, int) { return nil, http.StatusPaymentRequired }}
	c := newTestClient(t, up)

	_, err := c.Call(context.Background(), "ping", nil, pool.Options{MaxRetries: pool.NoRetries})
	require.Error(t, err)
	assert.Equal(t, pool.KindQuotaExceeded, pool.KindOf(err))

	_, err = c.Call(context.Background(), "", nil, pool.Options{})
	assert.Error(t, err)
}
