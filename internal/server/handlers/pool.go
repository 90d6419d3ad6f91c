package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/relaypool/relaypool/internal/errors"
	"github.com/relaypool/relaypool/internal/metrics"
	"github.com/relaypool/relaypool/internal/pool"
	"github.com/relaypool/relaypool/internal/rpc"
)

// maxRPCBodyBytes caps a /v1/rpc request body.
const maxRPCBodyBytes = 1 << 20

// PoolAPI serves pool inspection and the RPC passthrough.
type PoolAPI struct {
	Pool     *pool.Pool
	Executor *pool.Executor
	RPC      *rpc.Client
	Options  pool.Options
}

// PoolStatusResponse is the body of GET /v1/pool.
type PoolStatusResponse struct {
	Size      int                     `json:"size"`
	Healthy   int                     `json:"healthy"`
	Totals    pool.Totals             `json:"totals"`
	Endpoints []pool.EndpointSnapshot `json:"endpoints"`
}

// RPCRequest is the body of POST /v1/rpc.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCResponse carries the upstream result verbatim.
type RPCResponse struct {
	Result json.RawMessage `json:"result"`
}

// ProbeResultResponse is the body of POST /v1/pool/{index}/probe.
type ProbeResultResponse struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	OK         bool    `json:"ok"`
	DurationMs float64 `json:"duration_ms"`
}

// Status handles GET /v1/pool.
func (a *PoolAPI) Status(w http.ResponseWriter, r *http.Request) {
	snapshot := a.Pool.Snapshot()
	metrics.RecordSnapshot(snapshot)

	resp := PoolStatusResponse{
		Size:      a.Pool.Size(),
		Healthy:   a.Pool.HealthyCount(),
		Endpoints: snapshot,
	}
	if a.Executor != nil {
		resp.Totals = a.Executor.Totals()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Probe handles POST /v1/pool/{index}/probe.
func (a *PoolAPI) Probe(w http.ResponseWriter, r *http.Request) {
	index, ok := a.endpointIndex(w, r)
	if !ok {
		return
	}

	start := time.Now()
	healthy := a.Pool.Probe(r.Context(), index, a.Pool.Settings().ProbeTimeout)
	elapsed := time.Since(start)

	name := a.Pool.EndpointName(index)
	metrics.RecordProbe(name, healthy, elapsed)

	writeJSON(w, http.StatusOK, ProbeResultResponse{
		Index:      index,
		Name:       name,
		OK:         healthy,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
	})
}

// Reset handles POST /v1/pool/{index}/reset.
func (a *PoolAPI) Reset(w http.ResponseWriter, r *http.Request) {
	index, ok := a.endpointIndex(w, r)
	if !ok {
		return
	}
	a.Pool.ResetMetrics(index)

	for _, snap := range a.Pool.Snapshot() {
		if snap.Index == index {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	respondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("endpoint %d not found", index)))
}

// Call handles POST /v1/rpc.
func (a *PoolAPI) Call(w http.ResponseWriter, r *http.Request) {
	var req RPCRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRPCBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be a JSON object"))
		return
	}
	req.Method = strings.TrimSpace(req.Method)
	if req.Method == "" {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), nil, "method is required"))
		return
	}

	var params any
	if len(req.Params) > 0 && string(req.Params) != "null" {
		params = req.Params
	}

	result, err := a.RPC.Call(r.Context(), req.Method, params, a.Options)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RPCResponse{Result: result})
}

func (a *PoolAPI) endpointIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "endpoint index must be an integer"))
		return 0, false
	}
	if _, ok := a.Pool.Endpoint(index); !ok {
		respondWithError(w, r, apperrors.NewNotFoundError(fmt.Sprintf("endpoint %d not found", index)))
		return 0, false
	}
	return index, true
}
