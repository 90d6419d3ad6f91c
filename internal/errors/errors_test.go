package errors

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypool/relaypool/internal/pool"
	"github.com/relaypool/relaypool/internal/rpcclient"
	"github.com/relaypool/relaypool/internal/server/middleware"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeInvalidInput:          http.StatusBadRequest,
		CodeNotFound:              http.StatusNotFound,
		CodeMethodNotAllowed:      http.StatusMethodNotAllowed,
		CodePoolExhausted:         http.StatusServiceUnavailable,
		CodeServiceUnavailable:    http.StatusServiceUnavailable,
		CodeUpstreamRateLimited:   http.StatusTooManyRequests,
		CodeUpstreamQuotaExceeded: http.StatusBadGateway,
		CodeExternalService:       http.StatusBadGateway,
		CodeTimeout:               http.StatusGatewayTimeout,
		CodeInternal:              http.StatusInternalServerError,
		"SOMETHING_ELSE":          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
}

func TestFromPoolError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"exhausted", &pool.AttemptError{Attempts: 3, Index: -1, Kind: pool.KindPoolExhausted, Err: pool.ErrPoolExhausted}, CodePoolExhausted},
		{"rate limited", &pool.AttemptError{Attempts: 4, Index: 0, Endpoint: "ep0", Kind: pool.KindRateLimited, Err: fmt.Errorf("429")}, CodeUpstreamRateLimited},
		{"quota", &pool.AttemptError{Attempts: 1, Index: 1, Endpoint: "ep1", Kind: pool.KindQuotaExceeded, Err: fmt.Errorf("402")}, CodeUpstreamQuotaExceeded},
		{"timeout", &pool.AttemptError{Attempts: 1, Index: 0, Endpoint: "ep0", Kind: pool.KindTimeout, Err: pool.ErrTimeout}, CodeTimeout},
		{"other", &pool.AttemptError{Attempts: 2, Index: 0, Endpoint: "ep0", Kind: pool.KindOther, Err: &rpcclient.RPCError{Code: -32602, Message: "invalid params"}}, CodeExternalService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := FromPoolError(context.Background(), tt.err)
			require.NotNil(t, env)
			assert.Equal(t, tt.code, env.Code)
			assert.NotEmpty(t, env.CorrelationID)
			assert.Equal(t, pool.KindOf(tt.err).String(), env.Details["kind"])
		})
	}
}

func TestFromPoolErrorDetails(t *testing.T) {
	err := &pool.AttemptError{
		Attempts: 2,
		Index:    0,
		Endpoint: "ep0",
		Kind:     pool.KindOther,
		Err:      &rpcclient.RPCError{Code: -32602, Message: "invalid params"},
	}

	env := FromPoolError(context.Background(), err)
	assert.EqualValues(t, 2, env.Details["attempts"])
	assert.Equal(t, "ep0", env.Details["endpoint"])
	assert.EqualValues(t, -32602, env.Details["rpc_code"])
}

func TestEnsureEnvelope(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		env := EnsureEnvelope(nil)
		assert.Equal(t, CodeInternal, env.Code)
	})

	t.Run("envelope passes through", func(t *testing.T) {
		original := NewNotFoundError("missing")
		assert.Same(t, original, EnsureEnvelope(original))
	})

	t.Run("pool errors keep classification", func(t *testing.T) {
		wrapped := fmt.Errorf("call: %w", &pool.AttemptError{Attempts: 1, Index: -1, Kind: pool.KindPoolExhausted, Err: pool.ErrPoolExhausted})
		assert.Equal(t, CodePoolExhausted, EnsureEnvelope(wrapped).Code)
	})

	t.Run("plain error", func(t *testing.T) {
		env := EnsureEnvelope(goerrors.New("boom"))
		assert.Equal(t, CodeInternal, env.Code)
		assert.Equal(t, "boom", env.Context["wrapped_error"])
	})
}

func TestRespondWithError(t *testing.T) {
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError(w, r, &pool.AttemptError{Attempts: 4, Index: 0, Endpoint: "ep0", Kind: pool.KindRateLimited, Err: fmt.Errorf("429")})
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/rpc", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeUpstreamRateLimited, body.Error.Code)
	assert.Equal(t, "req-123", body.Error.RequestID)
	assert.Equal(t, "ep0", body.Error.Details["endpoint"])
	assert.Equal(t, "rate_limited", body.Error.Details["kind"])
}

func TestEnsureCorrelationIDFallback(t *testing.T) {
	env := EnsureCorrelationID(NewInternalError("x"), nil)
	assert.Contains(t, env.CorrelationID, "fallback-")
	assert.Nil(t, EnsureCorrelationID(nil, nil))
}
