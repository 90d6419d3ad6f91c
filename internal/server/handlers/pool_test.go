package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/relaypool/relaypool/internal/errors"
	"github.com/relaypool/relaypool/internal/pool"
)

func newPoolAPI(t *testing.T) *PoolAPI {
	t.Helper()
	p := pool.New(pool.Config{Source: pool.StaticSource{{Name: "a", URL: "http://127.0.0.1:1"}}})
	if p.Size() != 1 {
		t.Fatalf("expected one endpoint, got %d", p.Size())
	}
	return &PoolAPI{Pool: p}
}

func TestCallUsesInjectedErrorResponder(t *testing.T) {
	t.Cleanup(ResetHTTPErrorResponder)

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusTeapot)
	})

	api := newPoolAPI(t)
	rec := httptest.NewRecorder()
	api.Call(rec, httptest.NewRequest(http.MethodPost, "/v1/rpc", strings.NewReader(`{"method":"  "}`)))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected injected responder status, got %d", rec.Code)
	}
	if captured == nil || !strings.Contains(captured.Error(), "method is required") {
		t.Fatalf("expected method validation error, got %v", captured)
	}
}

func TestResetRestoresDefaultErrorResponder(t *testing.T) {
	t.Cleanup(ResetHTTPErrorResponder)

	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		t.Fatalf("replaced responder must not run after reset: %v", err)
	})
	ResetHTTPErrorResponder()

	api := newPoolAPI(t)
	rec := httptest.NewRecorder()
	api.Call(rec, httptest.NewRequest(http.MethodPost, "/v1/rpc", strings.NewReader(`not json`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != apperrors.CodeInvalidInput {
		t.Fatalf("expected %s, got %s", apperrors.CodeInvalidInput, body.Error.Code)
	}
}

func TestSetNilErrorResponderFallsBackToDefault(t *testing.T) {
	t.Cleanup(ResetHTTPErrorResponder)
	SetHTTPErrorResponder(nil)

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodGet, "/v1/pool", nil), errors.New("boom"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
