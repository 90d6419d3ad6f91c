package rpcclient

import (
	"fmt"
	"time"
)

// ProviderError is returned when an endpoint responds with a non-2xx status.
//
// RawResponse carries the response body bytes; it must never include credentials
// embedded in the endpoint URL.
type ProviderError struct {
	Endpoint    string
	StatusCode  int
	Message     string
	RetryAfter  time.Duration
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Endpoint, e.Message)
}

// RPCError is a JSON-RPC error object returned inside a 2xx response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return "rpc error"
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
