// Package rpcclient implements the long-lived JSON-RPC 2.0 connection handle
// the pool builds for every configured endpoint.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const maxResponseBodySize = 8 << 20 // 8MB

// connection pooling limits shared by every endpoint handle
const (
	defaultMaxIdleConns        = 256
	defaultMaxIdleConnsPerHost = 32
	defaultIdleConnTimeout     = 90 * time.Second
)

var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        defaultMaxIdleConns,
	MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
	IdleConnTimeout:     defaultIdleConnTimeout,
	ForceAttemptHTTP2:   true,
}

// Client is a JSON-RPC client bound to one upstream endpoint.
//
// Client has no global timeout; deadlines come from the caller's context so the
// executor's timeout race can cancel an abandoned request.
type Client struct {
	Name         string
	URL          string
	SecondaryURL string
	HTTPClient   *http.Client
	Headers      map[string]string

	seq atomic.Uint64
}

// New validates the endpoint URL and returns a client using the shared transport.
func New(name, rawURL, secondaryURL string) (*Client, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("endpoint %q: url is required", name)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: parse url: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("endpoint %q: unsupported url scheme %q", name, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("endpoint %q: url has no host", name)
	}

	return &Client{
		Name:         name,
		URL:          rawURL,
		SecondaryURL: strings.TrimSpace(secondaryURL),
		HTTPClient:   &http.Client{Transport: sharedTransport},
	}, nil
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Call invokes method with params and returns the raw result payload.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("rpc client not configured")
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, fmt.Errorf("method is required")
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range c.Headers {
		httpReq.Header.Set(key, value)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			Endpoint:    c.Name,
			StatusCode:  resp.StatusCode,
			Message:     strings.TrimSpace(string(respBody)),
			RetryAfter:  parseRetryAfter(resp.Header.Get("Retry-After")),
			RawResponse: respBody,
		}
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}

	return parsed.Result, nil
}

// CallInto invokes method and decodes the result into out.
func (c *Client) CallInto(ctx context.Context, method string, params any, out any) error {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) nextID() string {
	// uuid prefix keeps ids unique across handles sharing a proxy
	return fmt.Sprintf("%s-%d", uuid.NewString()[:8], c.seq.Add(1))
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
