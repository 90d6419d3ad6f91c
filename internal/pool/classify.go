package pool

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/relaypool/relaypool/internal/rpcclient"
)

// JSON-RPC error codes providers use for throttling and plan limits.
var (
	rateLimitRPCCodes = map[int]bool{429: true, -32005: true, -32029: true}
	quotaRPCCodes     = map[int]bool{402: true, -32040: true}
)

// Phrases are matched against lowercased error text. Status numbers only come
// from ProviderError and RPCError codes, never from message text.
var (
	rateLimitPhrases = []string{"too many requests", "rate limit", "rate-limit", "ratelimit", "throttl"}
	quotaPhrases     = []string{"payment required", "quota", "credits", "exceeded your", "usage limit", "plan limit", "monthly limit", "daily limit"}
	timeoutPhrases   = []string{"timeout", "timed out", "deadline exceeded"}
)

// Classify maps an attempt error to its ErrorKind. The first matching class
// wins in the order rate limited, quota exceeded, timeout, other.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindOther
	}
	if errors.Is(err, ErrPoolExhausted) {
		return KindPoolExhausted
	}

	var status int
	var perr *rpcclient.ProviderError
	if errors.As(err, &perr) && perr != nil {
		status = perr.StatusCode
	}
	rpcCode := 0
	var rerr *rpcclient.RPCError
	if errors.As(err, &rerr) && rerr != nil {
		rpcCode = rerr.Code
	}
	msg := strings.ToLower(err.Error())

	switch {
	case status == http.StatusTooManyRequests || rateLimitRPCCodes[rpcCode] || containsAny(msg, rateLimitPhrases):
		return KindRateLimited
	case status == http.StatusPaymentRequired || quotaRPCCodes[rpcCode] || containsAny(msg, quotaPhrases):
		return KindQuotaExceeded
	case isTimeout(err, status) || containsAny(msg, timeoutPhrases):
		return KindTimeout
	default:
		return KindOther
	}
}

func isTimeout(err error, status int) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

// RetryAfter returns the provider's Retry-After hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var perr *rpcclient.ProviderError
	if errors.As(err, &perr) && perr != nil && perr.RetryAfter > 0 {
		return perr.RetryAfter
	}
	return 0
}
