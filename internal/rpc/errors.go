package rpc

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"syscall"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// IsTooManyResultsError reports whether err is the provider's "query
// returned more than N results" rejection, the signal that triggers a chunk
// split (errkind.MaxResultsExceeded) rather than an ordinary retry. The
// string is the error's data payload when err is an rpc.DataError, the
// error text when only the plain-text check matched, and empty otherwise.
func IsTooManyResultsError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var dataErr gethrpc.DataError
	errData := ""
	if errors.As(err, &dataErr) {
		errData = fmt.Sprintf("%v", dataErr.ErrorData())
		if regexp.MustCompile(`(?i)query returned more than \d+ results`).MatchString(errData) {
			return true, errData
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "query returned more than") ||
		strings.Contains(errStr, "exceeds max results") ||
		(strings.Contains(errStr, "limit exceeded") && strings.Contains(errStr, "block range")) {
		return true, err.Error()
	}

	return false, errData
}

// isRetryable implements the §4.1 isRetryable(err) contract: network,
// timeout, connection, 5xx, rate-limit, JSON-RPC transient errors,
// "nonce/gas-price too low", "block not found", "pending transaction".
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientSubstrings := []string{
		"timeout", "deadline exceeded", "context deadline exceeded",
		"connection refused", "connection reset", "connection pool",
		"no available connection",
		"429", "too many requests", "rate limit",
		"502", "503", "504", "bad gateway", "service unavailable", "gateway timeout",
		"nonce too low", "gas price too low",
		"block not found",
		"pending transaction",
	}
	for _, s := range transientSubstrings {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	return false
}

// shouldSwitchProvider implements the §4.1 shouldSwitchProvider(err)
// contract: 429, any 4xx/5xx, rate limit / quota / unavailable / gateway
// timeout / node syncing / connection refused.
func shouldSwitchProvider(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	switchSubstrings := []string{
		"429", "rate limit", "quota exceeded", "service unavailable",
		"bad gateway", "gateway timeout", "rpc unavailable",
		"node syncing", "connection refused",
	}
	for _, s := range switchSubstrings {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	if matched, _ := regexp.MatchString(`\b[45]\d{2}\b`, errStr); matched {
		return true
	}

	return false
}

const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
)

// retryDelay implements the §4.1 retryDelay(err, attempt) contract:
// exponential backoff with base = 1s and ceiling = 30s; the growth curve is
// base*attempt^3 for rate-limit errors, base*attempt^2 for server errors,
// base*attempt (linear) for plain network errors.
func retryDelay(err error, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	errStr := ""
	if err != nil {
		errStr = strings.ToLower(err.Error())
	}

	var exponent float64
	switch {
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests"):
		exponent = 3
	case strings.Contains(errStr, "502") || strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") || strings.Contains(errStr, "service unavailable"):
		exponent = 2
	default:
		exponent = 1
	}

	backoff := time.Duration(float64(retryBaseDelay) * math.Pow(float64(attempt), exponent))
	if backoff > retryMaxDelay {
		backoff = retryMaxDelay
	}

	jitterRange := float64(backoff) * 0.25
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
	result := time.Duration(float64(backoff) + jitter)
	if result < 0 {
		result = 0
	}
	if result > retryMaxDelay {
		result = retryMaxDelay
	}

	return result
}

// ParseSuggestedBlockRange extracts a suggested block range from a provider
// error message of the form "... Try with this block range [0x.., 0x..]".
func ParseSuggestedBlockRange(msg string) (fromBlock, toBlock uint64, ok bool) {
	if msg == "" {
		return 0, 0, false
	}

	re := regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
	matches := re.FindStringSubmatch(msg)
	const expectedMatches = 3
	if len(matches) != expectedMatches {
		return 0, 0, false
	}

	from, err1 := parseUint64orHex(matches[1])
	to, err2 := parseUint64orHex(matches[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}

	return from, to, true
}

func parseUint64orHex(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") {
		var v uint64
		_, err := fmt.Sscanf(s, "0x%x", &v)
		return v, err
	}
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
