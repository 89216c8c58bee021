// File: internal/identity/proxypool/pool.go
package proxypool

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xkilldash9x/drawbot/api/schemas"
)

// ErrInvalidFormat is returned by Parse for any line that is not exactly
// "host:port:user:pass". Callers log it and rotate to the next candidate;
// it never aborts a provisioning run on its own.
var ErrInvalidFormat = errors.New("proxypool: invalid proxy string format")

// Assign deterministically picks the candidate proxy for one provisioning
// attempt: proxies[(taskNumber + attempt - 1) mod N]. Task numbers and
// attempts both start at 1, so consecutive attempts of the same task walk
// the list with wraparound while distinct tasks start at distinct offsets.
// Returns "" when the list is empty.
func Assign(proxies []string, taskNumber, attempt int) string {
	n := len(proxies)
	if n == 0 {
		return ""
	}
	idx := (taskNumber + attempt - 1) % n
	if idx < 0 {
		idx += n
	}
	return proxies[idx]
}

// Parse splits a candidate line into its credential parts. The accepted
// shape is exactly four colon-delimited fields with a numeric port.
func Parse(raw string) (*schemas.ProxyCandidate, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: %q has %d colon-delimited fields, want 4", ErrInvalidFormat, raw, len(parts))
	}
	host, port, user, pass := parts[0], parts[1], parts[2], parts[3]
	if host == "" || port == "" {
		return nil, fmt.Errorf("%w: %q has an empty host or port", ErrInvalidFormat, raw)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("%w: %q has a non-numeric port", ErrInvalidFormat, raw)
	}
	return &schemas.ProxyCandidate{
		Host:     host,
		Port:     port,
		Username: user,
		Password: pass,
	}, nil
}
