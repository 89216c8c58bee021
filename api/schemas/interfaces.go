package schemas

import (
	"context"
)

// -- Provisioning Interfaces --

// FingerprintSource produces synthetic browser fingerprints for a given
// platform/browser pair. Implementations are expected to retry transient
// generator failures internally and only surface exhaustion or quota errors.
type FingerprintSource interface {
	Fetch(ctx context.Context, platform, browserType, browserVersion string) (*Fingerprint, error)
}

// ProxyRegistry manages proxy objects on the remote service. Create must
// surface HTTP 429 as a distinguished error and must not retry it; Delete is
// best-effort and never propagates failures to teardown paths.
type ProxyRegistry interface {
	FindByCredentials(ctx context.Context, host, port, login, password string) (*RegisteredProxy, error)
	Ensure(ctx context.Context, candidate *ProxyCandidate) (*RegisteredProxy, error)
	Delete(ctx context.Context, id int64)
}

// Signal is the closed set of terminal outcomes a provisioning run can
// surface to its caller besides success. Callers never see raw transport
// errors for the common failure paths.
type Signal string

const (
	// SignalNoProxiesAvailable means the candidate proxy list was empty.
	SignalNoProxiesAvailable Signal = "NO_PROXIES_AVAILABLE"
	// SignalRateLimited means the remote provider answered HTTP 429 somewhere
	// in the chain. It is operation-scoped: the whole attempt chain aborts so
	// the caller can apply its own cooldown policy.
	SignalRateLimited Signal = "DOLPHIN_RATE_LIMIT_429"
	// SignalExhausted means every attempt in the retry budget failed.
	SignalExhausted Signal = "EXHAUSTED"
)
