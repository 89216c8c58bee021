// File: internal/identity/profile/provisioner.go
// Description: Creates, starts, stops, and deletes remote browser profiles.
// Every failure path guarantees that partially-created remote resources are
// compensated for, and local identifiers are reset regardless of whether the
// remote cleanup calls succeeded.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/drawbot/api/schemas"
	"github.com/xkilldash9x/drawbot/internal/anty"
	"github.com/xkilldash9x/drawbot/internal/identity/device"
	"github.com/xkilldash9x/drawbot/internal/identity/fingerprint"
)

// Sentinel errors for the distinct failure classes of a provisioning attempt.
var (
	// ErrFingerprintUnavailable means the generator retry budget ran out.
	ErrFingerprintUnavailable = errors.New("profile: no valid fingerprint available")
	// ErrNoProxySpecified means neither a custom proxy nor a pool proxy was supplied.
	ErrNoProxySpecified = errors.New("profile: no proxy specified for profile creation")
	// ErrCreationFailed means the provider accepted the call but returned no profile id.
	ErrCreationFailed = errors.New("profile: profile creation returned no id")
	// ErrStartFailed means the provider failed to launch the profile; the
	// profile has already been stopped and deleted when this is returned.
	ErrStartFailed = errors.New("profile: profile start failed")
	// ErrStartTimeout means the start call did not resolve within its budget.
	// No implicit cleanup has happened: the caller decides, because the
	// remote side effect may still have occurred.
	ErrStartTimeout = errors.New("profile: profile start timed out")
)

// API is the slice of the provider client the provisioner needs.
type API interface {
	GetFontList(ctx context.Context, platform, browserType, browserVersion string) ([]anty.Font, error)
	CreateProfile(ctx context.Context, payload any) (*anty.CreateProfileResponse, error)
	StartProfile(ctx context.Context, profileID int64) (*schemas.AutomationEndpoint, error)
	StopProfile(ctx context.Context, profileID int64) error
	DeleteProfile(ctx context.Context, profileID int64) error
}

// ProxyDeleter is the single registry operation teardown needs.
type ProxyDeleter interface {
	Delete(ctx context.Context, id int64)
}

// State is the mutable record of one provisioned profile. It is owned by
// exactly one worker and threaded by pointer through the retry loop; it is
// never shared across goroutines.
type State struct {
	ProfileID int64
	ProxyID   int64
	Endpoint  *schemas.AutomationEndpoint
}

// Clear resets the local identifiers. Called unconditionally at the end of
// teardown: local state must never keep referencing a remote id the caller
// no longer tracks, even when the remote deletes failed.
func (s *State) Clear() {
	s.ProfileID = 0
	s.ProxyID = 0
	s.Endpoint = nil
}

// CreateOptions parameterizes one profile creation.
type CreateOptions struct {
	// Name labels the remote profile.
	Name string
	// CustomProxy, when set, wins over Proxy.
	CustomProxy *schemas.RegisteredProxy
	// Proxy is the pool-resolved registered proxy for this attempt.
	Proxy *schemas.RegisteredProxy
}

// Provisioner assembles and manages remote browser profiles.
type Provisioner struct {
	api          API
	fingerprints schemas.FingerprintSource
	proxies      ProxyDeleter
	logger       *zap.Logger

	defaults       Defaults
	browserVersion string

	stopTimeout   time.Duration
	deleteTimeout time.Duration
}

// NewProvisioner builds a Provisioner.
func NewProvisioner(
	api API,
	fingerprints schemas.FingerprintSource,
	proxies ProxyDeleter,
	defaults Defaults,
	logger *zap.Logger,
) *Provisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{
		api:            api,
		fingerprints:   fingerprints,
		proxies:        proxies,
		logger:         logger.With(zap.String("component", "profile_provisioner")),
		defaults:       defaults,
		browserVersion: defaults.BrowserVersion,
		stopTimeout:    10 * time.Second,
		deleteTimeout:  30 * time.Second,
	}
}

// Create assembles a profile payload and registers it remotely. On success
// the returned State carries the new profile id and the bound proxy id; the
// profile is in the Created state and must be started or deleted by the
// caller.
func (p *Provisioner) Create(ctx context.Context, opts CreateOptions) (*State, error) {
	// 1. Fingerprint. Exhaustion is a distinct, retryable-by-rotation
	// condition; a quota signal passes through untouched.
	fp, err := p.fingerprints.Fetch(ctx, p.defaults.Platform, p.defaults.BrowserType, p.browserVersion)
	if err != nil {
		if errors.Is(err, anty.ErrRateLimited) {
			return nil, err
		}
		if errors.Is(err, fingerprint.ErrExhausted) {
			return nil, fmt.Errorf("%w: %v", ErrFingerprintUnavailable, err)
		}
		return nil, fmt.Errorf("profile: fetch fingerprint: %w", err)
	}

	// 2. Proxy resolution: an explicit custom proxy wins over the pool one.
	proxy := opts.CustomProxy
	if proxy == nil {
		proxy = opts.Proxy
	}
	if proxy == nil {
		return nil, ErrNoProxySpecified
	}

	// 3. Font catalog. Policy: select the full returned catalog rather than
	// the fingerprint's own font list - the provider renders its whole
	// platform set more consistently than a hand-picked subset.
	fonts, err := p.api.GetFontList(ctx, p.defaults.Platform, p.defaults.BrowserType, p.browserVersion)
	if err != nil {
		if errors.Is(err, anty.ErrRateLimited) {
			return nil, err
		}
		return nil, fmt.Errorf("profile: fetch font catalog: %w", err)
	}
	fontIDs := make([]int64, 0, len(fonts))
	for _, f := range fonts {
		fontIDs = append(fontIDs, f.ID)
	}

	// 4. Device identity. Generated fresh per attempt, currently inert.
	mac, err := device.RandomMAC()
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	deviceName := device.RandomDeviceName()

	payload := BuildPayload(opts.Name, fp, proxy, fontIDs, mac, deviceName, p.defaults)

	resp, err := p.api.CreateProfile(ctx, payload)
	if err != nil {
		// A quota signal must reach the orchestrator unwrapped.
		if errors.Is(err, anty.ErrRateLimited) {
			return nil, err
		}
		return nil, fmt.Errorf("profile: create: %w", err)
	}
	if !resp.OK() || resp.BrowserProfileID == 0 {
		return nil, ErrCreationFailed
	}

	p.logger.Info("Profile created.",
		zap.Int64("profile_id", resp.BrowserProfileID),
		zap.Int64("proxy_id", proxy.ID),
		zap.String("proxy_host", proxy.Host))

	return &State{ProfileID: resp.BrowserProfileID, ProxyID: proxy.ID}, nil
}

// Start launches the profile and returns its automation endpoint. The call
// runs under the client's start budget. A provider-side 5xx means the
// profile is dead for this attempt: it is stopped and deleted here, each
// best-effort with its own bound, before ErrStartFailed is returned. A
// deadline expiry returns ErrStartTimeout without implicit cleanup; the
// remote launch may still have happened and the caller decides what to do.
func (p *Provisioner) Start(ctx context.Context, profileID int64) (*schemas.AutomationEndpoint, error) {
	endpoint, err := p.api.StartProfile(ctx, profileID)
	if err == nil {
		p.logger.Info("Profile started.",
			zap.Int64("profile_id", profileID),
			zap.String("endpoint", endpoint.WebSocketURL()))
		return endpoint, nil
	}

	if errors.Is(err, anty.ErrRateLimited) {
		return nil, err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		p.logger.Warn("Profile start timed out; leaving cleanup to the caller.",
			zap.Int64("profile_id", profileID))
		return nil, fmt.Errorf("%w: profile %d", ErrStartTimeout, profileID)
	}

	var apiErr *anty.APIError
	if errors.As(err, &apiErr) && apiErr.IsServerError() {
		p.logger.Warn("Profile start failed on the provider side; cleaning up.",
			zap.Int64("profile_id", profileID), zap.Int("status", apiErr.Status))
		p.compensate(ctx, "stop profile", p.stopTimeout, func(cctx context.Context) error {
			return p.api.StopProfile(cctx, profileID)
		})
		p.compensate(ctx, "delete profile", p.deleteTimeout, func(cctx context.Context) error {
			return p.api.DeleteProfile(cctx, profileID)
		})
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
}

// Stop halts a running profile, best-effort. Safe to call on an
// already-stopped or unknown profile.
func (p *Provisioner) Stop(ctx context.Context, profileID int64) {
	if profileID == 0 {
		return
	}
	p.compensate(ctx, "stop profile", p.stopTimeout, func(cctx context.Context) error {
		return p.api.StopProfile(cctx, profileID)
	})
}

// Teardown runs the full compensating sequence for one provisioned profile:
// stop (unless the caller knows it is already stopped), delete the remote
// profile, delete the remote proxy. Each step is bounded and best-effort.
// The local state is cleared unconditionally afterwards - this is the core
// leak-prevention invariant.
func (p *Provisioner) Teardown(ctx context.Context, st *State, alreadyStopped bool) {
	if st == nil {
		return
	}
	defer st.Clear()

	if st.ProfileID != 0 {
		if !alreadyStopped {
			p.compensate(ctx, "stop profile", p.stopTimeout, func(cctx context.Context) error {
				return p.api.StopProfile(cctx, st.ProfileID)
			})
		}
		p.compensate(ctx, "delete profile", p.deleteTimeout, func(cctx context.Context) error {
			return p.api.DeleteProfile(cctx, st.ProfileID)
		})
	}

	if st.ProxyID != 0 && p.proxies != nil {
		p.compensate(ctx, "delete proxy", p.deleteTimeout, func(cctx context.Context) error {
			p.proxies.Delete(cctx, st.ProxyID)
			return nil
		})
	}
}

// compensate wraps one cleanup call with its own timeout and a catch-and-log
// policy. Cleanup errors are never propagated into the caller's control
// flow; they are recorded and the sequence moves on. The parent context's
// values are kept but its cancellation is not: cleanup must still run when
// the surrounding operation was cancelled.
func (p *Provisioner) compensate(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := fn(cctx); err != nil {
		p.logger.Warn("Cleanup step failed; continuing.",
			zap.String("step", name), zap.Error(err))
		return
	}
	p.logger.Debug("Cleanup step finished.", zap.String("step", name))
}
