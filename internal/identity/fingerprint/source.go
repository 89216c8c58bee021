// File: internal/identity/fingerprint/source.go
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/drawbot/api/schemas"
	"github.com/xkilldash9x/drawbot/internal/anty"
)

// ErrExhausted is returned when every fetch attempt either failed in
// transport or produced an implausible fingerprint.
var ErrExhausted = errors.New("fingerprint: retry budget exhausted")

// DefaultMaxRetries bounds the fetch-validate loop.
const DefaultMaxRetries = 20

// DefaultBackoff is the fixed wait between generator calls.
const DefaultBackoff = 100 * time.Millisecond

// GeneratorAPI is the slice of the provider client the source needs.
type GeneratorAPI interface {
	GetFingerprint(ctx context.Context, platform, browserType, browserVersion string) (*schemas.Fingerprint, error)
}

// Source fetches fingerprints from the remote generator and re-requests
// until one passes validation or the retry budget runs out.
type Source struct {
	api        GeneratorAPI
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
	// enforceValidation gates the plausibility check. The generator is
	// mostly trustworthy, so operators can disable enforcement to accept
	// every fingerprint; the default is to enforce.
	enforceValidation bool
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithBackoff overrides the inter-attempt wait.
func WithBackoff(d time.Duration) SourceOption {
	return func(s *Source) {
		if d >= 0 {
			s.backoff = d
		}
	}
}

// WithValidationEnforced toggles rejection of implausible fingerprints.
func WithValidationEnforced(enforce bool) SourceOption {
	return func(s *Source) { s.enforceValidation = enforce }
}

// NewSource builds a Source around the provider client.
func NewSource(api GeneratorAPI, logger *zap.Logger, opts ...SourceOption) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{
		api:               api,
		logger:            logger.With(zap.String("component", "fingerprint_source")),
		maxRetries:        DefaultMaxRetries,
		backoff:           DefaultBackoff,
		enforceValidation: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch requests fingerprints until one passes validation. Transport errors
// and validation failures both consume an attempt; a transport error on the
// final attempt propagates as-is so the caller sees the underlying cause.
// A quota signal aborts immediately regardless of remaining budget.
func (s *Source) Fetch(ctx context.Context, platform, browserType, browserVersion string) (*schemas.Fingerprint, error) {
	var lastErr error

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fingerprint: fetch aborted: %w", err)
		}

		fp, err := s.api.GetFingerprint(ctx, platform, browserType, browserVersion)
		if err != nil {
			if errors.Is(err, anty.ErrRateLimited) {
				return nil, err
			}
			if attempt == s.maxRetries {
				return nil, fmt.Errorf("fingerprint: fetch attempt %d: %w", attempt, err)
			}
			lastErr = err
			s.logger.Debug("Fingerprint fetch failed, retrying.",
				zap.Int("attempt", attempt), zap.Error(err))
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
			continue
		}

		report := Validate(fp)
		if report.Valid || !s.enforceValidation {
			if !report.Valid {
				// Enforcement off: accept but leave a trace of why the
				// fingerprint was suspect.
				s.logger.Warn("Accepting implausible fingerprint (validation not enforced).",
					zap.Strings("reasons", report.Reasons))
			}
			return fp, nil
		}

		lastErr = fmt.Errorf("fingerprint rejected: %v", report.Reasons)
		s.logger.Debug("Generated fingerprint failed validation, retrying.",
			zap.Int("attempt", attempt), zap.Strings("reasons", report.Reasons))
		if attempt == s.maxRetries {
			// Budget spent; no point sleeping before reporting exhaustion.
			break
		}
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: last error: %v", ErrExhausted, lastErr)
	}
	return nil, ErrExhausted
}

func (s *Source) wait(ctx context.Context) error {
	if s.backoff <= 0 {
		return nil
	}
	timer := time.NewTimer(s.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fingerprint: fetch aborted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
