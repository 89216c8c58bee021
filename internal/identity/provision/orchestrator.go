// File: internal/identity/provision/orchestrator.go
// Description: Runs the bounded create-and-start retry loop for one task,
// rotating candidate proxies between attempts and compensating for partial
// remote state on every failure edge. One orchestrator instance is owned by
// exactly one worker, so no internal synchronization is needed.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/drawbot/api/schemas"
	"github.com/xkilldash9x/drawbot/internal/anty"
	"github.com/xkilldash9x/drawbot/internal/identity/profile"
	"github.com/xkilldash9x/drawbot/internal/identity/proxypool"
)

// DefaultMaxRetries bounds the per-task attempt loop.
const DefaultMaxRetries = 3

// proxyDeleteTimeout bounds the compensating proxy delete on the
// create-failure edge.
const proxyDeleteTimeout = 30 * time.Second

// SignalError wraps one of the closed set of terminal outcomes. The caller
// branches on the Signal value, never on error strings.
type SignalError struct {
	Signal schemas.Signal
	Err    error
}

func (e *SignalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provision: %s: %v", e.Signal, e.Err)
	}
	return fmt.Sprintf("provision: %s", e.Signal)
}

func (e *SignalError) Unwrap() error { return e.Err }

// SignalOf extracts the terminal signal from a provisioning error, if any.
func SignalOf(err error) (schemas.Signal, bool) {
	var se *SignalError
	if errors.As(err, &se) {
		return se.Signal, true
	}
	return "", false
}

// Provisioner is the profile lifecycle surface the orchestrator drives.
type Provisioner interface {
	Create(ctx context.Context, opts profile.CreateOptions) (*profile.State, error)
	Start(ctx context.Context, profileID int64) (*schemas.AutomationEndpoint, error)
	Teardown(ctx context.Context, st *profile.State, alreadyStopped bool)
}

// attemptState is the ephemeral record of one pass through the retry loop.
// It lives on the orchestrator's stack for the duration of Provision and is
// discarded on exit; nothing here outlives the loop or crosses goroutines.
type attemptState struct {
	taskNumber  int
	attempt     int
	proxyString string
	usedProxies map[string]struct{}
}

func (a *attemptState) markUsed() {
	a.usedProxies[a.proxyString] = struct{}{}
}

func (a *attemptState) alreadyUsed() bool {
	_, ok := a.usedProxies[a.proxyString]
	return ok
}

// Orchestrator ties proxy selection, remote proxy registration, and profile
// creation into one retry loop per task.
type Orchestrator struct {
	registry    schemas.ProxyRegistry
	provisioner Provisioner
	logger      *zap.Logger
	maxRetries  int
	namePrefix  string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRetries overrides the attempt budget.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithNamePrefix overrides the remote profile name prefix.
func WithNamePrefix(prefix string) Option {
	return func(o *Orchestrator) {
		if prefix != "" {
			o.namePrefix = prefix
		}
	}
}

// New builds an Orchestrator. Each worker must own its own instance.
func New(registry schemas.ProxyRegistry, provisioner Provisioner, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if registry == nil || provisioner == nil {
		return nil, fmt.Errorf("provision: cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		registry:    registry,
		provisioner: provisioner,
		logger:      logger.With(zap.String("component", "provision_orchestrator")),
		maxRetries:  DefaultMaxRetries,
		namePrefix:  "drawbot",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Provision runs up to maxRetries create-and-start attempts for taskNumber,
// rotating through the candidate proxies. It returns a ProfileHandle on
// success or a *SignalError carrying one of the three terminal signals.
// Quota signals (HTTP 429) from anywhere in the chain are operation-scoped:
// the loop aborts immediately instead of rotating.
func (o *Orchestrator) Provision(ctx context.Context, proxies []string, taskNumber int) (*schemas.ProfileHandle, error) {
	log := o.logger.With(zap.Int("task", taskNumber))

	state := attemptState{
		taskNumber:  taskNumber,
		usedProxies: make(map[string]struct{}, o.maxRetries),
	}
	var lastErr error

	for state.attempt = 1; state.attempt <= o.maxRetries; state.attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &SignalError{Signal: schemas.SignalExhausted, Err: err}
		}

		state.proxyString = proxypool.Assign(proxies, taskNumber, state.attempt)
		if state.proxyString == "" {
			log.Error("No candidate proxies supplied.")
			return nil, &SignalError{Signal: schemas.SignalNoProxiesAvailable}
		}

		if state.alreadyUsed() {
			log.Debug("Proxy already burned this session, rotating.",
				zap.Int("attempt", state.attempt), zap.String("proxy", state.proxyString))
			continue
		}

		handle, err := o.attempt(ctx, log, &state)
		if err == nil {
			return handle, nil
		}

		if errors.Is(err, anty.ErrRateLimited) {
			log.Warn("Provider quota exhausted; aborting the whole operation.",
				zap.Int("attempt", state.attempt))
			return nil, &SignalError{Signal: schemas.SignalRateLimited, Err: err}
		}

		lastErr = err
		state.markUsed()
		log.Warn("Provisioning attempt failed, rotating proxy.",
			zap.Int("attempt", state.attempt),
			zap.String("proxy", state.proxyString),
			zap.Error(err))
	}

	log.Error("All provisioning attempts exhausted.",
		zap.Int("max_retries", o.maxRetries), zap.Error(lastErr))
	return nil, &SignalError{Signal: schemas.SignalExhausted, Err: lastErr}
}

// attempt executes one pass: parse the candidate, ensure the remote proxy,
// create the profile, start it. Every failure edge compensates for whatever
// was partially created before returning.
func (o *Orchestrator) attempt(ctx context.Context, log *zap.Logger, state *attemptState) (*schemas.ProfileHandle, error) {
	candidate, err := proxypool.Parse(state.proxyString)
	if err != nil {
		// Malformed line: burn it and move on, no remote calls were made.
		return nil, err
	}

	registered, err := o.registry.Ensure(ctx, candidate)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s-task%d-%s", o.namePrefix, state.taskNumber, uuid.NewString()[:8])
	st, err := o.provisioner.Create(ctx, profile.CreateOptions{
		Name:  name,
		Proxy: registered,
	})
	if err != nil {
		if !errors.Is(err, anty.ErrRateLimited) {
			// The profile does not exist, but the proxy registration might
			// be this attempt's leftover. Burn it so the next attempt
			// starts clean. The delete gets its own bound detached from the
			// caller's cancellation: cleanup must still run when the
			// surrounding operation was cancelled mid-attempt.
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), proxyDeleteTimeout)
			o.registry.Delete(dctx, registered.ID)
			cancel()
		}
		return nil, err
	}

	endpoint, err := o.provisioner.Start(ctx, st.ProfileID)
	if err != nil {
		// Full compensating sequence. ErrStartFailed means Start already
		// stopped and deleted the profile; Teardown tolerates repeating
		// those calls, and still handles the proxy.
		o.provisioner.Teardown(ctx, st, errors.Is(err, profile.ErrStartFailed))
		return nil, err
	}

	log.Info("Provisioning succeeded.",
		zap.Int("attempt", state.attempt),
		zap.Int64("profile_id", st.ProfileID),
		zap.Int64("proxy_id", registered.ID))

	return &schemas.ProfileHandle{
		ProfileID:   st.ProfileID,
		ProxyID:     registered.ID,
		ProxyString: state.proxyString,
		Endpoint:    endpoint,
	}, nil
}

// Teardown releases the remote resources behind a successful provision.
// It is idempotent: repeated calls on the same handle are no-ops after the
// first, and the handle's ids are cleared regardless of remote failures.
func (o *Orchestrator) Teardown(ctx context.Context, handle *schemas.ProfileHandle) {
	if handle == nil || (handle.ProfileID == 0 && handle.ProxyID == 0) {
		return
	}
	st := &profile.State{ProfileID: handle.ProfileID, ProxyID: handle.ProxyID}
	o.provisioner.Teardown(ctx, st, false)

	handle.ProfileID = 0
	handle.ProxyID = 0
	handle.Endpoint = nil
}
