// File: internal/engine/engine.go
// Description: Runs the per-task workers. Each worker owns exactly one
// orchestrator instance and therefore at most one live proxy/profile pair;
// workers share nothing mutable except the read-only candidate proxy list
// and the provider's request quota.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/drawbot/api/schemas"
	"github.com/xkilldash9x/drawbot/internal/browser"
	"github.com/xkilldash9x/drawbot/internal/config"
	"github.com/xkilldash9x/drawbot/internal/identity/provision"
)

// Task is one unit of work: one lottery entry driven through one freshly
// provisioned browser identity.
type Task struct {
	ID     string
	Number int
}

// Orchestrator is the per-worker provisioning surface.
type Orchestrator interface {
	Provision(ctx context.Context, proxies []string, taskNumber int) (*schemas.ProfileHandle, error)
	Teardown(ctx context.Context, handle *schemas.ProfileHandle)
}

// FlowFunc drives the website flow inside an attached browser session. The
// actual DOM scripting lives outside this repository and is injected here.
type FlowFunc func(ctx context.Context, sess *browser.Session, task Task) error

// AttachFunc connects to a started profile. Overridable for tests.
type AttachFunc func(ctx context.Context, endpoint *schemas.AutomationEndpoint, timeout time.Duration, logger *zap.Logger) (*browser.Session, error)

// Engine fans tasks out to workers.
type Engine struct {
	cfg             config.EngineConfig
	browserCfg      config.BrowserConfig
	logger          *zap.Logger
	proxies         []string
	newOrchestrator func() (Orchestrator, error)
	attach          AttachFunc
	flow            FlowFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithAttachFunc replaces the browser attach function. Tests use this to
// avoid needing a live CDP endpoint.
func WithAttachFunc(fn AttachFunc) Option {
	return func(e *Engine) { e.attach = fn }
}

// WithFlow injects the website flow driver. Without one, workers stop after
// proving the automation endpoint is reachable.
func WithFlow(fn FlowFunc) Option {
	return func(e *Engine) { e.flow = fn }
}

// New builds an Engine. newOrchestrator is called once per worker so every
// worker owns a private orchestrator instance.
func New(
	cfg config.EngineConfig,
	browserCfg config.BrowserConfig,
	proxies []string,
	newOrchestrator func() (Orchestrator, error),
	logger *zap.Logger,
	opts ...Option,
) (*Engine, error) {
	if newOrchestrator == nil {
		return nil, fmt.Errorf("engine: newOrchestrator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:             cfg,
		browserCfg:      browserCfg,
		logger:          logger.With(zap.String("component", "engine")),
		proxies:         proxies,
		newOrchestrator: newOrchestrator,
		attach:          browser.Attach,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes cfg.Tasks tasks with at most cfg.Concurrency in flight.
// A quota signal from any worker cancels the whole group: hammering a
// rate-limited provider with the remaining tasks would only deepen the
// cooldown.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	e.logger.Info("Engine starting.",
		zap.Int("tasks", e.cfg.Tasks),
		zap.Int("concurrency", e.cfg.Concurrency),
		zap.Int("proxies", len(e.proxies)))

	for i := 1; i <= e.cfg.Tasks; i++ {
		task := Task{ID: uuid.NewString(), Number: i}
		g.Go(func() error {
			return e.runTask(gctx, task)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.logger.Info("Engine finished.")
	return nil
}

// runTask provisions one identity, drives the flow, and tears down exactly
// once. Per-task failures other than quota signals are logged and absorbed
// so sibling tasks keep running.
func (e *Engine) runTask(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		// The group was cancelled while this task waited for a slot.
		return err
	}
	log := e.logger.With(zap.Int("task", task.Number), zap.String("task_id", task.ID))

	orch, err := e.newOrchestrator()
	if err != nil {
		return fmt.Errorf("task %d: build orchestrator: %w", task.Number, err)
	}

	handle, err := orch.Provision(ctx, e.proxies, task.Number)
	if err != nil {
		if signal, ok := provision.SignalOf(err); ok && signal == schemas.SignalRateLimited {
			log.Error("Provider rate limited; stopping the engine.", zap.Error(err))
			return err
		}
		log.Error("Provisioning failed for task.", zap.Error(err))
		return nil
	}

	// Exactly-once teardown for this task, deferred so the flow can fail
	// however it likes. Teardown is idempotent and runs even when ctx is
	// already cancelled.
	defer orch.Teardown(ctx, handle)

	taskCtx := ctx
	if e.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, e.cfg.TaskTimeout)
		defer cancel()
	}

	sess, err := e.attach(taskCtx, handle.Endpoint, e.browserCfg.AttachTimeout, e.logger)
	if err != nil {
		log.Error("Failed to attach to provisioned browser.", zap.Error(err))
		return nil
	}
	defer sess.Close()

	if e.cfg.TargetURL != "" {
		if err := sess.Navigate(e.cfg.TargetURL); err != nil {
			log.Error("Initial navigation failed.", zap.Error(err))
			return nil
		}
	}

	if e.flow != nil {
		if err := e.flow(taskCtx, sess, task); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Warn("Task flow aborted.", zap.Error(err))
			} else {
				log.Error("Task flow failed.", zap.Error(err))
			}
			return nil
		}
	}

	log.Info("Task finished.")
	return nil
}
