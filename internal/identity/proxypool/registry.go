// File: internal/identity/proxypool/registry.go
package proxypool

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/drawbot/api/schemas"
	"github.com/xkilldash9x/drawbot/internal/anty"
)

// ErrCreationFailed is returned when the provider accepted a proxy creation
// call but the response carried no usable id.
var ErrCreationFailed = errors.New("proxypool: remote proxy creation returned no id")

// ProxyAPI is the slice of the provider client the registry needs.
type ProxyAPI interface {
	ListProxies(ctx context.Context) ([]schemas.RegisteredProxy, error)
	CreateProxy(ctx context.Context, req anty.CreateProxyRequest) (*schemas.RegisteredProxy, error)
	DeleteProxies(ctx context.Context, ids []int64) error
}

// Registry looks up and registers proxy objects on the remote service.
// It never retries a quota signal: an ErrRateLimited from the provider
// propagates immediately so the orchestrator can abort the whole operation.
type Registry struct {
	api       ProxyAPI
	logger    *zap.Logger
	proxyType string
}

var _ schemas.ProxyRegistry = (*Registry)(nil)

// NewRegistry builds a Registry. proxyType is the protocol recorded on
// newly created proxies (e.g. "http", "socks5").
func NewRegistry(api ProxyAPI, proxyType string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if proxyType == "" {
		proxyType = "http"
	}
	return &Registry{
		api:       api,
		logger:    logger.With(zap.String("component", "proxy_registry")),
		proxyType: proxyType,
	}
}

// FindByCredentials lists every remote proxy and matches the full credential
// 4-tuple client-side; the API offers no combined server-side filter.
// Returns (nil, nil) when no proxy matches.
func (r *Registry) FindByCredentials(ctx context.Context, host, port, login, password string) (*schemas.RegisteredProxy, error) {
	proxies, err := r.api.ListProxies(ctx)
	if err != nil {
		return nil, fmt.Errorf("proxypool: list remote proxies: %w", err)
	}
	for i := range proxies {
		if proxies[i].Matches(host, port, login, password) {
			return &proxies[i], nil
		}
	}
	return nil, nil
}

// Ensure returns the remote proxy matching the candidate, creating it when
// absent. Quota signals from either call propagate unwrapped.
func (r *Registry) Ensure(ctx context.Context, candidate *schemas.ProxyCandidate) (*schemas.RegisteredProxy, error) {
	existing, err := r.FindByCredentials(ctx, candidate.Host, candidate.Port, candidate.Username, candidate.Password)
	if err != nil {
		if errors.Is(err, anty.ErrRateLimited) {
			return nil, anty.ErrRateLimited
		}
		return nil, err
	}
	if existing != nil {
		r.logger.Debug("Reusing remote proxy.",
			zap.Int64("proxy_id", existing.ID), zap.String("host", existing.Host))
		return existing, nil
	}

	created, err := r.api.CreateProxy(ctx, anty.CreateProxyRequest{
		Name:     fmt.Sprintf("%s:%s", candidate.Host, candidate.Port),
		Host:     candidate.Host,
		Port:     candidate.Port,
		Login:    candidate.Username,
		Password: candidate.Password,
		Type:     r.proxyType,
	})
	if err != nil {
		if errors.Is(err, anty.ErrRateLimited) {
			return nil, anty.ErrRateLimited
		}
		return nil, fmt.Errorf("proxypool: create remote proxy: %w", err)
	}
	if created == nil || created.ID == 0 {
		return nil, ErrCreationFailed
	}

	r.logger.Info("Registered remote proxy.",
		zap.Int64("proxy_id", created.ID), zap.String("host", created.Host))
	return created, nil
}

// Delete removes a remote proxy, best-effort. Failures are logged and
// swallowed: teardown must never abort because one of several cleanup calls
// failed.
func (r *Registry) Delete(ctx context.Context, id int64) {
	if id == 0 {
		return
	}
	if err := r.api.DeleteProxies(ctx, []int64{id}); err != nil {
		r.logger.Warn("Failed to delete remote proxy; continuing.",
			zap.Int64("proxy_id", id), zap.Error(err))
		return
	}
	r.logger.Debug("Deleted remote proxy.", zap.Int64("proxy_id", id))
}
