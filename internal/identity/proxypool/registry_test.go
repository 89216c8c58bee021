// File: internal/identity/proxypool/registry_test.go
package proxypool

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/drawbot/api/schemas"
	"github.com/xkilldash9x/drawbot/internal/anty"
)

// mockProxyAPI is a scriptable stand-in for the provider's proxy endpoints.
type mockProxyAPI struct {
	mu sync.Mutex

	listResult []schemas.RegisteredProxy
	listErr    error

	createResult *schemas.RegisteredProxy
	createErr    error

	deleteErr error

	listCalls   int
	createCalls []anty.CreateProxyRequest
	deleteCalls [][]int64
}

func (m *mockProxyAPI) ListProxies(ctx context.Context) ([]schemas.RegisteredProxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return m.listResult, m.listErr
}

func (m *mockProxyAPI) CreateProxy(ctx context.Context, req anty.CreateProxyRequest) (*schemas.RegisteredProxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls = append(m.createCalls, req)
	return m.createResult, m.createErr
}

func (m *mockProxyAPI) DeleteProxies(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, ids)
	return m.deleteErr
}

func TestFindByCredentialsMatchesFullTuple(t *testing.T) {
	api := &mockProxyAPI{listResult: []schemas.RegisteredProxy{
		{ID: 1, Host: "203.0.113.9", Port: "8080", Login: "user", Password: "other"},
		{ID: 2, Host: "203.0.113.9", Port: "8080", Login: "user", Password: "secret"},
		{ID: 3, Host: "203.0.113.9", Port: "8081", Login: "user", Password: "secret"},
	}}
	r := NewRegistry(api, "http", zap.NewNop())

	found, err := r.FindByCredentials(context.Background(), "203.0.113.9", "8080", "user", "secret")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(2), found.ID, "only the exact 4-tuple may match")
}

func TestFindByCredentialsAbsent(t *testing.T) {
	api := &mockProxyAPI{listResult: []schemas.RegisteredProxy{
		{ID: 1, Host: "203.0.113.9", Port: "8080", Login: "user", Password: "secret"},
	}}
	r := NewRegistry(api, "http", zap.NewNop())

	found, err := r.FindByCredentials(context.Background(), "198.51.100.1", "8080", "user", "secret")
	require.NoError(t, err)
	assert.Nil(t, found, "absence is (nil, nil), not an error")
}

func TestEnsureReusesExistingProxy(t *testing.T) {
	api := &mockProxyAPI{listResult: []schemas.RegisteredProxy{
		{ID: 42, Host: "203.0.113.9", Port: "8080", Login: "user", Password: "secret"},
	}}
	r := NewRegistry(api, "http", zap.NewNop())

	got, err := r.Ensure(context.Background(), &schemas.ProxyCandidate{
		Host: "203.0.113.9", Port: "8080", Username: "user", Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	assert.Empty(t, api.createCalls, "an existing proxy must not be re-created")
}

func TestEnsureCreatesWhenAbsent(t *testing.T) {
	api := &mockProxyAPI{
		createResult: &schemas.RegisteredProxy{ID: 7, Host: "203.0.113.9", Port: "8080"},
	}
	r := NewRegistry(api, "socks5", zap.NewNop())

	got, err := r.Ensure(context.Background(), &schemas.ProxyCandidate{
		Host: "203.0.113.9", Port: "8080", Username: "user", Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)

	require.Len(t, api.createCalls, 1)
	req := api.createCalls[0]
	assert.Equal(t, "203.0.113.9:8080", req.Name)
	assert.Equal(t, "user", req.Login)
	assert.Equal(t, "secret", req.Password)
	assert.Equal(t, "socks5", req.Type)
}

func TestEnsurePropagatesRateLimitUnwrapped(t *testing.T) {
	t.Run("on list", func(t *testing.T) {
		api := &mockProxyAPI{listErr: anty.ErrRateLimited}
		r := NewRegistry(api, "http", zap.NewNop())

		_, err := r.Ensure(context.Background(), &schemas.ProxyCandidate{Host: "h", Port: "1"})
		assert.ErrorIs(t, err, anty.ErrRateLimited)
	})

	t.Run("on create", func(t *testing.T) {
		api := &mockProxyAPI{createErr: anty.ErrRateLimited}
		r := NewRegistry(api, "http", zap.NewNop())

		_, err := r.Ensure(context.Background(), &schemas.ProxyCandidate{Host: "h", Port: "1"})
		assert.ErrorIs(t, err, anty.ErrRateLimited)
	})
}

func TestEnsureCreationWithoutID(t *testing.T) {
	api := &mockProxyAPI{createResult: &schemas.RegisteredProxy{ID: 0}}
	r := NewRegistry(api, "http", zap.NewNop())

	_, err := r.Ensure(context.Background(), &schemas.ProxyCandidate{Host: "h", Port: "1"})
	assert.ErrorIs(t, err, ErrCreationFailed)
}

func TestDeleteIsBestEffort(t *testing.T) {
	api := &mockProxyAPI{deleteErr: errors.New("remote says no")}
	r := NewRegistry(api, "http", zap.NewNop())

	// Must not panic or surface the error.
	r.Delete(context.Background(), 9)
	require.Len(t, api.deleteCalls, 1)
	assert.Equal(t, []int64{9}, api.deleteCalls[0])
}

func TestDeleteSkipsZeroID(t *testing.T) {
	api := &mockProxyAPI{}
	r := NewRegistry(api, "http", zap.NewNop())

	r.Delete(context.Background(), 0)
	assert.Empty(t, api.deleteCalls)
}
