// File: internal/identity/profile/provisioner_test.go
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/drawbot/api/schemas"
	"github.com/xkilldash9x/drawbot/internal/anty"
	"github.com/xkilldash9x/drawbot/internal/identity/fingerprint"
)

// -- Mocks --

type mockProviderAPI struct {
	mu sync.Mutex

	fonts    []anty.Font
	fontsErr error

	createResp *anty.CreateProfileResponse
	createErr  error

	startEndpoint *schemas.AutomationEndpoint
	startErr      error

	stopErr   error
	deleteErr error

	createPayloads []any
	startCalls     []int64
	stopCalls      []int64
	deleteCalls    []int64

	// ctx.Err() as observed by each cleanup call, for asserting detachment
	// from caller cancellation.
	stopCtxErrs   []error
	deleteCtxErrs []error
}

func (m *mockProviderAPI) GetFontList(ctx context.Context, platform, browserType, browserVersion string) ([]anty.Font, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fonts, m.fontsErr
}

func (m *mockProviderAPI) CreateProfile(ctx context.Context, payload any) (*anty.CreateProfileResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createPayloads = append(m.createPayloads, payload)
	return m.createResp, m.createErr
}

func (m *mockProviderAPI) StartProfile(ctx context.Context, profileID int64) (*schemas.AutomationEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls = append(m.startCalls, profileID)
	return m.startEndpoint, m.startErr
}

func (m *mockProviderAPI) StopProfile(ctx context.Context, profileID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls = append(m.stopCalls, profileID)
	m.stopCtxErrs = append(m.stopCtxErrs, ctx.Err())
	return m.stopErr
}

func (m *mockProviderAPI) DeleteProfile(ctx context.Context, profileID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, profileID)
	m.deleteCtxErrs = append(m.deleteCtxErrs, ctx.Err())
	return m.deleteErr
}

type mockFingerprintSource struct {
	fp  *schemas.Fingerprint
	err error
}

func (m *mockFingerprintSource) Fetch(ctx context.Context, platform, browserType, browserVersion string) (*schemas.Fingerprint, error) {
	return m.fp, m.err
}

type mockProxyDeleter struct {
	mu      sync.Mutex
	calls   []int64
	ctxErrs []error
}

func (m *mockProxyDeleter) Delete(ctx context.Context, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, id)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
}

func (m *mockProxyDeleter) deleted() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.calls...)
}

// -- Fixtures --

func testFingerprint() *schemas.Fingerprint {
	return &schemas.Fingerprint{
		CPU:                 schemas.FingerprintCPU{Architecture: "arm"},
		HardwareConcurrency: 8,
		DeviceMemory:        16,
		WebGL: schemas.FingerprintWebGL{
			UnmaskedVendor:   "Apple Inc.",
			UnmaskedRenderer: "Apple M1",
		},
		Platform:        "MacIntel",
		PlatformVersion: "14.5.0",
		UserAgent:       "Mozilla/5.0 test",
		Screen:          schemas.FingerprintScreen{Width: 2560, Height: 1600},
	}
}

func testProxy() *schemas.RegisteredProxy {
	return &schemas.RegisteredProxy{
		ID: 42, Host: "203.0.113.9", Port: "8080",
		Login: "user", Password: "secret", Type: "http",
		Name: "203.0.113.9:8080",
	}
}

func testDefaults() Defaults {
	return Defaults{
		Platform:         "macos",
		BrowserType:      "anty",
		WebRTCMode:       "altered",
		TimezoneMode:     "auto",
		LocaleMode:       "auto",
		GeolocationMode:  "auto",
		MediaDevicesMode: "real",
		PortsBlacklist:   "3389,5900",
	}
}

func newTestProvisioner(api *mockProviderAPI, src schemas.FingerprintSource, deleter ProxyDeleter) *Provisioner {
	return NewProvisioner(api, src, deleter, testDefaults(), zap.NewNop())
}

// -- Create --

func TestCreateSuccess(t *testing.T) {
	api := &mockProviderAPI{
		fonts:      []anty.Font{{ID: 1, Name: "Arial"}, {ID: 2, Name: "Helvetica"}},
		createResp: &anty.CreateProfileResponse{Success: json.RawMessage(`true`), BrowserProfileID: 555},
	}
	p := newTestProvisioner(api, &mockFingerprintSource{fp: testFingerprint()}, &mockProxyDeleter{})

	st, err := p.Create(context.Background(), CreateOptions{Name: "profile-1", Proxy: testProxy()})
	require.NoError(t, err)
	assert.Equal(t, int64(555), st.ProfileID)
	assert.Equal(t, int64(42), st.ProxyID)

	require.Len(t, api.createPayloads, 1)
	payload, ok := api.createPayloads[0].(*Payload)
	require.True(t, ok)
	assert.Equal(t, "profile-1", payload.Name)
	assert.Equal(t, []int64{1, 2}, payload.Fonts, "full font catalog is selected")
	assert.Equal(t, int64(42), payload.Proxy.ID)
	assert.Equal(t, "manual", payload.UserAgent.Mode)
	assert.Equal(t, "real", payload.Canvas.Mode)
	assert.Equal(t, "off", payload.MacAddress.Mode)
	assert.NotEmpty(t, payload.MacAddress.Value)
	assert.NotEmpty(t, payload.DeviceName.Value)
}

func TestCreateCustomProxyWins(t *testing.T) {
	api := &mockProviderAPI{
		createResp: &anty.CreateProfileResponse{Success: json.RawMessage(`1`), BrowserProfileID: 1},
	}
	p := newTestProvisioner(api, &mockFingerprintSource{fp: testFingerprint()}, &mockProxyDeleter{})

	custom := testProxy()
	custom.ID = 99
	st, err := p.Create(context.Background(), CreateOptions{
		Name: "x", CustomProxy: custom, Proxy: testProxy(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), st.ProxyID)
}

func TestCreateWithoutProxy(t *testing.T) {
	api := &mockProviderAPI{}
	p := newTestProvisioner(api, &mockFingerprintSource{fp: testFingerprint()}, &mockProxyDeleter{})

	_, err := p.Create(context.Background(), CreateOptions{Name: "x"})
	assert.ErrorIs(t, err, ErrNoProxySpecified)
	assert.Empty(t, api.createPayloads)
}

func TestCreateFingerprintExhaustion(t *testing.T) {
	api := &mockProviderAPI{}
	src := &mockFingerprintSource{err: fingerprint.ErrExhausted}
	p := newTestProvisioner(api, src, &mockProxyDeleter{})

	_, err := p.Create(context.Background(), CreateOptions{Name: "x", Proxy: testProxy()})
	assert.ErrorIs(t, err, ErrFingerprintUnavailable)
}

func TestCreateRateLimitPassesThroughUnwrapped(t *testing.T) {
	t.Run("from fingerprint fetch", func(t *testing.T) {
		p := newTestProvisioner(&mockProviderAPI{}, &mockFingerprintSource{err: anty.ErrRateLimited}, &mockProxyDeleter{})
		_, err := p.Create(context.Background(), CreateOptions{Name: "x", Proxy: testProxy()})
		assert.ErrorIs(t, err, anty.ErrRateLimited)
	})

	t.Run("from profile create", func(t *testing.T) {
		api := &mockProviderAPI{createErr: anty.ErrRateLimited}
		p := newTestProvisioner(api, &mockFingerprintSource{fp: testFingerprint()}, &mockProxyDeleter{})
		_, err := p.Create(context.Background(), CreateOptions{Name: "x", Proxy: testProxy()})
		assert.ErrorIs(t, err, anty.ErrRateLimited)
	})
}

func TestCreateMissingProfileID(t *testing.T) {
	cases := map[string]*anty.CreateProfileResponse{
		"success false": {Success: json.RawMessage(`false`), BrowserProfileID: 555},
		"zero id":       {Success: json.RawMessage(`true`), BrowserProfileID: 0},
	}
	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			api := &mockProviderAPI{createResp: resp}
			p := newTestProvisioner(api, &mockFingerprintSource{fp: testFingerprint()}, &mockProxyDeleter{})
			_, err := p.Create(context.Background(), CreateOptions{Name: "x", Proxy: testProxy()})
			assert.ErrorIs(t, err, ErrCreationFailed)
		})
	}
}

// -- Start --

func TestStartSuccess(t *testing.T) {
	api := &mockProviderAPI{
		startEndpoint: &schemas.AutomationEndpoint{Host: "127.0.0.1", Port: 9222, WsPath: "/devtools/browser/abc"},
	}
	p := newTestProvisioner(api, &mockFingerprintSource{}, &mockProxyDeleter{})

	ep, err := p.Start(context.Background(), 555)
	require.NoError(t, err)
	assert.Equal(t, 9222, ep.Port)
	assert.Empty(t, api.stopCalls)
	assert.Empty(t, api.deleteCalls)
}

func TestStartServerErrorCompensates(t *testing.T) {
	api := &mockProviderAPI{startErr: &anty.APIError{Status: 500, Body: "launch failed"}}
	p := newTestProvisioner(api, &mockFingerprintSource{}, &mockProxyDeleter{})

	_, err := p.Start(context.Background(), 555)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartFailed)

	// The dead profile was stopped then deleted before the error returned.
	assert.Equal(t, []int64{555}, api.stopCalls)
	assert.Equal(t, []int64{555}, api.deleteCalls)
}

func TestStartTimeoutLeavesCleanupToCaller(t *testing.T) {
	api := &mockProviderAPI{startErr: context.DeadlineExceeded}
	p := newTestProvisioner(api, &mockFingerprintSource{}, &mockProxyDeleter{})

	_, err := p.Start(context.Background(), 555)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartTimeout)
	assert.Empty(t, api.stopCalls, "timeout must not trigger implicit cleanup")
	assert.Empty(t, api.deleteCalls)
}

func TestStartRateLimitPassesThrough(t *testing.T) {
	api := &mockProviderAPI{startErr: anty.ErrRateLimited}
	p := newTestProvisioner(api, &mockFingerprintSource{}, &mockProxyDeleter{})

	_, err := p.Start(context.Background(), 555)
	assert.ErrorIs(t, err, anty.ErrRateLimited)
	assert.Empty(t, api.stopCalls)
	assert.Empty(t, api.deleteCalls)
}

func TestStartClientErrorNoCompensation(t *testing.T) {
	api := &mockProviderAPI{startErr: &anty.APIError{Status: 404, Body: "unknown profile"}}
	p := newTestProvisioner(api, &mockFingerprintSource{}, &mockProxyDeleter{})

	_, err := p.Start(context.Background(), 555)
	assert.ErrorIs(t, err, ErrStartFailed)
	assert.Empty(t, api.stopCalls, "4xx is not the provider's fault; no cleanup here")
	assert.Empty(t, api.deleteCalls)
}

// -- Teardown --

func TestTeardownFullSequence(t *testing.T) {
	api := &mockProviderAPI{}
	deleter := &mockProxyDeleter{}
	p := newTestProvisioner(api, &mockFingerprintSource{}, deleter)

	st := &State{ProfileID: 555, ProxyID: 42}
	p.Teardown(context.Background(), st, false)

	assert.Equal(t, []int64{555}, api.stopCalls)
	assert.Equal(t, []int64{555}, api.deleteCalls)
	assert.Equal(t, []int64{42}, deleter.deleted())
	assert.Zero(t, st.ProfileID)
	assert.Zero(t, st.ProxyID)
	assert.Nil(t, st.Endpoint)
}

func TestTeardownSkipsStopWhenAlreadyStopped(t *testing.T) {
	api := &mockProviderAPI{}
	p := newTestProvisioner(api, &mockFingerprintSource{}, &mockProxyDeleter{})

	st := &State{ProfileID: 555}
	p.Teardown(context.Background(), st, true)

	assert.Empty(t, api.stopCalls)
	assert.Equal(t, []int64{555}, api.deleteCalls)
}

func TestTeardownClearsStateDespiteRemoteFailures(t *testing.T) {
	api := &mockProviderAPI{
		stopErr:   errors.New("stop refused"),
		deleteErr: errors.New("delete refused"),
	}
	deleter := &mockProxyDeleter{}
	p := newTestProvisioner(api, &mockFingerprintSource{}, deleter)

	st := &State{ProfileID: 555, ProxyID: 42, Endpoint: &schemas.AutomationEndpoint{Port: 9222}}
	p.Teardown(context.Background(), st, false)

	// Every remote call failed; the local ids are gone regardless.
	assert.Zero(t, st.ProfileID)
	assert.Zero(t, st.ProxyID)
	assert.Nil(t, st.Endpoint)
	assert.Equal(t, []int64{42}, deleter.deleted(), "proxy delete still attempted")
}

func TestTeardownRunsUnderCancelledContext(t *testing.T) {
	api := &mockProviderAPI{}
	deleter := &mockProxyDeleter{}
	p := newTestProvisioner(api, &mockFingerprintSource{}, deleter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &State{ProfileID: 555, ProxyID: 42}
	p.Teardown(ctx, st, false)

	// Cleanup detaches from the caller's cancellation: every remote call
	// runs, and each one observes a live context. The proxy delete in
	// particular must not be the odd one out, or the remote proxy leaks
	// whenever a task is cancelled.
	assert.Equal(t, []int64{555}, api.stopCalls)
	assert.Equal(t, []int64{555}, api.deleteCalls)
	assert.Equal(t, []int64{42}, deleter.deleted())

	for _, err := range api.stopCtxErrs {
		assert.NoError(t, err, "stop saw a cancelled context")
	}
	for _, err := range api.deleteCtxErrs {
		assert.NoError(t, err, "profile delete saw a cancelled context")
	}
	deleter.mu.Lock()
	defer deleter.mu.Unlock()
	require.Len(t, deleter.ctxErrs, 1)
	assert.NoError(t, deleter.ctxErrs[0], "proxy delete saw a cancelled context")
}

func TestTeardownNoOpWithoutIDs(t *testing.T) {
	api := &mockProviderAPI{}
	deleter := &mockProxyDeleter{}
	p := newTestProvisioner(api, &mockFingerprintSource{}, deleter)

	p.Teardown(context.Background(), &State{}, false)
	p.Teardown(context.Background(), nil, false)

	assert.Empty(t, api.stopCalls)
	assert.Empty(t, api.deleteCalls)
	assert.Empty(t, deleter.deleted())
}

// -- Payload --

func TestBuildPayloadFoldsFingerprintAndProxy(t *testing.T) {
	fp := testFingerprint()
	fp.OSVersion = ""
	proxy := testProxy()

	payload := BuildPayload("p", fp, proxy, []int64{7}, "02:AA:BB:CC:DD:EE", "Sarahs-MacBook-Pro", testDefaults())

	assert.Equal(t, "2560x1600", payload.Screen.Resolution)
	assert.Equal(t, 8, payload.CPU.Value)
	assert.Equal(t, 16, payload.Memory.Value)
	assert.Equal(t, "Apple M1", payload.WebGLInfo.Renderer)
	assert.Equal(t, "secret", payload.Proxy.Password)
	assert.Equal(t, "altered", payload.WebRTC.Mode)
	assert.Equal(t, "protect", payload.Ports.Mode)
	// OSVersion falls back to the platform version when the generator omits it.
	assert.Equal(t, "14.5.0", payload.OSVersion)
}
