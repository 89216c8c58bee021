package schemas

import (
	"encoding/json"
	"fmt"
)

// -- Fingerprint Schemas --

// FingerprintCPU describes the spoofed CPU of a generated fingerprint.
type FingerprintCPU struct {
	Architecture string `json:"architecture"`
}

// FingerprintWebGL carries the unmasked WebGL identity strings together with
// the raw webgl2 parameter maximums the remote generator produced.
type FingerprintWebGL struct {
	UnmaskedVendor   string `json:"unmaskedVendor"`
	UnmaskedRenderer string `json:"unmaskedRenderer"`
}

// FingerprintScreen is the spoofed display geometry.
type FingerprintScreen struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FingerprintConnection mirrors the Network Information API surface exposed
// by the started browser.
type FingerprintConnection struct {
	Downlink      float64 `json:"downlink"`
	RTT           int     `json:"rtt"`
	EffectiveType string  `json:"effectiveType"`
	SaveData      bool    `json:"saveData"`
}

// Fingerprint is one synthetic hardware/browser identity as returned by the
// remote generator. A fingerprint is produced fresh per provisioning attempt,
// consumed exactly once when the profile payload is assembled, and never
// persisted.
type Fingerprint struct {
	CPU                 FingerprintCPU        `json:"cpu"`
	HardwareConcurrency int                   `json:"hardwareConcurrency"`
	DeviceMemory        int                   `json:"deviceMemory"`
	WebGL               FingerprintWebGL      `json:"webgl"`
	// WebGL2Maximum is passed through to the profile payload verbatim; its
	// internal structure is owned by the remote service.
	WebGL2Maximum json.RawMessage `json:"webgl2Maximum"`
	// WebGPU is double-JSON-encoded by the generator: the string decodes to
	// another JSON string, which decodes to the actual vendor/architecture
	// document. See fingerprint.Validate for the cross-check.
	WebGPU          string                `json:"webgpu"`
	Platform        string                `json:"platform"`
	PlatformVersion string                `json:"platformVersion"`
	OSVersion       string                `json:"osVersion"`
	Screen          FingerprintScreen     `json:"screen"`
	Connection      FingerprintConnection `json:"connection"`
	Fonts           []string              `json:"fonts"`
	UserAgent       string                `json:"userAgent"`
	Vendor          string                `json:"vendor"`
	VendorSub       string                `json:"vendorSub"`
	Product         string                `json:"product"`
	ProductSub      string                `json:"productSub"`
	AppCodeName     string                `json:"appCodeName"`
}

// -- Proxy Schemas --

// ProxyCandidate is a proxy parsed from a plain "host:port:user:pass" line.
// It is not yet known to the remote service; registering it yields a
// RegisteredProxy.
type ProxyCandidate struct {
	Host     string
	Port     string
	Username string
	Password string
}

// RegisteredProxy is a proxy object owned by the remote service. The
// orchestrator only ever reads it; all mutation happens remotely.
type RegisteredProxy struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Host      string `json:"host"`
	Port      string `json:"port"`
	Login     string `json:"login"`
	Password  string `json:"password"`
	Type      string `json:"type"`
	LastCheck string `json:"lastCheck,omitempty"`
}

// Matches reports whether the registered proxy carries exactly the given
// credential 4-tuple. The remote API cannot filter on all four fields at
// once, so lookups list everything and match client-side.
func (p *RegisteredProxy) Matches(host, port, login, password string) bool {
	return p.Host == host && p.Port == port && p.Login == login && p.Password == password
}

// -- Profile Schemas --

// AutomationEndpoint describes how to attach an external browser driver to a
// started profile.
type AutomationEndpoint struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	WsPath string `json:"wsEndpoint"`
}

// WebSocketURL renders the endpoint as a DevTools websocket URL.
func (e AutomationEndpoint) WebSocketURL() string {
	return fmt.Sprintf("ws://%s:%d%s", e.Host, e.Port, e.WsPath)
}

// ProfileHandle is what a successful provisioning run hands to the caller:
// the remote ids to tear down later and the endpoint to drive in between.
type ProfileHandle struct {
	ProfileID   int64
	ProxyID     int64
	ProxyString string
	Endpoint    *AutomationEndpoint
}
