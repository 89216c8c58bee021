// File: internal/identity/profile/payload.go
// Description: Assembles the remote profile creation payload: fixed
// anti-detection defaults, the fingerprint's identity fields, the resolved
// proxy's credential block, the font id list, and the generated (inert)
// device identity fields.
package profile

import (
	"encoding/json"
	"fmt"

	"github.com/xkilldash9x/drawbot/api/schemas"
)

// Defaults carries the per-deployment constants folded into every payload.
type Defaults struct {
	Platform       string
	BrowserType    string
	BrowserVersion string
	MainWebsite    string
	Tags           []string

	WebRTCMode       string
	TimezoneMode     string
	LocaleMode       string
	GeolocationMode  string
	MediaDevicesMode string
	PortsBlacklist   string
}

// ModeSetting is the provider's generic {mode, value} knob.
type ModeSetting struct {
	Mode  string `json:"mode"`
	Value string `json:"value,omitempty"`
}

// IntSetting is a {mode, value} knob with a numeric value.
type IntSetting struct {
	Mode  string `json:"mode"`
	Value int    `json:"value"`
}

// WebGLInfoSetting mirrors the provider's webglInfo block.
type WebGLInfoSetting struct {
	Mode          string          `json:"mode"`
	Vendor        string          `json:"vendor"`
	Renderer      string          `json:"renderer"`
	Webgl2Maximum json.RawMessage `json:"webgl2Maximum,omitempty"`
}

// ScreenSetting mirrors the provider's screen block.
type ScreenSetting struct {
	Mode       string `json:"mode"`
	Resolution string `json:"resolution"`
}

// PortsSetting mirrors the provider's ports protection block.
type PortsSetting struct {
	Mode      string `json:"mode"`
	Blacklist string `json:"blacklist"`
}

// ProxyBlock is the proxy credential block embedded in the payload.
type ProxyBlock struct {
	ID       int64  `json:"id,omitempty"`
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	Login    string `json:"login"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// ConnectionBlock mirrors the fingerprint's network information surface.
type ConnectionBlock struct {
	Downlink      float64 `json:"downlink"`
	RTT           int     `json:"rtt"`
	EffectiveType string  `json:"effectiveType"`
	SaveData      bool    `json:"saveData"`
}

// Payload is the full profile creation document. Canvas, WebGL, and
// clientRect stay in mode "real": masking those is what trips detection
// vendors, while the identity fields carry the spoof.
type Payload struct {
	Name         string   `json:"name"`
	Tags         []string `json:"tags"`
	Platform     string   `json:"platform"`
	BrowserType  string   `json:"browserType"`
	MainWebsite  string   `json:"mainWebsite"`
	DoNotTrack   int      `json:"doNotTrack"`
	PlatformName string   `json:"platformName"`

	UserAgent  ModeSetting      `json:"useragent"`
	WebRTC     ModeSetting      `json:"webrtc"`
	Canvas     ModeSetting      `json:"canvas"`
	WebGL      ModeSetting      `json:"webgl"`
	ClientRect ModeSetting      `json:"clientRect"`
	WebGLInfo  WebGLInfoSetting `json:"webglInfo"`
	WebGPU     ModeSetting      `json:"webgpu"`

	CPU    IntSetting    `json:"cpu"`
	Memory IntSetting    `json:"memory"`
	Screen ScreenSetting `json:"screen"`

	Connection ConnectionBlock `json:"connection"`

	Timezone     ModeSetting  `json:"timezone"`
	Locale       ModeSetting  `json:"locale"`
	Geolocation  ModeSetting  `json:"geolocation"`
	MediaDevices ModeSetting  `json:"mediaDevices"`
	Ports        PortsSetting `json:"ports"`

	Fonts []int64 `json:"fonts"`

	// MacAddress and DeviceName are generated per attempt but shipped in
	// mode "off": the provider stores them without applying them.
	MacAddress ModeSetting `json:"macAddress"`
	DeviceName ModeSetting `json:"deviceName"`

	Proxy ProxyBlock `json:"proxy"`

	PlatformVersion string `json:"platformVersion"`
	OSVersion       string `json:"osVersion"`
	AppCodeName     string `json:"appCodeName"`
	Vendor          string `json:"vendor"`
	VendorSub       string `json:"vendorSub"`
	Product         string `json:"product"`
	ProductSub      string `json:"productSub"`
}

// BuildPayload folds one fingerprint, one registered proxy, the selected
// font ids, and the generated device identity into a creation payload.
func BuildPayload(
	name string,
	fp *schemas.Fingerprint,
	proxy *schemas.RegisteredProxy,
	fontIDs []int64,
	macAddress string,
	deviceName string,
	d Defaults,
) *Payload {
	osVersion := fp.OSVersion
	if osVersion == "" {
		osVersion = fp.PlatformVersion
	}

	return &Payload{
		Name:         name,
		Tags:         d.Tags,
		Platform:     d.Platform,
		BrowserType:  d.BrowserType,
		MainWebsite:  d.MainWebsite,
		DoNotTrack:   0,
		PlatformName: fp.Platform,

		UserAgent:  ModeSetting{Mode: "manual", Value: fp.UserAgent},
		WebRTC:     ModeSetting{Mode: d.WebRTCMode},
		Canvas:     ModeSetting{Mode: "real"},
		WebGL:      ModeSetting{Mode: "real"},
		ClientRect: ModeSetting{Mode: "real"},
		WebGLInfo: WebGLInfoSetting{
			Mode:          "manual",
			Vendor:        fp.WebGL.UnmaskedVendor,
			Renderer:      fp.WebGL.UnmaskedRenderer,
			Webgl2Maximum: fp.WebGL2Maximum,
		},
		WebGPU: ModeSetting{Mode: "manual", Value: fp.WebGPU},

		CPU:    IntSetting{Mode: "manual", Value: fp.HardwareConcurrency},
		Memory: IntSetting{Mode: "manual", Value: fp.DeviceMemory},
		Screen: ScreenSetting{
			Mode:       "manual",
			Resolution: fmt.Sprintf("%dx%d", fp.Screen.Width, fp.Screen.Height),
		},

		Connection: ConnectionBlock{
			Downlink:      fp.Connection.Downlink,
			RTT:           fp.Connection.RTT,
			EffectiveType: fp.Connection.EffectiveType,
			SaveData:      fp.Connection.SaveData,
		},

		Timezone:     ModeSetting{Mode: d.TimezoneMode},
		Locale:       ModeSetting{Mode: d.LocaleMode},
		Geolocation:  ModeSetting{Mode: d.GeolocationMode},
		MediaDevices: ModeSetting{Mode: d.MediaDevicesMode},
		Ports:        PortsSetting{Mode: "protect", Blacklist: d.PortsBlacklist},

		Fonts: fontIDs,

		MacAddress: ModeSetting{Mode: "off", Value: macAddress},
		DeviceName: ModeSetting{Mode: "off", Value: deviceName},

		Proxy: ProxyBlock{
			ID:       proxy.ID,
			Type:     proxy.Type,
			Host:     proxy.Host,
			Port:     proxy.Port,
			Login:    proxy.Login,
			Password: proxy.Password,
			Name:     proxy.Name,
		},

		PlatformVersion: fp.PlatformVersion,
		OSVersion:       osVersion,
		AppCodeName:     fp.AppCodeName,
		Vendor:          fp.Vendor,
		VendorSub:       fp.VendorSub,
		Product:         fp.Product,
		ProductSub:      fp.ProductSub,
	}
}
