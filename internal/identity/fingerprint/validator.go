// File: internal/identity/fingerprint/validator.go
package fingerprint

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/drawbot/api/schemas"
)

// Report is the outcome of validating a fingerprint. Reasons is empty iff
// the fingerprint passed every plausibility rule.
type Report struct {
	Valid   bool
	Reasons []string
}

// chipEnvelope describes the real core-count and memory envelope of one
// Apple Silicon chip. Cores lists every shipping CPU core configuration;
// memory bounds are inclusive and in GB.
type chipEnvelope struct {
	Cores  []int
	MinMem int
	MaxMem int
}

// appleChips maps the chip name extracted from the renderer string to its
// hardware envelope.
var appleChips = map[string]chipEnvelope{
	"M1":       {Cores: []int{8}, MinMem: 8, MaxMem: 16},
	"M1 Pro":   {Cores: []int{8, 10}, MinMem: 16, MaxMem: 32},
	"M1 Max":   {Cores: []int{10}, MinMem: 32, MaxMem: 64},
	"M1 Ultra": {Cores: []int{20}, MinMem: 64, MaxMem: 128},
	"M2":       {Cores: []int{8}, MinMem: 8, MaxMem: 24},
	"M2 Pro":   {Cores: []int{10, 12}, MinMem: 16, MaxMem: 32},
	"M2 Max":   {Cores: []int{12}, MinMem: 32, MaxMem: 96},
	"M2 Ultra": {Cores: []int{24}, MinMem: 64, MaxMem: 192},
	"M3":       {Cores: []int{8}, MinMem: 8, MaxMem: 24},
	"M3 Pro":   {Cores: []int{11, 12}, MinMem: 18, MaxMem: 36},
	"M3 Max":   {Cores: []int{14, 16}, MinMem: 36, MaxMem: 128},
}

// chipPattern extracts the Apple chip model from a renderer string such as
// "Apple M2 Pro" or "ANGLE (Apple, Apple M1 Max, OpenGL 4.1)".
var chipPattern = regexp.MustCompile(`(?i)\bM(\d)(?:\s+(Pro|Max|Ultra))?\b`)

// intelGPUBand is a core-count band for a specific Intel GPU model. Real
// machines only ever pair these GPUs with CPUs inside the band.
type intelGPUBand struct {
	Substr   string
	MinCores int
	MaxCores int
}

var intelGPUBands = []intelGPUBand{
	{Substr: "iris plus", MinCores: 2, MaxCores: 8},
	{Substr: "iris xe", MinCores: 4, MaxCores: 14},
	{Substr: "uhd graphics 630", MinCores: 4, MaxCores: 10},
	{Substr: "uhd graphics 620", MinCores: 2, MaxCores: 8},
}

// Heuristic bounds for x86 desktop/laptop hardware.
const (
	x86MinCores = 2
	x86MaxCores = 28
	x86MinMemGB = 4
	x86MaxMemGB = 128

	minConcurrency = 2
	maxConcurrency = 128

	minPlatformVersionLen = 5
)

// webgpuInfo is the document hiding behind the double-JSON-encoded webgpu
// field.
type webgpuInfo struct {
	Info struct {
		Vendor       string `json:"vendor"`
		Architecture string `json:"architecture"`
	} `json:"info"`
}

// Validate checks the internal plausibility of a generated fingerprint.
// It is pure and deterministic: no I/O, no clock, no randomness. All rules
// are additive; a fingerprint is valid iff no rule produced a reason.
func Validate(fp *schemas.Fingerprint) Report {
	var reasons []string

	arch := strings.ToLower(strings.TrimSpace(fp.CPU.Architecture))
	vendor := strings.ToLower(fp.WebGL.UnmaskedVendor)
	renderer := strings.ToLower(fp.WebGL.UnmaskedRenderer)

	switch arch {
	case "arm":
		if !strings.Contains(vendor, "apple") || !strings.Contains(renderer, "apple") {
			reasons = append(reasons, fmt.Sprintf(
				"cpu architecture is arm but webgl identity is not Apple (vendor=%q renderer=%q)",
				fp.WebGL.UnmaskedVendor, fp.WebGL.UnmaskedRenderer))
		} else {
			reasons = append(reasons, checkAppleEnvelope(fp)...)
		}
	case "x86":
		if !strings.Contains(vendor, "intel") || !strings.Contains(renderer, "intel") {
			reasons = append(reasons, fmt.Sprintf(
				"cpu architecture is x86 but webgl identity is not Intel (vendor=%q renderer=%q)",
				fp.WebGL.UnmaskedVendor, fp.WebGL.UnmaskedRenderer))
		} else {
			reasons = append(reasons, checkIntelEnvelope(fp, renderer)...)
		}
	}

	reasons = append(reasons, checkWebGPU(fp, arch)...)

	if fp.HardwareConcurrency < minConcurrency || fp.HardwareConcurrency > maxConcurrency {
		reasons = append(reasons, fmt.Sprintf(
			"hardwareConcurrency %d outside plausible range [%d,%d]",
			fp.HardwareConcurrency, minConcurrency, maxConcurrency))
	}

	if len(strings.TrimSpace(fp.PlatformVersion)) < minPlatformVersionLen {
		reasons = append(reasons, fmt.Sprintf(
			"platformVersion %q missing or shorter than %d characters",
			fp.PlatformVersion, minPlatformVersionLen))
	}

	return Report{Valid: len(reasons) == 0, Reasons: reasons}
}

// checkAppleEnvelope matches the renderer's chip model against the fixed
// Apple Silicon table. An unknown chip name produces no reason; only a
// recognized chip with out-of-envelope values does.
func checkAppleEnvelope(fp *schemas.Fingerprint) []string {
	m := chipPattern.FindStringSubmatch(fp.WebGL.UnmaskedRenderer)
	if m == nil {
		return nil
	}
	chip := "M" + m[1]
	if m[2] != "" {
		// Normalize "pro"/"PRO" to the table's casing.
		suffix := strings.ToLower(m[2])
		chip += " " + strings.ToUpper(suffix[:1]) + suffix[1:]
	}
	env, ok := appleChips[chip]
	if !ok {
		return nil
	}

	var reasons []string
	if !containsInt(env.Cores, fp.HardwareConcurrency) {
		reasons = append(reasons, fmt.Sprintf(
			"%s ships with %s cores, fingerprint claims %d",
			chip, joinInts(env.Cores), fp.HardwareConcurrency))
	}
	if fp.DeviceMemory < env.MinMem || fp.DeviceMemory > env.MaxMem {
		reasons = append(reasons, fmt.Sprintf(
			"%s ships with %d-%d GB memory, fingerprint claims %d GB",
			chip, env.MinMem, env.MaxMem, fp.DeviceMemory))
	}
	return reasons
}

// checkIntelEnvelope applies the generic x86 bounds plus the per-GPU core
// bands.
func checkIntelEnvelope(fp *schemas.Fingerprint, renderer string) []string {
	var reasons []string
	if fp.HardwareConcurrency < x86MinCores || fp.HardwareConcurrency > x86MaxCores {
		reasons = append(reasons, fmt.Sprintf(
			"x86 core count %d outside plausible range [%d,%d]",
			fp.HardwareConcurrency, x86MinCores, x86MaxCores))
	}
	if fp.DeviceMemory < x86MinMemGB || fp.DeviceMemory > x86MaxMemGB {
		reasons = append(reasons, fmt.Sprintf(
			"x86 memory %d GB outside plausible range [%d,%d] GB",
			fp.DeviceMemory, x86MinMemGB, x86MaxMemGB))
	}
	for _, band := range intelGPUBands {
		if !strings.Contains(renderer, band.Substr) {
			continue
		}
		if fp.HardwareConcurrency < band.MinCores || fp.HardwareConcurrency > band.MaxCores {
			reasons = append(reasons, fmt.Sprintf(
				"GPU %q pairs with %d-%d cores, fingerprint claims %d",
				band.Substr, band.MinCores, band.MaxCores, fp.HardwareConcurrency))
		}
		break
	}
	return reasons
}

// checkWebGPU cross-checks the webgpu document against the CPU architecture.
// The field is double-JSON-encoded; a decode failure at either layer is
// tolerated silently because older generator versions omit the field.
func checkWebGPU(fp *schemas.Fingerprint, arch string) []string {
	if fp.WebGPU == "" {
		return nil
	}

	var inner string
	if err := json.Unmarshal([]byte(fp.WebGPU), &inner); err != nil {
		// Some generator versions single-encode; fall back to the raw value.
		inner = fp.WebGPU
	}
	var info webgpuInfo
	if err := json.Unmarshal([]byte(inner), &info); err != nil {
		return nil
	}

	gpuVendor := strings.ToLower(info.Info.Vendor)
	gpuArch := strings.ToLower(info.Info.Architecture)
	if gpuVendor == "" && gpuArch == "" {
		return nil
	}

	switch arch {
	case "arm":
		if gpuVendor != "apple" || !strings.Contains(gpuArch, "common") {
			return []string{fmt.Sprintf(
				"webgpu identity (vendor=%q architecture=%q) disagrees with arm cpu",
				info.Info.Vendor, info.Info.Architecture)}
		}
	case "x86":
		if gpuVendor != "intel" || !strings.Contains(gpuArch, "gen") {
			return []string{fmt.Sprintf(
				"webgpu identity (vendor=%q architecture=%q) disagrees with x86 cpu",
				info.Info.Vendor, info.Info.Architecture)}
		}
	}
	return nil
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprintf("%d", x)
	}
	return strings.Join(parts, " or ")
}
