// Package fingerprint produces spoofed-identity parameter sets for
// profiles. Generation is pure over the injected randomness source and
// persists nothing itself.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

// Canvas noise stays within [-0.30, 0.30] rounded to two decimals; the
// other protections use integer seeds in [1, 10000].
const (
	canvasNoiseLimit = 0.30
	intensityMax     = 10000
)

// Mode selects how a fingerprint is produced.
type Mode string

const (
	// ModeRandom draws every field independently from the reference dataset.
	ModeRandom Mode = "random"
	// ModeCustom normalizes client-supplied raw fields.
	ModeCustom Mode = "custom"
)

// ProtectionSetting is a client-supplied protection field: either a
// toggle (true/false) or an explicit numeric intensity. On the wire it is
// a JSON boolean or number, matching the profile API payloads.
type ProtectionSetting struct {
	Enabled *bool
	Value   *float64
}

// UnmarshalJSON accepts true, false, or a number.
func (p *ProtectionSetting) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		p.Enabled = &b
		p.Value = nil
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		p.Value = &f
		p.Enabled = nil
		return nil
	}
	return fmt.Errorf("protection setting must be a boolean or a number, got %s", string(data))
}

// MarshalJSON emits the explicit value when present, else the toggle.
func (p ProtectionSetting) MarshalJSON() ([]byte, error) {
	if p.Value != nil {
		return json.Marshal(*p.Value)
	}
	if p.Enabled != nil {
		return json.Marshal(*p.Enabled)
	}
	return json.Marshal(false)
}

// CustomInput carries the raw client-supplied fields for ModeCustom.
// Zero-valued identity fields are normalized from the reference dataset.
type CustomInput struct {
	UserAgent           string             `json:"user_agent,omitempty"`
	Platform            string             `json:"platform,omitempty"`
	ScreenWidth         int                `json:"screen_width,omitempty"`
	ScreenHeight        int                `json:"screen_height,omitempty"`
	Timezone            string             `json:"timezone,omitempty"`
	Language            string             `json:"language,omitempty"`
	GPUVendor           string             `json:"gpu_vendor,omitempty"`
	GPURenderer         string             `json:"gpu_renderer,omitempty"`
	HardwareConcurrency int                `json:"hardware_concurrency,omitempty"`
	DeviceMemory        int                `json:"device_memory,omitempty"`
	DoNotTrack          bool               `json:"do_not_track,omitempty"`
	Plugins             []string           `json:"plugins,omitempty"`
	Canvas              ProtectionSetting  `json:"canvas"`
	WebGL               ProtectionSetting  `json:"webgl"`
	Audio               ProtectionSetting  `json:"audio"`
	Fonts               ProtectionSetting  `json:"fonts"`
	ClientRects         ProtectionSetting  `json:"client_rects"`
	WebRTC              schemas.WebRTCMode `json:"webrtc,omitempty"`
	WebRTCCustomIP      string             `json:"webrtc_custom_ip,omitempty"`
}

var webRTCModes = []schemas.WebRTCMode{
	schemas.WebRTCReal,
	schemas.WebRTCProxy,
	schemas.WebRTCDisable,
	schemas.WebRTCCustom,
}

// Generator draws fingerprints from the reference dataset. Safe for
// concurrent use; the lock serializes the underlying rand source.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Generator over the given source. A nil rng gets a
// time-seeded source.
func New(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{rng: rng}
}

// Generate produces a fingerprint in the requested mode. in is ignored in
// ModeRandom and required in ModeCustom.
func (g *Generator) Generate(mode Mode, in *CustomInput) (schemas.Fingerprint, error) {
	switch mode {
	case ModeRandom:
		return g.random(), nil
	case ModeCustom:
		if in == nil {
			return schemas.Fingerprint{}, schemas.NewError(schemas.KindValidation, "custom fingerprint mode requires input fields")
		}
		return g.fromCustom(*in), nil
	default:
		return schemas.Fingerprint{}, schemas.NewError(schemas.KindValidation, "unknown fingerprint mode %q", mode)
	}
}

func (g *Generator) random() schemas.Fingerprint {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := resolutions[g.rng.Intn(len(resolutions))]
	vendor := gpuVendors[g.rng.Intn(len(gpuVendors))]
	renderers := gpuRenderers[vendor]

	return schemas.Fingerprint{
		UserAgent:           userAgents[g.rng.Intn(len(userAgents))],
		Platform:            platforms[g.rng.Intn(len(platforms))],
		ScreenWidth:         res.Width,
		ScreenHeight:        res.Height,
		Timezone:            timezones[g.rng.Intn(len(timezones))],
		Language:            languages[g.rng.Intn(len(languages))],
		GPUVendor:           vendor,
		GPURenderer:         renderers[g.rng.Intn(len(renderers))],
		HardwareConcurrency: hardwareConcurrencyOptions[g.rng.Intn(len(hardwareConcurrencyOptions))],
		DeviceMemory:        deviceMemoryOptions[g.rng.Intn(len(deviceMemoryOptions))],
		DoNotTrack:          g.rng.Intn(2) == 1,
		Plugins:             append([]string(nil), defaultPlugins...),
		Protections: schemas.Protections{
			Canvas:      g.canvasNoise(),
			WebGL:       g.intensity(),
			Audio:       g.intensity(),
			Fonts:       g.intensity(),
			ClientRects: g.intensity(),
		},
		WebRTC: webRTCModes[g.rng.Intn(len(webRTCModes))],
	}
}

func (g *Generator) fromCustom(in CustomInput) schemas.Fingerprint {
	fp := g.random() // dataset-backed baseline for any field left empty

	if in.UserAgent != "" {
		fp.UserAgent = in.UserAgent
	}
	if in.Platform != "" {
		fp.Platform = in.Platform
	}
	if in.ScreenWidth > 0 && in.ScreenHeight > 0 {
		fp.ScreenWidth = in.ScreenWidth
		fp.ScreenHeight = in.ScreenHeight
	}
	if in.Timezone != "" {
		fp.Timezone = in.Timezone
	}
	if in.Language != "" {
		fp.Language = in.Language
	}
	if in.GPUVendor != "" {
		fp.GPUVendor = in.GPUVendor
	}
	if in.GPURenderer != "" {
		fp.GPURenderer = in.GPURenderer
	}
	if in.HardwareConcurrency > 0 {
		fp.HardwareConcurrency = in.HardwareConcurrency
	}
	if in.DeviceMemory > 0 {
		fp.DeviceMemory = in.DeviceMemory
	}
	fp.DoNotTrack = in.DoNotTrack
	if in.Plugins != nil {
		fp.Plugins = append([]string(nil), in.Plugins...)
	}

	fp.Protections = schemas.Protections{
		Canvas:      g.resolveCanvas(in.Canvas),
		WebGL:       g.resolveIntensity(in.WebGL),
		Audio:       g.resolveIntensity(in.Audio),
		Fonts:       g.resolveIntensity(in.Fonts),
		ClientRects: g.resolveIntensity(in.ClientRects),
	}

	fp.WebRTC, fp.WebRTCCustomIP = normalizeWebRTC(in.WebRTC, in.WebRTCCustomIP)
	return fp
}

// resolveCanvas applies the conversion contract: explicit numbers pass
// through unchanged, true becomes a random enabled noise value, false (or
// absent) disables.
func (g *Generator) resolveCanvas(p ProtectionSetting) float64 {
	if p.Value != nil {
		return *p.Value
	}
	if p.Enabled != nil && *p.Enabled {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.canvasNoise()
	}
	return 0
}

func (g *Generator) resolveIntensity(p ProtectionSetting) int {
	if p.Value != nil {
		return int(*p.Value)
	}
	if p.Enabled != nil && *p.Enabled {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.intensity()
	}
	return 0
}

// canvasNoise draws from [-0.30, 0.30] rounded to 2 decimals, redrawing
// the rare exact zero since zero reads as disabled. Callers hold g.mu.
func (g *Generator) canvasNoise() float64 {
	for {
		v := math.Round((g.rng.Float64()*2*canvasNoiseLimit-canvasNoiseLimit)*100) / 100
		if v != 0 {
			return v
		}
	}
}

// intensity draws an integer from [1, 10000]. Callers hold g.mu.
func (g *Generator) intensity() int {
	return g.rng.Intn(intensityMax) + 1
}

// normalizeWebRTC enforces the custom-mode IP requirement. An invalid or
// missing IPv4 silently falls back to proxy mode with no custom IP; this
// is the documented compatibility behavior, not an error.
func normalizeWebRTC(mode schemas.WebRTCMode, customIP string) (schemas.WebRTCMode, string) {
	switch mode {
	case schemas.WebRTCReal, schemas.WebRTCProxy, schemas.WebRTCDisable:
		return mode, ""
	case schemas.WebRTCCustom:
		if ip := net.ParseIP(customIP); ip != nil && ip.To4() != nil {
			return schemas.WebRTCCustom, customIP
		}
		return schemas.WebRTCProxy, ""
	default:
		// Unrecognized modes get the same conservative fallback.
		return schemas.WebRTCProxy, ""
	}
}
