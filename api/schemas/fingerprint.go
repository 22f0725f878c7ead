package schemas

// WebRTCMode governs what IP a session's real-time communication channel
// may expose.
type WebRTCMode string

const (
	WebRTCReal    WebRTCMode = "real"    // leak the real interface address
	WebRTCProxy   WebRTCMode = "proxy"   // force candidates through the proxy egress
	WebRTCDisable WebRTCMode = "disable" // disable RTCPeerConnection entirely
	WebRTCCustom  WebRTCMode = "custom"  // report a fixed caller-supplied IPv4
)

// Protections holds the five anti-fingerprinting noise intensities.
// Zero means the protection is disabled; any non-zero value is the noise
// magnitude applied to that vector. Canvas is a small float in
// [-0.30, 0.30]; the others are integer seeds in [1, 10000].
type Protections struct {
	Canvas      float64 `json:"canvas,omitempty"`
	WebGL       int     `json:"webgl,omitempty"`
	Audio       int     `json:"audio,omitempty"`
	Fonts       int     `json:"fonts,omitempty"`
	ClientRects int     `json:"client_rects,omitempty"`
}

// Fingerprint is the full spoofed-identity parameter set presented by a
// session bound to a profile.
type Fingerprint struct {
	UserAgent           string      `json:"user_agent"`
	Platform            string      `json:"platform"`
	ScreenWidth         int         `json:"screen_width"`
	ScreenHeight        int         `json:"screen_height"`
	Timezone            string      `json:"timezone"`
	Language            string      `json:"language"`
	GPUVendor           string      `json:"gpu_vendor"`
	GPURenderer         string      `json:"gpu_renderer"`
	HardwareConcurrency int         `json:"hardware_concurrency"`
	DeviceMemory        int         `json:"device_memory"`
	DoNotTrack          bool        `json:"do_not_track"`
	Plugins             []string    `json:"plugins,omitempty"`
	Protections         Protections `json:"protections"`
	WebRTC              WebRTCMode  `json:"webrtc"`
	WebRTCCustomIP      string      `json:"webrtc_custom_ip,omitempty"` // only meaningful in custom mode
}
