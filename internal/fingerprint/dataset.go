package fingerprint

// Reference dataset for random fingerprint generation. Values mirror
// combinations observed on real consumer hardware; the GPU renderer lists
// are keyed by vendor so a draw never pairs an NVIDIA renderer with an
// Intel vendor string.

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:127.0) Gecko/20100101 Firefox/127.0",
}

var platforms = []string{"Win32", "MacIntel", "Linux x86_64"}

type resolution struct {
	Width  int
	Height int
}

var resolutions = []resolution{
	{1920, 1080},
	{2560, 1440},
	{1366, 768},
	{1536, 864},
	{1440, 900},
	{1680, 1050},
	{3840, 2160},
	{2880, 1800},
}

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Los_Angeles",
	"Europe/London",
	"Europe/Berlin",
	"Europe/Paris",
	"Europe/Warsaw",
	"Asia/Tokyo",
	"Asia/Singapore",
	"Australia/Sydney",
}

var languages = []string{
	"en-US", "en-GB", "de-DE", "fr-FR", "es-ES", "pt-BR", "pl-PL", "ja-JP", "vi-VN", "ru-RU",
}

// gpuRenderers maps a WebGL vendor string to renderer strings plausible
// for that vendor.
var gpuRenderers = map[string][]string{
	"Google Inc. (NVIDIA)": {
		"ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		"ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		"ANGLE (NVIDIA, NVIDIA GeForce RTX 4070 Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	"Google Inc. (Intel)": {
		"ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		"ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	"Google Inc. (AMD)": {
		"ANGLE (AMD, AMD Radeon RX 6700 XT Direct3D11 vs_5_0 ps_5_0, D3D11)",
		"ANGLE (AMD, AMD Radeon(TM) Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	"Apple Inc.": {
		"Apple M1",
		"Apple M2",
		"Apple M3 Pro",
	},
}

var gpuVendors = []string{
	"Google Inc. (NVIDIA)",
	"Google Inc. (Intel)",
	"Google Inc. (AMD)",
	"Apple Inc.",
}

var hardwareConcurrencyOptions = []int{2, 4, 6, 8, 12, 16}

var deviceMemoryOptions = []int{2, 4, 8, 16, 32}

var defaultPlugins = []string{
	"PDF Viewer",
	"Chrome PDF Viewer",
	"Chromium PDF Viewer",
	"Microsoft Edge PDF Viewer",
	"WebKit built-in PDF",
}
