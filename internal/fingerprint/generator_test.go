package fingerprint_test

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapsucode/stealthfleet/api/schemas"
	"github.com/tapsucode/stealthfleet/internal/fingerprint"
)

func newDeterministicGenerator(t *testing.T) *fingerprint.Generator {
	t.Helper()
	return fingerprint.New(rand.New(rand.NewSource(42)))
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestGenerate_RandomDrawsFromDataset(t *testing.T) {
	g := newDeterministicGenerator(t)

	for i := 0; i < 50; i++ {
		fp, err := g.Generate(fingerprint.ModeRandom, nil)
		require.NoError(t, err)

		assert.NotEmpty(t, fp.UserAgent)
		assert.NotEmpty(t, fp.Platform)
		assert.NotEmpty(t, fp.Timezone)
		assert.NotEmpty(t, fp.Language)
		assert.NotEmpty(t, fp.GPUVendor)
		assert.NotEmpty(t, fp.GPURenderer)
		assert.Greater(t, fp.ScreenWidth, 0)
		assert.Greater(t, fp.ScreenHeight, 0)
		assert.Greater(t, fp.HardwareConcurrency, 0)
		assert.Greater(t, fp.DeviceMemory, 0)

		// Random mode enables all five protections.
		assert.NotZero(t, fp.Protections.Canvas)
		assert.GreaterOrEqual(t, fp.Protections.Canvas, -0.30)
		assert.LessOrEqual(t, fp.Protections.Canvas, 0.30)
		for _, v := range []int{fp.Protections.WebGL, fp.Protections.Audio, fp.Protections.Fonts, fp.Protections.ClientRects} {
			assert.GreaterOrEqual(t, v, 1)
			assert.LessOrEqual(t, v, 10000)
		}

		assert.Contains(t, []schemas.WebRTCMode{
			schemas.WebRTCReal, schemas.WebRTCProxy, schemas.WebRTCDisable, schemas.WebRTCCustom,
		}, fp.WebRTC)
	}
}

func TestGenerate_ProtectionConversion(t *testing.T) {
	g := newDeterministicGenerator(t)

	fp, err := g.Generate(fingerprint.ModeCustom, &fingerprint.CustomInput{
		Canvas: fingerprint.ProtectionSetting{Enabled: boolPtr(false)},
		WebGL:  fingerprint.ProtectionSetting{Enabled: boolPtr(true)},
		Audio:  fingerprint.ProtectionSetting{Value: floatPtr(1234)},
	})
	require.NoError(t, err)

	assert.Zero(t, fp.Protections.Canvas, "false must disable canvas noise")
	assert.GreaterOrEqual(t, fp.Protections.WebGL, 1, "true must enable webgl with a drawn intensity")
	assert.LessOrEqual(t, fp.Protections.WebGL, 10000)
	assert.Equal(t, 1234, fp.Protections.Audio, "explicit value must pass through unchanged")
	assert.Zero(t, fp.Protections.Fonts, "absent setting stays disabled")
	assert.Zero(t, fp.Protections.ClientRects)
}

func TestGenerate_CanvasEnabledRange(t *testing.T) {
	g := newDeterministicGenerator(t)

	for i := 0; i < 100; i++ {
		fp, err := g.Generate(fingerprint.ModeCustom, &fingerprint.CustomInput{
			Canvas: fingerprint.ProtectionSetting{Enabled: boolPtr(true)},
		})
		require.NoError(t, err)
		assert.NotZero(t, fp.Protections.Canvas)
		assert.GreaterOrEqual(t, fp.Protections.Canvas, -0.30)
		assert.LessOrEqual(t, fp.Protections.Canvas, 0.30)
		// Two decimal places.
		assert.InDelta(t, fp.Protections.Canvas*100, math.Round(fp.Protections.Canvas*100), 1e-9)
	}
}

func TestGenerate_WebRTCCustomFallback(t *testing.T) {
	g := newDeterministicGenerator(t)

	cases := []struct {
		name     string
		ip       string
		wantMode schemas.WebRTCMode
		wantIP   string
	}{
		{"valid ipv4", "203.0.113.7", schemas.WebRTCCustom, "203.0.113.7"},
		{"out of range octet", "999.1.1.1", schemas.WebRTCProxy, ""},
		{"empty", "", schemas.WebRTCProxy, ""},
		{"ipv6 literal", "2001:db8::1", schemas.WebRTCProxy, ""},
		{"garbage", "not-an-ip", schemas.WebRTCProxy, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fp, err := g.Generate(fingerprint.ModeCustom, &fingerprint.CustomInput{
				WebRTC:         schemas.WebRTCCustom,
				WebRTCCustomIP: tc.ip,
			})
			require.NoError(t, err, "invalid custom IP must fall back, never error")
			assert.Equal(t, tc.wantMode, fp.WebRTC)
			assert.Equal(t, tc.wantIP, fp.WebRTCCustomIP)
		})
	}
}

func TestGenerate_CustomFieldsPassThrough(t *testing.T) {
	g := newDeterministicGenerator(t)

	fp, err := g.Generate(fingerprint.ModeCustom, &fingerprint.CustomInput{
		UserAgent:           "Mozilla/5.0 (Test) Agent/1.0",
		Platform:            "Win32",
		ScreenWidth:         1280,
		ScreenHeight:        720,
		Timezone:            "Europe/Madrid",
		Language:            "es-ES",
		HardwareConcurrency: 6,
		DeviceMemory:        8,
		Plugins:             []string{"PDF Viewer"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Mozilla/5.0 (Test) Agent/1.0", fp.UserAgent)
	assert.Equal(t, "Win32", fp.Platform)
	assert.Equal(t, 1280, fp.ScreenWidth)
	assert.Equal(t, 720, fp.ScreenHeight)
	assert.Equal(t, "Europe/Madrid", fp.Timezone)
	assert.Equal(t, "es-ES", fp.Language)
	assert.Equal(t, 6, fp.HardwareConcurrency)
	assert.Equal(t, 8, fp.DeviceMemory)
	assert.Equal(t, []string{"PDF Viewer"}, fp.Plugins)
}

func TestGenerate_CustomRequiresInput(t *testing.T) {
	g := newDeterministicGenerator(t)

	_, err := g.Generate(fingerprint.ModeCustom, nil)
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindValidation))

	_, err = g.Generate(fingerprint.Mode("bogus"), nil)
	require.Error(t, err)
	assert.True(t, schemas.IsKind(err, schemas.KindValidation))
}

func TestProtectionSetting_UnmarshalJSON(t *testing.T) {
	var in fingerprint.CustomInput
	payload := `{"canvas": true, "webgl": false, "audio": 512, "client_rects": 0.5}`
	require.NoError(t, json.Unmarshal([]byte(payload), &in))

	require.NotNil(t, in.Canvas.Enabled)
	assert.True(t, *in.Canvas.Enabled)
	require.NotNil(t, in.WebGL.Enabled)
	assert.False(t, *in.WebGL.Enabled)
	require.NotNil(t, in.Audio.Value)
	assert.Equal(t, 512.0, *in.Audio.Value)
	require.NotNil(t, in.ClientRects.Value)

	var bad fingerprint.CustomInput
	err := json.Unmarshal([]byte(`{"canvas": "loud"}`), &bad)
	require.Error(t, err)
}
