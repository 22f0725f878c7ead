package stealth

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SpoofScript renders the per-fingerprint injection script. The static
// evasions live in evasions.js; everything here depends on the concrete
// fingerprint values, so it is generated at launch time.
func SpoofScript(fp schemas.Fingerprint) string {
	var b strings.Builder
	b.WriteString("(() => {\n")

	writeNavigatorOverrides(&b, fp)
	writeWebGLOverrides(&b, fp)
	writeCanvasNoise(&b, fp.Protections.Canvas)
	writeAudioNoise(&b, fp.Protections.Audio)
	writeClientRectsNoise(&b, fp.Protections.ClientRects)
	writeFontMasking(&b, fp.Protections.Fonts)
	writeWebRTC(&b, fp)

	b.WriteString("})();\n")
	return b.String()
}

func defineGetter(b *strings.Builder, object, prop string, value interface{}) {
	encoded, err := json.MarshalToString(value)
	if err != nil {
		return
	}
	fmt.Fprintf(b, "Object.defineProperty(%s, %q, { get: () => %s, configurable: true });\n",
		object, prop, encoded)
}

func writeNavigatorOverrides(b *strings.Builder, fp schemas.Fingerprint) {
	defineGetter(b, "navigator", "platform", fp.Platform)
	defineGetter(b, "navigator", "hardwareConcurrency", fp.HardwareConcurrency)
	defineGetter(b, "navigator", "deviceMemory", fp.DeviceMemory)
	defineGetter(b, "navigator", "language", fp.Language)
	defineGetter(b, "navigator", "languages", []string{fp.Language, "en"})
	if fp.DoNotTrack {
		defineGetter(b, "navigator", "doNotTrack", "1")
	}
	if len(fp.Plugins) > 0 {
		names, _ := json.MarshalToString(fp.Plugins)
		fmt.Fprintf(b, `
const pluginNames = %s;
const fakePlugins = pluginNames.map((name) => ({ name, description: name, filename: name.toLowerCase().replace(/\s+/g, '-') + '.so', length: 1 }));
fakePlugins.item = (i) => fakePlugins[i] ?? null;
fakePlugins.namedItem = (name) => fakePlugins.find((p) => p.name === name) ?? null;
fakePlugins.refresh = () => {};
Object.defineProperty(navigator, 'plugins', { get: () => fakePlugins, configurable: true });
`, names)
	}
	fmt.Fprintf(b, "Object.defineProperty(screen, 'width', { get: () => %d, configurable: true });\n", fp.ScreenWidth)
	fmt.Fprintf(b, "Object.defineProperty(screen, 'height', { get: () => %d, configurable: true });\n", fp.ScreenHeight)
	fmt.Fprintf(b, "Object.defineProperty(screen, 'availWidth', { get: () => %d, configurable: true });\n", fp.ScreenWidth)
	fmt.Fprintf(b, "Object.defineProperty(screen, 'availHeight', { get: () => %d, configurable: true });\n", fp.ScreenHeight-40)
}

func writeWebGLOverrides(b *strings.Builder, fp schemas.Fingerprint) {
	vendor, _ := json.MarshalToString(fp.GPUVendor)
	renderer, _ := json.MarshalToString(fp.GPURenderer)
	fmt.Fprintf(b, `
for (const proto of [WebGLRenderingContext.prototype, typeof WebGL2RenderingContext !== 'undefined' ? WebGL2RenderingContext.prototype : null]) {
  if (!proto) continue;
  const origGetParameter = proto.getParameter;
  proto.getParameter = function (param) {
    if (param === 37445) return %s;
    if (param === 37446) return %s;
    return origGetParameter.call(this, param);
  };
}
`, vendor, renderer)

	if intensity := fp.Protections.WebGL; intensity > 0 {
		fmt.Fprintf(b, `
const webglSeed = %d;
for (const proto of [WebGLRenderingContext.prototype, typeof WebGL2RenderingContext !== 'undefined' ? WebGL2RenderingContext.prototype : null]) {
  if (!proto) continue;
  const origReadPixels = proto.readPixels;
  proto.readPixels = function (...args) {
    origReadPixels.apply(this, args);
    const buf = args[6];
    if (buf && buf.length) {
      for (let i = 0; i < buf.length; i += 97) buf[i] = buf[i] ^ ((webglSeed + i) %% 3);
    }
  };
}
`, intensity)
	}
}

func writeCanvasNoise(b *strings.Builder, noise float64) {
	if noise == 0 {
		return
	}
	fmt.Fprintf(b, `
const canvasNoise = %g;
const origGetImageData = CanvasRenderingContext2D.prototype.getImageData;
CanvasRenderingContext2D.prototype.getImageData = function (...args) {
  const data = origGetImageData.apply(this, args);
  for (let i = 0; i < data.data.length; i += 43) {
    data.data[i] = Math.min(255, Math.max(0, data.data[i] + Math.round(canvasNoise * 10)));
  }
  return data;
};
const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
HTMLCanvasElement.prototype.toDataURL = function (...args) {
  const ctx = this.getContext('2d');
  if (ctx && this.width > 0 && this.height > 0) {
    ctx.getImageData(0, 0, Math.min(this.width, 2), Math.min(this.height, 2));
  }
  return origToDataURL.apply(this, args);
};
`, noise)
}

func writeAudioNoise(b *strings.Builder, intensity int) {
	if intensity <= 0 {
		return
	}
	fmt.Fprintf(b, `
const audioSeed = %d;
const origGetChannelData = AudioBuffer.prototype.getChannelData;
AudioBuffer.prototype.getChannelData = function (...args) {
  const data = origGetChannelData.apply(this, args);
  for (let i = 0; i < data.length; i += 512) {
    data[i] = data[i] + ((audioSeed %% 100) / 1e7);
  }
  return data;
};
`, intensity)
}

func writeClientRectsNoise(b *strings.Builder, intensity int) {
	if intensity <= 0 {
		return
	}
	fmt.Fprintf(b, `
const rectSeed = %d;
const rectJitter = (v) => v + ((rectSeed %% 100) / 1e5);
const origGetRect = Element.prototype.getBoundingClientRect;
Element.prototype.getBoundingClientRect = function () {
  const r = origGetRect.call(this);
  return new DOMRect(rectJitter(r.x), rectJitter(r.y), rectJitter(r.width), rectJitter(r.height));
};
`, intensity)
}

func writeFontMasking(b *strings.Builder, intensity int) {
	if intensity <= 0 {
		return
	}
	fmt.Fprintf(b, `
const fontSeed = %d;
const origMeasureText = CanvasRenderingContext2D.prototype.measureText;
CanvasRenderingContext2D.prototype.measureText = function (text) {
  const metrics = origMeasureText.call(this, text);
  const baseWidth = metrics.width;
  const jitter = ((fontSeed + text.length) %% 7) / 1e4;
  Object.defineProperty(metrics, 'width', { get: () => baseWidth + jitter, configurable: true });
  return metrics;
};
`, intensity)
}

func writeWebRTC(b *strings.Builder, fp schemas.Fingerprint) {
	switch fp.WebRTC {
	case schemas.WebRTCDisable:
		b.WriteString(`
for (const name of ['RTCPeerConnection', 'webkitRTCPeerConnection', 'RTCDataChannel']) {
  if (name in window) {
    Object.defineProperty(window, name, { get: () => undefined, configurable: true });
  }
}
`)
	case schemas.WebRTCProxy:
		// Strip host candidates so only the relayed (proxied) path leaks.
		b.WriteString(webrtcFilterScript(""))
	case schemas.WebRTCCustom:
		b.WriteString(webrtcFilterScript(fp.WebRTCCustomIP))
	case schemas.WebRTCReal:
		// Native behavior, nothing to patch.
	}
}

func webrtcFilterScript(replacementIP string) string {
	ip, _ := json.MarshalToString(replacementIP)
	return fmt.Sprintf(`
const rtcReplacementIP = %s;
const ipPattern = /\b\d{1,3}(\.\d{1,3}){3}\b/g;
const rewriteCandidate = (line) => {
  if (!line) return line;
  if (rtcReplacementIP) return line.replace(ipPattern, rtcReplacementIP);
  return line.includes(' host ') ? '' : line;
};
const OrigRTC = window.RTCPeerConnection;
if (OrigRTC) {
  window.RTCPeerConnection = function (...args) {
    const pc = new OrigRTC(...args);
    const origAddListener = pc.addEventListener.bind(pc);
    pc.addEventListener = (type, listener, ...rest) => {
      if (type === 'icecandidate' && typeof listener === 'function') {
        const wrapped = (ev) => {
          if (ev.candidate && ev.candidate.candidate) {
            const rewritten = rewriteCandidate(ev.candidate.candidate);
            if (rewritten === '') return;
            Object.defineProperty(ev.candidate, 'candidate', { get: () => rewritten, configurable: true });
          }
          listener(ev);
        };
        return origAddListener(type, wrapped, ...rest);
      }
      return origAddListener(type, listener, ...rest);
    };
    return pc;
  };
  window.RTCPeerConnection.prototype = OrigRTC.prototype;
}
`, ip)
}
