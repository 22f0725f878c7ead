// Package stealth turns a generated fingerprint into the Chrome DevTools
// Protocol overrides and injected scripts that make a profile's browser
// report the spoofed identity instead of the host's.
package stealth

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

//go:embed evasions.js
var evasionsScript string

// Apply constructs the CDP action sequence for one fingerprint. The
// overrides run before any page script, so a site never observes the
// real environment first.
func Apply(fp schemas.Fingerprint, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying fingerprint overrides",
		zap.String("userAgent", fp.UserAgent),
		zap.String("platform", fp.Platform),
		zap.String("timezone", fp.Timezone),
	)

	spoof := SpoofScript(fp)

	return chromedp.Tasks{
		// User agent and navigator.platform must agree or the mismatch
		// itself is a fingerprinting signal.
		emulation.SetUserAgentOverride(fp.UserAgent).
			WithPlatform(fp.Platform).
			WithAcceptLanguage(acceptLanguage(fp.Language)),

		emulation.SetDeviceMetricsOverride(int64(fp.ScreenWidth), int64(fp.ScreenHeight), 1.0, false),
		emulation.SetTimezoneOverride(fp.Timezone),
		emulation.SetLocaleOverride().WithLocale(fp.Language),

		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(fp.Language),
		}),

		// AddScriptToEvaluateOnNewDocument returns an identifier, which
		// does not fit the Action interface, hence the wrapper.
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(spoof).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject fingerprint script: %w", err)
			}
			return nil
		}),
	}
}

func acceptLanguage(lang string) string {
	if lang == "" {
		lang = "en-US"
	}
	return fmt.Sprintf("%s,en;q=0.9", lang)
}
