package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
	"github.com/tapsucode/stealthfleet/internal/config"
	"github.com/tapsucode/stealthfleet/internal/stealth"
)

// ChromeFactory launches real Chrome processes through chromedp, one
// process per profile directory.
type ChromeFactory struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

func NewChromeFactory(cfg config.BrowserConfig, logger *zap.Logger) *ChromeFactory {
	return &ChromeFactory{cfg: cfg, logger: logger.Named("chrome_factory")}
}

// LaunchPersistent boots a browser bound to dir, applies the fingerprint
// overrides, and navigates to the start page. The returned session owns
// the process; the launch ctx only bounds startup.
func (f *ChromeFactory) LaunchPersistent(ctx context.Context, dir string, params schemas.LaunchParams) (schemas.BrowserSession, error) {
	opts := f.allocatorOptions(dir, params)

	// The session must outlive the launch context, so the allocator hangs
	// off Background and is torn down through the session's own cancels.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	cleanup := func() {
		browserCancel()
		allocCancel()
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = f.cfg.LaunchTimeout
	}
	if timeout <= 0 {
		timeout = fallbackLaunchTimeout
	}
	startCtx, cancelStart := context.WithTimeout(ctx, timeout)
	defer cancelStart()

	boot := chromedp.Tasks{
		stealth.Apply(params.Fingerprint, f.logger),
	}
	startPage := params.StartPage
	if startPage == "" {
		startPage = f.cfg.StartPage
	}
	if startPage != "" {
		boot = append(boot, chromedp.Navigate(startPage))
	}

	if err := runWithContext(startCtx, browserCtx, boot); err != nil {
		cleanup()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	s := &chromeSession{
		id:      uuid.New().String(),
		ctx:     browserCtx,
		cleanup: cleanup,
	}
	f.logger.Debug("Browser session launched",
		zap.String("session_id", s.id),
		zap.String("user_data_dir", dir),
		zap.Bool("proxied", params.ProxyServer != ""),
	)
	return s, nil
}

func (f *ChromeFactory) allocatorOptions(dir string, params schemas.LaunchParams) []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	// The stock option set carries enable-automation, which flips
	// navigator.webdriver and bars the stealth overrides from working.
	for _, opt := range chromedp.DefaultExecAllocatorOptions[:] {
		if flag, ok := opt.(chromedp.Flag); ok && flag.Name == "enable-automation" {
			continue
		}
		opts = append(opts, opt)
	}

	opts = append(opts,
		chromedp.UserDataDir(dir),
		chromedp.Flag("headless", params.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(params.Fingerprint.UserAgent),
		chromedp.WindowSize(params.Fingerprint.ScreenWidth, params.Fingerprint.ScreenHeight),
	)
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	if params.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(params.ProxyServer))
	}
	for _, arg := range f.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// runWithContext runs tasks on the browser context while honoring the
// shorter-lived bound context for cancellation.
func runWithContext(bound, browserCtx context.Context, tasks chromedp.Tasks) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(browserCtx, tasks)
	}()
	select {
	case err := <-done:
		return err
	case <-bound.Done():
		return bound.Err()
	}
}

type chromeSession struct {
	id      string
	ctx     context.Context
	cleanup func()
}

func (s *chromeSession) ID() string { return s.id }

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return runWithContext(ctx, s.ctx, chromedp.Tasks{chromedp.Navigate(url)})
}

func (s *chromeSession) Evaluate(ctx context.Context, script string, out any) error {
	return runWithContext(ctx, s.ctx, chromedp.Tasks{chromedp.Evaluate(script, out)})
}

func (s *chromeSession) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.cleanup()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ schemas.SessionFactory = (*ChromeFactory)(nil)

// launch grace applied when callers pass no timeout at all.
const fallbackLaunchTimeout = 60 * time.Second
