// Package session owns the browser session lifecycle: exclusive profile
// directory ownership, host-wide session caps, proxy wiring, and release.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tapsucode/stealthfleet/api/schemas"
	"github.com/tapsucode/stealthfleet/internal/config"
	"github.com/tapsucode/stealthfleet/internal/proxy"
)

// Options tune one launch. Zero values fall back to configuration.
type Options struct {
	Headless  bool
	StartPage string
	Timeout   time.Duration
}

// Launcher turns a profile into a live, proxied, fingerprint-applied
// browser session. A profile's directory is held exclusively for the
// session's lifetime; a second launch for the same profile fails fast
// with a conflict instead of queueing.
type Launcher struct {
	factory  schemas.SessionFactory
	store    schemas.Store
	resolver *proxy.Assigner
	cfg      config.Config
	logger   *zap.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu     sync.Mutex
	active map[string]struct{} // profile IDs with a live session
}

func NewLauncher(factory schemas.SessionFactory, store schemas.Store, cfg config.Config, logger *zap.Logger) *Launcher {
	maxSessions := cfg.Engine.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 10
	}
	perSecond := cfg.Browser.LaunchesPerSecond
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Launcher{
		factory:  factory,
		store:    store,
		resolver: proxy.NewAssigner(store, logger),
		cfg:      cfg,
		logger:   logger.Named("launcher"),
		sem:      semaphore.NewWeighted(int64(maxSessions)),
		limiter:  limiter,
		active:   make(map[string]struct{}),
	}
}

// ActiveCount reports how many sessions currently hold a profile directory.
func (l *Launcher) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Launch boots a session for the profile. It claims the profile's
// directory, waits for a session slot, resolves and wires the proxy,
// and marks the profile active in the store. Any failure releases
// everything claimed so far.
func (l *Launcher) Launch(ctx context.Context, profile *schemas.Profile, opts Options) (*Session, error) {
	if profile == nil || profile.ID == "" {
		return nil, schemas.NewError(schemas.KindValidation, "profile is required")
	}

	if err := l.claim(profile.ID); err != nil {
		return nil, err
	}
	release := func() { l.unclaim(profile.ID) }

	if err := l.sem.Acquire(ctx, 1); err != nil {
		release()
		return nil, schemas.WrapError(schemas.KindLaunch, err, "waiting for a session slot")
	}
	releaseSem := func() { l.sem.Release(1) }

	if err := l.limiter.Wait(ctx); err != nil {
		releaseSem()
		release()
		return nil, schemas.WrapError(schemas.KindLaunch, err, "launch stagger interrupted")
	}

	upstream, err := l.resolver.Resolve(ctx, profile)
	if err != nil {
		releaseSem()
		release()
		return nil, err
	}

	proxyServer, relay, err := l.wireProxy(upstream)
	if err != nil {
		releaseSem()
		release()
		return nil, err
	}

	dir := filepath.Join(l.cfg.Browser.ProfilesDir, profile.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		closeRelay(relay)
		releaseSem()
		release()
		return nil, schemas.WrapError(schemas.KindLaunch, err, "creating profile directory %s", dir)
	}

	params := schemas.LaunchParams{
		Fingerprint: profile.Fingerprint,
		ProxyServer: proxyServer,
		Headless:    opts.Headless,
		StartPage:   opts.StartPage,
		Timeout:     opts.Timeout,
	}
	browser, err := l.factory.LaunchPersistent(ctx, dir, params)
	if err != nil {
		closeRelay(relay)
		releaseSem()
		release()
		if schemas.KindOf(err) != "" {
			return nil, err
		}
		return nil, schemas.WrapError(schemas.KindLaunch, err, "launching session for profile %s", profile.ID)
	}

	now := time.Now().UTC()
	if err := l.store.UpdateProfileStatus(ctx, profile.ID, schemas.ProfileActive, now); err != nil {
		l.logger.Warn("Failed to mark profile active",
			zap.String("profile_id", profile.ID), zap.Error(err))
	}

	s := &Session{
		ProfileID:  profile.ID,
		Browser:    browser,
		launchedAt: now,
		relay:      relay,
		onRelease: func(ctx context.Context) {
			if err := l.store.UpdateProfileStatus(ctx, profile.ID, schemas.ProfileIdle, time.Now().UTC()); err != nil {
				l.logger.Warn("Failed to mark profile idle",
					zap.String("profile_id", profile.ID), zap.Error(err))
			}
			releaseSem()
			release()
		},
	}
	l.logger.Info("Session launched",
		zap.String("profile_id", profile.ID),
		zap.String("session_id", browser.ID()),
		zap.String("proxy_server", proxyServer),
	)
	return s, nil
}

func (l *Launcher) claim(profileID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.active[profileID]; ok {
		return schemas.NewError(schemas.KindConflict, "profile %s already has an active session", profileID)
	}
	l.active[profileID] = struct{}{}
	return nil
}

func (l *Launcher) unclaim(profileID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, profileID)
}

// wireProxy translates the resolved upstream into a --proxy-server value.
// Chrome's flag carries no credentials, so authenticated upstreams go
// through a loopback relay that injects them.
func (l *Launcher) wireProxy(upstream *schemas.Proxy) (string, *proxy.Relay, error) {
	if upstream == nil {
		return "", nil, nil
	}
	if !upstream.Authenticated() {
		return fmt.Sprintf("%s://%s", upstream.Protocol, upstream.Address()), nil, nil
	}

	relay, err := proxy.NewRelay(upstream, l.cfg.Proxy.RelayListen, l.logger)
	if err != nil {
		return "", nil, err
	}
	if err := relay.Start(); err != nil {
		return "", nil, schemas.WrapError(schemas.KindLaunch, err, "starting credential relay for %s", upstream.Address())
	}
	return "http://" + relay.Addr(), relay, nil
}

func closeRelay(r *proxy.Relay) {
	if r != nil {
		_ = r.Close()
	}
}

// Session is a live claimed browser bound to one profile.
type Session struct {
	ProfileID string
	Browser   schemas.BrowserSession

	launchedAt time.Time
	relay      *proxy.Relay
	releaseOne sync.Once
	onRelease  func(ctx context.Context)
}

// LaunchedAt reports when the session came up.
func (s *Session) LaunchedAt() time.Time { return s.launchedAt }

// Release closes the browser, tears down the relay, and returns the
// profile directory and session slot. Safe to call more than once; only
// the first call does work.
func (s *Session) Release(ctx context.Context) error {
	var closeErr error
	s.releaseOne.Do(func() {
		closeErr = s.Browser.Close(ctx)
		closeRelay(s.relay)
		if s.onRelease != nil {
			s.onRelease(ctx)
		}
	})
	return closeErr
}
