package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

// Checker probes proxies and flips their stored status. A probe is one
// GET through the proxy against a small well-known endpoint.
type Checker struct {
	store    schemas.Store
	checkURL string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewChecker builds a Checker probing against checkURL with the given
// per-probe timeout.
func NewChecker(store schemas.Store, checkURL string, timeout time.Duration, logger *zap.Logger) *Checker {
	return &Checker{
		store:    store,
		checkURL: checkURL,
		timeout:  timeout,
		logger:   logger.Named("proxy_checker"),
	}
}

// Probe dials through the proxy and reports the observed status without
// touching the store.
func (c *Checker) Probe(ctx context.Context, p *schemas.Proxy) schemas.ProxyStatus {
	client, err := c.clientFor(p)
	if err != nil {
		c.logger.Warn("Cannot build probe client", zap.String("proxy", p.Address()), zap.Error(err))
		return schemas.ProxyOffline
	}
	defer client.CloseIdleConnections()

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.checkURL, nil)
	if err != nil {
		return schemas.ProxyOffline
	}

	resp, err := client.Do(req)
	if err != nil {
		c.logger.Debug("Proxy probe failed", zap.String("proxy", p.Address()), zap.Error(err))
		return schemas.ProxyOffline
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return schemas.ProxyOffline
	}
	return schemas.ProxyOnline
}

// Check probes the proxy and persists the resulting status.
func (c *Checker) Check(ctx context.Context, p *schemas.Proxy) (schemas.ProxyStatus, error) {
	status := c.Probe(ctx, p)
	if err := c.store.UpdateProxyStatus(ctx, p.ID, status); err != nil {
		return status, fmt.Errorf("failed to record proxy status: %w", err)
	}
	c.logger.Info("Proxy checked",
		zap.String("proxy", p.Address()), zap.String("status", string(status)))
	return status, nil
}

// clientFor builds an http.Client routed through the proxy. SOCKS5
// upstreams go through the x/net SOCKS dialer so credentials work; HTTP
// upstreams use the transport's native proxy support.
func (c *Checker) clientFor(p *schemas.Proxy) (*http.Client, error) {
	transport := &http.Transport{}

	switch p.Protocol {
	case "socks5":
		var auth *xproxy.Auth
		if p.Authenticated() {
			auth = &xproxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", p.Address(), auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to build socks5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	case "http", "https", "":
		proxyURL := &url.URL{Scheme: "http", Host: p.Address()}
		if p.Authenticated() {
			proxyURL.User = url.UserPassword(p.Username, p.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	default:
		return nil, schemas.NewError(schemas.KindValidation, "unsupported proxy protocol %q", p.Protocol)
	}

	return &http.Client{Transport: transport, Timeout: c.timeout}, nil
}
