package proxy

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

// Relay is a loopback forward proxy that injects credentials toward an
// authenticated upstream. Chrome's --proxy-server flag carries no
// user:password part, so sessions with an authenticated proxy point at a
// relay instead and the relay answers the upstream's 407.
type Relay struct {
	upstream *schemas.Proxy
	listen   string
	logger   *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewRelay prepares a relay toward the given upstream. listen is the
// loopback bind address; port 0 picks an ephemeral port.
func NewRelay(upstream *schemas.Proxy, listen string, logger *zap.Logger) (*Relay, error) {
	if upstream == nil {
		return nil, schemas.NewError(schemas.KindValidation, "relay requires an upstream proxy")
	}
	if listen == "" {
		listen = "127.0.0.1:0"
	}
	return &Relay{
		upstream: upstream,
		listen:   listen,
		logger:   logger.Named("proxy_relay"),
	}, nil
}

// Start binds the listener and serves in the background. Addr is valid
// once Start returns.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener != nil {
		return nil
	}

	handler, err := r.buildHandler()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", r.listen)
	if err != nil {
		return fmt.Errorf("relay failed to bind %s: %w", r.listen, err)
	}
	r.listener = ln
	r.server = &http.Server{Handler: handler}

	go func() {
		if serveErr := r.server.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			r.logger.Warn("Relay server stopped", zap.Error(serveErr))
		}
	}()

	r.logger.Debug("Credential relay started",
		zap.String("listen", ln.Addr().String()),
		zap.String("upstream", r.upstream.Address()))
	return nil
}

// Addr returns the bound host:port, or "" before Start.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Close tears the relay down. Safe to call more than once.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server == nil {
		return nil
	}
	err := r.server.Close()
	r.server = nil
	r.listener = nil
	return err
}

func (r *Relay) buildHandler() (http.Handler, error) {
	p := goproxy.NewProxyHttpServer()
	p.Verbose = false

	switch r.upstream.Protocol {
	case "socks5":
		var auth *xproxy.Auth
		if r.upstream.Authenticated() {
			auth = &xproxy.Auth{User: r.upstream.Username, Password: r.upstream.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", r.upstream.Address(), auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to build socks5 upstream dialer: %w", err)
		}
		p.Tr = &http.Transport{Dial: dialer.Dial}
		p.ConnectDial = dialer.Dial

	case "http", "https", "":
		upstreamURL := &url.URL{Scheme: "http", Host: r.upstream.Address()}
		if r.upstream.Authenticated() {
			upstreamURL.User = url.UserPassword(r.upstream.Username, r.upstream.Password)
		}
		p.Tr = &http.Transport{Proxy: http.ProxyURL(upstreamURL)}

		connectHandler := func(req *http.Request) {
			if r.upstream.Authenticated() {
				req.Header.Set("Proxy-Authorization", basicAuth(r.upstream.Username, r.upstream.Password))
			}
		}
		p.ConnectDial = p.NewConnectDialToProxyWithHandler(upstreamURL.String(), connectHandler)

	default:
		return nil, schemas.NewError(schemas.KindValidation, "unsupported upstream protocol %q", r.upstream.Protocol)
	}

	return p, nil
}

func basicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}
