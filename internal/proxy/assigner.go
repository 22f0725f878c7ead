// Package proxy resolves upstream egress for profiles: sequential
// round-robin assignment across groups, explicit address registration,
// health checking, and a local credential-injecting relay for upstreams
// Chrome cannot authenticate against directly.
package proxy

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

// AssignSequential picks the proxy for the profile at the given 1-based
// index: candidates[(index-1) mod len]. Creating N profiles against a
// group of M proxies therefore cycles ceil(N/M) times through the group.
// An empty candidate list yields nil: the profile runs proxy-less, which
// is not an error.
func AssignSequential(candidates []schemas.Proxy, index int) *schemas.Proxy {
	if len(candidates) == 0 {
		return nil
	}
	if index < 1 {
		index = 1
	}
	p := candidates[(index-1)%len(candidates)]
	return &p
}

// Address is a parsed host:port[:username[:password]] proxy string.
type Address struct {
	Host     string
	Port     int
	Username string
	Password string
}

// ParseAddress validates and splits a proxy address string. A missing
// host or a non-numeric/out-of-range port is a validation error.
func ParseAddress(raw string) (Address, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 4 {
		return Address{}, schemas.NewError(schemas.KindValidation, "proxy address %q must be host:port[:username[:password]]", raw)
	}

	host := parts[0]
	if host == "" {
		return Address{}, schemas.NewError(schemas.KindValidation, "proxy address %q is missing a host", raw)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return Address{}, schemas.NewError(schemas.KindValidation, "proxy address %q has an invalid port %q", raw, parts[1])
	}

	addr := Address{Host: host, Port: port}
	if len(parts) >= 3 {
		addr.Username = parts[2]
	}
	if len(parts) == 4 {
		addr.Password = parts[3]
	}
	return addr, nil
}

// Assigner resolves proxies against the metadata store.
type Assigner struct {
	store  schemas.Store
	logger *zap.Logger
}

// NewAssigner creates an Assigner. All runtime state lives in the store;
// the assigner itself holds no mutable configuration.
func NewAssigner(store schemas.Store, logger *zap.Logger) *Assigner {
	return &Assigner{
		store:  store,
		logger: logger.Named("proxy_assigner"),
	}
}

// AssignExplicit resolves a host:port[:username[:password]] string to a
// stored proxy, registering a new record when no proxy exists at that
// host and port yet.
func (a *Assigner) AssignExplicit(ctx context.Context, raw string) (*schemas.Proxy, error) {
	addr, err := ParseAddress(raw)
	if err != nil {
		return nil, err
	}

	existing, err := a.store.FindProxyByAddress(ctx, addr.Host, addr.Port)
	if err == nil {
		return existing, nil
	}
	if !schemas.IsKind(err, schemas.KindNotFound) {
		return nil, err
	}

	p := &schemas.Proxy{
		ID:       uuid.New().String(),
		Host:     addr.Host,
		Port:     addr.Port,
		Protocol: "http",
		Username: addr.Username,
		Password: addr.Password,
		Status:   schemas.ProxyOnline,
	}
	if err := a.store.CreateProxy(ctx, p); err != nil {
		return nil, err
	}

	a.logger.Info("Registered new proxy from explicit address",
		zap.String("host", addr.Host), zap.Int("port", addr.Port))
	return p, nil
}

// AssignFromGroup enumerates the group in stable order and applies
// sequential assignment for the given 1-based index.
func (a *Assigner) AssignFromGroup(ctx context.Context, groupID string, index int) (*schemas.Proxy, error) {
	members, err := a.store.FindProxyGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return AssignSequential(members, index), nil
}

// Resolve loads the proxy referenced by a profile, or nil when the
// profile runs without one.
func (a *Assigner) Resolve(ctx context.Context, profile *schemas.Profile) (*schemas.Proxy, error) {
	if profile.ProxyID == "" {
		return nil, nil
	}
	return a.store.FindProxyByID(ctx, profile.ProxyID)
}
