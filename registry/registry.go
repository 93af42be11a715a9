// Package registry resolves a client URI's scheme to the constructor that
// can dial it, replacing the source's global client factory with an
// explicit, instance-owned mapping.
package registry

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hep-daq/ipbus/controlhub"
	"github.com/hep-daq/ipbus/ipbus"
	"github.com/hep-daq/ipbus/transport"
)

// ConstructorFunc dials uri and returns a client talking to it.
type ConstructorFunc func(uri string, opts ...DialOption) (ipbus.ClientInterface, error)

// dialConfig accumulates the options passed to Dial.
type dialConfig struct {
	id      string
	timeout time.Duration
}

// DialOption configures one Dial call.
type DialOption func(*dialConfig)

// WithIdentifier overrides the default random identifier Dial would
// otherwise assign.
func WithIdentifier(id string) DialOption {
	return func(c *dialConfig) { c.id = id }
}

// WithTimeout sets the dispatch timeout of the dialed client.
func WithTimeout(d time.Duration) DialOption {
	return func(c *dialConfig) { c.timeout = d }
}

// Registry maps a URI scheme to the constructor that can dial it. It is
// instance-owned: nothing in this package keeps a package-level registry
// except the opt-in convenience wrapper Default.
type Registry struct {
	ctors map[string]ConstructorFunc
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{ctors: make(map[string]ConstructorFunc)}
}

// Register binds scheme to ctor, overwriting any previous binding.
func (r *Registry) Register(scheme string, ctor ConstructorFunc) {
	r.ctors[scheme] = ctor
}

// Dial resolves uri's scheme to a constructor and calls it, assigning a
// random identifier via WithIdentifier(uuid.New().String()) when the
// caller didn't supply one.
func (r *Registry) Dial(uri string, opts ...DialOption) (ipbus.ClientInterface, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("registry: parse uri %q: %w", uri, err)
	}

	ctor, ok := r.ctors[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("registry: no constructor registered for scheme %q", u.Scheme)
	}

	cfg := &dialConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.New().String()
	}

	var ctorOpts []DialOption
	ctorOpts = append(ctorOpts, WithIdentifier(cfg.id))
	if cfg.timeout != 0 {
		ctorOpts = append(ctorOpts, WithTimeout(cfg.timeout))
	}
	return ctor(uri, ctorOpts...)
}

var defaultRegistry *Registry

// Default returns a process-wide registry pre-populated with the UDP and
// ControlHub constructors, for callers that don't need the explicit form.
// It is a convenience wrapper, not required global state: every call site
// could equally build its own Registry via New.
func Default() *Registry {
	if defaultRegistry == nil {
		defaultRegistry = New()
		defaultRegistry.Register("ipbusudp-2.0", dialUDP)
		defaultRegistry.Register("ipbusudp-2.0-controlhub", dialControlHub)
	}
	return defaultRegistry
}

func dialUDP(uri string, opts ...DialOption) (ipbus.ClientInterface, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	cfg := applyDialOpts(opts)

	tr, err := transport.DialUDP(u.Host)
	if err != nil {
		return nil, err
	}

	clientOpts := []ipbus.Option{ipbus.WithID(cfg.id)}
	if cfg.timeout != 0 {
		clientOpts = append(clientOpts, ipbus.WithTimeout(cfg.timeout))
	}
	return ipbus.New(uri, tr, clientOpts...), nil
}

func dialControlHub(uri string, opts ...DialOption) (ipbus.ClientInterface, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	cfg := applyDialOpts(opts)

	tr, err := transport.DialTCP(u.Host)
	if err != nil {
		return nil, err
	}

	clientOpts := []controlhub.Option{controlhub.WithID(cfg.id)}
	if cfg.timeout != 0 {
		clientOpts = append(clientOpts, controlhub.WithTimeout(cfg.timeout))
	}
	return controlhub.New(uri, tr, clientOpts...)
}

func applyDialOpts(opts []DialOption) *dialConfig {
	cfg := &dialConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
