package pool

import (
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/relaypool/relaypool/internal/rpcclient"
)

// HandleFactory builds the long-lived connection handle for one endpoint.
type HandleFactory func(cfg EndpointConfig) (*rpcclient.Client, error)

// DefaultHandleFactory builds a JSON-RPC client on the shared transport.
func DefaultHandleFactory(cfg EndpointConfig) (*rpcclient.Client, error) {
	return rpcclient.New(cfg.Name, cfg.URL, cfg.SecondaryURL)
}

// Registry holds the endpoint configs, runtime states and handles as parallel
// slices. An endpoint's identity is its index.
type Registry struct {
	source    Source
	settings  Settings
	logger    Logger
	newHandle HandleFactory

	once    sync.Once
	mu      sync.RWMutex
	configs []EndpointConfig
	states  []*EndpointState
	handles []*rpcclient.Client
}

// NewRegistry returns an unloaded registry.
func NewRegistry(source Source, settings Settings, logger Logger, factory HandleFactory) *Registry {
	if factory == nil {
		factory = DefaultHandleFactory
	}
	return &Registry{
		source:    source,
		settings:  settings.WithDefaults(),
		logger:    orNop(logger),
		newHandle: factory,
	}
}

// Load reads the endpoint source once. A missing or malformed source is logged
// and leaves the pool empty; later calls are no-ops.
func (r *Registry) Load() int {
	r.once.Do(r.load)
	return r.Size()
}

func (r *Registry) load() {
	if r.source == nil {
		r.logger.Warn("No endpoint source configured; pool is empty")
		return
	}

	specs, err := r.source.Endpoints()
	if err != nil {
		r.logger.Error("Failed to load endpoint list; continuing with an empty pool", zap.Error(err))
		return
	}

	configs := make([]EndpointConfig, 0, len(specs))
	states := make([]*EndpointState, 0, len(specs))
	handles := make([]*rpcclient.Client, 0, len(specs))

	for i, spec := range specs {
		cfg := r.settings.resolve(spec)
		if cfg.Name == "" {
			cfg.Name = defaultEndpointName(i, cfg.URL)
		}

		handle, err := r.newHandle(cfg)
		if err != nil {
			r.logger.Warn("Skipping endpoint with unusable configuration",
				zap.Int("position", i),
				zap.String("endpoint", cfg.Name),
				zap.Error(err))
			continue
		}

		configs = append(configs, cfg)
		states = append(states, newEndpointState(cfg))
		handles = append(handles, handle)
	}

	r.mu.Lock()
	r.configs = configs
	r.states = states
	r.handles = handles
	r.mu.Unlock()

	r.logger.Info("Endpoint registry loaded",
		zap.Int("configured", len(specs)),
		zap.Int("loaded", len(configs)))
}

// Size returns the number of loaded endpoints.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// Configs returns the endpoint configs in load order.
func (r *Registry) Configs() []EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EndpointConfig, len(r.configs))
	copy(out, r.configs)
	return out
}

// States returns the runtime state records in load order.
func (r *Registry) States() []*EndpointState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EndpointState, len(r.states))
	copy(out, r.states)
	return out
}

// ConfigAt returns the config at index i; ok is false when i is out of range.
func (r *Registry) ConfigAt(i int) (EndpointConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.configs) {
		return EndpointConfig{}, false
	}
	return r.configs[i], true
}

// StateAt returns the state at index i, or nil when i is out of range.
func (r *Registry) StateAt(i int) *EndpointState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.states) {
		return nil
	}
	return r.states[i]
}

// HandleAt returns the connection handle at index i, or nil when out of range.
func (r *Registry) HandleAt(i int) *rpcclient.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.handles) {
		return nil
	}
	return r.handles[i]
}

// entry returns the config and state of index i together.
func (r *Registry) entry(i int) (EndpointConfig, *EndpointState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.states) {
		return EndpointConfig{}, nil, false
	}
	return r.configs[i], r.states[i], true
}

func defaultEndpointName(i int, rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Host != "" {
		return fmt.Sprintf("%s#%d", parsed.Hostname(), i)
	}
	return fmt.Sprintf("endpoint-%d", i)
}
