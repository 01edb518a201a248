package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrAgentNotFound is returned when an id does not resolve to an agent
var ErrAgentNotFound = errors.New("agent not found")

// Registry resolves agent ids to configurations and live handles. Handles are
// created lazily through the factory and cached.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
	handles map[string]Agent
	factory Factory
}

// NewRegistry creates a registry. A nil factory defaults to CreateAgent.
func NewRegistry(factory Factory, configs ...Config) (*Registry, error) {
	if factory == nil {
		factory = CreateAgent
	}
	r := &Registry{
		configs: make(map[string]Config),
		handles: make(map[string]Agent),
		factory: factory,
	}
	for _, cfg := range configs {
		if err := r.Register(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an agent configuration
func (r *Registry) Register(cfg Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[cfg.ID]; exists {
		return fmt.Errorf("agent %s already registered", cfg.ID)
	}
	r.configs[cfg.ID] = cfg
	return nil
}

// Add registers a ready-made handle together with a minimal configuration
func (r *Registry) Add(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[a.ID()]; !exists {
		r.configs[a.ID()] = Config{ID: a.ID(), Name: a.Name(), Type: a.Type()}
	}
	r.handles[a.ID()] = a
}

// GetAgentByID returns the configuration of an agent
func (r *Registry) GetAgentByID(id string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	return cfg, ok
}

// Get returns the live handle for an agent, creating it on first use
func (r *Registry) Get(id string) (Agent, error) {
	r.mu.RLock()
	handle, ok := r.handles[id]
	cfg, known := r.configs[id]
	r.mu.RUnlock()
	if ok {
		return handle, nil
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	created, err := r.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[id]; ok {
		return existing, nil
	}
	r.handles[id] = created
	return created, nil
}

// Configs returns every registered configuration sorted by id
func (r *Registry) Configs() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.configs))
	for _, cfg := range r.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
