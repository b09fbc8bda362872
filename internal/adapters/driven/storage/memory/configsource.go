package memory

import (
	"sync"

	"github.com/custodia-labs/memweave/internal/core/domain"
	"github.com/custodia-labs/memweave/internal/core/ports/driven"
)

// Ensure ConfigSource implements the interface.
var _ driven.ConfigSource = (*ConfigSource)(nil)

// ConfigSource is an in-memory implementation of driven.ConfigSource for testing.
type ConfigSource struct {
	mu  sync.RWMutex
	cfg domain.Config
}

// NewConfigSource creates a config source holding cfg.
func NewConfigSource(cfg domain.Config) *ConfigSource {
	return &ConfigSource{cfg: cfg}
}

// Load returns the held configuration with defaults applied.
func (s *ConfigSource) Load() (domain.Config, error) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()
	cfg.Backends = append([]domain.BackendDescriptor(nil), cfg.Backends...)
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

// Save replaces the held configuration.
func (s *ConfigSource) Save(cfg domain.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// Path returns a fixed placeholder.
func (s *ConfigSource) Path() string {
	return "memory://config"
}
