package driven

import "github.com/custodia-labs/memweave/internal/core/domain"

// ConfigSource provides the orchestrator configuration.
// Implementations handle persistence (e.g., TOML files) and defaults.
type ConfigSource interface {
	// Load reads configuration from storage.
	// Missing optional values are filled with defaults.
	Load() (domain.Config, error)

	// Save persists the configuration to storage.
	Save(cfg domain.Config) error

	// Path returns the configuration location.
	Path() string
}
