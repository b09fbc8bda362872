package domain

import (
	"fmt"
	"time"
)

// BackendRole describes what a backend is used for.
// Roles are informational; ordering is driven by Priority.
type BackendRole string

// Supported roles.
const (
	// RolePrimary is the authoritative store.
	RolePrimary BackendRole = "primary"

	// RoleBackup mirrors the primary.
	RoleBackup BackendRole = "backup"

	// RoleVectorSearch serves similarity search.
	RoleVectorSearch BackendRole = "vector-search"

	// RoleCognitive serves derived or analytical lookups.
	RoleCognitive BackendRole = "cognitive"
)

// IsValid returns true if the role is recognised.
func (r BackendRole) IsValid() bool {
	switch r {
	case RolePrimary, RoleBackup, RoleVectorSearch, RoleCognitive:
		return true
	default:
		return false
	}
}

// DefaultReconcileInterval returns the reconciliation period used when a
// descriptor does not set one. Authoritative and search backends reconcile
// more often than backups.
func (r BackendRole) DefaultReconcileInterval() time.Duration {
	switch r {
	case RolePrimary:
		return 30 * time.Second
	case RoleVectorSearch:
		return 15 * time.Second
	case RoleBackup:
		return 60 * time.Second
	default:
		return 2 * time.Minute
	}
}

// BackendDescriptor describes a registered backend.
type BackendDescriptor struct {
	// Name is the unique registry key.
	Name string `json:"name"`

	// Kind selects the adapter implementation (memory, sqlite, postgres, ...).
	Kind string `json:"kind"`

	// Role is informational.
	Role BackendRole `json:"role"`

	// Priority orders backends; lower is more authoritative.
	Priority int `json:"priority"`

	// ReconcileInterval is the reconciliation period for this backend.
	ReconcileInterval time.Duration `json:"reconcile_interval"`

	// LastSync is the high-water mark of the last successful delta pull.
	// Only the reconciliation task for this backend mutates it.
	LastSync time.Time `json:"last_sync"`

	// Options are adapter-specific settings (paths, DSNs, buckets).
	Options map[string]string `json:"options,omitempty"`
}

// Validate checks the descriptor is usable.
func (d BackendDescriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: backend name is required", ErrInvalidInput)
	}
	if d.Role != "" && !d.Role.IsValid() {
		return fmt.Errorf("%w: backend %s has unknown role %q", ErrInvalidInput, d.Name, d.Role)
	}
	if d.Priority < 0 {
		return fmt.Errorf("%w: backend %s has negative priority", ErrInvalidInput, d.Name)
	}
	if d.ReconcileInterval < 0 {
		return fmt.Errorf("%w: backend %s has negative reconcile interval", ErrInvalidInput, d.Name)
	}
	return nil
}

// WithDefaults fills in role and interval defaults.
func (d BackendDescriptor) WithDefaults() BackendDescriptor {
	if d.Role == "" {
		d.Role = RoleCognitive
	}
	if d.ReconcileInterval == 0 {
		d.ReconcileInterval = d.Role.DefaultReconcileInterval()
	}
	return d
}

// Option returns an adapter option or def if unset.
func (d BackendDescriptor) Option(key, def string) string {
	if v, ok := d.Options[key]; ok && v != "" {
		return v
	}
	return def
}
