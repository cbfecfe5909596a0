package services

import (
	"context"
	"fmt"
	"sort"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthImplementation implements the liveness and readiness probes
type HealthImplementation struct {
	checks map[string]HealthCheck
}

// NewHealthService creates a health service. checks are run by Readyz.
func NewHealthService(checks map[string]HealthCheck) *HealthImplementation {
	return &HealthImplementation{checks: checks}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) error {
	return nil
}

// Readyz runs every dependency check and reports the first failure in
// name order.
func (h *HealthImplementation) Readyz(ctx context.Context) error {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
