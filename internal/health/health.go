// Package health reports whether the evaluation loop and its storage can do
// useful work. Checks are registered once at server construction and probed
// on every hit of the health endpoints.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of probing one subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Pass reports a subsystem as healthy.
func Pass(name string) Status {
	return Status{Name: name, Healthy: true}
}

// Fail reports a subsystem as unhealthy with a short reason.
func Fail(name, detail string) Status {
	return Status{Name: name, Healthy: false, Detail: detail}
}

// Check probes one subsystem. Implementations should honor ctx deadlines;
// the registry does not impose one.
type Check func(ctx context.Context) Status

// Registry runs checks in registration order, so the health endpoint emits
// subsystems in a stable order across probes.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

type entry struct {
	name  string
	probe Check
}

// NewRegistry returns an empty registry. An empty registry reports healthy.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a check. Duplicate names are kept, not replaced.
func (r *Registry) Register(name string, probe Check) {
	r.mu.Lock()
	r.entries = append(r.entries, entry{name: name, probe: probe})
	r.mu.Unlock()
}

// CheckAll probes every subsystem and reports the aggregate verdict plus
// the per-subsystem statuses. Any single failure degrades the aggregate.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	entries := make([]entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, len(entries))
	for i, e := range entries {
		statuses[i] = e.probe(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}
