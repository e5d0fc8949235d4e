// Package eftformat holds the built-in EFT batch file formatters.
package eftformat

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kevin07696/payment-batch/internal/domain/ports"
)

// Registry resolves formatters by name
type Registry struct {
	formatters map[string]ports.EFTFormatter
	mu         sync.RWMutex
}

var _ ports.EFTFormatterRegistry = (*Registry)(nil)

// NewRegistry returns a registry holding the given formatters
func NewRegistry(formatters ...ports.EFTFormatter) *Registry {
	r := &Registry{formatters: make(map[string]ports.EFTFormatter)}
	for _, f := range formatters {
		r.Register(f)
	}
	return r
}

// NewDefaultRegistry returns a registry with the nacha and csv formatters
func NewDefaultRegistry() *Registry {
	return NewRegistry(NACHA{}, CSV{})
}

// Register adds or replaces f under its name
func (r *Registry) Register(f ports.EFTFormatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatters[f.Name()] = f
}

// Get returns the formatter registered as name
func (r *Registry) Get(name string) (ports.EFTFormatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formatters[name]
	if !ok {
		return nil, fmt.Errorf("unknown EFT formatter %q (available: %v)", name, r.namesLocked())
	}
	return f, nil
}

// Names lists registered formatters in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
