// Package registry manages the process-wide collection of parameter sets.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"hydrocycle/internal/domain"
)

var (
	// ErrNotFound is returned when a parameter set name is not registered.
	ErrNotFound = errors.New("parameter set not found")
	// ErrDuplicateName is returned when registering an already known name
	// without requesting overwrite.
	ErrDuplicateName = errors.New("parameter set already registered")
)

// DownloadError wraps a failed materialization.
type DownloadError struct {
	Name string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download parameter set %s: %v", e.Name, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Registry holds parameter sets by name. Registration from multiple
// goroutines is serialized by the internal lock; lookups never observe a
// half-inserted entry.
type Registry struct {
	mu   sync.RWMutex
	sets map[string]domain.ParameterSet
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sets: make(map[string]domain.ParameterSet)}
}

// FromSettings creates a registry seeded with the parameter sets declared in
// the settings file.
func FromSettings(sets map[string]domain.ParameterSet) *Registry {
	r := New()
	for name, ps := range sets {
		ps.Name = name
		r.sets[name] = ps
	}
	return r
}

// Register adds a parameter set by name. A name collision fails with
// ErrDuplicateName unless overwrite is requested.
func (r *Registry) Register(ps domain.ParameterSet, overwrite bool) error {
	if ps.Name == "" {
		return fmt.Errorf("parameter set has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[ps.Name]; ok && !overwrite {
		return fmt.Errorf("%w: %s", ErrDuplicateName, ps.Name)
	}
	r.sets[ps.Name] = ps
	return nil
}

// Remove deletes a parameter set from the registry.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.sets, name)
	return nil
}

// Lookup returns the parameter set registered under name.
func (r *Registry) Lookup(name string) (domain.ParameterSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ps, ok := r.sets[name]
	if !ok {
		return domain.ParameterSet{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return ps, nil
}

// Filter returns all parameter sets, optionally restricted to one target
// model. Pass the empty string to get everything.
func (r *Registry) Filter(targetModel string) map[string]domain.ParameterSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.ParameterSet)
	for name, ps := range r.sets {
		if targetModel != "" && ps.TargetModel != targetModel {
			continue
		}
		out[name] = ps
	}
	return out
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Materialize fetches the parameter set directory when it has a downloader
// and is not present locally yet. Re-materializing an existing directory is a
// no-op. The archive is extracted into a temporary sibling directory and
// renamed into place, so a failed download never leaves a directory that
// looks present.
func (r *Registry) Materialize(ctx context.Context, ps domain.ParameterSet) error {
	if _, err := os.Stat(ps.ConfigPath()); err == nil {
		slog.Debug("parameter set already materialized", "name", ps.Name, "dir", ps.Directory)
		return nil
	}
	if ps.Downloader == nil {
		return &DownloadError{
			Name: ps.Name,
			Err:  fmt.Errorf("missing on disk and no downloader declared"),
		}
	}
	slog.Info("downloading parameter set", "name", ps.Name, "url", ps.Downloader.URL)
	if err := fetchArchive(ctx, *ps.Downloader, ps.Directory); err != nil {
		return &DownloadError{Name: ps.Name, Err: err}
	}
	if _, err := os.Stat(ps.ConfigPath()); err != nil {
		return &DownloadError{
			Name: ps.Name,
			Err:  fmt.Errorf("config file %s missing after download", ps.Config),
		}
	}
	return nil
}
