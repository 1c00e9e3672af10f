// Package model orchestrates the lifecycle of a model run: configuration,
// process launch, stepping and variable access.
package model

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hydrocycle/internal/config"
	"hydrocycle/internal/domain"
	"hydrocycle/internal/forcing"
	"hydrocycle/internal/remote"
)

// Setup is everything a plugin needs to render its configuration and launch
// its process for one run.
type Setup struct {
	WorkDir      string
	ParameterSet *domain.ParameterSet
	Forcing      *forcing.Forcing
	// StartTime and EndTime default to the forcing window; overrides may
	// narrow them.
	StartTime string
	EndTime   string
	// Overrides are the caller's validated extra parameters.
	Overrides map[string]any
}

// Plugin adapts one model family to the orchestrator. Implementations live
// under plugins/ and register themselves at process start.
type Plugin interface {
	// Name identifies the model family, e.g. "generic" or "leakybucket".
	Name() string
	// AvailableVersions lists the versions this plugin can launch.
	AvailableVersions() []string
	// Calendar is the calendar the model's time axis uses.
	Calendar() string
	// OverrideSchema is a JSON schema describing the recognized configuration
	// overrides. Keys outside its properties are rejected before launch.
	OverrideSchema() string
	// ForcingOptions adjusts a forcing generation request with the variables
	// and post-processing this model needs.
	ForcingOptions(o *forcing.Options)
	// RenderConfig writes the model configuration file into the working
	// directory and returns its path.
	RenderConfig(setup Setup) (string, error)
	// Launch starts or attaches to the model process for a version and
	// returns its protocol handle plus a teardown function.
	Launch(ctx context.Context, version string, setup Setup, settings *config.Settings) (remote.Bmi, func(), error)
}

var (
	pluginsMu sync.RWMutex
	plugins   = map[string]Plugin{}
)

// RegisterPlugin adds a plugin to the process-wide registry. Registering the
// same name twice panics; it is a wiring error, not a runtime condition.
func RegisterPlugin(p Plugin) {
	pluginsMu.Lock()
	defer pluginsMu.Unlock()
	if _, dup := plugins[p.Name()]; dup {
		panic(fmt.Sprintf("model plugin %q registered twice", p.Name()))
	}
	plugins[p.Name()] = p
}

// LookupPlugin resolves a plugin by model name.
func LookupPlugin(name string) (Plugin, error) {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()
	p, ok := plugins[name]
	if !ok {
		return nil, fmt.Errorf("unknown model %q (registered: %v)", name, pluginNamesLocked())
	}
	return p, nil
}

// PluginNames returns the registered model names, sorted.
func PluginNames() []string {
	pluginsMu.RLock()
	defer pluginsMu.RUnlock()
	return pluginNamesLocked()
}

func pluginNamesLocked() []string {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
