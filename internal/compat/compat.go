// Package compat validates that a model, version, parameter set and forcing
// fit together before anything is started.
package compat

import (
	"fmt"
	"log/slog"
	"strings"

	"hydrocycle/internal/domain"
	"hydrocycle/internal/forcing"
)

// UnsupportedVersionError reports a version outside a model's or parameter
// set's declared support.
type UnsupportedVersionError struct {
	Model     string
	Version   string
	Supported []string
	// ParameterSet is set when the restriction comes from a parameter set
	// rather than the model itself.
	ParameterSet string
}

func (e *UnsupportedVersionError) Error() string {
	if e.ParameterSet != "" {
		return fmt.Sprintf("parameter set %s does not support %s version %s (supported: %s)",
			e.ParameterSet, e.Model, e.Version, strings.Join(e.Supported, ", "))
	}
	return fmt.Sprintf("unsupported %s version %s (available: %s)",
		e.Model, e.Version, strings.Join(e.Supported, ", "))
}

// IncompatibleParameterSetError reports a parameter set built for another
// model.
type IncompatibleParameterSetError struct {
	ParameterSet string
	TargetModel  string
	Model        string
}

func (e *IncompatibleParameterSetError) Error() string {
	return fmt.Sprintf("parameter set %s targets model %s, not %s",
		e.ParameterSet, e.TargetModel, e.Model)
}

// Check verifies a (model, version, parameter set, forcing) tuple. It runs
// before any directory is created or process is started and performs no I/O.
//
// The geometry comparison between a forcing shape and a parameter set domain
// is deliberately a warning only: automatic geometry validation is
// unreliable, and basin boundaries rarely match exactly.
func Check(model, version string, available []string, ps *domain.ParameterSet, fc *forcing.Forcing) error {
	if !contains(available, version) {
		return &UnsupportedVersionError{Model: model, Version: version, Supported: available}
	}
	if ps != nil {
		if ps.TargetModel != model {
			return &IncompatibleParameterSetError{
				ParameterSet: ps.Name,
				TargetModel:  ps.TargetModel,
				Model:        model,
			}
		}
		if !ps.SupportsVersion(version) {
			return &UnsupportedVersionError{
				Model:        model,
				Version:      version,
				Supported:    ps.SupportedModelVersions,
				ParameterSet: ps.Name,
			}
		}
	}
	if ps != nil && fc != nil && fc.Shape != "" {
		slog.Warn("cannot verify that the forcing shape matches the parameter set domain; continuing",
			"parameter_set", ps.Name, "shape", fc.Shape)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
