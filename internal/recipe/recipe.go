// Package recipe builds declarative recipe documents for the external
// recipe-execution engine.
package recipe

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Dataset is the engine's dataset section: either resolved from a well-known
// name or supplied as an explicit descriptor.
type Dataset struct {
	Dataset string `yaml:"dataset"`
	Project string `yaml:"project,omitempty"`
	Tier    int    `yaml:"tier,omitempty"`
	Type    string `yaml:"type,omitempty"`
	Version int    `yaml:"version,omitempty"`
	MIP     string `yaml:"mip,omitempty"`
	// Climate model projection fields, used instead of the reanalysis fields
	// above when requesting e.g. CMIP data.
	Exp      string `yaml:"exp,omitempty"`
	Ensemble string `yaml:"ensemble,omitempty"`
	Grid     string `yaml:"grid,omitempty"`
}

// Documentation is the header block every recipe carries.
type Documentation struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Authors     []string `yaml:"authors"`
	Projects    []string `yaml:"projects,omitempty"`
}

// Variable is one requested physical variable inside the diagnostic.
type Variable struct {
	MIP          string `yaml:"mip,omitempty"`
	Preprocessor string `yaml:"preprocessor,omitempty"`
	StartYear    int    `yaml:"start_year"`
	EndYear      int    `yaml:"end_year"`
	ShortName    string `yaml:"short_name,omitempty"`
}

// Script is the diagnostic script entry.
type Script struct {
	Script string            `yaml:"script"`
	Args   map[string]string `yaml:"args,omitempty"`
}

// Diagnostic groups the requested variables with the script that post
// processes them inside the engine.
type Diagnostic struct {
	Variables map[string]Variable `yaml:"variables"`
	Scripts   map[string]Script   `yaml:"scripts,omitempty"`
}

// Preprocessor is a free-form engine preprocessing block.
type Preprocessor map[string]any

// Recipe is the immutable document handed to the engine. Build it with
// Builder; do not mutate it afterwards.
type Recipe struct {
	Documentation Documentation           `yaml:"documentation"`
	Datasets      []Dataset               `yaml:"datasets"`
	Preprocessors map[string]Preprocessor `yaml:"preprocessors,omitempty"`
	Diagnostics   map[string]Diagnostic   `yaml:"diagnostics"`
}

// Names of the fixed blocks inside generated recipes.
const (
	DiagnosticName          = "diagnostic"
	ScriptName              = "script"
	DefaultDiagnosticScript = "hydrology/generic.py"
)

// MarshalYAML is implicit via struct tags; ToYAML returns the document as the
// engine expects it on disk.
func (r *Recipe) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal recipe: %w", err)
	}
	return data, nil
}

// FromYAML parses a recipe document.
func FromYAML(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse recipe: %w", err)
	}
	return &r, nil
}

// Variables returns the requested variable names in no particular order.
func (r *Recipe) Variables() []string {
	diag, ok := r.Diagnostics[DiagnosticName]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(diag.Variables))
	for name := range diag.Variables {
		names = append(names, name)
	}
	return names
}
