// Package config models the process-wide hydrocycle settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"hydrocycle/internal/domain"
)

// FileName is the settings file name looked up in the config directories.
const FileName = "hydrocycle.yaml"

// Container engines able to run model images.
const (
	EngineDocker    = "docker"
	EngineApptainer = "apptainer"
)

// Settings models hydrocycle.yaml.
type Settings struct {
	// ContainerEngine selects how model images are started.
	ContainerEngine string `yaml:"container_engine"`
	// OutputDir receives one sub directory per model run or forcing generation.
	OutputDir string `yaml:"output_dir"`
	// ParameterSetDir is the root for relative parameter set directories.
	ParameterSetDir string `yaml:"parameterset_dir"`
	// ApptainerDir holds .sif image files when ContainerEngine is apptainer.
	ApptainerDir string `yaml:"apptainer_dir,omitempty"`
	// ESMValToolBin is the recipe engine executable.
	ESMValToolBin string `yaml:"esmvaltool_bin,omitempty"`
	// ParameterSets declared in the settings file, keyed by name.
	ParameterSets map[string]domain.ParameterSet `yaml:"parameter_sets,omitempty"`

	// Source is the file the settings were loaded from, empty for defaults.
	Source string `yaml:"-"`
}

// Default returns usable settings pointing at the current directory.
func Default() *Settings {
	return &Settings{
		ContainerEngine: EngineDocker,
		OutputDir:       ".",
		ParameterSetDir: ".",
		ESMValToolBin:   "esmvaltool",
	}
}

// Validate ensures the settings meet the required structure.
func (s *Settings) Validate() error {
	switch s.ContainerEngine {
	case EngineDocker, EngineApptainer:
	default:
		return fmt.Errorf("unknown container_engine %q", s.ContainerEngine)
	}
	if s.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	for name, ps := range s.ParameterSets {
		if ps.Name != "" && ps.Name != name {
			return fmt.Errorf("parameter set %q declares conflicting name %q", name, ps.Name)
		}
		if ps.Config == "" {
			return fmt.Errorf("parameter set %q has no config file", name)
		}
	}
	return nil
}

// FromYAML parses and validates settings from raw YAML bytes.
func FromYAML(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("invalid settings yaml: %w", err)
	}
	for name, ps := range s.ParameterSets {
		ps.Name = name
		ps.MakeAbsolute(s.ParameterSetDir)
		s.ParameterSets[name] = ps
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads settings from the given file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := FromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Source = path
	return s, nil
}

// LoadDefault walks the usual locations and returns the first settings file
// found, or defaults when none exists.
func LoadDefault() (*Settings, error) {
	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

func searchPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "hydrocycle", FileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hydrocycle", FileName))
	}
	return append(paths, filepath.Join("/etc", FileName))
}

// Save writes the settings to the given file.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	s.Source = path
	return nil
}

var (
	systemMu sync.Mutex
	system   *Settings
)

// System returns the process-wide settings, loading them on first use.
// Components receive settings explicitly; System exists for the CLI entry
// point and for Apply.
func System() (*Settings, error) {
	systemMu.Lock()
	defer systemMu.Unlock()
	if system == nil {
		s, err := LoadDefault()
		if err != nil {
			return nil, err
		}
		system = s
	}
	return system, nil
}

// SetSystem replaces the process-wide settings.
func SetSystem(s *Settings) {
	systemMu.Lock()
	defer systemMu.Unlock()
	system = s
}

// Apply mutates the process-wide settings under the single-writer lock.
func Apply(fn func(*Settings) error) error {
	systemMu.Lock()
	defer systemMu.Unlock()
	if system == nil {
		system = Default()
	}
	return fn(system)
}
