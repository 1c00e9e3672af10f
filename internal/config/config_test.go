package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const settingsYAML = `container_engine: apptainer
output_dir: /scratch/output
parameterset_dir: /data/parametersets
apptainer_dir: /data/images
parameter_sets:
  rhine:
    directory: rhine
    config: model.yml
    target_model: generic
    supported_model_versions: ["1.0"]
`

func TestFromYAML(t *testing.T) {
	s, err := FromYAML([]byte(settingsYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.ContainerEngine != EngineApptainer {
		t.Fatalf("engine %q", s.ContainerEngine)
	}
	ps, ok := s.ParameterSets["rhine"]
	if !ok {
		t.Fatalf("rhine missing: %v", s.ParameterSets)
	}
	if ps.Name != "rhine" {
		t.Fatalf("name not filled from key: %q", ps.Name)
	}
	if ps.Directory != "/data/parametersets/rhine" {
		t.Fatalf("directory not resolved: %q", ps.Directory)
	}
}

func TestFromYAMLRejectsUnknownEngine(t *testing.T) {
	_, err := FromYAML([]byte("container_engine: podman\noutput_dir: /tmp\n"))
	if err == nil || !strings.Contains(err.Error(), "container_engine") {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestValidateParameterSets(t *testing.T) {
	_, err := FromYAML([]byte(`container_engine: docker
output_dir: /tmp
parameter_sets:
  rhine:
    directory: rhine
    target_model: generic
`))
	if err == nil || !strings.Contains(err.Error(), "config") {
		t.Fatalf("parameter set without config must fail, got %v", err)
	}
	_, err = FromYAML([]byte(`container_engine: docker
output_dir: /tmp
parameter_sets:
  rhine:
    name: meuse
    directory: rhine
    config: model.yml
`))
	if err == nil || !strings.Contains(err.Error(), "conflicting") {
		t.Fatalf("conflicting names must fail, got %v", err)
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydrocycle.yaml")
	s, err := FromYAML([]byte(settingsYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Source != path {
		t.Fatalf("source %q", loaded.Source)
	}
	if loaded.OutputDir != s.OutputDir || loaded.ContainerEngine != s.ContainerEngine {
		t.Fatalf("round trip lost settings: %+v", loaded)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}
