// Package generic adapts containerized models that take a YAML configuration
// and standard meteorological forcing (precipitation, temperature and
// optionally radiation-derived potential evaporation).
package generic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"hydrocycle/internal/config"
	"hydrocycle/internal/forcing"
	"hydrocycle/internal/model"
	"hydrocycle/internal/remote"
)

// Name is the model family identifier.
const Name = "generic"

// images maps model versions to container images.
var images = map[string]string{
	"1.0": "hydrocycle/generic-model:1.0",
}

const overrideSchema = `{
  "type": "object",
  "properties": {
    "start_time": {"type": "string"},
    "end_time": {"type": "string"},
    "spinup_days": {"type": "integer", "minimum": 0},
    "solver": {"type": "string", "enum": ["explicit", "implicit"]}
  }
}`

// Plugin implements the generic model family. Lumped selects basin-averaged
// forcing instead of gridded.
type Plugin struct {
	Lumped bool
}

var _ model.Plugin = (*Plugin)(nil)

func (p *Plugin) Name() string { return Name }

func (p *Plugin) AvailableVersions() []string {
	versions := make([]string, 0, len(images))
	for v := range images {
		versions = append(versions, v)
	}
	return versions
}

func (p *Plugin) Calendar() string { return model.CalendarProlepticGregorian }

func (p *Plugin) OverrideSchema() string { return overrideSchema }

// ForcingOptions requests precipitation and temperature, plus radiation when
// the model should derive potential evaporation.
func (p *Plugin) ForcingOptions(o *forcing.Options) {
	o.Lumped = p.Lumped
	if len(o.Variables) == 0 {
		o.Variables = []string{"pr", "tas"}
	}
	for _, v := range o.Variables {
		if v == "rsds" {
			o.Postprocess = forcing.MakkinkPostprocessor
		}
	}
}

// RenderConfig merges the parameter set's configuration template with the
// run's forcing and overrides and writes the result into the working
// directory.
func (p *Plugin) RenderConfig(setup model.Setup) (string, error) {
	doc := map[string]any{}
	if setup.ParameterSet != nil {
		data, err := os.ReadFile(setup.ParameterSet.ConfigPath())
		if err != nil {
			return "", fmt.Errorf("read configuration template: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return "", fmt.Errorf("parse configuration template: %w", err)
		}
	}
	doc["start_time"] = setup.StartTime
	doc["end_time"] = setup.EndTime
	doc["work_dir"] = setup.WorkDir
	if setup.ParameterSet != nil {
		doc["parameter_dir"] = setup.ParameterSet.Directory
	}
	if setup.Forcing != nil {
		files := map[string]string{}
		for name, fname := range setup.Forcing.Filenames {
			files[name] = filepath.Join(setup.Forcing.Directory, fname)
		}
		doc["forcing"] = files
	}
	for key, value := range setup.Overrides {
		doc[key] = value
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal configuration: %w", err)
	}
	path := filepath.Join(setup.WorkDir, "generic_config.yml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Launch starts the model container for the requested version and connects
// to its protocol port.
func (p *Plugin) Launch(ctx context.Context, version string, setup model.Setup, settings *config.Settings) (remote.Bmi, func(), error) {
	image, ok := images[version]
	if !ok {
		return nil, nil, fmt.Errorf("no image for %s version %s", Name, version)
	}
	spec := remote.ContainerSpec{
		Engine:   settings.ContainerEngine,
		Image:    image,
		ImageDir: settings.ApptainerDir,
		WorkDir:  setup.WorkDir,
	}
	if setup.ParameterSet != nil {
		spec.InputDirs = append(spec.InputDirs, setup.ParameterSet.Directory)
	}
	if setup.Forcing != nil {
		spec.InputDirs = append(spec.InputDirs, setup.Forcing.Directory)
	}
	container, err := remote.StartContainer(ctx, spec)
	if err != nil {
		return nil, nil, err
	}
	return container.Bmi(), container.Stop, nil
}

func init() {
	model.RegisterPlugin(&Plugin{})
}
