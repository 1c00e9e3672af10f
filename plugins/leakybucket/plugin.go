package leakybucket

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
const Name = "leakybucket"

const overrideSchema = `{
  "type": "object",
  "properties": {
    "start_time": {"type": "string"},
    "end_time": {"type": "string"},
    "leakiness": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "initial_storage": {"type": "number", "minimum": 0},
    "latitude": {"type": "number"},
    "longitude": {"type": "number"}
  }
}`

// Plugin runs the leaky bucket in-process; no container is involved.
type Plugin struct{}

var _ model.Plugin = (*Plugin)(nil)

func (p *Plugin) Name() string { return Name }

func (p *Plugin) AvailableVersions() []string { return []string{"1.0"} }

func (p *Plugin) Calendar() string { return model.CalendarProlepticGregorian }

func (p *Plugin) OverrideSchema() string { return overrideSchema }

// ForcingOptions requests a basin-averaged precipitation series.
func (p *Plugin) ForcingOptions(o *forcing.Options) {
	o.Lumped = true
	if len(o.Variables) == 0 {
		o.Variables = []string{"pr"}
	}
}

func (p *Plugin) RenderConfig(setup model.Setup) (string, error) {
	if setup.Forcing == nil {
		return "", fmt.Errorf("%s requires forcing with a precipitation series", Name)
	}
	prFile, ok := setup.Forcing.Filenames["pr"]
	if !ok {
		return "", fmt.Errorf("forcing has no pr variable (has: %v)", setup.Forcing.Variables())
	}
	cfg := Config{
		PrecipitationFile: filepath.Join(setup.Forcing.Directory, prFile),
		Leakiness:         0.05,
		InitialStorage:    0,
		StartTime:         setup.StartTime,
	}
	if v, ok := setup.Overrides["leakiness"].(float64); ok {
		cfg.Leakiness = v
	}
	if v, ok := setup.Overrides["initial_storage"].(float64); ok {
		cfg.InitialStorage = v
	}
	if v, ok := setup.Overrides["latitude"].(float64); ok {
		cfg.Latitude = v
	}
	if v, ok := setup.Overrides["longitude"].(float64); ok {
		cfg.Longitude = v
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("marshal configuration: %w", err)
	}
	path := filepath.Join(setup.WorkDir, "leakybucket_config.yml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (p *Plugin) Launch(_ context.Context, version string, _ model.Setup, _ *config.Settings) (remote.Bmi, func(), error) {
	if version != "1.0" {
		return nil, nil, fmt.Errorf("no implementation for %s version %s", Name, version)
	}
	return &Model{}, func() {}, nil
}

func init() {
	model.RegisterPlugin(&Plugin{})
}
