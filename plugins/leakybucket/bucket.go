// Package leakybucket is a native single-cell hydrological model: a storage
// that leaks proportionally to its content. It is small enough to run
// in-process yet exercises the full model control protocol.
package leakybucket

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the rendered run configuration the model reads at initialize.
type Config struct {
	// PrecipitationFile is a two-column (time, value) series in mm/day.
	PrecipitationFile string `yaml:"precipitation_file"`
	// Leakiness is the fraction of storage drained per day.
	Leakiness float64 `yaml:"leakiness"`
	// InitialStorage in mm.
	InitialStorage float64 `yaml:"initial_storage"`
	// StartTime is the epoch of the time axis, UTC ISO format.
	StartTime string  `yaml:"start_time"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Model steps a leaky bucket over a daily precipitation series.
//
// Variables: "bucket.storage" (mm, readable and writable) and "discharge"
// (mm/day, read-only). Both live on a single-cell grid.
type Model struct {
	cfg           Config
	precipitation []float64
	storage       float64
	discharge     float64
	step          int
	initialized   bool
}

func (m *Model) Initialize(_ context.Context, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read model configuration: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse model configuration: %w", err)
	}
	if cfg.Leakiness <= 0 || cfg.Leakiness > 1 {
		return fmt.Errorf("leakiness %g must be in (0, 1]", cfg.Leakiness)
	}
	precipitation, err := readSeries(cfg.PrecipitationFile)
	if err != nil {
		return err
	}
	if len(precipitation) == 0 {
		return fmt.Errorf("precipitation series %s is empty", cfg.PrecipitationFile)
	}
	m.cfg = cfg
	m.precipitation = precipitation
	m.storage = cfg.InitialStorage
	m.discharge = 0
	m.step = 0
	m.initialized = true
	return nil
}

func (m *Model) Update(_ context.Context) error {
	if !m.initialized {
		return fmt.Errorf("model not initialized")
	}
	if m.step >= len(m.precipitation) {
		return fmt.Errorf("model time %d is at or past end time %d", m.step, len(m.precipitation))
	}
	m.storage += m.precipitation[m.step]
	m.discharge = m.cfg.Leakiness * m.storage
	m.storage -= m.discharge
	m.step++
	return nil
}

func (m *Model) UpdateUntil(ctx context.Context, until float64) error {
	for float64(m.step) < until {
		if err := m.Update(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) Finalize(context.Context) error {
	m.initialized = false
	return nil
}

func (m *Model) GetCurrentTime(context.Context) (float64, error) { return float64(m.step), nil }
func (m *Model) GetStartTime(context.Context) (float64, error)   { return 0, nil }
func (m *Model) GetEndTime(context.Context) (float64, error) {
	return float64(len(m.precipitation)), nil
}
func (m *Model) GetTimeStep(context.Context) (float64, error) { return 1, nil }

func (m *Model) GetTimeUnits(context.Context) (string, error) {
	return "days since " + m.cfg.StartTime, nil
}

func (m *Model) GetValue(_ context.Context, name string) ([]float64, error) {
	switch name {
	case "bucket.storage":
		return []float64{m.storage}, nil
	case "discharge":
		return []float64{m.discharge}, nil
	}
	return nil, fmt.Errorf("unknown variable %q", name)
}

func (m *Model) GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error) {
	values, err := m.GetValue(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(indices))
	for i, idx := range indices {
		if idx != 0 {
			return nil, fmt.Errorf("index %d out of range for single-cell variable %s", idx, name)
		}
		out[i] = values[0]
	}
	return out, nil
}

func (m *Model) SetValue(_ context.Context, name string, values []float64) error {
	if name != "bucket.storage" {
		return fmt.Errorf("variable %q is not writable", name)
	}
	if len(values) != 1 {
		return fmt.Errorf("variable %s has 1 cell, got %d values", name, len(values))
	}
	m.storage = values[0]
	return nil
}

func (m *Model) SetValueAtIndices(ctx context.Context, name string, indices []int, values []float64) error {
	if len(indices) != 1 || indices[0] != 0 {
		return fmt.Errorf("single-cell variable %s only has index 0", name)
	}
	return m.SetValue(ctx, name, values)
}

func (m *Model) GetVarGrid(_ context.Context, name string) (int, error) {
	switch name {
	case "bucket.storage", "discharge":
		return 0, nil
	}
	return 0, fmt.Errorf("unknown variable %q", name)
}

func (m *Model) GetGridRank(_ context.Context, grid int) (int, error) {
	if grid != 0 {
		return 0, fmt.Errorf("unknown grid %d", grid)
	}
	return 1, nil
}

func (m *Model) GetGridSize(_ context.Context, grid int) (int, error) {
	if grid != 0 {
		return 0, fmt.Errorf("unknown grid %d", grid)
	}
	return 1, nil
}

func (m *Model) GetGridShape(_ context.Context, grid int) ([]int, error) {
	if grid != 0 {
		return nil, fmt.Errorf("unknown grid %d", grid)
	}
	return []int{1}, nil
}

func (m *Model) GetGridX(_ context.Context, grid int) ([]float64, error) {
	if grid != 0 {
		return nil, fmt.Errorf("unknown grid %d", grid)
	}
	return []float64{m.cfg.Longitude}, nil
}

func (m *Model) GetGridY(_ context.Context, grid int) ([]float64, error) {
	if grid != 0 {
		return nil, fmt.Errorf("unknown grid %d", grid)
	}
	return []float64{m.cfg.Latitude}, nil
}

func (m *Model) GetInputVarNames(context.Context) ([]string, error) {
	return []string{"bucket.storage"}, nil
}

func (m *Model) GetOutputVarNames(context.Context) ([]string, error) {
	return []string{"discharge", "bucket.storage"}, nil
}

// readSeries reads the value column of a two-column csv with a header row.
func readSeries(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read series %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("series %s has no data rows", path)
	}
	values := make([]float64, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 2 {
			return nil, fmt.Errorf("series %s has a short row", path)
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", path, err)
		}
		values = append(values, v)
	}
	return values, nil
}
