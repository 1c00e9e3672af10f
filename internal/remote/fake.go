package remote

import (
	"context"
	"fmt"
)

// FakeModel is an in-memory Bmi for tests and the in-process transport. It
// exposes one rectilinear grid and advances a simple clock; values are stored
// flat per variable.
type FakeModel struct {
	StartTime float64
	EndTime   float64
	TimeStep  float64
	Units     string
	GridXs    []float64
	GridYs    []float64
	Values    map[string][]float64
	Inputs    []string
	Outputs   []string

	ConfigFile  string
	Current     float64
	Initialized bool
	Finalized   int
	Updates     int
}

// NewFakeModel returns a fake covering ten daily steps on a 2x3 grid.
func NewFakeModel() *FakeModel {
	return &FakeModel{
		StartTime: 0,
		EndTime:   10,
		TimeStep:  1,
		Units:     "days since 2000-01-01T00:00:00Z",
		GridYs:    []float64{52.0, 52.5},
		GridXs:    []float64{4.0, 4.5, 5.0},
		Values: map[string][]float64{
			"discharge": {1, 2, 3, 4, 5, 6},
		},
		Inputs:  []string{"precipitation"},
		Outputs: []string{"discharge"},
	}
}

var _ Bmi = (*FakeModel)(nil)

func (m *FakeModel) Initialize(_ context.Context, configPath string) error {
	m.ConfigFile = configPath
	m.Current = m.StartTime
	m.Initialized = true
	return nil
}

func (m *FakeModel) Update(_ context.Context) error {
	if !m.Initialized {
		return fmt.Errorf("model not initialized")
	}
	if m.Current >= m.EndTime {
		return fmt.Errorf("model time %g is at or past end time %g", m.Current, m.EndTime)
	}
	m.Current += m.TimeStep
	m.Updates++
	return nil
}

func (m *FakeModel) UpdateUntil(ctx context.Context, until float64) error {
	for m.Current < until {
		if err := m.Update(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *FakeModel) Finalize(_ context.Context) error {
	m.Finalized++
	return nil
}

func (m *FakeModel) GetCurrentTime(_ context.Context) (float64, error) { return m.Current, nil }
func (m *FakeModel) GetStartTime(_ context.Context) (float64, error)  { return m.StartTime, nil }
func (m *FakeModel) GetEndTime(_ context.Context) (float64, error)    { return m.EndTime, nil }
func (m *FakeModel) GetTimeStep(_ context.Context) (float64, error)   { return m.TimeStep, nil }
func (m *FakeModel) GetTimeUnits(_ context.Context) (string, error)   { return m.Units, nil }

func (m *FakeModel) GetValue(_ context.Context, name string) ([]float64, error) {
	values, ok := m.Values[name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", name)
	}
	return append([]float64(nil), values...), nil
}

func (m *FakeModel) GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error) {
	values, err := m.GetValue(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(values) {
			return nil, fmt.Errorf("index %d out of range for %s", idx, name)
		}
		out[i] = values[idx]
	}
	return out, nil
}

func (m *FakeModel) SetValue(_ context.Context, name string, values []float64) error {
	current, ok := m.Values[name]
	if !ok {
		return fmt.Errorf("unknown variable %q", name)
	}
	if len(values) != len(current) {
		return fmt.Errorf("variable %s has %d cells, got %d values", name, len(current), len(values))
	}
	m.Values[name] = append([]float64(nil), values...)
	return nil
}

func (m *FakeModel) SetValueAtIndices(_ context.Context, name string, indices []int, values []float64) error {
	current, ok := m.Values[name]
	if !ok {
		return fmt.Errorf("unknown variable %q", name)
	}
	if len(indices) != len(values) {
		return fmt.Errorf("got %d indices for %d values", len(indices), len(values))
	}
	for i, idx := range indices {
		if idx < 0 || idx >= len(current) {
			return fmt.Errorf("index %d out of range for %s", idx, name)
		}
		current[idx] = values[i]
	}
	return nil
}

func (m *FakeModel) GetVarGrid(_ context.Context, name string) (int, error) {
	if _, ok := m.Values[name]; !ok {
		return 0, fmt.Errorf("unknown variable %q", name)
	}
	return 0, nil
}

func (m *FakeModel) GetGridRank(_ context.Context, grid int) (int, error) {
	if err := m.checkGrid(grid); err != nil {
		return 0, err
	}
	return 2, nil
}

func (m *FakeModel) GetGridSize(_ context.Context, grid int) (int, error) {
	if err := m.checkGrid(grid); err != nil {
		return 0, err
	}
	return len(m.GridXs) * len(m.GridYs), nil
}

func (m *FakeModel) GetGridShape(_ context.Context, grid int) ([]int, error) {
	if err := m.checkGrid(grid); err != nil {
		return nil, err
	}
	return []int{len(m.GridYs), len(m.GridXs)}, nil
}

func (m *FakeModel) GetGridX(_ context.Context, grid int) ([]float64, error) {
	if err := m.checkGrid(grid); err != nil {
		return nil, err
	}
	return append([]float64(nil), m.GridXs...), nil
}

func (m *FakeModel) GetGridY(_ context.Context, grid int) ([]float64, error) {
	if err := m.checkGrid(grid); err != nil {
		return nil, err
	}
	return append([]float64(nil), m.GridYs...), nil
}

func (m *FakeModel) GetInputVarNames(_ context.Context) ([]string, error)  { return m.Inputs, nil }
func (m *FakeModel) GetOutputVarNames(_ context.Context) ([]string, error) { return m.Outputs, nil }

func (m *FakeModel) checkGrid(grid int) error {
	if grid != 0 {
		return fmt.Errorf("unknown grid %d", grid)
	}
	return nil
}

// FailingModel returns Err from every call. Useful to drive error paths.
type FailingModel struct {
	Err error
}

var _ Bmi = (*FailingModel)(nil)

func (m *FailingModel) Initialize(context.Context, string) error           { return m.Err }
func (m *FailingModel) Update(context.Context) error                       { return m.Err }
func (m *FailingModel) UpdateUntil(context.Context, float64) error         { return m.Err }
func (m *FailingModel) Finalize(context.Context) error                     { return m.Err }
func (m *FailingModel) GetCurrentTime(context.Context) (float64, error)    { return 0, m.Err }
func (m *FailingModel) GetStartTime(context.Context) (float64, error)      { return 0, m.Err }
func (m *FailingModel) GetEndTime(context.Context) (float64, error)        { return 0, m.Err }
func (m *FailingModel) GetTimeStep(context.Context) (float64, error)       { return 0, m.Err }
func (m *FailingModel) GetTimeUnits(context.Context) (string, error)       { return "", m.Err }
func (m *FailingModel) GetValue(context.Context, string) ([]float64, error) {
	return nil, m.Err
}
func (m *FailingModel) GetValueAtIndices(context.Context, string, []int) ([]float64, error) {
	return nil, m.Err
}
func (m *FailingModel) SetValue(context.Context, string, []float64) error { return m.Err }
func (m *FailingModel) SetValueAtIndices(context.Context, string, []int, []float64) error {
	return m.Err
}
func (m *FailingModel) GetVarGrid(context.Context, string) (int, error)  { return 0, m.Err }
func (m *FailingModel) GetGridRank(context.Context, int) (int, error)    { return 0, m.Err }
func (m *FailingModel) GetGridSize(context.Context, int) (int, error)    { return 0, m.Err }
func (m *FailingModel) GetGridShape(context.Context, int) ([]int, error) { return nil, m.Err }
func (m *FailingModel) GetGridX(context.Context, int) ([]float64, error) { return nil, m.Err }
func (m *FailingModel) GetGridY(context.Context, int) ([]float64, error) { return nil, m.Err }
func (m *FailingModel) GetInputVarNames(context.Context) ([]string, error) {
	return nil, m.Err
}
func (m *FailingModel) GetOutputVarNames(context.Context) ([]string, error) {
	return nil, m.Err
}
