// Package remote speaks the step-based control protocol of a model process.
// The protocol is a fixed external contract; this package carries it over
// HTTP to containerized models and serves it for in-process ones.
package remote

import "context"

// Bmi is the control surface a running model exposes. Time values are counts
// of the model's declared unit since its declared epoch; callers convert to
// calendar timestamps themselves.
type Bmi interface {
	Initialize(ctx context.Context, configPath string) error
	Update(ctx context.Context) error
	UpdateUntil(ctx context.Context, until float64) error
	Finalize(ctx context.Context) error

	GetCurrentTime(ctx context.Context) (float64, error)
	GetStartTime(ctx context.Context) (float64, error)
	GetEndTime(ctx context.Context) (float64, error)
	GetTimeStep(ctx context.Context) (float64, error)
	GetTimeUnits(ctx context.Context) (string, error)

	GetValue(ctx context.Context, name string) ([]float64, error)
	GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error)
	SetValue(ctx context.Context, name string, values []float64) error
	SetValueAtIndices(ctx context.Context, name string, indices []int, values []float64) error

	GetVarGrid(ctx context.Context, name string) (int, error)
	GetGridRank(ctx context.Context, grid int) (int, error)
	GetGridSize(ctx context.Context, grid int) (int, error)
	GetGridShape(ctx context.Context, grid int) ([]int, error)
	GetGridX(ctx context.Context, grid int) ([]float64, error)
	GetGridY(ctx context.Context, grid int) ([]float64, error)

	GetInputVarNames(ctx context.Context) ([]string, error)
	GetOutputVarNames(ctx context.Context) ([]string, error)
}
