package leakybucket

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeSeries(t *testing.T, dir string, values []float64) string {
	t.Helper()
	lines := "time,pr\n"
	for i, v := range values {
		lines += fmt.Sprintf("%d,%g\n", i, v)
	}
	path := filepath.Join(dir, "pr.csv")
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeConfig(t *testing.T, dir string, cfg Config) string {
	t.Helper()
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func initializedModel(t *testing.T, precipitation []float64, leakiness float64) *Model {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		PrecipitationFile: writeSeries(t, dir, precipitation),
		Leakiness:         leakiness,
		StartTime:         "2000-01-01T00:00:00Z",
	}
	m := &Model{}
	if err := m.Initialize(context.Background(), writeConfig(t, dir, cfg)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return m
}

func TestMassBalance(t *testing.T) {
	ctx := context.Background()
	precipitation := []float64{10, 0, 5, 20, 0}
	m := initializedModel(t, precipitation, 0.3)

	var totalDischarge float64
	for range precipitation {
		if err := m.Update(ctx); err != nil {
			t.Fatalf("update: %v", err)
		}
		q, err := m.GetValue(ctx, "discharge")
		if err != nil {
			t.Fatal(err)
		}
		totalDischarge += q[0]
	}
	storage, err := m.GetValue(ctx, "bucket.storage")
	if err != nil {
		t.Fatal(err)
	}
	var totalPrecipitation float64
	for _, p := range precipitation {
		totalPrecipitation += p
	}
	// Everything that rained is either still stored or has drained.
	if diff := math.Abs(totalPrecipitation - storage[0] - totalDischarge); diff > 1e-9 {
		t.Fatalf("mass balance off by %g", diff)
	}
}

func TestTimeAxis(t *testing.T) {
	ctx := context.Background()
	m := initializedModel(t, []float64{1, 2, 3}, 0.5)

	units, err := m.GetTimeUnits(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if units != "days since 2000-01-01T00:00:00Z" {
		t.Fatalf("units %q", units)
	}
	end, err := m.GetEndTime(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if end != 3 {
		t.Fatalf("end time %g", end)
	}
	if err := m.UpdateUntil(ctx, 2); err != nil {
		t.Fatal(err)
	}
	current, err := m.GetCurrentTime(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if current != 2 {
		t.Fatalf("current %g", current)
	}
	// Stepping past the series must refuse and leave time unchanged.
	if err := m.UpdateUntil(ctx, 4); err == nil {
		t.Fatalf("update past end must fail")
	}
	current, _ = m.GetCurrentTime(ctx)
	if current != 3 {
		t.Fatalf("refused step left time at %g", current)
	}
}

func TestStorageIsWritable(t *testing.T) {
	ctx := context.Background()
	m := initializedModel(t, []float64{0, 0}, 0.5)

	if err := m.SetValue(ctx, "bucket.storage", []float64{100}); err != nil {
		t.Fatalf("set storage: %v", err)
	}
	if err := m.Update(ctx); err != nil {
		t.Fatal(err)
	}
	q, err := m.GetValue(ctx, "discharge")
	if err != nil {
		t.Fatal(err)
	}
	if q[0] != 50 {
		t.Fatalf("discharge %g after priming storage", q[0])
	}
	if err := m.SetValue(ctx, "discharge", []float64{1}); err == nil {
		t.Fatalf("discharge must not be writable")
	}
}

func TestSingleCellGrid(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{
		PrecipitationFile: writeSeries(t, dir, []float64{1}),
		Leakiness:         0.1,
		StartTime:         "2000-01-01T00:00:00Z",
		Latitude:          51.9,
		Longitude:         4.4,
	}
	m := &Model{}
	if err := m.Initialize(ctx, writeConfig(t, dir, cfg)); err != nil {
		t.Fatal(err)
	}
	grid, err := m.GetVarGrid(ctx, "discharge")
	if err != nil {
		t.Fatal(err)
	}
	size, err := m.GetGridSize(ctx, grid)
	if err != nil {
		t.Fatal(err)
	}
	if size != 1 {
		t.Fatalf("size %d", size)
	}
	ys, err := m.GetGridY(ctx, grid)
	if err != nil {
		t.Fatal(err)
	}
	xs, err := m.GetGridX(ctx, grid)
	if err != nil {
		t.Fatal(err)
	}
	if ys[0] != 51.9 || xs[0] != 4.4 {
		t.Fatalf("cell at (%g, %g)", ys[0], xs[0])
	}
	at, err := m.GetValueAtIndices(ctx, "discharge", []int{0})
	if err != nil {
		t.Fatal(err)
	}
	if len(at) != 1 {
		t.Fatalf("got %v", at)
	}
	if _, err := m.GetValueAtIndices(ctx, "discharge", []int{3}); err == nil {
		t.Fatalf("index 3 out of range for a single cell")
	}
}

func TestInitializeRejectsBadLeakiness(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		PrecipitationFile: writeSeries(t, dir, []float64{1}),
		Leakiness:         1.5,
		StartTime:         "2000-01-01T00:00:00Z",
	}
	m := &Model{}
	if err := m.Initialize(context.Background(), writeConfig(t, dir, cfg)); err == nil {
		t.Fatalf("leakiness above 1 must be rejected")
	}
}
