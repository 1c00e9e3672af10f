package forcing

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"hydrocycle/internal/esmvaltool"
)

// writeShape creates a minimal boundary file with its projection sidecar.
func writeShape(t *testing.T, dir string) string {
	t.Helper()
	shape := filepath.Join(dir, "basin.shp")
	for _, path := range []string{shape, filepath.Join(dir, "basin.prj")} {
		if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return shape
}

func TestGenerateRoundTrip(t *testing.T) {
	outputDir := t.TempDir()
	shape := writeShape(t, t.TempDir())
	engine := &esmvaltool.Fake{}

	f, err := Generate(context.Background(), engine, Options{
		Dataset:   "ERA5",
		StartTime: "2000-01-01T00:00:00Z",
		EndTime:   "2001-01-01T00:00:00Z",
		Shape:     shape,
		OutputDir: outputDir,
		Variables: []string{"pr", "tas"},
		Lumped:    true,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if f.StartTime != "2000-01-01T00:00:00Z" || f.EndTime != "2001-01-01T00:00:00Z" {
		t.Fatalf("window not preserved: %s .. %s", f.StartTime, f.EndTime)
	}
	for _, name := range []string{"pr", "tas"} {
		if _, ok := f.Filenames[name]; !ok {
			t.Fatalf("missing filename for %s", name)
		}
	}

	loaded, err := Load(f.Directory)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.StartTime != f.StartTime || loaded.EndTime != f.EndTime {
		t.Fatalf("window lost in round trip")
	}
	if !reflect.DeepEqual(loaded.Filenames, f.Filenames) {
		t.Fatalf("filenames lost: %v vs %v", loaded.Filenames, f.Filenames)
	}
	// The shape travels with the directory and stays loadable.
	if loaded.Shape == "" {
		t.Fatalf("shape missing from manifest")
	}
	// Round trip is exact per field, Shape included.
	if !reflect.DeepEqual(*f, *loaded) {
		t.Fatalf("round trip not field-exact:\n%+v\n%+v", *f, *loaded)
	}
	if _, err := os.Stat(loaded.ShapePath()); err != nil {
		t.Fatalf("shape not self-contained: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestGenerateTwiceDistinctDirsIdenticalManifests(t *testing.T) {
	outputDir := t.TempDir()
	opts := Options{
		Dataset:   "ERA5",
		StartTime: "2000-01-01T00:00:00Z",
		EndTime:   "2001-01-01T00:00:00Z",
		OutputDir: outputDir,
		Variables: []string{"pr"},
		Lumped:    true,
	}
	engine := &esmvaltool.Fake{}
	a, err := Generate(context.Background(), engine, opts)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	b, err := Generate(context.Background(), engine, opts)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if a.Directory == b.Directory {
		t.Fatalf("both generations used %s", a.Directory)
	}
	manifestA, err := os.ReadFile(filepath.Join(a.Directory, ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	manifestB, err := os.ReadFile(filepath.Join(b.Directory, ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	if string(manifestA) != string(manifestB) {
		t.Fatalf("manifests differ:\n%s\n---\n%s", manifestA, manifestB)
	}
}

func TestGenerateSubYearWindow(t *testing.T) {
	f, err := Generate(context.Background(), &esmvaltool.Fake{}, Options{
		Dataset:   "ERA5",
		StartTime: "2000-01-01T00:00:00Z",
		EndTime:   "2000-07-01T00:00:00Z",
		OutputDir: t.TempDir(),
		Variables: []string{"pr"},
	})
	if err != nil {
		t.Fatalf("sub-year window rejected: %v", err)
	}
	if f.StartTime != "2000-01-01T00:00:00Z" || f.EndTime != "2000-07-01T00:00:00Z" {
		t.Fatalf("window not preserved: %s .. %s", f.StartTime, f.EndTime)
	}
}

func TestGenerateRejectsInvertedWindow(t *testing.T) {
	_, err := Generate(context.Background(), &esmvaltool.Fake{}, Options{
		Dataset:   "ERA5",
		StartTime: "2001-01-01T00:00:00Z",
		EndTime:   "2000-01-01T00:00:00Z",
		OutputDir: t.TempDir(),
		Variables: []string{"pr"},
	})
	if err == nil {
		t.Fatalf("inverted window must fail")
	}
}

func TestGenerateMissingVariable(t *testing.T) {
	// The engine only produces pr; asking for tas as well must fail loudly.
	engine := &esmvaltool.Fake{Only: []string{"pr"}}
	_, err := Generate(context.Background(), engine, Options{
		Dataset:   "ERA5",
		StartTime: "2000-01-01T00:00:00Z",
		EndTime:   "2001-01-01T00:00:00Z",
		OutputDir: t.TempDir(),
		Variables: []string{"pr", "tas"},
	})
	if err == nil {
		t.Fatalf("missing engine output must fail")
	}
}

func TestLoadMissingManifest(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatalf("expected ErrManifestNotFound")
	}
}

func TestMakkinkPostprocessor(t *testing.T) {
	engine := &esmvaltool.Fake{Rows: map[string][]float64{
		"tas":  {285.15, 290.15},
		"rsds": {100, 200},
	}}
	f, err := Generate(context.Background(), engine, Options{
		Dataset:     "ERA5",
		StartTime:   "2000-01-01T00:00:00Z",
		EndTime:     "2000-02-01T00:00:00Z",
		OutputDir:   t.TempDir(),
		Variables:   []string{"tas", "rsds"},
		Postprocess: MakkinkPostprocessor,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	fname, ok := f.Filenames["evspsblpot"]
	if !ok {
		t.Fatalf("potential evaporation not derived: %v", f.Filenames)
	}
	times, et, err := readSeries(filepath.Join(f.Directory, fname))
	if err != nil {
		t.Fatalf("read derived series: %v", err)
	}
	if len(times) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(times))
	}
	want := EtMakkink(285.15, 100)
	if math.Abs(et[0]-want) > 1e-12 {
		t.Fatalf("step 0: got %g want %g", et[0], want)
	}
}

func TestEtMakkinkReference(t *testing.T) {
	// At 12 degC and 250 W/m2 Makkink evaporation is around 0.1 mm/h, i.e.
	// a few 1e-5 kg m-2 s-1.
	et := EtMakkink(285.15, 250)
	if et <= 0 || et > 1e-3 {
		t.Fatalf("implausible Makkink value %g", et)
	}
	// More radiation, more evaporation; warmer, more evaporation.
	if !(EtMakkink(285.15, 300) > et) {
		t.Fatalf("evaporation must grow with radiation")
	}
	if !(EtMakkink(295.15, 250) > et) {
		t.Fatalf("evaporation must grow with temperature")
	}
}

func TestVaporPressureSlopePositive(t *testing.T) {
	for _, tas := range []float64{263.15, 273.15, 293.15, 313.15} {
		if VaporPressureSlope(tas) <= 0 {
			t.Fatalf("slope at %g K must be positive", tas)
		}
	}
}
