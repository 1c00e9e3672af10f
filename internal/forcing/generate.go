package forcing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"hydrocycle/internal/esmvaltool"
	"hydrocycle/internal/recipe"
)

// RecipeHook builds the recipe for a generation request. Model plugins
// provide one to inject exactly the physical variables they need.
type RecipeHook func(o Options) (*recipe.Recipe, error)

// Postprocessor maps raw engine output to the model's logical variables and
// may derive new ones. It returns the derived variable→filename entries; dir
// is the output directory holding the raw files.
type Postprocessor func(dir string, files map[string]string) (map[string]string, error)

// Options is a declarative forcing generation request.
type Options struct {
	// Dataset is a well-known dataset name; DatasetSpec overrides it with an
	// explicit descriptor.
	Dataset     string
	DatasetSpec *recipe.Dataset
	// StartTime and EndTime bound the window, UTC ISO format.
	StartTime string
	EndTime   string
	// Shape is a vector boundary file; empty means lumped/global extraction.
	Shape string
	// Directory receives the output; empty means a fresh directory under
	// OutputDir.
	Directory string
	// OutputDir is the parent for generated directories, from settings.
	OutputDir string
	// Variables to request from the engine.
	Variables []string
	// Lumped selects basin-averaged extraction instead of gridded.
	Lumped bool
	// BuildRecipe overrides the default recipe construction.
	BuildRecipe RecipeHook
	// Postprocess runs after the engine, e.g. to derive potential evaporation.
	Postprocess Postprocessor
	// Extra model-specific fields persisted in the manifest.
	Extra map[string]string
}

// Generate builds a recipe for the request, runs it through the engine and
// assembles a saved Forcing from the output. Each call produces a new output
// directory; previous runs are never overwritten.
func Generate(ctx context.Context, engine esmvaltool.Engine, opts Options) (*Forcing, error) {
	start, err := ParseISO(opts.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := ParseISO(opts.EndTime)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, fmt.Errorf("start time %s must be before end time %s", opts.StartTime, opts.EndTime)
	}

	r, err := buildRecipe(opts, start, end)
	if err != nil {
		return nil, err
	}

	outputDir := opts.Directory
	if outputDir == "" {
		outputDir = freshDirectory(opts.OutputDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	output, err := engine.Run(ctx, r, outputDir)
	if err != nil {
		return nil, err
	}

	variables := append([]string(nil), opts.Variables...)
	if opts.Postprocess != nil {
		derived, err := opts.Postprocess(output.Directory, output.Files)
		if err != nil {
			return nil, fmt.Errorf("postprocess forcing: %w", err)
		}
		for name, fname := range derived {
			output.Files[name] = fname
			variables = append(variables, name)
		}
	}

	filenames := make(map[string]string, len(variables))
	for _, name := range variables {
		fname, ok := output.Files[name]
		if !ok {
			return nil, fmt.Errorf("engine output is missing variable %s", name)
		}
		filenames[name] = fname
	}

	f := &Forcing{
		StartTime: opts.StartTime,
		EndTime:   opts.EndTime,
		Directory: output.Directory,
		Shape:     opts.Shape,
		Filenames: filenames,
		Extra:     opts.Extra,
	}
	if _, err := f.Save(); err != nil {
		return nil, err
	}
	slog.Info("generated forcing", "dir", f.Directory, "variables", f.Variables())
	return f, nil
}

func buildRecipe(opts Options, start, end time.Time) (*recipe.Recipe, error) {
	if opts.BuildRecipe != nil {
		return opts.BuildRecipe(opts)
	}
	b := recipe.NewBuilder().
		StartTime(start).
		EndTime(end).
		AddVariables(opts.Variables...)
	if opts.DatasetSpec != nil {
		b.DatasetSpec(*opts.DatasetSpec)
	} else {
		b.Dataset(opts.Dataset)
	}
	if opts.Lumped {
		b.Lumped().Title("Generic lumped forcing recipe").Description("Generic lumped forcing recipe")
	} else {
		b.Title("Generic distributed forcing recipe").Description("Generic distributed forcing recipe")
	}
	if opts.Shape != "" {
		b.Shape(opts.Shape)
	}
	return b.Build()
}

// freshDirectory returns a new timestamped directory name under parent. A
// short unique suffix keeps two generations within a second apart.
func freshDirectory(parent string) string {
	if parent == "" {
		parent = "."
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	return filepath.Join(parent, fmt.Sprintf("forcing_%s_%s", stamp, uuid.NewString()[:8]))
}
