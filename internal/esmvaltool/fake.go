package esmvaltool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"hydrocycle/internal/recipe"
)

// Fake is an in-process Engine for tests and dry runs. It writes one small
// column file per requested variable instead of calling the real engine.
type Fake struct {
	// Err, when set, is returned instead of producing output.
	Err error
	// Rows holds the column file content per variable; when a variable has
	// no entry a small deterministic series is written.
	Rows map[string][]float64
	// Only restricts output to these variables, to simulate an engine run
	// that did not produce everything it was asked for.
	Only []string
	// Calls counts Run invocations.
	Calls int
}

// Run materializes stub output files for every variable in the recipe.
func (f *Fake) Run(ctx context.Context, r *recipe.Recipe, outputDir string) (Output, error) {
	f.Calls++
	if f.Err != nil {
		return Output{}, f.Err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Output{}, err
	}
	files := make(map[string]string)
	var index strings.Builder
	index.WriteString("files:\n")
	for _, name := range r.Variables() {
		if len(f.Only) > 0 && !slices.Contains(f.Only, name) {
			continue
		}
		fname := fmt.Sprintf("%s.csv", name)
		rows := f.Rows[name]
		if rows == nil {
			rows = []float64{1, 2, 3}
		}
		var b strings.Builder
		b.WriteString("time," + name + "\n")
		for i, v := range rows {
			fmt.Fprintf(&b, "%d,%g\n", i, v)
		}
		if err := os.WriteFile(filepath.Join(outputDir, fname), []byte(b.String()), 0o644); err != nil {
			return Output{}, err
		}
		files[name] = fname
		fmt.Fprintf(&index, "  %s: %s\n", name, fname)
	}
	if err := os.WriteFile(filepath.Join(outputDir, OutputIndex), []byte(index.String()), 0o644); err != nil {
		return Output{}, err
	}
	return Output{Directory: outputDir, Files: files}, nil
}
