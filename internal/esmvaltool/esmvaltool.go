// Package esmvaltool invokes the external recipe-execution engine and parses
// its output.
package esmvaltool

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"hydrocycle/internal/recipe"
)

// OutputIndex is the machine-readable index the engine writes next to the
// generated data files.
const OutputIndex = "run_info.yml"

// Output is the result of one engine run: the directory holding the
// generated files and the per-variable file names inside it.
type Output struct {
	Directory string
	Files     map[string]string
}

// Engine runs recipes. The real implementation shells out to the esmvaltool
// binary; tests substitute a fake.
type Engine interface {
	// Run executes the recipe and writes its output below outputDir. The
	// call blocks until the engine finishes; it can take minutes and is
	// never retried here.
	Run(ctx context.Context, r *recipe.Recipe, outputDir string) (Output, error)
}

// ExecError carries the engine's own diagnostics verbatim.
type ExecError struct {
	Recipe string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("recipe engine failed: %v", e.Err)
	}
	return fmt.Sprintf("recipe engine failed: %v\n%s", e.Err, e.Stderr)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Tool runs recipes through the esmvaltool executable.
type Tool struct {
	// Bin is the engine executable, typically from Settings.ESMValToolBin.
	Bin string
}

// NewTool creates an engine runner for the given executable.
func NewTool(bin string) *Tool {
	if bin == "" {
		bin = "esmvaltool"
	}
	return &Tool{Bin: bin}
}

// Run writes the recipe to a temporary file, executes the engine with the
// output directory as session dir and parses the output index.
func (t *Tool) Run(ctx context.Context, r *recipe.Recipe, outputDir string) (Output, error) {
	data, err := r.ToYAML()
	if err != nil {
		return Output{}, err
	}
	tmp, err := os.CreateTemp("", "hydrocycle-*.yml")
	if err != nil {
		return Output{}, err
	}
	recipePath := tmp.Name()
	defer os.Remove(recipePath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Output{}, fmt.Errorf("write recipe %s: %w", recipePath, err)
	}
	if err := tmp.Close(); err != nil {
		return Output{}, err
	}

	slog.Info("running recipe engine", "bin", t.Bin, "recipe", recipePath, "output_dir", outputDir)
	cmd := exec.CommandContext(ctx, t.Bin, "run", "--output-dir", outputDir, recipePath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Output{}, &ExecError{Recipe: recipePath, Stderr: stderr.String(), Err: err}
	}
	return ParseOutput(outputDir)
}

// ParseOutput reads the output index from an engine run directory.
func ParseOutput(dir string) (Output, error) {
	path := filepath.Join(dir, OutputIndex)
	data, err := os.ReadFile(path)
	if err != nil {
		return Output{}, &ExecError{Err: fmt.Errorf("read output index %s: %w", path, err)}
	}
	var index struct {
		Files map[string]string `yaml:"files"`
	}
	if err := yaml.Unmarshal(data, &index); err != nil {
		return Output{}, &ExecError{Err: fmt.Errorf("parse output index %s: %w", path, err)}
	}
	if len(index.Files) == 0 {
		return Output{}, &ExecError{Err: fmt.Errorf("output index %s lists no files", path)}
	}
	return Output{Directory: dir, Files: index.Files}, nil
}
