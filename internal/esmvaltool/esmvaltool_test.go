package esmvaltool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hydrocycle/internal/recipe"
)

func testRecipe(t *testing.T) *recipe.Recipe {
	t.Helper()
	r, err := recipe.GenericLumped(2000, 2001, "", "ERA5")
	if err != nil {
		t.Fatalf("build recipe: %v", err)
	}
	return r
}

func TestFakeWritesIndexedOutput(t *testing.T) {
	fake := &Fake{Rows: map[string][]float64{"pr": {0.5, 1.5}}}
	dir := t.TempDir()
	out, err := fake.Run(context.Background(), testRecipe(t), dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Directory != dir {
		t.Fatalf("output directory %q", out.Directory)
	}
	for _, name := range []string{"pr", "tas"} {
		fname, ok := out.Files[name]
		if !ok {
			t.Fatalf("missing output for %s", name)
		}
		if _, err := os.Stat(filepath.Join(dir, fname)); err != nil {
			t.Fatalf("output file for %s: %v", name, err)
		}
	}
	if fake.Calls != 1 {
		t.Fatalf("expected 1 engine call, got %d", fake.Calls)
	}

	parsed, err := ParseOutput(dir)
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if parsed.Files["pr"] != out.Files["pr"] {
		t.Fatalf("index does not round-trip: %+v vs %+v", parsed.Files, out.Files)
	}
}

func TestFakePropagatesError(t *testing.T) {
	wantErr := errors.New("engine exploded")
	fake := &Fake{Err: wantErr}
	_, err := fake.Run(context.Background(), testRecipe(t), t.TempDir())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestParseOutputMissingIndex(t *testing.T) {
	_, err := ParseOutput(t.TempDir())
	if err == nil {
		t.Fatalf("expected error for missing %s", OutputIndex)
	}
}

func TestExecErrorKeepsDiagnostics(t *testing.T) {
	execErr := &ExecError{Recipe: "r.yml", Stderr: "ValueError: bad cube", Err: errors.New("exit status 1")}
	if !strings.Contains(execErr.Error(), "ValueError: bad cube") {
		t.Fatalf("stderr diagnostics must be surfaced verbatim, got %q", execErr.Error())
	}
}
