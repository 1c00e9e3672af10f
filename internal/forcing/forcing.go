// Package forcing generates and loads model input forcing data.
package forcing

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file recording a forcing directory's metadata.
const ManifestName = "hydrocycle_forcing.yaml"

// ISOTimeFormat is the timestamp format used throughout: UTC, second
// precision, trailing Z.
const ISOTimeFormat = "2006-01-02T15:04:05Z"

var (
	// ErrManifestNotFound is returned by Load when the directory has no
	// manifest.
	ErrManifestNotFound = errors.New("forcing manifest not found")
	// ErrManifestParse is returned by Load for a malformed manifest.
	ErrManifestParse = errors.New("forcing manifest malformed")
)

// ParseISO parses an ISO timestamp and checks it is in UTC.
func ParseISO(value string) (time.Time, error) {
	t, err := time.Parse(ISOTimeFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q is not in UTC ISO format 'YYYY-MM-DDTHH:MM:SSZ': %w", value, err)
	}
	return t, nil
}

// Forcing describes a directory of generated or imported forcing data.
//
// Filenames maps logical variable names to file names inside Directory.
// Extra holds model-specific fields; the plugin that consumes the forcing
// validates them.
type Forcing struct {
	StartTime string            `yaml:"start_time"`
	EndTime   string            `yaml:"end_time"`
	Directory string            `yaml:"-"`
	Shape     string            `yaml:"shape,omitempty"`
	Filenames map[string]string `yaml:"filenames"`
	Extra     map[string]string `yaml:"extra,omitempty"`
}

// Validate checks the time window and that every listed file exists.
func (f *Forcing) Validate() error {
	start, err := ParseISO(f.StartTime)
	if err != nil {
		return err
	}
	end, err := ParseISO(f.EndTime)
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("start time %s must be before end time %s", f.StartTime, f.EndTime)
	}
	for variable, name := range f.Filenames {
		if _, err := os.Stat(filepath.Join(f.Directory, name)); err != nil {
			return fmt.Errorf("forcing file for %s: %w", variable, err)
		}
	}
	return nil
}

// Variables returns the stored variable names in sorted order.
func (f *Forcing) Variables() []string {
	names := make([]string, 0, len(f.Filenames))
	for name := range f.Filenames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShapePath returns the absolute path of the shape file, or empty when the
// forcing has no spatial shape.
func (f *Forcing) ShapePath() string {
	if f.Shape == "" {
		return ""
	}
	if filepath.IsAbs(f.Shape) {
		return f.Shape
	}
	return filepath.Join(f.Directory, f.Shape)
}

// Save writes the manifest into the forcing directory. A shape file outside
// the directory is copied in, together with its sidecar files, so later area
// calculations are self-contained. The manifest stores the shape relative to
// the directory and never stores the directory itself; after Save the
// in-memory Shape field holds the same relative value a later Load returns.
func (f *Forcing) Save() (string, error) {
	if f.Directory == "" {
		return "", fmt.Errorf("cannot save forcing without directory")
	}
	if f.Shape != "" {
		rel, err := importShape(f.ShapePath(), f.Directory)
		if err != nil {
			return "", err
		}
		f.Shape = rel
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("marshal forcing manifest: %w", err)
	}
	target := filepath.Join(f.Directory, ManifestName)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", err
	}
	return target, nil
}

// Load reads the manifest of a previously generated or imported forcing
// directory. It never touches the recipe engine.
func Load(directory string) (*Forcing, error) {
	abs, err := filepath.Abs(directory)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(abs, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", ErrManifestNotFound, abs)
		}
		return nil, err
	}
	var f Forcing
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}
	if f.StartTime == "" || f.EndTime == "" {
		return nil, fmt.Errorf("%w: missing start_time or end_time", ErrManifestParse)
	}
	f.Directory = abs
	return &f, nil
}

// shapeSidecars are the companion files a vector boundary file travels with.
var shapeSidecars = []string{".dbf", ".shx", ".prj"}

// importShape copies shape and its sidecars into dir when needed and returns
// the shape path relative to dir.
func importShape(shape, dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	absShape, err := filepath.Abs(shape)
	if err != nil {
		return "", err
	}
	if rel, err := filepath.Rel(absDir, absShape); err == nil && filepath.IsLocal(rel) {
		return rel, nil
	}
	prj := absShape[:len(absShape)-len(filepath.Ext(absShape))] + ".prj"
	if _, err := os.Stat(prj); err != nil {
		return "", fmt.Errorf("shape file %s is missing its .prj projection file: %w", absShape, err)
	}
	if err := copyFile(absShape, filepath.Join(absDir, filepath.Base(absShape))); err != nil {
		return "", err
	}
	base := absShape[:len(absShape)-len(filepath.Ext(absShape))]
	for _, ext := range shapeSidecars {
		sidecar := base + ext
		if _, err := os.Stat(sidecar); err != nil {
			continue
		}
		if err := copyFile(sidecar, filepath.Join(absDir, filepath.Base(sidecar))); err != nil {
			return "", err
		}
	}
	return filepath.Base(absShape), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}
