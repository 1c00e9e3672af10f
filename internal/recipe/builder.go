package recipe

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownDataset is returned for a bare dataset name that is not in
	// the catalogue.
	ErrUnknownDataset = errors.New("unknown dataset")
	// ErrIncompleteRecipe is returned by Build when the time window, dataset
	// or variables are missing.
	ErrIncompleteRecipe = errors.New("incomplete recipe")
)

// Datasets is the catalogue of well-known reanalysis datasets, keyed by bare
// name.
var Datasets = map[string]Dataset{
	"ERA5": {
		Dataset: "ERA5",
		Project: "OBS6",
		Tier:    3,
		Type:    "reanaly",
		Version: 1,
		MIP:     "day",
	},
	"ERA-Interim": {
		Dataset: "ERA-Interim",
		Project: "OBS6",
		Tier:    3,
		Type:    "reanaly",
		Version: 1,
		MIP:     "day",
	},
}

// LookupDataset resolves a well-known dataset name.
func LookupDataset(name string) (Dataset, error) {
	ds, ok := Datasets[name]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownDataset, name, strings.Join(datasetNames(), ", "))
	}
	return ds, nil
}

func datasetNames() []string {
	names := make([]string, 0, len(Datasets))
	for name := range Datasets {
		names = append(names, name)
	}
	return names
}

// VariableOption customizes one requested variable.
type VariableOption func(*variableSpec)

type variableSpec struct {
	units     string
	mip       string
	shortName string
	startYear int
	endYear   int
	stats     *climateStatistics
}

type climateStatistics struct {
	operator string
	period   string
}

// WithUnits requests a unit conversion for the variable.
func WithUnits(units string) VariableOption {
	return func(v *variableSpec) { v.units = units }
}

// WithMIP overrides the dataset MIP table for the variable.
func WithMIP(mip string) VariableOption {
	return func(v *variableSpec) { v.mip = mip }
}

// WithShortName requests the variable under a different source name, e.g. a
// climatology of tas stored as tas_climatology.
func WithShortName(name string) VariableOption {
	return func(v *variableSpec) { v.shortName = name }
}

// WithYears overrides the recipe time window for the variable.
func WithYears(start, end int) VariableOption {
	return func(v *variableSpec) { v.startYear, v.endYear = start, end }
}

// WithStatistics adds a climate statistics step, e.g. a daily climatology.
func WithStatistics(operator, period string) VariableOption {
	return func(v *variableSpec) { v.stats = &climateStatistics{operator: operator, period: period} }
}

// Builder assembles a Recipe through order-independent fluent calls. Each
// method returns the builder; Build validates completeness.
type Builder struct {
	title       string
	description string
	dataset     *Dataset
	startYear   int
	endYear     int
	hasStart    bool
	hasEnd      bool
	spatial     Preprocessor
	varNames    []string
	vars        map[string]variableSpec
	script      *Script
	lumped      bool
	datasetErr  error
}

// NewBuilder creates an empty recipe builder.
func NewBuilder() *Builder {
	return &Builder{vars: make(map[string]variableSpec)}
}

// Title sets the recipe title.
func (b *Builder) Title(title string) *Builder {
	b.title = title
	return b
}

// Description sets the recipe description.
func (b *Builder) Description(description string) *Builder {
	b.description = description
	return b
}

// Dataset selects the source dataset from the catalogue by name.
// A recipe has exactly one dataset; the last call wins.
func (b *Builder) Dataset(name string) *Builder {
	if ds, err := LookupDataset(name); err == nil {
		b.dataset = &ds
	} else {
		// Leave dataset unset so Build reports the unknown name.
		b.dataset = nil
		b.datasetErr = err
	}
	return b
}

// DatasetSpec selects an explicit dataset descriptor.
func (b *Builder) DatasetSpec(ds Dataset) *Builder {
	b.dataset = &ds
	b.datasetErr = nil
	return b
}

// Start sets the first year of the time window.
func (b *Builder) Start(year int) *Builder {
	b.startYear = year
	b.hasStart = true
	return b
}

// End sets the last year of the time window.
func (b *Builder) End(year int) *Builder {
	b.endYear = year
	b.hasEnd = true
	return b
}

// StartTime sets the window start from a full timestamp.
func (b *Builder) StartTime(t time.Time) *Builder {
	return b.Start(t.UTC().Year())
}

// EndTime sets the window end from a full timestamp.
func (b *Builder) EndTime(t time.Time) *Builder {
	return b.End(t.UTC().Year())
}

// Shape attaches a spatial boundary file; extraction is cropped to it. When
// no shape (or region) is set the extraction is global.
func (b *Builder) Shape(path string) *Builder {
	b.spatial = Preprocessor{
		"extract_shape": map[string]any{
			"shapefile":  path,
			"crop":       true,
			"decomposed": false,
		},
	}
	return b
}

// Lumped averages the spatial extraction to one value per basin. Without a
// shape the extraction stays global.
func (b *Builder) Lumped() *Builder {
	b.lumped = true
	return b
}

// Region attaches a rectangular extraction region instead of a shape.
func (b *Builder) Region(startLon, endLon, startLat, endLat float64) *Builder {
	b.spatial = Preprocessor{
		"extract_region": map[string]any{
			"start_longitude": startLon,
			"end_longitude":   endLon,
			"start_latitude":  startLat,
			"end_latitude":    endLat,
		},
	}
	return b
}

// AddVariable adds a requested physical variable. Adding the same name again
// is idempotent; the last options win.
func (b *Builder) AddVariable(name string, opts ...VariableOption) *Builder {
	var spec variableSpec
	for _, opt := range opts {
		opt(&spec)
	}
	if _, seen := b.vars[name]; !seen {
		b.varNames = append(b.varNames, name)
	}
	b.vars[name] = spec
	return b
}

// AddVariables adds several variables with default options.
func (b *Builder) AddVariables(names ...string) *Builder {
	for _, name := range names {
		b.AddVariable(name)
	}
	return b
}

// Script sets the diagnostic script run by the engine after preprocessing.
func (b *Builder) Script(script string, args map[string]string) *Builder {
	b.script = &Script{Script: script, Args: args}
	return b
}

// Build validates the collected state and returns the recipe document.
func (b *Builder) Build() (*Recipe, error) {
	if b.datasetErr != nil {
		return nil, b.datasetErr
	}
	var missing []string
	if !b.hasStart || !b.hasEnd {
		missing = append(missing, "time window")
	}
	if b.dataset == nil {
		missing = append(missing, "dataset")
	}
	if len(b.varNames) == 0 {
		missing = append(missing, "variables")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompleteRecipe, strings.Join(missing, ", "))
	}
	// Years are the recipe's granularity, so a window inside one calendar
	// year is legal; only a reversed window is not.
	if b.endYear < b.startYear {
		return nil, fmt.Errorf("%w: end year %d is before start year %d", ErrIncompleteRecipe, b.endYear, b.startYear)
	}

	if b.lumped && b.spatial != nil {
		if sp, ok := b.spatial["extract_shape"].(map[string]any); ok {
			sp["decomposed"] = true
		}
		b.spatial["area_statistics"] = map[string]any{"operator": "mean"}
	}
	preprocessors := map[string]Preprocessor{}
	variables := make(map[string]Variable, len(b.varNames))
	for _, name := range b.varNames {
		spec := b.vars[name]
		variables[name] = Variable{
			MIP:          spec.mip,
			Preprocessor: b.addPreprocessor(preprocessors, name, spec),
			StartYear:    orDefault(spec.startYear, b.startYear),
			EndYear:      orDefault(spec.endYear, b.endYear),
			ShortName:    spec.shortName,
		}
	}
	script := Script{Script: DefaultDiagnosticScript}
	if b.script != nil {
		script = *b.script
	}
	return &Recipe{
		Documentation: Documentation{
			Title:       b.title,
			Description: b.description,
			Authors:     []string{"unmaintained"},
			Projects:    []string{"hydrocycle"},
		},
		Datasets:      []Dataset{*b.dataset},
		Preprocessors: preprocessors,
		Diagnostics: map[string]Diagnostic{
			DiagnosticName: {
				Variables: variables,
				Scripts:   map[string]Script{ScriptName: script},
			},
		},
	}, nil
}

// addPreprocessor gives each variable its own preprocessor derived from the
// spatial block plus per-variable conversions, as the engine requires.
func (b *Builder) addPreprocessor(preprocessors map[string]Preprocessor, name string, spec variableSpec) string {
	if _, ok := preprocessors[name]; ok {
		return name
	}
	pp := Preprocessor{}
	for k, v := range b.spatial {
		pp[k] = v
	}
	if spec.units != "" {
		pp["convert_units"] = map[string]any{"units": spec.units}
	}
	if spec.stats != nil {
		pp["climate_statistics"] = map[string]any{
			"operator": spec.stats.operator,
			"period":   spec.stats.period,
		}
	}
	preprocessors[name] = pp
	return name
}

func orDefault(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

// GenericDistributed builds the recipe used by generic distributed models.
func GenericDistributed(startYear, endYear int, shape string, dataset string, variables ...string) (*Recipe, error) {
	if len(variables) == 0 {
		variables = []string{"pr", "tas", "tasmin", "tasmax"}
	}
	return NewBuilder().
		Title("Generic distributed forcing recipe").
		Description("Generic distributed forcing recipe").
		Dataset(dataset).
		Start(startYear).
		End(endYear).
		Shape(shape).
		AddVariables(variables...).
		Build()
}

// GenericLumped builds the recipe used by generic lumped models: the spatial
// extraction is averaged to a single point per basin.
func GenericLumped(startYear, endYear int, shape string, dataset string, variables ...string) (*Recipe, error) {
	if len(variables) == 0 {
		variables = []string{"pr", "tas"}
	}
	b := NewBuilder().
		Title("Generic lumped forcing recipe").
		Description("Generic lumped forcing recipe").
		Dataset(dataset).
		Start(startYear).
		End(endYear).
		Lumped().
		AddVariables(variables...)
	if shape != "" {
		b.Shape(shape)
	}
	return b.Build()
}
