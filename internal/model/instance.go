package model

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"hydrocycle/internal/compat"
	"hydrocycle/internal/config"
	"hydrocycle/internal/domain"
	"hydrocycle/internal/forcing"
	"hydrocycle/internal/remote"
)

// Recorder persists lifecycle changes of an instance, typically into the run
// ledger. Recording failures never fail the run itself.
type Recorder interface {
	RunCreated(ctx context.Context, run *domain.Run) error
	RunStatusChanged(ctx context.Context, id string, status domain.RunStatus) error
	RunEvent(ctx context.Context, id, typ string, payload map[string]any) error
}

// Instance is one model run moving through the lifecycle
// created -> configured -> initialized -> running -> finalized, with error
// reachable from every non-terminal state.
//
// Operations on a single instance are serialized; independent instances may
// run concurrently since each owns its working directory and process.
type Instance struct {
	ID string

	plugin   Plugin
	version  string
	ps       *domain.ParameterSet
	fc       *forcing.Forcing
	settings *config.Settings
	recorder Recorder

	mu         sync.Mutex
	status     domain.RunStatus
	workDir    string
	configFile string
	bmi        remote.Bmi
	teardown   func()

	// Cached at initialize.
	startTime float64
	endTime   float64
	timeStep  float64
	timeUnits string
	conv      *TimeConverter
	grids     map[string]*Grid
}

// Option configures a new instance.
type Option func(*Instance)

// WithParameterSet attaches a parameter set.
func WithParameterSet(ps *domain.ParameterSet) Option {
	return func(i *Instance) { i.ps = ps }
}

// WithForcing attaches generated forcing.
func WithForcing(fc *forcing.Forcing) Option {
	return func(i *Instance) { i.fc = fc }
}

// WithSettings overrides the process-wide settings.
func WithSettings(s *config.Settings) Option {
	return func(i *Instance) { i.settings = s }
}

// WithRecorder attaches a lifecycle recorder.
func WithRecorder(r Recorder) Option {
	return func(i *Instance) { i.recorder = r }
}

// NewInstance builds an instance after checking that model, version,
// parameter set and forcing fit together. Compatibility failures happen here,
// before any directory is created or process is started.
func NewInstance(p Plugin, version string, opts ...Option) (*Instance, error) {
	i := &Instance{
		ID:      uuid.NewString(),
		plugin:  p,
		version: version,
		status:  domain.RunStatusCreated,
		grids:   map[string]*Grid{},
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.settings == nil {
		s, err := config.System()
		if err != nil {
			return nil, err
		}
		i.settings = s
	}
	if err := compat.Check(p.Name(), version, p.AvailableVersions(), i.ps, i.fc); err != nil {
		return nil, err
	}
	if i.recorder != nil {
		if err := i.recorder.RunCreated(context.Background(), i.Run()); err != nil {
			slog.Warn("record run creation", "run", i.ID, "err", err)
		}
	}
	return i, nil
}

// Run returns a ledger snapshot of the instance.
func (i *Instance) Run() *domain.Run {
	now := time.Now().UTC().Format(forcing.ISOTimeFormat)
	run := &domain.Run{
		ID:        i.ID,
		Model:     i.plugin.Name(),
		Version:   i.version,
		WorkDir:   i.workDir,
		Status:    i.status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if i.ps != nil {
		run.ParameterSet = i.ps.Name
	}
	if i.fc != nil {
		run.ForcingDir = i.fc.Directory
	}
	return run
}

// Status returns the current lifecycle state.
func (i *Instance) Status() domain.RunStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// WorkDir returns the run's working directory, empty before configure.
func (i *Instance) WorkDir() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.workDir
}

// ConfigFile returns the rendered configuration path, empty before configure.
func (i *Instance) ConfigFile() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.configFile
}

// Configure validates overrides, allocates a fresh working directory, renders
// the model configuration and launches the model process. It returns the
// configuration file path and the working directory. Failures are not
// auto-retried; the instance moves to the error state.
func (i *Instance) Configure(ctx context.Context, overrides map[string]any) (string, string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status != domain.RunStatusCreated {
		return "", "", &InvalidStateError{Op: "configure", State: i.status}
	}
	if err := ValidateOverrides(i.plugin.Name(), i.plugin.OverrideSchema(), overrides); err != nil {
		return "", "", err
	}

	workDir := freshWorkDir(i.settings.OutputDir, i.plugin.Name())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", "", i.toError(ctx, &ConfigurationError{Reason: "create working directory", Err: err})
	}
	setup := i.setup(workDir, overrides)

	configFile, err := i.plugin.RenderConfig(setup)
	if err != nil {
		return "", "", i.toError(ctx, &ConfigurationError{Reason: "render model configuration", Err: err})
	}
	bmi, teardown, err := i.plugin.Launch(ctx, i.version, setup, i.settings)
	if err != nil {
		return "", "", i.toError(ctx, fmt.Errorf("launch model process: %w", err))
	}

	i.workDir = workDir
	i.configFile = configFile
	i.bmi = bmi
	i.teardown = teardown
	i.setStatus(ctx, domain.RunStatusConfigured)
	i.recordEvent(ctx, "configured", map[string]any{"work_dir": workDir, "config_file": configFile})
	return configFile, workDir, nil
}

func (i *Instance) setup(workDir string, overrides map[string]any) Setup {
	setup := Setup{
		WorkDir:      workDir,
		ParameterSet: i.ps,
		Forcing:      i.fc,
		Overrides:    overrides,
	}
	if i.fc != nil {
		setup.StartTime = i.fc.StartTime
		setup.EndTime = i.fc.EndTime
	}
	if v, ok := overrides["start_time"].(string); ok {
		setup.StartTime = v
	}
	if v, ok := overrides["end_time"].(string); ok {
		setup.EndTime = v
	}
	return setup
}

// Initialize hands the rendered configuration to the model process and
// caches its time axis.
func (i *Instance) Initialize(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status != domain.RunStatusConfigured {
		return &InvalidStateError{Op: "initialize", State: i.status}
	}
	if err := i.bmi.Initialize(ctx, i.configFile); err != nil {
		i.abortLocked(ctx)
		return &InitializationError{Err: err}
	}
	if err := i.cacheTimeAxis(ctx); err != nil {
		i.abortLocked(ctx)
		return &InitializationError{Err: err}
	}
	i.setStatus(ctx, domain.RunStatusInitialized)
	i.recordEvent(ctx, "initialized", map[string]any{
		"start_time": i.startTime,
		"end_time":   i.endTime,
		"time_step":  i.timeStep,
		"time_units": i.timeUnits,
	})
	return nil
}

func (i *Instance) cacheTimeAxis(ctx context.Context) error {
	var err error
	if i.startTime, err = i.bmi.GetStartTime(ctx); err != nil {
		return err
	}
	if i.endTime, err = i.bmi.GetEndTime(ctx); err != nil {
		return err
	}
	if i.timeStep, err = i.bmi.GetTimeStep(ctx); err != nil {
		return err
	}
	if i.timeUnits, err = i.bmi.GetTimeUnits(ctx); err != nil {
		return err
	}
	i.conv, err = NewTimeConverter(i.timeUnits, i.plugin.Calendar())
	return err
}

// Update advances the model exactly one time step. Callers must check that
// the current time is before the end time; stepping past the end is refused
// and leaves the model time unchanged.
func (i *Instance) Update(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("update"); err != nil {
		return err
	}
	current, err := i.bmi.GetCurrentTime(ctx)
	if err != nil {
		i.abortLocked(ctx)
		return &UpdateError{Reason: "read model time", Err: err}
	}
	if current >= i.endTime {
		return &UpdateError{Reason: fmt.Sprintf("current time %g is at or past end time %g", current, i.endTime)}
	}
	if err := i.bmi.Update(ctx); err != nil {
		i.abortLocked(ctx)
		return &UpdateError{Reason: "remote process fault", Err: err}
	}
	i.setStatus(ctx, domain.RunStatusRunning)
	return nil
}

// UpdateUntil advances the model to the given model time.
func (i *Instance) UpdateUntil(ctx context.Context, until float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("update"); err != nil {
		return err
	}
	if until > i.endTime {
		return &UpdateError{Reason: fmt.Sprintf("target time %g is past end time %g", until, i.endTime)}
	}
	if err := i.bmi.UpdateUntil(ctx, until); err != nil {
		i.abortLocked(ctx)
		return &UpdateError{Reason: "remote process fault", Err: err}
	}
	i.setStatus(ctx, domain.RunStatusRunning)
	return nil
}

func (i *Instance) ensureStepable(op string) error {
	if i.status != domain.RunStatusInitialized && i.status != domain.RunStatusRunning {
		return &InvalidStateError{Op: op, State: i.status}
	}
	return nil
}

// GetValue returns the full flattened field of a variable.
func (i *Instance) GetValue(ctx context.Context, name string) ([]float64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("get_value"); err != nil {
		return nil, err
	}
	return i.bmi.GetValue(ctx, name)
}

// GetValueAtIndices returns a variable at flattened indices.
func (i *Instance) GetValueAtIndices(ctx context.Context, name string, indices []int) ([]float64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("get_value"); err != nil {
		return nil, err
	}
	return i.bmi.GetValueAtIndices(ctx, name, indices)
}

// GetValueAt returns a variable at coordinate locations, resolved through
// the variable's grid.
func (i *Instance) GetValueAt(ctx context.Context, name string, lats, lons []float64, method LookupMethod) ([]float64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("get_value"); err != nil {
		return nil, err
	}
	indices, err := i.resolveIndices(ctx, name, lats, lons, method)
	if err != nil {
		return nil, err
	}
	return i.bmi.GetValueAtIndices(ctx, name, indices)
}

// SetValue replaces the full flattened field of a variable.
func (i *Instance) SetValue(ctx context.Context, name string, values []float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("set_value"); err != nil {
		return err
	}
	return i.bmi.SetValue(ctx, name, values)
}

// SetValueAtIndices writes a variable at flattened indices.
func (i *Instance) SetValueAtIndices(ctx context.Context, name string, indices []int, values []float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("set_value"); err != nil {
		return err
	}
	return i.bmi.SetValueAtIndices(ctx, name, indices, values)
}

// SetValueAt writes a variable at coordinate locations.
func (i *Instance) SetValueAt(ctx context.Context, name string, lats, lons []float64, values []float64, method LookupMethod) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("set_value"); err != nil {
		return err
	}
	indices, err := i.resolveIndices(ctx, name, lats, lons, method)
	if err != nil {
		return err
	}
	return i.bmi.SetValueAtIndices(ctx, name, indices, values)
}

func (i *Instance) resolveIndices(ctx context.Context, name string, lats, lons []float64, method LookupMethod) ([]int, error) {
	grid, ok := i.grids[name]
	if !ok {
		var err error
		if grid, err = FetchGrid(ctx, i.bmi, name); err != nil {
			return nil, fmt.Errorf("fetch grid of %s: %w", name, err)
		}
		i.grids[name] = grid
	}
	return grid.ClosestIndices(lats, lons, method)
}

// CurrentTime returns the model time in model units.
func (i *Instance) CurrentTime(ctx context.Context) (float64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("get_current_time"); err != nil {
		return 0, err
	}
	return i.bmi.GetCurrentTime(ctx)
}

// CurrentTimeAsDate returns the model time as a calendar timestamp in the
// model's declared calendar.
func (i *Instance) CurrentTimeAsDate(ctx context.Context) (Date, error) {
	t, err := i.CurrentTime(ctx)
	if err != nil {
		return Date{}, err
	}
	return i.conv.NumToDate(t), nil
}

// TimeAxis returns the cached start, end and step of the model's time axis,
// valid after initialize.
func (i *Instance) TimeAxis() (start, end, step float64, units string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.startTime, i.endTime, i.timeStep, i.timeUnits
}

// StartTimeAsDate returns the model start as a calendar timestamp. The time
// axis only exists once the model is initialized.
func (i *Instance) StartTimeAsDate() (Date, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("get_start_time"); err != nil {
		return Date{}, err
	}
	return i.conv.NumToDate(i.startTime), nil
}

// EndTimeAsDate returns the model end as a calendar timestamp.
func (i *Instance) EndTimeAsDate() (Date, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.ensureStepable("get_end_time"); err != nil {
		return Date{}, err
	}
	return i.conv.NumToDate(i.endTime), nil
}

// Finalize releases the model process. It is idempotent; the second call is
// a no-op. It is also valid from the error state as best-effort cleanup.
func (i *Instance) Finalize(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.status == domain.RunStatusFinalized {
		return nil
	}
	var err error
	if i.bmi != nil {
		err = i.bmi.Finalize(ctx)
	}
	i.release()
	i.setStatus(ctx, domain.RunStatusFinalized)
	i.recordEvent(ctx, "finalized", nil)
	if err != nil {
		return fmt.Errorf("finalize model process: %w", err)
	}
	return nil
}

// Abort is a caller-initiated hard stop. Teardown errors are logged and
// swallowed since the instance is being discarded.
func (i *Instance) Abort(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.abortLocked(ctx)
}

func (i *Instance) abortLocked(ctx context.Context) {
	if i.bmi != nil {
		if err := i.bmi.Finalize(ctx); err != nil {
			slog.Warn("finalize during abort", "run", i.ID, "err", err)
		}
	}
	i.release()
	i.setStatus(ctx, domain.RunStatusError)
	i.recordEvent(ctx, "aborted", nil)
}

func (i *Instance) release() {
	if i.teardown != nil {
		i.teardown()
		i.teardown = nil
	}
	i.bmi = nil
}

// toError moves the instance to the error state and returns err unchanged.
func (i *Instance) toError(ctx context.Context, err error) error {
	i.setStatus(ctx, domain.RunStatusError)
	return err
}

func (i *Instance) recordEvent(ctx context.Context, typ string, payload map[string]any) {
	if i.recorder == nil {
		return
	}
	if err := i.recorder.RunEvent(ctx, i.ID, typ, payload); err != nil {
		slog.Warn("record run event", "run", i.ID, "type", typ, "err", err)
	}
}

func (i *Instance) setStatus(ctx context.Context, status domain.RunStatus) {
	if i.status == status {
		return
	}
	i.status = status
	if i.recorder != nil {
		if err := i.recorder.RunStatusChanged(ctx, i.ID, status); err != nil {
			slog.Warn("record run status", "run", i.ID, "status", status, "err", err)
		}
	}
}

// freshWorkDir returns a new timestamped directory name for one run.
func freshWorkDir(parent, model string) string {
	if parent == "" {
		parent = "."
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	return filepath.Join(parent, fmt.Sprintf("%s_%s_%s", model, stamp, uuid.NewString()[:8]))
}
