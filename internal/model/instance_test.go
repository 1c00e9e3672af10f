package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"hydrocycle/internal/compat"
	"hydrocycle/internal/config"
	"hydrocycle/internal/domain"
	"hydrocycle/internal/forcing"
	"hydrocycle/internal/remote"
)

type testPlugin struct {
	bmi       remote.Bmi
	launchErr error
	renderErr error
}

func (p *testPlugin) Name() string                 { return "testmodel" }
func (p *testPlugin) AvailableVersions() []string  { return []string{"2020.1.1", "2020.1.2"} }
func (p *testPlugin) Calendar() string             { return CalendarProlepticGregorian }
func (p *testPlugin) OverrideSchema() string       { return testSchema }
func (p *testPlugin) ForcingOptions(*forcing.Options) {}

func (p *testPlugin) RenderConfig(setup Setup) (string, error) {
	if p.renderErr != nil {
		return "", p.renderErr
	}
	path := filepath.Join(setup.WorkDir, "model.yml")
	return path, os.WriteFile(path, []byte("start_time: "+setup.StartTime+"\n"), 0o644)
}

func (p *testPlugin) Launch(_ context.Context, version string, _ Setup, _ *config.Settings) (remote.Bmi, func(), error) {
	if p.launchErr != nil {
		return nil, nil, p.launchErr
	}
	return p.bmi, func() {}, nil
}

type captureRecorder struct {
	mu       sync.Mutex
	created  []string
	statuses []domain.RunStatus
	events   []string
}

func (r *captureRecorder) RunCreated(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, run.ID)
	return nil
}

func (r *captureRecorder) RunStatusChanged(_ context.Context, _ string, status domain.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *captureRecorder) RunEvent(_ context.Context, _ string, typ string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, typ)
	return nil
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.Default()
	s.OutputDir = t.TempDir()
	return s
}

func newTestInstance(t *testing.T, p *testPlugin, opts ...Option) *Instance {
	t.Helper()
	if p.bmi == nil {
		p.bmi = remote.NewFakeModel()
	}
	opts = append([]Option{WithSettings(testSettings(t))}, opts...)
	inst, err := NewInstance(p, "2020.1.1", opts...)
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	return inst
}

func TestNewInstanceRejectsUnknownVersion(t *testing.T) {
	s := testSettings(t)
	_, err := NewInstance(&testPlugin{}, "9999.99", WithSettings(s))
	var verr *compat.UnsupportedVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("expected UnsupportedVersionError, got %v", err)
	}
	// No working directory may exist before compatibility passed.
	entries, err := os.ReadDir(s.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected instance left %d entries in the output dir", len(entries))
	}
}

func TestGetValueBeforeInitialize(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, &testPlugin{})

	var serr *InvalidStateError
	if _, err := inst.GetValue(ctx, "discharge"); !errors.As(err, &serr) {
		t.Fatalf("expected InvalidStateError in created state, got %v", err)
	}
	if _, _, err := inst.Configure(ctx, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, err := inst.GetValue(ctx, "discharge"); !errors.As(err, &serr) {
		t.Fatalf("expected InvalidStateError in configured state, got %v", err)
	}
}

func TestTimeAxisDatesBeforeInitialize(t *testing.T) {
	inst := newTestInstance(t, &testPlugin{})

	var serr *InvalidStateError
	if _, err := inst.StartTimeAsDate(); !errors.As(err, &serr) {
		t.Fatalf("expected InvalidStateError in created state, got %v", err)
	}
	if _, err := inst.EndTimeAsDate(); !errors.As(err, &serr) {
		t.Fatalf("expected InvalidStateError in created state, got %v", err)
	}
	if _, _, err := inst.Configure(context.Background(), nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, err := inst.StartTimeAsDate(); !errors.As(err, &serr) {
		t.Fatalf("expected InvalidStateError in configured state, got %v", err)
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := remote.NewFakeModel()
	rec := &captureRecorder{}
	inst := newTestInstance(t, &testPlugin{bmi: fake}, WithRecorder(rec))

	configFile, workDir, err := inst.Configure(ctx, map[string]any{"alpha": 0.5})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, err := os.Stat(configFile); err != nil {
		t.Fatalf("config file: %v", err)
	}
	if filepath.Dir(configFile) != workDir {
		t.Fatalf("config %s not inside workdir %s", configFile, workDir)
	}
	if inst.Status() != domain.RunStatusConfigured {
		t.Fatalf("status %s", inst.Status())
	}

	if err := inst.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if fake.ConfigFile != configFile {
		t.Fatalf("model got config %q", fake.ConfigFile)
	}
	start, end, step, units := inst.TimeAxis()
	if start != 0 || end != 10 || step != 1 || units == "" {
		t.Fatalf("time axis %g %g %g %q", start, end, step, units)
	}
	got, err := inst.StartTimeAsDate()
	if err != nil {
		t.Fatalf("start date: %v", err)
	}
	if got != (Date{Year: 2000, Month: 1, Day: 1}) {
		t.Fatalf("start date %s", got)
	}
	endDate, err := inst.EndTimeAsDate()
	if err != nil {
		t.Fatalf("end date: %v", err)
	}
	if endDate != (Date{Year: 2000, Month: 1, Day: 11}) {
		t.Fatalf("end date %s", endDate)
	}

	if err := inst.Update(ctx); err != nil {
		t.Fatalf("update: %v", err)
	}
	if inst.Status() != domain.RunStatusRunning {
		t.Fatalf("status %s after update", inst.Status())
	}
	date, err := inst.CurrentTimeAsDate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if date != (Date{Year: 2000, Month: 1, Day: 2}) {
		t.Fatalf("one daily step gave %s", date)
	}

	values, err := inst.GetValue(ctx, "discharge")
	if err != nil {
		t.Fatalf("get value: %v", err)
	}
	if len(values) != 6 {
		t.Fatalf("got %d values", len(values))
	}

	if err := inst.Finalize(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if inst.Status() != domain.RunStatusFinalized {
		t.Fatalf("status %s after finalize", inst.Status())
	}
	// Idempotent: the second call is a no-op.
	if err := inst.Finalize(ctx); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if fake.Finalized != 1 {
		t.Fatalf("model finalized %d times", fake.Finalized)
	}

	if len(rec.created) != 1 {
		t.Fatalf("run creation recorded %d times", len(rec.created))
	}
	wantStatuses := []domain.RunStatus{
		domain.RunStatusConfigured,
		domain.RunStatusInitialized,
		domain.RunStatusRunning,
		domain.RunStatusFinalized,
	}
	if len(rec.statuses) != len(wantStatuses) {
		t.Fatalf("recorded statuses %v", rec.statuses)
	}
	for i, want := range wantStatuses {
		if rec.statuses[i] != want {
			t.Fatalf("recorded statuses %v", rec.statuses)
		}
	}
}

func TestUpdatePastEndLeavesTimeUnchanged(t *testing.T) {
	ctx := context.Background()
	fake := remote.NewFakeModel()
	fake.EndTime = 1
	inst := newTestInstance(t, &testPlugin{bmi: fake})

	if _, _, err := inst.Configure(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := inst.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := inst.Update(ctx); err != nil {
		t.Fatalf("first update: %v", err)
	}
	err := inst.Update(ctx)
	var uerr *UpdateError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpdateError, got %v", err)
	}
	if fake.Current != 1 {
		t.Fatalf("refused update moved time to %g", fake.Current)
	}
	if fake.Updates != 1 {
		t.Fatalf("model stepped %d times", fake.Updates)
	}
	// The precondition violation is the caller's bug, not a process fault:
	// the instance stays usable.
	if inst.Status() != domain.RunStatusRunning {
		t.Fatalf("status %s", inst.Status())
	}
}

func TestConfigureUnknownOverride(t *testing.T) {
	ctx := context.Background()
	s := testSettings(t)
	inst, err := NewInstance(&testPlugin{bmi: remote.NewFakeModel()}, "2020.1.1", WithSettings(s))
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = inst.Configure(ctx, map[string]any{"bogus": 1})
	var uerr *UnknownParameterError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnknownParameterError, got %v", err)
	}
	if inst.Status() != domain.RunStatusCreated {
		t.Fatalf("rejected overrides moved status to %s", inst.Status())
	}
	entries, err := os.ReadDir(s.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected configure created %d directories", len(entries))
	}
}

func TestInitializeFailure(t *testing.T) {
	ctx := context.Background()
	failing := &remote.FailingModel{Err: errors.New("segfault in model")}
	inst := newTestInstance(t, &testPlugin{bmi: failing})

	if _, _, err := inst.Configure(ctx, nil); err != nil {
		t.Fatal(err)
	}
	err := inst.Initialize(ctx)
	var ierr *InitializationError
	if !errors.As(err, &ierr) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
	if inst.Status() != domain.RunStatusError {
		t.Fatalf("status %s after failed initialize", inst.Status())
	}
	// Best-effort cleanup from the error state.
	if err := inst.Finalize(ctx); err != nil {
		t.Fatalf("finalize from error: %v", err)
	}
	if inst.Status() != domain.RunStatusFinalized {
		t.Fatalf("status %s", inst.Status())
	}
}

func TestLaunchFailure(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, &testPlugin{launchErr: errors.New("no such image")})
	if _, _, err := inst.Configure(ctx, nil); err == nil {
		t.Fatalf("launch failure must fail configure")
	}
	if inst.Status() != domain.RunStatusError {
		t.Fatalf("status %s", inst.Status())
	}
}

func TestRenderFailure(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(t, &testPlugin{renderErr: errors.New("missing template key")})
	_, _, err := inst.Configure(ctx, nil)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if inst.Status() != domain.RunStatusError {
		t.Fatalf("status %s", inst.Status())
	}
}

func TestAbort(t *testing.T) {
	ctx := context.Background()
	fake := remote.NewFakeModel()
	inst := newTestInstance(t, &testPlugin{bmi: fake})
	if _, _, err := inst.Configure(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := inst.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	inst.Abort(ctx)
	if inst.Status() != domain.RunStatusError {
		t.Fatalf("status %s after abort", inst.Status())
	}
	var serr *InvalidStateError
	if _, err := inst.GetValue(ctx, "discharge"); !errors.As(err, &serr) {
		t.Fatalf("aborted instance must refuse access, got %v", err)
	}
}

func TestCoordinateAccess(t *testing.T) {
	ctx := context.Background()
	fake := remote.NewFakeModel()
	inst := newTestInstance(t, &testPlugin{bmi: fake})
	if _, _, err := inst.Configure(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := inst.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	values, err := inst.GetValueAt(ctx, "discharge", []float64{52.5}, []float64{5.0}, LookupNearest)
	if err != nil {
		t.Fatalf("get at: %v", err)
	}
	if len(values) != 1 || values[0] != 6 {
		t.Fatalf("got %v", values)
	}
	if err := inst.SetValueAt(ctx, "discharge", []float64{52.0}, []float64{4.0}, []float64{42}, LookupNearest); err != nil {
		t.Fatalf("set at: %v", err)
	}
	got, err := inst.GetValueAtIndices(ctx, "discharge", []int{0})
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 42 {
		t.Fatalf("write did not land: %v", got)
	}
}
