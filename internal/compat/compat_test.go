package compat

import (
	"errors"
	"testing"

	"hydrocycle/internal/domain"
)

var available = []string{"2020.1.1", "2020.1.2"}

func TestVersionNotAvailable(t *testing.T) {
	err := Check("wflow", "9999.99", available, nil, nil)
	var verr *UnsupportedVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("expected UnsupportedVersionError, got %v", err)
	}
	if verr.Version != "9999.99" {
		t.Fatalf("unexpected version in error: %+v", verr)
	}
}

func TestEmptySupportedVersionsAcceptsAll(t *testing.T) {
	ps := &domain.ParameterSet{Name: "rhine", TargetModel: "wflow"}
	for _, version := range available {
		if err := Check("wflow", version, available, ps, nil); err != nil {
			t.Fatalf("version %s: %v", version, err)
		}
	}
}

func TestSupportedVersionsRestrict(t *testing.T) {
	ps := &domain.ParameterSet{
		Name:                   "rhine",
		TargetModel:            "wflow",
		SupportedModelVersions: []string{"2020.1.1"},
	}
	if err := Check("wflow", "2020.1.1", available, ps, nil); err != nil {
		t.Fatalf("supported version rejected: %v", err)
	}
	err := Check("wflow", "2020.1.2", available, ps, nil)
	var verr *UnsupportedVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("expected UnsupportedVersionError, got %v", err)
	}
	if verr.ParameterSet != "rhine" {
		t.Fatalf("restriction should be attributed to the parameter set: %+v", verr)
	}
}

func TestWrongTargetModel(t *testing.T) {
	ps := &domain.ParameterSet{Name: "rhine", TargetModel: "pcrglobwb"}
	err := Check("wflow", "2020.1.1", available, ps, nil)
	var perr *IncompatibleParameterSetError
	if !errors.As(err, &perr) {
		t.Fatalf("expected IncompatibleParameterSetError, got %v", err)
	}
}

func TestNilParameterSetAndForcing(t *testing.T) {
	if err := Check("wflow", "2020.1.1", available, nil, nil); err != nil {
		t.Fatalf("bare version check failed: %v", err)
	}
}
