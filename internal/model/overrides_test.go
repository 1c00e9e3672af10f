package model

import (
	"errors"
	"testing"
)

const testSchema = `{
  "type": "object",
  "properties": {
    "start_time": {"type": "string"},
    "alpha": {"type": "number", "minimum": 0}
  }
}`

func TestValidateOverridesAccepts(t *testing.T) {
	err := ValidateOverrides("testmodel", testSchema, map[string]any{
		"start_time": "2000-01-01T00:00:00Z",
		"alpha":      0.5,
	})
	if err != nil {
		t.Fatalf("valid overrides rejected: %v", err)
	}
}

func TestValidateOverridesUnknownKey(t *testing.T) {
	err := ValidateOverrides("testmodel", testSchema, map[string]any{"alhpa": 0.5})
	var uerr *UnknownParameterError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnknownParameterError, got %v", err)
	}
	if len(uerr.Parameters) != 1 || uerr.Parameters[0] != "alhpa" {
		t.Fatalf("unexpected parameters: %v", uerr.Parameters)
	}
}

func TestValidateOverridesBadValue(t *testing.T) {
	err := ValidateOverrides("testmodel", testSchema, map[string]any{"alpha": "high"})
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestValidateOverridesEmpty(t *testing.T) {
	if err := ValidateOverrides("testmodel", testSchema, nil); err != nil {
		t.Fatalf("empty overrides must pass: %v", err)
	}
	if err := ValidateOverrides("testmodel", "", nil); err != nil {
		t.Fatalf("empty overrides without schema must pass: %v", err)
	}
}

func TestValidateOverridesNoSchema(t *testing.T) {
	err := ValidateOverrides("testmodel", "", map[string]any{"alpha": 1})
	var uerr *UnknownParameterError
	if !errors.As(err, &uerr) {
		t.Fatalf("a model without schema recognizes nothing, got %v", err)
	}
}
