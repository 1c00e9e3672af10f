package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateOverrides checks caller-supplied configuration overrides against a
// model's declared schema. Keys outside the schema's properties fail with
// UnknownParameterError; values of the wrong shape fail with
// ConfigurationError.
func ValidateOverrides(modelName, schemaSrc string, overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if schemaSrc == "" {
		keys := make([]string, 0, len(overrides))
		for k := range overrides {
			keys = append(keys, k)
		}
		return &UnknownParameterError{Model: modelName, Parameters: keys}
	}

	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal([]byte(schemaSrc), &doc); err != nil {
		return &ConfigurationError{Reason: "invalid override schema for " + modelName, Err: err}
	}
	var unknown []string
	for key := range overrides {
		if _, ok := doc.Properties[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return &UnknownParameterError{Model: modelName, Parameters: unknown}
	}

	schema, err := jsonschema.CompileString(modelName+"-overrides.json", schemaSrc)
	if err != nil {
		return &ConfigurationError{Reason: "invalid override schema for " + modelName, Err: err}
	}
	// Round-trip through JSON so Go ints become the numbers the validator
	// expects.
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(overrides); err != nil {
		return &ConfigurationError{Reason: "overrides are not serializable", Err: err}
	}
	var normalized any
	if err := json.NewDecoder(&buf).Decode(&normalized); err != nil {
		return &ConfigurationError{Reason: "overrides are not serializable", Err: err}
	}
	if err := schema.Validate(normalized); err != nil {
		return &ConfigurationError{Reason: fmt.Sprintf("invalid overrides for %s", modelName), Err: err}
	}
	return nil
}
