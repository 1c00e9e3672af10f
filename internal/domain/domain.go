// Package domain holds the shared data types of hydrocycle.
package domain

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// DownloadSpec describes where a parameter set can be fetched from.
// The URL must point to a tar.gz or zip archive; Subdir optionally selects a
// directory inside the extracted archive.
type DownloadSpec struct {
	URL    string `yaml:"url" json:"url"`
	Subdir string `yaml:"subdir,omitempty" json:"subdir,omitempty"`
}

// ParameterSet is a named, versioned bundle of static model input files.
//
// Directory is the root of the bundle; Config points at the model
// configuration template, relative to Directory. An empty
// SupportedModelVersions slice means the set works with every version of
// TargetModel.
type ParameterSet struct {
	Name                   string        `yaml:"name" json:"name"`
	Directory              string        `yaml:"directory" json:"directory"`
	Config                 string        `yaml:"config" json:"config"`
	DOI                    string        `yaml:"doi,omitempty" json:"doi,omitempty"`
	TargetModel            string        `yaml:"target_model" json:"target_model"`
	SupportedModelVersions []string      `yaml:"supported_model_versions,omitempty" json:"supported_model_versions,omitempty"`
	Downloader             *DownloadSpec `yaml:"downloader,omitempty" json:"downloader,omitempty"`
}

// ConfigPath returns the absolute path of the configuration template.
func (p ParameterSet) ConfigPath() string {
	if filepath.IsAbs(p.Config) {
		return p.Config
	}
	return filepath.Join(p.Directory, p.Config)
}

// SupportsVersion reports whether the parameter set supports the given model
// version. An empty version list means every version is supported.
func (p ParameterSet) SupportsVersion(version string) bool {
	if len(p.SupportedModelVersions) == 0 {
		return true
	}
	for _, v := range p.SupportedModelVersions {
		if v == version {
			return true
		}
	}
	return false
}

// MakeAbsolute resolves a relative Directory against parameterSetDir.
func (p *ParameterSet) MakeAbsolute(parameterSetDir string) {
	if p.Directory != "" && !filepath.IsAbs(p.Directory) {
		p.Directory = filepath.Join(parameterSetDir, p.Directory)
	}
}

func (p ParameterSet) String() string {
	doi := p.DOI
	if doi == "" {
		doi = "N/A"
	}
	versions := "any"
	if len(p.SupportedModelVersions) > 0 {
		sorted := append([]string(nil), p.SupportedModelVersions...)
		sort.Strings(sorted)
		versions = strings.Join(sorted, ",")
	}
	return fmt.Sprintf("%s (model=%s versions=%s doi=%s dir=%s)",
		p.Name, p.TargetModel, versions, doi, p.Directory)
}

// RunStatus is a lifecycle state of a model instance, recorded verbatim in
// the run ledger.
type RunStatus string

const (
	RunStatusCreated     RunStatus = "created"
	RunStatusConfigured  RunStatus = "configured"
	RunStatusInitialized RunStatus = "initialized"
	RunStatusRunning     RunStatus = "running"
	RunStatusFinalized   RunStatus = "finalized"
	RunStatusError       RunStatus = "error"
)

// Run is the ledger record of one model instance.
type Run struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Version      string    `json:"version"`
	ParameterSet string    `json:"parameter_set,omitempty"`
	ForcingDir   string    `json:"forcing_dir,omitempty"`
	WorkDir      string    `json:"work_dir,omitempty"`
	Status       RunStatus `json:"status"`
	CreatedAt    string    `json:"created_at"`
	UpdatedAt    string    `json:"updated_at"`
}

// Event is one ledger log entry attached to a run.
type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	RunID   string `json:"run_id"`
	Type    string `json:"type"`
	Payload string `json:"payload_json"`
}
