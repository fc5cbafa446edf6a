// Package jobs loads the local job manifest: the functions to permute, where
// their sources and reference objects live, and their locally computed
// baselines.
//
// Example:
//
//	jobs:
//	  - fn_name: func_80012345
//	    source_file: nonmatchings/func_80012345/base.c
//	    target_o: nonmatchings/func_80012345/target.o
//	    compile_script: nonmatchings/func_80012345/compile.sh
//	    keep_prob: 0.6
//	    base_score: 1240
//	    base_hash: 3f2a...
package jobs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZerkerEOD/permfarm/internal/permuter"
	"github.com/ZerkerEOD/permfarm/pkg/debug"
	"gopkg.in/yaml.v3"
)

// DefaultKeepProb is used when a job does not set keep_prob.
const DefaultKeepProb = 0.6

// Job is one manifest entry.
type Job struct {
	FnName           string   `yaml:"fn_name"`
	SourceFile       string   `yaml:"source_file"`
	TargetO          string   `yaml:"target_o"`
	CompileScript    string   `yaml:"compile_script"`
	KeepProb         *float64 `yaml:"keep_prob"`
	StackDifferences bool     `yaml:"stack_differences"`
	BaseScore        int      `yaml:"base_score"`
	BaseHash         string   `yaml:"base_hash"`
}

// Manifest is the top-level document.
type Manifest struct {
	Jobs []Job `yaml:"jobs"`
}

// Parse decodes and validates a manifest. Unknown fields are rejected so
// typos do not silently fall back to defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse job manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks required fields, keep_prob ranges and name uniqueness.
func (m *Manifest) Validate() error {
	if len(m.Jobs) == 0 {
		return fmt.Errorf("job manifest contains no jobs")
	}

	seen := make(map[string]int, len(m.Jobs))
	for i, job := range m.Jobs {
		if job.FnName == "" {
			return fmt.Errorf("job %d: fn_name is required", i)
		}
		if prev, dup := seen[job.FnName]; dup {
			return fmt.Errorf("job %d: duplicate fn_name %q (also job %d)", i, job.FnName, prev)
		}
		seen[job.FnName] = i

		required := []struct{ field, value string }{
			{"source_file", job.SourceFile},
			{"target_o", job.TargetO},
			{"compile_script", job.CompileScript},
		}
		for _, r := range required {
			if r.value == "" {
				return fmt.Errorf("job %s: %s is required", job.FnName, r.field)
			}
		}
		if job.KeepProb != nil && (*job.KeepProb < 0 || *job.KeepProb > 1) {
			return fmt.Errorf("job %s: keep_prob must be within [0, 1], got %v", job.FnName, *job.KeepProb)
		}
	}
	return nil
}

// Load reads the manifest at path and turns every job into a Permuter.
// Relative paths are resolved against the manifest's directory; the declared
// source_file is kept as the name the server sees.
func Load(path string) ([]*permuter.Permuter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	perms := make([]*permuter.Permuter, 0, len(m.Jobs))
	for _, job := range m.Jobs {
		p, err := job.toPermuter(dir)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}

	debug.Info("Loaded %d jobs from %s", len(perms), path)
	return perms, nil
}

func (j Job) toPermuter(dir string) (*permuter.Permuter, error) {
	source, err := os.ReadFile(resolve(dir, j.SourceFile))
	if err != nil {
		return nil, fmt.Errorf("job %s: failed to read source: %w", j.FnName, err)
	}

	keepProb := DefaultKeepProb
	if j.KeepProb != nil {
		keepProb = *j.KeepProb
	}

	return &permuter.Permuter{
		FnName:           j.FnName,
		SourceFile:       j.SourceFile,
		Source:           string(source),
		KeepProb:         keepProb,
		StackDifferences: j.StackDifferences,
		BaseScore:        j.BaseScore,
		BaseHash:         j.BaseHash,
		TargetO:          resolve(dir, j.TargetO),
		CompileScript:    resolve(dir, j.CompileScript),
	}, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
