package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultManifest []byte

// DataInput names the competition dataset as a stage input.
const DataInput = "data"

// LoadManifest reads a pipeline definition from a YAML file.
func LoadManifest(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseManifest decodes a pipeline definition.
func ParseManifest(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// Default returns the built-in four stage competition pipeline.
func Default() *Pipeline {
	p, err := ParseManifest(defaultManifest)
	if err != nil {
		panic(fmt.Sprintf("embedded pipeline manifest: %v", err))
	}
	return p
}

// DefaultManifest returns the raw embedded manifest, for `pond-agent validate --print-default`.
func DefaultManifest() []byte {
	return append([]byte(nil), defaultManifest...)
}

// Validate checks the pipeline configuration for errors.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline must define at least one stage")
	}

	seen := make(map[string]struct{})
	scripts := make(map[string]string)
	for _, stage := range p.Stages {
		if stage == nil || stage.Name == "" {
			return fmt.Errorf("stage name is required")
		}
		if _, ok := seen[stage.Name]; ok {
			return fmt.Errorf("duplicate stage name: %s", stage.Name)
		}
		if stage.Input != "" && stage.Input != DataInput {
			if _, ok := seen[stage.Input]; !ok {
				return fmt.Errorf("stage %s reads from %s, which is not an earlier stage", stage.Name, stage.Input)
			}
		}
		seen[stage.Name] = struct{}{}

		script := stage.ScriptName()
		if strings.ContainsAny(script, `/\`) {
			return fmt.Errorf("stage %s: script name %q must not contain a path separator", stage.Name, script)
		}
		if other, ok := scripts[script]; ok {
			return fmt.Errorf("stages %s and %s share script %s", other, stage.Name, script)
		}
		scripts[script] = stage.Name

		if err := validateRelative(stage.Output); err != nil {
			return fmt.Errorf("stage %s output: %w", stage.Name, err)
		}
		if strings.TrimSpace(stage.Prompt) == "" {
			return fmt.Errorf("stage %s must have a prompt", stage.Name)
		}
		for label, text := range map[string]string{"system": stage.System, "prompt": stage.Prompt} {
			if _, err := template.New(label).Parse(text); err != nil {
				return fmt.Errorf("stage %s %s template: %w", stage.Name, label, err)
			}
		}
		if stage.MaxRepairs != nil && *stage.MaxRepairs < 0 {
			return fmt.Errorf("stage %s: max_repairs must not be negative", stage.Name)
		}
		if _, err := compileCondition(stage); err != nil {
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}
	}

	return nil
}

func validateRelative(rel string) error {
	if rel == "" {
		return fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return fmt.Errorf("%s must be relative to the run directory", rel)
	}
	cleaned := filepath.Clean(rel)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s escapes the run directory", rel)
	}
	return nil
}
