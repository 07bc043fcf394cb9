package pipeline

// Pipeline is an ordered list of script-generating stages. Stages run
// strictly in order within a run.
type Pipeline struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Stages      []*Stage `yaml:"stages"`
}

// Stage describes how one stage's script is generated and where it reads and writes.
type Stage struct {
	Name string `yaml:"name"`
	// Script is the file name under scripts/; defaults to Name.
	Script string `yaml:"script,omitempty"`
	// Plan is the task plan key holding this stage's instructions.
	Plan string `yaml:"plan,omitempty"`
	// Input is "data" or the name of an earlier stage. Empty chains from the
	// previous stage, or the dataset for the first one.
	Input string `yaml:"input,omitempty"`
	// Output is a directory relative to the run root.
	Output string `yaml:"output"`
	// When is an expr-lang condition; empty means "instructions != ''" for
	// planned stages and true otherwise.
	When       string `yaml:"when,omitempty"`
	System     string `yaml:"system"`
	Prompt     string `yaml:"prompt"`
	MaxRepairs *int   `yaml:"max_repairs,omitempty"`
	Adapter    string `yaml:"adapter,omitempty"`
	Model      string `yaml:"model,omitempty"`
}

// ScriptName returns the script file base name.
func (s *Stage) ScriptName() string {
	if s.Script != "" {
		return s.Script
	}
	return s.Name
}

// NeedsPlan reports whether any stage reads task plan instructions.
func (p *Pipeline) NeedsPlan() bool {
	for _, s := range p.Stages {
		if s.Plan != "" {
			return true
		}
	}
	return false
}

// Stage returns the stage with the given name.
func (p *Pipeline) Stage(name string) (*Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}
