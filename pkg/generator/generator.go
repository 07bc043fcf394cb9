package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/dataset"
	"github.com/Pond-International/pond-agent/pkg/script"
)

// ErrEmptyScript is returned when the oracle answered without usable source.
var ErrEmptyScript = errors.New("oracle returned no script")

// StageContext is the read-only input a generator builds its prompt from.
type StageContext struct {
	Stage          string
	InputDir       string
	OutputDir      string
	ProblemSummary string
	Instructions   string
	Datasets       []dataset.Info
	Vars           map[string]string
}

// Generator produces the initial script for a stage. One prompt in, one
// script out; implementations do not retry.
type Generator interface {
	Generate(ctx context.Context, sc StageContext) (string, error)
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, sc StageContext) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, sc StageContext) (string, error) {
	return f(ctx, sc)
}

// Static returns a generator that always yields source. It lets an existing
// script enter the execute and repair loop without an oracle call.
func Static(source string) Generator {
	return Func(func(context.Context, StageContext) (string, error) {
		if strings.TrimSpace(source) == "" {
			return "", ErrEmptyScript
		}
		return source, nil
	})
}

// PromptGenerator renders stage-specific templates and asks an oracle for a script.
type PromptGenerator struct {
	oracle adapter.Oracle
	system *template.Template
	user   *template.Template
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	},
	"join": strings.Join,
}

// NewPromptGenerator parses the system and user templates. Both are executed
// against StageContext.
func NewPromptGenerator(oracle adapter.Oracle, systemTmpl, userTmpl string) (*PromptGenerator, error) {
	if oracle == nil {
		return nil, fmt.Errorf("generator requires an oracle")
	}
	system, err := template.New("system").Funcs(funcs).Option("missingkey=error").Parse(systemTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse system template: %w", err)
	}
	user, err := template.New("user").Funcs(funcs).Option("missingkey=error").Parse(userTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse user template: %w", err)
	}
	return &PromptGenerator{oracle: oracle, system: system, user: user}, nil
}

// Render returns the system and user prompts for sc.
func (g *PromptGenerator) Render(sc StageContext) (string, string, error) {
	system, err := execute(g.system, sc)
	if err != nil {
		return "", "", fmt.Errorf("render system prompt for stage %s: %w", sc.Stage, err)
	}
	user, err := execute(g.user, sc)
	if err != nil {
		return "", "", fmt.Errorf("render user prompt for stage %s: %w", sc.Stage, err)
	}
	return system, user, nil
}

// Generate renders the prompts, issues one oracle call and extracts the script.
func (g *PromptGenerator) Generate(ctx context.Context, sc StageContext) (string, error) {
	system, user, err := g.Render(sc)
	if err != nil {
		return "", err
	}

	resp, err := g.oracle.Complete(ctx, system, user, false)
	if err != nil {
		return "", adapter.Unavailable("generator", err)
	}

	source, ok := script.ExtractSource(resp)
	if !ok {
		return "", ErrEmptyScript
	}
	return source, nil
}

func execute(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
