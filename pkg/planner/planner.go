package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/dataset"
)

// ErrInvalidPlan is returned when the oracle response is not a usable plan.
var ErrInvalidPlan = errors.New("invalid task plan")

// SystemPrompt instructs the oracle to answer with a TaskPlan object.
const SystemPrompt = `You are a senior data scientist planning a machine learning competition entry.
Break the work into stages and answer with a JSON object using these keys:
"summary", "ml_task", "train_table", "eval_table", "preprocessing",
"feature_engineering", "modeling" and "submission".
Each stage key holds plain-text instructions for that stage. Omit a stage key
when the stage is not needed.`

const userTemplate = `# Problem description
{{ .Problem }}
{{ if .Datasets }}
# Data tables
{{ range $ds := .Datasets }}
## {{ $ds.Name }} ({{ $ds.Format }})
{{- if $ds.Description }}
{{ $ds.Description }}
{{- end }}
{{- range $col := $ds.Columns }}
- {{ $col }}{{ with index $.Docs $ds.Name $col }}: {{ . }}{{ end }}
{{- end }}
{{ end }}
{{- end }}`

// Request is the input to a planning call.
type Request struct {
	Problem  string
	Datasets []dataset.Info
}

// Planner turns a problem description into a TaskPlan with one structured oracle call.
type Planner struct {
	oracle adapter.Oracle
	user   *template.Template
	schema *sjsonschema.Schema
}

// New compiles the plan schema and returns a Planner.
func New(oracle adapter.Oracle) (*Planner, error) {
	if oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	sch, err := compileSchema()
	if err != nil {
		return nil, err
	}
	user, err := template.New("plan").Option("missingkey=zero").Parse(userTemplate)
	if err != nil {
		return nil, err
	}
	return &Planner{oracle: oracle, user: user, schema: sch}, nil
}

// Prompt renders the user prompt for req.
func (p *Planner) Prompt(req Request) (string, error) {
	docs := make(map[string]map[string]string, len(req.Datasets))
	for _, ds := range req.Datasets {
		docs[ds.Name] = ds.ColumnDescriptions
	}
	var sb strings.Builder
	err := p.user.Execute(&sb, map[string]any{
		"Problem":  strings.TrimSpace(req.Problem),
		"Datasets": req.Datasets,
		"Docs":     docs,
	})
	if err != nil {
		return "", fmt.Errorf("render plan prompt: %w", err)
	}
	return sb.String(), nil
}

// Plan asks the oracle for a TaskPlan. There is no retry: an outage or an
// invalid response is returned to the caller.
func (p *Planner) Plan(ctx context.Context, req Request) (*TaskPlan, error) {
	if strings.TrimSpace(req.Problem) == "" {
		return nil, fmt.Errorf("%w: problem description is empty", ErrInvalidPlan)
	}
	prompt, err := p.Prompt(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.oracle.Complete(ctx, SystemPrompt, prompt, true)
	if err != nil {
		return nil, adapter.Unavailable("planner", err)
	}
	return p.Parse(resp)
}

// Parse decodes and validates a raw oracle response.
func (p *Planner) Parse(resp string) (*TaskPlan, error) {
	body := trimJSON(resp)
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if err := validate(p.schema, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	var plan TaskPlan
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	return &plan, nil
}

// trimJSON drops a markdown fence some providers wrap around JSON output.
func trimJSON(resp string) string {
	body := strings.TrimSpace(resp)
	if !strings.HasPrefix(body, "```") {
		return body
	}
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimPrefix(body, "json")
	body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	return strings.TrimSpace(body)
}
