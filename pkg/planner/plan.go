package planner

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// TaskPlan is the oracle's breakdown of a competition into stage instructions.
// An empty instruction field means the stage is not needed.
type TaskPlan struct {
	Summary            string `json:"summary" jsonschema:"minLength=1,description=Concise summary of the problem"`
	MLTask             string `json:"ml_task,omitempty" jsonschema:"description=The machine learning task to solve"`
	TrainTable         string `json:"train_table,omitempty" jsonschema:"description=Table holding ground truth labels"`
	EvalTable          string `json:"eval_table,omitempty" jsonschema:"description=Table used to build the submission"`
	Preprocessing      string `json:"preprocessing,omitempty" jsonschema:"description=Data cleaning instructions"`
	FeatureEngineering string `json:"feature_engineering,omitempty" jsonschema:"description=Feature construction instructions"`
	Modeling           string `json:"modeling,omitempty" jsonschema:"description=Model training instructions"`
	Submission         string `json:"submission,omitempty" jsonschema:"description=Submission file instructions"`
}

// Instructions returns the plan text for a stage key such as "preprocessing".
func (p *TaskPlan) Instructions(key string) string {
	if p == nil {
		return ""
	}
	switch key {
	case "summary":
		return p.Summary
	case "ml_task":
		return p.MLTask
	case "preprocessing":
		return p.Preprocessing
	case "feature_engineering":
		return p.FeatureEngineering
	case "modeling":
		return p.Modeling
	case "submission":
		return p.Submission
	default:
		return ""
	}
}

// Vars flattens the plan for use in stage conditions and templates.
func (p *TaskPlan) Vars() map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return map[string]string{
		"summary":             p.Summary,
		"ml_task":             p.MLTask,
		"train_table":         p.TrainTable,
		"eval_table":          p.EvalTable,
		"preprocessing":       p.Preprocessing,
		"feature_engineering": p.FeatureEngineering,
		"modeling":            p.Modeling,
		"submission":          p.Submission,
	}
}

const schemaID = "task-plan.json"

// GenerateJSONSchema reflects TaskPlan into a JSON Schema document.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.AllowAdditionalProperties = true
	r.DoNotReference = true
	r.Anonymous = true

	s := r.Reflect(&TaskPlan{})
	s.Title = "Task plan"
	s.Description = "Stage instructions produced by the planning oracle"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}

func compileSchema() (*sjsonschema.Schema, error) {
	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return nil, err
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(schemaID, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(schemaID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// ValidationError lists every schema violation in an oracle response.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "task plan does not match schema: " + strings.Join(e.Problems, "; ")
}

func validate(sch *sjsonschema.Schema, doc any) error {
	err := sch.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return err
	}
	var problems []string
	for _, cause := range flatten(ve) {
		path := "/" + strings.Join(cause.InstanceLocation, "/")
		problems = append(problems, fmt.Sprintf("%s: %v", path, cause.ErrorKind))
	}
	return &ValidationError{Problems: problems}
}

func flatten(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flatten(cause)...)
	}
	return flat
}

// LoadPlan reads a task plan written by an earlier run or by hand and
// validates it against the plan schema.
func LoadPlan(path string) (*TaskPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sch, err := compileSchema()
	if err != nil {
		return nil, err
	}
	plan, err := (&Planner{schema: sch}).Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}
