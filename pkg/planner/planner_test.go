package planner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/dataset"
)

type fakeOracle struct {
	response   string
	err        error
	structured bool
	prompt     string
	calls      int
}

func (o *fakeOracle) Complete(_ context.Context, _, prompt string, structured bool) (string, error) {
	o.calls++
	o.prompt = prompt
	o.structured = structured
	return o.response, o.err
}

func TestPlanParsesStructuredResponse(t *testing.T) {
	oracle := &fakeOracle{response: `{
		"summary": "Flag sybil addresses",
		"preprocessing": "drop duplicate transfers",
		"modeling": "train a gradient boosted classifier",
		"notes": "extra keys are tolerated"
	}`}
	p, err := New(oracle)
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), Request{
		Problem: "Detect sybil wallets.",
		Datasets: []dataset.Info{{
			Name:               "transfers",
			Format:             "csv",
			Columns:            []string{"FROM", "VALUE"},
			ColumnDescriptions: map[string]string{"VALUE": "amount in wei"},
		}},
	})
	require.NoError(t, err)
	assert.True(t, oracle.structured)
	assert.Equal(t, 1, oracle.calls)
	assert.Equal(t, "Flag sybil addresses", plan.Summary)
	assert.Equal(t, "drop duplicate transfers", plan.Instructions("preprocessing"))
	assert.Empty(t, plan.Instructions("feature_engineering"))
	assert.Contains(t, oracle.prompt, "## transfers (csv)")
	assert.Contains(t, oracle.prompt, "- VALUE: amount in wei")
	assert.Contains(t, oracle.prompt, "- FROM\n")
}

func TestPlanRejectsSchemaViolations(t *testing.T) {
	p, err := New(&fakeOracle{})
	require.NoError(t, err)

	_, err = p.Parse(`{"preprocessing": "x"}`)
	assert.ErrorIs(t, err, ErrInvalidPlan)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = p.Parse(`{"summary": "s", "modeling": {"model": "xgb"}}`)
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = p.Parse("not json")
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestParseStripsJSONFence(t *testing.T) {
	p, err := New(&fakeOracle{})
	require.NoError(t, err)

	plan, err := p.Parse("```json\n{\"summary\": \"s\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "s", plan.Summary)
}

func TestPlanOracleOutage(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("503 service unavailable")}
	p, err := New(oracle)
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), Request{Problem: "p"})
	assert.ErrorIs(t, err, adapter.ErrOracleUnavailable)
	assert.Equal(t, 1, oracle.calls)
}

func TestPlanRequiresProblem(t *testing.T) {
	oracle := &fakeOracle{}
	p, err := New(oracle)
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), Request{Problem: "  "})
	assert.ErrorIs(t, err, ErrInvalidPlan)
	assert.Zero(t, oracle.calls)
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := GenerateJSONSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"summary"`)
	assert.Contains(t, string(data), `"feature_engineering"`)
}

func TestVars(t *testing.T) {
	plan := &TaskPlan{Summary: "s", Modeling: "m"}
	vars := plan.Vars()
	assert.Equal(t, "m", vars["modeling"])
	assert.Equal(t, "", vars["submission"])

	var nilPlan *TaskPlan
	assert.Empty(t, nilPlan.Instructions("modeling"))
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "task_plan.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"summary": "s", "modeling": "fit"}`), 0644))
	plan, err := LoadPlan(good)
	require.NoError(t, err)
	assert.Equal(t, "fit", plan.Modeling)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"modeling": "fit"}`), 0644))
	_, err = LoadPlan(bad)
	assert.ErrorIs(t, err, ErrInvalidPlan)
}
