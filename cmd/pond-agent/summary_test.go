package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Pond-International/pond-agent/pkg/pipeline"
	"github.com/Pond-International/pond-agent/pkg/stage"
)

func TestRenderSummary(t *testing.T) {
	failure := &stage.Error{Stage: "build_model", Kind: stage.RepairExhausted, Diagnostic: "ValueError: bad shape", Repairs: 3}
	res := &pipeline.RunResult{
		RunID:  "01J0000000000000000000TEST",
		RunDir: "output/run_20241226_001002",
		Stages: []*pipeline.StageResult{
			{Name: "process_data", Outcome: &stage.Outcome{Stage: "process_data", State: stage.StateSucceeded, RepairsUsed: 1}},
			{Name: "engineer_features", Skipped: true},
			{Name: "build_model", Outcome: &stage.Outcome{Stage: "build_model", State: stage.StateFatal}, Err: failure},
		},
	}

	out := renderSummary(res, failure)
	assert.Contains(t, out, "01J0000000000000000000TEST")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, string(stage.RepairExhausted))
	assert.Contains(t, out, "repairs=1")
	assert.NotContains(t, out, "ValueError", "only the first error line is shown")
}

func TestRenderOutcomeWithoutOutcome(t *testing.T) {
	out := renderOutcome(nil, errors.New("read script: no such file\nmore"))
	assert.Contains(t, out, "read script: no such file")
	assert.NotContains(t, out, "more")
}
