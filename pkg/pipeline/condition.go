package pipeline

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// conditionEnv is the environment `when` expressions are evaluated in.
type conditionEnv struct {
	Stage        string            `expr:"stage"`
	Instructions string            `expr:"instructions"`
	Plan         map[string]string `expr:"plan"`
	Vars         map[string]string `expr:"vars"`
	Datasets     int               `expr:"datasets"`
}

func conditionSource(stage *Stage) string {
	when := strings.TrimSpace(stage.When)
	if when != "" {
		return when
	}
	if stage.Plan != "" {
		return `instructions != ""`
	}
	return "true"
}

func compileCondition(stage *Stage) (*vm.Program, error) {
	src := conditionSource(stage)
	program, err := expr.Compile(src, expr.Env(conditionEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", src, err)
	}
	return program, nil
}

// shouldRun evaluates a stage's condition.
func shouldRun(stage *Stage, env conditionEnv) (bool, error) {
	program, err := compileCondition(stage)
	if err != nil {
		return false, err
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", conditionSource(stage), err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T)", conditionSource(stage), output)
	}
	return result, nil
}
