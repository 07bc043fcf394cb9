package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/generator"
	"github.com/Pond-International/pond-agent/pkg/repair"
	"github.com/Pond-International/pond-agent/pkg/runner"
	"github.com/Pond-International/pond-agent/pkg/script"
)

// DefaultRepairBudget is the number of fix-and-retry cycles allowed per stage.
const DefaultRepairBudget = 3

// State is a node of the stage state machine.
type State string

const (
	StateGenerating State = "generating"
	StateRunning    State = "running"
	StateDiagnosing State = "diagnosing"
	StateSucceeded  State = "succeeded"
	StateFatal      State = "fatal"
)

// ScriptRunner executes a script file.
type ScriptRunner interface {
	Execute(ctx context.Context, scriptPath string, env []string) (*runner.Result, error)
}

// BugFixer proposes a replacement for a failing script.
type BugFixer interface {
	Fix(ctx context.Context, source, diagnostic string) (string, error)
}

// Config wires an Executor's collaborators.
type Config struct {
	Stage        string
	ScriptPath   string
	Generator    generator.Generator
	Runner       ScriptRunner
	Fixer        BugFixer
	RepairBudget int
	Env          []string
	Logger       *slog.Logger
}

// Attempt records one execution of the stage script.
type Attempt struct {
	Number        int            `json:"number"`
	ScriptVersion int            `json:"script_version"`
	ScriptHash    string         `json:"script_hash"`
	Result        *runner.Result `json:"result"`
	RepairsLeft   int            `json:"repairs_left"`
}

// Outcome describes a finished stage, successful or not.
type Outcome struct {
	Stage       string         `json:"stage"`
	State       State          `json:"state"`
	Script      *script.Script `json:"script,omitempty"`
	Result      *runner.Result `json:"result,omitempty"`
	Attempts    []Attempt      `json:"attempts"`
	RepairsUsed int            `json:"repairs_used"`
	Duration    time.Duration  `json:"duration"`
}

// Executor drives generate, run, diagnose and repair for one stage.
// It is not safe for concurrent use; each pipeline run builds its own.
type Executor struct {
	stage      string
	scriptPath string
	generator  generator.Generator
	runner     ScriptRunner
	fixer      BugFixer
	budget     int
	env        []string
	logger     *slog.Logger
}

// New validates cfg and returns an Executor. A negative budget is treated as zero.
func New(cfg Config) (*Executor, error) {
	if cfg.Stage == "" {
		return nil, fmt.Errorf("stage name is required")
	}
	if cfg.ScriptPath == "" {
		return nil, fmt.Errorf("stage %s: script path is required", cfg.Stage)
	}
	if cfg.Generator == nil || cfg.Runner == nil || cfg.Fixer == nil {
		return nil, fmt.Errorf("stage %s: generator, runner and fixer are required", cfg.Stage)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	budget := cfg.RepairBudget
	if budget < 0 {
		budget = 0
	}
	return &Executor{
		stage:      cfg.Stage,
		scriptPath: cfg.ScriptPath,
		generator:  cfg.Generator,
		runner:     cfg.Runner,
		fixer:      cfg.Fixer,
		budget:     budget,
		env:        cfg.Env,
		logger:     logger.With("stage", cfg.Stage),
	}, nil
}

// Run generates the stage script and executes it, repairing failures until
// it succeeds or the budget is spent. The returned Outcome is never nil; on
// failure the error is a *Error carrying the last diagnostic.
func (e *Executor) Run(ctx context.Context, sc generator.StageContext) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{Stage: e.stage, State: StateGenerating}
	defer func() { out.Duration = time.Since(start) }()

	e.logger.Info("generating script")
	source, err := e.generator.Generate(ctx, sc)
	if err != nil {
		return e.fail(out, GenerationFailure, "", err)
	}
	s, err := script.Create(e.stage, e.scriptPath, source)
	if err != nil {
		out.State = StateFatal
		return out, fmt.Errorf("stage %s: %w", e.stage, err)
	}
	out.Script = s
	e.logger.Info("saved script", "path", s.Path, "hash", s.Hash)

	remaining := e.budget
	for {
		out.State = StateRunning
		res, err := e.execute(ctx, out, remaining)
		if err != nil {
			return e.abort(ctx, out, err)
		}
		if res.Success {
			out.State = StateSucceeded
			e.logger.Info("script succeeded", "executions", len(out.Attempts), "repairs_used", out.RepairsUsed)
			return out, nil
		}

		e.logger.Error("script failed", "exit_code", res.ExitCode, "timed_out", res.TimedOut, "diagnostic", res.Diagnostic)
		if remaining == 0 {
			return e.fail(out, RepairExhausted, res.Diagnostic, nil)
		}

		out.State = StateDiagnosing
		e.logger.Info("attempting to fix script", "repairs_left", remaining)
		fixed, err := e.fixer.Fix(ctx, s.Source, res.Diagnostic)
		if err != nil {
			if ctx.Err() != nil {
				return e.abort(ctx, out, err)
			}
			if errors.Is(err, repair.ErrNoFix) {
				return e.fail(out, RepairRefused, res.Diagnostic, err)
			}
			return e.fail(out, OracleUnavailable, res.Diagnostic, adapter.Unavailable("repair", err))
		}
		if err := s.Replace(fixed); err != nil {
			out.State = StateFatal
			return out, fmt.Errorf("stage %s: %w", e.stage, err)
		}
		remaining--
		out.RepairsUsed++
	}
}

// Rerun executes an existing script unchanged. It never generates or repairs,
// so the repair budget is untouched.
func (e *Executor) Rerun(ctx context.Context, s *script.Script) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{Stage: e.stage, State: StateRunning, Script: s}
	defer func() { out.Duration = time.Since(start) }()

	res, err := e.execute(ctx, out, e.budget)
	if err != nil {
		return e.abort(ctx, out, err)
	}
	if !res.Success {
		return e.fail(out, ExecutionFailure, res.Diagnostic, nil)
	}
	out.State = StateSucceeded
	return out, nil
}

func (e *Executor) execute(ctx context.Context, out *Outcome, remaining int) (*runner.Result, error) {
	s := out.Script
	res, err := e.runner.Execute(ctx, s.Path, e.env)
	if err != nil {
		return nil, err
	}
	out.Result = res
	out.Attempts = append(out.Attempts, Attempt{
		Number:        len(out.Attempts) + 1,
		ScriptVersion: s.Version,
		ScriptHash:    s.Hash,
		Result:        res,
		RepairsLeft:   remaining,
	})
	return res, nil
}

func (e *Executor) abort(ctx context.Context, out *Outcome, err error) (*Outcome, error) {
	var launchErr *runner.LaunchError
	if errors.As(err, &launchErr) {
		return e.fail(out, LaunchFailure, "", err)
	}
	out.State = StateFatal
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("stage %s: %w", e.stage, ctxErr)
	}
	return out, fmt.Errorf("stage %s: %w", e.stage, err)
}

func (e *Executor) fail(out *Outcome, kind FailureKind, diagnostic string, cause error) (*Outcome, error) {
	out.State = StateFatal
	err := &Error{
		Stage:      e.stage,
		Kind:       kind,
		Diagnostic: diagnostic,
		Executions: len(out.Attempts),
		Repairs:    out.RepairsUsed,
		Err:        cause,
	}
	e.logger.Error("stage failed", "kind", string(kind), "executions", err.Executions, "repairs_used", err.Repairs)
	return out, err
}
