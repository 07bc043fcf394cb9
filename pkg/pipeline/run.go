package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/config"
	"github.com/Pond-International/pond-agent/pkg/dataset"
	"github.com/Pond-International/pond-agent/pkg/evidence"
	"github.com/Pond-International/pond-agent/pkg/generator"
	"github.com/Pond-International/pond-agent/pkg/planner"
	"github.com/Pond-International/pond-agent/pkg/repair"
	"github.com/Pond-International/pond-agent/pkg/runner"
	"github.com/Pond-International/pond-agent/pkg/script"
	"github.com/Pond-International/pond-agent/pkg/stage"
	"github.com/Pond-International/pond-agent/pkg/workspace"
)

// Input layout inside a competition directory.
const (
	ProblemFile    = "overview.md"
	DatasetDir     = "dataset"
	DictionaryFile = "data_dictionary.yaml"
	SnapshotDir    = "input_data"
)

// planStage labels planner calls in the cost report.
const planStage = "plan"

// Run statuses recorded in evidence.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// RunOptions configures pipeline execution.
type RunOptions struct {
	// InputDir holds overview.md, the dataset/ directory and an optional
	// data_dictionary.yaml.
	InputDir string
	// OutputDir receives run_<timestamp> directories.
	OutputDir    string
	ManifestPath string
	Adapters     map[string]adapter.Adapter
	Oracle       *config.OracleConfig
	Aliases      *config.ModelAliases
	Execution    config.ExecutionConfig
	// Plan skips the planning call when set.
	Plan *planner.TaskPlan
	// Snapshot copies the input into the run directory before any stage runs.
	Snapshot bool
	// Only restricts the run to the named stages; the others are skipped.
	Only   []string
	Logger *slog.Logger
	// Stdout receives script standard output; nil discards it.
	Stdout io.Writer
	Now    func() time.Time
}

// RunResult captures pipeline outputs.
type RunResult struct {
	RunID       string
	RunDir      string
	EvidenceDir string
	Plan        *planner.TaskPlan
	Stages      []*StageResult
	Cost        *evidence.RunCostReport
	// Err is the error Run returned, kept for callers of RunAll.
	Err error
}

// StageResult captures execution results for a stage.
type StageResult struct {
	Name      string
	Skipped   bool
	InputDir  string
	OutputDir string
	Outcome   *stage.Outcome
	Err       error
}

// Run executes the pipeline once in a fresh run directory. Stages run in
// order; the first stage failure aborts the run and is returned.
func Run(ctx context.Context, p *Pipeline, opts RunOptions) (*RunResult, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("no adapters configured")
	}
	if opts.InputDir == "" {
		return nil, fmt.Errorf("input directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = "output"
	}
	oracleCfg := opts.Oracle
	if oracleCfg == nil {
		oracleCfg = config.DefaultOracleConfig()
	}

	layout, err := workspace.Create(outDir, now())
	if err != nil {
		return nil, err
	}
	runID := ulid.Make().String()
	writer, err := evidence.NewWriter(layout.Dir(workspace.Reports), runID)
	if err != nil {
		return nil, err
	}
	logger = logger.With("run_id", runID)
	logger.Info("starting run", "pipeline", p.Name, "run_dir", layout.Root)

	r := &run{
		pipeline: p,
		opts:     opts,
		layout:   layout,
		writer:   writer,
		logger:   logger,
		oracle:   oracleCfg,
		tracker:  newCostTracker(oracleCfg),
		result: &RunResult{
			RunID:       runID,
			RunDir:      layout.Root,
			EvidenceDir: writer.RunDir(),
		},
		record: evidence.RunRecord{
			ID:           runID,
			Timestamp:    now().UTC(),
			ManifestFile: opts.ManifestPath,
			RunDir:       layout.Root,
			RepairBudget: opts.Execution.Budget(),
			ToolVersions: map[string]string{"go": runtime.Version()},
		},
	}
	if opts.ManifestPath != "" {
		if data, err := os.ReadFile(opts.ManifestPath); err == nil {
			r.record.ManifestHash = evidence.Hash(string(data))
		}
	}
	defaultTarget := r.target(nil)
	r.record.Adapter = defaultTarget.Adapter
	r.record.Model = defaultTarget.Model

	err = r.execute(ctx)
	r.finish(err)
	return r.result, err
}

type run struct {
	pipeline *Pipeline
	opts     RunOptions
	layout   *workspace.Layout
	writer   *evidence.Writer
	logger   *slog.Logger
	oracle   *config.OracleConfig
	tracker  *costTracker
	result   *RunResult
	record   evidence.RunRecord

	dataDir string
	tables  []dataset.Info
	dict    dataset.Dictionary
	problem string
	plan    *planner.TaskPlan
	vars    map[string]string
}

func (r *run) execute(ctx context.Context) error {
	inputDir := r.opts.InputDir
	if r.opts.Snapshot {
		dest := r.layout.Dir(SnapshotDir)
		if err := workspace.Snapshot(inputDir, dest); err != nil {
			return fmt.Errorf("snapshot input: %w", err)
		}
		inputDir = dest
	}
	absInput, err := filepath.Abs(inputDir)
	if err != nil {
		return err
	}
	r.record.InputDir = absInput

	if err := r.loadInputs(absInput); err != nil {
		return err
	}
	if err := r.planTasks(ctx); err != nil {
		return err
	}

	r.vars = map[string]string{
		"data_dir": r.dataDir,
		"run_dir":  r.layout.Root,
	}
	for k, v := range r.plan.Vars() {
		r.vars[k] = v
	}
	for _, s := range r.pipeline.Stages {
		r.vars[s.Name+"_dir"] = r.layout.Dir(s.Output)
	}

	current := r.dataDir
	for _, s := range r.pipeline.Stages {
		res, err := r.runStage(ctx, s, r.inputFor(s, current))
		r.result.Stages = append(r.result.Stages, res)
		if err != nil {
			return err
		}
		r.vars[s.Name+"_dir"] = res.OutputDir
		current = res.OutputDir
	}
	return nil
}

func (r *run) loadInputs(inputDir string) error {
	data, err := os.ReadFile(filepath.Join(inputDir, ProblemFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read problem description: %w", err)
	}
	r.problem = string(data)

	r.dataDir = filepath.Join(inputDir, DatasetDir)
	if info, err := os.Stat(r.dataDir); err != nil || !info.IsDir() {
		r.dataDir = inputDir
	}

	dictPath := filepath.Join(inputDir, DictionaryFile)
	if _, err := os.Stat(dictPath); err == nil {
		dict, err := dataset.LoadDictionary(dictPath)
		if err != nil {
			return err
		}
		r.dict = dict
	}

	infos, err := dataset.Discover(r.dataDir, nil, r.dict)
	if err != nil {
		return err
	}
	r.tables = infos
	return nil
}

func (r *run) planTasks(ctx context.Context) error {
	r.plan = r.opts.Plan
	if r.plan != nil || !r.pipeline.NeedsPlan() {
		r.result.Plan = r.plan
		return nil
	}
	if strings.TrimSpace(r.problem) == "" {
		return fmt.Errorf("%s is required to plan the run", ProblemFile)
	}

	pl, err := planner.New(r.oracleFor(nil))
	if err != nil {
		return err
	}
	r.logger.Info("planning tasks", "tables", len(r.tables))
	plan, err := pl.Plan(ctx, planner.Request{Problem: r.problem, Datasets: r.tables})
	if err != nil {
		return fmt.Errorf("plan tasks: %w", err)
	}
	r.plan = plan
	r.result.Plan = plan
	return writePlan(r.layout.Dir(workspace.Reports), plan)
}

func (r *run) inputFor(s *Stage, current string) string {
	switch s.Input {
	case "":
		return current
	case DataInput:
		return r.dataDir
	default:
		return r.vars[s.Input+"_dir"]
	}
}

func (r *run) runStage(ctx context.Context, s *Stage, inputDir string) (*StageResult, error) {
	log := r.logger.With("stage", s.Name)
	res := &StageResult{Name: s.Name, InputDir: inputDir}
	instructions := r.plan.Instructions(s.Plan)

	active, err := r.selected(s, instructions)
	if err != nil {
		res.Err = err
		return res, err
	}
	if !active {
		log.Info("skipping stage", "input_dir", inputDir)
		res.Skipped = true
		res.OutputDir = inputDir
		r.writeStage(evidence.StageRecord{
			Name:      s.Name,
			Skipped:   true,
			Status:    StatusSkipped,
			InputDir:  inputDir,
			OutputDir: inputDir,
		})
		return res, nil
	}

	outputDir, err := r.layout.Resolve(s.Output)
	if err != nil {
		res.Err = err
		return res, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		res.Err = err
		return res, err
	}
	res.OutputDir = outputDir

	datasets, err := dataset.Discover(inputDir, nil, r.dict)
	if err != nil {
		res.Err = err
		return res, err
	}
	sc := generator.StageContext{
		Stage:          s.Name,
		InputDir:       inputDir,
		OutputDir:      outputDir,
		ProblemSummary: r.summary(),
		Instructions:   instructions,
		Datasets:       datasets,
		Vars:           r.vars,
	}

	exec, target, err := r.executor(s, log)
	if err != nil {
		res.Err = err
		return res, err
	}
	record := evidence.StageRecord{
		Name:      s.Name,
		Adapter:   target.Adapter,
		Model:     target.Model,
		InputDir:  inputDir,
		OutputDir: outputDir,
	}
	if gen, ok := exec.gen.(*generator.PromptGenerator); ok {
		if system, user, err := gen.Render(sc); err == nil {
			record.PromptHash = evidence.Hash(system + "\n" + user)
		}
	}

	outcome, err := exec.stage.Run(ctx, sc)
	res.Outcome = outcome
	res.Err = err
	r.writeStage(r.stageRecord(record, outcome, err))
	return res, err
}

// selected evaluates --only and the stage's when condition.
func (r *run) selected(s *Stage, instructions string) (bool, error) {
	if len(r.opts.Only) > 0 && !contains(r.opts.Only, s.Name) {
		return false, nil
	}
	return shouldRun(s, conditionEnv{
		Stage:        s.Name,
		Instructions: instructions,
		Plan:         r.plan.Vars(),
		Vars:         r.vars,
		Datasets:     len(r.tables),
	})
}

type stageExecutor struct {
	stage *stage.Executor
	gen   generator.Generator
}

func (r *run) executor(s *Stage, log *slog.Logger) (*stageExecutor, callTarget, error) {
	target := r.target(s)
	oracle := r.oracleFor(s)

	gen, err := generator.NewPromptGenerator(oracle, s.System, s.Prompt)
	if err != nil {
		return nil, target, fmt.Errorf("stage %s: %w", s.Name, err)
	}
	scriptPath, err := r.layout.ScriptPath(s.ScriptName())
	if err != nil {
		return nil, target, err
	}
	scriptRunner, err := r.scriptRunner()
	if err != nil {
		return nil, target, err
	}
	budget := r.opts.Execution.Budget()
	if s.MaxRepairs != nil {
		budget = *s.MaxRepairs
	}

	exec, err := stage.New(stage.Config{
		Stage:        s.Name,
		ScriptPath:   scriptPath,
		Generator:    gen,
		Runner:       scriptRunner,
		Fixer:        repair.NewFixer(oracle),
		RepairBudget: budget,
		Env:          os.Environ(),
		Logger:       log,
	})
	if err != nil {
		return nil, target, err
	}
	return &stageExecutor{stage: exec, gen: gen}, target, nil
}

func (r *run) scriptRunner() (*runner.Runner, error) {
	execCfg := r.opts.Execution
	interpreter := execCfg.Interpreter
	if interpreter == "" {
		interpreter = config.DefaultInterpreter
	}
	searchVar := execCfg.SearchPathVar
	if searchVar == "" {
		searchVar = config.DefaultSearchPathVar
	}
	paths := append([]string{r.layout.Dir(workspace.Scripts)}, execCfg.SearchPaths...)

	opts := []runner.Option{
		runner.WithSearchPath(searchVar, paths...),
		runner.WithWorkdir(r.layout.Root),
		runner.WithRoot(r.layout.Root),
		runner.WithTimeout(execCfg.Timeout()),
	}
	if r.opts.Stdout != nil {
		opts = append(opts, runner.WithStdout(r.opts.Stdout))
	}
	return runner.New(interpreter, opts...)
}

// target resolves the adapter and model for a stage; nil means the planner.
func (r *run) target(s *Stage) callTarget {
	name := ""
	if s != nil {
		name = s.Name
	}
	route := r.oracle.Target(name)
	if s != nil {
		if s.Adapter != "" {
			route.Adapter = s.Adapter
		}
		if s.Model != "" {
			route.Model = s.Model
		}
	}
	model := r.opts.Aliases.Resolve(route.Model)
	if model == "" {
		if impl, ok := r.opts.Adapters[route.Adapter]; ok {
			if models := impl.Models(); len(models) > 0 {
				model = models[0]
			}
		}
	}
	return callTarget{Adapter: route.Adapter, Model: model}
}

func (r *run) oracleFor(s *Stage) adapter.Oracle {
	name := planStage
	if s != nil {
		name = s.Name
	}
	return &policyOracle{
		stage:    name,
		adapters: r.opts.Adapters,
		target:   r.target(s),
		cfg:      r.oracle,
		tracker:  r.tracker,
		logger:   r.logger,
	}
}

func (r *run) summary() string {
	if r.plan != nil && r.plan.Summary != "" {
		return r.plan.Summary
	}
	return strings.TrimSpace(r.problem)
}

func (r *run) stageRecord(record evidence.StageRecord, outcome *stage.Outcome, err error) evidence.StageRecord {
	record.Status = StatusSucceeded
	if err != nil {
		record.Status = StatusFailed
		record.Error = err.Error()
		if kind, ok := stage.KindOf(err); ok {
			record.FailureKind = string(kind)
		}
	}
	if outcome == nil {
		return record
	}
	record.RepairsUsed = outcome.RepairsUsed
	record.DurationMillis = outcome.Duration.Milliseconds()
	if outcome.Script != nil {
		record.ScriptPath = outcome.Script.Path
		record.ScriptHash = outcome.Script.Hash
	}
	for i, attempt := range outcome.Attempts {
		ar := evidence.AttemptRecord{
			Attempt:       attempt.Number,
			ScriptVersion: attempt.ScriptVersion,
			ScriptHash:    attempt.ScriptHash,
			Repaired:      i < len(outcome.Attempts)-1,
		}
		if res := attempt.Result; res != nil {
			ar.Succeeded = res.Success
			ar.ExitCode = res.ExitCode
			ar.TimedOut = res.TimedOut
			ar.DurationMillis = res.Duration.Milliseconds()
			if res.Diagnostic != "" {
				ar.Diagnostic = evidence.Truncate(res.Diagnostic, evidence.DiagnosticLimit)
				ar.DiagnosticHash = evidence.Hash(res.Diagnostic)
				if werr := r.writer.WriteDiagnostic(record.Name, attempt.Number, res.Diagnostic); werr != nil {
					r.logger.Warn("write diagnostic", "stage", record.Name, "error", werr)
				}
			}
		}
		record.Attempts = append(record.Attempts, ar)
	}
	return record
}

func (r *run) writeStage(record evidence.StageRecord) {
	if err := r.writer.WriteStage(record); err != nil {
		r.logger.Warn("write stage evidence", "stage", record.Name, "error", err)
	}
}

func (r *run) finish(err error) {
	r.result.Err = err
	r.result.Cost = r.tracker.report()
	r.record.Status = StatusSucceeded
	if err != nil {
		r.record.Status = StatusFailed
		r.record.Error = err.Error()
		var stageErr *stage.Error
		if errors.As(err, &stageErr) {
			r.record.FailedStage = stageErr.Stage
			r.record.FailureKind = string(stageErr.Kind)
		}
		r.logger.Error("run failed", "error", err)
	} else {
		r.logger.Info("run succeeded", "run_dir", r.layout.Root)
	}
	if werr := r.writer.WriteRun(r.record); werr != nil {
		r.logger.Warn("write run evidence", "error", werr)
	}
	if werr := r.writer.WriteCost(r.result.Cost); werr != nil {
		r.logger.Warn("write cost report", "error", werr)
	}
}

func writePlan(dir string, plan *planner.TaskPlan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "task_plan.json"), data, 0644)
}

func contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}

// PlanTasks runs only the planning step against opts.InputDir.
func PlanTasks(ctx context.Context, opts RunOptions) (*planner.TaskPlan, error) {
	if opts.InputDir == "" {
		return nil, fmt.Errorf("input directory is required")
	}
	cfg := opts.Oracle
	if cfg == nil {
		cfg = config.DefaultOracleConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(opts.InputDir)
	if err != nil {
		return nil, err
	}
	r := &run{opts: opts, oracle: cfg, tracker: newCostTracker(cfg), logger: logger}
	if err := r.loadInputs(abs); err != nil {
		return nil, err
	}
	pl, err := planner.New(r.oracleFor(nil))
	if err != nil {
		return nil, err
	}
	return pl.Plan(ctx, planner.Request{Problem: r.problem, Datasets: r.tables})
}

// Rerun executes an already generated stage script again without generation
// or repair.
func Rerun(ctx context.Context, runDir string, p *Pipeline, stageName string, opts RunOptions) (*stage.Outcome, error) {
	s, ok := p.Stage(stageName)
	if !ok {
		return nil, fmt.Errorf("unknown stage %s", stageName)
	}
	layout, err := workspace.Open(runDir)
	if err != nil {
		return nil, err
	}
	path, err := layout.ScriptPath(s.ScriptName())
	if err != nil {
		return nil, err
	}
	existing, err := script.Load(s.Name, path)
	if err != nil {
		return nil, err
	}
	r := &run{opts: opts, layout: layout}
	scriptRunner, err := r.scriptRunner()
	if err != nil {
		return nil, err
	}
	exec, err := stage.New(stage.Config{
		Stage:      s.Name,
		ScriptPath: path,
		Generator:  generator.Static(existing.Source),
		Runner:     scriptRunner,
		Fixer:      noFixer{},
		Env:        os.Environ(),
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return exec.Rerun(ctx, existing)
}

type noFixer struct{}

func (noFixer) Fix(context.Context, string, string) (string, error) {
	return "", repair.ErrNoFix
}
