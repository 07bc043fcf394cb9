package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Pond-International/pond-agent/pkg/adapter"
	"github.com/Pond-International/pond-agent/pkg/config"
	"github.com/Pond-International/pond-agent/pkg/generator"
	"github.com/Pond-International/pond-agent/pkg/logging"
	"github.com/Pond-International/pond-agent/pkg/pipeline"
	"github.com/Pond-International/pond-agent/pkg/planner"
	"github.com/Pond-International/pond-agent/pkg/repair"
	"github.com/Pond-International/pond-agent/pkg/runner"
	"github.com/Pond-International/pond-agent/pkg/stage"
)

var (
	oracleFile  string
	adapterFlag string
	modelFlag   string
	logLevel    string
	logFormat   string
	aliases     *config.ModelAliases
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pond-agent",
		Short: "Generate, run and repair data science pipeline scripts",
		Long: `pond-agent plans a data science competition, asks an LLM for one script
	per pipeline stage, runs each script and feeds failures back to the LLM
	until the script succeeds or the repair budget is spent.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&oracleFile, "oracle-config", "", "path to oracle config file (default ~/.pond-agent/oracle.yaml)")
	rootCmd.PersistentFlags().StringVar(&adapterFlag, "adapter", "", "override the default adapter")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "override the default model or alias")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(rerunCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(modelsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var manifestFile string
	var inputs []string
	var outFlag string
	var parallel int
	var planFile string
	var only []string
	var snapshot bool
	var repairBudget int
	var maxBudgetUSD float64
	var showOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline against a competition directory",
		Long: `Runs every stage of the pipeline in a fresh run directory under --out.

	The input directory holds overview.md, a dataset/ directory and an optional
	data_dictionary.yaml. Without --file the built-in four stage pipeline is used.
	Repeat --input to process several competitions concurrently, each in its own
	run directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(inputs) == 0 {
				return fmt.Errorf("input directory is required")
			}
			p, err := loadPipeline(manifestFile)
			if err != nil {
				return err
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if maxBudgetUSD > 0 {
				cfg.Oracle.MaxBudgetUSD = maxBudgetUSD
			}
			if cmd.Flags().Changed("repair-budget") {
				cfg.Execution.RepairBudget = &repairBudget
			}

			opts, err := runOptions(cfg, logger)
			if err != nil {
				return err
			}
			opts.OutputDir = outFlag
			opts.ManifestPath = manifestFile
			opts.Only = only
			opts.Snapshot = snapshot
			if showOutput {
				opts.Stdout = os.Stdout
			}
			if planFile != "" {
				plan, err := planner.LoadPlan(planFile)
				if err != nil {
					return err
				}
				opts.Plan = plan
			}

			if len(inputs) == 1 {
				opts.InputDir = inputs[0]
				result, runErr := pipeline.Run(cmd.Context(), p, opts)
				if result != nil {
					fmt.Fprintln(os.Stderr, renderSummary(result, runErr))
				}
				return runErr
			}

			jobs := make([]pipeline.Job, len(inputs))
			for i, input := range inputs {
				jobOpts := opts
				jobOpts.InputDir = input
				jobOpts.Logger = logger.With("input", input)
				jobs[i] = pipeline.Job{Pipeline: p, Options: jobOpts}
			}
			results, runErr := pipeline.RunAll(cmd.Context(), jobs, parallel)
			for _, result := range results {
				if result != nil {
					fmt.Fprintln(os.Stderr, renderSummary(result, result.Err))
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "file", "f", "", "pipeline manifest path (default: built-in pipeline)")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "competition input directory (required, repeatable)")
	cmd.Flags().StringVarP(&outFlag, "out", "o", "output", "directory receiving run_<timestamp> directories")
	cmd.Flags().IntVar(&parallel, "parallel", 2, "maximum concurrent runs when several inputs are given (0 is unbounded)")
	cmd.Flags().StringVar(&planFile, "plan", "", "task plan JSON to use instead of the planning call")
	cmd.Flags().StringSliceVar(&only, "only", nil, "run only the named stages")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "copy the input into the run directory first")
	cmd.Flags().IntVar(&repairBudget, "repair-budget", config.DefaultRepairBudget, "repair attempts allowed per stage")
	cmd.Flags().Float64Var(&maxBudgetUSD, "max-budget-usd", 0, "maximum USD budget for oracle calls (0 disables)")
	cmd.Flags().BoolVar(&showOutput, "show-output", false, "forward script stdout to the terminal")

	return cmd
}

func planCmd() *cobra.Command {
	var inputFlag string
	var outFile string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Produce a task plan without running any stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputFlag == "" {
				return fmt.Errorf("input directory is required")
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			opts, err := runOptions(cfg, logger)
			if err != nil {
				return err
			}
			opts.InputDir = inputFlag

			plan, err := pipeline.PlanTasks(cmd.Context(), opts)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return err
			}
			if outFile == "" {
				fmt.Println(string(data))
				return nil
			}
			return os.WriteFile(outFile, data, 0644)
		},
	}

	cmd.Flags().StringVarP(&inputFlag, "input", "i", "", "competition input directory (required)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan to this file instead of stdout")

	return cmd
}

func execCmd() *cobra.Command {
	var stageName string
	var repairBudget int

	cmd := &cobra.Command{
		Use:   "exec [script]",
		Short: "Run an existing script through the execute and repair loop",
		Long: `Executes a script file without generating it first. Failures are sent to
	the oracle for repair until the script succeeds or the budget is spent.
	Repairs rewrite the file in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			source, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("repair-budget") {
				cfg.Execution.RepairBudget = &repairBudget
			}
			opts, err := runOptions(cfg, logger)
			if err != nil {
				return err
			}

			dir := filepath.Dir(path)
			scriptRunner, err := runner.New(cfg.Execution.Interpreter,
				runner.WithSearchPath(cfg.Execution.SearchPathVar, append([]string{dir}, cfg.Execution.SearchPaths...)...),
				runner.WithWorkdir(dir),
				runner.WithRoot(dir),
				runner.WithTimeout(cfg.Execution.Timeout()),
				runner.WithStdout(os.Stdout),
			)
			if err != nil {
				return err
			}
			oracle := pipeline.NewOracle(stageName, opts)
			exec, err := stage.New(stage.Config{
				Stage:        stageName,
				ScriptPath:   path,
				Generator:    generator.Static(string(source)),
				Runner:       scriptRunner,
				Fixer:        repair.NewFixer(oracle),
				RepairBudget: cfg.Execution.Budget(),
				Env:          os.Environ(),
				Logger:       logger.With("stage", stageName),
			})
			if err != nil {
				return err
			}

			outcome, err := exec.Run(cmd.Context(), generator.StageContext{Stage: stageName, InputDir: dir, OutputDir: dir})
			fmt.Fprintln(os.Stderr, renderOutcome(outcome, err))
			return err
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", "exec", "stage name used for logging and oracle routing")
	cmd.Flags().IntVar(&repairBudget, "repair-budget", config.DefaultRepairBudget, "repair attempts allowed")

	return cmd
}

func rerunCmd() *cobra.Command {
	var manifestFile string

	cmd := &cobra.Command{
		Use:   "rerun [run-dir] [stage]",
		Short: "Execute a stage script from an earlier run again, unchanged",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadPipeline(manifestFile)
			if err != nil {
				return err
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			opts := pipeline.RunOptions{
				Execution: cfg.Execution,
				Logger:    logger,
				Stdout:    os.Stdout,
			}
			outcome, err := pipeline.Rerun(cmd.Context(), args[0], p, args[1], opts)
			fmt.Fprintln(os.Stderr, renderOutcome(outcome, err))
			return err
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "file", "f", "", "pipeline manifest the run used (default: built-in pipeline)")

	return cmd
}

func validateCmd() *cobra.Command {
	var printDefault bool

	cmd := &cobra.Command{
		Use:   "validate [pipeline.yaml]",
		Short: "Validate a pipeline manifest",
		Long:  "Validates pipeline YAML without executing. Without an argument the built-in pipeline is checked.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if printDefault {
				_, err := os.Stdout.Write(pipeline.DefaultManifest())
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			p, err := loadPipeline(path)
			if err != nil {
				return err
			}
			fmt.Printf("Pipeline %q is valid (%d stages).\n", p.Name, len(p.Stages))
			return nil
		},
	}

	cmd.Flags().BoolVar(&printDefault, "print-default", false, "print the built-in pipeline manifest")

	return cmd
}

func modelsCmd() *cobra.Command {
	var resolveFlag bool
	var validateFlag bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available adapters, models, and aliases",
		Long: `Lists adapters and their available models.

	Use --resolve to show aliases and what they resolve to.
	Use --validate to check all models in oracle.yaml resolve to valid models.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if resolveFlag {
				return showAliases()
			}
			if validateFlag {
				return validateAliases(cfg)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODELS\tSTATUS")

			providers := aliases.ListProviders()
			if len(providers) == 0 {
				providers = []string{"anthropic", "deepseek", "google", "openai", "mock"}
			}
			for _, provider := range providers {
				models := strings.Join(aliases.GetProviderModels(provider), ", ")
				status := "no key"
				if cfg.HasAdapter(provider) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", provider, models, status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&resolveFlag, "resolve", false, "show aliases and what they resolve to")
	cmd.Flags().BoolVar(&validateFlag, "validate", false, "check all models in oracle.yaml resolve to valid models")

	return cmd
}

func showAliases() error {
	aliasMap := aliases.ListAliases()
	if len(aliasMap) == 0 {
		fmt.Println("No model aliases configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tMODEL\tPROVIDER")

	names := make([]string, 0, len(aliasMap))
	for name := range aliasMap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, alias := range names {
		model := aliasMap[alias]
		fmt.Fprintf(w, "%s\t%s\t%s\n", alias, model, aliases.GetProviderForModel(model))
	}
	return w.Flush()
}

func validateAliases(cfg *config.Config) error {
	problems := aliases.ValidateOracleConfig(cfg.Oracle)
	if len(problems) == 0 {
		fmt.Println("All models in oracle.yaml are valid.")
		return nil
	}

	fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(problems))
	for _, err := range problems {
		fmt.Fprintf(os.Stderr, "  - %s\n", err)
	}
	return fmt.Errorf("validation failed")
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if oracleFile != "" {
		cfg, err = config.LoadWithOracleFile(oracleFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	aliases, err = config.LoadAliasesWithFallback("configs/models.yaml")
	if err != nil {
		return nil, err
	}
	if len(aliases.Aliases) == 0 && len(aliases.Providers) == 0 {
		aliases = config.DefaultAliases()
	}

	if adapterFlag != "" {
		cfg.Oracle.Default.Adapter = adapterFlag
		cfg.Oracle.Stages = nil
	}
	if modelFlag != "" {
		cfg.Oracle.Default.Model = modelFlag
		cfg.Oracle.Stages = nil
	}
	return cfg, nil
}

// setup loads configuration and builds the logger. Flags win over the
// config file and environment.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	format := cfg.Logging.Format
	if logFormat != "" {
		format = logFormat
	}
	return cfg, logging.FromStrings(level, format, os.Stderr), nil
}

func runOptions(cfg *config.Config, logger *slog.Logger) (pipeline.RunOptions, error) {
	adapters, err := createAdapters(cfg)
	if err != nil {
		return pipeline.RunOptions{}, fmt.Errorf("failed to create adapters: %w", err)
	}
	target := cfg.Oracle.Default
	if _, ok := adapters[target.Adapter]; !ok {
		return pipeline.RunOptions{}, fmt.Errorf("adapter %s is not configured; set its API key or use --adapter mock", target.Adapter)
	}
	return pipeline.RunOptions{
		Adapters:  adapters,
		Oracle:    cfg.Oracle,
		Aliases:   aliases,
		Execution: cfg.Execution,
		Logger:    logger,
	}, nil
}

func createAdapters(cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	adapters["mock"] = adapter.NewMockAdapter()

	return adapters, nil
}

func loadPipeline(path string) (*pipeline.Pipeline, error) {
	if path == "" {
		return pipeline.Default(), nil
	}
	p, err := pipeline.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
