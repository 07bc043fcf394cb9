package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Result is the outcome of one script execution. Diagnostic holds the
// child's stderr and is never empty when Success is false.
type Result struct {
	Success    bool          `json:"success"`
	ExitCode   int           `json:"exit_code"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Duration   time.Duration `json:"duration"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

// LaunchError reports that the interpreter could not be started at all.
// No script-level diagnostic exists for it.
type LaunchError struct {
	Interpreter string
	Script      string
	Err         error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s %s: %v", e.Interpreter, e.Script, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Runner executes script files as `<interpreter> [args...] <script>`.
type Runner struct {
	Interpreter   string
	Args          []string
	SearchPathVar string
	SearchPaths   []string
	Timeout       time.Duration
	Workdir       string
	Root          string
	Stdout        io.Writer
}

// Option configures a Runner.
type Option func(*Runner)

// WithArgs sets interpreter arguments placed before the script path.
func WithArgs(args ...string) Option {
	return func(r *Runner) {
		r.Args = append([]string{}, args...)
	}
}

// WithSearchPath exposes extra module search paths to scripts through envVar.
func WithSearchPath(envVar string, paths ...string) Option {
	return func(r *Runner) {
		r.SearchPathVar = envVar
		r.SearchPaths = append(r.SearchPaths, paths...)
	}
}

// WithTimeout kills scripts that run longer than d. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.Timeout = d
	}
}

// WithWorkdir sets the child's working directory.
func WithWorkdir(dir string) Option {
	return func(r *Runner) {
		r.Workdir = dir
	}
}

// WithRoot refuses to execute scripts outside root.
func WithRoot(root string) Option {
	return func(r *Runner) {
		r.Root = root
	}
}

// WithStdout forwards the child's stdout. By default it is discarded.
func WithStdout(w io.Writer) Option {
	return func(r *Runner) {
		r.Stdout = w
	}
}

// New creates a runner for the given interpreter.
func New(interpreter string, opts ...Option) (*Runner, error) {
	if interpreter == "" {
		return nil, fmt.Errorf("runner requires an interpreter")
	}
	r := &Runner{Interpreter: interpreter}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Execute runs the script and waits for it to exit. A non-zero exit or a
// timeout is reported through Result; only launch problems return an error.
// env is the base environment; nil means the current process environment.
func (r *Runner) Execute(ctx context.Context, scriptPath string, env []string) (*Result, error) {
	if r.Root != "" {
		if ok, reason := confinedUnderRoot(r.Root, scriptPath); !ok {
			return nil, &LaunchError{Interpreter: r.Interpreter, Script: scriptPath, Err: fmt.Errorf("%w: %s", ErrOutsideRoot, reason)}
		}
	}

	runCtx := ctx
	cancel := func() {}
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
	}
	defer cancel()

	args := append(append([]string{}, r.Args...), scriptPath)
	cmd := exec.CommandContext(runCtx, r.Interpreter, args...)
	cmd.WaitDelay = time.Second
	if r.Workdir != "" {
		cmd.Dir = r.Workdir
	}
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = r.Environ(env)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if r.Stdout != nil {
		cmd.Stdout = r.Stdout
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Interpreter: r.Interpreter, Script: scriptPath, Err: err}
	}
	err := cmd.Wait()
	duration := time.Since(start)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &Result{
		Success:    err == nil,
		Diagnostic: stderr.String(),
		Duration:   duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Success = false
		result.TimedOut = true
		result.ExitCode = -1
		result.Diagnostic = appendLine(result.Diagnostic, fmt.Sprintf("script timed out after %s and was terminated", r.Timeout))
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &LaunchError{Interpreter: r.Interpreter, Script: scriptPath, Err: err}
		}
		result.ExitCode = exitErr.ExitCode()
		if result.Diagnostic == "" {
			result.Diagnostic = fmt.Sprintf("script exited with status %d and wrote nothing to stderr", result.ExitCode)
		}
	}

	return result, nil
}

// Environ returns base with the search path variable prepended with the
// runner's search paths. Later duplicates of a key override earlier ones.
func (r *Runner) Environ(base []string) []string {
	if r.SearchPathVar == "" || len(r.SearchPaths) == 0 {
		return append([]string{}, base...)
	}
	existing := lookupEnv(base, r.SearchPathVar)
	value := joinPathList(r.SearchPaths, existing)
	return MergeEnv(base, []string{r.SearchPathVar + "=" + value})
}

func appendLine(text, line string) string {
	if text == "" {
		return line
	}
	if text[len(text)-1] != '\n' {
		text += "\n"
	}
	return text + line
}
