package stage

import (
	"errors"
	"fmt"
)

// FailureKind tags why a stage ended in the Fatal state. Kinds are
// comparable error values, so errors.Is(err, stage.RepairExhausted) works
// on any error returned by Executor.
type FailureKind string

const (
	// GenerationFailure: the generator could not produce an initial script.
	GenerationFailure FailureKind = "generation_failure"
	// ExecutionFailure: the script exited non-zero and no repair was attempted.
	ExecutionFailure FailureKind = "execution_failure"
	// LaunchFailure: the interpreter could not be started.
	LaunchFailure FailureKind = "launch_failure"
	// RepairExhausted: the repair budget reached zero with the script still failing.
	RepairExhausted FailureKind = "repair_exhausted"
	// RepairRefused: the fixer returned no usable script.
	RepairRefused FailureKind = "repair_refused"
	// OracleUnavailable: the repair oracle could not be reached.
	OracleUnavailable FailureKind = "oracle_unavailable"
)

func (k FailureKind) Error() string {
	return string(k)
}

func (k FailureKind) describe() string {
	switch k {
	case GenerationFailure:
		return "script generation failed"
	case ExecutionFailure:
		return "script execution failed"
	case LaunchFailure:
		return "interpreter could not be launched"
	case RepairExhausted:
		return "repair budget exhausted"
	case RepairRefused:
		return "repair oracle returned no fix"
	case OracleUnavailable:
		return "repair oracle unavailable"
	default:
		return string(k)
	}
}

// Error is the single tagged failure a stage surfaces to its caller.
type Error struct {
	Stage      string
	Kind       FailureKind
	Diagnostic string
	Executions int
	Repairs    int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("stage %s: %s", e.Stage, e.Kind.describe())
	if e.Kind == RepairExhausted {
		msg += fmt.Sprintf(" after %d repairs", e.Repairs)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += "\nlast diagnostic:\n" + e.Diagnostic
	}
	return msg
}

// Unwrap exposes both the kind and the originating cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (FailureKind, bool) {
	var stageErr *Error
	if errors.As(err, &stageErr) {
		return stageErr.Kind, true
	}
	return "", false
}
