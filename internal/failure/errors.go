// Package failure defines the typed errors raised across the newsletter
// pipeline. Record and tool level faults are absorbed by their callers;
// stage level faults abort a run wrapped in a StageError.
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNetwork    = errors.New("network failure")
	ErrParsing    = errors.New("parsing failed")
	ErrTool       = errors.New("tool invocation failed")
	ErrModel      = errors.New("model call failed")
	ErrAuth       = errors.New("authentication failed")
	ErrTurnLimit  = errors.New("planning turn limit exceeded")
	ErrCancelled  = errors.New("run cancelled")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Message)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError creates a ValidationError for a named field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NetworkError reports a failed fetch or transport operation. Status is the
// HTTP status for non-2xx responses and zero for transport failures.
type NetworkError struct {
	URL    string
	Status int
	Cause  error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status > 0:
		return fmt.Sprintf("network: %s returned status %d", e.URL, e.Status)
	case e.Cause != nil && e.URL != "":
		return fmt.Sprintf("network: %s: %v", e.URL, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("network: %v", e.Cause)
	default:
		return "network: unknown failure"
	}
}

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
func (e *NetworkError) Unwrap() error        { return e.Cause }

// ParsingError reports an unreadable article container.
type ParsingError struct {
	Index int
	Cause error
}

func (e *ParsingError) Error() string {
	return fmt.Sprintf("parsing: container %d: %v", e.Index, e.Cause)
}

func (e *ParsingError) Is(target error) bool { return target == ErrParsing }
func (e *ParsingError) Unwrap() error        { return e.Cause }

// ToolError reports a failed tool invocation.
type ToolError struct {
	Tool  string
	Cause error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Cause)
}

func (e *ToolError) Is(target error) bool { return target == ErrTool }
func (e *ToolError) Unwrap() error        { return e.Cause }

// ModelError reports a failed planner call.
type ModelError struct {
	Status int
	Quota  bool
	Cause  error
}

func (e *ModelError) Error() string {
	switch {
	case e.Quota:
		return fmt.Sprintf("model: quota exhausted (status %d)", e.Status)
	case e.Status > 0 && e.Cause != nil:
		return fmt.Sprintf("model: status %d: %v", e.Status, e.Cause)
	case e.Status > 0:
		return fmt.Sprintf("model: status %d", e.Status)
	default:
		return fmt.Sprintf("model: %v", e.Cause)
	}
}

func (e *ModelError) Is(target error) bool { return target == ErrModel }
func (e *ModelError) Unwrap() error        { return e.Cause }

// AuthError reports rejected delivery credentials.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause == nil {
		return "auth: credentials rejected"
	}
	return fmt.Sprintf("auth: credentials rejected: %v", e.Cause)
}

func (e *AuthError) Is(target error) bool { return target == ErrAuth }
func (e *AuthError) Unwrap() error        { return e.Cause }

// TurnLimitExceeded is a warning: the orchestrator stopped planning after Max
// turns and fell back to the best content it had.
type TurnLimitExceeded struct {
	Max int
}

func (e *TurnLimitExceeded) Error() string {
	return fmt.Sprintf("planning stopped after %d turns", e.Max)
}

func (e *TurnLimitExceeded) Is(target error) bool { return target == ErrTurnLimit }

// CancelledError reports a run aborted at a state transition boundary.
type CancelledError struct {
	State string
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled in state %s: %v", e.State, e.Cause)
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }
func (e *CancelledError) Unwrap() error        { return e.Cause }

// Cancelled wraps a context error observed in state.
func Cancelled(state string, ctx context.Context) *CancelledError {
	return &CancelledError{State: state, Cause: ctx.Err()}
}

// StageError tags a fatal error with the pipeline stage that raised it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AtStage wraps err with a stage name. A nil err stays nil.
func AtStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) && se.Stage == stage {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
