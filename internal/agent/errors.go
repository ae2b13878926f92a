// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a failed action so the predictor can react to it.
type ErrorCode string

const (
	ErrCodeArgument         ErrorCode = "INVALID_ARGUMENTS"
	ErrCodeElementNotFound  ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeNavigation       ErrorCode = "NAVIGATION_ERROR"
	ErrCodeTimeout          ErrorCode = "TIMEOUT_ERROR"
	ErrCodePrediction       ErrorCode = "PREDICTION_FAILED"
	ErrCodeRepeatedFailure  ErrorCode = "REPEATED_FAILURE"
	ErrCodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
	ErrCodeExecutorPanic    ErrorCode = "EXECUTOR_PANIC"
)

var (
	// ErrTerminated ends a run stopped by the operator or the owning process.
	ErrTerminated       = errors.New("run terminated")
	ErrNotSuspended     = errors.New("run is not awaiting an operator")
	ErrAwaitingHuman    = errors.New("run is awaiting an operator; call Resume")
	ErrRunFinished      = errors.New("run already finished")
	ErrNoHumanChannel   = errors.New("run suspended but no human channel is configured")
	ErrCheckpointMiss   = errors.New("checkpoint not found")
	ErrMissingPredictor = errors.New("live mode requires a predictor")
)

// ArgumentError is a tool call with the wrong number or shape of arguments.
type ArgumentError struct {
	Action ActionKind
	Want   int
	Got    []string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("invalid arguments for %s: expected %d argument(s), got %q", e.Action, e.Want, e.Got)
}

// ElementNotFoundError is a bbox id absent from the current annotation.
type ElementNotFoundError struct {
	ID string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("no bounding box found with id %s", e.ID)
}

// NavigationError wraps a failed or timed out page load.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("navigation failed: %v", e.Err)
	}
	return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// PredictionError is a failed model call or an out of vocabulary reply.
type PredictionError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *PredictionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("prediction failed: %s: %v", e.Reason, e.Err)
	}
	return "prediction failed: " + e.Reason
}

func (e *PredictionError) Unwrap() error { return e.Err }

// AbortedError is the final result of a run that ended without ANSWER.
type AbortedError struct {
	Reason           string
	Code             ErrorCode
	LastObservation  *Observation
	RepeatedFailures int
}

func (e *AbortedError) Error() string {
	msg := "run aborted: " + e.Reason
	if e.LastObservation != nil {
		msg += " (last observation: " + e.LastObservation.Format() + ")"
	}
	return msg
}

// CodeOf maps an error to its ErrorCode, falling back to ParseBrowserError
// for untyped driver errors.
func CodeOf(err error) ErrorCode {
	var (
		argErr  *ArgumentError
		nfErr   *ElementNotFoundError
		navErr  *NavigationError
		predErr *PredictionError
	)
	switch {
	case errors.As(err, &argErr):
		return ErrCodeArgument
	case errors.As(err, &nfErr):
		return ErrCodeElementNotFound
	case errors.As(err, &predErr):
		return ErrCodePrediction
	case errors.As(err, &navErr):
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrCodeTimeout
		}
		return ErrCodeNavigation
	}
	return ParseBrowserError(err)
}

// ParseBrowserError classifies a raw driver error by its message.
func ParseBrowserError(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "selector"), strings.Contains(msg, "no element found"), strings.Contains(msg, "could not find node"):
		return ErrCodeElementNotFound
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ErrCodeTimeout
	case strings.Contains(msg, "net::err"), strings.Contains(msg, "invalid navigation"):
		return ErrCodeNavigation
	}
	return ErrCodeExecutionFailure
}
