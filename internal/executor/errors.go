package executor

import (
	"errors"
	"fmt"

	"github.com/biodoia/operatoros/internal/agents"
	"github.com/biodoia/operatoros/internal/providers"
)

var (
	// ErrStepExecution il budget di tentativi di uno step è esaurito
	ErrStepExecution = errors.New("step execution failed")

	ErrResponseTooShort = errors.New("response too short")
	ErrEmptyResponse    = providers.ErrEmptyResponse
	ErrHandoffMissing   = errors.New("hand-off marker missing")
)

// BackendError fallimento transitorio di un singolo tentativo
type BackendError struct {
	Backend string
	Cause   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Cause)
}

func (e *BackendError) Unwrap() error { return e.Cause }

// ResponseValidationError risposta ricevuta ma non accettabile
type ResponseValidationError struct {
	Backend string
	Reason  error
	Length  int
}

func (e *ResponseValidationError) Error() string {
	return fmt.Sprintf("invalid response from %s (%d chars): %v", e.Backend, e.Length, e.Reason)
}

func (e *ResponseValidationError) Unwrap() error { return e.Reason }

// StepExecutionError errore fatale per la conversazione
type StepExecutionError struct {
	Role        agents.Role
	Attempts    int
	LastBackend string
	Cause       error
}

func (e *StepExecutionError) Error() string {
	last := e.LastBackend
	if last == "" {
		last = "none"
	}
	return fmt.Sprintf("step execution failed for agent %s after %d attempts (last backend: %s): %v",
		e.Role, e.Attempts, last, e.Cause)
}

func (e *StepExecutionError) Unwrap() error { return e.Cause }

// Is rende StepExecutionError confrontabile con ErrStepExecution
func (e *StepExecutionError) Is(target error) bool {
	return target == ErrStepExecution
}

// IsFatal indica un errore che deve portare la conversazione in Failed
func IsFatal(err error) bool {
	return errors.Is(err, ErrStepExecution)
}
