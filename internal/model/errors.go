package model

import (
	"fmt"
	"strings"
)

// IntentResolutionError reports that the language model could not be reached
// or produced unusable output. The interpreter recovers from it locally.
type IntentResolutionError struct {
	Reason string
	Err    error
}

func (e *IntentResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("intent resolution: %s: %v", e.Reason, e.Err)
	}
	return "intent resolution: " + e.Reason
}

func (e *IntentResolutionError) Unwrap() error { return e.Err }

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every parameter problem found for an action.
type ValidationError struct {
	Action ActionKind   `json:"action"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("invalid %s parameters: %s", e.Action, strings.Join(parts, "; "))
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// TransformationError is the single failure type raised by the engine.
type TransformationError struct {
	Action  ActionKind
	Message string
	Err     error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Action, e.Message)
}

func (e *TransformationError) Unwrap() error { return e.Err }

const UnsupportedMessage = "Operation not supported yet"

type UnsupportedActionError struct {
	Action ActionKind
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("%s: %s", UnsupportedMessage, e.Action)
}

// InvalidTransition reports a status-tracker call that would move an
// operation backwards or out of a terminal state.
type InvalidTransition struct {
	OperationID string
	From        OperationStatus
	To          OperationStatus
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("operation %s: invalid transition %s -> %s", e.OperationID, e.From, e.To)
}
