package internal

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or missing input. Its message is safe to
// return to clients verbatim.
type ValidationError struct {
	Msg string
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// UnsupportedPairError means the source-target pair has no model in the registry.
type UnsupportedPairError struct {
	Source string
	Target string
}

func (e *UnsupportedPairError) Error() string {
	return fmt.Sprintf("Translation from %s to %s is not supported.", e.Source, e.Target)
}

// ModelLoadError wraps a failure to fetch or load a model and its tokenizer.
type ModelLoadError struct {
	ModelID string
	Err     error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.ModelID, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// InferenceError wraps a failure while tokenizing, generating or decoding.
type InferenceError struct {
	ModelID string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for model %s: %v", e.ModelID, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err belongs to the client-facing error class.
func IsValidation(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	var ue *UnsupportedPairError
	return errors.As(err, &ue)
}
