package backend

import (
	"errors"
	"fmt"
)

const (
	// GenericFailure is shown when the service fails without a message.
	GenericFailure = "Processing failed. Please check the files and try again."
	// ConnectivityFailure is shown when the service cannot be reached.
	ConnectivityFailure = "Could not connect to the processing service. Please check that it is running."
)

// ValidationError is raised before any network call when input is incomplete.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// APIError is a response from the service reporting failure.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("processing service returned %d: %s", e.Status, e.Message)
}

// TransportError wraps network failures and unreadable responses.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Validation builds a ValidationError.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// UserMessage renders err as text fit for the status area of a screen.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	var aerr *APIError
	if errors.As(err, &aerr) {
		if aerr.Message == "" {
			return GenericFailure
		}
		return aerr.Message
	}
	var terr *TransportError
	if errors.As(err, &terr) {
		return ConnectivityFailure
	}
	return GenericFailure
}
