package deployerr

import (
	"errors"
	"fmt"
	"strings"
)

// DeploymentError is a failure the operator can act on.
// Message is a one-line summary; Details carries the recovery steps.
type DeploymentError struct {
	Message string
	Details string
	Err     error
}

// New creates a DeploymentError with optional recovery details
func New(message, details string) *DeploymentError {
	return &DeploymentError{Message: message, Details: details}
}

// Wrap creates a DeploymentError that keeps err in its chain
func Wrap(err error, message, details string) *DeploymentError {
	return &DeploymentError{Message: message, Details: details, Err: err}
}

func (e *DeploymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// As returns the DeploymentError in err's chain, if any
func As(err error) (*DeploymentError, bool) {
	var de *DeploymentError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Format renders the error and its recovery details for terminal output
func Format(err error) string {
	de, ok := As(err)
	if !ok || strings.TrimSpace(de.Details) == "" {
		return err.Error()
	}

	var b strings.Builder
	b.WriteString(err.Error())
	b.WriteString("\n\n")
	for _, line := range strings.Split(strings.TrimRight(de.Details, "\n"), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
