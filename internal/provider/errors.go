package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrNilProvider is returned when registering a nil provider.
	ErrNilProvider = errors.New("provider is nil")
	// ErrProviderNotFound marks resolution failures.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrInvalidConfig marks configuration rejected by a provider.
	ErrInvalidConfig = errors.New("invalid provider config")
	// ErrUnexpectedType is returned when a provider builds a value of the wrong type.
	ErrUnexpectedType = errors.New("unexpected provider instance type")
)

// ResolutionError reports that no provider matched a (category, name) request.
type ResolutionError struct {
	Category string
	Name     string
}

func (e *ResolutionError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("no provider registered for category %s", e.Category)
	}
	return fmt.Sprintf("no provider registered for %s/%s", e.Category, e.Name)
}

// Unwrap lets callers match ErrProviderNotFound.
func (e *ResolutionError) Unwrap() error {
	return ErrProviderNotFound
}

// ValidationError wraps a config rejection with the provider it came from.
type ValidationError struct {
	Category string
	Name     string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config for %s/%s: %v", e.Category, e.Name, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.Err}
}
