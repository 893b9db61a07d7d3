package core

import (
	"errors"
	"fmt"
)

// ConnectionError means the mail source could not be reached or logged into.
// It is fatal for the run.
type ConnectionError struct {
	Source Source
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection failed: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError means the source rejected the supplied credentials
type AuthError struct {
	Source Source
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError means a single message could not be retrieved
type FetchError struct {
	Handle string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch message %s: %v", e.Handle, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError means a fetched message could not be normalized
type ParseError struct {
	Handle string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse message %s: %v", e.Handle, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ModelUnavailableError means the classifier could not be loaded
type ModelUnavailableError struct {
	Path string
	Err  error
}

func (e *ModelUnavailableError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("classifier model unavailable: %v", e.Err)
	}
	return fmt.Sprintf("classifier model unavailable (%s): %v", e.Path, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// PersistenceError means a message or watermark could not be written
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsAuthError reports whether err carries an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsConnectionError reports whether err carries a ConnectionError
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// IsModelUnavailable reports whether err carries a ModelUnavailableError
func IsModelUnavailable(err error) bool {
	var modelErr *ModelUnavailableError
	return errors.As(err, &modelErr)
}
