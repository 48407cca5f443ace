package utils

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL      = errors.New("invalid URL")
	ErrTaskNotFound    = errors.New("task not found")
	ErrInvalidSettings = errors.New("invalid settings")
	ErrClosed          = errors.New("scheduler is closed")
)

// ConnectionError covers DNS, connect, timeout and mid-stream network faults.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned an error: %d", e.Status)
}

type AuthorizationError struct {
	Status int
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization failed (%d), the link may be protected or expired", e.Status)
}

type SizeMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("file size mismatch: expected %d bytes, got %d", e.Expected, e.Actual)
}

// IOError wraps local disk failures.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("state %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status carried by a server or authorization
// error, or 0 when err carries none.
func StatusCode(err error) int {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status
	}
	var ae *AuthorizationError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}
