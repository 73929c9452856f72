package engine

import (
	"errors"
	"fmt"
)

// SyncError represents a replication failure.
//
// Sync errors fall into four categories:
//   - Config: missing or invalid sync settings; Start is aborted
//   - Connection: the remote database could not be reached or created
//   - Cycle: a push or pull failed inside a running session
//   - LocalStore: the local store failed while serving replication
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeConfig indicates missing or invalid sync configuration.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// ErrCodeConnection indicates the remote database is unreachable.
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"

	// ErrCodeCycle indicates a push or pull failure during a cycle.
	ErrCodeCycle ErrorCode = "CYCLE_ERROR"

	// ErrCodeLocalStore indicates a local store failure.
	ErrCodeLocalStore ErrorCode = "LOCAL_STORE_ERROR"
)

// ErrSessionRunning is returned by RunOnce while a background session is
// active.
var ErrSessionRunning = errors.New("sync session already running")

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsConfigError returns true if err carries a config error anywhere in its
// chain.
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeConfig)
}

// IsConnectionError returns true if err carries a connection error.
func IsConnectionError(err error) bool {
	return hasCode(err, ErrCodeConnection)
}

// IsCycleError returns true if err carries a cycle error.
func IsCycleError(err error) bool {
	return hasCode(err, ErrCodeCycle)
}

// IsLocalStoreError returns true if err carries a local store error.
func IsLocalStoreError(err error) bool {
	return hasCode(err, ErrCodeLocalStore)
}

func hasCode(err error, code ErrorCode) bool {
	for err != nil {
		var se *SyncError
		if !errors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Err
	}
	return false
}

func newConfigError(message string) *SyncError {
	return &SyncError{Code: ErrCodeConfig, Message: message}
}

func newConnectionError(err error) *SyncError {
	return &SyncError{Code: ErrCodeConnection, Message: "remote database unavailable", Err: err}
}

func newCycleError(phase string, err error) *SyncError {
	return &SyncError{Code: ErrCodeCycle, Message: phase + " failed", Err: err}
}

func newLocalStoreError(op string, err error) *SyncError {
	return &SyncError{Code: ErrCodeLocalStore, Message: op, Err: err}
}
