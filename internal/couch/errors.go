package couch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrConflict is matched by errors.Is for 409 responses to a document write.
var ErrConflict = errors.New("document update conflict")

// StatusError is a non-success HTTP response from the remote store.
type StatusError struct {
	// Op names the protocol operation ("ensure db", "get", "put", "changes").
	Op string

	// Code is the HTTP status code.
	Code int

	// ErrorName and Reason are the CouchDB "error" and "reason" fields, when
	// the body carried them.
	ErrorName string
	Reason    string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.Code, http.StatusText(e.Code), e.Reason)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.Code, http.StatusText(e.Code))
}

// Is reports 409 responses as ErrConflict.
func (e *StatusError) Is(target error) bool {
	return target == ErrConflict && e.Code == http.StatusConflict
}

// IsConflict returns true if err is a version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// StatusCode extracts the HTTP status from err, or 0 when err is not a
// StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
