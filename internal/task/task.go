package task

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Task is a single to-do item.
type Task struct {
	ID          string  `json:"id"`
	Revision    string  `json:"rev,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Completed   bool    `json:"completed"`
	DueDate     *string `json:"dueDate,omitempty"`
	UpdatedAt   int64   `json:"updatedAt"`
	Order       int     `json:"order"`
	Deleted     bool    `json:"deleted"`
}

// Cursor records how far the remote change feed has been consumed.
type Cursor struct {
	LastSeq      string `json:"lastSeq"`
	LastSyncedAt int64  `json:"lastSyncedAt"`
}

// Direction is a relative reorder direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection accepts "up" or "down" (case-insensitive).
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	default:
		return "", fmt.Errorf("invalid direction %q: must be up or down", s)
	}
}

// NormalizeText trims surrounding whitespace and converts s to Unicode NFC so
// that visually identical titles typed on different platforms compare equal.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// StringPtr returns nil for the empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
