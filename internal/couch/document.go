package couch

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/roach88/taskly/internal/task"
)

// Document is the remote representation of a task.
type Document struct {
	ID          string  `json:"_id"`
	Rev         string  `json:"_rev,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Completed   bool    `json:"completed"`
	DueDate     *string `json:"dueDate,omitempty"`
	UpdatedAt   int64   `json:"updatedAt"`
	Order       int     `json:"order"`
	Deleted     bool    `json:"_deleted,omitempty"`
}

// FromTask builds the document written for t. rev is the remote version token
// last read for the document, empty when the document does not exist yet.
func FromTask(t task.Task, rev string) Document {
	return Document{
		ID:          t.ID,
		Rev:         rev,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		DueDate:     t.DueDate,
		UpdatedAt:   t.UpdatedAt,
		Order:       t.Order,
		Deleted:     t.Deleted,
	}
}

// Task maps a document to a local task. The remote _rev becomes the task
// revision unchanged.
func (d Document) Task() task.Task {
	return task.Task{
		ID:          d.ID,
		Revision:    d.Rev,
		Title:       d.Title,
		Description: d.Description,
		Completed:   d.Completed,
		DueDate:     d.DueDate,
		UpdatedAt:   d.UpdatedAt,
		Order:       d.Order,
		Deleted:     d.Deleted,
	}
}

// IsSystemID reports whether id names a design or local document, which never
// map to tasks.
func IsSystemID(id string) bool {
	return strings.HasPrefix(id, "_")
}

// ChangesResponse is the body of GET /{db}/_changes.
type ChangesResponse struct {
	Results []Change `json:"results"`
	LastSeq Seq      `json:"last_seq"`
}

// Change is one entry of the change feed.
type Change struct {
	ID      string      `json:"id"`
	Seq     Seq         `json:"seq"`
	Changes []ChangeRev `json:"changes"`
	Doc     *Document   `json:"doc,omitempty"`
	Deleted bool        `json:"deleted,omitempty"`
}

// ChangeRev names a leaf revision in a change entry.
type ChangeRev struct {
	Rev string `json:"rev"`
}

// Task maps the entry's document to a task. A tombstone marker on either the
// entry or the document sets Deleted. ok is false when the entry carries no
// document or names a system document.
func (c Change) Task() (t task.Task, ok bool) {
	if c.Doc == nil || IsSystemID(c.Doc.ID) || IsSystemID(c.ID) {
		return task.Task{}, false
	}
	t = c.Doc.Task()
	t.Deleted = t.Deleted || c.Deleted
	return t, true
}

// Seq is an opaque change-feed position. CouchDB 1.x reports integers and
// 2.x+ reports strings; both are kept as their literal text.
type Seq string

// UnmarshalJSON accepts a JSON string or number.
func (s *Seq) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Seq(str)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*s = Seq(num.String())
	return nil
}

// String returns the token text.
func (s Seq) String() string {
	return string(s)
}
