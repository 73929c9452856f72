package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/taskly/internal/engine"
	"github.com/roach88/taskly/internal/task"
)

// taskView renders one task. JSON output uses the task's own field tags.
type taskView task.Task

func (v taskView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", checkbox(v.Completed), v.Title)
	fmt.Fprintf(&b, "  id:       %s\n", v.ID)
	fmt.Fprintf(&b, "  rev:      %s\n", v.Revision)
	fmt.Fprintf(&b, "  order:    %d\n", v.Order)
	if v.Description != nil {
		fmt.Fprintf(&b, "  notes:    %s\n", *v.Description)
	}
	if v.DueDate != nil {
		fmt.Fprintf(&b, "  due:      %s\n", *v.DueDate)
	}
	fmt.Fprintf(&b, "  updated:  %s", formatMillis(v.UpdatedAt))
	if v.Deleted {
		b.WriteString("\n  deleted:  true")
	}
	return b.String()
}

// taskListView renders tasks one per line.
type taskListView []task.Task

func (v taskListView) String() string {
	if len(v) == 0 {
		return "No tasks."
	}
	lines := make([]string, len(v))
	for i, t := range v {
		line := fmt.Sprintf("%s %-36s  %s", checkbox(t.Completed), t.ID, t.Title)
		if t.DueDate != nil {
			line += "  (due " + *t.DueDate + ")"
		}
		if t.Deleted {
			line += "  [deleted]"
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// stateView renders the replication state.
type stateView engine.State

func (v stateView) String() string {
	s := fmt.Sprintf("sync: %s (mode %s)", v.Status, v.SyncMode)
	if v.LastSynced != nil {
		s += ", last synced " + formatMillis(*v.LastSynced)
	}
	if v.Error != "" {
		s += "\n  error: " + v.Error
	}
	return s
}

// statusView is the output of `taskly status`.
type statusView struct {
	Mode         string `json:"mode"`
	Server       string `json:"server,omitempty"`
	Database     string `json:"database"`
	Active       int    `json:"active"`
	Completed    int    `json:"completed"`
	Deleted      int    `json:"deleted"`
	LastSeq      string `json:"lastSeq,omitempty"`
	LastSyncedAt *int64 `json:"lastSyncedAt,omitempty"`
}

func (v statusView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mode:        %s\n", v.Mode)
	if v.Server != "" {
		fmt.Fprintf(&b, "server:      %s\n", v.Server)
	}
	fmt.Fprintf(&b, "database:    %s\n", v.Database)
	fmt.Fprintf(&b, "tasks:       %d active, %d completed, %d deleted\n", v.Active, v.Completed, v.Deleted)
	if v.LastSyncedAt == nil {
		b.WriteString("last sync:   never")
	} else {
		fmt.Fprintf(&b, "last sync:   %s (seq %s)", formatMillis(*v.LastSyncedAt), v.LastSeq)
	}
	return b.String()
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
