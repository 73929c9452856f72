package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/taskly/internal/task"
	"github.com/roach88/taskly/internal/testutil"
)

// createTestStore creates a store in a temp dir with a manual clock starting
// at 1000ms and deterministic ids (task-1, task-2, ...) and revision
// suffixes (rev-1, rev-2, ...).
func createTestStore(t *testing.T, opts ...Option) (*Store, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(1_000)
	base := []Option{
		WithClock(clock.Now),
		WithIDGenerator(testutil.Sequence("task")),
		WithRevisionSuffix(testutil.Sequence("rev")),
	}
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), append(base, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// taskIDs returns the ids of tasks in order.
func taskIDs(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
