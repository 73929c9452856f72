package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/taskly/internal/task"
)

func TestCreate_AssignsOrderAndRevision(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, "first", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "task-1", first.ID)
	assert.Equal(t, "1-rev-1", first.Revision)
	assert.Equal(t, 1, first.Order)
	assert.Equal(t, int64(1_000), first.UpdatedAt)
	assert.False(t, first.Completed)
	assert.False(t, first.Deleted)

	second, err := s.Create(ctx, "second", task.StringPtr("notes"), task.StringPtr("2026-12-24"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Order)

	got, err := s.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestCreate_OrderIgnoresTombstones(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "a", nil, nil)
	require.NoError(t, err)
	b, err := s.Create(ctx, "b", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.SoftDelete(ctx, b.ID))

	c, err := s.Create(ctx, "c", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Order+1, c.Order)
}

func TestList_ActiveOnlyInOrder(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	empty, err := s.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, title := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, title, nil, nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.SoftDelete(ctx, "task-2"))

	active, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-3"}, taskIDs(active))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-2", "task-3"}, taskIDs(all))
}

func TestGet_NotFound(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_BumpsRevisionAndStamp(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "draft", nil, nil)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	edit := created
	edit.Title = "final"
	edit.Description = task.StringPtr("done properly")
	edit.Revision = "99-ignored"

	updated, err := s.Update(ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, 2, task.RevisionCounter(updated.Revision))
	assert.Equal(t, int64(6_000), updated.UpdatedAt)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	require.NotNil(t, got.Description)
	assert.Equal(t, "done properly", *got.Description)
	assert.Equal(t, updated.Revision, got.Revision)
}

func TestUpdate_StampNeverGoesBackwards(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "t", nil, nil)
	require.NoError(t, err)

	clock.Set(10)
	updated, err := s.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, created.UpdatedAt+1, updated.UpdatedAt)

	again, err := s.Update(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, updated.UpdatedAt+1, again.UpdatedAt)
	assert.Equal(t, 3, task.RevisionCounter(again.Revision))
}

func TestUpdate_NotFound(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Update(context.Background(), task.Task{ID: "ghost", Title: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSoftDelete_KeepsTombstone(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "bye", nil, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	require.NoError(t, s.SoftDelete(ctx, created.ID))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.Equal(t, 2, task.RevisionCounter(got.Revision))

	changes, err := s.ChangesSince(ctx, created.UpdatedAt)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Deleted)

	assert.ErrorIs(t, s.SoftDelete(ctx, "ghost"), ErrNotFound)
}

func TestChangesSince_OrderedByStamp(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "a", nil, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.Create(ctx, "b", nil, nil)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = s.ToggleCompletion(ctx, a.ID)
	require.NoError(t, err)

	changes, err := s.ChangesSince(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-2", "task-1"}, taskIDs(changes))

	none, err := s.ChangesSince(ctx, 3_000)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestToggleCompletion_Concurrent(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "flip", nil, nil)
	require.NoError(t, err)

	const toggles = 20
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ToggleCompletion(ctx, created.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed, "an even number of toggles restores the flag")
	assert.Equal(t, toggles+1, task.RevisionCounter(got.Revision))
}

func TestReorderRelative(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, title, nil, nil)
		require.NoError(t, err)
	}

	require.NoError(t, s.ReorderRelative(ctx, "task-3", task.Up))
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-3", "task-2"}, taskIDs(list))

	require.NoError(t, s.ReorderRelative(ctx, "task-1", task.Down))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-3", "task-1", "task-2"}, taskIDs(list))

	moved, err := s.Get(ctx, "task-3")
	require.NoError(t, err)
	assert.Equal(t, 3, task.RevisionCounter(moved.Revision), "each swap is a local mutation")
}

func TestReorderRelative_EdgesAreNoOps(t *testing.T) {
	calls := 0
	s, _ := createTestStore(t, WithChangeHook(func() { calls++ }))
	ctx := context.Background()

	for _, title := range []string{"a", "b"} {
		_, err := s.Create(ctx, title, nil, nil)
		require.NoError(t, err)
	}
	before, err := s.All(ctx)
	require.NoError(t, err)
	calls = 0

	require.NoError(t, s.ReorderRelative(ctx, "task-1", task.Up))
	require.NoError(t, s.ReorderRelative(ctx, "task-2", task.Down))

	after, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Zero(t, calls)

	assert.ErrorIs(t, s.ReorderRelative(ctx, "ghost", task.Up), ErrNotFound)
	assert.Error(t, s.ReorderRelative(ctx, "task-1", task.Direction("sideways")))
}

func TestReorderToPosition_SwapIsSelfInverse(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c", "d"} {
		_, err := s.Create(ctx, title, nil, nil)
		require.NoError(t, err)
	}

	require.NoError(t, s.ReorderToPosition(ctx, "task-1", "task-3"))
	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-3", "task-2", "task-1", "task-4"}, taskIDs(list))

	require.NoError(t, s.ReorderToPosition(ctx, "task-1", "task-3"))
	list, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-1", "task-2", "task-3", "task-4"}, taskIDs(list))

	require.NoError(t, s.ReorderToPosition(ctx, "task-2", "task-2"))
	assert.ErrorIs(t, s.ReorderToPosition(ctx, "task-2", "ghost"), ErrNotFound)
}

func TestUpsertFromRemote_LastWriteWins(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	remote := task.Task{ID: "r1", Revision: "3-abc", Title: "v1", UpdatedAt: 100, Order: 1}
	applied, err := s.UpsertFromRemote(ctx, remote)
	require.NoError(t, err)
	assert.True(t, applied, "unknown id inserts")

	again, err := s.UpsertFromRemote(ctx, remote)
	require.NoError(t, err)
	assert.False(t, again, "same stamp keeps the stored row")

	tie := remote
	tie.Title = "tie"
	applied, err = s.UpsertFromRemote(ctx, tie)
	require.NoError(t, err)
	assert.False(t, applied)

	older := remote
	older.Title = "older"
	older.UpdatedAt = 50
	applied, err = s.UpsertFromRemote(ctx, older)
	require.NoError(t, err)
	assert.False(t, applied)

	newer := remote
	newer.Title = "v2"
	newer.Revision = "4-def"
	newer.UpdatedAt = 150
	newer.Deleted = true
	applied, err = s.UpsertFromRemote(ctx, newer)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, newer, got)
}

func TestUpsertFromRemote_DoesNotFireChangeHook(t *testing.T) {
	calls := 0
	s, _ := createTestStore(t, WithChangeHook(func() { calls++ }))
	ctx := context.Background()

	_, err := s.UpsertFromRemote(ctx, task.Task{ID: "r1", Title: "x", UpdatedAt: 1})
	require.NoError(t, err)
	_, err = s.ApplyRemote(ctx, []task.Task{{ID: "r2", Title: "y", UpdatedAt: 1}}, "2-x")
	require.NoError(t, err)
	assert.Zero(t, calls)

	_, err = s.Create(ctx, "local", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCursor(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	_, found, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetCursor(ctx, "5-g1AAAA"))
	clock.Advance(time.Second)
	require.NoError(t, s.SetCursor(ctx, "7-g1AAAA"))

	cur, found, err := s.Cursor(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, task.Cursor{LastSeq: "7-g1AAAA", LastSyncedAt: 2_000}, cur)
}

func TestApplyRemote_CommitsBatchAndCursor(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	local, err := s.Create(ctx, "local", nil, nil)
	require.NoError(t, err)

	batch := []task.Task{
		{ID: "r1", Title: "new", UpdatedAt: 10, Order: 2},
		{ID: local.ID, Title: "stale", UpdatedAt: local.UpdatedAt - 1, Order: 1},
		{ID: "r2", Title: "gone", UpdatedAt: 10, Order: 3, Deleted: true},
	}
	applied, err := s.ApplyRemote(ctx, batch, "3-abc")
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	got, err := s.Get(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, "local", got.Title)

	cur, found, err := s.Cursor(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "3-abc", cur.LastSeq)
}

func TestApplyRemote_IsAtomic(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetCursor(ctx, "1-old"))

	// A cancelled context fails the batch before commit.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	_, err := s.ApplyRemote(cancelled, []task.Task{{ID: "r1", Title: "x", UpdatedAt: 10}}, "2-new")
	require.Error(t, err)

	_, err = s.Get(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	cur, _, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1-old", cur.LastSeq)
}
