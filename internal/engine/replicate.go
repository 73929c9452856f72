package engine

import (
	"context"

	"github.com/roach88/taskly/internal/couch"
	"github.com/roach88/taskly/internal/task"
)

// InitialSeq is the change-feed position used before the first pull.
const InitialSeq = "0"

// cycle runs push then pull. The session token is checked between phases.
func (e *Engine) cycle(ctx context.Context, sess *session) error {
	if err := e.push(ctx, sess.client); err != nil {
		return newCycleError("push", err)
	}
	if !sess.active() {
		return errCancelled
	}
	if err := e.pull(ctx, sess); err != nil {
		return newCycleError("pull", err)
	}
	return nil
}

// push offers every local row, tombstones included, to the remote.
//
// A row is skipped when the remote copy, live or tombstone, is at least as
// new; the pull applies it. A newer local row replaces a remote tombstone
// with a revision-less PUT. GET and PUT failures are logged and counted per
// task; only a local read failure aborts the phase.
func (e *Engine) push(ctx context.Context, client *couch.Client) error {
	tasks, err := e.store.All(ctx)
	if err != nil {
		return newLocalStoreError("read local tasks", err)
	}

	for _, t := range tasks {
		e.metrics.push(ctx, e.pushOne(ctx, client, t))
	}
	return nil
}

func (e *Engine) pushOne(ctx context.Context, client *couch.Client, t task.Task) string {
	remote, found, deleted, err := client.Get(ctx, t.ID)
	if err != nil {
		e.logger.Warn("push: fetch remote failed", "id", t.ID, "error", err)
		return pushFailed
	}
	if (found || deleted) && remote.UpdatedAt >= t.UpdatedAt {
		return pushSkipped
	}
	if deleted {
		e.logger.Debug("push: local row newer than remote tombstone", "id", t.ID, "remote_updated_at", remote.UpdatedAt)
	}

	rev := ""
	if found {
		rev = remote.Rev
	}
	if _, err := client.Put(ctx, couch.FromTask(t, rev)); err != nil {
		if couch.IsConflict(err) {
			e.logger.Info("push: conflict left for pull", "id", t.ID)
			return pushConflict
		}
		e.logger.Warn("push: write failed", "id", t.ID, "error", err)
		return pushFailed
	}
	return pushWritten
}

// pull reads the change feed from the stored cursor and commits every task
// change plus the new cursor in one store transaction. Nothing is committed
// once the session has been cancelled.
func (e *Engine) pull(ctx context.Context, sess *session) error {
	cur, found, err := e.store.Cursor(ctx)
	if err != nil {
		return newLocalStoreError("read cursor", err)
	}
	since := InitialSeq
	if found && cur.LastSeq != "" {
		since = cur.LastSeq
	}

	resp, err := sess.client.Changes(ctx, since)
	if err != nil {
		return err
	}
	if !sess.active() {
		return errCancelled
	}

	changes := make([]task.Task, 0, len(resp.Results))
	for _, ch := range resp.Results {
		if t, ok := ch.Task(); ok {
			changes = append(changes, t)
		}
	}

	next := resp.LastSeq.String()
	if next == "" {
		next = since
	}

	applied, err := e.store.ApplyRemote(ctx, changes, next)
	if err != nil {
		return newLocalStoreError("apply remote changes", err)
	}

	e.metrics.pull(ctx, len(changes), applied)
	e.logger.Debug("pull complete", "since", since, "last_seq", next, "changes", len(changes), "applied", applied)
	return nil
}
