package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/taskly/internal/task"
)

// Create inserts a new task at the end of the active list.
// The new task gets revision "1-<suffix>" and order max(active order)+1.
func (s *Store) Create(ctx context.Context, title string, description, dueDate *string) (task.Task, error) {
	var created task.Task
	err := s.withTx(ctx, "create task", func(tx *sql.Tx) error {
		var maxOrder int
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(task_order), 0) FROM tasks WHERE deleted = 0
		`).Scan(&maxOrder)
		if err != nil {
			return fmt.Errorf("max order: %w", err)
		}

		created = task.Task{
			ID:          s.newID(),
			Revision:    task.FormatRevision(1, s.suffix()),
			Title:       title,
			Description: description,
			DueDate:     dueDate,
			UpdatedAt:   s.now(),
			Order:       maxOrder + 1,
		}
		return insertTask(ctx, tx, created)
	})
	if err != nil {
		return task.Task{}, err
	}

	s.changed()
	return created, nil
}

// Update persists every supplied field of t verbatim, assigns the next
// revision (stored counter + 1) and stamps updatedAt.
// Returns ErrNotFound if t.ID does not exist.
func (s *Store) Update(ctx context.Context, t task.Task) (task.Task, error) {
	var updated task.Task
	err := s.withTx(ctx, "update task", func(tx *sql.Tx) error {
		stored, err := getTask(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		updated, err = s.writeLocal(ctx, tx, stored.Revision, stored.UpdatedAt, t)
		return err
	})
	if err != nil {
		return task.Task{}, err
	}

	s.changed()
	return updated, nil
}

// SoftDelete marks a task deleted. The row is kept so the tombstone can
// replicate.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	err := s.withTx(ctx, "delete task", func(tx *sql.Tx) error {
		stored, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		next := stored
		next.Deleted = true
		_, err = s.writeLocal(ctx, tx, stored.Revision, stored.UpdatedAt, next)
		return err
	})
	if err != nil {
		return err
	}

	s.changed()
	return nil
}

// ToggleCompletion flips the completed flag of a task as one atomic
// read-modify-write.
func (s *Store) ToggleCompletion(ctx context.Context, id string) (task.Task, error) {
	var updated task.Task
	err := s.withTx(ctx, "toggle task", func(tx *sql.Tx) error {
		stored, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		next := stored
		next.Completed = !stored.Completed
		updated, err = s.writeLocal(ctx, tx, stored.Revision, stored.UpdatedAt, next)
		return err
	})
	if err != nil {
		return task.Task{}, err
	}

	s.changed()
	return updated, nil
}

// ReorderRelative swaps the order of a task with its immediate neighbor in
// list order. Moving the first task up or the last task down is a no-op.
func (s *Store) ReorderRelative(ctx context.Context, id string, dir task.Direction) error {
	var swapped bool
	err := s.withTx(ctx, "reorder task", func(tx *sql.Tx) error {
		entries, err := activeOrder(ctx, tx)
		if err != nil {
			return err
		}

		current := indexOf(entries, id)
		if current < 0 {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}

		var target int
		switch dir {
		case task.Up:
			if current == 0 {
				return nil
			}
			target = current - 1
		case task.Down:
			if current == len(entries)-1 {
				return nil
			}
			target = current + 1
		default:
			return fmt.Errorf("invalid direction %q", dir)
		}

		swapped = true
		return s.swapOrder(ctx, tx, entries[current], entries[target])
	})
	if err != nil {
		return err
	}

	if swapped {
		s.changed()
	}
	return nil
}

// ReorderToPosition exchanges the order values of id and targetID.
// It is a swap, not an insertion shift, so applying it twice restores the
// original order. No-op when id == targetID.
func (s *Store) ReorderToPosition(ctx context.Context, id, targetID string) error {
	if id == targetID {
		return nil
	}

	err := s.withTx(ctx, "move task", func(tx *sql.Tx) error {
		entries, err := activeOrder(ctx, tx)
		if err != nil {
			return err
		}

		current := indexOf(entries, id)
		if current < 0 {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		target := indexOf(entries, targetID)
		if target < 0 {
			return fmt.Errorf("target task %s: %w", targetID, ErrNotFound)
		}

		return s.swapOrder(ctx, tx, entries[current], entries[target])
	})
	if err != nil {
		return err
	}

	s.changed()
	return nil
}

// UpsertFromRemote inserts t when its id is unknown, or overwrites every field
// of the stored row when t.UpdatedAt is strictly greater than the stored
// value. Otherwise it is a no-op. applied reports whether a row was written.
func (s *Store) UpsertFromRemote(ctx context.Context, t task.Task) (applied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied, err = upsertRemote(ctx, s.db, t)
	if err != nil {
		return false, fmt.Errorf("upsert from remote: %w", err)
	}
	return applied, nil
}

// SetCursor records the change-feed position and stamps lastSyncedAt.
func (s *Store) SetCursor(ctx context.Context, seq string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeCursor(ctx, s.db, seq, s.now()); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// ApplyRemote upserts a batch of remote tasks and advances the cursor to seq
// in a single transaction. Either the whole batch and the cursor are
// committed, or nothing is. Returns the number of rows written.
func (s *Store) ApplyRemote(ctx context.Context, tasks []task.Task, seq string) (int, error) {
	applied := 0
	err := s.withTx(ctx, "apply remote", func(tx *sql.Tx) error {
		for _, t := range tasks {
			ok, err := upsertRemote(ctx, tx, t)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", t.ID, err)
			}
			if ok {
				applied++
			}
		}
		return writeCursor(ctx, tx, seq, s.now())
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// withTx runs fn in a transaction while holding the store lock.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

// writeLocal stores next as a local mutation of a row currently at
// (prevRev, prevUpdatedAt) and returns the row as written.
func (s *Store) writeLocal(ctx context.Context, tx *sql.Tx, prevRev string, prevUpdatedAt int64, next task.Task) (task.Task, error) {
	next.Revision = task.NextRevision(prevRev, s.suffix)
	next.UpdatedAt = s.stamp(prevUpdatedAt)

	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET
			rev = ?,
			title = ?,
			description = ?,
			completed = ?,
			due_date = ?,
			updated_at = ?,
			task_order = ?,
			deleted = ?
		WHERE id = ?
	`,
		next.Revision,
		next.Title,
		nullString(next.Description),
		boolInt(next.Completed),
		nullString(next.DueDate),
		next.UpdatedAt,
		next.Order,
		boolInt(next.Deleted),
		next.ID,
	)
	if err != nil {
		return task.Task{}, fmt.Errorf("write %s: %w", next.ID, err)
	}
	return next, nil
}

// swapOrder exchanges the order values of a and b as two local mutations.
func (s *Store) swapOrder(ctx context.Context, tx *sql.Tx, a, b orderEntry) error {
	first, err := getTask(ctx, tx, a.id)
	if err != nil {
		return err
	}
	second, err := getTask(ctx, tx, b.id)
	if err != nil {
		return err
	}

	movedFirst := first
	movedFirst.Order = b.order
	if _, err := s.writeLocal(ctx, tx, first.Revision, first.UpdatedAt, movedFirst); err != nil {
		return err
	}

	movedSecond := second
	movedSecond.Order = a.order
	if _, err := s.writeLocal(ctx, tx, second.Revision, second.UpdatedAt, movedSecond); err != nil {
		return err
	}
	return nil
}

func insertTask(ctx context.Context, q queryer, t task.Task) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.Revision,
		t.Title,
		nullString(t.Description),
		boolInt(t.Completed),
		nullString(t.DueDate),
		t.UpdatedAt,
		t.Order,
		boolInt(t.Deleted),
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", t.ID, err)
	}
	return nil
}

func upsertRemote(ctx context.Context, q queryer, t task.Task) (bool, error) {
	result, err := q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			rev = excluded.rev,
			title = excluded.title,
			description = excluded.description,
			completed = excluded.completed,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at,
			task_order = excluded.task_order,
			deleted = excluded.deleted
		WHERE excluded.updated_at > tasks.updated_at
	`,
		t.ID,
		t.Revision,
		t.Title,
		nullString(t.Description),
		boolInt(t.Completed),
		nullString(t.DueDate),
		t.UpdatedAt,
		t.Order,
		boolInt(t.Deleted),
	)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func writeCursor(ctx context.Context, q queryer, seq string, syncedAt int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_seq, last_synced_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_seq = excluded.last_seq,
			last_synced_at = excluded.last_synced_at
	`, seq, syncedAt)
	if err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return nil
}

func indexOf(entries []orderEntry, id string) int {
	for i, e := range entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
