package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/taskly/internal/task"
)

const taskColumns = `id, rev, title, description, completed, due_date, updated_at, task_order, deleted`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// List returns every non-deleted task ordered by task_order ASC, id ASC.
// Returns an empty slice (not nil) when the store has no active tasks.
func (s *Store) List(ctx context.Context) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return queryTasks(ctx, s.db, "list tasks", `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE deleted = 0
		ORDER BY task_order ASC, id COLLATE BINARY ASC
	`)
}

// All returns every task including tombstones, ordered like List.
func (s *Store) All(ctx context.Context) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return queryTasks(ctx, s.db, "all tasks", `
		SELECT `+taskColumns+`
		FROM tasks
		ORDER BY task_order ASC, id COLLATE BINARY ASC
	`)
}

// ChangesSince returns every task (tombstones included) whose updated_at is
// strictly greater than since, ordered by updated_at ASC, id ASC.
func (s *Store) ChangesSince(ctx context.Context, since int64) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return queryTasks(ctx, s.db, "changes since", `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE updated_at > ?
		ORDER BY updated_at ASC, id COLLATE BINARY ASC
	`, since)
}

// Get returns a single task by id, including tombstones.
// Returns ErrNotFound if the id does not exist.
func (s *Store) Get(ctx context.Context, id string) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return getTask(ctx, s.db, id)
}

// Cursor returns the replication cursor. found is false until the first pull
// has completed.
func (s *Store) Cursor(ctx context.Context) (cur task.Cursor, found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.QueryRowContext(ctx, `
		SELECT last_seq, last_synced_at FROM sync_state WHERE id = 1
	`).Scan(&cur.LastSeq, &cur.LastSyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Cursor{}, false, nil
	}
	if err != nil {
		return task.Cursor{}, false, fmt.Errorf("read cursor: %w", err)
	}
	return cur, true, nil
}

func getTask(ctx context.Context, q queryer, id string) (task.Task, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = ?
	`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func queryTasks(ctx context.Context, q queryer, op, query string, args ...any) ([]task.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}

	return tasks, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (task.Task, error) {
	var (
		t           task.Task
		description sql.NullString
		dueDate     sql.NullString
		completed   int
		deleted     int
	)

	err := row.Scan(
		&t.ID,
		&t.Revision,
		&t.Title,
		&description,
		&completed,
		&dueDate,
		&t.UpdatedAt,
		&t.Order,
		&deleted,
	)
	if err != nil {
		return task.Task{}, err
	}

	if description.Valid {
		t.Description = &description.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	t.Completed = completed != 0
	t.Deleted = deleted != 0

	return t, nil
}

type orderEntry struct {
	id    string
	order int
}

// activeOrder returns the id/order pairs of non-deleted tasks in list order.
func activeOrder(ctx context.Context, q queryer) ([]orderEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, task_order FROM tasks
		WHERE deleted = 0
		ORDER BY task_order ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	defer rows.Close()

	var entries []orderEntry
	for rows.Next() {
		var e orderEntry
		if err := rows.Scan(&e.id, &e.order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order: %w", err)
	}
	return entries, nil
}
