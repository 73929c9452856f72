// Package store provides the SQLite-backed local task store.
//
// The store holds two tables:
//   - tasks: every task ever created, including tombstones (deleted = 1)
//   - sync_state: a single row with the replication cursor
//
// # Concurrency
//
// Every read and write is serialized through one mutex, and the connection
// pool is limited to a single connection. Read-modify-write operations
// (Update, ToggleCompletion, SoftDelete, reorders) run inside one transaction
// while the mutex is held, so concurrent callers on the same id never lose an
// update.
//
// # Conflict Resolution
//
// UpsertFromRemote is the only way remote data enters the store. A remote row
// replaces the local one only when its updated_at is strictly greater; equal
// timestamps keep the stored row.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
