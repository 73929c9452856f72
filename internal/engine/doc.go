// Package engine implements taskly's replication engine.
//
// The engine keeps the local SQLite store and a CouchDB-compatible database
// converging under last-write-wins on each task's updatedAt.
//
// Session Lifecycle:
//  1. Start(cfg) validates settings and launches one session goroutine
//  2. The session moves to connecting and ensures the remote database exists
//  3. Each cycle moves to syncing, pushes every local row, then pulls the
//     change feed since the stored cursor
//  4. Success moves to paused with lastSynced; failure moves to error and the
//     loop keeps going after the interval
//  5. Stop cancels the session token and moves to paused
//
// Every state change goes through Transition and is committed under the
// engine lock, so observers see a linear history. A cancelled session never
// commits a transition, even when its last request completes after Stop.
//
// Conflict resolution lives in the store: ApplyRemote only replaces a row
// when the incoming updatedAt is strictly greater. Push skips rows whose
// remote copy is the same age or newer, leaving them to the pull.
package engine
