// Package task defines the data model shared by the store, the replication
// engine and the CLI.
//
// A Task is never physically removed: deletion sets the Deleted flag so the
// tombstone can replicate. UpdatedAt (milliseconds since epoch) is the logical
// clock used for last-write-wins conflict resolution.
//
// # Revisions
//
// Revision strings have the form "<counter>-<suffix>". They are opaque tokens:
// only the numeric counter prefix is ever parsed, and values received from the
// remote store are kept byte-for-byte so they can be echoed back unchanged.
package task
