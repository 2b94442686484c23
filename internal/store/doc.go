// Package store holds the status history of every project and the registry
// of projects to poll.
//
// History has two backends: Memory, a mutex-guarded map for tests and
// ephemeral runs, and Bolt, a bbolt file that survives restarts. Both assign
// status IDs from one global sequence so that ID order is insertion order
// across projects.
package store
