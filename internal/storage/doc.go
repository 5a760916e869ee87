// Package storage persists scheduled generation jobs and their run history.
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "memory": process-local maps, optionally snapshotted to a JSON file
//
// It also keeps notifier dedup state so repeated alerts survive restarts.
package storage
