// Package storage persists the channels each bot serves and the dedup keys
// of notifications already relayed.
//
// Drivers:
//   - "memory": process local, the default
//   - "file": JSON snapshot for channels, snapshot + journal for dedup
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
