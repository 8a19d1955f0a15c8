// Package storage persists the work-order archive and notifier dedup state.
//
// Drivers:
//   - file: JSON Lines journals, compacted into zstd-compressed snapshots
//   - sqlite: a single database file (pure Go driver, WAL mode)
//
// Persistence is best-effort history; the manager never reads it back.
package storage
