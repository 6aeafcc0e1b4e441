// Package maple implements an in-memory transactional engine (db.Engine).
//
// Committed data lives in tables; every table is split into shards, each
// backed by an xsync.MapOf. A transaction never touches committed data
// until it commits: writes, deletes and table drops are collected in a
// per-table overlay, reads consult the overlay first and fall back to the
// committed shards. Commit applies all overlays under a single lock, so a
// concurrent Save always observes whole transactions. Abort simply drops the
// overlays.
//
// Snapshots (db.Snapshotter) use a compact binary format:
//  1. Magic number "MAPLEDB\x00"
//  2. Version number (currently 4)
//  3. Number of tables
//  4. For each table: name, entry count and the entries (key, value), all
//     length prefixed
//
// The engine is not durable on its own. The maple shared backend of the
// server loads a snapshot at start and writes one on shutdown, which makes
// the in-memory shared scope survive a restart.
package maple
