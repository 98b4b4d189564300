// Package storage provides the optional run-audit layer: an append-only
// record of every primary and reminder fire, queryable by admin tooling and
// pruned by the janitor.
//
// It currently supports:
//   - "file" driver: dependency-free JSON Lines append
//   - "sqlite" driver: SQLite database file (build tag "sqlite")
//
// It also houses WriteFileAtomic, the temp-file + rename write path shared
// by the scheduler and the kv stores.
package storage
