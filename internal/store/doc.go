// Package store provides the SQLite-backed decompilation cache.
//
// The store holds three tables:
//   - Runs: one row per batch decompilation, keyed by a UUIDv7
//   - Results: rendered method bodies keyed by (method hash, options key)
//   - Run methods: the ordered list of methods each run produced
//
// # Cache identity
//
// A result is identified by the content hash of the method body
// (il.MethodHash) and by the canonical JSON of the options that shape the
// output. Two runs over byte-identical bodies with the same options share
// one result row; a changed instruction, local or handler misses the cache.
//
// # Deterministic ordering
//
// Queries over a run order by seq ASC. Queries listing results order by
// method COLLATE BINARY, then method_hash.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability and performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
