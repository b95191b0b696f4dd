// Package cache defines the generation-aware store behind the offline layer.
// Every entry is addressed by site, cache generation and request key, so a
// whole generation can be listed or dropped at once when a newer worker
// activates. Two providers exist: a disk store (temp file + rename, with
// per-entry locks) and an in-memory store built on go-cache. Stored values
// are serialized response snapshots; see Snapshot.
package cache
