// Package types defines the shared data model and capability interfaces of
// the wavecache engine.
//
// The engine manages cached binary audio samples across an ordered set of
// storage tiers (memory, disk, blob). This package carries the vocabulary
// every component speaks: cache entries with per-tier presence bookkeeping,
// routing decisions, eviction candidates, memory pressure levels, access
// predictions, and the structured result variants returned by the cache
// manager's public operations.
//
// Two interfaces form the engine's outer seam:
//
//   - TierStore: the capability contract a physical tier back-end satisfies
//     (read/write/delete/list/checksum). Back-ends are injected by the host
//     application and may be swapped freely.
//   - Observer: optional asynchronous event notifications.
//
// Everything else in this package is plain data. Payload bytes are opaque to
// the engine; only sizes and the quality profile participate in decisions.
package types
