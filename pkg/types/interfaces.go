package types

import (
	"context"
)

// TierStore is the capability interface a physical tier back-end must
// satisfy. Concrete back-ends (in-memory map, local disk store, remote
// object store) are injected by the host application; the engine never
// constructs one on its own.
//
// Read returns the stored payload or an error satisfying
// errors.Is(err, ErrNotFound) semantics from pkg/errors when the key is
// absent. Implementations must honor ctx cancellation and deadlines.
type TierStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	ListPresent(ctx context.Context) ([]string, error)

	// Checksum returns a stable hash of the stored payload, used by
	// cross-tier conflict detection. Implementations hash the logical
	// payload, not any on-store encoding (compression must not change
	// the checksum).
	Checksum(ctx context.Context, key string) (uint64, error)
}

// Observer receives asynchronous notifications about cache events. All
// methods may be called from internal goroutines and must not block.
// Synchronous operation results remain the primary reporting channel;
// the observer is optional.
type Observer interface {
	EntryEvicted(key string, bytes int64)
	TierDegraded(tier Tier, err error)
}
