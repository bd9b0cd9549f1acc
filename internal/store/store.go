// Package store provides the durable, crash-safe key-value layer holding
// queued user records, TTL-cached API responses and small flags. Collections
// are logical names (offlineCheckIns, offlineChatMessages, ...) over a
// single SQLite database file.
package store

import (
	"context"
	"time"

	"github.com/mindsentry/mindsync/internal/types"
)

// Store is the persistence interface consumed by the sync engine and the
// CLI. Implementations must be safe for concurrent use.
type Store interface {
	// Append adds a new record to the collection. Existing records are never
	// overwritten; a duplicate id is an error.
	Append(ctx context.Context, collection string, rec types.QueuedRecord) error

	// ListAll returns every record in insertion order. An unknown collection
	// yields an empty slice, never nil.
	ListAll(ctx context.Context, collection string) ([]types.QueuedRecord, error)

	// ListUnsynced returns records still awaiting remote acceptance, in
	// insertion order.
	ListUnsynced(ctx context.Context, collection string) ([]types.QueuedRecord, error)

	// MarkSynced flips synced to true for every listed id. Unknown ids are
	// silently ignored; the operation is idempotent.
	MarkSynced(ctx context.Context, collection string, ids []string) error

	// IncrementAttempts bumps the delivery attempt counter for one record.
	IncrementAttempts(ctx context.Context, collection, id string) error

	// MoveToDeadLetter relocates a record to the dead-letter collection for
	// its source collection. Dead-lettered records no longer list as
	// unsynced. No-op when the record is absent.
	MoveToDeadLetter(ctx context.Context, collection, id string) error

	// Remove deletes one record by id. No-op when absent.
	Remove(ctx context.Context, collection, id string) error

	// CacheSet stores a JSON-serializable value under key with a TTL.
	CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error

	// CacheGet unmarshals the cached value into dest and reports whether a
	// live entry was found. Expired entries read as absent and are purged.
	CacheGet(ctx context.Context, key string, dest any) (bool, error)

	// ClearCollections bulk-deletes the named collections. Used on logout.
	ClearCollections(ctx context.Context, names ...string) error

	// SetOfflineFlag persists the last-known offline status.
	SetOfflineFlag(ctx context.Context, offline bool) error

	// OfflineFlag returns the last-known offline status, false when unset.
	OfflineFlag(ctx context.Context) (bool, error)

	// PendingCounts reports unsynced totals for the two queue collections.
	PendingCounts(ctx context.Context) (types.PendingStatus, error)

	// Close releases the underlying database handle.
	Close() error
}

// Collection names of the persisted local schema.
const (
	CollectionCheckIns     = "offlineCheckIns"
	CollectionChatMessages = "offlineChatMessages"
)

// DeadLetterCollection returns the dead-letter collection name for a source
// collection.
func DeadLetterCollection(collection string) string {
	return "deadLetter:" + collection
}
