package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	syncerrors "github.com/mindsentry/mindsync/internal/errors"
	"github.com/mindsentry/mindsync/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_records (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	collection  TEXT    NOT NULL,
	id          TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	payload     TEXT    NOT NULL,
	synced      INTEGER NOT NULL DEFAULT 0,
	attempts    INTEGER NOT NULL DEFAULT 0,
	enqueued_at INTEGER NOT NULL,
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_queue_unsynced ON queue_records (collection, synced, seq);

CREATE TABLE IF NOT EXISTS cache_entries (
	key       TEXT PRIMARY KEY,
	data      TEXT    NOT NULL,
	stored_at INTEGER NOT NULL,
	ttl_ms    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS flags (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const offlineFlagKey = "isOffline"

// SQLiteStore implements Store on a single SQLite database file via the
// pure-Go modernc driver, so the binary stays CGO-free.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for throwaway stores in tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &syncerrors.StorageError{Op: "open", Err: err}
	}
	// A single writer avoids SQLITE_BUSY on concurrent enqueue + sync.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, &syncerrors.StorageError{Op: "migrate", Err: err}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SetClock overrides the time source. Intended for tests exercising TTL.
func (s *SQLiteStore) SetClock(now func() time.Time) { s.now = now }

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Append(ctx context.Context, collection string, rec types.QueuedRecord) error {
	if err := types.ValidateCollection(collection); err != nil {
		return &syncerrors.StorageError{Op: "append", Err: err}
	}
	if err := types.ValidateRecord(rec); err != nil {
		return &syncerrors.StorageError{Op: "append", Err: err}
	}
	payload, err := marshalPayload(rec)
	if err != nil {
		return &syncerrors.StorageError{Op: "append", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queue_records (collection, id, kind, payload, synced, attempts, enqueued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		collection, rec.ID, string(rec.Kind), payload, boolToInt(rec.Synced), rec.Attempts, rec.EnqueuedAt.UnixMilli())
	if err != nil {
		return &syncerrors.StorageError{Op: "append", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ListAll(ctx context.Context, collection string) ([]types.QueuedRecord, error) {
	return s.list(ctx, collection, false)
}

func (s *SQLiteStore) ListUnsynced(ctx context.Context, collection string) ([]types.QueuedRecord, error) {
	return s.list(ctx, collection, true)
}

func (s *SQLiteStore) list(ctx context.Context, collection string, unsyncedOnly bool) ([]types.QueuedRecord, error) {
	q := `SELECT id, kind, payload, synced, attempts, enqueued_at
	      FROM queue_records WHERE collection = ?`
	if unsyncedOnly {
		q += ` AND synced = 0`
	}
	q += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, q, collection)
	if err != nil {
		return nil, &syncerrors.StorageError{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := make([]types.QueuedRecord, 0)
	for rows.Next() {
		var (
			rec        types.QueuedRecord
			kind       string
			payload    string
			synced     int
			enqueuedAt int64
		)
		if err := rows.Scan(&rec.ID, &kind, &payload, &synced, &rec.Attempts, &enqueuedAt); err != nil {
			return nil, &syncerrors.StorageError{Op: "list", Err: err}
		}
		rec.Kind = types.RecordKind(kind)
		rec.Synced = synced != 0
		rec.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		if err := unmarshalPayload(payload, &rec); err != nil {
			return nil, &syncerrors.StorageError{Op: "list", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &syncerrors.StorageError{Op: "list", Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) MarkSynced(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE queue_records SET synced = 1 WHERE collection = ? AND id IN (%s)`, placeholders),
		args...)
	if err != nil {
		return &syncerrors.StorageError{Op: "markSynced", Err: err}
	}
	return nil
}

func (s *SQLiteStore) IncrementAttempts(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_records SET attempts = attempts + 1 WHERE collection = ? AND id = ?`,
		collection, id)
	if err != nil {
		return &syncerrors.StorageError{Op: "incrementAttempts", Err: err}
	}
	return nil
}

func (s *SQLiteStore) MoveToDeadLetter(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_records SET collection = ? WHERE collection = ? AND id = ?`,
		DeadLetterCollection(collection), collection, id)
	if err != nil {
		return &syncerrors.StorageError{Op: "moveToDeadLetter", Err: err}
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return &syncerrors.StorageError{Op: "remove", Err: err}
	}
	return nil
}

func (s *SQLiteStore) CacheSet(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &syncerrors.StorageError{Op: "cacheSet", Err: err}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, data, stored_at, ttl_ms) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, stored_at = excluded.stored_at, ttl_ms = excluded.ttl_ms`,
		key, string(data), s.now().UnixMilli(), ttl.Milliseconds())
	if err != nil {
		return &syncerrors.StorageError{Op: "cacheSet", Err: err}
	}
	return nil
}

func (s *SQLiteStore) CacheGet(ctx context.Context, key string, dest any) (bool, error) {
	var (
		data     string
		storedAt int64
		ttlMs    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, stored_at, ttl_ms FROM cache_entries WHERE key = ?`, key).
		Scan(&data, &storedAt, &ttlMs)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &syncerrors.StorageError{Op: "cacheGet", Err: err}
	}
	if s.now().UnixMilli()-storedAt > ttlMs {
		// Lazy purge on read; the entry is already logically absent.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return false, nil
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, &syncerrors.StorageError{Op: "cacheGet", Err: err}
	}
	return true, nil
}

func (s *SQLiteStore) ClearCollections(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM queue_records WHERE collection = ?`, name); err != nil {
			return &syncerrors.StorageError{Op: "clearCollections", Err: err}
		}
	}
	return nil
}

func (s *SQLiteStore) SetOfflineFlag(ctx context.Context, offline bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		offlineFlagKey, fmt.Sprintf("%t", offline))
	if err != nil {
		return &syncerrors.StorageError{Op: "setOfflineFlag", Err: err}
	}
	return nil
}

func (s *SQLiteStore) OfflineFlag(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM flags WHERE key = ?`, offlineFlagKey).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &syncerrors.StorageError{Op: "offlineFlag", Err: err}
	}
	return value == "true", nil
}

func (s *SQLiteStore) PendingCounts(ctx context.Context) (types.PendingStatus, error) {
	var st types.PendingStatus
	row := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN collection = ? AND synced = 0 THEN 1 END),
			COUNT(CASE WHEN collection = ? AND synced = 0 THEN 1 END)
		 FROM queue_records`,
		CollectionCheckIns, CollectionChatMessages)
	if err := row.Scan(&st.PendingCheckIns, &st.PendingMessages); err != nil {
		return types.PendingStatus{}, &syncerrors.StorageError{Op: "pendingCounts", Err: err}
	}
	return st, nil
}

func marshalPayload(rec types.QueuedRecord) (string, error) {
	var body any
	switch rec.Kind {
	case types.KindCheckIn:
		body = rec.CheckIn
	case types.KindChatMessage:
		body = rec.Chat
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalPayload(payload string, rec *types.QueuedRecord) error {
	switch rec.Kind {
	case types.KindCheckIn:
		rec.CheckIn = &types.CheckIn{}
		return json.Unmarshal([]byte(payload), rec.CheckIn)
	case types.KindChatMessage:
		rec.Chat = &types.ChatMessage{}
		return json.Unmarshal([]byte(payload), rec.Chat)
	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
