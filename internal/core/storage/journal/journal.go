// Package journal stores replica state in a SQLite database so that queued
// mutations survive restarts. Values and payloads are stored as
// snappy-compressed JSON.
package journal

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/replica"
	"github.com/zeusync/replica/internal/core/replica/types"
	"github.com/zeusync/replica/internal/core/replica/versions"
	"github.com/zeusync/replica/internal/core/storage/interfaces"
	"github.com/zeusync/replica/internal/core/storage/journal/migrations"
	"github.com/zeusync/replica/pkg/generic"
)

var (
	ErrJournalClosed = errors.New("journal is closed")
	ErrCorruptRecord = errors.New("corrupt journal record")
)

const metaLastSyncAt = "last_sync_at"

var _ interfaces.Storage = (*Journal)(nil)

// gooseMu guards goose's package-level configuration.
var gooseMu sync.Mutex

var buffers = generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

// Journal is a SQLite-backed interfaces.Storage.
type Journal struct {
	db     *sql.DB
	path   string
	logger log.Log

	mu     sync.Mutex
	closed bool
}

// Open opens or creates the journal at path and applies pending migrations.
// ":memory:" opens a private in-memory journal.
func Open(path string, logger log.Log) (*Journal, error) {
	if logger == nil {
		logger = log.Provide()
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create journal directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// one connection keeps ":memory:" stable and serializes writers
	db.SetMaxOpenConns(1)

	if err = enablePragmas(db, path); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}
	if err = RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &Journal{
		db:     db,
		path:   path,
		logger: logger.With(log.String("component", "journal"), log.String("path", path)),
	}
	j.logger.Debug("journal opened")
	return j, nil
}

func enablePragmas(db *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

// RunMigrations applies the embedded schema migrations to db.
func RunMigrations(db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Save replaces the stored state with state in a single transaction.
func (j *Journal) Save(ctx context.Context, state replica.State) (err error) {
	if err = j.checkOpen(); err != nil {
		return err
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{"DELETE FROM versions", "DELETE FROM pending"} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}

	for _, e := range state.Versions {
		value, encErr := encode(e.Value.Value)
		if encErr != nil {
			err = fmt.Errorf("encode %s: %w", e.Key, encErr)
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO versions (collection, id, value, version, updated_at, origin)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.Key.Collection, e.Key.ID, value, int64(e.Value.Version), unixNano(e.Value.UpdatedAt), int64(e.Value.Origin))
		if err != nil {
			return fmt.Errorf("insert version %s: %w", e.Key, err)
		}
	}

	for _, m := range state.Pending {
		payload, encErr := encode(m.Payload)
		if encErr != nil {
			err = fmt.Errorf("encode %s: %w", m.Key(), encErr)
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pending (collection, id, operation, payload, version, queued_at, retry_count, last_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, m.Collection, m.ID, m.Operation.String(), payload, int64(m.Version),
			unixNano(m.QueuedAt), int64(m.RetryCount), unixNano(m.LastAttemptAt))
		if err != nil {
			return fmt.Errorf("insert pending %s: %w", m.Key(), err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaLastSyncAt, fmt.Sprint(unixNano(state.LastSyncAt)))
	if err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	j.logger.Debug("state saved",
		log.Int("versions", len(state.Versions)),
		log.Int("pending", len(state.Pending)))
	return nil
}

// Load reads the stored state. Pending mutations come back in the order they
// were saved. Decoded values are plain JSON types.
func (j *Journal) Load(ctx context.Context) (replica.State, error) {
	var state replica.State
	if err := j.checkOpen(); err != nil {
		return state, err
	}

	var err error
	if state.Versions, err = j.loadVersions(ctx); err != nil {
		return replica.State{}, err
	}
	if state.Pending, err = j.loadPending(ctx); err != nil {
		return replica.State{}, err
	}
	if state.LastSyncAt, err = j.loadLastSyncAt(ctx); err != nil {
		return replica.State{}, err
	}
	return state, nil
}

func (j *Journal) loadVersions(ctx context.Context) ([]versions.Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT collection, id, value, version, updated_at, origin
		FROM versions ORDER BY collection, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var out []versions.Entry
	for rows.Next() {
		var (
			collection, id     string
			raw                []byte
			version, updatedAt int64
			origin             int64
		)
		if err = rows.Scan(&collection, &id, &raw, &version, &updatedAt, &origin); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		value, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: version %s:%s: %v", ErrCorruptRecord, collection, id, err)
		}
		out = append(out, versions.Entry{
			Key: types.NewKey(collection, id),
			Value: types.VersionedValue{
				Value:     value,
				Version:   uint64(version),
				UpdatedAt: fromUnixNano(updatedAt),
				Origin:    types.Origin(origin),
			},
		})
	}
	return out, rows.Err()
}

func (j *Journal) loadPending(ctx context.Context) ([]types.PendingMutation, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT collection, id, operation, payload, version, queued_at, retry_count, last_attempt_at
		FROM pending ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []types.PendingMutation
	for rows.Next() {
		var (
			collection, id, operation string
			raw                       []byte
			version, queuedAt         int64
			retries, lastAttemptAt    int64
		)
		if err = rows.Scan(&collection, &id, &operation, &raw, &version, &queuedAt, &retries, &lastAttemptAt); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		op, err := types.ParseOperation(operation)
		if err != nil {
			return nil, fmt.Errorf("%w: pending %s:%s: %v", ErrCorruptRecord, collection, id, err)
		}
		payload, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: pending %s:%s: %v", ErrCorruptRecord, collection, id, err)
		}
		out = append(out, types.PendingMutation{
			ID:            id,
			Collection:    collection,
			Operation:     op,
			Payload:       payload,
			Version:       uint64(version),
			QueuedAt:      fromUnixNano(queuedAt),
			RetryCount:    uint32(retries),
			LastAttemptAt: fromUnixNano(lastAttemptAt),
		})
	}
	return out, rows.Err()
}

func (j *Journal) loadLastSyncAt(ctx context.Context) (time.Time, error) {
	var raw string
	err := j.db.QueryRowContext(ctx, "SELECT value FROM sync_meta WHERE key = ?", metaLastSyncAt).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query meta: %w", err)
	}
	var nanos int64
	if _, err = fmt.Sscan(raw, &nanos); err != nil {
		return time.Time{}, fmt.Errorf("%w: meta %s: %v", ErrCorruptRecord, metaLastSyncAt, err)
	}
	return fromUnixNano(nanos), nil
}

// Statistics counts stored rows.
func (j *Journal) Statistics(ctx context.Context) (interfaces.Statistics, error) {
	var stats interfaces.Statistics
	if err := j.checkOpen(); err != nil {
		return stats, err
	}
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM versions").Scan(&stats.Versions); err != nil {
		return stats, fmt.Errorf("count versions: %w", err)
	}
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending").Scan(&stats.Pending); err != nil {
		return stats, fmt.Errorf("count pending: %w", err)
	}

	gooseMu.Lock()
	version, err := goose.GetDBVersionContext(ctx, j.db)
	gooseMu.Unlock()
	if err != nil {
		return stats, fmt.Errorf("schema version: %w", err)
	}
	stats.SchemaVersion = version
	return stats, nil
}

// Close closes the database. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func (j *Journal) checkOpen() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return nil
}

func encode(v any) ([]byte, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

func decode(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, err
	}
	var v any
	if err = json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
