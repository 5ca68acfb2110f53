// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/untoldecay/ContextKeeper/internal/storage"
)

// DefaultMaxBytes caps database growth when the caller does not override it.
const DefaultMaxBytes = 100 << 20 // 100 MiB

// minDiskFree is the filesystem headroom below which writes are refused.
const minDiskFree = 4 << 20

// Store implements storage.Store using SQLite.
type Store struct {
	db       *sql.DB
	dbPath   string
	maxBytes int64
	closed   atomic.Bool
}

var _ storage.Store = (*Store)(nil)

// Options tunes a Store beyond its database path.
type Options struct {
	// MaxBytes bounds the database file size. Zero means DefaultMaxBytes;
	// negative disables the check.
	MaxBytes int64
}

// setupWASMCache configures WASM compilation caching so the embedded SQLite
// build is compiled once per wazero version instead of on every process
// start. Falls back to an in-memory cache when the cache dir is unavailable.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "contextkeeper", "wazero")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// New opens (creating if necessary) the database at path and brings its
// schema up to date. Use ":memory:" for an ephemeral store.
func New(ctx context.Context, path string) (*Store, error) {
	return NewWithOptions(ctx, path, Options{})
}

// NewWithOptions is New with explicit tuning.
func NewWithOptions(ctx context.Context, path string, opts Options) (*Store, error) {
	// In-memory databases are isolated per connection unless the cache is
	// shared, and WAL does not apply to them.
	var connStr string
	if path == ":memory:" {
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else if strings.HasPrefix(path, "file:") {
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL gives one writer plus concurrent readers; bounding the pool
		// keeps goroutines from piling up on write-lock contention.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
	}

	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	absPath := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		absPath, err = filepath.Abs(path)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
	}

	maxBytes := opts.MaxBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}

	return &Store{
		db:       db,
		dbPath:   absPath,
		maxBytes: maxBytes,
	}, nil
}

// Close checkpoints the WAL and closes the connection pool. Without the
// checkpoint, writes can be stranded in the WAL between CLI invocations.
func (s *Store) Close() error {
	s.closed.Store(true)
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// IsClosed reports whether Close has been called.
func (s *Store) IsClosed() bool {
	return s.closed.Load()
}

// Path returns the absolute path of the database file.
func (s *Store) Path() string {
	return s.dbPath
}

// UnderlyingDB exposes the raw handle for extensions and tests. Callers
// must not close it or change pool settings or pragmas.
func (s *Store) UnderlyingDB() *sql.DB {
	return s.db
}

// withTx executes fn inside a transaction, committing on nil return and
// rolling back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("commit transaction", err)
	}
	return nil
}

// withImmediateTx runs fn on a dedicated connection under BEGIN IMMEDIATE,
// acquiring the write lock up front. SQLite's busy_timeout pragma (30s)
// handles lock contention internally.
func (s *Store) withImmediateTx(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return wrapDBError("acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return wrapDBError("begin immediate transaction", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even if ctx is done.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return wrapDBError("commit transaction", err)
	}
	committed = true
	return nil
}

// sizeBytes reports the current database footprint.
func (s *Store) sizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := s.db.QueryRowContext(ctx,
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()",
	).Scan(&size)
	if err != nil {
		return 0, wrapDBError("query database size", err)
	}
	return size, nil
}

// checkCapacity refuses a write of incoming bytes when it would push the
// database past its size limit or exhaust the filesystem.
func (s *Store) checkCapacity(ctx context.Context, incoming int64) error {
	if s.maxBytes > 0 {
		size, err := s.sizeBytes(ctx)
		if err != nil {
			return err
		}
		if size+incoming > s.maxBytes {
			return fmt.Errorf("database size %d + %d exceeds limit %d: %w",
				size, incoming, s.maxBytes, storage.ErrResourceExhausted)
		}
	}
	if s.dbPath != ":memory:" {
		free, err := diskFree(filepath.Dir(s.dbPath))
		if err == nil && free < uint64(minDiskFree+incoming) {
			return fmt.Errorf("insufficient disk space (%d bytes free): %w",
				free, storage.ErrResourceExhausted)
		}
	}
	return nil
}
