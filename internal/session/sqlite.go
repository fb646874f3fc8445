// ABOUTME: SQLite session store using modernc.org/sqlite
// ABOUTME: Filters expired rows on read and purges them periodically

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewSQLiteStore opens (or creates) the database at path.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "session", "backend", "sqlite")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers so concurrent Puts never see SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	go s.purgeLoop(time.Minute)

	logger.Info("SQLite session store initialized", "path", path)
	return s, nil
}

// createSchema creates the sessions table if it doesn't exist.
// expires_at is unix milliseconds so range comparisons stay numeric.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			user_id    TEXT PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (string, error) {
	sess, err := s.Lookup(ctx, userID)
	if err != nil {
		return "", err
	}
	return sess.ThreadID, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, userID string) (*Session, error) {
	var (
		threadID  string
		createdAt string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, created_at, expires_at FROM sessions WHERE user_id = ? AND expires_at > ?`,
		userID, s.now().UnixMilli(),
	).Scan(&threadID, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("reading session", err)
	}

	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, unavailable("parsing created_at", err)
	}

	return &Session{
		UserID:    userID,
		ThreadID:  threadID,
		CreatedAt: created,
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
	}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, userID, threadID string, ttl time.Duration) error {
	if err := validatePut(userID, threadID, ttl); err != nil {
		return err
	}

	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, thread_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			thread_id = excluded.thread_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, userID, threadID, now.UTC().Format(time.RFC3339), now.Add(ttl).UnixMilli())
	if err != nil {
		return unavailable("writing session", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, userID string, ttl time.Duration) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE user_id = ? AND expires_at > ?`,
		now.Add(ttl).UnixMilli(), userID, now.UnixMilli(),
	)
	if err != nil {
		return unavailable("touching session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("touching session", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// purgeExpired deletes rows whose expiry has passed and returns how many were removed.
func (s *SQLiteStore) purgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) purgeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.purgeExpired(context.Background())
			if err != nil {
				s.logger.Warn("purging expired sessions failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired sessions", "count", n)
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the purge loop and closes the database
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.db.Close()
	})
	return err
}
