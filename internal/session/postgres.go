// ABOUTME: PostgreSQL session store using the pgx stdlib driver
// ABOUTME: Upserts with ON CONFLICT and filters expired rows on read

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store on a shared PostgreSQL database so several
// relay instances see the same sessions.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewPostgresStore connects to dsn, verifies the connection and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "session", "backend", "postgres")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}

	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	go s.purgeLoop(5 * time.Minute)

	logger.Info("Postgres session store initialized")
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS relay_sessions (
			user_id    TEXT PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_relay_sessions_expires_at ON relay_sessions(expires_at);
	`)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (string, error) {
	sess, err := s.Lookup(ctx, userID)
	if err != nil {
		return "", err
	}
	return sess.ThreadID, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, userID string) (*Session, error) {
	sess := Session{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, created_at, expires_at FROM relay_sessions WHERE user_id = $1 AND expires_at > $2`,
		userID, s.now().UTC(),
	).Scan(&sess.ThreadID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("reading session", err)
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return &sess, nil
}

func (s *PostgresStore) Put(ctx context.Context, userID, threadID string, ttl time.Duration) error {
	if err := validatePut(userID, threadID, ttl); err != nil {
		return err
	}

	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_sessions (user_id, thread_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, userID, threadID, now, now.Add(ttl))
	if err != nil {
		return unavailable("writing session", err)
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, userID string, ttl time.Duration) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE relay_sessions SET expires_at = $1 WHERE user_id = $2 AND expires_at > $3`,
		now.Add(ttl), userID, now,
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) purgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM relay_sessions WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) purgeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := s.purgeExpired(ctx)
			cancel()
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

func (s *PostgresStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.db.Close()
	})
	return err
}
