// Package postgres implements the kv.Store contract on PostgreSQL for
// deployments without Redis. Records carry an explicit version column for
// conditional writes and an expires_at column swept by CleanupExpired, since
// Postgres has no native TTL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/pawpal/pawpal-context/internal/config"
	"github.com/pawpal/pawpal-context/internal/kv"
)

// Store implements kv.Store on PostgreSQL.
type Store struct {
	db *sqlx.DB
}

// NewStore connects, configures the pool and runs pending migrations.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := runMigrations(cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*kv.Record, error) {
	var rec kv.Record
	query := `
		SELECT value, version FROM kv_records
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	`
	err := s.db.QueryRowContext(ctx, query, key).Scan(&rec.Value, &rec.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO kv_records (key, value, version)
		VALUES ($1, $2, 1)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value,
		              version = kv_records.version + 1,
		              expires_at = NULL
	`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

func (s *Store) PutIf(ctx context.Context, key string, value []byte, ifVersion int64) error {
	if ifVersion == 0 {
		query := `
			INSERT INTO kv_records (key, value, version)
			VALUES ($1, $2, 1)
			ON CONFLICT (key) DO NOTHING
		`
		res, err := s.db.ExecContext(ctx, query, key, value)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return kv.ErrPreconditionFailed
		}
		return nil
	}

	query := `
		UPDATE kv_records
		SET value = $2, version = version + 1
		WHERE key = $1 AND version = $3
	`
	res, err := s.db.ExecContext(ctx, query, key, value, ifVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return kv.ErrPreconditionFailed
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_records WHERE key = $1`, key)
	return err
}

func (s *Store) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	var value int64
	query := `
		INSERT INTO kv_counters (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key)
		DO UPDATE SET value = kv_counters.value + EXCLUDED.value
		RETURNING value
	`
	err := s.db.QueryRowContext(ctx, query, key, delta).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var expiry interface{}
	if ttl > 0 {
		expiry = interval(ttl)
	}
	// Treat an expired row as absent so stale locks and markers can be retaken.
	query := `
		INSERT INTO kv_records (key, value, version, expires_at)
		VALUES ($1, $2, 1, CURRENT_TIMESTAMP + $3::interval)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value,
		              expires_at = EXCLUDED.expires_at
		WHERE kv_records.expires_at IS NOT NULL
		  AND kv_records.expires_at <= CURRENT_TIMESTAMP
	`
	res, err := s.db.ExecContext(ctx, query, key, value, expiry)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	query := `
		UPDATE kv_records
		SET expires_at = CURRENT_TIMESTAMP + $2::interval
		WHERE key = $1
	`
	_, err := s.db.ExecContext(ctx, query, key, interval(ttl))
	return err
}

func (s *Store) ListAppend(ctx context.Context, key string, value []byte) (int64, error) {
	query := `INSERT INTO kv_list_entries (key, value) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return 0, err
	}
	return s.ListLen(ctx, key)
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	length, err := s.ListLen(ctx, key)
	if err != nil {
		return nil, err
	}
	offset, limit, empty := normalizeRange(start, stop, length)
	if empty {
		return nil, nil
	}

	var values [][]byte
	query := `
		SELECT value FROM kv_list_entries
		WHERE key = $1
		ORDER BY seq ASC
		OFFSET $2 LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, key, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v []byte
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (s *Store) ListTrim(ctx context.Context, key string, start, stop int64) error {
	length, err := s.ListLen(ctx, key)
	if err != nil {
		return err
	}
	offset, limit, empty := normalizeRange(start, stop, length)
	if empty {
		_, err := s.db.ExecContext(ctx, `DELETE FROM kv_list_entries WHERE key = $1`, key)
		return err
	}

	query := `
		DELETE FROM kv_list_entries
		WHERE key = $1 AND seq IN (
			SELECT seq FROM (
				SELECT seq, row_number() OVER (ORDER BY seq) - 1 AS pos
				FROM kv_list_entries WHERE key = $1
			) positioned
			WHERE pos < $2 OR pos >= $2 + $3
		)
	`
	_, err = s.db.ExecContext(ctx, query, key, offset, limit)
	return err
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	var length int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_list_entries WHERE key = $1`, key).Scan(&length)
	return length, err
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	query := `
		SELECT key FROM kv_records
		WHERE key LIKE $1 || '%'
		  AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
	`
	err := s.db.SelectContext(ctx, &keys, query, prefix)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM kv_records
		WHERE expires_at IS NOT NULL AND expires_at < CURRENT_TIMESTAMP
	`
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired records: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func interval(ttl time.Duration) string {
	return fmt.Sprintf("%d milliseconds", ttl.Milliseconds())
}

// normalizeRange converts Redis-style inclusive indices (negatives from the
// tail) into an offset/limit pair.
func normalizeRange(start, stop, length int64) (offset, limit int64, empty bool) {
	if length == 0 {
		return 0, 0, true
	}
	if start < 0 {
		start += length
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += length
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return 0, 0, true
	}
	return start, stop - start + 1, false
}
