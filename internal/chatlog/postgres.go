package chatlog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps the log in a PostgreSQL table.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres applies pending migrations to the database at dsn and
// returns a ready store. dsn must be a postgres:// URL.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("chatlog: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatlog: ping: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an already migrated database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate brings the schema at dsn up to date using the embedded
// migrations. It uses its own connection and closes it before returning.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("chatlog: migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("chatlog: migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("chatlog: migrate up: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, rec Record) (string, error) {
	rec, err := prepare(rec)
	if err != nil {
		return "", err
	}

	const query = `
		INSERT INTO messages (id, sender, content, created_at, is_filtered, filter_reason)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Sender,
		rec.Content,
		rec.CreatedAt,
		rec.IsFiltered,
		rec.FilterReason,
	)
	if err != nil {
		return "", fmt.Errorf("chatlog: insert: %w", err)
	}
	return rec.ID, nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("chatlog: clear: %w", err)
	}
	return nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context, f Filter) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages
		WHERE ($1 = false OR is_filtered)
		  AND ($2::timestamptz IS NULL OR created_at >= $2)`

	since := sql.NullTime{Time: f.Since, Valid: !f.Since.IsZero()}
	var n int
	if err := s.db.QueryRowContext(ctx, query, f.FlaggedOnly, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("chatlog: count: %w", err)
	}
	return n, nil
}

// ActivityByDay implements Store.
func (s *PostgresStore) ActivityByDay(ctx context.Context, days int, now time.Time) ([]DayActivity, error) {
	const query = `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE is_filtered)
		FROM messages
		WHERE created_at >= $1
		GROUP BY day`

	rows, err := s.db.QueryContext(ctx, query, windowStart(days, now))
	if err != nil {
		return nil, fmt.Errorf("chatlog: activity by day: %w", err)
	}
	defer rows.Close()

	raw := make(map[string]dayCounts)
	for rows.Next() {
		var day string
		var c dayCounts
		if err := rows.Scan(&day, &c.total, &c.flagged); err != nil {
			return nil, fmt.Errorf("chatlog: activity by day: scan: %w", err)
		}
		raw[day] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatlog: activity by day: %w", err)
	}
	return fillDays(days, now, raw), nil
}

// ActivityByHour implements Store.
func (s *PostgresStore) ActivityByHour(ctx context.Context, days int, now time.Time) ([]HourActivity, error) {
	const query = `
		SELECT EXTRACT(HOUR FROM created_at AT TIME ZONE 'UTC')::int AS hour, COUNT(*)
		FROM messages
		WHERE created_at >= $1
		GROUP BY hour`

	rows, err := s.db.QueryContext(ctx, query, windowStart(days, now))
	if err != nil {
		return nil, fmt.Errorf("chatlog: activity by hour: %w", err)
	}
	defer rows.Close()

	raw := make(map[int]int)
	for rows.Next() {
		var hour, n int
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, fmt.Errorf("chatlog: activity by hour: scan: %w", err)
		}
		raw[hour] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatlog: activity by hour: %w", err)
	}
	return fillHours(raw), nil
}

// TopSenders implements Store.
func (s *PostgresStore) TopSenders(ctx context.Context, limit int, excludeFiltered bool) ([]SenderCount, error) {
	const query = `
		SELECT sender, COUNT(*) AS n
		FROM messages
		WHERE ($1 = false OR NOT is_filtered)
		GROUP BY sender
		ORDER BY n DESC, sender ASC
		LIMIT $2`

	lim := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	rows, err := s.db.QueryContext(ctx, query, excludeFiltered, lim)
	if err != nil {
		return nil, fmt.Errorf("chatlog: top senders: %w", err)
	}
	defer rows.Close()

	out := []SenderCount{}
	for rows.Next() {
		var sc SenderCount
		if err := rows.Scan(&sc.Username, &sc.Count); err != nil {
			return nil, fmt.Errorf("chatlog: top senders: scan: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatlog: top senders: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
