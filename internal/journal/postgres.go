package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresTableName        = "relay_deliveries"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend persists the delivery journal. The table is created lazily
// on first use so a fresh database needs no migration step.
type PostgresBackend struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	return &PostgresBackend{
		dsn:       dsn,
		tableName: postgresTableName,
		openDB:    sql.Open,
	}, nil
}

func (b *PostgresBackend) Record(ctx context.Context, entry Entry) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, topic, correlation_key, status, detail, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`, postgresQuoteIdentifier(b.tableName))
	_, err := b.db.ExecContext(opCtx, query,
		entry.ID, entry.Topic, entry.Key, string(entry.Status), entry.Detail, entry.ReceivedAt)
	return err
}

func (b *PostgresBackend) Complete(ctx context.Context, id string, status Status, detail string, at time.Time) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, detail = $3, completed_at = $4
		WHERE id = $1`, postgresQuoteIdentifier(b.tableName))
	_, err := b.db.ExecContext(opCtx, query, id, string(status), detail, at)
	return err
}

func (b *PostgresBackend) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, topic, correlation_key, status, detail, received_at, completed_at
		FROM %s ORDER BY received_at DESC LIMIT $1`, postgresQuoteIdentifier(b.tableName))
	rows, err := b.db.QueryContext(opCtx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&entry.ID, &entry.Topic, &entry.Key, &status, &entry.Detail, &entry.ReceivedAt, &completedAt); err != nil {
			return nil, err
		}
		entry.Status = Status(status)
		if completedAt.Valid {
			at := completedAt.Time
			entry.CompletedAt = &at
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (b *PostgresBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				topic TEXT NOT NULL,
				correlation_key TEXT NOT NULL,
				status TEXT NOT NULL,
				detail TEXT NOT NULL DEFAULT '',
				received_at TIMESTAMPTZ NOT NULL,
				completed_at TIMESTAMPTZ
			)`, postgresQuoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func postgresQuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
