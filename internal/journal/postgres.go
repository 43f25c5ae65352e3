package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"certreg/pkg/platform/sentinel"
	"certreg/pkg/platform/tx"
)

const (
	postgresTable = "registry_journal"

	pgUniqueViolation = "23505"
)

// PostgresStore persists entries in one table keyed by sequence number. A
// unique index on certificate_id keeps a second writer from reissuing an id.
type PostgresStore struct {
	db    *sql.DB
	table string
}

// NewPostgresStore returns a store writing to schema.registry_journal.
func NewPostgresStore(db *sql.DB, schema string) *PostgresStore {
	if schema == "" {
		schema = "public"
	}
	return &PostgresStore{
		db:    db,
		table: pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(postgresTable),
	}
}

// EnsureSchema creates the schema and table if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context, schema string) error {
	if schema == "" {
		schema = "public"
	}
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(schema),
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			seq            BIGINT PRIMARY KEY,
			kind           TEXT NOT NULL,
			certificate_id BIGINT UNIQUE,
			payload        JSONB NOT NULL,
			recorded_at    TIMESTAMPTZ NOT NULL
		)`,
	}
	return tx.Run(ctx, s.db, nil, func(ctx context.Context) error {
		exec := tx.Executor(ctx, s.db)
		for _, stmt := range stmts {
			if _, err := exec.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("ensure journal schema: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	var certID sql.NullInt64
	if c := entry.CertificateID(); c != 0 {
		certID = sql.NullInt64{Int64: int64(c), Valid: true}
	}

	query := `INSERT INTO ` + s.table + ` (seq, kind, certificate_id, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err = tx.Executor(ctx, s.db).ExecContext(ctx, query,
		int64(entry.Seq), string(entry.Kind), certID, payload, entry.At)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: journal entry %d: %s", sentinel.ErrConflict, entry.Seq, pgErr.ConstraintName)
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Replay reads the table inside a read-only repeatable-read transaction so
// the scan sees one consistent snapshot.
func (s *PostgresStore) Replay(ctx context.Context, fn func(Entry) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	return tx.Run(ctx, s.db, opts, func(ctx context.Context) error {
		rows, err := tx.Executor(ctx, s.db).QueryContext(ctx,
			`SELECT payload FROM `+s.table+` ORDER BY seq`)
		if err != nil {
			return fmt.Errorf("query journal: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var payload []byte
			if err := rows.Scan(&payload); err != nil {
				return fmt.Errorf("scan journal entry: %w", err)
			}
			var entry Entry
			if err := json.Unmarshal(payload, &entry); err != nil {
				return fmt.Errorf("decode journal entry: %w", err)
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

func (s *PostgresStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}
