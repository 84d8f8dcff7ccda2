// Package postgres implements the audit store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/meridianhq/tradecore/internal/audit"
)

const (
	queryTimeout = 5 * time.Second

	insertRecord = `
		INSERT INTO audit_records (id, stream, ts, source, correlation_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`

	selectRecords = `
		SELECT id, stream, ts, source, correlation_id, payload
		FROM audit_records
		WHERE stream = $1
		ORDER BY ts DESC, id
		LIMIT $2`
)

// Store appends audit records to the audit_records table.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open connection pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Append inserts one record. Duplicate ids are treated as already-appended
// and succeed, so retried appends stay idempotent.
func (s *Store) Append(ctx context.Context, rec audit.Record) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, insertRecord,
		rec.ID, rec.Stream, rec.Timestamp, rec.Source, rec.CorrelationID, []byte(rec.Payload))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			log.Debug().Str("record_id", rec.ID.String()).Msg("audit record already appended")
			return nil
		}
		return fmt.Errorf("append audit record %s: %w", rec.ID, err)
	}
	return nil
}

// List returns up to limit newest records of stream in reverse append order.
func (s *Store) List(ctx context.Context, stream audit.Stream, limit int) ([]audit.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	var recs []audit.Record
	if err := s.db.SelectContext(ctx, &recs, selectRecords, stream, limit); err != nil {
		return nil, fmt.Errorf("list audit stream %s: %w", stream, err)
	}
	return recs, nil
}

// Schema is the DDL for the audit table. Applied by the operator, kept here
// so the shape lives next to the queries.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id             UUID PRIMARY KEY,
	stream         TEXT NOT NULL,
	ts             TIMESTAMPTZ NOT NULL,
	source         TEXT NOT NULL,
	correlation_id UUID NOT NULL,
	payload        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_stream_ts ON audit_records (stream, ts DESC);
`
