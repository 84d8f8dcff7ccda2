// Package audit provides append-only event streams for every decision the
// core makes. Streams are never updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Stream names the append-only streams the core writes.
type Stream string

const (
	StreamStateTransitions Stream = "state_transitions"
	StreamRiskEvents       Stream = "risk_events"
	StreamOrders           Stream = "orders"
	StreamExecutions       Stream = "executions"
	StreamUserProfits      Stream = "user_profits"
	StreamWeights          Stream = "weights"
	StreamLifecycle        Stream = "lifecycle"
)

// Record is one audit entry. Payload is opaque JSON owned by the writer.
type Record struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Stream        Stream          `json:"stream" db:"stream"`
	Timestamp     time.Time       `json:"timestamp" db:"ts"`
	Source        string          `json:"source" db:"source"`
	CorrelationID uuid.UUID       `json:"correlation_id" db:"correlation_id"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
}

// NewRecord builds a record with a fresh id and UTC timestamp. payload must
// be JSON-marshalable; marshal failures fall back to a quoted error string
// so the append itself never fails on payload shape.
func NewRecord(stream Stream, source string, correlationID uuid.UUID, payload any) Record {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	return Record{
		ID:            uuid.New(),
		Stream:        stream,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		CorrelationID: correlationID,
		Payload:       raw,
	}
}

// Store is an append-only sink. Implementations must preserve append order
// within a stream.
type Store interface {
	Append(ctx context.Context, rec Record) error
	List(ctx context.Context, stream Stream, limit int) ([]Record, error)
}
