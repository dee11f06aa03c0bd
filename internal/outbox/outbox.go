// Package outbox persists events in the same transaction as the state
// change that caused them. A pump publishes rows to the bus afterwards, so
// an event is emitted iff its transaction committed.
package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"ordercore/internal/events"
)

type Row struct {
	ID           int64
	Topic        string
	PartitionKey []byte
	EventType    string
	EventID      string
	Payload      []byte
	CreatedAt    time.Time
	PublishedAt  *time.Time
}

// RowFor wraps payload in a fresh envelope and builds the row for it,
// keyed by the correlation id.
func RowFor(topic, eventType, producer, correlationID string, payload any) (Row, error) {
	env, err := events.New(eventType, producer, correlationID, payload)
	if err != nil {
		return Row{}, err
	}
	return FromEnvelope(topic, events.PartitionKey(correlationID), env)
}

// FromEnvelope builds an insertable row from an event envelope.
func FromEnvelope(topic string, key []byte, env events.Envelope) (Row, error) {
	payload, err := events.Marshal(env)
	if err != nil {
		return Row{}, errors.Wrap(err, "marshal envelope")
	}
	return Row{
		Topic:        topic,
		PartitionKey: key,
		EventType:    env.EventType,
		EventID:      env.EventID,
		Payload:      payload,
	}, nil
}

// Store reads and settles pending rows. Rows publish in insert order; one
// pump runs per service so no row is claimed twice.
type Store interface {
	PollUnpublished(ctx context.Context, limit int) ([]Row, error)
	MarkPublished(ctx context.Context, id int64) error
}

// Execer is the slice of pgx.Tx and pgxpool.Pool that Insert needs.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Insert appends rows through db, which is usually the surrounding
// transaction.
func Insert(ctx context.Context, db Execer, rows ...Row) error {
	for _, r := range rows {
		_, err := db.Exec(ctx,
			`INSERT INTO outbox (topic, partition_key, event_type, event_id, payload)
			 VALUES ($1, $2, $3, $4, $5)`,
			r.Topic, r.PartitionKey, r.EventType, r.EventID, r.Payload,
		)
		if err != nil {
			return errors.Wrap(err, "insert outbox row")
		}
	}
	return nil
}
