package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) PollUnpublished(ctx context.Context, limit int) ([]Row, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, topic, partition_key, event_type, event_id, payload, created_at, published_at
		 FROM outbox
		 WHERE published_at IS NULL
		 ORDER BY id
		 LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "poll outbox")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.Topic, &r.PartitionKey, &r.EventType, &r.EventID,
			&r.Payload, &r.CreatedAt, &r.PublishedAt); err != nil {
			return nil, errors.Wrap(err, "scan outbox row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PGStore) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET published_at = now() WHERE id = $1`, id)
	return errors.Wrap(err, "mark outbox row published")
}

var _ Store = (*PGStore)(nil)
