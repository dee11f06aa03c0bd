package outbox

import (
	"context"
	"sync"
	"time"
)

// MemStore backs tests and local runs. Domain memory repositories append
// rows on commit through Insert.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []Row
}

func NewMemStore() *MemStore {
	return &MemStore{nextID: 1}
}

func (s *MemStore) Insert(rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.ID = s.nextID
		s.nextID++
		r.CreatedAt = time.Now()
		s.rows = append(s.rows, r)
	}
}

func (s *MemStore) PollUnpublished(_ context.Context, limit int) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Row
	for _, r := range s.rows {
		if r.PublishedAt == nil {
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemStore) MarkPublished(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			now := time.Now()
			s.rows[i].PublishedAt = &now
			return nil
		}
	}
	return nil
}

// All returns a copy of every row, published or not.
func (s *MemStore) All() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

var _ Store = (*MemStore)(nil)
