package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/outbox"
	"ordercore/internal/redisx"
)

func TestGetOrderServedFromCache(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewMemRepo(outbox.NewMemStore())
	c := NewCoordinator(repo, nil, rdb, metrics.New("test"), logger.NewNop(), "order-service")

	cached := Order{ID: "ord-1", CustomerID: "C1", ProductID: "SKU-002", Quantity: 3, Status: StatusConfirmed, CreatedAt: time.Now().UTC()}
	b, err := json.Marshal(&cached)
	require.NoError(t, err)
	mock.ExpectGet(fmt.Sprintf(redisx.KeyOrder, "ord-1")).SetVal(string(b))

	// the repo has no such order, so a hit proves the cache served it
	got, err := c.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, cached.ID, got.ID)
	assert.Equal(t, cached.Status, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderCacheMissFallsBackAndWarms(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewMemRepo(outbox.NewMemStore())
	c := NewCoordinator(repo, nil, rdb, metrics.New("test"), logger.NewNop(), "order-service")

	o := &Order{ID: "ord-2", CustomerID: "C1", ProductID: "SKU-002", Quantity: 3}
	require.NoError(t, repo.CreatePending(context.Background(), o))
	stored, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)

	key := fmt.Sprintf(redisx.KeyOrder, o.ID)
	mock.ExpectGet(key).RedisNil()
	b, err := json.Marshal(stored)
	require.NoError(t, err)
	mock.ExpectSet(key, b, redisx.TTLOrderCache).SetVal("OK")

	got, err := c.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheFailureDoesNotBreakReads(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	repo := NewMemRepo(outbox.NewMemStore())
	c := NewCoordinator(repo, nil, rdb, metrics.New("test"), logger.NewNop(), "order-service")

	o := &Order{ID: "ord-3", CustomerID: "C1", ProductID: "SKU-002", Quantity: 1}
	require.NoError(t, repo.CreatePending(context.Background(), o))

	mock.ExpectGet(fmt.Sprintf(redisx.KeyOrder, o.ID)).SetErr(fmt.Errorf("redis down"))

	got, err := c.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}
