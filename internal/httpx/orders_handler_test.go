package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/orders"
	"ordercore/internal/outbox"
)

type scriptedInventory struct {
	reserve func() (*orders.ReserveResult, error)
}

func (s *scriptedInventory) Reserve(context.Context, string, string, int64, string) (*orders.ReserveResult, error) {
	return s.reserve()
}

func (s *scriptedInventory) Release(context.Context, string, string, string) (*orders.ReleaseResult, error) {
	return &orders.ReleaseResult{Released: true}, nil
}

func newServer(t *testing.T, inv orders.InventoryClient) (*httptest.Server, *orders.MemRepo) {
	t.Helper()
	log := logger.NewNop()
	m := metrics.New("test")
	repo := orders.NewMemRepo(outbox.NewMemStore())
	coord := orders.NewCoordinator(repo, inv, nil, m, log, "order-service")

	router := NewRouter(log, m, nil)
	h := &OrdersHandler{
		Svc:     coord,
		Metrics: m,
		Log:     log,
		DBPing:  func(context.Context) error { return nil },
		BusPing: func(context.Context) error { return nil },
	}
	h.Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, repo
}

func confirming() *scriptedInventory {
	return &scriptedInventory{reserve: func() (*orders.ReserveResult, error) {
		return &orders.ReserveResult{Outcome: orders.OutcomeConfirmed, ReservationID: "res-1", RemainingStock: 197}, nil
	}}
}

func postJSON(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateOrderReturns201WhenConfirmed(t *testing.T) {
	srv, _ := newServer(t, confirming())

	resp := postJSON(t, srv.URL+"/orders", `{"customerId":"C1","productId":"SKU-002","quantity":3}`, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "confirmed", body["status"])
	assert.Equal(t, "res-1", body["reservationId"])
}

func TestCreateOrderReturns400OnValidation(t *testing.T) {
	srv, _ := newServer(t, confirming())

	for _, body := range []string{
		`{"productId":"SKU-002","quantity":3}`,
		`{"customerId":"C1","quantity":3}`,
		`{"customerId":"C1","productId":"SKU-002"}`,
		`{"customerId":"C1","productId":"SKU-002","quantity":0}`,
		`not json`,
	} {
		resp := postJSON(t, srv.URL+"/orders", body, nil)
		assert.Equalf(t, http.StatusBadRequest, resp.StatusCode, "body %s", body)
		resp.Body.Close()
	}
}

func TestCreateOrderReturns400OnDomainFailure(t *testing.T) {
	inv := &scriptedInventory{reserve: func() (*orders.ReserveResult, error) {
		return &orders.ReserveResult{
			Outcome: orders.OutcomeInsufficientStock,
			Message: "Insufficient stock: have 50, need 100",
		}, nil
	}}
	srv, _ := newServer(t, inv)

	resp := postJSON(t, srv.URL+"/orders", `{"customerId":"C1","productId":"SKU-001","quantity":100}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "failed", body["status"])
	assert.Contains(t, body["errorMessage"], "Insufficient stock")
}

func TestCreateOrderReturns202WhenAmbiguous(t *testing.T) {
	inv := &scriptedInventory{reserve: func() (*orders.ReserveResult, error) {
		return nil, errors.Wrap(orders.ErrInventoryAmbiguous, "deadline exceeded")
	}}
	srv, _ := newServer(t, inv)

	resp := postJSON(t, srv.URL+"/orders", `{"customerId":"C1","productId":"SKU-002","quantity":3}`, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "pending_verification", body["status"])
}

func TestCreateOrderReturns500OnHardError(t *testing.T) {
	inv := &scriptedInventory{reserve: func() (*orders.ReserveResult, error) {
		return nil, errors.New("codec exploded")
	}}
	srv, _ := newServer(t, inv)

	resp := postJSON(t, srv.URL+"/orders", `{"customerId":"C1","productId":"SKU-002","quantity":3}`, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateOrderIdempotencyKeyHeader(t *testing.T) {
	srv, _ := newServer(t, confirming())
	headers := map[string]string{"Idempotency-Key": "k-42"}
	body := `{"customerId":"C1","productId":"SKU-002","quantity":3}`

	first := postJSON(t, srv.URL+"/orders", body, headers)
	assert.Equal(t, http.StatusCreated, first.StatusCode)
	firstBody := decodeBody(t, first)

	second := postJSON(t, srv.URL+"/orders", body, headers)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	secondBody := decodeBody(t, second)

	assert.Equal(t, firstBody["id"], secondBody["id"])
	assert.Equal(t, true, secondBody["cached"])
}

func TestCreateOrderConflictingKeyRejected(t *testing.T) {
	srv, _ := newServer(t, confirming())
	headers := map[string]string{"Idempotency-Key": "k-42"}

	first := postJSON(t, srv.URL+"/orders", `{"customerId":"C1","productId":"SKU-002","quantity":3}`, headers)
	require.Equal(t, http.StatusCreated, first.StatusCode)
	first.Body.Close()

	second := postJSON(t, srv.URL+"/orders", `{"customerId":"C1","productId":"SKU-002","quantity":9}`, headers)
	assert.Equal(t, http.StatusConflict, second.StatusCode)
	second.Body.Close()
}

func TestGetOrder(t *testing.T) {
	srv, _ := newServer(t, confirming())

	created := decodeBody(t, postJSON(t, srv.URL+"/orders", `{"customerId":"C1","productId":"SKU-002","quantity":3}`, nil))
	id := created["id"].(string)

	resp, err := http.Get(srv.URL + "/orders/" + id)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, id, body["id"])

	missing, err := http.Get(srv.URL + "/orders/not-a-real-order")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	missing.Body.Close()
}

func TestListOrdersFilter(t *testing.T) {
	srv, _ := newServer(t, confirming())
	for i := 0; i < 3; i++ {
		resp := postJSON(t, srv.URL+"/orders", `{"customerId":"C1","productId":"SKU-002","quantity":1}`, nil)
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/orders?status=confirmed&limit=2")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.EqualValues(t, 2, body["count"])

	bad, err := http.Get(srv.URL + "/orders?status=shipped")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	bad.Body.Close()

	badLimit, err := http.Get(srv.URL + "/orders?limit=abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, badLimit.StatusCode)
	badLimit.Body.Close()
}

func TestCancelOrder(t *testing.T) {
	srv, _ := newServer(t, confirming())
	created := decodeBody(t, postJSON(t, srv.URL+"/orders", `{"customerId":"C1","productId":"SKU-003","quantity":2}`, nil))
	id := created["id"].(string)

	resp := postJSON(t, srv.URL+"/orders/"+id+"/cancel", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "cancelled", body["status"])

	// terminal now
	again := postJSON(t, srv.URL+"/orders/"+id+"/cancel", "", nil)
	assert.Equal(t, http.StatusBadRequest, again.StatusCode)
	again.Body.Close()

	missing := postJSON(t, srv.URL+"/orders/nope/cancel", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	missing.Body.Close()
}

func TestHealthVerdicts(t *testing.T) {
	log := logger.NewNop()
	m := metrics.New("test")
	repo := orders.NewMemRepo(outbox.NewMemStore())
	coord := orders.NewCoordinator(repo, confirming(), nil, m, log, "order-service")

	dbErr := errors.New("db down")
	var dbDown, busDown bool
	router := NewRouter(log, m, nil)
	h := &OrdersHandler{
		Svc: coord, Metrics: m, Log: log,
		DBPing: func(context.Context) error {
			if dbDown {
				return dbErr
			}
			return nil
		},
		BusPing: func(context.Context) error {
			if busDown {
				return dbErr
			}
			return nil
		},
		// downstream inventory health never flips the verdict
		InventoryUp: func(context.Context) bool { return false },
	}
	h.Register(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "down", body["inventory"])

	dbDown = true
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()

	dbDown, busDown = false, true
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimitSheds(t *testing.T) {
	log := logger.NewNop()
	m := metrics.New("test")
	repo := orders.NewMemRepo(outbox.NewMemStore())
	coord := orders.NewCoordinator(repo, confirming(), nil, m, log, "order-service")

	router := NewRouter(log, m, rate.NewLimiter(rate.Limit(0), 1))
	h := &OrdersHandler{
		Svc: coord, Metrics: m, Log: log,
		DBPing: func(context.Context) error { return nil },
	}
	h.Register(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	// one token in the bucket, then 429
	first, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	first.Body.Close()

	second, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	second.Body.Close()
}
