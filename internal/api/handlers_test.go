package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/powermarket/internal/apperr"
	"github.com/xtrntr/powermarket/internal/auth"
	"github.com/xtrntr/powermarket/internal/events"
	"github.com/xtrntr/powermarket/internal/matching"
	"github.com/xtrntr/powermarket/internal/models"
	"github.com/xtrntr/powermarket/internal/window"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret   = "test-secret"
	testAdminKey = "operator-key"
)

// memStore is an in-memory OrderStore
type memStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]models.Order
	trades []models.Trade
	err    error
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[uuid.UUID]models.Order)}
}

func (s *memStore) ListOrders(_ context.Context, side models.Side, ownerID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := []models.Order{}
	for _, o := range s.orders {
		if o.Side == side && o.OwnerID == ownerID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (s *memStore) ListAllOrders(_ context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := []models.Order{}
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *memStore) GetOrder(_ context.Context, side models.Side, id uuid.UUID) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Side != side {
		return nil, apperr.NotFound(sideNoun(side) + " not found")
	}
	return &o, nil
}

func (s *memStore) CreateOrders(_ context.Context, orders []models.Order) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	now := time.Now().UTC()
	created := make([]models.Order, 0, len(orders))
	for i, o := range orders {
		o.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		o.UpdatedAt = o.CreatedAt
		s.orders[o.ID] = o
		created = append(created, o)
	}
	return created, nil
}

func (s *memStore) UpdateOrder(_ context.Context, order *models.Order) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.UpdatedAt = time.Now().UTC()
	s.orders[order.ID] = *order
	return order, nil
}

func (s *memStore) DeleteOrder(_ context.Context, side models.Side, id uuid.UUID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Side != side || o.OwnerID != ownerID {
		return apperr.NotFound(sideNoun(side) + " not found")
	}
	delete(s.orders, id)
	return nil
}

func (s *memStore) ListTrades(_ context.Context, counterpartyID string, role models.TradeRole) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trades := []models.Trade{}
	for _, t := range s.trades {
		buyer := t.BuyerID == counterpartyID && role != models.RoleSeller
		seller := t.SellerID == counterpartyID && role != models.RoleBuyer
		if buyer || seller {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

func (s *memStore) CreateTrades(_ context.Context, trades []models.Trade) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if t.ExecutedAt.IsZero() {
			t.ExecutedAt = time.Now().UTC()
		}
		s.trades = append(s.trades, t)
		created = append(created, t)
	}
	return created, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// memWindows is an in-memory window.Repository
type memWindows struct {
	mu     sync.Mutex
	window *models.SubmissionWindow
}

func (m *memWindows) UpsertWindow(_ context.Context, openTime, closeTime time.Time) (*models.SubmissionWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = &models.SubmissionWindow{ID: models.SubmissionWindowID, OpenTime: openTime, CloseTime: closeTime}
	w := *m.window
	return &w, nil
}

func (m *memWindows) GetWindow(_ context.Context) (*models.SubmissionWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.window == nil {
		return nil, nil
	}
	w := *m.window
	return &w, nil
}

func (m *memWindows) ResetWindow(_ context.Context, now time.Time) (*models.SubmissionWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.window == nil {
		return nil, nil
	}
	m.window.OpenTime, m.window.CloseTime = now, now
	w := *m.window
	return &w, nil
}

func (m *memWindows) DeleteWindow(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = nil
	return 0, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evs ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evs...)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type stubMatcher struct {
	book   matching.Book
	calls  int
	trades []models.Trade
	err    error
}

func (m *stubMatcher) Match(_ context.Context, book matching.Book) ([]models.Trade, error) {
	m.book = book
	m.calls++
	return m.trades, m.err
}

type testEnv struct {
	router    http.Handler
	handler   *Handler
	store     *memStore
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	authenticator, err := auth.NewAuthenticator("", testSecret, nil)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	require.NoError(t, err)
	guard, err := auth.NewAdminGuard(string(hash))
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	env := &testEnv{
		store:     newMemStore(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	windows := window.NewService(&memWindows{}, nil, logger)
	env.handler = NewHandler(env.store, windows, authenticator, env.notifier, env.publisher, logger)
	env.handler.Admin = guard
	env.router = NewRouter(env.handler, nil, []string{"*"})
	return env
}

func token(t *testing.T, userID string) string {
	tok, err := auth.SignToken(testSecret, userID, "", time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) admin(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(auth.AdminKeyHeader, testAdminKey)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func (e *testEnv) createBid(t *testing.T, userID string) models.Order {
	rr := e.do(t, "POST", "/bids", userID, []map[string]interface{}{{"price": "45.50", "quantity": "10"}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created []models.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	require.Len(t, created, 1)
	return created[0]
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/me", "/bids", "/offers"} {
		rr := env.do(t, "GET", path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
		assert.Equal(t, apperr.KindUnauthorized, decodeError(t, rr).Code)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/me", "user_disco", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"user":"user_disco"}`, rr.Body.String())
}

func TestCreateOrders(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		body           interface{}
		expectedStatus int
		expectedCount  int
	}{
		{
			name: "BatchOfBids",
			path: "/bids",
			body: []map[string]interface{}{
				{"price": 45.5, "quantity": 10},
				{"price": "46", "quantity": "5", "delivery_start": "2025-06-01T10:00:00+01:00", "delivery_end": "2025-06-01T11:00:00+01:00"},
			},
			expectedStatus: http.StatusCreated,
			expectedCount:  2,
		},
		{
			name:           "Offer",
			path:           "/offers",
			body:           []map[string]interface{}{{"price": 30, "quantity": 100}},
			expectedStatus: http.StatusCreated,
			expectedCount:  1,
		},
		{
			name:           "EmptyBatch",
			path:           "/bids",
			body:           []map[string]interface{}{},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "OneInvalidItemRejectsBatch",
			path: "/bids",
			body: []map[string]interface{}{
				{"price": 45.5, "quantity": 10},
				{"price": 45.5, "quantity": 0},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "MissingPrice",
			path:           "/offers",
			body:           []map[string]interface{}{{"quantity": 10}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "NegativePrice",
			path:           "/offers",
			body:           []map[string]interface{}{{"price": -1, "quantity": 10}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "PriceAtStoredPrecision",
			path:           "/offers",
			body:           `[{"price": "99999999999999.9999", "quantity": "1.50000"}]`,
			expectedStatus: http.StatusCreated,
			expectedCount:  1,
		},
		{
			name:           "PriceTooPrecise",
			path:           "/offers",
			body:           `[{"price": "45.12345", "quantity": 10}]`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "QuantityTooPrecise",
			path:           "/bids",
			body:           `[{"price": 45, "quantity": "0.00001"}]`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "PriceOutOfRange",
			path:           "/bids",
			body:           `[{"price": "100000000000000", "quantity": 10}]`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "QuantityOutOfRange",
			path:           "/offers",
			body:           `[{"price": 45, "quantity": "1e15"}]`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "DeliveryEndBeforeStart",
			path: "/bids",
			body: []map[string]interface{}{
				{"price": 1, "quantity": 1, "delivery_start": "2025-06-01T11:00:00Z", "delivery_end": "2025-06-01T10:00:00Z"},
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "TimestampWithoutOffset",
			path:           "/bids",
			body:           `[{"price": 1, "quantity": 1, "delivery_start": "2025-06-01T11:00:00"}]`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "NotAnArray",
			path:           "/bids",
			body:           `{"price": 1, "quantity": 1}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rr := env.do(t, "POST", tt.path, "user_1", tt.body)
			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			assert.Equal(t, tt.expectedCount, env.store.count())

			if tt.expectedStatus != http.StatusCreated {
				assert.Equal(t, apperr.KindValidation, decodeError(t, rr).Code)
				assert.Empty(t, env.publisher.types())
				return
			}

			var created []models.Order
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
			assert.Len(t, created, tt.expectedCount)
			for _, o := range created {
				assert.Equal(t, "user_1", o.OwnerID)
				assert.NotEqual(t, uuid.Nil, o.ID)
				if o.DeliveryStart != nil {
					assert.Equal(t, time.UTC, o.DeliveryStart.Location())
				}
			}
			assert.Len(t, env.publisher.types(), tt.expectedCount)
		})
	}
}

func TestCreateOrders_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.err = apperr.Upstream("failed to create order", errors.New("connection reset by peer"))

	rr := env.do(t, "POST", "/bids", "user_1", []map[string]interface{}{{"price": 1, "quantity": 1}})
	require.Equal(t, http.StatusBadGateway, rr.Code)

	resp := decodeError(t, rr)
	assert.Equal(t, apperr.KindUpstream, resp.Code)
	assert.NotContains(t, resp.Error, "connection reset")
	assert.Zero(t, env.store.count())
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("broker down")

	env.createBid(t, "user_1")
	assert.Equal(t, 1, env.store.count())
}

func TestListOrders_OnlyOwnSide(t *testing.T) {
	env := newTestEnv(t)
	bid := env.createBid(t, "user_a")
	env.createBid(t, "user_b")
	rr := env.do(t, "POST", "/offers", "user_a", []map[string]interface{}{{"price": 30, "quantity": 1}})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, "GET", "/bids", "user_a", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var bids []models.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&bids))
	require.Len(t, bids, 1)
	assert.Equal(t, bid.ID, bids[0].ID)

	rr = env.do(t, "GET", "/offers", "user_c", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestUpdateOrder_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	bid := env.createBid(t, "user_a")

	rr := env.do(t, "PUT", "/bids/"+bid.ID.String(), "user_b", map[string]interface{}{"price": 99})
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, apperr.KindForbidden, decodeError(t, rr).Code)

	rr = env.do(t, "PUT", "/bids/"+bid.ID.String(), "user_a", map[string]interface{}{"price": 99})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var updated models.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&updated))
	assert.True(t, decimal.NewFromInt(99).Equal(updated.Price))
	// Fields not provided are kept
	assert.True(t, decimal.NewFromInt(10).Equal(updated.Quantity))
	assert.Equal(t, []string{events.OrderCreated, events.OrderUpdated}, env.publisher.types())
}

func TestUpdateOrder_Errors(t *testing.T) {
	env := newTestEnv(t)
	bid := env.createBid(t, "user_a")

	tests := []struct {
		name           string
		path           string
		body           interface{}
		expectedStatus int
	}{
		{"Missing", "/bids/" + uuid.NewString(), map[string]interface{}{"price": 1}, http.StatusNotFound},
		{"MalformedID", "/bids/42", map[string]interface{}{"price": 1}, http.StatusNotFound},
		{"WrongSide", "/offers/" + bid.ID.String(), map[string]interface{}{"price": 1}, http.StatusNotFound},
		{"InvalidMerge", "/bids/" + bid.ID.String(), map[string]interface{}{"quantity": -5}, http.StatusBadRequest},
		{"PriceTooPrecise", "/bids/" + bid.ID.String(), `{"price": "12.34567"}`, http.StatusBadRequest},
		{"QuantityOutOfRange", "/bids/" + bid.ID.String(), `{"quantity": "123456789012345"}`, http.StatusBadRequest},
		{"InvalidBody", "/bids/" + bid.ID.String(), "{", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "PUT", tt.path, "user_a", tt.body)
			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestDeleteOrder(t *testing.T) {
	env := newTestEnv(t)
	bid := env.createBid(t, "user_a")

	rr := env.do(t, "DELETE", "/bids/"+uuid.NewString(), "user_a", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apperr.KindNotFound, decodeError(t, rr).Code)

	rr = env.do(t, "DELETE", "/bids/"+bid.ID.String(), "user_b", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 1, env.store.count())

	rr = env.do(t, "DELETE", "/offers/"+bid.ID.String(), "user_a", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, "DELETE", "/bids/"+bid.ID.String(), "user_a", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, env.store.count())
	assert.Equal(t, []string{events.OrderCreated, events.OrderDeleted}, env.publisher.types())

	rr = env.do(t, "DELETE", "/bids/"+bid.ID.String(), "user_a", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListTrades(t *testing.T) {
	env := newTestEnv(t)
	env.store.trades = []models.Trade{
		{ID: uuid.New(), BuyerID: "disco_1", SellerID: "genco_1", Price: decimal.NewFromInt(40), Quantity: decimal.NewFromInt(5)},
		{ID: uuid.New(), BuyerID: "genco_1", SellerID: "disco_2", Price: decimal.NewFromInt(41), Quantity: decimal.NewFromInt(1)},
	}

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedCount  int
	}{
		{"EitherSide", "/trades/genco_1", http.StatusOK, 2},
		{"AsSeller", "/trades/genco_1?role=seller", http.StatusOK, 1},
		{"AsBuyer", "/trades/disco_1?role=buyer", http.StatusOK, 1},
		{"NoneForRole", "/trades/disco_1?role=seller", http.StatusNotFound, 0},
		{"Unknown", "/trades/nobody", http.StatusNotFound, 0},
		{"InvalidRole", "/trades/genco_1?role=broker", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "GET", tt.path, "", nil)
			require.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var trades []models.Trade
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&trades))
			assert.Len(t, trades, tt.expectedCount)
		})
	}
}

func TestSubmissionWindow_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/submission-window", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = env.admin(t, "PUT", "/submission-window/reset", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	body := map[string]string{"open_time": "2025-06-01T09:00:00+01:00", "close_time": "2025-06-01T12:00:00+01:00"}
	rr = env.admin(t, "POST", "/submission-window", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var set models.SubmissionWindow
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&set))
	assert.Equal(t, models.SubmissionWindowID, set.ID)
	assert.True(t, set.OpenTime.Equal(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)))

	// Replacing keeps a single record
	body["close_time"] = "2025-06-01T13:00:00+01:00"
	rr = env.admin(t, "POST", "/submission-window", body)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, "GET", "/submission-window", "", nil)
	var windows []models.SubmissionWindow
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&windows))
	require.Len(t, windows, 1)
	assert.True(t, windows[0].CloseTime.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	assert.Contains(t, rr.Body.String(), `"close_time":"2025-06-01T12:00:00Z"`)

	before := time.Now().UTC()
	rr = env.admin(t, "PUT", "/submission-window/reset", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var reset models.SubmissionWindow
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&reset))
	assert.True(t, reset.OpenTime.Equal(reset.CloseTime))
	assert.WithinDuration(t, before, reset.CloseTime, time.Second)

	rr = env.admin(t, "DELETE", "/submission-window", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.admin(t, "DELETE", "/submission-window", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, "GET", "/submission-window", "", nil)
	assert.JSONEq(t, `[]`, rr.Body.String())

	assert.Equal(t, []string{
		"Submission window updated",
		"Submission window updated",
		"Submission window reset",
		"Submission window deleted",
		"Submission window deleted",
	}, env.notifier.msgs)
}

func TestSetWindow_Validation(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"CloseBeforeOpen", map[string]string{"open_time": "2025-06-01T12:00:00Z", "close_time": "2025-06-01T09:00:00Z"}},
		{"MissingClose", map[string]string{"open_time": "2025-06-01T12:00:00Z"}},
		{"NoOffset", map[string]string{"open_time": "2025-06-01T09:00:00", "close_time": "2025-06-01T12:00:00"}},
		{"NotATime", map[string]string{"open_time": "tomorrow", "close_time": "2025-06-01T12:00:00Z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rr := env.admin(t, "POST", "/submission-window", tt.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, apperr.KindValidation, decodeError(t, rr).Code)

			rr = env.do(t, "GET", "/submission-window", "", nil)
			assert.JSONEq(t, `[]`, rr.Body.String())
		})
	}
}

func TestAdminKey(t *testing.T) {
	env := newTestEnv(t)
	body := `{"open_time": "2025-06-01T09:00:00Z", "close_time": "2025-06-01T12:00:00Z"}`

	req := httptest.NewRequest("POST", "/submission-window", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest("POST", "/submission-window", bytes.NewBufferString(body))
	req.Header.Set(auth.AdminKeyHeader, "wrong")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Without a configured guard admin routes are open
	env.handler.Admin = nil
	req = httptest.NewRequest("POST", "/submission-window", bytes.NewBufferString(body))
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMatch(t *testing.T) {
	env := newTestEnv(t)
	bid := env.createBid(t, "disco_1")
	rr := env.do(t, "POST", "/offers", "genco_1", []map[string]interface{}{{"price": 40, "quantity": 10}})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.admin(t, "POST", "/match", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	matcher := &stubMatcher{trades: []models.Trade{{
		ID:       uuid.New(),
		BuyerID:  "disco_1",
		SellerID: "genco_1",
		BidID:    &bid.ID,
		Price:    decimal.NewFromInt(42),
		Quantity: decimal.NewFromInt(10),
	}}}
	env.handler.Matcher = matcher

	rr = env.admin(t, "POST", "/match", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var trades []models.Trade
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&trades))
	require.Len(t, trades, 1)
	assert.False(t, trades[0].ExecutedAt.IsZero())

	assert.Len(t, matcher.book.Bids, 1)
	assert.Len(t, matcher.book.Offers, 1)
	assert.Contains(t, env.notifier.msgs, "Matching completed: 1 trades")
	assert.Contains(t, env.publisher.types(), events.TradeCreated)

	rr = env.do(t, "GET", "/trades/genco_1?role=seller", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestMatch_EmptyBookSkipsEngine(t *testing.T) {
	env := newTestEnv(t)
	matcher := &stubMatcher{err: errors.New("must not be called")}
	env.handler.Matcher = matcher

	rr := env.admin(t, "POST", "/match", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	// Bids alone cannot match
	env.createBid(t, "disco_1")
	rr = env.admin(t, "POST", "/match", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	assert.Zero(t, matcher.calls)
	assert.Empty(t, env.notifier.msgs)
}

func TestMatch_EngineFailure(t *testing.T) {
	env := newTestEnv(t)
	env.createBid(t, "disco_1")
	rr := env.do(t, "POST", "/offers", "genco_1", []map[string]interface{}{{"price": 40, "quantity": 10}})
	require.Equal(t, http.StatusCreated, rr.Code)
	env.handler.Matcher = &stubMatcher{err: apperr.Upstream("matching engine unavailable", errors.New("dial tcp: refused"))}

	rr = env.admin(t, "POST", "/match", nil)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "matching engine unavailable", decodeError(t, rr).Error)
	assert.Empty(t, env.store.trades)
}

func TestWebhook(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/webhook", "", map[string]interface{}{
		"type": "user.created",
		"data": map[string]interface{}{
			"id":              "user_123",
			"email_addresses": []map[string]string{{"email_address": "ops@example.com"}},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"success"`)

	rr = env.do(t, "POST", "/webhook", "", map[string]interface{}{"type": "session.ended"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ignored"`)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
