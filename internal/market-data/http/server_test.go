package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/market-data/dto"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// fakeLogStore acumula inserts.
type fakeLogStore struct {
	bets []records.StoredBet
	recs []records.AgentRecommendation
}

func (s *fakeLogStore) InsertBet(_ context.Context, b *records.StoredBet) error {
	s.bets = append(s.bets, *b)
	return nil
}

func (s *fakeLogStore) InsertRecommendation(_ context.Context, r *records.AgentRecommendation) error {
	s.recs = append(s.recs, *r)
	return nil
}

// fakeIdemStore é o guard em memória.
type fakeIdemStore struct {
	rows map[string]*records.IdempotencyRecord
}

func (s *fakeIdemStore) Get(_ context.Context, endpoint, userID, key string) (*records.IdempotencyRecord, error) {
	return s.rows[endpoint+"|"+userID+"|"+key], nil
}

func (s *fakeIdemStore) Insert(_ context.Context, rec *records.IdempotencyRecord) (bool, error) {
	k := rec.Endpoint + "|" + rec.UserID + "|" + rec.Key
	if _, ok := s.rows[k]; ok {
		return false, nil
	}
	s.rows[k] = rec
	return true, nil
}

func newTestServer() (*Server, *fakeLogStore) {
	logs := &fakeLogStore{}
	return &Server{
		Log:  zap.NewNop(),
		Logs: logs,
		Idem: &fakeIdemStore{rows: map[string]*records.IdempotencyRecord{}},
	}, logs
}

func postBet(t *testing.T, srv *Server, req dto.PlaceBetRequest, idemKey string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/v1/bets", bytes.NewReader(body))
	if idemKey != "" {
		r.Header.Set("Idempotency-Key", idemKey)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	return w
}

func betRequest() dto.PlaceBetRequest {
	return dto.PlaceBetRequest{
		UserID:     "u1",
		GameID:     "g1",
		MarketType: "spread",
		Selection:  "home",
		Price:      -110,
		Stake:      100,
	}
}

func TestPlaceBetRequiresIdempotencyKey(t *testing.T) {
	srv, logs := newTestServer()

	w := postBet(t, srv, betRequest(), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, logs.bets)
}

func TestPlaceBetReplaysCachedResponse(t *testing.T) {
	srv, logs := newTestServer()

	first := postBet(t, srv, betRequest(), "k1")
	require.Equal(t, http.StatusOK, first.Code)
	require.Len(t, logs.bets, 1)
	assert.Empty(t, first.Header().Get("Idempotency-Replayed"))

	second := postBet(t, srv, betRequest(), "k1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotency-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	// a segunda chamada não grava aposta nova
	assert.Len(t, logs.bets, 1)

	// chave diferente grava de novo
	third := postBet(t, srv, betRequest(), "k2")
	require.Equal(t, http.StatusOK, third.Code)
	assert.Len(t, logs.bets, 2)
}

func TestPlaceBetValidatesPayload(t *testing.T) {
	srv, _ := newTestServer()

	req := betRequest()
	req.Stake = 0
	w := postBet(t, srv, req, "k1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogRecommendationIdempotent(t *testing.T) {
	srv, logs := newTestServer()

	body, _ := json.Marshal(dto.LogRecommendationRequest{
		GameID:     "g1",
		MarketType: "total",
		Selection:  "over",
		Price:      -105,
		Confidence: 0.7,
	})

	send := func(key string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/v1/recommendations", bytes.NewReader(body))
		r.Header.Set("Idempotency-Key", key)
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, r)
		return w
	}

	first := send("k1")
	require.Equal(t, http.StatusOK, first.Code)
	second := send("k1")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Len(t, logs.recs, 1)
	assert.Equal(t, 0.7, logs.recs[0].Confidence)
	assert.Equal(t, records.StatusPending, logs.recs[0].Status)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer()

	r := httptest.NewRequest(http.MethodGet, "/v1/bets", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
