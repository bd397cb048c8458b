package controlplane

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// memIdemStore guarda as triplas em memória (first write wins).
type memIdemStore struct {
	rows map[string]*records.IdempotencyRecord
}

func newMemIdemStore() *memIdemStore {
	return &memIdemStore{rows: map[string]*records.IdempotencyRecord{}}
}

func idemKey(endpoint, userID, key string) string {
	return endpoint + "|" + userID + "|" + key
}

func (s *memIdemStore) Get(_ context.Context, endpoint, userID, key string) (*records.IdempotencyRecord, error) {
	return s.rows[idemKey(endpoint, userID, key)], nil
}

func (s *memIdemStore) Insert(_ context.Context, rec *records.IdempotencyRecord) (bool, error) {
	k := idemKey(rec.Endpoint, rec.UserID, rec.Key)
	if _, exists := s.rows[k]; exists {
		return false, nil
	}
	s.rows[k] = rec
	return true, nil
}

func TestWithIdempotencyRunsHandlerOnce(t *testing.T) {
	store := newMemIdemStore()
	calls := 0
	handler := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte(`{"bet_id":"b1"}`), nil
	}

	first, err := WithIdempotency(context.Background(), store, "/v1/bets", "u1", "k1", handler)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, []byte(`{"bet_id":"b1"}`), first.Response)

	// mesma tripla com handler diferente: resposta cacheada, handler não roda
	second, err := WithIdempotency(context.Background(), store, "/v1/bets", "u1", "k1",
		func(ctx context.Context) ([]byte, error) {
			t.Fatal("handler must not run on replay")
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, 1, calls)
}

func TestWithIdempotencyScopesByTriple(t *testing.T) {
	store := newMemIdemStore()
	handler := func(resp string) func(context.Context) ([]byte, error) {
		return func(ctx context.Context) ([]byte, error) { return []byte(resp), nil }
	}

	a, err := WithIdempotency(context.Background(), store, "/v1/bets", "u1", "k1", handler("a"))
	require.NoError(t, err)
	b, err := WithIdempotency(context.Background(), store, "/v1/bets", "u2", "k1", handler("b"))
	require.NoError(t, err)
	c, err := WithIdempotency(context.Background(), store, "/v1/recommendations", "u1", "k1", handler("c"))
	require.NoError(t, err)

	assert.Equal(t, []byte("a"), a.Response)
	assert.Equal(t, []byte("b"), b.Response)
	assert.Equal(t, []byte("c"), c.Response)
}

func TestWithIdempotencyRequiresKey(t *testing.T) {
	_, err := WithIdempotency(context.Background(), newMemIdemStore(), "/v1/bets", "u1", "",
		func(ctx context.Context) ([]byte, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrMissingIdempotencyKey)
}

func TestWithIdempotencyHandlerErrorNotCached(t *testing.T) {
	store := newMemIdemStore()
	boom := errors.New("db down")

	_, err := WithIdempotency(context.Background(), store, "/v1/bets", "u1", "k1",
		func(ctx context.Context) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	// a falha não gravou nada; a próxima chamada executa de novo
	res, err := WithIdempotency(context.Background(), store, "/v1/bets", "u1", "k1",
		func(ctx context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, []byte("ok"), res.Response)
}

func TestWithIdempotencyInsertRaceReadsBack(t *testing.T) {
	store := newMemIdemStore()

	// simula a corrida: outra chamada grava entre o Get e o Insert
	racing := &racingStore{memIdemStore: store}

	res, err := WithIdempotency(context.Background(), racing, "/v1/bets", "u1", "k1",
		func(ctx context.Context) ([]byte, error) { return []byte("loser"), nil })
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, []byte("winner"), res.Response)
}

// racingStore devolve miss no primeiro Get e perde o Insert pra outra escrita.
type racingStore struct {
	*memIdemStore
	gets int
}

func (s *racingStore) Get(ctx context.Context, endpoint, userID, key string) (*records.IdempotencyRecord, error) {
	s.gets++
	if s.gets == 1 {
		return nil, nil
	}
	return s.memIdemStore.Get(ctx, endpoint, userID, key)
}

func (s *racingStore) Insert(ctx context.Context, rec *records.IdempotencyRecord) (bool, error) {
	// o concorrente venceu a corrida
	winner := *rec
	winner.Response = []byte("winner")
	_, _ = s.memIdemStore.Insert(ctx, &winner)
	return false, nil
}
