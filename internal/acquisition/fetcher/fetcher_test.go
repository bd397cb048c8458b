package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/acquisition/ratelimit"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// memStore guarda as linhas de cache em memória, mais nova por último.
type memStore struct {
	rows []*records.CacheRecord
}

func (m *memStore) Latest(_ context.Context, url string) (*records.CacheRecord, error) {
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].URL == url {
			return m.rows[i], nil
		}
	}
	return nil, nil
}

func (m *memStore) Insert(_ context.Context, rec *records.CacheRecord) error {
	m.rows = append(m.rows, rec)
	return nil
}

func newFetcher(t *testing.T, store CacheStore) *Fetcher {
	t.Helper()
	return New(zap.NewNop(), store, ratelimit.New(nil), 3, 2*time.Second)
}

func TestFetchPersistsCacheRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"game_id":"g1"}`))
	}))
	defer srv.Close()

	store := &memStore{}
	f := newFetcher(t, store)

	resp, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.NotEmpty(t, resp.ContentHash)

	require.Len(t, store.rows, 1)
	assert.Equal(t, `"v1"`, store.rows[0].ETag)
	assert.Equal(t, []byte(`{"game_id":"g1"}`), store.rows[0].Body)
}

func TestConditionalGetServes304FromCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(`{"game_id":"g1"}`))
			return
		}
		// segunda chamada tem que vir condicional
		assert.Equal(t, `"v1"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	store := &memStore{}
	f := newFetcher(t, store)
	var hits int
	f.OnCacheHit = func() { hits++ }

	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	resp, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, []byte(`{"game_id":"g1"}`), resp.Body)
	assert.Equal(t, 1, hits)

	// 304 não grava linha nova
	assert.Len(t, store.rows, 1)
}

func TestBlocklistedDomainFailsFast(t *testing.T) {
	f := newFetcher(t, &memStore{})
	f.Blocklist = []string{"blocked.example.com"}

	_, err := f.Fetch(context.Background(), "https://blocked.example.com/odds")
	assert.ErrorIs(t, err, ErrDomainBlocked)
}

func TestAllowlistRejectsUnknownDomain(t *testing.T) {
	f := newFetcher(t, &memStore{})
	f.Allowlist = []string{"trusted.example.com"}

	_, err := f.Fetch(context.Background(), "https://other.example.com/odds")
	assert.ErrorIs(t, err, ErrDomainNotAllowlisted)
}

func TestRetryRecoversAfterServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newFetcher(t, &memStore{})

	resp, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []byte(`{"ok":true}`), resp.Body)
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFetcher(t, &memStore{})

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
