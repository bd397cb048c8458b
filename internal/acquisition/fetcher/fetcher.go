package fetcher

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mfreitas/odds-settlement-platform/internal/acquisition/ratelimit"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// Erros de política de domínio (fatais, não são retentados).
var (
	ErrDomainBlocked        = errors.New("domain_blocked")
	ErrDomainNotAllowlisted = errors.New("domain_not_allowlisted")
)

// CacheStore é a superfície de persistência do cache de fetch.
// A implementação Postgres vive em fetcher/repo.
type CacheStore interface {
	Latest(ctx context.Context, url string) (*records.CacheRecord, error)
	Insert(ctx context.Context, rec *records.CacheRecord) error
}

// Response é o resultado de um fetch, vindo da rede ou do cache (304).
type Response struct {
	URL         string
	Domain      string
	Status      int
	Body        []byte
	FetchedAt   time.Time
	FromCache   bool
	ContentHash string
}

// Fetcher faz GET condicional com cache, rate limit por domínio e retry
// com backoff linear. Allowlist vazia significa "todos os domínios".
type Fetcher struct {
	Log        *zap.Logger
	Store      CacheStore
	Limiter    *ratelimit.Limiter
	Client     *http.Client
	Allowlist  []string
	Blocklist  []string
	MaxRetries int
	Timeout    time.Duration

	OnFetch    func()       // métricas (counter++)
	OnCacheHit func()       // métricas
	OnError    func(string) // métricas por fase
}

// New monta um fetcher com defaults sãos para retries e timeout.
func New(log *zap.Logger, store CacheStore, lim *ratelimit.Limiter, maxRetries int, timeout time.Duration) *Fetcher {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Fetcher{
		Log:        log,
		Store:      store,
		Limiter:    lim,
		Client:     &http.Client{},
		MaxRetries: maxRetries,
		Timeout:    timeout,
	}
}

// Fetch resolve o domínio, aplica as políticas de bloqueio, espera o rate
// limiter e executa o GET condicional. Um 304 devolve o corpo do cache sem
// gravar linha nova; qualquer outro 2xx persiste um CacheRecord novo.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	domain, err := domainOf(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	if contains(f.Blocklist, domain) {
		return nil, fmt.Errorf("%w: %s", ErrDomainBlocked, domain)
	}
	if len(f.Allowlist) > 0 && !contains(f.Allowlist, domain) {
		return nil, fmt.Errorf("%w: %s", ErrDomainNotAllowlisted, domain)
	}

	if err := f.Limiter.Acquire(ctx, domain); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	// Validadores da última linha do cache para o GET condicional
	var cached *records.CacheRecord
	if f.Store != nil {
		cached, err = f.Store.Latest(ctx, rawURL)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			f.Log.Warn("cache lookup failed", zap.String("url", rawURL), zap.Error(err))
		}
	}

	var lastErr error
	for attempt := 1; attempt <= f.MaxRetries; attempt++ {
		resp, err := f.doOnce(ctx, rawURL, domain, cached)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		if f.OnError != nil {
			f.OnError("network")
		}
		f.Log.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < f.MaxRetries {
			// backoff linear: attempt*250ms
			select {
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("fetch %s: exhausted %d retries: %w", rawURL, f.MaxRetries, lastErr)
}

// doOnce executa uma tentativa única com timeout próprio.
func (f *Fetcher) doOnce(ctx context.Context, rawURL, domain string, cached *records.CacheRecord) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if cached != nil {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		if f.OnCacheHit != nil {
			f.OnCacheHit()
		}
		return &Response{
			URL:         rawURL,
			Domain:      domain,
			Status:      resp.StatusCode,
			Body:        cached.Body,
			FetchedAt:   time.Now().UTC(),
			FromCache:   true,
			ContentHash: cached.ContentHash,
		}, nil
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http %d for %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	now := time.Now().UTC()
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	rec := &records.CacheRecord{
		URL:          rawURL,
		Domain:       domain,
		FetchedAt:    now,
		Status:       resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		ContentHash:  hash,
		Body:         body,
	}
	if f.Store != nil {
		if err := f.Store.Insert(ctx, rec); err != nil {
			// falha de cache não derruba o fetch
			f.Log.Warn("cache insert failed", zap.String("url", rawURL), zap.Error(err))
			if f.OnError != nil {
				f.OnError("cache_insert")
			}
		}
	}
	if f.OnFetch != nil {
		f.OnFetch()
	}

	return &Response{
		URL:         rawURL,
		Domain:      domain,
		Status:      resp.StatusCode,
		Body:        body,
		FetchedAt:   now,
		FromCache:   false,
		ContentHash: hash,
	}, nil
}

// domainOf extrai o hostname (sem porta) da URL.
func domainOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url without host: %s", rawURL)
	}
	return strings.ToLower(host), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
