package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Defaults do bucket por domínio: capacidade 5 tokens, recarga 2/s.
const (
	defaultBurst  = 5
	defaultRefill = rate.Limit(2)
	minIntervalMs = 1
)

// Limiter mantém um token bucket por domínio. O mapa é estado mutável
// compartilhado entre fetchers concorrentes; todo acesso passa pelo mutex
// para que o check-and-decrement de token seja atômico.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	overrides map[string]int64 // domínio -> ms entre requests (WAL_RATE_LIMITS_JSON)
}

// New cria o limiter com overrides por domínio (pode ser nil).
func New(overrides map[string]int64) *Limiter {
	return &Limiter{
		buckets:   make(map[string]*rate.Limiter),
		overrides: overrides,
	}
}

// Acquire bloqueia até haver um token disponível para o domínio.
// Respeita cancelamento via contexto.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	return l.bucket(domain).Wait(ctx)
}

// Allow consome um token sem bloquear; usado em paths que preferem falhar
// rápido a esperar.
func (l *Limiter) Allow(domain string) bool {
	return l.bucket(domain).Allow()
}

// bucket retorna (criando sob o mutex, se preciso) o bucket do domínio.
func (l *Limiter) bucket(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[domain]; ok {
		return b
	}

	limit := defaultRefill
	burst := defaultBurst
	if ms, ok := l.overrides[domain]; ok && ms >= minIntervalMs {
		// override expresso como intervalo mínimo entre requests
		limit = rate.Limit(1000.0 / float64(ms))
		burst = 1
	}

	b := rate.NewLimiter(limit, burst)
	l.buckets[domain] = b
	return b
}
