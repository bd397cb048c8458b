package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// Cache guarda no Redis o último consenso de odds por jogo, pro path de
// leitura não bater no Postgres a cada request.
// Client: cliente Redis
// TTL: tempo de expiração dos registros
type Cache struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewCache cria um cache de consenso com TTL configurável
func NewCache(c *redis.Client, ttl time.Duration) *Cache {
	return &Cache{Client: c, TTL: ttl}
}

// key gera a chave Redis do consenso corrente de um jogo
func key(gameID string) string { return "odds:consensus:" + gameID }

// SetConsensus armazena o consenso corrente de um jogo com TTL definido
func (c *Cache) SetConsensus(ctx context.Context, gameID string, rec *records.ConsensusRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key(gameID), b, c.TTL).Err()
}

// GetConsensus recupera o consenso corrente; (nil, nil) em cache miss
func (c *Cache) GetConsensus(ctx context.Context, gameID string) (*records.ConsensusRecord, error) {
	b, err := c.Client.Get(ctx, key(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec records.ConsensusRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
