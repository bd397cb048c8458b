package controlplane

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// ErrMissingIdempotencyKey é fatal: endpoints que exigem chave não executam sem ela.
var ErrMissingIdempotencyKey = errors.New("missing idempotency key")

// IdempotencyStore persiste a primeira resposta de cada tripla
// (endpoint, user, key). Insert devolve false quando a tripla já existia
// (first write wins, garantido por unique constraint no storage).
type IdempotencyStore interface {
	Get(ctx context.Context, endpoint, userID, key string) (*records.IdempotencyRecord, error)
	Insert(ctx context.Context, rec *records.IdempotencyRecord) (bool, error)
}

// IdempotencyResult é o retorno do guard: a resposta (nova ou cacheada) e
// se ela foi replay.
type IdempotencyResult struct {
	Response []byte `json:"response"`
	Replayed bool   `json:"replayed"`
}

// WithIdempotency executa handler no máximo uma vez por tripla
// (endpoint, user, key). Chamadas subsequentes devolvem a resposta cacheada
// sem avaliar o handler.
func WithIdempotency(
	ctx context.Context,
	store IdempotencyStore,
	endpoint, userID, key string,
	handler func(ctx context.Context) ([]byte, error),
) (*IdempotencyResult, error) {
	if key == "" {
		return nil, ErrMissingIdempotencyKey
	}

	if existing, err := store.Get(ctx, endpoint, userID, key); err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	} else if existing != nil {
		return &IdempotencyResult{Response: existing.Response, Replayed: true}, nil
	}

	response, err := handler(ctx)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(response)
	inserted, err := store.Insert(ctx, &records.IdempotencyRecord{
		Endpoint:     endpoint,
		UserID:       userID,
		Key:          key,
		Response:     response,
		ResponseHash: hex.EncodeToString(sum[:]),
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency insert: %w", err)
	}
	if !inserted {
		// corrida: outra chamada gravou primeiro; devolve a resposta dela
		existing, err := store.Get(ctx, endpoint, userID, key)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("idempotency race readback: %w", err)
		}
		return &IdempotencyResult{Response: existing.Response, Replayed: true}, nil
	}

	return &IdempotencyResult{Response: response, Replayed: false}, nil
}
