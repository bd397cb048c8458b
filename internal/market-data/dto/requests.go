package dto

import "github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"

// AcquireRequest dispara uma aquisição de consenso para um data_type.
type AcquireRequest struct {
	DataType string                 `json:"data_type"` // "odds" | "results" | "other"
	Sources  []records.SearchSource `json:"sources"`
}

// PlaceBetRequest registra uma aposta pendente.
// A chave de idempotência vem no header Idempotency-Key.
type PlaceBetRequest struct {
	UserID           string   `json:"user_id"`
	GameID           string   `json:"game_id"`
	MarketType       string   `json:"market_type"`
	Selection        string   `json:"selection"`
	Line             *float64 `json:"line,omitempty"`
	Price            float64  `json:"price"`
	Stake            float64  `json:"stake"`
	RecommendationID *string  `json:"recommendation_id,omitempty"`
}

// LogRecommendationRequest registra uma recomendação do agente.
type LogRecommendationRequest struct {
	GameID     string   `json:"game_id"`
	MarketType string   `json:"market_type"`
	Selection  string   `json:"selection"`
	Line       *float64 `json:"line,omitempty"`
	Price      float64  `json:"price"`
	Confidence float64  `json:"confidence"`
}
