package dto

import "github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"

// AcquireResponse devolve o registro de consenso e o que aconteceu com ele.
type AcquireResponse struct {
	Consensus        *records.ConsensusRecord `json:"consensus"`
	SnapshotCaptured bool                     `json:"snapshot_captured"`
	SnapshotID       string                   `json:"snapshot_id,omitempty"`
	ResultPublished  bool                     `json:"result_published"`
}

// PlaceBetResponse confirma o registro da aposta.
type PlaceBetResponse struct {
	BetID    string `json:"bet_id"`
	Status   string `json:"status"`
	Replayed bool   `json:"replayed"`
}

// LogRecommendationResponse confirma o registro da recomendação.
type LogRecommendationResponse struct {
	RecommendationID string `json:"recommendation_id"`
	Status           string `json:"status"`
	Replayed         bool   `json:"replayed"`
}
