package events

import "time"

// GameResultFinal é o payload publicado no tópico "game_results" quando o
// consenso de resultados produz um placar final. O settlement-worker consome
// esse evento para disparar a liquidação do jogo.
type GameResultFinal struct {
	GameID       string    `json:"game_id"`
	HomeScore    int       `json:"home_score"`
	AwayScore    int       `json:"away_score"`
	CompletedAt  time.Time `json:"completed_at"`
	IsFinal      bool      `json:"is_final"`
	SourceDomain string    `json:"source_domain"`
	TsUnixMs     int64     `json:"ts_unix_ms"`
}
