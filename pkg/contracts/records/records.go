package records

import "time"

// Tipos de dado que o pipeline de aquisição sabe normalizar.
type DataType string

const (
	DataTypeOdds    DataType = "odds"
	DataTypeResults DataType = "results"
	DataTypeOther   DataType = "other"
)

// Nível de confiança de uma fonte (vem da configuração, não muda em runtime).
type TrustLevel string

const (
	TrustOfficial   TrustLevel = "official"
	TrustBook       TrustLevel = "book"
	TrustAggregator TrustLevel = "aggregator"
)

// SearchSource descreve uma fonte candidata de dados de mercado.
type SearchSource struct {
	Name   string     `json:"name"`
	Domain string     `json:"domain"`
	URL    string     `json:"url"`
	Trust  TrustLevel `json:"trust"`
}

// CacheRecord é uma linha do cache de fetch HTTP (tabela web_cache).
// O fetcher grava uma linha nova por fetch; requests condicionais reutilizam
// os validadores (etag/last_modified) da linha mais recente da URL.
type CacheRecord struct {
	URL          string     `json:"url"`
	Domain       string     `json:"domain"`
	FetchedAt    time.Time  `json:"fetched_at"`
	Status       int        `json:"status"`
	ETag         string     `json:"etag,omitempty"`
	LastModified string     `json:"last_modified,omitempty"`
	ContentHash  string     `json:"content_hash"`
	Body         []byte     `json:"body"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// ResultPayload é o placar final reportado por uma fonte.
type ResultPayload struct {
	HomeScore int `json:"home_score"`
	AwayScore int `json:"away_score"`
}

// OddsFields são os campos específicos de um registro de odds.
type OddsFields struct {
	GameID       string     `json:"game_id"`
	Market       string     `json:"market"`
	MarketType   string     `json:"market_type"` // "moneyline" | "spread" | "total"
	Selection    string     `json:"selection"`
	Line         *float64   `json:"line,omitempty"`
	Price        *float64   `json:"price,omitempty"`
	Book         string     `json:"book"`
	GameStartsAt *time.Time `json:"game_starts_at,omitempty"`
}

// ResultFields são os campos específicos de um registro de resultado.
type ResultFields struct {
	GameID      string        `json:"game_id"`
	CompletedAt time.Time     `json:"completed_at"`
	Payload     ResultPayload `json:"payload"`
	IsFinal     bool          `json:"is_final"`
}

// NormalizedRecord é o registro tipado produzido pelo normalizador a partir
// do corpo cru de um fetch. Criado a cada fetch, nunca mutado.
type NormalizedRecord struct {
	DataType       DataType      `json:"data_type"`
	SourceURL      string        `json:"source_url"`
	SourceDomain   string        `json:"source_domain"`
	FetchedAt      time.Time     `json:"fetched_at"`
	PublishedAt    time.Time     `json:"published_at"`
	ParserVersion  string        `json:"parser_version"`
	Checksum       string        `json:"checksum"`
	StalenessMs    int64         `json:"staleness_ms"`
	FreshnessScore float64       `json:"freshness_score"`
	Odds           *OddsFields   `json:"odds,omitempty"`
	Results        *ResultFields `json:"results,omitempty"`
}

// Nível de consenso entre as fontes consultadas.
type ConsensusLevel string

const (
	ConsensusSingleSource     ConsensusLevel = "single_source"
	ConsensusTwoSourceAgree   ConsensusLevel = "two_source_agree"
	ConsensusThreeSourceAgree ConsensusLevel = "three_source_agree"
	ConsensusConflict         ConsensusLevel = "conflict"
)

// ConsensusRecord é um NormalizedRecord agregado de 1..3 fontes.
// Imutável depois de criado.
type ConsensusRecord struct {
	NormalizedRecord
	ConsensusLevel    ConsensusLevel `json:"consensus_level"`
	SourcesUsed       []string       `json:"sources_used"`
	DisagreementScore float64        `json:"disagreement_score"`
}

// OddsSnapshot é uma observação de odds persistida (tabela odds_snapshots).
// Invariante: não existem dois snapshots da mesma chave (game_id, market,
// selection) dentro de uma janela de 60s.
type OddsSnapshot struct {
	ID                string         `json:"id"`
	GameID            string         `json:"game_id"`
	Market            string         `json:"market"`
	MarketType        string         `json:"market_type"`
	Selection         string         `json:"selection"`
	Line              *float64       `json:"line,omitempty"`
	Price             *float64       `json:"price,omitempty"`
	Book              string         `json:"book"`
	CapturedAt        time.Time      `json:"captured_at"`
	GameStartsAt      *time.Time     `json:"game_starts_at,omitempty"`
	ResolutionReason  string         `json:"resolution_reason,omitempty"` // "closing" | "last_pre_start" | "last_before_result" | "stale_fallback"
	ConsensusLevel    ConsensusLevel `json:"consensus_level"`
	SourcesUsed       []string       `json:"sources_used"`
	DisagreementScore float64        `json:"disagreement_score"`
	StalenessMs       int64          `json:"staleness_ms"`
	FreshnessScore    float64        `json:"freshness_score"`
}

// GameResultRecord é o resultado consolidado de um jogo (tabela game_results).
// is_final=false bloqueia a liquidação.
type GameResultRecord struct {
	GameID         string        `json:"game_id"`
	Payload        ResultPayload `json:"payload"`
	CompletedAt    time.Time     `json:"completed_at"`
	IsFinal        bool          `json:"is_final"`
	SourceDomain   string        `json:"source_domain"`
	StalenessMs    int64         `json:"staleness_ms"`
	FreshnessScore float64       `json:"freshness_score"`
}

// Status do ciclo de vida de apostas e recomendações.
// Máquina de estados: pending -> settled, sem aresta de volta.
const (
	StatusPending = "pending"
	StatusSettled = "settled"
)

// Resultado da liquidação.
const (
	OutcomeWon  = "won"
	OutcomeLost = "lost"
	OutcomePush = "push"
	OutcomeVoid = "void"
)

// StoredBet é uma aposta registrada pelo usuário (tabela bets).
// Mutada exatamente uma vez pelo motor de liquidação (pending -> settled).
type StoredBet struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	GameID           string     `json:"game_id"`
	MarketType       string     `json:"market_type"`
	Selection        string     `json:"selection"`
	Line             *float64   `json:"line,omitempty"`
	Price            float64    `json:"price"` // american, decimal ou probabilidade implícita
	Stake            float64    `json:"stake"`
	RecommendationID *string    `json:"recommendation_id,omitempty"`
	Status           string     `json:"status"`
	Outcome          string     `json:"outcome,omitempty"`
	ClosingLine      *float64   `json:"closing_line,omitempty"`
	ClosingPrice     *float64   `json:"closing_price,omitempty"`
	ClvLine          *float64   `json:"clv_line,omitempty"`
	ClvPrice         *float64   `json:"clv_price,omitempty"`
	SettledProfit    *float64   `json:"settled_profit,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

// AgentRecommendation é uma recomendação logada pelo agente de research
// (tabela agent_recommendations).
type AgentRecommendation struct {
	ID           string     `json:"id"`
	GameID       string     `json:"game_id"`
	MarketType   string     `json:"market_type"`
	Selection    string     `json:"selection"`
	Line         *float64   `json:"line,omitempty"`
	Price        float64    `json:"price"`
	Confidence   float64    `json:"confidence"` // probabilidade prevista [0,1]
	Status       string     `json:"status"`
	Outcome      string     `json:"outcome,omitempty"`
	ClosingLine  *float64   `json:"closing_line,omitempty"`
	ClosingPrice *float64   `json:"closing_price,omitempty"`
	ClvLine      *float64   `json:"clv_line,omitempty"`
	ClvPrice     *float64   `json:"clv_price,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	SettledAt    *time.Time `json:"settled_at,omitempty"`
}

// RecommendationOutcome é a linha imutável de resultado 1:1 com uma
// recomendação liquidada (tabela recommendation_outcomes).
type RecommendationOutcome struct {
	ID               string    `json:"id"`
	RecommendationID string    `json:"recommendation_id"`
	Outcome          string    `json:"outcome"`
	ClvLine          *float64  `json:"clv_line,omitempty"`
	ClvPrice         *float64  `json:"clv_price,omitempty"`
	SettledAt        time.Time `json:"settled_at"`
}

// IdempotencyRecord guarda a primeira resposta de um endpoint idempotente
// (tabela idempotency_records). First write wins na chave (endpoint,user,key).
type IdempotencyRecord struct {
	Endpoint     string    `json:"endpoint"`
	UserID       string    `json:"user_id"`
	Key          string    `json:"key"`
	Response     []byte    `json:"response"`
	ResponseHash string    `json:"response_hash"`
	CreatedAt    time.Time `json:"created_at"`
}
