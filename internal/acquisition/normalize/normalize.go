package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// Meta carrega o contexto do fetch que originou o corpo sendo normalizado.
type Meta struct {
	SourceURL      string
	SourceDomain   string
	FetchedAt      time.Time
	Checksum       string
	ParserVersion  string
	MaxStalenessMs int64
}

// rawEntry é o formato solto que as fontes devolvem; só os campos do
// data_type em questão são considerados.
type rawEntry struct {
	GameID      string   `json:"game_id"`
	Market      string   `json:"market"`
	MarketType  string   `json:"market_type"`
	Selection   string   `json:"selection"`
	Line        *float64 `json:"line"`
	Price       *float64 `json:"price"`
	Book        string   `json:"book"`
	HomeScore   *int     `json:"home_score"`
	AwayScore   *int     `json:"away_score"`
	CompletedAt string   `json:"completed_at"`
	IsFinal     bool     `json:"is_final"`
	PublishedAt string   `json:"published_at"`
	GameStarts  string   `json:"game_starts_at"`
}

type envelope struct {
	PublishedAt string     `json:"published_at"`
	Records     []rawEntry `json:"records"`
}

// Normalize transforma o corpo cru de um fetch em registros tipados.
// Função pura: sem I/O, sem relógio além do fetchedAt recebido.
// Aceita corpo como objeto único, array, ou envelope {"records": [...]}.
func Normalize(dataType records.DataType, body []byte, meta Meta) ([]records.NormalizedRecord, error) {
	entries, envPublished, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", dataType, err)
	}

	out := make([]records.NormalizedRecord, 0, len(entries))
	for _, e := range entries {
		publishedAt := parseTime(e.PublishedAt)
		if publishedAt.IsZero() {
			publishedAt = parseTime(envPublished)
		}
		if publishedAt.IsZero() {
			publishedAt = meta.FetchedAt // fallback: corpo sem published_at
		}

		stalenessMs := meta.FetchedAt.Sub(publishedAt).Milliseconds()
		if stalenessMs < 0 {
			stalenessMs = 0
		}

		rec := records.NormalizedRecord{
			DataType:       dataType,
			SourceURL:      meta.SourceURL,
			SourceDomain:   meta.SourceDomain,
			FetchedAt:      meta.FetchedAt,
			PublishedAt:    publishedAt,
			ParserVersion:  meta.ParserVersion,
			Checksum:       meta.Checksum,
			StalenessMs:    stalenessMs,
			FreshnessScore: freshness(stalenessMs, meta.MaxStalenessMs),
		}

		switch dataType {
		case records.DataTypeOdds:
			odds := &records.OddsFields{
				GameID:     e.GameID,
				Market:     e.Market,
				MarketType: e.MarketType,
				Selection:  e.Selection,
				Line:       e.Line,
				Price:      e.Price,
				Book:       e.Book,
			}
			if starts := parseTime(e.GameStarts); !starts.IsZero() {
				odds.GameStartsAt = &starts
			}
			rec.Odds = odds
		case records.DataTypeResults:
			if e.HomeScore == nil || e.AwayScore == nil {
				continue // resultado sem placar não serve pra nada
			}
			completedAt := parseTime(e.CompletedAt)
			if completedAt.IsZero() {
				completedAt = publishedAt
			}
			rec.Results = &records.ResultFields{
				GameID:      e.GameID,
				CompletedAt: completedAt,
				Payload: records.ResultPayload{
					HomeScore: *e.HomeScore,
					AwayScore: *e.AwayScore,
				},
				IsFinal: e.IsFinal,
			}
		}

		out = append(out, rec)
	}
	return out, nil
}

// decode tenta envelope, array e objeto único, nessa ordem.
func decode(body []byte) ([]rawEntry, string, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Records) > 0 {
		return env.Records, env.PublishedAt, nil
	}

	var list []rawEntry
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return list, "", nil
	}

	var single rawEntry
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, "", fmt.Errorf("unrecognized body: %w", err)
	}
	return []rawEntry{single}, "", nil
}

// freshness = clamp01(1 - staleness/maxStaleness)
func freshness(stalenessMs, maxStalenessMs int64) float64 {
	if maxStalenessMs <= 0 {
		return 1
	}
	score := 1 - float64(stalenessMs)/float64(maxStalenessMs)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
