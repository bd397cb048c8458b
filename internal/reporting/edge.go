package reporting

import (
	"context"
	"fmt"
	"time"
)

// SettledBetRow é a projeção de uma aposta liquidada usada nos relatórios.
// Confidence vem da recomendação vinculada (nil quando a aposta não seguiu
// nenhuma recomendação).
type SettledBetRow struct {
	MarketType string
	Followed   bool
	Confidence *float64
	ClvLine    *float64
	ClvPrice   *float64
	Profit     float64
	Outcome    string
	SettledAt  time.Time
}

// CohortStats agrega CLV médio de um corte de apostas.
type CohortStats struct {
	Count       int     `json:"count"`
	AvgClvLine  float64 `json:"avg_clv_line"`
	AvgClvPrice float64 `json:"avg_clv_price"`
	TotalProfit float64 `json:"total_profit"`
}

// EdgeReport compara o corte "seguiu a recomendação" contra o resto.
type EdgeReport struct {
	WindowDays   int                    `json:"window_days"`
	GeneratedAt  time.Time              `json:"generated_at"`
	Followed     CohortStats            `json:"followed"`
	NotFollowed  CohortStats            `json:"not_followed"`
	DeltaLine    float64                `json:"delta_clv_line"`  // followed - not_followed
	DeltaPrice   float64                `json:"delta_clv_price"` // followed - not_followed
	ByMarketType map[string]CohortStats `json:"by_market_type"`
	ByConfidence map[string]CohortStats `json:"by_confidence"`
}

// Buckets de confiança do relatório.
const (
	bucketLow  = "0.0-0.59"
	bucketMid  = "0.6-0.79"
	bucketHigh = "0.8-1.0"
)

// ReportStore é a superfície de leitura dos relatórios.
type ReportStore interface {
	SettledBetsSince(ctx context.Context, since time.Time) ([]SettledBetRow, error)
	EdgeRecordsSince(ctx context.Context, since time.Time) ([]EdgeRecord, error)
}

// Service gera os relatórios de edge e calibração.
type Service struct {
	Store ReportStore
}

// GenerateEdgeReport agrega as apostas liquidadas da janela em cortes
// seguiu/não-seguiu, por tipo de mercado e por faixa de confiança.
func (s *Service) GenerateEdgeReport(ctx context.Context, windowDays int) (*EdgeReport, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	rows, err := s.Store.SettledBetsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("settled bets: %w", err)
	}
	return BuildEdgeReport(rows, windowDays), nil
}

// BuildEdgeReport é a agregação pura (separada para teste).
func BuildEdgeReport(rows []SettledBetRow, windowDays int) *EdgeReport {
	report := &EdgeReport{
		WindowDays:   windowDays,
		GeneratedAt:  time.Now().UTC(),
		ByMarketType: map[string]CohortStats{},
		ByConfidence: map[string]CohortStats{},
	}

	var followed, notFollowed accumulator
	byMarket := map[string]*accumulator{}
	byConf := map[string]*accumulator{}

	for _, r := range rows {
		if r.Followed {
			followed.add(r)
		} else {
			notFollowed.add(r)
		}

		m, ok := byMarket[r.MarketType]
		if !ok {
			m = &accumulator{}
			byMarket[r.MarketType] = m
		}
		m.add(r)

		if r.Confidence != nil {
			b := confidenceBucket(*r.Confidence)
			c, ok := byConf[b]
			if !ok {
				c = &accumulator{}
				byConf[b] = c
			}
			c.add(r)
		}
	}

	report.Followed = followed.stats()
	report.NotFollowed = notFollowed.stats()
	report.DeltaLine = report.Followed.AvgClvLine - report.NotFollowed.AvgClvLine
	report.DeltaPrice = report.Followed.AvgClvPrice - report.NotFollowed.AvgClvPrice
	for k, a := range byMarket {
		report.ByMarketType[k] = a.stats()
	}
	for k, a := range byConf {
		report.ByConfidence[k] = a.stats()
	}
	return report
}

func confidenceBucket(c float64) string {
	switch {
	case c >= 0.8:
		return bucketHigh
	case c >= 0.6:
		return bucketMid
	default:
		return bucketLow
	}
}

// accumulator soma só as linhas que têm o CLV correspondente preenchido.
type accumulator struct {
	count             int
	sumLine, sumPrice float64
	nLine, nPrice     int
	profit            float64
}

func (a *accumulator) add(r SettledBetRow) {
	a.count++
	a.profit += r.Profit
	if r.ClvLine != nil {
		a.sumLine += *r.ClvLine
		a.nLine++
	}
	if r.ClvPrice != nil {
		a.sumPrice += *r.ClvPrice
		a.nPrice++
	}
}

func (a *accumulator) stats() CohortStats {
	s := CohortStats{Count: a.count, TotalProfit: a.profit}
	if a.nLine > 0 {
		s.AvgClvLine = a.sumLine / float64(a.nLine)
	}
	if a.nPrice > 0 {
		s.AvgClvPrice = a.sumPrice / float64(a.nPrice)
	}
	return s
}
