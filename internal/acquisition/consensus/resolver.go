package consensus

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mfreitas/odds-settlement-platform/internal/acquisition/fetcher"
	"github.com/mfreitas/odds-settlement-platform/internal/acquisition/normalize"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/events"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// maxSources limita o fan-out: só as 3 melhores fontes são consultadas.
const maxSources = 3

// Pesos do ranking de fontes e tabela de trust por categoria.
const (
	trustWeight     = 0.7
	agreementWeight = 0.3

	defaultAgreement = 0.5
)

var trustScores = map[records.TrustLevel]float64{
	records.TrustOfficial:   1.0,
	records.TrustBook:       0.8,
	records.TrustAggregator: 0.6,
}

// Fetcher é a fatia do fetcher HTTP que o resolver usa.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
}

// Bus publica eventos de auditoria do control plane.
type Bus interface {
	Emit(ctx context.Context, ev events.Typed) error
}

// Resolver consulta as fontes ranqueadas em paralelo (pool limitado) e reduz
// os registros normalizados em um único ConsensusRecord.
type Resolver struct {
	Log     *zap.Logger
	Fetcher Fetcher
	Bus     Bus

	ParserVersion       string
	OddsStalenessMs     int64
	ResultsStalenessMs  int64
	HistoricalAgreement map[string]float64 // por domínio; ausente = 0.5

	ResultsRequireConsensus bool
	MinAgreeingSources      int

	OnResolved func(level string) // métricas
}

// rankedSource carrega a fonte com o score calculado.
type rankedSource struct {
	src   records.SearchSource
	score float64
}

// Acquire ranqueia as fontes, busca as top-3 e agrega o resultado.
// Retorna (nil, nil) quando nenhuma fonte devolve registro aproveitável.
func (r *Resolver) Acquire(ctx context.Context, sources []records.SearchSource, dataType records.DataType) (*records.ConsensusRecord, error) {
	ranked := r.rank(sources)
	if len(ranked) > maxSources {
		ranked = ranked[:maxSources]
	}

	type fetched struct {
		domain string
		rec    records.NormalizedRecord
	}

	var mu sync.Mutex
	var got []fetched

	// Fan-out limitado; o rate limiter dentro do fetcher continua sendo a
	// fonte de verdade do throttling.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSources)
	for _, rs := range ranked {
		rs := rs
		g.Go(func() error {
			recs, err := r.fetchNormalized(gctx, rs.src, dataType)
			if err != nil {
				// fonte que falha é pulada, não derruba o consenso
				r.Log.Warn("source fetch failed",
					zap.String("domain", rs.src.Domain),
					zap.Error(err),
				)
				return nil
			}
			if len(recs) == 0 {
				return nil
			}
			mu.Lock()
			got = append(got, fetched{domain: rs.src.Domain, rec: recs[0]})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(got) == 0 {
		return nil, nil
	}

	// Mantém a ordem do ranking para que "primeiro registro" seja o da
	// fonte mais confiável.
	ordered := make([]records.NormalizedRecord, 0, len(got))
	domains := make([]string, 0, len(got))
	for _, rs := range ranked {
		for _, f := range got {
			if f.domain == rs.src.Domain {
				ordered = append(ordered, f.rec)
				domains = append(domains, f.domain)
			}
		}
	}

	var out *records.ConsensusRecord
	switch dataType {
	case records.DataTypeResults:
		out = r.reduceResults(ctx, ordered, domains)
	case records.DataTypeOdds:
		out = r.reduceOdds(ordered, domains)
	default:
		out = singleSource(ordered[0], domains)
	}

	_ = r.Bus.Emit(ctx, events.ConsensusEvaluated{
		DataType:          string(dataType),
		GameID:            gameIDOf(out),
		ConsensusLevel:    string(out.ConsensusLevel),
		SourcesUsed:       out.SourcesUsed,
		DisagreementScore: out.DisagreementScore,
	})
	if r.OnResolved != nil {
		r.OnResolved(string(out.ConsensusLevel))
	}

	return out, nil
}

// fetchNormalized executa fetch + normalização para uma fonte.
func (r *Resolver) fetchNormalized(ctx context.Context, src records.SearchSource, dataType records.DataType) ([]records.NormalizedRecord, error) {
	resp, err := r.Fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	maxStaleness := r.OddsStalenessMs
	if dataType == records.DataTypeResults {
		maxStaleness = r.ResultsStalenessMs
	}
	recs, err := normalize.Normalize(dataType, resp.Body, normalize.Meta{
		SourceURL:      src.URL,
		SourceDomain:   src.Domain,
		FetchedAt:      resp.FetchedAt,
		Checksum:       resp.ContentHash,
		ParserVersion:  r.ParserVersion,
		MaxStalenessMs: maxStaleness,
	})
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", src.Domain, err)
	}
	return recs, nil
}

// rank ordena as fontes por score = trust*0.7 + agreement*0.3 (desc).
func (r *Resolver) rank(sources []records.SearchSource) []rankedSource {
	ranked := make([]rankedSource, 0, len(sources))
	for _, s := range sources {
		trust, ok := trustScores[s.Trust]
		if !ok {
			trust = trustScores[records.TrustAggregator]
		}
		agreement := defaultAgreement
		if v, ok := r.HistoricalAgreement[s.Domain]; ok {
			agreement = v
		}
		ranked = append(ranked, rankedSource{
			src:   s,
			score: trust*trustWeight + agreement*agreementWeight,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

// reduceResults agrupa por placar exato e decide nível e finalidade.
func (r *Resolver) reduceResults(ctx context.Context, recs []records.NormalizedRecord, domains []string) *records.ConsensusRecord {
	type scoreKey struct{ home, away int }
	groups := map[scoreKey]int{}
	for _, rec := range recs {
		if rec.Results == nil {
			continue
		}
		k := scoreKey{rec.Results.Payload.HomeScore, rec.Results.Payload.AwayScore}
		groups[k]++
	}

	total := len(recs)
	topAgreement := 0
	var topKey scoreKey
	for k, n := range groups {
		if n > topAgreement {
			topAgreement = n
			topKey = k
		}
	}

	level := records.ConsensusSingleSource
	switch {
	case topAgreement >= 3:
		level = records.ConsensusThreeSourceAgree
	case topAgreement >= 2:
		level = records.ConsensusTwoSourceAgree
	case total > 1:
		level = records.ConsensusConflict
	}

	disagreement := 1.0
	if total > 0 {
		disagreement = 1 - float64(topAgreement)/float64(total)
	}

	first := recs[0]
	out := &records.ConsensusRecord{
		NormalizedRecord:  first,
		ConsensusLevel:    level,
		SourcesUsed:       domains,
		DisagreementScore: disagreement,
	}

	// Cópia dos campos de resultado com o placar vencedor do agrupamento
	res := *first.Results
	res.Payload = records.ResultPayload{HomeScore: topKey.home, AwayScore: topKey.away}

	// Política de finalidade: consenso não conflitante + mínimo de fontes
	// concordando + a própria fonte dizendo que acabou.
	if r.ResultsRequireConsensus {
		res.IsFinal = level != records.ConsensusConflict &&
			topAgreement >= r.MinAgreeingSources &&
			first.Results.IsFinal
	}
	out.Results = &res

	if r.ResultsRequireConsensus && !res.IsFinal {
		// Sinaliza que a liquidação deve segurar até as fontes convergirem
		_ = r.Bus.Emit(ctx, events.ConsensusConflict{
			DataType:          string(records.DataTypeResults),
			GameID:            res.GameID,
			SourcesUsed:       domains,
			DisagreementScore: disagreement,
		})
	}

	return out
}

// reduceOdds tira a mediana de line e price. O nível aqui é puramente por
// contagem de fontes: preços variam continuamente, "conflito" não se aplica.
func (r *Resolver) reduceOdds(recs []records.NormalizedRecord, domains []string) *records.ConsensusRecord {
	var lines, prices []float64
	for _, rec := range recs {
		if rec.Odds == nil {
			continue
		}
		if rec.Odds.Line != nil {
			lines = append(lines, *rec.Odds.Line)
		}
		if rec.Odds.Price != nil {
			prices = append(prices, *rec.Odds.Price)
		}
	}

	level := records.ConsensusSingleSource
	switch len(recs) {
	case 2:
		level = records.ConsensusTwoSourceAgree
	case 3:
		level = records.ConsensusThreeSourceAgree
	}

	disagreement := avgAbsDev(lines) + avgAbsDev(prices)/100

	first := recs[0]
	out := &records.ConsensusRecord{
		NormalizedRecord:  first,
		ConsensusLevel:    level,
		SourcesUsed:       domains,
		DisagreementScore: disagreement,
	}

	odds := *first.Odds
	if len(lines) > 0 {
		m := median(lines)
		odds.Line = &m

		// Aviso de spread largo entre as fontes (não bloqueia nada)
		if _, spread, warn := ConsensusLine(lines); warn {
			r.Log.Warn("wide line spread across sources",
				zap.String("game_id", odds.GameID),
				zap.Float64("spread", spread),
			)
		}
	}
	if len(prices) > 0 {
		m := median(prices)
		odds.Price = &m
	}
	out.Odds = &odds

	return out
}

func singleSource(rec records.NormalizedRecord, domains []string) *records.ConsensusRecord {
	return &records.ConsensusRecord{
		NormalizedRecord:  rec,
		ConsensusLevel:    records.ConsensusSingleSource,
		SourcesUsed:       domains,
		DisagreementScore: 0,
	}
}

// ConsensusLine resume linhas de várias fontes: média arredondada a 2 casas,
// spread max-min e warning quando o spread passa de 1.5 pontos.
func ConsensusLine(lines []float64) (line, spread float64, warning bool) {
	if len(lines) == 0 {
		return 0, 0, false
	}
	sum, min, max := 0.0, lines[0], lines[0]
	for _, v := range lines {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	line = round2(sum / float64(len(lines)))
	spread = max - min
	return line, spread, spread >= 1.5
}

// median assume a mediana clássica (média dos dois centrais em n par).
func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// avgAbsDev é o desvio absoluto médio em relação à mediana.
func avgAbsDev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := median(vals)
	sum := 0.0
	for _, v := range vals {
		if v > m {
			sum += v - m
		} else {
			sum += m - v
		}
	}
	return sum / float64(len(vals))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func gameIDOf(c *records.ConsensusRecord) string {
	if c.Odds != nil {
		return c.Odds.GameID
	}
	if c.Results != nil {
		return c.Results.GameID
	}
	return ""
}
