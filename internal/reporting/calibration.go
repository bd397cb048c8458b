package reporting

import (
	"context"
	"fmt"
	"math"
	"time"
)

// EdgeRecord é uma recomendação liquidada vista pela ótica de calibração:
// probabilidade prevista contra o que de fato aconteceu.
type EdgeRecord struct {
	Predicted    float64 // confidence da recomendação [0,1]
	Actual       float64 // 1 won, 0 lost (push/void ficam fora)
	ExpectedEdge float64 // predicted - implied(preço colocado)
	RealizedEdge float64 // actual - implied(preço colocado)
}

// CalibrationBucket é um decil de probabilidade prevista.
type CalibrationBucket struct {
	Bucket       string  `json:"bucket"` // ex: "0.3-0.4"
	Count        int     `json:"count"`
	AvgPredicted float64 `json:"avg_predicted"`
	AvgActual    float64 `json:"avg_actual"`
	Gap          float64 `json:"gap"` // avg_predicted - avg_actual
	Brier        float64 `json:"brier"`
}

// CalibrationMetrics é o resultado agregado de calibração.
type CalibrationMetrics struct {
	WindowDays   int                 `json:"window_days"`
	GeneratedAt  time.Time           `json:"generated_at"`
	Total        int                 `json:"total"`
	OverallBrier float64             `json:"overall_brier"`
	AvgEdgeDecay float64             `json:"avg_edge_decay"` // média de |expected - realized|
	Buckets      []CalibrationBucket `json:"buckets"`
}

// ComputeCalibrationMetrics busca os registros da janela e agrega por decil.
func (s *Service) ComputeCalibrationMetrics(ctx context.Context, windowDays int) (*CalibrationMetrics, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	recs, err := s.Store.EdgeRecordsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("edge records: %w", err)
	}
	m := BuildCalibration(recs)
	m.WindowDays = windowDays
	return m, nil
}

// BuildCalibration é a agregação pura (separada para teste).
func BuildCalibration(recs []EdgeRecord) *CalibrationMetrics {
	out := &CalibrationMetrics{GeneratedAt: time.Now().UTC(), Total: len(recs)}

	type acc struct {
		n               int
		sumPred, sumAct float64
		sumSquared      float64
	}
	deciles := map[int]*acc{}

	var totalSquared, totalDecay float64
	for _, r := range recs {
		d := decile(r.Predicted)
		a, ok := deciles[d]
		if !ok {
			a = &acc{}
			deciles[d] = a
		}
		sq := (r.Predicted - r.Actual) * (r.Predicted - r.Actual)
		a.n++
		a.sumPred += r.Predicted
		a.sumAct += r.Actual
		a.sumSquared += sq

		totalSquared += sq
		totalDecay += math.Abs(r.ExpectedEdge - r.RealizedEdge)
	}

	if len(recs) > 0 {
		out.OverallBrier = totalSquared / float64(len(recs))
		out.AvgEdgeDecay = totalDecay / float64(len(recs))
	}

	for d := 0; d < 10; d++ {
		a, ok := deciles[d]
		if !ok {
			continue
		}
		b := CalibrationBucket{
			Bucket:       fmt.Sprintf("%.1f-%.1f", float64(d)/10, float64(d+1)/10),
			Count:        a.n,
			AvgPredicted: a.sumPred / float64(a.n),
			AvgActual:    a.sumAct / float64(a.n),
			Brier:        a.sumSquared / float64(a.n),
		}
		b.Gap = b.AvgPredicted - b.AvgActual
		out.Buckets = append(out.Buckets, b)
	}
	return out
}

// decile mapeia [0,1] em 0..9 (1.0 cai no último decil).
func decile(p float64) int {
	d := int(p * 10)
	if d > 9 {
		d = 9
	}
	if d < 0 {
		d = 0
	}
	return d
}
