package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/mfreitas/odds-settlement-platform/internal/reporting"
	"github.com/mfreitas/odds-settlement-platform/internal/settlement"
)

// ReadRepo implementa o reporting.ReportStore (só leitura).
type ReadRepo struct {
	DB *sql.DB
}

// SettledBetsSince projeta as apostas liquidadas da janela, com a confiança
// da recomendação vinculada quando houver
func (r *ReadRepo) SettledBetsSince(ctx context.Context, since time.Time) ([]reporting.SettledBetRow, error) {
	const q = `
		SELECT b.market_type,
		       b.recommendation_id IS NOT NULL AS followed,
		       ar.confidence,
		       b.clv_line, b.clv_price,
		       COALESCE(b.settled_profit, 0),
		       b.outcome,
		       b.settled_at
		FROM bets b
		LEFT JOIN agent_recommendations ar ON ar.id = b.recommendation_id
		WHERE b.status = 'settled' AND b.settled_at >= $1
		ORDER BY b.settled_at
	`
	rows, err := r.DB.QueryContext(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reporting.SettledBetRow
	for rows.Next() {
		var row reporting.SettledBetRow
		var conf, clvLine, clvPrice sql.NullFloat64
		var outcome sql.NullString
		if err := rows.Scan(
			&row.MarketType, &row.Followed, &conf,
			&clvLine, &clvPrice, &row.Profit, &outcome, &row.SettledAt,
		); err != nil {
			return nil, err
		}
		if conf.Valid {
			v := conf.Float64
			row.Confidence = &v
		}
		if clvLine.Valid {
			v := clvLine.Float64
			row.ClvLine = &v
		}
		if clvPrice.Valid {
			v := clvPrice.Float64
			row.ClvPrice = &v
		}
		row.Outcome = outcome.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// EdgeRecordsSince projeta as recomendações liquidadas (won/lost) como
// registros de calibração. Push e void ficam de fora: não informam acerto.
func (r *ReadRepo) EdgeRecordsSince(ctx context.Context, since time.Time) ([]reporting.EdgeRecord, error) {
	const q = `
		SELECT confidence, price, outcome
		FROM agent_recommendations
		WHERE status = 'settled'
		  AND outcome IN ('won','lost')
		  AND settled_at >= $1
	`
	rows, err := r.DB.QueryContext(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reporting.EdgeRecord
	for rows.Next() {
		var confidence, price float64
		var outcome string
		if err := rows.Scan(&confidence, &price, &outcome); err != nil {
			return nil, err
		}
		implied, err := settlement.ImpliedProb(price)
		if err != nil {
			continue // preço irreconhecível não entra na calibração
		}
		actual := 0.0
		if outcome == "won" {
			actual = 1.0
		}
		out = append(out, reporting.EdgeRecord{
			Predicted:    confidence,
			Actual:       actual,
			ExpectedEdge: confidence - implied,
			RealizedEdge: actual - implied,
		})
	}
	return out, rows.Err()
}
