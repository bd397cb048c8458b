package repo

import (
	"context"
	"database/sql"

	"github.com/mfreitas/odds-settlement-platform/internal/settlement"
	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// Postgres implementa o settlement.Store. As transições pending -> settled
// são updates condicionais (WHERE status='pending'); zero linhas afetadas
// significa que outro escritor liquidou antes.
type Postgres struct{ DB *sql.DB }

// NewPostgres retorna uma instância do repositório de liquidação
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{DB: db} }

const betCols = `
	id, user_id, game_id, market_type, selection, line, price, stake,
	recommendation_id, status, outcome, closing_line, closing_price,
	clv_line, clv_price, settled_profit, created_at, settled_at
`

// GetBet retorna uma aposta pelo id
func (p *Postgres) GetBet(ctx context.Context, betID string) (*records.StoredBet, error) {
	q := `SELECT ` + betCols + ` FROM bets WHERE id=$1`
	return scanBet(p.DB.QueryRowContext(ctx, q, betID))
}

// PendingBetsByGame lista as apostas pendentes de um jogo
func (p *Postgres) PendingBetsByGame(ctx context.Context, gameID string) ([]records.StoredBet, error) {
	q := `SELECT ` + betCols + ` FROM bets WHERE game_id=$1 AND status='pending' ORDER BY created_at`
	rows, err := p.DB.QueryContext(ctx, q, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.StoredBet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// SettleBet persiste a transição pending -> settled de forma condicional
func (p *Postgres) SettleBet(ctx context.Context, b *records.StoredBet) error {
	const q = `
		UPDATE bets SET
		  status='settled', outcome=$2, closing_line=$3, closing_price=$4,
		  clv_line=$5, clv_price=$6, settled_profit=$7, settled_at=$8
		WHERE id=$1 AND status='pending'
	`
	res, err := p.DB.ExecContext(ctx, q,
		b.ID, b.Outcome, b.ClosingLine, b.ClosingPrice,
		b.ClvLine, b.ClvPrice, b.SettledProfit, b.SettledAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrAlreadySettled
	}
	return nil
}

// InsertBet registra uma aposta nova (status pending)
func (p *Postgres) InsertBet(ctx context.Context, b *records.StoredBet) error {
	const q = `
		INSERT INTO bets
		  (id, user_id, game_id, market_type, selection, line, price, stake,
		   recommendation_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending',$10)
	`
	_, err := p.DB.ExecContext(ctx, q,
		b.ID, b.UserID, b.GameID, b.MarketType, b.Selection,
		b.Line, b.Price, b.Stake, b.RecommendationID, b.CreatedAt,
	)
	return err
}

const recCols = `
	id, game_id, market_type, selection, line, price, confidence,
	status, outcome, closing_line, closing_price, clv_line, clv_price,
	created_at, settled_at
`

// GetRecommendation retorna uma recomendação pelo id
func (p *Postgres) GetRecommendation(ctx context.Context, id string) (*records.AgentRecommendation, error) {
	q := `SELECT ` + recCols + ` FROM agent_recommendations WHERE id=$1`
	return scanRecommendation(p.DB.QueryRowContext(ctx, q, id))
}

// PendingRecommendationsByGame lista as recomendações pendentes de um jogo
func (p *Postgres) PendingRecommendationsByGame(ctx context.Context, gameID string) ([]records.AgentRecommendation, error) {
	q := `SELECT ` + recCols + ` FROM agent_recommendations WHERE game_id=$1 AND status='pending' ORDER BY created_at`
	rows, err := p.DB.QueryContext(ctx, q, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.AgentRecommendation
	for rows.Next() {
		r, err := scanRecommendation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SettleRecommendation persiste a transição pending -> settled condicional
func (p *Postgres) SettleRecommendation(ctx context.Context, r *records.AgentRecommendation) error {
	const q = `
		UPDATE agent_recommendations SET
		  status='settled', outcome=$2, closing_line=$3, closing_price=$4,
		  clv_line=$5, clv_price=$6, settled_at=$7
		WHERE id=$1 AND status='pending'
	`
	res, err := p.DB.ExecContext(ctx, q,
		r.ID, r.Outcome, r.ClosingLine, r.ClosingPrice, r.ClvLine, r.ClvPrice, r.SettledAt,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrAlreadySettled
	}
	return nil
}

// InsertRecommendation registra uma recomendação nova (status pending)
func (p *Postgres) InsertRecommendation(ctx context.Context, r *records.AgentRecommendation) error {
	const q = `
		INSERT INTO agent_recommendations
		  (id, game_id, market_type, selection, line, price, confidence, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',$8)
	`
	_, err := p.DB.ExecContext(ctx, q,
		r.ID, r.GameID, r.MarketType, r.Selection, r.Line, r.Price, r.Confidence, r.CreatedAt,
	)
	return err
}

// InsertOutcome grava a linha imutável de resultado da recomendação
func (p *Postgres) InsertOutcome(ctx context.Context, o *records.RecommendationOutcome) error {
	const q = `
		INSERT INTO recommendation_outcomes
		  (id, recommendation_id, outcome, clv_line, clv_price, settled_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := p.DB.ExecContext(ctx, q,
		o.ID, o.RecommendationID, o.Outcome, o.ClvLine, o.ClvPrice, o.SettledAt,
	)
	return err
}

// GetGameResult retorna o resultado consolidado de um jogo
func (p *Postgres) GetGameResult(ctx context.Context, gameID string) (*records.GameResultRecord, error) {
	const q = `
		SELECT game_id, home_score, away_score, completed_at, is_final,
		       source_domain, staleness_ms, freshness_score
		FROM game_results WHERE game_id=$1
	`
	var r records.GameResultRecord
	err := p.DB.QueryRowContext(ctx, q, gameID).Scan(
		&r.GameID, &r.Payload.HomeScore, &r.Payload.AwayScore,
		&r.CompletedAt, &r.IsFinal, &r.SourceDomain,
		&r.StalenessMs, &r.FreshnessScore,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertGameResult insere ou atualiza o resultado consolidado de um jogo
// Um resultado já final não regride para não-final
func (p *Postgres) UpsertGameResult(ctx context.Context, r *records.GameResultRecord) error {
	const q = `
		INSERT INTO game_results
		  (game_id, home_score, away_score, completed_at, is_final,
		   source_domain, staleness_ms, freshness_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (game_id) DO UPDATE SET
		  home_score      = EXCLUDED.home_score,
		  away_score      = EXCLUDED.away_score,
		  completed_at    = EXCLUDED.completed_at,
		  is_final        = game_results.is_final OR EXCLUDED.is_final,
		  source_domain   = EXCLUDED.source_domain,
		  staleness_ms    = EXCLUDED.staleness_ms,
		  freshness_score = EXCLUDED.freshness_score
	`
	_, err := p.DB.ExecContext(ctx, q,
		r.GameID, r.Payload.HomeScore, r.Payload.AwayScore,
		r.CompletedAt, r.IsFinal, r.SourceDomain,
		r.StalenessMs, r.FreshnessScore,
	)
	return err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanBet(r rowScanner) (*records.StoredBet, error) {
	var b records.StoredBet
	var line, closingLine, closingPrice, clvLine, clvPrice, profit sql.NullFloat64
	var recID, outcome sql.NullString
	var settledAt sql.NullTime

	err := r.Scan(
		&b.ID, &b.UserID, &b.GameID, &b.MarketType, &b.Selection,
		&line, &b.Price, &b.Stake, &recID, &b.Status, &outcome,
		&closingLine, &closingPrice, &clvLine, &clvPrice, &profit,
		&b.CreatedAt, &settledAt,
	)
	if err != nil {
		return nil, err
	}
	b.Line = nullFloat(line)
	b.RecommendationID = nullStr(recID)
	b.Outcome = outcome.String
	b.ClosingLine = nullFloat(closingLine)
	b.ClosingPrice = nullFloat(closingPrice)
	b.ClvLine = nullFloat(clvLine)
	b.ClvPrice = nullFloat(clvPrice)
	b.SettledProfit = nullFloat(profit)
	if settledAt.Valid {
		t := settledAt.Time
		b.SettledAt = &t
	}
	return &b, nil
}

func scanRecommendation(r rowScanner) (*records.AgentRecommendation, error) {
	var rec records.AgentRecommendation
	var line, closingLine, closingPrice, clvLine, clvPrice sql.NullFloat64
	var outcome sql.NullString
	var settledAt sql.NullTime

	err := r.Scan(
		&rec.ID, &rec.GameID, &rec.MarketType, &rec.Selection,
		&line, &rec.Price, &rec.Confidence, &rec.Status, &outcome,
		&closingLine, &closingPrice, &clvLine, &clvPrice,
		&rec.CreatedAt, &settledAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Line = nullFloat(line)
	rec.Outcome = outcome.String
	rec.ClosingLine = nullFloat(closingLine)
	rec.ClosingPrice = nullFloat(closingPrice)
	rec.ClvLine = nullFloat(clvLine)
	rec.ClvPrice = nullFloat(clvPrice)
	if settledAt.Valid {
		t := settledAt.Time
		rec.SettledAt = &t
	}
	return &rec, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
