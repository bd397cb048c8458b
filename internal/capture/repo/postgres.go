package repo

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// Postgres implementa o SnapshotStore sobre a tabela odds_snapshots.
// A tabela carrega um índice único parcial por (game_id, market, selection,
// bucket de 60s) que segura o dedupe também contra escritores concorrentes.
type Postgres struct{ DB *sql.DB }

// NewPostgres retorna uma instância do repositório de snapshots
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{DB: db} }

const snapshotCols = `
	id, game_id, market, market_type, selection, line, price, book,
	captured_at, game_starts_at, resolution_reason, consensus_level,
	sources_used, disagreement_score, staleness_ms, freshness_score
`

// LatestByKey retorna o snapshot mais recente da chave (nil se não houver)
func (p *Postgres) LatestByKey(ctx context.Context, gameID, market, selection string) (*records.OddsSnapshot, error) {
	q := `
		SELECT ` + snapshotCols + `
		FROM odds_snapshots
		WHERE game_id=$1 AND market=$2 AND selection=$3
		ORDER BY captured_at DESC
		LIMIT 1
	`
	snap, err := scanSnapshot(p.DB.QueryRowContext(ctx, q, gameID, market, selection))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// LatestByGame retorna o snapshot mais recente de qualquer mercado do jogo.
// Fallback de leitura quando o consenso não está no Redis.
func (p *Postgres) LatestByGame(ctx context.Context, gameID string) (*records.OddsSnapshot, error) {
	q := `
		SELECT ` + snapshotCols + `
		FROM odds_snapshots
		WHERE game_id=$1
		ORDER BY captured_at DESC
		LIMIT 1
	`
	snap, err := scanSnapshot(p.DB.QueryRowContext(ctx, q, gameID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListByKey retorna todos os snapshots da chave, do mais antigo ao mais novo
func (p *Postgres) ListByKey(ctx context.Context, gameID, market, selection string) ([]records.OddsSnapshot, error) {
	q := `
		SELECT ` + snapshotCols + `
		FROM odds_snapshots
		WHERE game_id=$1 AND market=$2 AND selection=$3
		ORDER BY captured_at ASC
	`
	rows, err := p.DB.QueryContext(ctx, q, gameID, market, selection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.OddsSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// Insert grava um snapshot novo
func (p *Postgres) Insert(ctx context.Context, s *records.OddsSnapshot) error {
	const q = `
		INSERT INTO odds_snapshots
		  (id, game_id, market, market_type, selection, line, price, book,
		   captured_at, game_starts_at, resolution_reason, consensus_level,
		   sources_used, disagreement_score, staleness_ms, freshness_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`
	_, err := p.DB.ExecContext(ctx, q,
		s.ID, s.GameID, s.Market, s.MarketType, s.Selection,
		s.Line, s.Price, s.Book,
		s.CapturedAt, s.GameStartsAt, nullIfEmpty(s.ResolutionReason),
		string(s.ConsensusLevel), pq.Array(s.SourcesUsed),
		s.DisagreementScore, s.StalenessMs, s.FreshnessScore,
	)
	return err
}

// UpdateResolutionReason re-tagueia um snapshot já persistido
func (p *Postgres) UpdateResolutionReason(ctx context.Context, id, reason string) error {
	_, err := p.DB.ExecContext(ctx,
		`UPDATE odds_snapshots SET resolution_reason=$1 WHERE id=$2`, reason, id)
	return err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSnapshot(r rowScanner) (*records.OddsSnapshot, error) {
	var s records.OddsSnapshot
	var line, price sql.NullFloat64
	var gameStarts sql.NullTime
	var reason sql.NullString
	var level string
	var sources pq.StringArray

	err := r.Scan(
		&s.ID, &s.GameID, &s.Market, &s.MarketType, &s.Selection,
		&line, &price, &s.Book,
		&s.CapturedAt, &gameStarts, &reason, &level,
		&sources, &s.DisagreementScore, &s.StalenessMs, &s.FreshnessScore,
	)
	if err != nil {
		return nil, err
	}
	if line.Valid {
		s.Line = &line.Float64
	}
	if price.Valid {
		s.Price = &price.Float64
	}
	if gameStarts.Valid {
		t := gameStarts.Time
		s.GameStartsAt = &t
	}
	s.ResolutionReason = reason.String
	s.ConsensusLevel = records.ConsensusLevel(level)
	s.SourcesUsed = []string(sources)
	return &s, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
