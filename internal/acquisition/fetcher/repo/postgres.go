package repo

import (
	"context"
	"database/sql"

	"github.com/mfreitas/odds-settlement-platform/pkg/contracts/records"
)

// Postgres implementa o CacheStore do fetcher sobre a tabela web_cache.
// Uma linha nova por fetch; a leitura sempre pega a mais recente da URL.
type Postgres struct{ DB *sql.DB }

// NewPostgres retorna uma instância do repositório de cache web
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{DB: db} }

// Latest retorna a linha mais recente do cache para a URL (sql.ErrNoRows se não houver)
func (p *Postgres) Latest(ctx context.Context, url string) (*records.CacheRecord, error) {
	const q = `
		SELECT url, domain, fetched_at, status, etag, last_modified, content_hash, body
		FROM web_cache
		WHERE url = $1
		ORDER BY fetched_at DESC
		LIMIT 1
	`
	var rec records.CacheRecord
	var etag, lastMod sql.NullString
	err := p.DB.QueryRowContext(ctx, q, url).Scan(
		&rec.URL, &rec.Domain, &rec.FetchedAt, &rec.Status,
		&etag, &lastMod, &rec.ContentHash, &rec.Body,
	)
	if err != nil {
		return nil, err
	}
	rec.ETag = etag.String
	rec.LastModified = lastMod.String
	return &rec, nil
}

// Insert grava uma linha nova de cache para a URL
func (p *Postgres) Insert(ctx context.Context, rec *records.CacheRecord) error {
	const q = `
		INSERT INTO web_cache (url, domain, fetched_at, status, etag, last_modified, content_hash, body)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	_, err := p.DB.ExecContext(ctx, q,
		rec.URL, rec.Domain, rec.FetchedAt, rec.Status,
		nullIfEmpty(rec.ETag), nullIfEmpty(rec.LastModified),
		rec.ContentHash, rec.Body,
	)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
