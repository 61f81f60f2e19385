package merchants

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	db     Querier            // Connection pool to PostgreSQL
	sealer *Sealer            // Encrypts access tokens at rest
	log    *zap.SugaredLogger // Logger for diagnostic output
}

// NewPostgresStore constructs a PostgreSQL-backed credential store.
func NewPostgresStore(db Querier, sealer *Sealer, log *zap.SugaredLogger) Store {
	return &pgStore{db: db, sealer: sealer, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, db Querier) error {
	_, err := db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS merchants (
  id BIGSERIAL PRIMARY KEY,
  merchant_id text NOT NULL UNIQUE,
  shop_domain text NOT NULL,
  access_token_enc bytea,
  scopes text[] NOT NULL DEFAULT '{}',
  is_active boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW(),
  CONSTRAINT merchants_shop_domain_key UNIQUE (shop_domain)
);
CREATE TABLE IF NOT EXISTS usage_events (
  id BIGSERIAL PRIMARY KEY,
  merchant_id text NOT NULL,
  operation text,
  method text,
  path text,
  request_id text,
  status_code int,
  duration_ms int,
  started_at timestamptz NOT NULL DEFAULT NOW(),
  finished_at timestamptz
);
CREATE INDEX IF NOT EXISTS usage_events_merchant_idx ON usage_events(merchant_id, started_at);
`)
	return err
}

const selectMerchant = `SELECT merchant_id, shop_domain, access_token_enc, scopes, is_active, created_at, updated_at FROM merchants WHERE merchant_id=$1`

// GetByTenant fetches the credential record of a merchant.
func (p *pgStore) GetByTenant(ctx context.Context, tenantID string) (Record, error) {
	var rec Record
	var sealed []byte
	err := p.db.QueryRow(ctx, selectMerchant, tenantID).
		Scan(&rec.TenantID, &rec.ShopDomain, &sealed, &rec.Scopes, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("select merchant: %w", err)
	}
	if rec.AccessToken, err = p.sealer.Open(sealed); err != nil {
		return Record{}, err
	}
	return rec, nil
}

const upsertMerchant = `
INSERT INTO merchants (merchant_id, shop_domain, access_token_enc, scopes, is_active)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (merchant_id) DO UPDATE SET
  shop_domain=EXCLUDED.shop_domain,
  access_token_enc=EXCLUDED.access_token_enc,
  scopes=EXCLUDED.scopes,
  is_active=EXCLUDED.is_active,
  updated_at=NOW()
RETURNING created_at, updated_at`

// Upsert writes the whole record in a single statement.
func (p *pgStore) Upsert(ctx context.Context, rec Record) (Record, error) {
	sealed, err := p.sealer.Seal(rec.AccessToken)
	if err != nil {
		return Record{}, fmt.Errorf("seal token: %w", err)
	}
	scopes := rec.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	err = p.db.QueryRow(ctx, upsertMerchant, rec.TenantID, rec.ShopDomain, sealed, scopes, rec.Active).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "merchants_shop_domain_key" {
			return Record{}, ErrShopDomainTaken
		}
		return Record{}, fmt.Errorf("upsert merchant: %w", err)
	}
	rec.Scopes = scopes
	return rec, nil
}

// Deactivate revokes the merchant's credential while keeping the row.
func (p *pgStore) Deactivate(ctx context.Context, tenantID string) error {
	tag, err := p.db.Exec(ctx, `UPDATE merchants SET is_active=false, updated_at=NOW() WHERE merchant_id=$1`, tenantID)
	if err != nil {
		return fmt.Errorf("deactivate merchant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke deactivates the row only if updated_at still matches the version the
// credential was read at, so a stale rejection cannot revoke a newer grant.
func (p *pgStore) Revoke(ctx context.Context, cred Credential) error {
	tag, err := p.db.Exec(ctx, `UPDATE merchants SET is_active=false, updated_at=NOW() WHERE merchant_id=$1 AND updated_at=$2`, cred.TenantID, cred.version)
	if err != nil {
		return fmt.Errorf("revoke merchant: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var one int
	err = p.db.QueryRow(ctx, `SELECT 1 FROM merchants WHERE merchant_id=$1`, cred.TenantID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("revoke merchant: %w", err)
	}
	return ErrStaleCredential
}

// RecordUsage appends a usage event.
func (p *pgStore) RecordUsage(ctx context.Context, ev UsageEvent) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO usage_events(merchant_id, operation, method, path, request_id, status_code, duration_ms, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, ev.TenantID, ev.Operation, ev.Method, ev.Path, ev.RequestID, ev.StatusCode, int(ev.Duration.Milliseconds()), ev.StartedAt.UTC(), ev.StartedAt.Add(ev.Duration).UTC())
	return err
}
