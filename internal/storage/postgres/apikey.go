package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/auth"
)

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (s *Store) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	rows, err := query(ctx, s.pool, psql.Select("id", "business_id", "key_hash", "name", "scopes").
		From("api_keys").
		Where(sq.Eq{"key_hash": hash, "active": true}))
	if err != nil {
		return nil, errors.Wrap(err, "find api key by hash")
	}
	info, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (auth.APIKeyInfo, error) {
		var k auth.APIKeyInfo
		err := row.Scan(&k.ID, &k.BusinessID, &k.KeyHash, &k.Name, &k.Scopes)
		return k, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	return &info, nil
}

// UpsertAPIKey registers a key under its hash.
func (s *Store) UpsertAPIKey(ctx context.Context, k auth.APIKeyInfo) error {
	_, err := exec(ctx, s.pool, psql.Insert("api_keys").
		Columns("id", "business_id", "key_hash", "name", "scopes").
		Values(k.ID, k.BusinessID, k.KeyHash, k.Name, k.Scopes).
		Suffix("ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name, scopes = EXCLUDED.scopes"))
	if err != nil {
		return errors.Wrapf(err, "upsert api key %q", k.ID)
	}
	return nil
}
