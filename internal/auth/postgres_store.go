package auth

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps keys in organization_api_keys.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectKeyByHash = `
	SELECT id, organization_id, key_hash, active, created_at
	FROM organization_api_keys
	WHERE key_hash = $1`

// GetByHash returns the key whether or not it is active.
func (s *PostgresStore) GetByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	var k APIKey
	err := s.db.QueryRow(ctx, selectKeyByHash, keyHash).
		Scan(&k.ID, &k.OrganizationID, &k.KeyHash, &k.Active, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select api key")
	}
	return &k, nil
}

func (s *PostgresStore) Create(ctx context.Context, apiKey *APIKey) error {
	if apiKey.KeyHash == "" || apiKey.OrganizationID == "" {
		return errors.New("api key requires an organization and a key hash")
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO organization_api_keys (organization_id, key_hash, active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		apiKey.OrganizationID, apiKey.KeyHash, apiKey.Active,
	).Scan(&apiKey.ID, &apiKey.CreatedAt)
	return errors.Wrap(err, "insert api key")
}

func (s *PostgresStore) Revoke(ctx context.Context, keyID string) error {
	tag, err := s.db.Exec(ctx, `UPDATE organization_api_keys SET active = false WHERE id = $1`, keyID)
	if err != nil {
		return errors.Wrap(err, "revoke api key")
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}
