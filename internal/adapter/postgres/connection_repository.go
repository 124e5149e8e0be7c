package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/crypto"
)

const connectionColumns = `id, owner_id, platform, handle, external_id, access_token, refresh_token,
	expires_at, connected, last_synced_at, created_at, updated_at`

// ConnectionRepo stores platform connections. Tokens are encrypted at rest.
type ConnectionRepo struct {
	pool   *pgxpool.Pool
	crypto crypto.Service
}

var _ domain.ConnectionRepository = (*ConnectionRepo)(nil)

func NewConnectionRepo(pool *pgxpool.Pool, cryptoSvc crypto.Service) *ConnectionRepo {
	return &ConnectionRepo{pool: pool, crypto: cryptoSvc}
}

func (r *ConnectionRepo) scan(row pgx.Row) (*domain.Connection, error) {
	var (
		c        domain.Connection
		platform string
		access   string
		refresh  string
	)
	err := row.Scan(&c.ID, &c.OwnerID, &platform, &c.Handle, &c.ExternalID, &access, &refresh,
		&c.ExpiresAt, &c.Connected, &c.LastSyncedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Platform = domain.Platform(platform)

	if c.AccessToken, err = r.crypto.Decrypt(access); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if c.RefreshToken, err = r.crypto.Decrypt(refresh); err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return &c, nil
}

func (r *ConnectionRepo) encryptPair(access, refresh string) (string, string, error) {
	encAccess, err := r.crypto.Encrypt(access)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	encRefresh, err := r.crypto.Encrypt(refresh)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return encAccess, encRefresh, nil
}

// Upsert creates or reconnects the owner's connection for the platform.
func (r *ConnectionRepo) Upsert(ctx context.Context, u domain.ConnectionUpsert) (*domain.Connection, error) {
	access, refresh, err := r.encryptPair(u.AccessToken, u.RefreshToken)
	if err != nil {
		return nil, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO platform_connections (owner_id, platform, handle, external_id, access_token, refresh_token, expires_at, connected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		ON CONFLICT (owner_id, platform) DO UPDATE SET
			handle        = EXCLUDED.handle,
			external_id   = EXCLUDED.external_id,
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at    = EXCLUDED.expires_at,
			connected     = true,
			updated_at    = now()
		RETURNING `+connectionColumns,
		u.OwnerID, string(u.Platform), u.Handle, u.ExternalID, access, refresh, u.ExpiresAt)

	c, err := r.scan(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+connectionColumns+` FROM platform_connections WHERE id = $1`, id)
	c, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection by ID: %w", err)
	}
	return c, nil
}

// GetByOwner returns only a connected connection.
func (r *ConnectionRepo) GetByOwner(ctx context.Context, ownerID string, platform domain.Platform) (*domain.Connection, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+connectionColumns+` FROM platform_connections
		WHERE owner_id = $1 AND platform = $2 AND connected`, ownerID, string(platform))
	c, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection by owner: %w", err)
	}
	return c, nil
}

// ListConnected returns the platform's connected accounts, least recently synced first.
func (r *ConnectionRepo) ListConnected(ctx context.Context, platform domain.Platform) ([]domain.Connection, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+connectionColumns+` FROM platform_connections
		WHERE platform = $1 AND connected
		ORDER BY last_synced_at ASC NULLS FIRST, created_at ASC`, string(platform))
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.Connection
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

func (r *ConnectionRepo) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt *time.Time) error {
	access, refresh, err := r.encryptPair(accessToken, refreshToken)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE platform_connections
		SET access_token = $2, refresh_token = $3, expires_at = $4, updated_at = now()
		WHERE id = $1`, id, access, refresh, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

func (r *ConnectionRepo) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE platform_connections SET last_synced_at = $2, updated_at = now() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark connection synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// Disconnect keeps the row for history but drops the credentials.
func (r *ConnectionRepo) Disconnect(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE platform_connections
		SET connected = false, access_token = '', refresh_token = '', expires_at = NULL, updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}
