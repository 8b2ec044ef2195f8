package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProviderMessageRepo struct {
	pool *pgxpool.Pool
}

func NewProviderMessageRepo(pool *pgxpool.Pool) *ProviderMessageRepo {
	return &ProviderMessageRepo{pool: pool}
}

func (r *ProviderMessageRepo) Exists(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM broadcast_provider_messages WHERE broadcast_event_id = $1)`, eventID,
	).Scan(&exists)
	return exists, err
}

// MarkSent records the hand-off. Repeated calls for the same event are no-ops.
func (r *ProviderMessageRepo) MarkSent(ctx context.Context, eventID uuid.UUID, provider string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO broadcast_provider_messages (broadcast_event_id, provider, status)
		VALUES ($1, $2, 'sent')
		ON CONFLICT (broadcast_event_id) DO NOTHING
	`, eventID, provider)
	return err
}
