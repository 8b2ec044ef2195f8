package repositories

import (
	"context"

	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ServiceRepo struct {
	pool *pgxpool.Pool
}

func NewServiceRepo(pool *pgxpool.Pool) *ServiceRepo {
	return &ServiceRepo{pool: pool}
}

func (r *ServiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	var s models.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, restricted, active, created_at
		FROM services WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Restricted, &s.Active, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *ServiceRepo) IsMember(ctx context.Context, serviceID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM service_users WHERE service_id = $1 AND user_id = $2)`, serviceID, userID,
	).Scan(&ok)
	return ok, err
}

// ActiveAPIKeys returns the non-revoked keys of a service, newest first.
func (r *ServiceRepo) ActiveAPIKeys(ctx context.Context, serviceID uuid.UUID) ([]models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, service_id, name, secret, revoked_at, created_at
		FROM api_keys WHERE service_id = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.ServiceID, &k.Name, &k.Secret, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
