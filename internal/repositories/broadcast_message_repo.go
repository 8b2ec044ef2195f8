package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BroadcastMessageRepo struct {
	pool *pgxpool.Pool
}

func NewBroadcastMessageRepo(pool *pgxpool.Pool) *BroadcastMessageRepo {
	return &BroadcastMessageRepo{pool: pool}
}

const broadcastMessageColumns = `
	id, service_id, template_id, template_version, content, reference, areas, status,
	starts_at, finishes_at, stubbed, created_by, created_by_api_key_id,
	approved_at, approved_by, cancelled_at, cancelled_by, cancelled_by_api_key_id,
	created_at, updated_at`

func scanBroadcastMessage(row pgx.Row) (*models.BroadcastMessage, error) {
	var m models.BroadcastMessage
	var areas []byte
	err := row.Scan(&m.ID, &m.ServiceID, &m.TemplateID, &m.TemplateVersion, &m.Content, &m.Reference, &areas, &m.Status,
		&m.StartsAt, &m.FinishesAt, &m.Stubbed, &m.CreatedBy, &m.CreatedByAPIKeyID,
		&m.ApprovedAt, &m.ApprovedBy, &m.CancelledAt, &m.CancelledBy, &m.CancelledByAPIKeyID,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(areas, &m.Areas); err != nil {
		return nil, fmt.Errorf("broadcast message %s: decode areas: %w", m.ID, err)
	}
	return &m, nil
}

func (r *BroadcastMessageRepo) Create(ctx context.Context, m *models.BroadcastMessage) error {
	areas, err := json.Marshal(m.Areas)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO broadcast_messages (service_id, template_id, template_version, content, reference, areas, status,
		                                starts_at, finishes_at, stubbed, created_by, created_by_api_key_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`, m.ServiceID, m.TemplateID, m.TemplateVersion, m.Content, m.Reference, areas, m.Status,
		m.StartsAt, m.FinishesAt, m.Stubbed, m.CreatedBy, m.CreatedByAPIKeyID,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *BroadcastMessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.BroadcastMessage, error) {
	return scanBroadcastMessage(r.pool.QueryRow(ctx,
		`SELECT `+broadcastMessageColumns+` FROM broadcast_messages WHERE id = $1`, id))
}

func (r *BroadcastMessageRepo) GetByReference(ctx context.Context, serviceID uuid.UUID, reference string) (*models.BroadcastMessage, error) {
	return scanBroadcastMessage(r.pool.QueryRow(ctx, `
		SELECT `+broadcastMessageColumns+` FROM broadcast_messages
		WHERE service_id = $1 AND reference = $2
		ORDER BY created_at DESC LIMIT 1
	`, serviceID, reference))
}

func (r *BroadcastMessageRepo) ListByService(ctx context.Context, serviceID uuid.UUID, limit, offset int) ([]models.BroadcastMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+broadcastMessageColumns+` FROM broadcast_messages
		WHERE service_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, serviceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBroadcastMessages(rows)
}

// ListExpired returns broadcasting messages whose finishes_at has passed.
func (r *BroadcastMessageRepo) ListExpired(ctx context.Context, now time.Time) ([]models.BroadcastMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+broadcastMessageColumns+` FROM broadcast_messages
		WHERE status = $1 AND finishes_at IS NOT NULL AND finishes_at < $2
		ORDER BY finishes_at
	`, models.BroadcastStatusBroadcasting, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBroadcastMessages(rows)
}

func collectBroadcastMessages(rows pgx.Rows) ([]models.BroadcastMessage, error) {
	var msgs []models.BroadcastMessage
	for rows.Next() {
		m, err := scanBroadcastMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// UpdateStatus writes the status and its approval/cancellation columns only if
// the row still has status `from`. The row is locked for the duration of the
// check so two racing approvers cannot both win.
func (r *BroadcastMessageRepo) UpdateStatus(ctx context.Context, m *models.BroadcastMessage, from models.BroadcastStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current models.BroadcastStatus
	err = tx.QueryRow(ctx, `SELECT status FROM broadcast_messages WHERE id = $1 FOR UPDATE`, m.ID).Scan(&current)
	if err != nil {
		return notFound(err)
	}
	if current != from {
		return fmt.Errorf("%w: expected %s, found %s", ErrStatusConflict, from, current)
	}

	err = tx.QueryRow(ctx, `
		UPDATE broadcast_messages SET
			status = $2,
			approved_at = $3, approved_by = $4,
			cancelled_at = $5, cancelled_by = $6, cancelled_by_api_key_id = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, m.ID, m.Status, m.ApprovedAt, m.ApprovedBy, m.CancelledAt, m.CancelledBy, m.CancelledByAPIKeyID,
	).Scan(&m.UpdatedAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
