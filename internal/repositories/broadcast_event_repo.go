package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alphagov/notifications-api-sub002/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BroadcastEventRepo struct {
	pool *pgxpool.Pool
}

func NewBroadcastEventRepo(pool *pgxpool.Pool) *BroadcastEventRepo {
	return &BroadcastEventRepo{pool: pool}
}

const broadcastEventColumns = `
	id, service_id, broadcast_message_id, message_type, transmitted_content, transmitted_areas,
	transmitted_sender, transmitted_starts_at, transmitted_finishes_at, sent_at`

func scanBroadcastEvent(row pgx.Row) (*models.BroadcastEvent, error) {
	var e models.BroadcastEvent
	var content, areas []byte
	err := row.Scan(&e.ID, &e.ServiceID, &e.BroadcastMessageID, &e.MessageType, &content, &areas,
		&e.TransmittedSender, &e.TransmittedStartsAt, &e.TransmittedFinishesAt, &e.SentAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(content, &e.TransmittedContent); err != nil {
		return nil, fmt.Errorf("broadcast event %s: decode content: %w", e.ID, err)
	}
	if err := json.Unmarshal(areas, &e.TransmittedAreas); err != nil {
		return nil, fmt.Errorf("broadcast event %s: decode areas: %w", e.ID, err)
	}
	return &e, nil
}

// Create inserts the event with sent_at taken from the database clock. The
// parent message row is locked first so events for one message are written one
// at a time and sent_at strictly increases along the chain.
func (r *BroadcastEventRepo) Create(ctx context.Context, e *models.BroadcastEvent) error {
	content, err := json.Marshal(e.TransmittedContent)
	if err != nil {
		return err
	}
	areas, err := json.Marshal(e.TransmittedAreas)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT 1 FROM broadcast_messages WHERE id = $1 FOR UPDATE`, e.BroadcastMessageID); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO broadcast_events (service_id, broadcast_message_id, message_type, transmitted_content, transmitted_areas,
		                              transmitted_sender, transmitted_starts_at, transmitted_finishes_at, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, GREATEST(
			clock_timestamp(),
			(SELECT max(sent_at) + interval '1 microsecond' FROM broadcast_events WHERE broadcast_message_id = $2)
		))
		RETURNING id, sent_at
	`, e.ServiceID, e.BroadcastMessageID, e.MessageType, content, areas,
		e.TransmittedSender, e.TransmittedStartsAt, e.TransmittedFinishesAt,
	).Scan(&e.ID, &e.SentAt)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *BroadcastEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.BroadcastEvent, error) {
	return scanBroadcastEvent(r.pool.QueryRow(ctx,
		`SELECT `+broadcastEventColumns+` FROM broadcast_events WHERE id = $1`, id))
}

func (r *BroadcastEventRepo) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]models.BroadcastEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+broadcastEventColumns+` FROM broadcast_events
		WHERE broadcast_message_id = $1
		ORDER BY sent_at ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBroadcastEvents(rows)
}

// ListEarlier returns every event of the same message sent strictly before e,
// oldest first. This is the CAP <references> chain.
func (r *BroadcastEventRepo) ListEarlier(ctx context.Context, e *models.BroadcastEvent) ([]models.BroadcastEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+broadcastEventColumns+` FROM broadcast_events
		WHERE broadcast_message_id = $1 AND sent_at < $2
		ORDER BY sent_at ASC
	`, e.BroadcastMessageID, e.SentAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBroadcastEvents(rows)
}

func collectBroadcastEvents(rows pgx.Rows) ([]models.BroadcastEvent, error) {
	var evs []models.BroadcastEvent
	for rows.Next() {
		e, err := scanBroadcastEvent(rows)
		if err != nil {
			return nil, err
		}
		evs = append(evs, *e)
	}
	return evs, rows.Err()
}
