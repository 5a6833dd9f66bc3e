package crdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OutboxRecord is one pending notification dispatch. Records are written in
// the same database as bookings and published asynchronously so a crashed
// publisher never loses an outcome.
type OutboxRecord struct {
	ID          uuid.UUID
	BookingID   string
	OutcomeKind string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
	Status      string // NEW, PUBLISHED, FAILED
	DedupeKey   string
}

func (r *Repository) InsertOutbox(ctx context.Context, record OutboxRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_outbox (id, booking_id, outcome_kind, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, 'NEW', $5)
	`, record.ID, record.BookingID, record.OutcomeKind, record.Payload, record.DedupeKey)
	return err
}

func (r *Repository) GetUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, outcome_kind, payload_json, created_at, published_at, status, dedupe_key
		FROM notification_outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.BookingID, &rec.OutcomeKind, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}

// OldestUnpublishedAge reports how stale the outbox is, for the lag gauge.
func (r *Repository) OldestUnpublishedAge(ctx context.Context, now time.Time) (time.Duration, error) {
	var oldest time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT created_at FROM notification_outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT 1
	`).Scan(&oldest)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return now.Sub(oldest), nil
}
