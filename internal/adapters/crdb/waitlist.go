package crdb

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/waitlist"
)

// WaitlistRepository implements waitlist.Store on the same pool as bookings.
type WaitlistRepository struct {
	repo *Repository
}

func NewWaitlistRepository(repo *Repository) *WaitlistRepository {
	return &WaitlistRepository{repo: repo}
}

func (w *WaitlistRepository) Insert(ctx context.Context, e waitlist.Entry) error {
	_, err := w.repo.pool.Exec(ctx, `
		INSERT INTO waitlist (id, tenant_id, guest_email, dates, preferred_time, players, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.TenantID, e.GuestEmail, e.Dates, e.PreferredTime, e.Players, string(e.Status), e.CreatedAt, e.UpdatedAt)
	return err
}

func (w *WaitlistRepository) Get(ctx context.Context, id string) (waitlist.Entry, error) {
	var e waitlist.Entry
	var status string
	err := w.repo.pool.QueryRow(ctx, `
		SELECT id, tenant_id, guest_email, dates, preferred_time, players, status, COALESCE(booking_id, ''), created_at, updated_at
		FROM waitlist WHERE id = $1
	`, id).Scan(&e.ID, &e.TenantID, &e.GuestEmail, &e.Dates, &e.PreferredTime, &e.Players, &status, &e.BookingID, &e.CreatedAt, &e.UpdatedAt)
	if err == pgx.ErrNoRows {
		return waitlist.Entry{}, domain.ErrNotFound
	}
	if err != nil {
		return waitlist.Entry{}, err
	}
	e.Status = waitlist.Status(status)
	return e, nil
}

func (w *WaitlistRepository) GetWaiting(ctx context.Context, limit int) ([]waitlist.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := w.repo.pool.Query(ctx, `
		SELECT id, tenant_id, guest_email, dates, preferred_time, players, status, COALESCE(booking_id, ''), created_at, updated_at
		FROM waitlist WHERE status = 'waiting' ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []waitlist.Entry
	for rows.Next() {
		var e waitlist.Entry
		var status string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.GuestEmail, &e.Dates, &e.PreferredTime, &e.Players, &status, &e.BookingID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Status = waitlist.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateStatus is compare-and-set like the booking write path; a stale
// expected status returns domain.ErrConflict.
func (w *WaitlistRepository) UpdateStatus(ctx context.Context, id string, from, to waitlist.Status, bookingID string) error {
	result, err := w.repo.pool.Exec(ctx, `
		UPDATE waitlist SET
			status = $3,
			booking_id = CASE WHEN $4 <> '' THEN $4 ELSE booking_id END,
			updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), bookingID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		var current string
		err := w.repo.pool.QueryRow(ctx, `SELECT status FROM waitlist WHERE id = $1`, id).Scan(&current)
		if err == pgx.ErrNoRows {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

// ExpireBefore marks waiting entries whose latest requested date is already
// in the past.
func (w *WaitlistRepository) ExpireBefore(ctx context.Context, cutoff string) (int64, error) {
	result, err := w.repo.pool.Exec(ctx, `
		UPDATE waitlist SET status = 'expired', updated_at = now()
		WHERE status = 'waiting'
		AND (SELECT max(d) FROM unnest(dates) AS d) < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
