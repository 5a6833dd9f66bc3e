package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/store"
)

const (
	SerializationFailureCode = "40001"
)

// Repository implements store.BookingStore on Postgres/CockroachDB. Status
// writes are compare-and-set against the expected status so concurrent
// events for the same booking serialize instead of overwriting each other.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

const bookingColumns = `
	booking_id, tenant_id, status, guest_email, guest_name, guest_phone,
	requested_dates, confirmed_date, confirmed_time, players, per_player_fee,
	total_due, inbound_message_id, confirmation_message_id, note,
	created_at, updated_at, confirmed_at`

// CreateIfAbsent inserts a booking, or returns the stored record when the id
// already exists. Never an overwrite.
func (r *Repository) CreateIfAbsent(ctx context.Context, b domain.Booking) (domain.Booking, bool, error) {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO bookings (
			booking_id, tenant_id, status, guest_email, guest_name, guest_phone,
			requested_dates, confirmed_date, confirmed_time, players, per_player_fee,
			total_due, inbound_message_id, confirmation_message_id, note,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (booking_id) DO NOTHING
	`, b.ID, b.TenantID, string(b.Status), b.GuestEmail, b.GuestName, b.GuestPhone,
		b.RequestedDates, b.ConfirmedDate, b.ConfirmedTime, b.Players, b.PerPlayerFee,
		b.TotalDue, b.InboundMessageID, b.ConfirmationMessageID, b.Note,
		b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return domain.Booking{}, false, err
	}
	if result.RowsAffected() == 0 {
		existing, err := r.Get(ctx, b.ID)
		return existing, false, err
	}
	return b, true, nil
}

func (r *Repository) Get(ctx context.Context, bookingID string) (domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE booking_id = $1`, bookingID)
	return scanBooking(row)
}

// ApplyStatus performs the compare-and-set status write. A mismatch between
// the expected and stored status returns domain.ErrConflict so the caller
// can re-read and retry against fresh state.
func (r *Repository) ApplyStatus(ctx context.Context, bookingID string, upd store.StatusUpdate) (domain.Booking, error) {
	stamp := upd.Now
	if stamp.IsZero() {
		stamp = time.Now()
	}
	var b domain.Booking
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		apply := func() (int64, error) {
			result, err := tx.Exec(ctx, `
				UPDATE bookings SET
					status = $3,
					confirmed_date = CASE WHEN $4 <> '' THEN $4 ELSE confirmed_date END,
					confirmed_time = CASE WHEN $5 <> '' THEN $5 ELSE confirmed_time END,
					players = CASE WHEN $6 > 0 THEN $6 ELSE players END,
					total_due = CASE WHEN $6 > 0 THEN $6 * per_player_fee ELSE total_due END,
					confirmation_message_id = CASE WHEN $7 <> '' THEN $7 ELSE confirmation_message_id END,
					note = CASE
						WHEN $8 = '' THEN note
						WHEN note = '' THEN $9 || ' ' || $8
						ELSE note || E'\n' || $9 || ' ' || $8
					END,
					confirmed_at = COALESCE(confirmed_at, $10),
					updated_at = now()
				WHERE booking_id = $1 AND status = $2
			`, bookingID, string(upd.Expected), string(upd.Next),
				upd.ConfirmedDate, upd.ConfirmedTime, upd.Players,
				upd.MessageID, upd.NoteLine, stamp.UTC().Format("2006-01-02 15:04:05"),
				upd.ConfirmedAt)
			if err != nil {
				return 0, err
			}
			return result.RowsAffected(), nil
		}

		affected, err := apply()
		if err != nil {
			return err
		}
		if affected == 0 {
			var raw string
			err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE booking_id = $1`, bookingID).Scan(&raw)
			if err == pgx.ErrNoRows {
				return domain.ErrNotFound
			}
			if err != nil {
				return err
			}
			// A legacy alias that normalizes to the expected status still
			// satisfies the precondition: rewrite it in place and retry the
			// compare-and-set inside the same transaction.
			normalized, ok := domain.NormalizeStatus(raw)
			if !ok || normalized != upd.Expected || raw == string(upd.Expected) {
				return domain.ErrConflict
			}
			if _, err := tx.Exec(ctx, `UPDATE bookings SET status = $2 WHERE booking_id = $1 AND status = $3`,
				bookingID, string(normalized), raw); err != nil {
				return err
			}
			affected, err = apply()
			if err != nil {
				return err
			}
			if affected == 0 {
				return domain.ErrConflict
			}
		}
		row := tx.QueryRow(ctx, `SELECT`+bookingColumns+` FROM bookings WHERE booking_id = $1`, bookingID)
		b, err = scanBooking(row)
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *Repository) AppendNote(ctx context.Context, bookingID string, now time.Time, line string) error {
	entry := now.Format("2006-01-02 15:04:05") + " " + line
	result, err := r.pool.Exec(ctx, `
		UPDATE bookings SET
			note = CASE WHEN note = '' THEN $2 ELSE note || E'\n' || $2 END,
			updated_at = now()
		WHERE booking_id = $1
	`, bookingID, entry)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecentInquiry finds a still-open inquiry from the same guest with an
// overlapping requested date, created after since.
func (r *Repository) RecentInquiry(ctx context.Context, guestEmail string, dates []string, since time.Time) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT booking_id FROM bookings
		WHERE guest_email = $1 AND status = 'Inquiry' AND created_at >= $2 AND requested_dates && $3
		ORDER BY created_at DESC LIMIT 1
	`, guestEmail, since, dates).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]domain.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT`+bookingColumns+` FROM bookings ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var rawStatus string
	err := row.Scan(&b.ID, &b.TenantID, &rawStatus, &b.GuestEmail, &b.GuestName, &b.GuestPhone,
		&b.RequestedDates, &b.ConfirmedDate, &b.ConfirmedTime, &b.Players, &b.PerPlayerFee,
		&b.TotalDue, &b.InboundMessageID, &b.ConfirmationMessageID, &b.Note,
		&b.CreatedAt, &b.UpdatedAt, &b.ConfirmedAt)
	if err == pgx.ErrNoRows {
		return domain.Booking{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	status, ok := domain.NormalizeStatus(rawStatus)
	if !ok {
		return domain.Booking{}, errors.Newf("booking %s has unrecognized status %q", b.ID, rawStatus)
	}
	b.Status = status
	return b, nil
}
