// Package store defines the persistence boundary for bookings. The engine
// depends on this interface rather than a concrete database so transitions
// stay testable and the connection layer stays swappable.
package store

import (
	"context"
	"time"

	"github.com/fairwaydesk/teeflow/internal/domain"
)

// StatusUpdate is a compare-and-set write against one booking. Expected is
// the status the caller read; the write is rejected with domain.ErrConflict
// when the stored status no longer matches, so no transition ever lands on a
// stale read.
type StatusUpdate struct {
	Expected      domain.Status
	Next          domain.Status
	ConfirmedDate string // empty means leave unchanged
	ConfirmedTime string
	Players       int // 0 means leave unchanged; nonzero recomputes the total
	NoteLine      string
	MessageID     string // recorded as the last confirmation message id
	ConfirmedAt   *time.Time
	Now           time.Time // stamps the note line; zero falls back to wall time
}

// BookingStore holds booking records.
//
// CreateIfAbsent is insert-or-ignore: a second create for the same id is a
// no-op returning the stored record, never an overwrite. ApplyStatus is the
// only status write path and must be atomic per booking.
type BookingStore interface {
	CreateIfAbsent(ctx context.Context, b domain.Booking) (domain.Booking, bool, error)
	Get(ctx context.Context, bookingID string) (domain.Booking, error)
	ApplyStatus(ctx context.Context, bookingID string, upd StatusUpdate) (domain.Booking, error)
	AppendNote(ctx context.Context, bookingID string, now time.Time, line string) error
	RecentInquiry(ctx context.Context, guestEmail string, dates []string, since time.Time) (string, error)
	List(ctx context.Context, limit int) ([]domain.Booking, error)
}
