package waitlist

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fairwaydesk/teeflow/internal/availability"
	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/notify"
	"github.com/fairwaydesk/teeflow/internal/observability"
	"github.com/fairwaydesk/teeflow/internal/store"
)

// Service runs the waitlist lifecycle: register, probe, notify, expire,
// convert.
type Service struct {
	entries    Store
	bookings   store.BookingStore
	avail      *availability.Policy
	dispatcher notify.Dispatcher
	tenantID   string
	fee        float64
	logger     observability.Logger
	now        func() time.Time
}

func NewService(entries Store, bookings store.BookingStore, avail *availability.Policy, dispatcher notify.Dispatcher, tenantID string, fee float64, logger observability.Logger) *Service {
	return &Service{
		entries:    entries,
		bookings:   bookings,
		avail:      avail,
		dispatcher: dispatcher,
		tenantID:   tenantID,
		fee:        fee,
		logger:     logger,
		now:        time.Now,
	}
}

// OptIn registers a guest from a parsed JOIN WAITLIST email.
func (s *Service) OptIn(ctx context.Context, guestEmail, subject string) (Entry, error) {
	dates, preferredTime, players := ParseOptInSubject(subject)
	now := s.now()
	entry := Entry{
		ID:            NewEntryID(guestEmail, now),
		TenantID:      s.tenantID,
		GuestEmail:    guestEmail,
		Dates:         dates,
		PreferredTime: preferredTime,
		Players:       players,
		Status:        StatusWaiting,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := entry.Validate(); err != nil {
		return Entry{}, errors.Mark(err, domain.ErrInvalidInput)
	}
	if err := s.entries.Insert(ctx, entry); err != nil {
		return Entry{}, err
	}
	if err := s.dispatcher.Dispatch(ctx, notify.Outcome{Kind: notify.OutcomeWaitlistJoined, Booking: domain.Booking{GuestEmail: guestEmail, TenantID: s.tenantID}}); err != nil {
		s.logger.WithField("waitlist_id", entry.ID).Error("waitlist join notification failed: ", err)
	}
	return entry, nil
}

// Waiting lists entries still waiting for their dates to open up.
func (s *Service) Waiting(ctx context.Context, limit int) ([]Entry, error) {
	return s.entries.GetWaiting(ctx, limit)
}

// Sweep probes availability for waiting entries and notifies the ones whose
// dates opened up. Entries move waiting -> notified at most once.
func (s *Service) Sweep(ctx context.Context, batch int) error {
	entries, err := s.entries.GetWaiting(ctx, batch)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		slots, err := s.avail.Check(ctx, availability.Request{
			TenantID: entry.TenantID,
			Dates:    entry.Dates,
			Players:  entry.Players,
			Slots:    (entry.Players + 3) / 4,
		})
		if errors.Is(err, domain.ErrNoAvailability) {
			continue
		}
		if err != nil {
			s.logger.WithField("waitlist_id", entry.ID).Warn("waitlist availability probe failed: ", err)
			continue
		}
		if err := s.entries.UpdateStatus(ctx, entry.ID, StatusWaiting, StatusNotified, ""); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue // another sweeper got there first
			}
			return err
		}
		outcome := notify.Outcome{
			Kind: notify.OutcomeWaitlistAvailability,
			Booking: domain.Booking{
				TenantID:       entry.TenantID,
				GuestEmail:     entry.GuestEmail,
				RequestedDates: entry.Dates,
				Players:        entry.Players,
			},
			Slots: make([]notify.AvailableSlot, 0, len(slots)),
		}
		for _, slot := range slots {
			outcome.Slots = append(outcome.Slots, notify.AvailableSlot{Date: slot.Date, Time: slot.Time, Capacity: slot.Capacity})
		}
		if err := s.dispatcher.Dispatch(ctx, outcome); err != nil {
			s.logger.WithField("waitlist_id", entry.ID).Error("waitlist notification failed: ", err)
		}
	}
	return nil
}

// ExpireOld marks entries whose requested dates have all passed.
func (s *Service) ExpireOld(ctx context.Context) (int64, error) {
	cutoff := s.now().Format("2006-01-02")
	return s.entries.ExpireBefore(ctx, cutoff)
}

// ConvertByID looks up an entry and converts it. A terminal entry returns
// domain.ErrConflict.
func (s *Service) ConvertByID(ctx context.Context, id string) (domain.Booking, error) {
	entry, err := s.entries.Get(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if entry.Status == StatusConverted || entry.Status == StatusExpired {
		return domain.Booking{}, errors.Mark(errors.Newf("waitlist entry %s is %s", id, entry.Status), domain.ErrConflict)
	}
	return s.Convert(ctx, entry)
}

// Convert turns a waitlist entry into a booking in Inquiry. The booking is
// created first so a failed insert never leaves a converted entry with no
// booking behind it. The booking id derives from the entry's creation time,
// so a retried or raced conversion lands on the same id and the
// insert-or-ignore create keeps that side idempotent; the entry is then
// marked converted with a compare-and-set.
func (s *Service) Convert(ctx context.Context, entry Entry) (domain.Booking, error) {
	now := s.now()
	b := domain.NewBooking(entry.TenantID, entry.GuestEmail, entry.Dates, entry.Players, s.fee, now)
	b.ID = domain.GenerateBookingID(entry.TenantID, entry.GuestEmail, entry.CreatedAt)
	b.ConfirmedTime = entry.PreferredTime
	b.AppendNote(now, "Created from waitlist entry "+entry.ID)

	b, _, err := s.bookings.CreateIfAbsent(ctx, b)
	if err != nil {
		return domain.Booking{}, err
	}
	if err := s.entries.UpdateStatus(ctx, entry.ID, entry.Status, StatusConverted, b.ID); err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}
