package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fairwaydesk/teeflow/internal/domain"
)

// Memory is a mutex-guarded in-memory BookingStore. It backs the engine
// tests and is good enough for single-process development runs.
type Memory struct {
	mu       sync.Mutex
	bookings map[string]domain.Booking
}

func NewMemory() *Memory {
	return &Memory{bookings: make(map[string]domain.Booking)}
}

func (m *Memory) CreateIfAbsent(ctx context.Context, b domain.Booking) (domain.Booking, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bookings[b.ID]; ok {
		return existing, false, nil
	}
	m.bookings[b.ID] = b
	return b, true, nil
}

func (m *Memory) Get(ctx context.Context, bookingID string) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *Memory) ApplyStatus(ctx context.Context, bookingID string, upd StatusUpdate) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	if b.Status != upd.Expected {
		return domain.Booking{}, domain.ErrConflict
	}
	b.Status = upd.Next
	if upd.ConfirmedDate != "" {
		b.ConfirmedDate = upd.ConfirmedDate
	}
	if upd.ConfirmedTime != "" {
		b.ConfirmedTime = upd.ConfirmedTime
	}
	if upd.Players > 0 {
		b.SetPlayers(upd.Players)
	}
	if upd.MessageID != "" {
		b.ConfirmationMessageID = upd.MessageID
	}
	now := upd.Now
	if now.IsZero() {
		now = time.Now()
	}
	if upd.ConfirmedAt != nil && b.ConfirmedAt == nil {
		b.ConfirmedAt = upd.ConfirmedAt
	}
	if upd.NoteLine != "" {
		b.AppendNote(now, upd.NoteLine)
	}
	b.UpdatedAt = now
	m.bookings[bookingID] = b
	return b, nil
}

func (m *Memory) AppendNote(ctx context.Context, bookingID string, now time.Time, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.ErrNotFound
	}
	b.AppendNote(now, line)
	b.UpdatedAt = now
	m.bookings[bookingID] = b
	return nil
}

func (m *Memory) RecentInquiry(ctx context.Context, guestEmail string, dates []string, since time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(dates))
	for _, d := range dates {
		want[d] = true
	}
	for _, b := range m.bookings {
		if b.GuestEmail != guestEmail || b.Status != domain.StatusInquiry || b.CreatedAt.Before(since) {
			continue
		}
		for _, d := range b.RequestedDates {
			if want[d] {
				return b.ID, nil
			}
		}
	}
	return "", nil
}

func (m *Memory) List(ctx context.Context, limit int) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
