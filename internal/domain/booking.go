package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a booking. The zero value is not a valid
// persisted status; bookings are written for the first time in StatusInquiry.
type Status string

const (
	StatusInquiry        Status = "Inquiry"
	StatusRequested      Status = "Requested"
	StatusConfirmed      Status = "Confirmed"
	StatusPendingMethodA Status = "PendingMethodA" // BACS-style direct debit, clears in 3-5 days
	StatusPendingMethodB Status = "PendingMethodB" // SEPA-style direct debit, clears in 3-5 days
	StatusCancelled      Status = "Cancelled"
	StatusCompleted      Status = "Completed"
)

// transitions is the full set of permitted status edges. Anything not listed
// here is an invalid transition.
var transitions = map[Status][]Status{
	StatusInquiry:        {StatusRequested, StatusCancelled},
	StatusRequested:      {StatusConfirmed, StatusCancelled, StatusPendingMethodA, StatusPendingMethodB},
	StatusPendingMethodA: {StatusConfirmed},
	StatusPendingMethodB: {StatusConfirmed},
	StatusConfirmed:      {StatusCompleted},
	StatusCancelled:      {},
	StatusCompleted:      {},
}

// legacyStatuses maps status values written by earlier releases onto the
// current set. Accepted on read, normalized on write.
var legacyStatuses = map[string]Status{
	"Processing":   StatusInquiry,
	"Pending":      StatusRequested,
	"Booked":       StatusConfirmed,
	"Pending BACS": StatusPendingMethodA,
	"Pending SEPA": StatusPendingMethodB,
}

// NormalizeStatus resolves a raw persisted value to a canonical Status.
func NormalizeStatus(raw string) (Status, bool) {
	if legacy, ok := legacyStatuses[raw]; ok {
		return legacy, true
	}
	s := Status(raw)
	if _, ok := transitions[s]; ok {
		return s, true
	}
	return "", false
}

// CanTransition reports whether the edge from -> to exists in the graph.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further edges leave this status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Booking is the aggregate root for one tee-time request.
type Booking struct {
	ID                    string
	TenantID              string
	Status                Status
	GuestEmail            string
	GuestName             string
	GuestPhone            string
	RequestedDates        []string
	ConfirmedDate         string
	ConfirmedTime         string
	Players               int
	PerPlayerFee          float64
	TotalDue              float64
	InboundMessageID      string
	ConfirmationMessageID string
	Note                  string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ConfirmedAt           *time.Time
}

const DefaultPlayers = 4

// NewBooking creates a booking in Inquiry with a deterministic id derived
// from the guest contact and creation time.
func NewBooking(tenantID, guestEmail string, dates []string, players int, perPlayerFee float64, now time.Time) Booking {
	if players <= 0 {
		players = DefaultPlayers
	}
	return Booking{
		ID:             GenerateBookingID(tenantID, guestEmail, now),
		TenantID:       tenantID,
		Status:         StatusInquiry,
		GuestEmail:     guestEmail,
		RequestedDates: dates,
		Players:        players,
		PerPlayerFee:   perPlayerFee,
		TotalDue:       float64(players) * perPlayerFee,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// GenerateBookingID builds an id of the form <TENANT>-<YYYYMMDD>-<8 hex>.
// The hex segment hashes contact plus timestamp so concurrent inquiries from
// different guests never collide.
func GenerateBookingID(tenantID, guestEmail string, now time.Time) string {
	sum := sha256.Sum256([]byte(guestEmail + now.Format(time.RFC3339Nano)))
	return fmt.Sprintf("%s-%s-%s",
		strings.ToUpper(tenantID),
		now.Format("20060102"),
		strings.ToUpper(hex.EncodeToString(sum[:4])),
	)
}

// SetPlayers updates the party size and recomputes the total so the two are
// never stored inconsistently.
func (b *Booking) SetPlayers(players int) {
	if players <= 0 {
		return
	}
	b.Players = players
	b.TotalDue = float64(players) * b.PerPlayerFee
}

// AppendNote adds a timestamped line to the audit trail. Notes are append
// only; nothing in this package ever rewrites an existing line.
func (b *Booking) AppendNote(now time.Time, line string) {
	entry := now.Format("2006-01-02 15:04:05") + " " + line
	if b.Note == "" {
		b.Note = entry
		return
	}
	b.Note += "\n" + entry
}

// SlotsNeeded is the number of consecutive tee slots a party occupies, at
// four players per slot.
func (b *Booking) SlotsNeeded() int {
	if b.Players <= 0 {
		return 1
	}
	return (b.Players + 3) / 4
}
