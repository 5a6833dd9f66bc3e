// Package waitlist implements the opt-in waitlist flow: guests whose dates
// had no availability can ask to be notified when a slot opens.
package waitlist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusNotified  Status = "notified"
	StatusConverted Status = "converted"
	StatusExpired   Status = "expired"
)

// Entry is one waitlist registration.
type Entry struct {
	ID            string
	TenantID      string
	GuestEmail    string
	Dates         []string
	PreferredTime string
	Players       int
	Status        Status
	BookingID     string // set once converted
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is the persistence boundary for entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	GetWaiting(ctx context.Context, limit int) ([]Entry, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, bookingID string) error
	ExpireBefore(ctx context.Context, cutoff string) (int64, error)
}

// NewEntryID derives a stable id from the guest contact and creation time,
// in the same spirit as booking ids.
func NewEntryID(guestEmail string, now time.Time) string {
	sum := sha256.Sum256([]byte("waitlist" + guestEmail + now.Format(time.RFC3339Nano)))
	return "WL-" + now.Format("20060102") + "-" + strings.ToUpper(hex.EncodeToString(sum[:4]))
}

// Opt-in subjects look like "JOIN WAITLIST - 2026-04-15 - 10:00 - 4 players".
// Date and player segments are optional; order is fixed.
var (
	optInDates   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	optInTime    = regexp.MustCompile(`\b([01]?\d|2[0-3]):[0-5]\d\b`)
	optInPlayers = regexp.MustCompile(`(?i)\b(\d{1,3})\s*players?\b`)
)

// ParseOptInSubject extracts the registration fields from the subject line.
func ParseOptInSubject(subject string) (dates []string, preferredTime string, players int) {
	dates = optInDates.FindAllString(subject, -1)
	if m := optInTime.FindString(subject); m != "" {
		preferredTime = m
	}
	if m := optInPlayers.FindStringSubmatch(subject); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 100 {
			players = n
		}
	}
	if players == 0 {
		players = 4
	}
	return dates, preferredTime, players
}

// Validate rejects registrations with nothing to watch for.
func (e Entry) Validate() error {
	if e.GuestEmail == "" {
		return fmt.Errorf("waitlist entry missing guest email")
	}
	if len(e.Dates) == 0 {
		return fmt.Errorf("waitlist entry missing dates")
	}
	return nil
}
