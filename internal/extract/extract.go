// Package extract pulls booking identifiers, dates, times and player counts
// out of free-text email subjects and bodies. Every pattern list is tried in
// a fixed order and the first match wins, so extraction is deterministic for
// a given input. Extraction never fails; absent fields are simply left zero.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Booking id patterns, most specific first. A labelled reference beats a bare
// id appearing anywhere in the text.
var bookingIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[?ref(?:erence)?:?\s*([A-Z]{2,8}-\d{8}-[0-9A-F]{8})\]?`),
	regexp.MustCompile(`(?i)\b([A-Z]{2,8}-\d{8}-[0-9A-F]{8})\b`),
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
	regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`),
	regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{4})\b`),
	regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`),
}

var timePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`),
	regexp.MustCompile(`(?i)\b(\d{1,2})(?::([0-5]\d))?\s*(am|pm)\b`),
}

// Player-count patterns. A number counts as a party size only when attached
// to an explicit unit word; a bare "15" is a day of the month, not a group.
var playerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:players?|golfers?)\s*(?:on any given day|per day|each day|a day)\b`),
	regexp.MustCompile(`(?i)\b(?:group|party)\s+of\s+(\d{1,3})\b`),
	regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:players?|golfers?|people|persons?|guests?)\b`),
}

var golfGroupWords = []struct {
	word  string
	count int
}{
	{"foursome", 4},
	{"four-ball", 4},
	{"fourball", 4},
	{"threesome", 3},
	{"three-ball", 3},
	{"twosome", 2},
	{"two-ball", 2},
}

// Result is the output of a single extraction pass. Zero fields mean the
// pattern tables found nothing, not a guessed default.
type Result struct {
	BookingID string
	Date      string
	Time      string
	Players   int
}

// Parse runs every pattern table over subject then body.
func Parse(subject, body string) Result {
	return Result{
		BookingID: BookingID(subject, body),
		Date:      date(subject, body),
		Time:      clockTime(subject, body),
		Players:   Players(subject + "\n" + body),
	}
}

// BookingID returns the first booking identifier found, upper-cased, or "".
// Subject is scanned before body for each pattern so the priority order is
// pattern-major, not text-major.
func BookingID(subject, body string) string {
	for _, re := range bookingIDPatterns {
		for _, text := range []string{subject, body} {
			if m := re.FindStringSubmatch(text); m != nil {
				return strings.ToUpper(m[len(m)-1])
			}
		}
	}
	return ""
}

func date(subject, body string) string {
	for _, re := range datePatterns {
		for _, text := range []string{subject, body} {
			if m := re.FindStringSubmatch(text); m != nil {
				if d, ok := normalizeDate(m); ok {
					return d
				}
			}
		}
	}
	return ""
}

func normalizeDate(m []string) (string, bool) {
	switch len(m) {
	case 2:
		if strings.Contains(m[1], "/") {
			t, err := time.Parse("2/1/2006", m[1])
			if err != nil {
				return "", false
			}
			return t.Format("2006-01-02"), true
		}
		if _, err := time.Parse("2006-01-02", m[1]); err != nil {
			return "", false
		}
		return m[1], true
	case 4:
		// Either "15 April 2026" or "April 15 2026"; the month group position
		// tells them apart.
		day, month, year := m[1], m[2], m[3]
		if _, err := strconv.Atoi(m[1]); err != nil {
			month, day = m[1], m[2]
		}
		t, err := time.Parse("2 January 2006", day+" "+titleCase(month)+" "+year)
		if err != nil {
			return "", false
		}
		return t.Format("2006-01-02"), true
	}
	return "", false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func clockTime(subject, body string) string {
	for _, re := range timePatterns {
		for _, text := range []string{subject, body} {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			if len(m) == 3 {
				return m[1] + ":" + m[2]
			}
			// am/pm form
			hour, err := strconv.Atoi(m[1])
			if err != nil || hour < 1 || hour > 12 {
				continue
			}
			if strings.EqualFold(m[3], "pm") && hour != 12 {
				hour += 12
			}
			if strings.EqualFold(m[3], "am") && hour == 12 {
				hour = 0
			}
			minutes := m[2]
			if minutes == "" {
				minutes = "00"
			}
			return pad2(hour) + ":" + minutes
		}
	}
	return ""
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// Players returns the extracted party size, or 0 when no unit-worded count
// appears. Callers apply the default of 4 themselves so that "no count seen"
// stays observable.
func Players(text string) int {
	for _, re := range playerPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n >= 1 && n <= 100 {
				return n
			}
		}
	}
	lower := strings.ToLower(text)
	for _, g := range golfGroupWords {
		if strings.Contains(lower, g.word) {
			return g.count
		}
	}
	return 0
}
