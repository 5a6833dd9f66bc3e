// Package classify assigns one canonical event type to each inbound item.
//
// Email classification is an ordered rule list evaluated top to bottom; the
// first rule whose predicate holds wins. Order encodes business priority: a
// staff override must never be read as a generic reply, and a reply must
// never be read as a fresh inquiry, which would create a duplicate booking.
package classify

import (
	"strings"

	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/extract"
)

var staffConfirmationMarkers = []string{
	"confirm booking",
	"booking confirmed",
	"approve booking",
}

var waitlistMarker = "join waitlist"

var bookingRequestMarker = "booking request"

type emailRule struct {
	name  string
	match func(subject, body string) bool
	typ   domain.EventType
}

// emailRules is the precedence table. Do not reorder without revisiting the
// duplicate-booking consequences described in the package comment.
var emailRules = []emailRule{
	{
		name: "staff confirmation marker with resolvable booking id",
		match: func(subject, body string) bool {
			return containsAny(subject, body, staffConfirmationMarkers) &&
				extract.BookingID(subject, body) != ""
		},
		typ: domain.EventStaffConfirmation,
	},
	{
		name: "waitlist opt-in marker in subject",
		match: func(subject, body string) bool {
			return strings.Contains(strings.ToLower(subject), waitlistMarker)
		},
		typ: domain.EventWaitlistOptIn,
	},
	{
		name: "booking request marker in subject",
		match: func(subject, body string) bool {
			return strings.Contains(strings.ToLower(subject), bookingRequestMarker)
		},
		typ: domain.EventBookingRequest,
	},
	{
		name: "reply marker",
		match: func(subject, body string) bool {
			return strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:")
		},
		typ: domain.EventCustomerReply,
	},
}

// Email classifies an inbound email. Anything no rule claims is a new
// inquiry.
func Email(subject, body string) domain.EventType {
	for _, rule := range emailRules {
		if rule.match(subject, body) {
			return rule.typ
		}
	}
	return domain.EventNewInquiry
}

// paymentEvents maps the provider's event-type field 1:1 onto the three
// payment outcomes. Unrecognized types classify as Unknown and are
// acknowledged without producing a transition.
var paymentEvents = map[string]domain.EventType{
	"checkout.session.completed": domain.EventPaymentCheckoutCompleted,
	"charge.succeeded":           domain.EventPaymentSettled,
	"charge.failed":              domain.EventPaymentFailed,
}

// Payment classifies a payment-webhook delivery by its event-type field.
func Payment(eventType string) domain.EventType {
	if t, ok := paymentEvents[eventType]; ok {
		return t
	}
	return domain.EventUnknown
}

func containsAny(subject, body string, markers []string) bool {
	s := strings.ToLower(subject)
	b := strings.ToLower(body)
	for _, m := range markers {
		if strings.Contains(s, m) || strings.Contains(b, m) {
			return true
		}
	}
	return false
}
