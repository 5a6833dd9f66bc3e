package classify

import (
	"testing"

	"github.com/fairwaydesk/teeflow/internal/domain"
)

func TestEmailPrecedence(t *testing.T) {
	cases := []struct {
		name          string
		subject, body string
		want          domain.EventType
	}{
		{
			"staff confirmation with id",
			"Confirm booking ISL-20260415-AB12CD34", "Approved.",
			domain.EventStaffConfirmation,
		},
		{
			"staff marker beats reply marker",
			"Re: Booking Request ISL-20260415-AB12CD34", "Booking confirmed, see you then.",
			domain.EventStaffConfirmation,
		},
		{
			"staff marker without id falls through",
			"Confirm booking", "which one did you mean?",
			domain.EventNewInquiry,
		},
		{
			"waitlist opt-in",
			"JOIN WAITLIST 2026-04-15", "",
			domain.EventWaitlistOptIn,
		},
		{
			"waitlist beats booking request",
			"Join Waitlist for the booking request dates", "",
			domain.EventWaitlistOptIn,
		},
		{
			"booking request",
			"Booking Request ISL-20260415-AB12CD34", "We'd like 2026-04-15 at 10:30.",
			domain.EventBookingRequest,
		},
		{
			"reply",
			"Re: your tee time quote", "thanks, thinking it over",
			domain.EventCustomerReply,
		},
		{
			"reply marker is subject-leading only",
			"More: details inside", "re: earlier thread",
			domain.EventNewInquiry,
		},
		{
			"anything else is an inquiry",
			"Golf in April?", "4 of us would love a round.",
			domain.EventNewInquiry,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Email(tc.subject, tc.body); got != tc.want {
				t.Errorf("Email(%q, %q) = %s, want %s", tc.subject, tc.body, got, tc.want)
			}
		})
	}
}

func TestEmailDeterministic(t *testing.T) {
	subject := "Re: Booking Request ISL-20260415-AB12CD34"
	body := "booking confirmed"
	first := Email(subject, body)
	for i := 0; i < 100; i++ {
		if Email(subject, body) != first {
			t.Fatal("classification must be deterministic for identical input")
		}
	}
}

func TestPayment(t *testing.T) {
	cases := []struct {
		eventType string
		want      domain.EventType
	}{
		{"checkout.session.completed", domain.EventPaymentCheckoutCompleted},
		{"charge.succeeded", domain.EventPaymentSettled},
		{"charge.failed", domain.EventPaymentFailed},
		{"customer.created", domain.EventUnknown},
		{"", domain.EventUnknown},
	}
	for _, tc := range cases {
		if got := Payment(tc.eventType); got != tc.want {
			t.Errorf("Payment(%q) = %s, want %s", tc.eventType, got, tc.want)
		}
	}
}
