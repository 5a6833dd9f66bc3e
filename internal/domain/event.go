package domain

import "time"

// EventType is the canonical classification of one inbound item.
type EventType string

const (
	EventNewInquiry               EventType = "NewInquiry"
	EventBookingRequest           EventType = "BookingRequest"
	EventStaffConfirmation        EventType = "StaffConfirmation"
	EventCustomerReply            EventType = "CustomerReply"
	EventWaitlistOptIn            EventType = "WaitlistOptIn"
	EventPaymentCheckoutCompleted EventType = "PaymentCheckoutCompleted"
	EventPaymentSettled           EventType = "PaymentSettled"
	EventPaymentFailed            EventType = "PaymentFailed"
	EventUnknown                  EventType = "Unknown"
)

// Source identifies which channel delivered an event.
type Source string

const (
	SourceEmail          Source = "email"
	SourcePaymentWebhook Source = "payment-webhook"
)

// Extraction holds whatever the pattern extractor could pull out of free
// text. Absent fields stay zero; nothing here is ever guessed.
type Extraction struct {
	BookingID string
	Date      string
	Time      string
	Players   int
}

// EmailEvent is a classified inbound email. It carries only the fields an
// email can legitimately supply.
type EmailEvent struct {
	Type              EventType
	ProviderMessageID string
	From              string
	Subject           string
	Body              string
	Extracted         Extraction
	ReceivedAt        time.Time
}

// PaymentEvent is a classified payment-webhook delivery. Metadata travels in
// named fields rather than a free-form bag so a reply can never smuggle in
// transition directives.
type PaymentEvent struct {
	Type              EventType
	ProviderMessageID string
	SessionID         string
	BookingID         string
	TenantID          string
	GuestEmail        string
	Amount            float64
	Method            PaymentMethod
	ReceivedAt        time.Time
}

// PaymentMethod distinguishes instant settlement from the two delayed
// direct-debit rails.
type PaymentMethod string

const (
	MethodCard    PaymentMethod = "card"
	MethodDebitA  PaymentMethod = "bacs_debit"
	MethodDebitB  PaymentMethod = "sepa_debit"
	MethodUnknown PaymentMethod = ""
)

// Instant reports whether the method settles at checkout time.
func (m PaymentMethod) Instant() bool {
	return m != MethodDebitA && m != MethodDebitB
}

// PendingStatus is the method-tagged pending state entered while a delayed
// payment clears.
func (m PaymentMethod) PendingStatus() Status {
	if m == MethodDebitB {
		return StatusPendingMethodB
	}
	return StatusPendingMethodA
}
