// Package notify defines the boundary to the notification collaborator. This
// core decides which outcome a booking reached; rendering and delivery belong
// to the dispatcher on the far side of the queue.
package notify

import (
	"context"
	"sync"

	"github.com/fairwaydesk/teeflow/internal/domain"
)

// OutcomeKind names the message the dispatcher should render.
type OutcomeKind string

const (
	OutcomeInquiryAvailability   OutcomeKind = "inquiry.availability"
	OutcomeInquiryNoAvailability OutcomeKind = "inquiry.no-availability"
	OutcomeInquiryManualFollowUp OutcomeKind = "inquiry.manual-follow-up"
	OutcomeRequestAcknowledged   OutcomeKind = "request.acknowledged"
	OutcomeBookingConfirmed      OutcomeKind = "booking.confirmed"
	OutcomePaymentConfirmed      OutcomeKind = "payment.confirmed"
	OutcomePaymentPending        OutcomeKind = "payment.pending"
	OutcomePaymentSettled        OutcomeKind = "payment.settled"
	OutcomeWaitlistJoined        OutcomeKind = "waitlist.joined"
	OutcomeWaitlistAvailability  OutcomeKind = "waitlist.availability"
)

// Outcome is one fully-resolved notification request.
type Outcome struct {
	BookingID string          `json:"booking_id"`
	Kind      OutcomeKind     `json:"outcome_kind"`
	Booking   domain.Booking  `json:"booking_snapshot"`
	Slots     []AvailableSlot `json:"slots,omitempty"`
}

// AvailableSlot mirrors the availability gateway's open tee times for the
// inquiry response.
type AvailableSlot struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Capacity int    `json:"capacity"`
}

// Dispatcher accepts outcomes for eventual delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, outcome Outcome) error
}

// Recorder is a Dispatcher that remembers every outcome, for tests.
type Recorder struct {
	mu       sync.Mutex
	Outcomes []Outcome
}

func (r *Recorder) Dispatch(ctx context.Context, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Outcomes = append(r.Outcomes, outcome)
	return nil
}

// Count returns how many outcomes of the given kind were dispatched.
func (r *Recorder) Count(kind OutcomeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}
