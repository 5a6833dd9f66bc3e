// Package engine applies classified inbound events to booking state. All
// status writes go through the store's compare-and-set path; a write that
// raced with a concurrent transition is retried once against the fresh
// status and never applied blind.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fairwaydesk/teeflow/internal/availability"
	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/notify"
	"github.com/fairwaydesk/teeflow/internal/observability"
	"github.com/fairwaydesk/teeflow/internal/store"
	"github.com/fairwaydesk/teeflow/internal/worker"
)

// errAlreadyApplied marks an idempotent replay of a transition the booking
// has already taken. Treated as success, never surfaced to the remote party.
var errAlreadyApplied = errors.New("already applied")

// AuditSink records accepted transitions out of band. May be nil.
type AuditSink interface {
	RecordTransition(ctx context.Context, bookingID string, from, to domain.Status, detail map[string]interface{}) error
}

type Config struct {
	TenantID            string
	PerPlayerFee        float64
	InquiryDedupeWindow time.Duration
}

type Engine struct {
	cfg        Config
	store      store.BookingStore
	avail      *availability.Policy
	dispatcher notify.Dispatcher
	audit      AuditSink
	pool       *worker.Pool
	logger     observability.Logger
	now        func() time.Time
}

// New wires an engine. pool may be nil, in which case the asynchronous phase
// runs inline; audit may be nil.
func New(cfg Config, st store.BookingStore, avail *availability.Policy, dispatcher notify.Dispatcher, audit AuditSink, pool *worker.Pool, logger observability.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      st,
		avail:      avail,
		dispatcher: dispatcher,
		audit:      audit,
		pool:       pool,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock overrides the engine's clock, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Result is the machine-readable outcome returned to the webhook layer.
type Result struct {
	Status    string
	BookingID string
	Stored    bool
}

// HandleEmail applies one classified email event.
func (e *Engine) HandleEmail(ctx context.Context, ev domain.EmailEvent) (Result, error) {
	observability.EventsTotal.WithLabelValues(string(domain.SourceEmail), string(ev.Type)).Inc()

	switch ev.Type {
	case domain.EventNewInquiry:
		return e.handleNewInquiry(ctx, ev)
	case domain.EventBookingRequest:
		return e.handleBookingRequest(ctx, ev)
	case domain.EventStaffConfirmation:
		return e.handleStaffConfirmation(ctx, ev)
	case domain.EventCustomerReply:
		return e.handleCustomerReply(ctx, ev)
	default:
		return Result{Status: "ignored"}, nil
	}
}

func (e *Engine) handleNewInquiry(ctx context.Context, ev domain.EmailEvent) (Result, error) {
	now := e.now()
	var dates []string
	if ev.Extracted.Date != "" {
		dates = []string{ev.Extracted.Date}
	}

	if e.cfg.InquiryDedupeWindow > 0 && len(dates) > 0 {
		existing, err := e.store.RecentInquiry(ctx, ev.From, dates, now.Add(-e.cfg.InquiryDedupeWindow))
		if err != nil {
			return Result{}, err
		}
		if existing != "" {
			if err := e.store.AppendNote(ctx, existing, now, fmt.Sprintf("Repeat inquiry received (message %s)", ev.ProviderMessageID)); err != nil {
				return Result{}, err
			}
			e.logger.WithField("booking_id", existing).Info("repeat inquiry within dedupe window, no new booking")
			return Result{Status: "duplicate_inquiry", BookingID: existing}, nil
		}
	}

	b := domain.NewBooking(e.cfg.TenantID, ev.From, dates, ev.Extracted.Players, e.cfg.PerPlayerFee, now)
	b.InboundMessageID = ev.ProviderMessageID
	b.AppendNote(now, fmt.Sprintf("Inquiry received from %s for %d players", ev.From, b.Players))

	b, created, err := e.store.CreateIfAbsent(ctx, b)
	if err != nil {
		return Result{}, err
	}
	if created {
		observability.TransitionsTotal.WithLabelValues("New", string(domain.StatusInquiry)).Inc()
		e.recordAudit(ctx, b.ID, "", domain.StatusInquiry, map[string]interface{}{"players": b.Players})
	}

	bookingID := b.ID
	e.async(func(taskCtx context.Context) error {
		return e.checkAvailabilityAndNotify(taskCtx, bookingID)
	})

	return Result{Status: "inquiry", BookingID: b.ID, Stored: created}, nil
}

// checkAvailabilityAndNotify is the slow half of inquiry handling. Failure
// here degrades to a manual follow-up outcome; the booking itself is already
// safe in the store.
func (e *Engine) checkAvailabilityAndNotify(ctx context.Context, bookingID string) error {
	b, err := e.store.Get(ctx, bookingID)
	if err != nil {
		return err
	}

	slots, err := e.avail.Check(ctx, availability.Request{
		TenantID: b.TenantID,
		Dates:    b.RequestedDates,
		Players:  b.Players,
		Slots:    b.SlotsNeeded(),
	})
	now := e.now()
	switch {
	case err == nil:
		if noteErr := e.store.AppendNote(ctx, bookingID, now, fmt.Sprintf("%d available tee times offered", len(slots))); noteErr != nil {
			return noteErr
		}
		return e.dispatch(ctx, notify.Outcome{BookingID: bookingID, Kind: notify.OutcomeInquiryAvailability, Booking: b, Slots: toSlots(slots)})
	case errors.Is(err, domain.ErrNoAvailability):
		if noteErr := e.store.AppendNote(ctx, bookingID, now, "No availability found for requested dates"); noteErr != nil {
			return noteErr
		}
		return e.dispatch(ctx, notify.Outcome{BookingID: bookingID, Kind: notify.OutcomeInquiryNoAvailability, Booking: b})
	default:
		e.logger.WithField("booking_id", bookingID).Warn("availability check degraded to manual follow-up: ", err)
		if noteErr := e.store.AppendNote(ctx, bookingID, now, "Availability check failed, manual follow-up required"); noteErr != nil {
			return noteErr
		}
		return e.dispatch(ctx, notify.Outcome{BookingID: bookingID, Kind: notify.OutcomeInquiryManualFollowUp, Booking: b})
	}
}

func (e *Engine) handleBookingRequest(ctx context.Context, ev domain.EmailEvent) (Result, error) {
	if ev.Extracted.BookingID == "" {
		e.logger.Warn("booking request without resolvable booking id, dropped")
		return Result{Status: "no_booking_id"}, nil
	}

	updated, err := e.transition(ctx, ev.Extracted.BookingID, func(b domain.Booking) (store.StatusUpdate, error) {
		if b.Status == domain.StatusRequested && b.ConfirmationMessageID != "" {
			return store.StatusUpdate{}, errAlreadyApplied
		}
		if b.Status != domain.StatusInquiry {
			return store.StatusUpdate{}, domain.ErrInvalidTransition
		}
		return store.StatusUpdate{
			Expected:      domain.StatusInquiry,
			Next:          domain.StatusRequested,
			ConfirmedDate: ev.Extracted.Date,
			ConfirmedTime: ev.Extracted.Time,
			Players:       ev.Extracted.Players,
			MessageID:     ev.ProviderMessageID,
			NoteLine:      fmt.Sprintf("Booking request received (message %s)", ev.ProviderMessageID),
		}, nil
	})
	switch {
	case errors.Is(err, errAlreadyApplied):
		return Result{Status: "already_requested", BookingID: ev.Extracted.BookingID}, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return e.rejectTransition(ev.Extracted.BookingID, "booking request")
	case errors.Is(err, domain.ErrNotFound):
		e.logger.WithField("booking_id", ev.Extracted.BookingID).Warn("booking request for unknown booking, dropped")
		return Result{Status: "unknown_booking"}, nil
	case err != nil:
		return Result{}, err
	}

	e.recordAudit(ctx, updated.ID, domain.StatusInquiry, domain.StatusRequested, map[string]interface{}{"message_id": ev.ProviderMessageID})
	snapshot := updated
	e.async(func(taskCtx context.Context) error {
		return e.dispatch(taskCtx, notify.Outcome{BookingID: snapshot.ID, Kind: notify.OutcomeRequestAcknowledged, Booking: snapshot})
	})
	return Result{Status: "requested", BookingID: updated.ID, Stored: true}, nil
}

func (e *Engine) handleStaffConfirmation(ctx context.Context, ev domain.EmailEvent) (Result, error) {
	if ev.Extracted.BookingID == "" {
		e.logger.Warn("staff confirmation without resolvable booking id, dropped")
		return Result{Status: "no_booking_id"}, nil
	}
	now := e.now()

	updated, err := e.transition(ctx, ev.Extracted.BookingID, func(b domain.Booking) (store.StatusUpdate, error) {
		if b.Status == domain.StatusConfirmed {
			return store.StatusUpdate{}, errAlreadyApplied
		}
		if b.Status != domain.StatusRequested {
			return store.StatusUpdate{}, domain.ErrInvalidTransition
		}
		return store.StatusUpdate{
			Expected:      domain.StatusRequested,
			Next:          domain.StatusConfirmed,
			ConfirmedDate: ev.Extracted.Date,
			ConfirmedTime: ev.Extracted.Time,
			ConfirmedAt:   &now,
			MessageID:     ev.ProviderMessageID,
			NoteLine:      "Booking confirmed by staff",
		}, nil
	})
	switch {
	case errors.Is(err, errAlreadyApplied):
		return Result{Status: "already_confirmed", BookingID: ev.Extracted.BookingID}, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return e.rejectTransition(ev.Extracted.BookingID, "staff confirmation")
	case errors.Is(err, domain.ErrNotFound):
		e.logger.WithField("booking_id", ev.Extracted.BookingID).Warn("staff confirmation for unknown booking, dropped")
		return Result{Status: "unknown_booking"}, nil
	case err != nil:
		return Result{}, err
	}

	e.recordAudit(ctx, updated.ID, domain.StatusRequested, domain.StatusConfirmed, nil)
	snapshot := updated
	e.async(func(taskCtx context.Context) error {
		return e.dispatch(taskCtx, notify.Outcome{BookingID: snapshot.ID, Kind: notify.OutcomeBookingConfirmed, Booking: snapshot})
	})
	return Result{Status: "confirmed", BookingID: updated.ID, Stored: true}, nil
}

// handleCustomerReply never changes status; it only extends the audit trail
// of the booking the identifier resolves to.
func (e *Engine) handleCustomerReply(ctx context.Context, ev domain.EmailEvent) (Result, error) {
	if ev.Extracted.BookingID == "" {
		e.logger.WithField("subject", ev.Subject).Info("customer reply with no booking id, logged as orphaned")
		return Result{Status: "orphaned"}, nil
	}
	err := e.store.AppendNote(ctx, ev.Extracted.BookingID, e.now(), fmt.Sprintf("Customer reply received: %q", ev.Subject))
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.WithField("booking_id", ev.Extracted.BookingID).Info("customer reply for unknown booking, logged as orphaned")
		return Result{Status: "orphaned"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Status: "reply_noted", BookingID: ev.Extracted.BookingID}, nil
}

// HandlePayment applies one classified payment-webhook event.
func (e *Engine) HandlePayment(ctx context.Context, ev domain.PaymentEvent) (Result, error) {
	observability.EventsTotal.WithLabelValues(string(domain.SourcePaymentWebhook), string(ev.Type)).Inc()

	if ev.Type == domain.EventUnknown {
		return Result{Status: "ignored"}, nil
	}
	if ev.BookingID == "" {
		e.logger.Warn("payment event without booking id in metadata, dropped")
		return Result{Status: "no_booking_id"}, nil
	}

	switch ev.Type {
	case domain.EventPaymentCheckoutCompleted:
		return e.handleCheckoutCompleted(ctx, ev)
	case domain.EventPaymentSettled:
		return e.handlePaymentSettled(ctx, ev)
	case domain.EventPaymentFailed:
		return e.handlePaymentFailed(ctx, ev)
	}
	return Result{Status: "ignored"}, nil
}

func (e *Engine) handleCheckoutCompleted(ctx context.Context, ev domain.PaymentEvent) (Result, error) {
	now := e.now()

	if ev.Method.Instant() {
		updated, err := e.transition(ctx, ev.BookingID, func(b domain.Booking) (store.StatusUpdate, error) {
			if b.Status == domain.StatusConfirmed {
				return store.StatusUpdate{}, errAlreadyApplied
			}
			if !b.Status.CanTransition(domain.StatusConfirmed) {
				return store.StatusUpdate{}, domain.ErrInvalidTransition
			}
			return store.StatusUpdate{
				Expected:    b.Status,
				Next:        domain.StatusConfirmed,
				ConfirmedAt: &now,
				MessageID:   ev.ProviderMessageID,
				NoteLine:    fmt.Sprintf("Payment confirmed (%s, %.2f), session %s", ev.Method, ev.Amount, ev.SessionID),
			}, nil
		})
		return e.finishPayment(ctx, ev, updated, err, notify.OutcomePaymentConfirmed, "confirmed")
	}

	pending := ev.Method.PendingStatus()
	updated, err := e.transition(ctx, ev.BookingID, func(b domain.Booking) (store.StatusUpdate, error) {
		if b.Status == pending || b.Status == domain.StatusConfirmed {
			return store.StatusUpdate{}, errAlreadyApplied
		}
		if !b.Status.CanTransition(pending) {
			return store.StatusUpdate{}, domain.ErrInvalidTransition
		}
		return store.StatusUpdate{
			Expected:  b.Status,
			Next:      pending,
			MessageID: ev.ProviderMessageID,
			NoteLine:  fmt.Sprintf("Direct debit initiated (%s, %.2f), clears in 3-5 business days, session %s", ev.Method, ev.Amount, ev.SessionID),
		}, nil
	})
	return e.finishPayment(ctx, ev, updated, err, notify.OutcomePaymentPending, "payment_pending")
}

func (e *Engine) handlePaymentSettled(ctx context.Context, ev domain.PaymentEvent) (Result, error) {
	now := e.now()
	pending := ev.Method.PendingStatus()

	updated, err := e.transition(ctx, ev.BookingID, func(b domain.Booking) (store.StatusUpdate, error) {
		if b.Status == domain.StatusConfirmed {
			return store.StatusUpdate{}, errAlreadyApplied
		}
		if b.Status != pending {
			return store.StatusUpdate{}, domain.ErrInvalidTransition
		}
		return store.StatusUpdate{
			Expected:    pending,
			Next:        domain.StatusConfirmed,
			ConfirmedAt: &now,
			MessageID:   ev.ProviderMessageID,
			NoteLine:    fmt.Sprintf("Direct debit cleared (%s, %.2f)", ev.Method, ev.Amount),
		}, nil
	})
	return e.finishPayment(ctx, ev, updated, err, notify.OutcomePaymentSettled, "settled")
}

// handlePaymentFailed only extends the audit trail. A failed payment must
// not silently cancel a reservation.
func (e *Engine) handlePaymentFailed(ctx context.Context, ev domain.PaymentEvent) (Result, error) {
	err := e.store.AppendNote(ctx, ev.BookingID, e.now(), fmt.Sprintf("Payment failed (%s, %.2f), session %s", ev.Method, ev.Amount, ev.SessionID))
	if errors.Is(err, domain.ErrNotFound) {
		e.logger.WithField("booking_id", ev.BookingID).Warn("payment failure for unknown booking, dropped")
		return Result{Status: "unknown_booking"}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Status: "payment_failed_noted", BookingID: ev.BookingID}, nil
}

func (e *Engine) finishPayment(ctx context.Context, ev domain.PaymentEvent, updated domain.Booking, err error, kind notify.OutcomeKind, status string) (Result, error) {
	switch {
	case errors.Is(err, errAlreadyApplied):
		return Result{Status: "already_processed", BookingID: ev.BookingID}, nil
	case errors.Is(err, domain.ErrInvalidTransition):
		return e.rejectTransition(ev.BookingID, string(ev.Type))
	case errors.Is(err, domain.ErrNotFound):
		e.logger.WithField("booking_id", ev.BookingID).Warn("payment event for unknown booking, dropped")
		return Result{Status: "unknown_booking"}, nil
	case err != nil:
		return Result{}, err
	}

	e.recordAudit(ctx, updated.ID, "", updated.Status, map[string]interface{}{
		"amount": ev.Amount,
		"method": string(ev.Method),
	})
	snapshot := updated
	e.async(func(taskCtx context.Context) error {
		return e.dispatch(taskCtx, notify.Outcome{BookingID: snapshot.ID, Kind: kind, Booking: snapshot})
	})
	return Result{Status: status, BookingID: updated.ID, Stored: true}, nil
}

// ApplyManual moves a booking to target on behalf of staff. The same graph
// rules apply as for webhook-driven transitions; an illegal edge surfaces
// domain.ErrInvalidTransition for the caller to map.
func (e *Engine) ApplyManual(ctx context.Context, bookingID string, target domain.Status, note string) (domain.Booking, error) {
	now := e.now()
	updated, err := e.transition(ctx, bookingID, func(b domain.Booking) (store.StatusUpdate, error) {
		if b.Status == target {
			return store.StatusUpdate{}, errAlreadyApplied
		}
		if !b.Status.CanTransition(target) {
			return store.StatusUpdate{}, domain.ErrInvalidTransition
		}
		upd := store.StatusUpdate{
			Expected: b.Status,
			Next:     target,
			NoteLine: fmt.Sprintf("Staff set status to %s", target),
		}
		if note != "" {
			upd.NoteLine = fmt.Sprintf("Staff set status to %s: %s", target, note)
		}
		if target == domain.StatusConfirmed {
			upd.ConfirmedAt = &now
		}
		return upd, nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return updated, nil
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		observability.TransitionsRejected.Inc()
		return domain.Booking{}, err
	}
	if err != nil {
		return domain.Booking{}, err
	}
	e.recordAudit(ctx, updated.ID, "", updated.Status, map[string]interface{}{"actor": "staff"})
	return updated, nil
}

// transition reads the booking, lets decide pick the edge against what it
// read, and applies it compare-and-set. On a conflict the status is re-read
// and decide runs once more against the fresh value.
func (e *Engine) transition(ctx context.Context, bookingID string, decide func(b domain.Booking) (store.StatusUpdate, error)) (domain.Booking, error) {
	b, err := e.store.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	for attempt := 0; ; attempt++ {
		upd, err := decide(b)
		if err != nil {
			return b, err
		}
		if upd.Now.IsZero() {
			upd.Now = e.now()
		}
		updated, err := e.store.ApplyStatus(ctx, bookingID, upd)
		if errors.Is(err, domain.ErrConflict) && attempt == 0 {
			b, err = e.store.Get(ctx, bookingID)
			if err != nil {
				return domain.Booking{}, err
			}
			continue
		}
		if err != nil {
			return domain.Booking{}, err
		}
		observability.TransitionsTotal.WithLabelValues(string(upd.Expected), string(upd.Next)).Inc()
		return updated, nil
	}
}

func (e *Engine) rejectTransition(bookingID, cause string) (Result, error) {
	observability.TransitionsRejected.Inc()
	e.logger.WithFields(map[string]interface{}{
		"booking_id": bookingID,
		"event":      cause,
	}).Warn("transition rejected, state preserved")
	return Result{Status: "invalid_status", BookingID: bookingID}, nil
}

func (e *Engine) dispatch(ctx context.Context, outcome notify.Outcome) error {
	if err := e.dispatcher.Dispatch(ctx, outcome); err != nil {
		return errors.Wrap(err, "dispatch notification")
	}
	observability.NotificationsDispatched.WithLabelValues(string(outcome.Kind)).Inc()
	return nil
}

func (e *Engine) recordAudit(ctx context.Context, bookingID string, from, to domain.Status, detail map[string]interface{}) {
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordTransition(ctx, bookingID, from, to, detail); err != nil {
		e.logger.WithField("booking_id", bookingID).Error("audit record failed: ", err)
	}
}

func (e *Engine) async(task worker.Task) {
	if e.pool == nil {
		if err := task(context.Background()); err != nil {
			e.logger.Error("background task failed: ", err)
		}
		return
	}
	e.pool.Submit(task)
}

func toSlots(in []availability.Slot) []notify.AvailableSlot {
	out := make([]notify.AvailableSlot, len(in))
	for i, s := range in {
		out[i] = notify.AvailableSlot{Date: s.Date, Time: s.Time, Capacity: s.Capacity}
	}
	return out
}
