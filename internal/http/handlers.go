package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/fairwaydesk/teeflow/internal/adapters/crdb"
	redisadapter "github.com/fairwaydesk/teeflow/internal/adapters/redis"
	"github.com/fairwaydesk/teeflow/internal/classify"
	"github.com/fairwaydesk/teeflow/internal/config"
	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/engine"
	"github.com/fairwaydesk/teeflow/internal/extract"
	"github.com/fairwaydesk/teeflow/internal/idempotency"
	"github.com/fairwaydesk/teeflow/internal/observability"
	"github.com/fairwaydesk/teeflow/internal/store"
	"github.com/fairwaydesk/teeflow/internal/waitlist"
)

type Handlers struct {
	cfg      *config.Config
	engine   *engine.Engine
	guard    *idempotency.Guard
	bookings store.BookingStore
	cache    *redisadapter.Cache
	archive  *crdb.Repository
	waitlist *waitlist.Service
	logger   observability.Logger
}

// NewHandlers wires the HTTP surface. cache and archive may be nil when the
// service runs without redis or the relational store (tests, local dev).
func NewHandlers(cfg *config.Config, eng *engine.Engine, guard *idempotency.Guard, bookings store.BookingStore, cache *redisadapter.Cache, archive *crdb.Repository, wl *waitlist.Service, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:      cfg,
		engine:   eng,
		guard:    guard,
		bookings: bookings,
		cache:    cache,
		archive:  archive,
		waitlist: wl,
		logger:   logger,
	}
}

type inboundEmailRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	TextBody string `json:"text_body"`
	HTMLBody string `json:"html_body"`
	Headers  string `json:"headers"`
}

var messageIDPattern = regexp.MustCompile(`(?im)^Message-Id:\s*<?([^>\s]+)>?`)

// InboundEmail is the email-provider webhook. Only malformed input gets a
// non-200; business rejections are acknowledged because email providers
// retry on error status and a retry would change nothing.
func (h *Handlers) InboundEmail(w http.ResponseWriter, r *http.Request) {
	var req inboundEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	sender := cleanAddress(req.From)
	if sender == "" || !strings.Contains(sender, "@") {
		http.Error(w, "invalid sender address", http.StatusBadRequest)
		return
	}

	body := req.TextBody
	if body == "" {
		body = req.HTMLBody
	}

	now := time.Now()
	messageID := extractMessageID(req.Headers)
	if messageID == "" {
		messageID = idempotency.SynthesizeKey(domain.SourceEmail, req.Subject, now)
	}

	if h.archive != nil {
		if err := h.archive.ArchiveInbound(r.Context(), crdb.InboundEmail{
			MessageID:  messageID,
			FromEmail:  sender,
			ToEmail:    req.To,
			Subject:    req.Subject,
			TextBody:   req.TextBody,
			HTMLBody:   req.HTMLBody,
			ReceivedAt: now,
		}); err != nil {
			h.logger.Error("failed to archive inbound email: ", err)
		}
	}

	admitted, err := h.guard.Admit(r.Context(), messageID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !admitted {
		observability.DuplicatesSuppressed.Inc()
		h.logger.WithField("message_id", messageID).Warn("duplicate email delivery suppressed")
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "duplicate", "stored": false})
		return
	}

	eventType := classify.Email(req.Subject, body)

	if eventType == domain.EventWaitlistOptIn {
		entry, err := h.waitlist.OptIn(r.Context(), sender, req.Subject)
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "waitlist_invalid", "stored": false})
			return
		}
		if err != nil {
			h.releaseAdmit(r.Context(), messageID)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.markProcessed(r, messageID, "waitlist_joined")
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "waitlist_joined", "waitlist_id": entry.ID, "stored": true})
		return
	}

	ev := domain.EmailEvent{
		Type:              eventType,
		ProviderMessageID: messageID,
		From:              sender,
		Subject:           req.Subject,
		Body:              body,
		Extracted:         toExtraction(extract.Parse(req.Subject, body)),
		ReceivedAt:        now,
	}

	result, err := h.engine.HandleEmail(r.Context(), ev)
	if err != nil {
		h.releaseAdmit(r.Context(), messageID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result.BookingID != "" && h.cache != nil {
		h.cache.InvalidateBooking(r.Context(), result.BookingID)
	}

	h.markProcessed(r, messageID, result.Status)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     result.Status,
		"booking_id": result.BookingID,
		"stored":     result.Stored,
	})
}

type paymentEnvelope struct {
	EventType         string `json:"event_type"`
	ProviderMessageID string `json:"provider_message_id"`
	SessionOrChargeID string `json:"session_or_charge_id"`
	Metadata          struct {
		BookingID string `json:"booking_id"`
		TenantID  string `json:"tenant_id"`
	} `json:"metadata"`
	GuestEmail string  `json:"guest_email"`
	Amount     float64 `json:"amount"`
	Method     string  `json:"method"`
}

// PaymentWebhook verifies the provider signature over the raw body, then
// hands the event to the engine. The provider retries on non-200, so
// everything past signature and shape validation acknowledges with 200.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable payload", http.StatusBadRequest)
		return
	}

	if h.cfg.PaymentWebhookSecret != "" {
		if !verifySignature(payload, r.Header.Get("Webhook-Signature"), h.cfg.PaymentWebhookSecret) {
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}
	}

	var env paymentEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if env.ProviderMessageID == "" {
		http.Error(w, "missing provider_message_id", http.StatusBadRequest)
		return
	}

	admitted, err := h.guard.Admit(r.Context(), env.ProviderMessageID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !admitted {
		observability.DuplicatesSuppressed.Inc()
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "duplicate"})
		return
	}

	ev := domain.PaymentEvent{
		Type:              classify.Payment(env.EventType),
		ProviderMessageID: env.ProviderMessageID,
		SessionID:         env.SessionOrChargeID,
		BookingID:         env.Metadata.BookingID,
		TenantID:          env.Metadata.TenantID,
		GuestEmail:        env.GuestEmail,
		Amount:            env.Amount,
		Method:            domain.PaymentMethod(env.Method),
		ReceivedAt:        time.Now(),
	}

	result, err := h.engine.HandlePayment(r.Context(), ev)
	if err != nil {
		h.releaseAdmit(r.Context(), env.ProviderMessageID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result.BookingID != "" && h.cache != nil {
		h.cache.InvalidateBooking(r.Context(), result.BookingID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     result.Status,
		"booking_id": result.BookingID,
	})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.cache != nil {
		if b, ok, err := h.cache.GetBooking(r.Context(), id); err == nil && ok {
			writeJSON(w, http.StatusOK, bookingResponse(b))
			return
		}
	}

	b, err := h.bookings.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if h.cache != nil {
		h.cache.SetBooking(r.Context(), b, time.Minute)
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.bookings.List(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]interface{}, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, bookingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": out})
}

type updateBookingRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// UpdateBooking lets staff move a booking along the graph (cancel, complete)
// or append a note. Edits go through the same transition validation as
// webhook events; an illegal edge is a 409, never a blind write.
func (h *Handlers) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if req.Status == "" && req.Note == "" {
		http.Error(w, "nothing to update", http.StatusBadRequest)
		return
	}

	if req.Status == "" {
		err := h.bookings.AppendNote(r.Context(), id, time.Now(), "Staff note: "+req.Note)
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if h.cache != nil {
			h.cache.InvalidateBooking(r.Context(), id)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "note_added", "booking_id": id})
		return
	}

	target, ok := domain.NormalizeStatus(req.Status)
	if !ok {
		http.Error(w, "unrecognized status", http.StatusBadRequest)
		return
	}

	b, err := h.engine.ApplyManual(r.Context(), id, target, req.Note)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrInvalidTransition):
		http.Error(w, "transition not permitted", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if h.cache != nil {
		h.cache.InvalidateBooking(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, bookingResponse(b))
}

func (h *Handlers) ListWaitlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.waitlist.Waiting(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []waitlist.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"waitlist": entries})
}

func (h *Handlers) ConvertWaitlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := h.waitlist.ConvertByID(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "waitlist entry not found", http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, "entry already converted or expired", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse(b))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) markProcessed(r *http.Request, messageID, outcome string) {
	if h.archive == nil {
		return
	}
	if err := h.archive.MarkInboundProcessed(r.Context(), messageID, outcome); err != nil {
		h.logger.Error("failed to mark inbound email processed: ", err)
	}
}

// releaseAdmit returns the idempotency key to the guard after processing
// failed. The non-200 response tells the provider to retry, and the retry
// must not be suppressed as a duplicate of a delivery that was never
// processed.
func (h *Handlers) releaseAdmit(ctx context.Context, messageID string) {
	if err := h.guard.Release(ctx, messageID); err != nil {
		h.logger.WithField("message_id", messageID).Error("failed to release idempotency key: ", err)
	}
}

func verifySignature(payload []byte, header, secret string) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sig, mac.Sum(nil))
}

// cleanAddress strips a display name, "Jane Doe <jane@x.com>" -> "jane@x.com".
func cleanAddress(from string) string {
	if i := strings.IndexByte(from, '<'); i >= 0 {
		if j := strings.IndexByte(from[i:], '>'); j > 0 {
			return strings.TrimSpace(from[i+1 : i+j])
		}
	}
	return strings.TrimSpace(from)
}

func extractMessageID(headers string) string {
	if m := messageIDPattern.FindStringSubmatch(headers); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func toExtraction(r extract.Result) domain.Extraction {
	return domain.Extraction{
		BookingID: r.BookingID,
		Date:      r.Date,
		Time:      r.Time,
		Players:   r.Players,
	}
}

func bookingResponse(b domain.Booking) map[string]interface{} {
	resp := map[string]interface{}{
		"booking_id":      b.ID,
		"tenant_id":       b.TenantID,
		"status":          string(b.Status),
		"guest_email":     b.GuestEmail,
		"requested_dates": b.RequestedDates,
		"players":         b.Players,
		"per_player_fee":  b.PerPlayerFee,
		"total_due":       b.TotalDue,
		"note":            b.Note,
		"created_at":      b.CreatedAt.Format(time.RFC3339),
		"updated_at":      b.UpdatedAt.Format(time.RFC3339),
	}
	if b.ConfirmedDate != "" {
		resp["confirmed_date"] = b.ConfirmedDate
	}
	if b.ConfirmedTime != "" {
		resp["confirmed_time"] = b.ConfirmedTime
	}
	if b.ConfirmedAt != nil {
		resp["confirmed_at"] = b.ConfirmedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
