package http_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fairwaydesk/teeflow/internal/availability"
	"github.com/fairwaydesk/teeflow/internal/config"
	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/engine"
	httphandler "github.com/fairwaydesk/teeflow/internal/http"
	"github.com/fairwaydesk/teeflow/internal/idempotency"
	"github.com/fairwaydesk/teeflow/internal/notify"
	"github.com/fairwaydesk/teeflow/internal/observability"
	"github.com/fairwaydesk/teeflow/internal/store"
	"github.com/fairwaydesk/teeflow/internal/waitlist"
)

const testSecret = "unit-test-secret"

type openGateway struct{}

func (openGateway) Check(ctx context.Context, req availability.Request) ([]availability.Slot, error) {
	return []availability.Slot{{Date: "2026-04-15", Time: "10:30", Capacity: 4}}, nil
}

type entryStore struct {
	entries map[string]waitlist.Entry
}

func (s *entryStore) Insert(ctx context.Context, e waitlist.Entry) error {
	s.entries[e.ID] = e
	return nil
}

func (s *entryStore) Get(ctx context.Context, id string) (waitlist.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return waitlist.Entry{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *entryStore) GetWaiting(ctx context.Context, limit int) ([]waitlist.Entry, error) {
	var out []waitlist.Entry
	for _, e := range s.entries {
		if e.Status == waitlist.StatusWaiting {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *entryStore) UpdateStatus(ctx context.Context, id string, from, to waitlist.Status, bookingID string) error {
	e, ok := s.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Status != from {
		return domain.ErrConflict
	}
	e.Status = to
	if bookingID != "" {
		e.BookingID = bookingID
	}
	s.entries[id] = e
	return nil
}

func (s *entryStore) ExpireBefore(ctx context.Context, cutoff string) (int64, error) {
	return 0, nil
}

// flakyStore fails a set number of calls before delegating, standing in for
// a store that is briefly unreachable.
type flakyStore struct {
	store.BookingStore
	failCreates int
	failGets    int
}

func (f *flakyStore) CreateIfAbsent(ctx context.Context, b domain.Booking) (domain.Booking, bool, error) {
	if f.failCreates > 0 {
		f.failCreates--
		return domain.Booking{}, false, errors.New("store unavailable")
	}
	return f.BookingStore.CreateIfAbsent(ctx, b)
}

func (f *flakyStore) Get(ctx context.Context, id string) (domain.Booking, error) {
	if f.failGets > 0 {
		f.failGets--
		return domain.Booking{}, errors.New("store unavailable")
	}
	return f.BookingStore.Get(ctx, id)
}

func newServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return newServerWith(t, mem), mem
}

func newServerWith(t *testing.T, bookings store.BookingStore) *httptest.Server {
	t.Helper()
	logger := observability.NewNopLogger()
	rec := &notify.Recorder{}
	avail := availability.NewPolicy(openGateway{}, 1, 0, logger)
	guard := idempotency.NewGuard(idempotency.NewMemoryAdmitter(), time.Hour)

	cfg := &config.Config{
		TenantID:             "ISL",
		PerPlayerFee:         325.0,
		PaymentWebhookSecret: testSecret,
	}
	eng := engine.New(engine.Config{TenantID: "ISL", PerPlayerFee: 325.0}, bookings, avail, rec, nil, nil, logger)
	wl := waitlist.NewService(&entryStore{entries: make(map[string]waitlist.Entry)}, bookings, avail, rec, "ISL", 325.0, logger)

	handlers := httphandler.NewHandlers(cfg, eng, guard, bookings, nil, nil, wl, logger)
	server := httptest.NewServer(httphandler.SetupRouter(handlers, logger, nil))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	payload, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestInboundEmail_Validation(t *testing.T) {
	server, _ := newServer(t)

	resp, err := http.Post(server.URL+"/webhooks/email", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed json, got %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/webhooks/email", map[string]string{
		"from": "not-an-address", "subject": "hi", "text_body": "hello",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid sender, got %d", resp.StatusCode)
	}
}

func TestInboundEmail_DuplicateSuppressed(t *testing.T) {
	server, _ := newServer(t)
	email := map[string]string{
		"from":      "Jane <jane@example.com>",
		"subject":   "Golf in April",
		"text_body": "4 players on 2026-04-15 please",
		"headers":   "Message-ID: <msg-1@mail.example>",
	}

	out := decode(t, postJSON(t, server.URL+"/webhooks/email", email))
	if out["status"] != "inquiry" {
		t.Fatalf("expected inquiry, got %v", out["status"])
	}

	out = decode(t, postJSON(t, server.URL+"/webhooks/email", email))
	if out["status"] != "duplicate" {
		t.Fatalf("expected duplicate, got %v", out["status"])
	}
}

func TestInboundEmail_RetryAfterFailureNotSuppressed(t *testing.T) {
	mem := store.NewMemory()
	flaky := &flakyStore{BookingStore: mem, failCreates: 1}
	server := newServerWith(t, flaky)

	email := map[string]string{
		"from":      "Jane <jane@example.com>",
		"subject":   "Tee time inquiry",
		"text_body": "4 players on 2026-04-15",
		"headers":   "Message-ID: <inquiry-retry-1@mail.example>",
	}

	resp := postJSON(t, server.URL+"/webhooks/email", email)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 while the store is down, got %d", resp.StatusCode)
	}

	// The provider retries on non-200. The failed delivery was never
	// processed, so the retry must not be treated as a duplicate.
	out := decode(t, postJSON(t, server.URL+"/webhooks/email", email))
	if out["status"] != "inquiry" {
		t.Fatalf("expected the retry to create the inquiry, got %v", out["status"])
	}

	bookings, err := mem.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bookings) != 1 {
		t.Fatalf("expected exactly one booking after the retry, got %d", len(bookings))
	}
}

func TestPaymentWebhook_RetryAfterFailureNotSuppressed(t *testing.T) {
	mem := store.NewMemory()
	flaky := &flakyStore{BookingStore: mem, failGets: 1}
	server := newServerWith(t, flaky)

	b := domain.NewBooking("ISL", "jane@example.com", []string{"2026-04-15"}, 4, 325.0, time.Now())
	b.Status = domain.StatusRequested
	if _, _, err := mem.CreateIfAbsent(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"event_type":          "checkout.session.completed",
		"provider_message_id": "evt-retry-1",
		"metadata":            map[string]string{"booking_id": b.ID, "tenant_id": "ISL"},
		"amount":              1300.0,
		"method":              "card",
	})
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	send := func() *http.Response {
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/webhooks/payment", bytes.NewReader(payload))
		req.Header.Set("Webhook-Signature", signature)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := send()
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 while the store is down, got %d", resp.StatusCode)
	}

	out := decode(t, send())
	if out["status"] != "confirmed" {
		t.Fatalf("expected the retry to confirm the booking, got %v", out["status"])
	}
	stored, err := mem.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.StatusConfirmed {
		t.Fatalf("expected Confirmed after the retry, got %s", stored.Status)
	}
}

func TestPaymentWebhook_Signature(t *testing.T) {
	server, mem := newServer(t)

	b := domain.NewBooking("ISL", "jane@example.com", []string{"2026-04-15"}, 4, 325.0, time.Now())
	b.Status = domain.StatusRequested
	if _, _, err := mem.CreateIfAbsent(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"event_type":          "checkout.session.completed",
		"provider_message_id": "evt-1",
		"metadata":            map[string]string{"booking_id": b.ID, "tenant_id": "ISL"},
		"amount":              1300.0,
		"method":              "card",
	})

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Webhook-Signature", "deadbeef")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", resp.StatusCode)
	}

	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	req, _ = http.NewRequest(http.MethodPost, server.URL+"/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, resp)
	if out["status"] != "confirmed" {
		t.Fatalf("expected confirmed with valid signature, got %v", out["status"])
	}
}

func TestBookingReadAndUpdate(t *testing.T) {
	server, mem := newServer(t)
	ctx := context.Background()

	b := domain.NewBooking("ISL", "jane@example.com", []string{"2026-04-15"}, 4, 325.0, time.Now())
	if _, _, err := mem.CreateIfAbsent(ctx, b); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(server.URL + "/v1/bookings/" + b.ID)
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, resp)
	if out["status"] != "Inquiry" {
		t.Errorf("expected Inquiry, got %v", out["status"])
	}

	resp, err = http.Get(server.URL + "/v1/bookings/ISL-20260101-FFFFFFFF")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	// Staff cancellation through the same transition validation.
	patch := func(body map[string]string) *http.Response {
		payload, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPatch, server.URL+"/v1/bookings/"+b.ID, bytes.NewReader(payload))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	out = decode(t, patch(map[string]string{"status": "Cancelled", "note": "guest phoned"}))
	if out["status"] != "Cancelled" {
		t.Errorf("expected Cancelled, got %v", out["status"])
	}

	resp = patch(map[string]string{"status": "Confirmed"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for an illegal edge, got %d", resp.StatusCode)
	}

	// Legacy alias accepted on input.
	resp = patch(map[string]string{"status": "Booked"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected alias to normalize then hit the same 409, got %d", resp.StatusCode)
	}
}

func TestWaitlistEndpoints(t *testing.T) {
	server, _ := newServer(t)

	out := decode(t, postJSON(t, server.URL+"/webhooks/email", map[string]string{
		"from":      "jane@example.com",
		"subject":   "JOIN WAITLIST - 2026-04-15 - 4 players",
		"text_body": "",
		"headers":   "Message-ID: <wl-1@mail.example>",
	}))
	if out["status"] != "waitlist_joined" {
		t.Fatalf("expected waitlist_joined, got %v", out["status"])
	}
	waitlistID, _ := out["waitlist_id"].(string)
	if waitlistID == "" {
		t.Fatal("expected a waitlist id")
	}

	resp, err := http.Get(server.URL + "/v1/waitlist")
	if err != nil {
		t.Fatal(err)
	}
	listOut := decode(t, resp)
	if entries, ok := listOut["waitlist"].([]interface{}); !ok || len(entries) != 1 {
		t.Errorf("expected one waiting entry, got %v", listOut["waitlist"])
	}

	resp, err = http.Post(server.URL+"/v1/waitlist/"+waitlistID+"/convert", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	convOut := decode(t, resp)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if convOut["status"] != "Inquiry" {
		t.Errorf("converted booking starts in Inquiry, got %v", convOut["status"])
	}
}
