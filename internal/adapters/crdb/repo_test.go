package crdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairwaydesk/teeflow/internal/adapters/crdb"
	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/store"
)

const bookingsSchema = `
	CREATE DATABASE IF NOT EXISTS teeflow;
	CREATE TABLE IF NOT EXISTS teeflow.bookings (
		booking_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL,
		guest_email TEXT NOT NULL,
		guest_name TEXT NOT NULL DEFAULT '',
		guest_phone TEXT NOT NULL DEFAULT '',
		requested_dates TEXT[] NOT NULL DEFAULT ARRAY[]::TEXT[],
		confirmed_date TEXT NOT NULL DEFAULT '',
		confirmed_time TEXT NOT NULL DEFAULT '',
		players INT NOT NULL DEFAULT 4,
		per_player_fee FLOAT8 NOT NULL,
		total_due FLOAT8 NOT NULL,
		inbound_message_id TEXT NOT NULL DEFAULT '',
		confirmation_message_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		confirmed_at TIMESTAMPTZ
	);
`

func startBookingRepo(t *testing.T, ctx context.Context) (*crdb.Repository, *pgxpool.Pool) {
	t.Helper()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	dsn, err := crdbContainer.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/teeflow?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, bookingsSchema); err != nil {
		t.Fatal(err)
	}

	return crdb.NewRepository(pool), pool
}

func TestRepository_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo, _ := startBookingRepo(t, ctx)

	b := domain.NewBooking("ISL", "guest@example.com", []string{"2026-04-15"}, 4, 325.0, time.Now())

	stored, created, err := repo.CreateIfAbsent(ctx, b)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !created {
		t.Error("expected first insert to create the booking")
	}
	if stored.Status != domain.StatusInquiry {
		t.Errorf("expected Inquiry, got %s", stored.Status)
	}

	replay := b
	replay.GuestName = "overwrite attempt"
	stored, created, err = repo.CreateIfAbsent(ctx, replay)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("expected duplicate insert to be a no-op")
	}
	if stored.GuestName == "overwrite attempt" {
		t.Error("duplicate insert must not overwrite stored fields")
	}
}

func TestRepository_ApplyStatus(t *testing.T) {
	ctx := context.Background()
	repo, _ := startBookingRepo(t, ctx)

	b := domain.NewBooking("ISL", "guest@example.com", []string{"2026-04-15"}, 4, 325.0, time.Now())
	if _, _, err := repo.CreateIfAbsent(ctx, b); err != nil {
		t.Fatal(err)
	}

	updated, err := repo.ApplyStatus(ctx, b.ID, store.StatusUpdate{
		Expected:      domain.StatusInquiry,
		Next:          domain.StatusRequested,
		ConfirmedDate: "2026-04-15",
		ConfirmedTime: "10:30",
		Players:       8,
		NoteLine:      "Booking request received",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if updated.Status != domain.StatusRequested {
		t.Errorf("expected Requested, got %s", updated.Status)
	}
	if updated.Players != 8 || updated.TotalDue != 8*325.0 {
		t.Errorf("expected total recomputed for 8 players, got players=%d total=%.2f", updated.Players, updated.TotalDue)
	}
	if updated.Note == "" {
		t.Error("expected note line to be appended")
	}

	_, err = repo.ApplyStatus(ctx, b.ID, store.StatusUpdate{
		Expected: domain.StatusInquiry,
		Next:     domain.StatusRequested,
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected conflict on stale expected status, got %v", err)
	}

	_, err = repo.ApplyStatus(ctx, "ISL-20260101-DEADBEEF", store.StatusUpdate{
		Expected: domain.StatusInquiry,
		Next:     domain.StatusRequested,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found for unknown booking, got %v", err)
	}
}

func TestRepository_ApplyStatus_LegacyAlias(t *testing.T) {
	ctx := context.Background()
	repo, pool := startBookingRepo(t, ctx)

	b := domain.NewBooking("ISL", "guest@example.com", []string{"2026-04-15"}, 4, 325.0, time.Now())
	if _, _, err := repo.CreateIfAbsent(ctx, b); err != nil {
		t.Fatal(err)
	}

	// Rows written by the system this one replaced carry alias spellings.
	// "Pending" is the old name for Requested.
	if _, err := pool.Exec(ctx, `UPDATE bookings SET status = 'Pending' WHERE booking_id = $1`, b.ID); err != nil {
		t.Fatal(err)
	}

	updated, err := repo.ApplyStatus(ctx, b.ID, store.StatusUpdate{
		Expected: domain.StatusRequested,
		Next:     domain.StatusConfirmed,
		NoteLine: "Staff confirmation",
	})
	if err != nil {
		t.Fatalf("expected alias row to satisfy the compare-and-set, got %v", err)
	}
	if updated.Status != domain.StatusConfirmed {
		t.Errorf("expected Confirmed, got %s", updated.Status)
	}

	var raw string
	if err := pool.QueryRow(ctx, `SELECT status FROM bookings WHERE booking_id = $1`, b.ID).Scan(&raw); err != nil {
		t.Fatal(err)
	}
	if raw != string(domain.StatusConfirmed) {
		t.Errorf("expected canonical spelling persisted, got %q", raw)
	}
}

func TestRepository_RecentInquiry(t *testing.T) {
	ctx := context.Background()
	repo, _ := startBookingRepo(t, ctx)

	b := domain.NewBooking("ISL", "guest@example.com", []string{"2026-04-15", "2026-04-16"}, 4, 325.0, time.Now())
	if _, _, err := repo.CreateIfAbsent(ctx, b); err != nil {
		t.Fatal(err)
	}

	id, err := repo.RecentInquiry(ctx, "guest@example.com", []string{"2026-04-16"}, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if id != b.ID {
		t.Errorf("expected overlapping inquiry %s, got %q", b.ID, id)
	}

	id, err = repo.RecentInquiry(ctx, "guest@example.com", []string{"2026-05-01"}, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("expected no match for disjoint dates, got %q", id)
	}

	id, err = repo.RecentInquiry(ctx, "other@example.com", []string{"2026-04-15"}, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("expected no match for other guest, got %q", id)
	}
}
