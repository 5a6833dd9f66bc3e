package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairwaydesk/teeflow/internal/adapters/crdb"
	"github.com/fairwaydesk/teeflow/internal/adapters/rabbit"
	"github.com/fairwaydesk/teeflow/internal/availability"
	"github.com/fairwaydesk/teeflow/internal/config"
	"github.com/fairwaydesk/teeflow/internal/notify"
	"github.com/fairwaydesk/teeflow/internal/observability"
	"github.com/fairwaydesk/teeflow/internal/outbox"
	"github.com/fairwaydesk/teeflow/internal/waitlist"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, "teeflow.notify", "#")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	gateway := availability.NewHTTPGateway(cfg.AvailabilityURL, &http.Client{Timeout: 10 * time.Second})
	avail := availability.NewPolicy(gateway, cfg.AvailabilityAttempts, cfg.AvailabilityBackoff, logger)
	wl := waitlist.NewService(crdb.NewWaitlistRepository(repo), repo, avail, outbox.NewDispatcher(repo), cfg.TenantID, cfg.PerPlayerFee, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumeNotifications(ctx, consumer, logger)
	go runWaitlistSweeper(ctx, wl, logger)

	logger.Info("notify worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown notify worker")
}

// consumeNotifications drains the notifications queue and hands each outcome
// to the guest messaging boundary. Malformed payloads are dropped, not
// requeued; they would never parse on redelivery either.
func consumeNotifications(ctx context.Context, consumer *rabbit.Consumer, logger observability.Logger) {
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		logger.Error("failed to start consuming: ", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var outcome notify.Outcome
			if err := json.Unmarshal(d.Body, &outcome); err != nil {
				logger.Error("malformed notification payload, dropping: ", err)
				d.Nack(false, false)
				continue
			}
			deliver(outcome, logger)
			d.Ack(false)
		}
	}
}

// deliver is the guest messaging boundary. The transport to the guest (email
// provider API) sits behind this one call; here it is a structured log so the
// pipeline is observable end to end without external credentials.
func deliver(outcome notify.Outcome, logger observability.Logger) {
	logger.WithFields(map[string]interface{}{
		"kind":        string(outcome.Kind),
		"booking_id":  outcome.BookingID,
		"guest_email": outcome.Booking.GuestEmail,
		"slots":       len(outcome.Slots),
	}).Info("notification delivered")
}

func runWaitlistSweeper(ctx context.Context, wl *waitlist.Service, logger observability.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wl.Sweep(ctx, 50); err != nil {
				logger.Error("waitlist sweep failed: ", err)
			}
			expired, err := wl.ExpireOld(ctx)
			if err != nil {
				logger.Error("waitlist expiry failed: ", err)
				continue
			}
			if expired > 0 {
				logger.WithField("expired", expired).Info("expired stale waitlist entries")
			}
		}
	}
}
