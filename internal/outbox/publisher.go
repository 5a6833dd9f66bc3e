// Package outbox bridges accepted booking outcomes to RabbitMQ through a
// database table, so a crash between the state write and the publish never
// loses a notification.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairwaydesk/teeflow/internal/adapters/crdb"
	"github.com/fairwaydesk/teeflow/internal/adapters/rabbit"
	"github.com/fairwaydesk/teeflow/internal/notify"
	"github.com/fairwaydesk/teeflow/internal/observability"
)

// Dispatcher implements notify.Dispatcher by writing an outbox record. The
// publisher below moves records onto the queue.
type Dispatcher struct {
	repo *crdb.Repository
}

func NewDispatcher(repo *crdb.Repository) *Dispatcher {
	return &Dispatcher{repo: repo}
}

func (d *Dispatcher) Dispatch(ctx context.Context, outcome notify.Outcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return d.repo.InsertOutbox(ctx, crdb.OutboxRecord{
		ID:          uuid.New(),
		BookingID:   outcome.BookingID,
		OutcomeKind: string(outcome.Kind),
		Payload:     payload,
		DedupeKey:   uuid.New().String(),
	})
}

// Publisher polls unpublished records and pushes them to the notifications
// exchange, keyed by outcome kind.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	logger    observability.Logger
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, logger observability.Logger) *Publisher {
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx); err != nil {
				p.logger.Error("outbox publish batch failed: ", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) error {
	records, err := p.repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		return err
	}
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.OutcomeKind, msg); err != nil {
			p.logger.WithField("outbox_id", rec.ID.String()).Warn("publish failed, will retry: ", err)
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
			return err
		}
	}

	age, err := p.repo.OldestUnpublishedAge(ctx, time.Now())
	if err == nil {
		observability.OutboxLag.Set(age.Seconds())
	}
	return nil
}
