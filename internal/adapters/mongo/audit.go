package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/observability"
)

// TransitionAudit records every accepted status transition in a side
// collection. The booking's own note field stays the guest-facing trail;
// this collection is the operational one, queryable by status and time.
type TransitionAudit struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewTransitionAudit(db *mongo.Database, logger observability.Logger) *TransitionAudit {
	return &TransitionAudit{
		coll:   db.Collection("booking_transitions"),
		logger: logger,
	}
}

type transitionRecord struct {
	ID         string    `bson:"_id"`
	BookingID  string    `bson:"booking_id"`
	FromStatus string    `bson:"from_status"`
	ToStatus   string    `bson:"to_status"`
	Timestamp  time.Time `bson:"timestamp"`
	Detail     bson.M    `bson:"detail,omitempty"`
}

func (a *TransitionAudit) RecordTransition(ctx context.Context, bookingID string, from, to domain.Status, detail map[string]interface{}) error {
	rec := transitionRecord{
		ID:         uuid.New().String(),
		BookingID:  bookingID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Timestamp:  time.Now(),
		Detail:     bson.M(detail),
	}
	_, err := a.coll.InsertOne(ctx, rec)
	if err != nil {
		a.logger.WithField("booking_id", bookingID).Error("failed to insert transition audit: ", err)
		return err
	}
	return nil
}

// History returns the transition trail for one booking, oldest first.
func (a *TransitionAudit) History(ctx context.Context, bookingID string) ([]map[string]interface{}, error) {
	cursor, err := a.coll.Find(ctx, bson.M{"booking_id": bookingID},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []map[string]interface{}
	for cursor.Next(ctx) {
		var rec bson.M
		if err := cursor.Decode(&rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, cursor.Err()
}
