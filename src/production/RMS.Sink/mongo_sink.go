package rmssink

import (
	"context"
	"time"

	rmsmodels "gitlab.com/roomsense1/rms.sensor_pipeline/src/production/RMS.Models"
	"go.mongodb.org/mongo-driver/mongo"
)

// Sink is where the drain worker commits enriched readings. The long-term
// storage engine behind it is not this pipeline's concern.
type Sink interface {
	WriteReading(ctx context.Context, reading rmsmodels.EnrichedReading) error
}

// MongoSink writes enriched readings to a Mongo collection.
type MongoSink struct {
	coll *mongo.Collection
}

// NewMongoSink creates a sink on the given collection.
func NewMongoSink(coll *mongo.Collection) *MongoSink {
	return &MongoSink{coll: coll}
}

// WriteReading inserts one enriched reading with a bounded call timeout.
func (s *MongoSink) WriteReading(ctx context.Context, reading rmsmodels.EnrichedReading) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := s.coll.InsertOne(ctx, reading)
	return err
}
