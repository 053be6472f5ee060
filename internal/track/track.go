// Package track persists user touches and the append-only event stream.
package track

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kitchme_bot/internal/attribution"
	"kitchme_bot/internal/domain"
	"kitchme_bot/internal/logging"
	"kitchme_bot/internal/metrics"
)

type userCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type eventCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// Gate decides whether the store may be touched and absorbs failures.
// Satisfied by availability.Tracker.
type Gate interface {
	Ready(ctx context.Context) bool
	ReportFailure(err error)
}

// Touch carries everything one interaction reveals about a user.
type Touch struct {
	UserID     int64
	Username   string
	FirstName  string
	LastName   string
	StartParam string
}

// Recorder owns all writes to the users and events collections. Every method
// degrades to a no-op when the store is unavailable; failures flow into the
// gate, never back to the caller.
type Recorder struct {
	users  userCollection
	events eventCollection
	gate   Gate
	logger *logrus.Entry
	now    func() time.Time
}

// NewRecorder constructs a Recorder over the two collections.
func NewRecorder(users userCollection, events eventCollection, gate Gate, logger *logrus.Entry) *Recorder {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Recorder{
		users:  users,
		events: events,
		gate:   gate,
		logger: logger,
		now:    time.Now,
	}
}

// RecordUserTouch upserts the user row. Display fields and last_seen_at are
// always overwritten; created_at and the first-touch attribution fields are
// written only when currently null, so an already-recorded first source is
// never clobbered. Reports whether the write reached the store.
func (r *Recorder) RecordUserTouch(ctx context.Context, touch Touch) bool {
	if r == nil || r.users == nil || touch.UserID == 0 {
		return false
	}
	if !r.gate.Ready(ctx) {
		r.logger.WithFields(logging.Fields{
			"event":   "touch_skipped",
			"user_id": touch.UserID,
		}).Debug("store unavailable, skipping user touch")
		metrics.StoreFailures.WithLabelValues("user_touch").Inc()
		return false
	}

	parsed := attribution.Parse(touch.StartParam)
	now := r.now().UTC().Truncate(time.Millisecond)

	// Pipeline update: $ifNull keeps existing non-null values, which makes
	// repeat and out-of-order deliveries merge instead of overwrite. In a
	// pipeline every string value is an expression, so user-supplied strings
	// go through $literal; a name or parameter starting with "$" would
	// otherwise be evaluated as a field path.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"user_id":           touch.UserID,
			"username":          literal(touch.Username),
			"first_name":        literal(touch.FirstName),
			"last_name":         literal(touch.LastName),
			"last_seen_at":      now,
			"created_at":        bson.M{"$ifNull": bson.A{"$created_at", now}},
			"start_param_first": bson.M{"$ifNull": bson.A{"$start_param_first", literal(parsed.RawValue())}},
			"source_first":      bson.M{"$ifNull": bson.A{"$source_first", literal(parsed.SourceValue())}},
			"variant_first":     bson.M{"$ifNull": bson.A{"$variant_first", literal(parsed.VariantValue())}},
		}}},
	}

	result, err := r.users.UpdateOne(ctx,
		bson.M{"user_id": touch.UserID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		r.gate.ReportFailure(err)
		metrics.StoreFailures.WithLabelValues("user_touch").Inc()
		r.logger.WithFields(logging.Fields{
			"event":   "touch_failed",
			"user_id": touch.UserID,
		}).WithError(err).Warn("user touch write failed")
		return false
	}

	metrics.TouchesRecorded.Inc()

	if result != nil && result.UpsertedCount > 0 {
		r.logger.WithFields(logging.Fields{
			"event":   "user_registered",
			"user_id": touch.UserID,
			"source":  parsed.Source,
		}).Info("registered new user")
	} else {
		r.logger.WithFields(logging.Fields{
			"event":   "user_seen",
			"user_id": touch.UserID,
		}).Debug("updated user last seen")
	}

	return true
}

// literal quotes a value so the pipeline treats it as data, never as a
// field path or operator.
func literal(v interface{}) bson.M {
	return bson.M{"$literal": v}
}

// RecordEvent appends one immutable event row stamped now. The attribution
// triple is parsed from this event's own parameter, independent of the
// user's stored first touch. Reports whether the write reached the store.
func (r *Recorder) RecordEvent(ctx context.Context, userID int64, kind string, startParam string) bool {
	if r == nil || r.events == nil || kind == "" {
		return false
	}
	if !r.gate.Ready(ctx) {
		r.logger.WithFields(logging.Fields{
			"event":   "event_skipped",
			"user_id": userID,
			"kind":    kind,
		}).Debug("store unavailable, skipping event")
		metrics.StoreFailures.WithLabelValues("event_insert").Inc()
		return false
	}

	parsed := attribution.Parse(startParam)

	row := domain.Event{
		UserID:     userID,
		Kind:       kind,
		CreatedAt:  r.now().UTC().Truncate(time.Millisecond),
		StartParam: parsed.RawValue(),
		Source:     parsed.SourceValue(),
		Variant:    parsed.VariantValue(),
	}

	if _, err := r.events.InsertOne(ctx, row); err != nil {
		r.gate.ReportFailure(err)
		metrics.StoreFailures.WithLabelValues("event_insert").Inc()
		r.logger.WithFields(logging.Fields{
			"event":   "event_failed",
			"user_id": userID,
			"kind":    kind,
		}).WithError(err).Warn("event write failed")
		return false
	}

	metrics.EventsRecorded.WithLabelValues(kind).Inc()

	r.logger.WithFields(logging.Fields{
		"event":   "event_recorded",
		"user_id": userID,
		"kind":    kind,
	}).Debug("recorded event")

	return true
}
