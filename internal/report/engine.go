// Package report aggregates the event stream into time-windowed statistics
// and delivers them on a daily schedule.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kitchme_bot/internal/logging"
)

// ErrUnavailable is returned when the store is down; no query is attempted.
var ErrUnavailable = errors.New("stats unavailable: store is down")

// unknownSource buckets users whose first-touch parameter could not be
// classified (or who arrived without one).
const unknownSource = "unknown"

type statsCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
	Aggregate(ctx context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error)
}

// Gate decides whether the store may be queried. Satisfied by
// availability.Tracker.
type Gate interface {
	Ready(ctx context.Context) bool
	ReportFailure(err error)
}

// SourceCount is one row of the first-touch source breakdown.
type SourceCount struct {
	Source  string
	Variant string
	Count   int64
}

// Stats holds exact aggregate counts over a half-open window [From, To).
type Stats struct {
	From        time.Time
	To          time.Time
	NewUsers    int64
	EventCounts map[string]int64
	Sources     []SourceCount
}

// Engine computes windowed statistics from the users and events collections.
type Engine struct {
	users  statsCollection
	events statsCollection
	gate   Gate
	logger *logrus.Entry
}

// NewEngine constructs an Engine over the two collections.
func NewEngine(users, events statsCollection, gate Gate, logger *logrus.Entry) *Engine {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Engine{
		users:  users,
		events: events,
		gate:   gate,
		logger: logger,
	}
}

// ComputeStats returns counts scoped to [from, to): users created in-window,
// events per kind, and the in-window users grouped by first-touch source and
// variant (count descending, ties by source then variant ascending). Returns
// ErrUnavailable without querying when the store is down.
func (e *Engine) ComputeStats(ctx context.Context, from, to time.Time) (Stats, error) {
	if e == nil || e.users == nil || e.events == nil {
		return Stats{}, errors.New("report engine is not initialized")
	}
	if ctx == nil {
		return Stats{}, errors.New("context is required")
	}
	if !e.gate.Ready(ctx) {
		return Stats{}, ErrUnavailable
	}

	window := bson.M{"created_at": bson.M{"$gte": from, "$lt": to}}

	newUsers, err := e.users.CountDocuments(ctx, window)
	if err != nil {
		return Stats{}, e.degrade("count users", err)
	}

	eventCounts, err := e.countEventsByKind(ctx, window)
	if err != nil {
		return Stats{}, e.degrade("count events", err)
	}

	sources, err := e.groupUsersBySource(ctx, window)
	if err != nil {
		return Stats{}, e.degrade("group sources", err)
	}

	return Stats{
		From:        from,
		To:          to,
		NewUsers:    newUsers,
		EventCounts: eventCounts,
		Sources:     sources,
	}, nil
}

func (e *Engine) countEventsByKind(ctx context.Context, window bson.M) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: window}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$kind",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := e.events.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Kind  string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.Count
	}

	return counts, nil
}

func (e *Engine) groupUsersBySource(ctx context.Context, window bson.M) ([]SourceCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: window}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"source":  "$source_first",
				"variant": "$variant_first",
			},
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := e.users.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		ID struct {
			Source  *string `bson:"source"`
			Variant *string `bson:"variant"`
		} `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	sources := make([]SourceCount, 0, len(rows))
	for _, row := range rows {
		entry := SourceCount{Source: unknownSource, Count: row.Count}
		if row.ID.Source != nil {
			entry.Source = *row.ID.Source
		}
		if row.ID.Variant != nil {
			entry.Variant = *row.ID.Variant
		}
		sources = append(sources, entry)
	}

	// Deterministic ranking regardless of aggregation output order.
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Count != sources[j].Count {
			return sources[i].Count > sources[j].Count
		}
		if sources[i].Source != sources[j].Source {
			return sources[i].Source < sources[j].Source
		}
		return sources[i].Variant < sources[j].Variant
	})

	return sources, nil
}

func (e *Engine) degrade(op string, err error) error {
	e.gate.ReportFailure(err)
	e.logger.WithField("event", "stats_failed").WithError(fmt.Errorf("%s: %w", op, err)).Warn("stats query failed")
	return ErrUnavailable
}
