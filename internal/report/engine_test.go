package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kitchme_bot/internal/domain"
)

type stubGate struct {
	ready    bool
	failures []error
}

func (g *stubGate) Ready(context.Context) bool {
	return g.ready
}

func (g *stubGate) ReportFailure(err error) {
	g.failures = append(g.failures, err)
}

type stubStatsCollection struct {
	t           *testing.T
	count       int64
	countErr    error
	countFilter interface{}
	countCalls  int
	aggDocs     []interface{}
	aggErr      error
	aggPipeline interface{}
	aggCalls    int
}

func (s *stubStatsCollection) CountDocuments(_ context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	s.countCalls++
	s.countFilter = filter
	return s.count, s.countErr
}

func (s *stubStatsCollection) Aggregate(_ context.Context, pipeline interface{}, opts ...*options.AggregateOptions) (*mongo.Cursor, error) {
	s.aggCalls++
	s.aggPipeline = pipeline
	if s.aggErr != nil {
		return nil, s.aggErr
	}

	cursor, err := mongo.NewCursorFromDocuments(s.aggDocs, nil, nil)
	if err != nil {
		s.t.Fatalf("failed to build cursor: %v", err)
	}
	return cursor, nil
}

func newTestEngine(t *testing.T, users, events *stubStatsCollection, gate Gate) *Engine {
	t.Helper()
	hookLogger, _ := logtest.NewNullLogger()
	return NewEngine(users, events, gate, logrus.NewEntry(hookLogger))
}

func TestComputeStatsReturnsUnavailableWhenGateClosed(t *testing.T) {
	users := &stubStatsCollection{t: t}
	events := &stubStatsCollection{t: t}
	gate := &stubGate{ready: false}
	engine := newTestEngine(t, users, events, gate)

	_, err := engine.ComputeStats(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	if users.countCalls != 0 || users.aggCalls != 0 || events.aggCalls != 0 {
		t.Fatalf("expected no queries while gate is closed")
	}
}

func TestComputeStatsCountsAndRanksSources(t *testing.T) {
	users := &stubStatsCollection{
		t:     t,
		count: 4,
		aggDocs: []interface{}{
			bson.D{{Key: "_id", Value: bson.D{{Key: "source", Value: "vk"}, {Key: "variant", Value: nil}}}, {Key: "count", Value: int64(1)}},
			bson.D{{Key: "_id", Value: bson.D{{Key: "source", Value: "youtube"}, {Key: "variant", Value: "2"}}}, {Key: "count", Value: int64(2)}},
			bson.D{{Key: "_id", Value: bson.D{{Key: "source", Value: nil}, {Key: "variant", Value: nil}}}, {Key: "count", Value: int64(1)}},
		},
	}
	events := &stubStatsCollection{
		t: t,
		aggDocs: []interface{}{
			bson.D{{Key: "_id", Value: domain.EventStart}, {Key: "count", Value: int64(5)}},
			bson.D{{Key: "_id", Value: domain.EventBonus}, {Key: "count", Value: int64(2)}},
		},
	}
	gate := &stubGate{ready: true}
	engine := newTestEngine(t, users, events, gate)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	stats, err := engine.ComputeStats(context.Background(), from, to)
	if err != nil {
		t.Fatalf("ComputeStats returned error: %v", err)
	}

	if stats.NewUsers != 4 {
		t.Fatalf("expected 4 new users, got %d", stats.NewUsers)
	}
	if stats.EventCounts[domain.EventStart] != 5 || stats.EventCounts[domain.EventBonus] != 2 {
		t.Fatalf("unexpected event counts: %v", stats.EventCounts)
	}
	if stats.EventCounts[domain.EventConsult] != 0 {
		t.Fatalf("expected zero consult events, got %d", stats.EventCounts[domain.EventConsult])
	}

	expected := []SourceCount{
		{Source: "youtube", Variant: "2", Count: 2},
		{Source: "unknown", Count: 1},
		{Source: "vk", Count: 1},
	}
	if len(stats.Sources) != len(expected) {
		t.Fatalf("expected %d source rows, got %d", len(expected), len(stats.Sources))
	}
	for i, want := range expected {
		if stats.Sources[i] != want {
			t.Fatalf("expected source row %d to be %+v, got %+v", i, want, stats.Sources[i])
		}
	}
}

func TestComputeStatsUsesHalfOpenWindowFilter(t *testing.T) {
	users := &stubStatsCollection{t: t}
	events := &stubStatsCollection{t: t}
	gate := &stubGate{ready: true}
	engine := newTestEngine(t, users, events, gate)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	if _, err := engine.ComputeStats(context.Background(), from, to); err != nil {
		t.Fatalf("ComputeStats returned error: %v", err)
	}

	filter, ok := users.countFilter.(bson.M)
	if !ok {
		t.Fatalf("expected bson.M filter, got %T", users.countFilter)
	}
	window, ok := filter["created_at"].(bson.M)
	if !ok {
		t.Fatalf("expected created_at window, got %v", filter)
	}
	if !window["$gte"].(time.Time).Equal(from) {
		t.Fatalf("expected inclusive window start %v, got %v", from, window["$gte"])
	}
	if !window["$lt"].(time.Time).Equal(to) {
		t.Fatalf("expected exclusive window end %v, got %v", to, window["$lt"])
	}

	// Both aggregations match on the same window predicate.
	if users.aggCalls != 1 || events.aggCalls != 1 {
		t.Fatalf("expected one aggregation per collection, got users=%d events=%d", users.aggCalls, events.aggCalls)
	}
}

func TestComputeStatsDegradesOnQueryFailure(t *testing.T) {
	queryErr := errors.New("cursor timeout")
	users := &stubStatsCollection{t: t, countErr: queryErr}
	events := &stubStatsCollection{t: t}
	gate := &stubGate{ready: true}
	engine := newTestEngine(t, users, events, gate)

	_, err := engine.ComputeStats(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(gate.failures) != 1 || !errors.Is(gate.failures[0], queryErr) {
		t.Fatalf("expected query failure reported to gate, got %v", gate.failures)
	}
}

func TestComputeStatsValidatesInputs(t *testing.T) {
	var engine *Engine
	if _, err := engine.ComputeStats(context.Background(), time.Now(), time.Now()); err == nil {
		t.Fatalf("expected error for nil engine")
	}

	initialized := newTestEngine(t, &stubStatsCollection{t: t}, &stubStatsCollection{t: t}, &stubGate{ready: true})
	if _, err := initialized.ComputeStats(nil, time.Now(), time.Now()); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestFormatRendersCountsAndRankedSources(t *testing.T) {
	stats := Stats{
		NewUsers: 3,
		EventCounts: map[string]int64{
			domain.EventStart:   5,
			domain.EventBonus:   2,
			domain.EventConsult: 1,
		},
		Sources: []SourceCount{
			{Source: "youtube", Variant: "2", Count: 2},
			{Source: "vk", Count: 1},
		},
	}

	text := Format(stats, "сегодня")

	for _, want := range []string{
		"Статистика за сегодня",
		"Новых пользователей: 3",
		"Стартов: 5",
		"Бонусов: 2",
		"Консультаций: 1",
		"1. youtube/2 — 2",
		"2. vk — 1",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected report to contain %q, got:\n%s", want, text)
		}
	}
}

func TestFormatOmitsEmptySourceSection(t *testing.T) {
	text := Format(Stats{EventCounts: map[string]int64{}}, "сегодня")

	if strings.Contains(text, "Источники") {
		t.Fatalf("expected no source section for empty breakdown, got:\n%s", text)
	}
}
