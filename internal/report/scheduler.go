package report

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"kitchme_bot/internal/domain"
	"kitchme_bot/internal/logging"
	"kitchme_bot/internal/metrics"
)

type statsComputer interface {
	ComputeStats(ctx context.Context, from, to time.Time) (Stats, error)
}

type eventRecorder interface {
	RecordEvent(ctx context.Context, userID int64, kind string, startParam string) bool
}

// SendFunc delivers one text message to a chat.
type SendFunc func(ctx context.Context, chatID int64, text string) error

// Scheduler fires the daily report at a configured wall-clock time in a
// fixed-offset zone. Failures are logged and swallowed; the loop always
// continues to the next day.
type Scheduler struct {
	stats  statsComputer
	record eventRecorder
	send   SendFunc
	chatID int64
	hour   int
	minute int
	loc    *time.Location
	logger *logrus.Entry
	now    func() time.Time
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the time source; used in tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithEventRecorder logs a system report event after each delivery.
func WithEventRecorder(record eventRecorder) SchedulerOption {
	return func(s *Scheduler) { s.record = record }
}

// NewScheduler constructs the daily report loop for one destination chat.
func NewScheduler(stats statsComputer, send SendFunc, chatID int64, hour, minute int, loc *time.Location, logger *logrus.Entry, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = logging.Logger()
	}
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{
		stats:  stats,
		send:   send,
		chatID: chatID,
		hour:   hour,
		minute: minute,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NextRun returns the nearest future occurrence of hour:minute in loc. Pure
// function of its inputs, so firing arithmetic is testable without sleeping.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run sleeps until each next firing instant and delivers the report, until
// the context is canceled. Exactly one delivery attempt per local calendar
// day while the process stays alive.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := NextRun(s.now(), s.hour, s.minute, s.loc)

		s.logger.WithFields(logging.Fields{
			"event":   "report_scheduled",
			"next_at": next.Format(time.RFC3339),
		}).Info("daily report scheduled")

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.WithField("event", "report_stopped").Info("daily report loop stopped")
			return
		case <-timer.C:
		}

		s.fire(ctx, next)
	}
}

// fire computes the report window for the local day containing at and sends
// the formatted result.
func (s *Scheduler) fire(ctx context.Context, at time.Time) {
	local := at.In(s.loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 0, 1)

	stats, err := s.stats.ComputeStats(ctx, from.UTC(), to.UTC())
	if err != nil {
		s.logger.WithField("event", "report_compute_failed").WithError(err).Warn("daily report skipped")
		return
	}

	if err := s.send(ctx, s.chatID, Format(stats, "сегодня")); err != nil {
		s.logger.WithField("event", "report_send_failed").WithError(err).Warn("daily report delivery failed")
		return
	}

	metrics.ReportsDelivered.Inc()

	if s.record != nil {
		s.record.RecordEvent(ctx, domain.SystemUserID, domain.EventReport, "")
	}

	s.logger.WithFields(logging.Fields{
		"event":   "report_sent",
		"chat_id": s.chatID,
	}).Info("daily report delivered")
}
