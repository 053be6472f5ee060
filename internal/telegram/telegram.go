// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"kitchme_bot/internal/config"
	"kitchme_bot/internal/domain"
	"kitchme_bot/internal/logging"
	"kitchme_bot/internal/metrics"
	"kitchme_bot/internal/report"
	"kitchme_bot/internal/track"
)

// Menu button labels, matched exactly against incoming message text.
const (
	ButtonBonus   = "🎁 Забрать бонусы"
	ButtonConsult = "📞 Получить консультацию дизайнера"
)

const greetingText = "Привет! Я бот студии корпусной мебели kitchME.\n\n" +
	"Помогу с кухней или шкафом на заказ: подскажу по планировке, " +
	"ошибкам и полезным материалам.\n\n" +
	"Выбери, что актуальнее:"

const consultText = "Ок, давай свяжем тебя с дизайнером.\n\n" +
	"Нажми на кнопку ниже, чтобы написать в личные сообщения:"

type botRunner interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}
)

// Recorder persists user touches and events. Degraded-store handling lives
// behind it, so handlers never see store errors.
type Recorder interface {
	RecordUserTouch(ctx context.Context, touch track.Touch) bool
	RecordEvent(ctx context.Context, userID int64, kind string, startParam string) bool
}

// StatsProvider computes windowed statistics for the /stats command.
type StatsProvider interface {
	ComputeStats(ctx context.Context, from, to time.Time) (report.Stats, error)
}

// Client wraps the Telegram bot instance, its routing, and collaborators.
type Client struct {
	bot          botRunner
	logger       *logrus.Entry
	recorder     Recorder
	stats        StatsProvider
	adminID      int64
	bonusLink    string
	designerLink string
	loc          *time.Location
	now          func() time.Time
}

// Option injects collaborators into the client.
type Option func(*Client)

// WithRecorder wires the touch and event recorder.
func WithRecorder(recorder Recorder) Option {
	return func(c *Client) { c.recorder = recorder }
}

// WithStatsProvider wires the stats engine behind the /stats command.
func WithStatsProvider(stats StatsProvider) Option {
	return func(c *Client) { c.stats = stats }
}

// WithClock overrides the time source; used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient initializes the Telegram bot with long polling and the command
// and menu button routing.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{
		logger:       logger,
		adminID:      cfg.AdminID,
		bonusLink:    cfg.BonusLink,
		designerLink: cfg.DesignerLink,
		loc:          FixedOffset(cfg.UTCOffsetHours),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithMessageTextHandler("/start", bot.MatchTypePrefix, c.handleStart),
		bot.WithMessageTextHandler("/stats", bot.MatchTypePrefix, c.handleStats),
		bot.WithMessageTextHandler(ButtonBonus, bot.MatchTypeExact, c.handleBonus),
		bot.WithMessageTextHandler(ButtonConsult, bot.MatchTypeExact, c.handleConsult),
		bot.WithDefaultHandler(c.handleDefault),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	c.bot = tgBot

	return c, nil
}

// FixedOffset builds the reporting timezone from a whole-hour UTC offset.
func FixedOffset(hours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600)
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// SendText delivers a plain text message; used by the daily report scheduler.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}

	if _, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	return nil
}

func (c *Client) handleStart(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := messageFrom(update)
	if msg == nil {
		return
	}

	metrics.UpdatesReceived.WithLabelValues("start").Inc()

	payload := startPayload(msg.Text)
	c.touch(ctx, msg.From, payload)
	c.recordEvent(ctx, msg.From.ID, domain.EventStart, payload)

	c.reply(ctx, msg.Chat.ID, greetingText, mainMenu())
}

func (c *Client) handleBonus(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := messageFrom(update)
	if msg == nil {
		return
	}

	metrics.UpdatesReceived.WithLabelValues("bonus").Inc()

	c.touch(ctx, msg.From, "")
	c.recordEvent(ctx, msg.From.ID, domain.EventBonus, "")

	text := "🎁 Ваши бонусы готовы!\n\n" +
		"Скачивайте по ссылке ниже ⤵️\n\n" +
		c.bonusLink + "\n\n" +
		"Есть вопросы по вашей кухне?\n" +
		"Наши дизайнеры готовы помочь — бесплатно."

	c.reply(ctx, msg.Chat.ID, text, nil)
}

func (c *Client) handleConsult(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := messageFrom(update)
	if msg == nil {
		return
	}

	metrics.UpdatesReceived.WithLabelValues("consult").Inc()

	c.touch(ctx, msg.From, "")
	c.recordEvent(ctx, msg.From.ID, domain.EventConsult, "")

	markup := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Написать дизайнеру", URL: c.designerLink}},
		},
	}

	c.reply(ctx, msg.Chat.ID, consultText, markup)
}

func (c *Client) handleStats(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := messageFrom(update)
	if msg == nil {
		return
	}

	metrics.UpdatesReceived.WithLabelValues("stats").Inc()

	if c.adminID != 0 && msg.From.ID != c.adminID {
		logging.ForUpdate(c.logger, msg.From.ID, 0).
			WithField("event", "stats_denied").
			Debug("stats request from non-admin ignored")
		return
	}

	c.touch(ctx, msg.From, "")
	c.recordEvent(ctx, msg.From.ID, domain.EventStats, "")

	if c.stats == nil {
		c.reply(ctx, msg.Chat.ID, report.UnavailableMessage, nil)
		return
	}

	from, to, label := statsWindow(c.now().In(c.loc), c.loc, statsArgument(msg.Text))

	stats, err := c.stats.ComputeStats(ctx, from, to)
	if err != nil {
		c.reply(ctx, msg.Chat.ID, report.UnavailableMessage, nil)
		return
	}

	c.reply(ctx, msg.Chat.ID, report.Format(stats, label), nil)
}

func (c *Client) handleDefault(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	msg := messageFrom(update)
	if msg == nil {
		metrics.UpdatesReceived.WithLabelValues("other").Inc()
		c.logger.WithField("event", "telegram_update").Debug("ignoring non-message update")
		return
	}

	metrics.UpdatesReceived.WithLabelValues("message").Inc()

	logging.ForUpdate(c.logger, msg.From.ID, msg.Chat.ID).WithFields(logging.Fields{
		"event": "telegram_update",
		"text":  strings.TrimSpace(msg.Text),
	}).Info("telegram update received")

	c.touch(ctx, msg.From, "")

	// Unrecognized text gets the menu again, like a fresh /start but
	// without re-recording a start event.
	c.reply(ctx, msg.Chat.ID, greetingText, mainMenu())
}

func (c *Client) touch(ctx context.Context, from *models.User, startParam string) {
	if c.recorder == nil || from == nil {
		return
	}

	c.recorder.RecordUserTouch(ctx, track.Touch{
		UserID:     from.ID,
		Username:   from.Username,
		FirstName:  from.FirstName,
		LastName:   from.LastName,
		StartParam: startParam,
	})
}

func (c *Client) recordEvent(ctx context.Context, userID int64, kind, startParam string) {
	if c.recorder == nil {
		return
	}

	c.recorder.RecordEvent(ctx, userID, kind, startParam)
}

func (c *Client) reply(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}

	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		logging.ForUpdate(c.logger, 0, chatID).
			WithField("event", "send_failed").
			WithError(err).Warn("failed to send reply")
	}
}

func mainMenu() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: ButtonBonus}},
			{{Text: ButtonConsult}},
		},
		ResizeKeyboard: true,
	}
}

// startPayload extracts the deep-link parameter from "/start <param>".
func startPayload(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// statsArgument extracts the optional window selector from "/stats [7|30]".
func statsArgument(text string) string {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) < 2 {
		return ""
	}

	return parts[1]
}

// statsWindow maps a /stats argument to a half-open UTC window and its label.
func statsWindow(localNow time.Time, loc *time.Location, arg string) (time.Time, time.Time, string) {
	startOfDay := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)
	to := startOfDay.AddDate(0, 0, 1)

	switch arg {
	case "7":
		return startOfDay.AddDate(0, 0, -6).UTC(), to.UTC(), "последние 7 дней"
	case "30":
		return startOfDay.AddDate(0, 0, -29).UTC(), to.UTC(), "последние 30 дней"
	default:
		return startOfDay.UTC(), to.UTC(), "сегодня"
	}
}

func messageFrom(update *models.Update) *models.Message {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return nil
	}

	return update.Message
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}
