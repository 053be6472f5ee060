// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken = "TELEGRAM_TOKEN"
	KeyMongoURI      = "MONGO_URI"
	KeyMongoDB       = "MONGO_DB"
	KeyAdminID       = "ADMIN_ID"
	KeyReportChatID  = "REPORT_CHAT_ID"
	KeyReportTime    = "REPORT_TIME"
	KeyUTCOffset     = "UTC_OFFSET_HOURS"
	KeyBonusLink     = "BONUS_LINK"
	KeyDesignerLink  = "DESIGNER_LINK"
	KeyAppEnv        = "APP_ENV"
	KeyLogLevel      = "LOG_LEVEL"
	KeyHTTPPort      = "HTTP_PORT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv       = EnvProduction
	DefaultLogLevel     = "info"
	DefaultHTTPPort     = 8080
	DefaultReportTime   = "21:00"
	DefaultUTCOffset    = 3
	DefaultBonusLink    = "https://disk.yandex.ru/d/TeEMNTquvbJMjg"
	DefaultDesignerLink = "https://t.me/kitchme_design"

	// Recommended database names by environment.
	DefaultMongoDBProd = "kitchme_bot"
	DefaultMongoDBDev  = "kitchme_bot_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAdminID,
		Example:     "123456789",
		Description: "Telegram user_id allowed to query /stats. Open to everyone when unset.",
	},
	{
		Key:         KeyReportChatID,
		Example:     "-1001234567890",
		Description: "Chat receiving the daily report. Daily reporting is disabled when unset.",
	},
	{
		Key:         KeyReportTime,
		Example:     DefaultReportTime,
		Default:     DefaultReportTime,
		Description: "Local wall-clock time (HH:MM) at which the daily report fires.",
	},
	{
		Key:         KeyUTCOffset,
		Example:     strconv.Itoa(DefaultUTCOffset),
		Default:     strconv.Itoa(DefaultUTCOffset),
		Description: "Fixed UTC offset in hours defining the reporting day boundary.",
	},
	{
		Key:         KeyBonusLink,
		Example:     DefaultBonusLink,
		Default:     DefaultBonusLink,
		Description: "Download link sent with the bonus reply.",
	},
	{
		Key:         KeyDesignerLink,
		Example:     DefaultDesignerLink,
		Default:     DefaultDesignerLink,
		Description: "Personal-messages link for the designer consultation button.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/metrics port.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken  string
	MongoURI       string
	MongoDB        string
	AdminID        int64
	ReportChatID   int64
	ReportHour     int
	ReportMinute   int
	UTCOffsetHours int
	BonusLink      string
	DesignerLink   string
	AppEnv         string
	LogLevel       string
	HTTPPort       int
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:         firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:  strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:       strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:        strings.TrimSpace(os.Getenv(KeyMongoDB)),
		BonusLink:      firstNonEmpty(strings.TrimSpace(os.Getenv(KeyBonusLink)), DefaultBonusLink),
		DesignerLink:   firstNonEmpty(strings.TrimSpace(os.Getenv(KeyDesignerLink)), DefaultDesignerLink),
		LogLevel:       firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:       DefaultHTTPPort,
		UTCOffsetHours: DefaultUTCOffset,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}
	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}
	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	adminRaw := strings.TrimSpace(os.Getenv(KeyAdminID))
	if adminRaw != "" {
		adminID, parseErr := strconv.ParseInt(adminRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyAdminID, parseErr)
		}
		cfg.AdminID = adminID
	}

	reportChatRaw := strings.TrimSpace(os.Getenv(KeyReportChatID))
	if reportChatRaw != "" {
		chatID, parseErr := strconv.ParseInt(reportChatRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyReportChatID, parseErr)
		}
		cfg.ReportChatID = chatID
	}

	reportTimeRaw := firstNonEmpty(strings.TrimSpace(os.Getenv(KeyReportTime)), DefaultReportTime)
	hour, minute, parseErr := parseReportTime(reportTimeRaw)
	if parseErr != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyReportTime, parseErr)
	}
	cfg.ReportHour = hour
	cfg.ReportMinute = minute

	offsetRaw := strings.TrimSpace(os.Getenv(KeyUTCOffset))
	if offsetRaw != "" {
		offset, parseErr := strconv.Atoi(offsetRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyUTCOffset, parseErr)
		}
		if offset < -12 || offset > 14 {
			return Config{}, fmt.Errorf("%s must be between -12 and 14", KeyUTCOffset)
		}
		cfg.UTCOffsetHours = offset
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the resolved configuration with secrets masked for
// --config-only output and startup logs.
func FormatRedacted(cfg Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s=%s\n", KeyTelegramToken, redactSecret(cfg.TelegramToken))
	fmt.Fprintf(&b, "%s=%s\n", KeyMongoURI, redactSecret(cfg.MongoURI))
	fmt.Fprintf(&b, "%s=%s\n", KeyMongoDB, cfg.MongoDB)
	fmt.Fprintf(&b, "%s=%d\n", KeyAdminID, cfg.AdminID)
	fmt.Fprintf(&b, "%s=%d\n", KeyReportChatID, cfg.ReportChatID)
	fmt.Fprintf(&b, "%s=%02d:%02d\n", KeyReportTime, cfg.ReportHour, cfg.ReportMinute)
	fmt.Fprintf(&b, "%s=%d\n", KeyUTCOffset, cfg.UTCOffsetHours)
	fmt.Fprintf(&b, "%s=%s\n", KeyBonusLink, cfg.BonusLink)
	fmt.Fprintf(&b, "%s=%s\n", KeyDesignerLink, cfg.DesignerLink)
	fmt.Fprintf(&b, "%s=%s\n", KeyAppEnv, cfg.AppEnv)
	fmt.Fprintf(&b, "%s=%s\n", KeyLogLevel, cfg.LogLevel)
	fmt.Fprintf(&b, "%s=%d", KeyHTTPPort, cfg.HTTPPort)

	return b.String()
}

func redactSecret(value string) string {
	if value == "" {
		return ""
	}
	return "***"
}

func parseReportTime(value string) (int, int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", value)
	}

	return hour, minute, nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
