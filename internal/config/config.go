package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	DataDir       string `mapstructure:"DATA_DIR"`
	StorageDriver string `mapstructure:"STORAGE_DRIVER"`
	SQLitePath    string `mapstructure:"SQLITE_PATH"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	MailQueue     bool   `mapstructure:"MAIL_QUEUE"`

	SMTPHost     string        `mapstructure:"SMTP_HOST"`
	SMTPPort     int           `mapstructure:"SMTP_PORT"`
	SMTPUsername string        `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string        `mapstructure:"SMTP_FROM"`
	SMTPTimeout  time.Duration `mapstructure:"SMTP_TIMEOUT"`

	MaxAdvanceDays      int           `mapstructure:"MAX_ADVANCE_DAYS"`
	AppointmentDuration time.Duration `mapstructure:"APPOINTMENT_DURATION"`
	Timezone            string        `mapstructure:"TIMEZONE"`

	RemindersEnabled      bool          `mapstructure:"REMINDERS_ENABLED"`
	ReminderInterval      time.Duration `mapstructure:"REMINDER_INTERVAL"`
	ReminderRetryInterval time.Duration `mapstructure:"REMINDER_RETRY_INTERVAL"`

	NotificationRetentionDays int    `mapstructure:"NOTIFICATION_RETENTION_DAYS"`
	MaintenanceSchedule       string `mapstructure:"MAINTENANCE_SCHEDULE"`

	JWTSecret      string        `mapstructure:"JWT_SECRET"`
	TokenTTL       time.Duration `mapstructure:"TOKEN_TTL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "DATA_DIR", "STORAGE_DRIVER", "SQLITE_PATH", "DATABASE_URL",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "MAIL_QUEUE",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM", "SMTP_TIMEOUT",
	"MAX_ADVANCE_DAYS", "APPOINTMENT_DURATION", "TIMEZONE",
	"REMINDERS_ENABLED", "REMINDER_INTERVAL", "REMINDER_RETRY_INTERVAL",
	"NOTIFICATION_RETENTION_DAYS", "MAINTENANCE_SCHEDULE",
	"JWT_SECRET", "TOKEN_TTL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("STORAGE_DRIVER", "file")
	v.SetDefault("SQLITE_PATH", "data/clinic.db")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MAIL_QUEUE", false)
	v.SetDefault("SMTP_HOST", "smtp.gmail.com")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_TIMEOUT", "15s")
	v.SetDefault("MAX_ADVANCE_DAYS", 365)
	v.SetDefault("APPOINTMENT_DURATION", "1h")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("REMINDERS_ENABLED", true)
	v.SetDefault("REMINDER_INTERVAL", "1h")
	v.SetDefault("REMINDER_RETRY_INTERVAL", "5m")
	v.SetDefault("NOTIFICATION_RETENTION_DAYS", 90)
	v.SetDefault("MAINTENANCE_SCHEDULE", "@daily")
	v.SetDefault("TOKEN_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: JWT_SECRET is empty; development auth grants admin to anonymous requests.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves TIMEZONE. Unknown names fall back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// MailConfigured reports whether SMTP credentials were supplied through the
// environment.
func (c *Config) MailConfigured() bool {
	return c.SMTPUsername != "" && c.SMTPPassword != ""
}

// Validate checks that the configuration is usable before any component is
// constructed.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "file":
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required when STORAGE_DRIVER is \"file\"")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORAGE_DRIVER is \"sqlite\"")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER is \"postgres\"")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be \"file\", \"sqlite\", or \"postgres\", got %q", c.StorageDriver)
	}

	if c.MaxAdvanceDays <= 0 {
		return fmt.Errorf("MAX_ADVANCE_DAYS must be positive, got %d", c.MaxAdvanceDays)
	}
	if c.AppointmentDuration <= 0 {
		return fmt.Errorf("APPOINTMENT_DURATION must be positive, got %s", c.AppointmentDuration)
	}
	if c.ReminderInterval <= 0 || c.ReminderRetryInterval <= 0 {
		return fmt.Errorf("REMINDER_INTERVAL and REMINDER_RETRY_INTERVAL must be positive")
	}
	if c.MailQueue && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when MAIL_QUEUE is true")
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}
