package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/domain/prescription"
	"github.com/clinic/clinic/internal/domain/reminder"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/jobs"
	"github.com/clinic/clinic/internal/platform/mail"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/notification"
	"github.com/clinic/clinic/internal/platform/storage"
	"github.com/clinic/clinic/internal/platform/validation"
)

const mailQueue = "mail"

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// backend is an opened storage driver. pinger is nil for the file store.
type backend struct {
	store  storage.Store
	pinger db.Pinger
	close  func()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StorageDriver {
	case "sqlite":
		gdb, err := db.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		st := storage.NewSQLStore(gdb, logger)
		if err := st.AutoMigrate(); err != nil {
			return nil, err
		}
		closeFn := func() {
			if sqlDB, err := gdb.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return &backend{store: st, pinger: db.GormPinger{DB: gdb}, close: closeFn}, nil

	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &backend{store: storage.NewPGStore(pool, logger), pinger: pool, close: pool.Close}, nil

	default:
		st, err := storage.NewFileStore(afero.NewOsFs(), cfg.DataDir, logger)
		if err != nil {
			return nil, err
		}
		return &backend{store: st, close: func() {}}, nil
	}
}

// mailSettings prefers credentials from the environment and falls back to
// the ones saved through PUT /mail/config.
func mailSettings(ctx context.Context, cfg *config.Config, saved *mail.SettingsStore) mail.Settings {
	settings := mail.Settings{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
	if cfg.MailConfigured() {
		return settings
	}
	if s, ok := saved.Load(ctx); ok {
		return s
	}
	return settings
}

// app holds every component of a running clinic server.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *backend

	redis *redis.Client
	queue *asynq.Client

	validate      *validator.Validate
	smtp          *mail.SMTPSender
	mailSettings  *mail.SettingsStore
	users         *identity.Directory
	slots         *scheduling.ScheduleStore
	notes         *notification.Store
	sched         *scheduling.Scheduler
	reminders     *reminder.Dispatcher
	prescriptions *prescription.Register
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	be, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageDriver, err)
	}
	a := &app{cfg: cfg, logger: logger, db: be, validate: validation.New()}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opt)
	}

	a.mailSettings = mail.NewSettingsStore(be.store, logger)
	a.smtp = mail.NewSMTPSender(mailSettings(ctx, cfg, a.mailSettings), logger)
	a.smtp.SetTimeout(cfg.SMTPTimeout)
	var sender mail.Sender = a.smtp
	if cfg.MailQueue {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL for mail queue: %w", err)
		}
		a.queue = asynq.NewClient(redisOpt)
		sender = mail.NewQueueSender(a.queue, a.smtp.Configured, mailQueue, logger)
	}

	var sent reminder.SentSet = reminder.NewMemorySentSet()
	if a.redis != nil {
		sent = reminder.NewRedisSentSet(a.redis, 0)
	}

	seq := storage.NewSequence(be.store, logger)
	a.users = identity.NewDirectory(ctx, be.store, a.validate, logger)
	a.slots = scheduling.NewScheduleStore(ctx, be.store, seq, cfg.AppointmentDuration, logger)
	a.notes = notification.NewStore(ctx, be.store, seq, logger)
	a.sched = scheduling.NewScheduler(ctx, scheduling.Settings{
		MaxAdvanceDays: cfg.MaxAdvanceDays,
		Location:       cfg.Location(),
	}, be.store, seq, a.slots, a.notes, a.users, logger)
	a.reminders = reminder.NewDispatcher(sender, a.sched, a.users, a.notes, sent, reminder.Settings{
		Interval:      cfg.ReminderInterval,
		RetryInterval: cfg.ReminderRetryInterval,
	}, logger)
	a.sched.SetMailer(a.reminders)
	a.prescriptions = prescription.NewRegister(ctx, be.store, logger)

	return a, nil
}

func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.close()
}

func (a *app) jwtConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     "clinic-server",
		SigningKey: []byte(a.cfg.JWTSecret),
		TTL:        a.cfg.TokenTTL,
		Skipper:    auth.AuthSkipper,
	}
}

// newServer builds the echo instance with every route registered.
func (a *app) newServer() *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(middleware.ClinicSecurityPolicy(!cfg.IsDev())))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Role"},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.DomainErrors())

	jwtCfg := a.jwtConfig()
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(cfg.StorageDriver, a.db.pinger))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	identity.NewHandler(a.users, jwtCfg).RegisterRoutes(apiV1, apiV1)
	scheduling.NewHandler(a.sched, a.slots, a.validate).RegisterRoutes(apiV1)
	notification.NewHandler(a.notes).RegisterRoutes(apiV1)
	reminder.NewHandler(a.reminders, a.smtp, a.mailSettings, a.validate).RegisterRoutes(apiV1)
	prescription.NewHandler(a.prescriptions, a.validate).RegisterRoutes(apiV1)

	return e
}

// startBackground launches the maintenance cron and, when enabled, the
// reminder loop. Both stop with ctx.
func (a *app) startBackground(ctx context.Context) error {
	runner := jobs.NewRunner(a.cfg.Location(), a.logger)
	retention := time.Duration(a.cfg.NotificationRetentionDays) * 24 * time.Hour
	if err := runner.Add(jobs.NotificationPurgeJob, a.cfg.MaintenanceSchedule, jobs.RetentionPurge(a.notes, retention, time.Now)); err != nil {
		return err
	}
	runner.Start(ctx)

	if !a.cfg.RemindersEnabled {
		a.logger.Info().Msg("reminder loop disabled")
		return nil
	}
	if err := a.reminders.Start(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("reminder loop not started")
	}
	return nil
}
