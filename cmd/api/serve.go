package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"designdesk/api/internal/activity"
	"designdesk/api/internal/app"
	"designdesk/api/internal/calendar"
	"designdesk/api/internal/config"
	"designdesk/api/internal/email"
	"designdesk/api/internal/events"
	"designdesk/api/internal/files"
	"designdesk/api/internal/notify"
	"designdesk/api/internal/realtime"
	"designdesk/api/internal/reminders"
	"designdesk/api/internal/search"
	"designdesk/api/internal/store"
)

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, socket hub and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	backend, db, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := realtime.NewHub(realtime.NewPresenceRegistry(), cfg.TypingTTL, log)
	defer hub.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	var fallback search.Searcher
	if db != nil {
		fallback = search.NewPgFTS(db)
	}
	searchService := search.NewService(meiliClient, fallback, log)

	var deduper notify.Deduper = notify.NewMemoryDeduper()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisDeduper, err := notify.NewRedisDeduper(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisDeduper.Close()
		deduper = redisDeduper
		log.Info("notification dedupe backed by redis")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Info("SMTP not configured, email disabled")
	}
	messenger := notify.NewTwilio(notify.TwilioConfig{
		AccountSID:   cfg.TwilioAccountSID,
		AuthToken:    cfg.TwilioAuthToken,
		From:         cfg.TwilioFrom,
		WhatsAppFrom: cfg.TwilioWhatsAppFrom,
	}, log)
	if !messenger.IsConfigured() {
		log.Info("Twilio not configured, SMS disabled")
	}

	notifier := notify.New(notify.Options{
		Store:       backend,
		Pusher:      hub,
		Mailer:      mailer,
		Messenger:   messenger,
		Deduper:     deduper,
		FrontendURL: cfg.FrontendURL,
		Log:         log,
	})
	calendarClient := calendar.NewClient(calendar.Config{BaseURL: cfg.CalendarURL, Token: cfg.CalendarToken}, log)

	hydrator, err := files.NewHydrator(files.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	}, log)
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.EventQueueSize, cfg.EventWorkers, log)
	bus.Subscribe("notify", notifier.HandleEvent)
	bus.Subscribe("search", searchService.HandleEvent)
	bus.Subscribe("calendar", calendarClient.HandleEvent)
	bus.Subscribe("activity", activity.NewFeed(backend, log).HandleEvent)
	bus.Subscribe("audit", activity.NewAuditTrail(backend).HandleEvent)
	bus.Start(ctx)
	defer bus.Stop()

	service := app.New(cfg, app.Deps{
		Store:  backend,
		Hub:    hub,
		Bus:    bus,
		Search: searchService,
		Files:  hydrator,
		Log:    log,
	})
	hub.AuthorizeTasks(service)

	go searchService.ReindexAll(ctx, backend)
	go reminders.NewScheduler(backend, bus, cfg.ReminderInterval, log).Run(ctx)

	httpServer := app.NewHTTPServer(service, app.ServerOptions{
		CORSOrigin:     cfg.CORSOrigin,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Sockets:        realtime.NewHandler(hub, service, cfg.CORSOrigin),
		Log:            log,
	})
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Addr, "store": cfg.TaskStore}).Info("DesignDesk API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	return nil
}

// openStore selects the task store backend. db is non-nil only for Postgres,
// which also serves full-text search fallback.
func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store.Store, *sql.DB, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.TaskStore)) {
	case "", "memory":
		log.Warn("using in-memory task store, data is lost on restart")
		return store.NewMemoryStore(), nil, func() {}, nil

	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return store.NewPostgresStore(db), db, func() { _ = db.Close() }, nil

	case "mongo":
		mongoStore, err := store.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoStore.Close(closeCtx); err != nil {
				log.WithError(err).Warn("mongo disconnect")
			}
		}
		return mongoStore, nil, closeFn, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown TASK_STORE %q (memory, postgres or mongo)", cfg.TaskStore)
	}
}
