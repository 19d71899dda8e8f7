package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meditrack/reminder-api/internal/channel"
	"github.com/meditrack/reminder-api/internal/config"
	"github.com/meditrack/reminder-api/internal/dispatch"
	"github.com/meditrack/reminder-api/internal/handler/health"
	medicationHandler "github.com/meditrack/reminder-api/internal/handler/medication"
	notificationHandler "github.com/meditrack/reminder-api/internal/handler/notification"
	"github.com/meditrack/reminder-api/internal/middleware"
	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/repository/postgres"
	"github.com/meditrack/reminder-api/internal/router"
	"github.com/meditrack/reminder-api/internal/service/interaction"
	medicationService "github.com/meditrack/reminder-api/internal/service/medication"
	"github.com/meditrack/reminder-api/internal/service/notification"
	"github.com/meditrack/reminder-api/internal/service/schedule"
	"github.com/meditrack/reminder-api/pkg/logger"
	"github.com/meditrack/reminder-api/pkg/messaging"
	redisbroker "github.com/meditrack/reminder-api/pkg/messaging/redis"
	"github.com/meditrack/reminder-api/pkg/metrics"
	"github.com/meditrack/reminder-api/pkg/ratelimit"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lg := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		lg.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redisbroker.NewRedisBroker(cfg.ToBrokerConfig(), &lg.ZL)
		if err != nil {
			lg.Fatal(err, "failed to connect to redis")
		}
		defer broker.Close()
	}

	m := metrics.New("reminder_api")

	baseRepo := postgres.NewBaseRepository(db, m)
	medRepo := postgres.NewMedicationRepository(baseRepo)
	notifRepo := postgres.NewNotificationRepository(baseRepo)
	prefRepo := postgres.NewPreferenceRepository(baseRepo)

	// The API composes and dispatches notifications triggered by user
	// actions; the scheduled sweeps live in the worker binary.
	senders := map[model.Channel]channel.Sender{
		model.ChannelEmail: channel.NewEmailSender(cfg.Email),
		model.ChannelPush:  channel.NewPushSender(cfg.Push),
	}
	var live *channel.LiveNotifier
	if broker != nil {
		live = channel.NewLiveNotifier(broker, "notifications")
	}

	limiter := ratelimit.New(map[string]time.Duration{
		string(model.ChannelPush):  cfg.Scheduler.RatePushInterval,
		string(model.ChannelEmail): cfg.Scheduler.RateEmailInterval,
	}, cfg.Scheduler.RatePushInterval)

	templates := notification.NewTemplateRegistry()
	prefs := notification.NewPreferenceStore(prefRepo, 5*time.Minute)

	queue := dispatch.NewQueue()
	dispatcher := dispatch.NewDispatcher(queue, notifRepo, medRepo, senders, limiter, live, templates,
		dispatch.Config{
			RetryDelay:            cfg.Scheduler.RetryDelay,
			SendTimeout:           cfg.Scheduler.SendTimeout,
			StaleAfter:            cfg.Scheduler.StaleAfter,
			ChannelSendsPerSecond: cfg.Scheduler.ChannelSendsPS,
		}, m, lg)
	batcher := dispatch.NewBatcher(dispatch.BatcherConfig{
		Window:        cfg.Scheduler.BatchInterval,
		Capacity:      cfg.Scheduler.BatchCapacity,
		SweepInterval: cfg.Scheduler.BatchSweepInterval,
	}, dispatcher.FlushBatch, m, lg)
	dispatcher.AttachBatcher(batcher)

	composer := notification.NewComposer(notifRepo, prefs, templates, dispatcher, cfg.Scheduler.MaxRetries, lg)
	scheduler := schedule.NewService()
	checker := interaction.NewService(nil, 0)
	lookup := interaction.NewStaticLookup(interaction.DefaultRules())

	medicationSvc := medicationService.NewService(medRepo, notifRepo, scheduler, checker, lookup, composer, m, lg)

	healthH := health.NewHandler(db)
	notificationH := notificationHandler.NewHandler(notifRepo)
	medicationH := medicationHandler.NewHandler(medicationSvc, medRepo, scheduler)

	r := router.NewRouter(healthH, notificationH, medicationH, lg, router.Config{
		RateLimitRPS:   100,
		RateLimitBurst: 200,
		RequestTimeout: 30 * time.Second,
		CORSConfig:     middleware.DefaultCORSConfig(),
		MetricsPrefix:  "reminder_api_http",
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatcher.Run(ctx)
	go batcher.Run(ctx)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal(err, "failed to start server")
		}
	}()
	lg.Info("reminder api started", "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Fatal(err, "server forced to shutdown")
	}

	lg.Info("server exited properly")
}
