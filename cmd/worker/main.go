package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meditrack/reminder-api/internal/channel"
	"github.com/meditrack/reminder-api/internal/config"
	"github.com/meditrack/reminder-api/internal/dispatch"
	"github.com/meditrack/reminder-api/internal/model"
	"github.com/meditrack/reminder-api/internal/repository/postgres"
	"github.com/meditrack/reminder-api/internal/service/notification"
	"github.com/meditrack/reminder-api/internal/service/schedule"
	"github.com/meditrack/reminder-api/internal/worker"
	"github.com/meditrack/reminder-api/pkg/logger"
	"github.com/meditrack/reminder-api/pkg/messaging"
	redisbroker "github.com/meditrack/reminder-api/pkg/messaging/redis"
	"github.com/meditrack/reminder-api/pkg/metrics"
	"github.com/meditrack/reminder-api/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func setupOpsServer(lg *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			lg.ZL.Error().Err(err).Msg("ops server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
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
			lg.Fatal(err, "failed to create redis broker")
		}
		defer broker.Close()
	}

	m := metrics.New("reminder_worker")

	baseRepo := postgres.NewBaseRepository(db, m)
	medRepo := postgres.NewMedicationRepository(baseRepo)
	notifRepo := postgres.NewNotificationRepository(baseRepo)
	prefRepo := postgres.NewPreferenceRepository(baseRepo)

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

	reminderSweep := worker.NewReminderSweepWorker(medRepo, notifRepo, scheduler, composer,
		worker.ReminderSweepConfig{
			Interval:        cfg.Scheduler.ReminderSweepInterval,
			Lookahead:       cfg.Scheduler.ReminderLookahead,
			MissedDoseAfter: cfg.Scheduler.MissedDoseAfter,
			RefillThreshold: cfg.Scheduler.RefillThreshold,
		}, m, lg)
	retryScheduler := dispatch.NewRetryScheduler(notifRepo, dispatcher, cfg.Scheduler.RetrySweepInterval, m, lg)
	cleanup := worker.NewCleanupWorker(notifRepo, cfg.Scheduler.RetentionDays, time.Hour, m, lg)

	setupOpsServer(lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		lg.Info("shutting down")
		cancel()
	}()

	lg.Info("reminder worker started")

	var wg sync.WaitGroup
	wg.Add(5)
	go func() { defer wg.Done(); dispatcher.Run(ctx) }()
	go func() { defer wg.Done(); batcher.Run(ctx) }()
	go func() { defer wg.Done(); reminderSweep.Start(ctx) }()
	go func() { defer wg.Done(); retryScheduler.Run(ctx) }()
	go func() { defer wg.Done(); cleanup.Start(ctx) }()
	wg.Wait()
}
