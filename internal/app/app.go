// Package app assembles the notification engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"trainingportal/internal/config"
	"trainingportal/internal/handler"
	"trainingportal/internal/httpserver"
	"trainingportal/internal/model"
	"trainingportal/internal/mqhandler"
	"trainingportal/internal/render"
	"trainingportal/internal/repository"
	"trainingportal/internal/repository/memory"
	"trainingportal/internal/scheduler"
	"trainingportal/internal/service/delivery"
	"trainingportal/internal/service/notifier"
	"trainingportal/internal/service/reminder"
	"trainingportal/internal/service/schedule"
	"trainingportal/internal/transport"
	"trainingportal/pkg/circuitbreaker"
	"trainingportal/pkg/db"
	"trainingportal/pkg/mq"
	"trainingportal/pkg/otel"
	"trainingportal/pkg/redis"
	"trainingportal/pkg/util"
)

type logStore interface {
	delivery.LogStore
	reminder.RecentLog
	notifier.LogReader
}

type directory interface {
	delivery.Directory
	notifier.RecipientLookup
}

type deadlineStore interface {
	reminder.DeadlineSource
	notifier.EntityLookup
}

// stores is the storage backend selected by storage.driver.
type stores struct {
	logs      logStore
	schedules schedule.Store
	directory directory
	deadlines map[model.TargetType]deadlineStore
	pinger    httpserver.Pinger
}

type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Service *notifier.Service
	Router  *httpserver.Router

	server   *http.Server
	consumer *mq.Consumer
	closers  []func()
}

// New wires every component. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	otelShutdown, err := otel.Init(cfg.Otel, logger)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}
	a.closers = append(a.closers, otelShutdown)

	st, err := a.openStores(context.Background())
	if err != nil {
		a.Close()
		return nil, err
	}

	tr, err := a.buildTransport()
	if err != nil {
		a.Close()
		return nil, err
	}

	var claimer reminder.Claimer
	if cfg.Reminders.Dedupe == string(reminder.DedupeRedis) {
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		claimer = util.NewDeduper(rdb, logger)
	}

	renderer, err := render.New(cfg.Notify.PortalURL)
	if err != nil {
		a.Close()
		return nil, err
	}

	pipeline := delivery.NewPipeline(delivery.Config{
		SendTimeout:   cfg.Transport.SendTimeout,
		Concurrency:   cfg.Transport.Concurrency,
		RatePerSecond: cfg.Transport.RatePerSecond,
		Burst:         cfg.Transport.Burst,
	}, st.directory, st.logs, renderer, tr, logger)

	sources := make(map[model.TargetType]reminder.DeadlineSource, len(st.deadlines))
	entities := make(map[model.TargetType]notifier.EntityLookup, len(st.deadlines))
	for t, s := range st.deadlines {
		sources[t] = s
		entities[t] = s
	}
	evaluator := reminder.NewEvaluator(reminder.Config{
		Dedupe:     reminder.DedupeMode(cfg.Reminders.Dedupe),
		OverdueCap: cfg.Reminders.OverdueCap,
	}, sources, pipeline, st.logs, claimer, logger)

	processor := schedule.NewProcessor(schedule.Config{
		BatchSize:    cfg.Schedule.BatchSize,
		MaxRetries:   cfg.Schedule.MaxRetries,
		RetryMode:    schedule.RetryMode(cfg.Schedule.RetryMode),
		BackoffBase:  cfg.Schedule.BackoffBase,
		ClaimTimeout: cfg.Schedule.ClaimTimeout,
	}, st.schedules, pipeline, logger)

	jobs, err := scheduler.New(scheduler.Config{
		ReminderSpec: cfg.Scheduler.ReminderSpec,
		QueueSpec:    cfg.Scheduler.QueueSpec,
		RunOnStart:   cfg.Scheduler.RunOnStart,
	}, evaluator, processor, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Service = notifier.New(notifier.Deps{
		Pipeline:   pipeline,
		Recipients: st.directory,
		Entities:   entities,
		Schedule:   processor,
		Jobs:       jobs,
		Logs:       st.logs,
	}, logger)

	h := handler.NewNotificationHandler(a.Service, cfg.Notify.AsyncWait, logger)
	a.Router = httpserver.NewRouter(h, st.pinger, logger)
	a.server = &http.Server{
		Addr:    cfg.Server.Port,
		Handler: a.Router.Engine,
	}

	if cfg.Consumer.Enabled {
		consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.MQ.Exchange, cfg.Consumer.Queue, cfg.Consumer.RoutingKey, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init consumer: %w", err)
		}
		consumer.SetHandler(mqhandler.NewNotificationRequestedHandler(a.Service, logger).Handle)
		a.consumer = consumer
		a.closers = append(a.closers, consumer.Close)
	}

	return a, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	switch a.cfg.Storage.Driver {
	case "memory":
		a.logger.Warn("Using in-memory storage, data is lost on restart")
		seed := &memory.Seed{}
		if a.cfg.Storage.SeedFile != "" {
			loaded, err := memory.LoadSeed(a.cfg.Storage.SeedFile)
			if err != nil {
				return nil, err
			}
			seed = loaded
		}
		sources, err := seed.Sources(time.Now().UTC())
		if err != nil {
			return nil, err
		}
		deadlines := make(map[model.TargetType]deadlineStore, len(sources))
		for t, src := range sources {
			deadlines[t] = src
		}
		logs := memory.NewLogStore()
		a.logger.Info("In-memory storage seeded",
			zap.Int("recipients", len(seed.Recipients)),
			zap.String("seed_file", a.cfg.Storage.SeedFile),
		)
		return &stores{
			logs:      logs,
			schedules: memory.NewScheduleStore(),
			directory: seed.Directory(),
			deadlines: deadlines,
			pinger:    logs,
		}, nil

	case "postgres":
		pool, err := db.NewConnection(a.cfg.DB, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init db: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		if a.cfg.Storage.Migrate {
			if err := repository.Migrate(ctx, pool); err != nil {
				return nil, err
			}
			a.logger.Info("Database schema is up to date")
		}

		deadlines := make(map[model.TargetType]deadlineStore)
		for t, repo := range repository.NewDeadlineRepositories(pool, a.logger) {
			deadlines[t] = repo
		}
		return &stores{
			logs:      repository.NewNotificationLogRepository(pool, a.logger),
			schedules: repository.NewScheduleRepository(pool, a.logger),
			directory: repository.NewUserRepository(pool),
			deadlines: deadlines,
			pinger:    pool,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

// buildTransport returns the configured driver behind metrics and a circuit breaker.
func (a *App) buildTransport() (delivery.Transport, error) {
	deps := transport.Deps{Logger: a.logger, SMTP: a.cfg.SMTP}
	if a.cfg.Transport.Driver == "amqp" {
		publisher, err := mq.NewPublisher(a.cfg.MQ.URL, a.cfg.MQ.Exchange)
		if err != nil {
			return nil, fmt.Errorf("init mq publisher: %w", err)
		}
		a.closers = append(a.closers, publisher.Close)
		deps.Publisher = publisher
	}

	base, err := transport.New(a.cfg.Transport.Driver, deps)
	if err != nil {
		return nil, err
	}

	b := a.cfg.Transport.Breaker
	breakerCfg := circuitbreaker.DefaultConfig()
	if b.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = b.FailureThreshold
	}
	if b.SuccessThreshold > 0 {
		breakerCfg.SuccessThreshold = b.SuccessThreshold
	}
	if b.Timeout > 0 {
		breakerCfg.Timeout = b.Timeout
	}
	if b.HalfOpenMaxRequests > 0 {
		breakerCfg.HalfOpenMaxRequests = b.HalfOpenMaxRequests
	}

	a.logger.Info("Mail transport selected", zap.String("driver", base.Name()))
	return transport.NewBreakerTransport(transport.NewInstrumented(base), breakerCfg, a.logger), nil
}

// Start launches the periodic jobs, the queue consumer and the HTTP server.
// errc receives a fatal error from the consumer or the server.
func (a *App) Start() <-chan error {
	errc := make(chan error, 2)

	if a.cfg.Scheduler.Enabled {
		a.Service.Start()
	} else {
		a.logger.Info("Periodic jobs disabled")
	}

	if a.consumer != nil {
		go func() {
			a.logger.Info("Starting notification.requested consumer...")
			if err := a.consumer.StartConsuming(); err != nil {
				errc <- fmt.Errorf("consumer: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("HTTP server starting", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()

	return errc
}

// Shutdown stops intake first, then waits for jobs and broadcast tasks,
// then releases connections. ctx bounds the whole sequence.
func (a *App) Shutdown(ctx context.Context) error {
	if a.consumer != nil {
		a.consumer.Stop()
	}

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := a.Service.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("notifier shutdown: %w", err))
	}

	a.Close()
	return errors.Join(errs...)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
