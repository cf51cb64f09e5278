package main

import (
	"context"
	"fmt"

	"pickup-order-service/config"
	"pickup-order-service/internal/api"
	"pickup-order-service/internal/broker"
	"pickup-order-service/internal/capacity"
	"pickup-order-service/internal/notify"
	"pickup-order-service/internal/payment"
	"pickup-order-service/internal/pricing"
	"pickup-order-service/internal/redisclient"
	"pickup-order-service/internal/service"
	"pickup-order-service/internal/store"
	"pickup-order-service/internal/util"

	"go.uber.org/zap"
)

type application struct {
	orders     *service.OrderService
	reconciler *service.Reconciler
	redis      *redisclient.Client
	readiness  map[string]api.ReadinessCheck
	closers    []func() error
}

func (a *application) limiter() api.RateLimiter {
	if a.redis == nil {
		return nil
	}
	return a.redis
}

func (a *application) Close() {
	logger := util.GetLogger()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Error during shutdown", zap.Error(err))
		}
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	util.GetLogger().Info("Database connected")
	return db, nil
}

// build connects the configured backends and assembles the services
func build(cfg *config.Config) (*application, error) {
	logger := util.GetLogger()
	app := &application{readiness: map[string]api.ReadinessCheck{}}

	var (
		repo      store.Repository
		directory capacity.PartnerDirectory
		backend   capacity.Backend
		memory    *store.Memory
	)

	switch cfg.Business.StoreBackend {
	case "memory":
		memory = store.NewMemory()
		memory.SeedDefaults()
		repo, directory = memory, memory
		logger.Warn("Using in-memory order store; data is lost on restart")
	default:
		db, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(); err != nil {
				app.Close()
				return nil, err
			}
		}
		repo, directory, backend = db, db, db
		app.readiness["database"] = func(ctx context.Context) error {
			return db.GetDB().PingContext(ctx)
		}
	}

	rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	switch {
	case err == nil:
		app.redis = rc
		app.closers = append(app.closers, rc.Close)
		app.readiness["redis"] = rc.Ping
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	case cfg.Business.CapacityBackend == "redis":
		app.Close()
		return nil, fmt.Errorf("capacity backend requires redis: %w", err)
	default:
		logger.Warn("Redis unavailable; rate limiting and retry locking disabled", zap.Error(err))
	}

	switch cfg.Business.CapacityBackend {
	case "redis":
		backend = app.redis
	case "memory":
		if memory == nil {
			memory = store.NewMemory()
		}
		backend = memory
	}

	ledger := capacity.NewLedger(backend, directory, capacity.Defaults{
		LaundryMaxOrders:   cfg.Business.DefaultLaundryMax,
		CleaningMaxMinutes: cfg.Business.DefaultCleaningMinutes,
	})

	var publisher broker.Publisher
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers)
		app.closers = append(app.closers, producer.Close)
		publisher = producer
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		publisher = broker.NewMemoryPublisher()
	}

	events := broker.NewEventPublisher(publisher, cfg.Kafka.TopicOrderEvents)
	var notifier notify.Notifier
	if cfg.Kafka.Enabled {
		notifier = notify.NewKafkaNotifier(publisher, cfg.Kafka.TopicNotifications)
	} else {
		notifier = notify.NewLogNotifier()
	}

	var locker service.Locker
	if app.redis != nil {
		locker = app.redis
	}

	paymentCfg := service.DefaultPaymentConfig()
	paymentCfg.Currency = cfg.Payment.Currency
	paymentCfg.RetryBackoff = cfg.Payment.RetryBackoff
	paymentCfg.MaxCaptureAttempts = cfg.Payment.MaxCaptureAttempts
	paymentCfg.RetryBatchSize = cfg.Payment.RetryBatchSize

	sm := service.NewStateMachine(events)
	verifier := payment.NewVerifier(cfg.Payment.WebhookSecret, cfg.Payment.WebhookTolerance)
	app.reconciler = service.NewReconciler(repo, payment.NewMockProvider(), verifier, sm, notifier, locker, paymentCfg)
	app.orders = service.NewOrderService(
		repo,
		ledger,
		pricing.NewCalculator(pricing.DefaultConfig()),
		sm,
		app.reconciler,
		notifier,
		events,
	)

	return app, nil
}
