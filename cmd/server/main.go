package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pickup-order-service/config"
	"pickup-order-service/internal/api"
	"pickup-order-service/internal/broker"
	"pickup-order-service/internal/util"
	"pickup-order-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:   "pickup-order-service",
		Usage:  "laundry and home-cleaning pickup order service",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background workers",
				Action: serve,
			},
			{
				Name:  "migrate",
				Usage: "manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "apply pending migrations",
						Action: migrateUp,
					},
					{
						Name:  "down",
						Usage: "roll back migrations",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
						},
						Action: migrateDown,
					},
				},
			},
			{
				Name:   "retry-payments",
				Usage:  "run one pass of the payment retry sweep and exit",
				Action: retryPayments,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func serve(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting pickup order service",
		zap.String("env", cfg.Server.Env),
		zap.String("store", cfg.Business.StoreBackend),
		zap.String("capacity", cfg.Business.CapacityBackend))

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(app.orders, app.reconciler, api.Options{
		JWTSecret:         cfg.Server.JWTSecret,
		Limiter:           app.limiter(),
		BookingRateLimit:  cfg.Business.BookingRateLimit,
		BookingRateWindow: cfg.Business.BookingRateWindow,
		ReadinessChecks:   app.readiness,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPaymentEvents, cfg.Kafka.ConsumerGroup)
		paymentWorker := worker.NewPaymentEventWorker(consumer, app.reconciler)
		g.Go(func() error {
			defer paymentWorker.Stop()
			if err := paymentWorker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("payment event worker: %w", err)
			}
			return nil
		})
	}

	retryWorker := worker.NewRetryWorker(app.reconciler, cfg.Payment.RetryInterval)
	g.Go(func() error {
		return retryWorker.Start(gctx)
	})

	err = g.Wait()
	logger.Info("Server exited")
	return err
}

func migrateUp(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer util.SyncLogger()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	util.GetLogger().Info("Migrations applied")
	return nil
}

func migrateDown(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer util.SyncLogger()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	steps := c.Int("steps")
	if err := db.MigrateDown(steps); err != nil {
		return err
	}
	util.GetLogger().Info("Migrations rolled back", zap.Int("steps", steps))
	return nil
}

func retryPayments(c *cli.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer util.SyncLogger()

	app, err := build(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	report, err := app.reconciler.RetryDuePayments(c.Context)
	if err != nil {
		return err
	}
	util.GetLogger().Info("Payment retry sweep finished",
		zap.Bool("locked", report.Locked),
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return nil
}
