package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-surplus-food/internal/app"
	"github.com/ariefcatur/go-surplus-food/internal/config"
	"github.com/ariefcatur/go-surplus-food/internal/kafka"
	"github.com/ariefcatur/go-surplus-food/internal/logging"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Store != "postgres" {
		log.Fatal("worker needs STORE=postgres; the memory store runs its sweeps inside the api")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-worker")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build app", zap.Error(err))
	}
	defer a.Close()
	if !a.ForwardsPayments() {
		logger.Info("fake payment gateway is served by the api; worker has nothing to run")
		return
	}

	cons := kafka.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, kafka.TopicPaymentEvents,
		cfg.WorkerConcurrency, logger.Named("consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("payment consumer started", zap.String("group", cfg.WorkerGroup),
			zap.String("topic", kafka.TopicPaymentEvents), zap.Int("workers", cfg.WorkerConcurrency))
		return cons.Start(gctx, a.PaymentEventHandler())
	})
	g.Go(func() error {
		return a.RunSweeps(gctx, cfg.SweepInterval)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", zap.Error(err))
	}
	logger.Info("worker shut down")
}
