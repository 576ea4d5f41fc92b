package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/app"
	"github.com/ariefcatur/go-surplus-food/internal/config"
	"github.com/ariefcatur/go-surplus-food/internal/httpx"
	"github.com/ariefcatur/go-surplus-food/internal/kafka"
	"github.com/ariefcatur/go-surplus-food/internal/logging"
	"github.com/ariefcatur/go-surplus-food/internal/payments"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build app", zap.Error(err))
	}

	// Webhooks go through Kafka to the worker when it exists. The memory
	// store and the fake gateway keep state in this process, so there the
	// API handles events inline and runs the sweeps itself.
	var sink httpx.PaymentEventSink = a.Orders
	if a.ForwardsPayments() {
		sink = payments.KafkaForwarder{Producer: a.Producer(ctx, kafka.TopicPaymentEvents), Service: cfg.ServiceName}
	} else {
		go func() { _ = a.RunSweeps(ctx, cfg.SweepInterval) }()
	}

	router := httpx.NewRouter(logger)
	(&httpx.ListingsHandler{Listings: a.Listings, Log: logger}).Register(router)
	(&httpx.OrdersHandler{Orders: a.Orders, Log: logger}).Register(router)
	(&httpx.LoyaltyHandler{Loyalty: a.Loyalty, Log: logger}).Register(router)
	ph := &httpx.PaymentsHandler{Sink: sink, Log: logger}
	if cfg.PaymentProvider == "stripe" {
		ph.Parse = httpx.StripeParser(cfg.StripeWebhookSecret)
	} else {
		ph.Fake = a.Fake
	}
	ph.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store),
			zap.String("payments", cfg.PaymentProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	cancel()
	a.Close() // flush producers, wait for notifications
}
