// Package app wires the marketplace core from configuration. Both binaries
// build the same graph; only the outer surfaces differ.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-surplus-food/internal/config"
	"github.com/ariefcatur/go-surplus-food/internal/inventory"
	"github.com/ariefcatur/go-surplus-food/internal/kafka"
	"github.com/ariefcatur/go-surplus-food/internal/listings"
	"github.com/ariefcatur/go-surplus-food/internal/loyalty"
	"github.com/ariefcatur/go-surplus-food/internal/notify"
	"github.com/ariefcatur/go-surplus-food/internal/orders"
	"github.com/ariefcatur/go-surplus-food/internal/payments"
	"github.com/ariefcatur/go-surplus-food/internal/postgres"
	"github.com/ariefcatur/go-surplus-food/internal/redisx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const notifyQueue = "notifications"

type App struct {
	Cfg      config.Config
	Log      *zap.Logger
	Orders   *orders.Workflow
	Listings *listings.Service
	Loyalty  *loyalty.Ledger
	Payments payments.Gateway
	// Fake is set when the fake gateway is in use.
	Fake     *payments.Fake
	Notifier *notify.Dispatcher

	DB    *pgxpool.Pool
	Redis *redis.Client

	producers []*kafka.Producer
	closers   []func()
}

// Distributed reports whether the app runs against shared infrastructure.
// The memory store keeps everything in process and skips Redis and Kafka.
func (a *App) Distributed() bool { return a.Cfg.Store == "postgres" }

// ForwardsPayments reports whether webhook events go through Kafka to the
// worker. The fake gateway keeps its charges in the API process, so its
// events are always handled inline.
func (a *App) ForwardsPayments() bool { return a.Distributed() && a.Fake == nil }

// Build connects the stores and assembles the workflow. Producers are
// started on ctx; call Close to flush them and release connections.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log}

	var (
		listingRepo listings.Repository
		orderRepo   orders.Repository
		loyaltyRepo loyalty.Store
	)
	if a.Distributed() {
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, err
		}
		listingRepo = &listings.PostgresRepo{DB: db}
		orderRepo = &orders.PostgresRepo{DB: db}
		loyaltyRepo = &loyalty.PostgresStore{DB: db}

		a.Redis = redisx.New(cfg.RedisAddr)
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
	} else {
		log.Warn("running with in-memory store; state is lost on restart")
		listingRepo = listings.NewMemoryRepo()
		orderRepo = orders.NewMemoryRepo()
		loyaltyRepo = loyalty.NewMemoryStore()
	}

	var (
		orderEvents orders.EventPublisher
		stockEvents inventory.EventSink
		cache       *redisx.Cache
	)
	if a.Distributed() {
		cache = &redisx.Cache{RDB: a.Redis, Service: cfg.ServiceName}
		orderEvents = orders.KafkaPublisher{Producer: a.Producer(ctx, kafka.TopicOrderEvents), Service: cfg.ServiceName}
		stockEvents = inventory.KafkaSink{Producer: a.Producer(ctx, kafka.TopicListingEvents), Service: cfg.ServiceName}
	}

	sinks := []notify.Sink{notify.LogSink{Log: log}}
	if a.Redis != nil {
		sinks = append(sinks, notify.RealtimeSink{Redis: a.Redis})
	}
	if cfg.RabbitMQURL != "" {
		rs, err := notify.NewRabbitSink(cfg.RabbitMQURL, notifyQueue)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		sinks = append(sinks, rs)
	}
	a.Notifier = notify.NewDispatcher(log.Named("notify"), 5*time.Second, sinks...)

	switch cfg.PaymentProvider {
	case "stripe":
		gw, err := payments.NewStripe(payments.StripeConfig{
			APIKey:     cfg.StripeAPIKey,
			Currency:   cfg.Currency,
			SuccessURL: cfg.StripeSuccessURL,
			CancelURL:  cfg.StripeCancelURL,
			Logger:     log.Named("stripe"),
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Payments = gw
	default:
		a.Fake = payments.NewFake(devBaseURL(cfg.HTTPAddr))
		a.Payments = a.Fake
	}

	a.Listings = &listings.Service{Repo: listingRepo, Log: log.Named("listings"), MinPrice: cfg.MinPrice}
	a.Loyalty = loyalty.NewLedger(loyaltyRepo, log.Named("loyalty"))
	a.Orders = orders.NewWorkflow(orders.Deps{
		Orders:    orderRepo,
		Listings:  a.Listings,
		Inventory: inventory.NewLedger(listingRepo, stockEvents, log.Named("inventory")),
		Loyalty:   a.Loyalty,
		Payments:  a.Payments,
		Notifier:  a.Notifier,
		Events:    orderEvents,
		Cache:     cache,
		Log:       log.Named("orders"),
	}, orders.Settings{
		RedemptionValue: cfg.RedemptionValue,
		EarnRate:        cfg.EarnRate,
		MinPrice:        cfg.MinPrice,
		PaymentTimeout:  cfg.PaymentTimeout,
		UnpaidTTL:       cfg.UnpaidOrderTTL,
		RefundMode:      orders.RefundMode(cfg.RefundMode),
	})
	return a, nil
}

// Producer starts a producer for topic that is flushed by Close.
func (a *App) Producer(ctx context.Context, topic string) *kafka.Producer {
	p := kafka.NewProducer(a.Cfg.KafkaBrokers, topic, 1024, a.Log.Named("kafka"))
	p.Start(ctx)
	a.producers = append(a.producers, p)
	return p
}

func devBaseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/dev"
}

// Close flushes producers, waits for in-flight notifications and closes
// connections in reverse order.
func (a *App) Close() {
	for _, p := range a.producers {
		p.Close()
	}
	for _, p := range a.producers {
		p.WaitClosed()
	}
	if a.Notifier != nil {
		a.Notifier.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
