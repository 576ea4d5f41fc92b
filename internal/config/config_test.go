package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != "postgres" || cfg.PaymentProvider != "fake" || cfg.RefundMode != "wallet" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PaymentTimeout != 15*time.Second || cfg.UnpaidOrderTTL != 30*time.Minute {
		t.Fatalf("unexpected durations: %v %v", cfg.PaymentTimeout, cfg.UnpaidOrderTTL)
	}
	if !cfg.RedemptionValue.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("unexpected redemption value %s", cfg.RedemptionValue)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("STORE", "MEMORY")
	t.Setenv("POINTS_EARN_RATE", "0.5")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.Store != "memory" || cfg.WorkerConcurrency != 8 || !cfg.EarnRate.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadReportsBadValues(t *testing.T) {
	t.Setenv("PAYMENT_TIMEOUT_SECONDS", "soon")
	t.Setenv("MIN_PRICE", "-1")
	t.Setenv("PAYMENT_PROVIDER", "stripe")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"PAYMENT_TIMEOUT_SECONDS", "MIN_PRICE", "STRIPE_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}
