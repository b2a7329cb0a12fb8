package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tokokita/api/internal/config"
	kafkax "github.com/tokokita/api/internal/kafka"
	"github.com/tokokita/api/internal/orders"
	"github.com/tokokita/api/internal/paymentsync"
	"github.com/tokokita/api/internal/postgres"
	"github.com/tokokita/api/internal/redisx"
	"github.com/tokokita/api/internal/zaplog"
)

// paymentsync consumes the gateway's payment.authorized / payment.failed
// topics and records the outcome on the order. It shares the orders service
// with the API binary, so the same transition rules apply.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zaplog.New(cfg.ServiceName + "-paymentsync")
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	repo := &orders.Repo{DB: db}
	svc := &paymentsync.Service{
		Orders:      orders.NewService(repo, &orders.UserEmails{DB: db}, log, cfg.ShippingFeeCents),
		Redis:       rdb,
		Log:         log,
		ServiceName: cfg.ServiceName + "-paymentsync",
	}

	group := getenv("PAYMENTSYNC_GROUP", "paymentsync")
	workers := getenvInt("PAYMENTSYNC_WORKERS", 4)

	for _, topic := range []string{orders.TopicPaymentAuthorized, orders.TopicPaymentFailed} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers, log)
		go func(topic string) {
			log.Info("consumer started", zap.String("topic", topic), zap.String("group", group))
			if err := cons.Start(ctx, svc.HandlePaymentEvent); err != nil {
				log.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down")
	cancel()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
