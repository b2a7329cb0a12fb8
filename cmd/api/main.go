package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tokokita/api/internal/config"
	"github.com/tokokita/api/internal/httpx"
	kafkax "github.com/tokokita/api/internal/kafka"
	"github.com/tokokita/api/internal/orders"
	"github.com/tokokita/api/internal/postgres"
	"github.com/tokokita/api/internal/redisx"
	"github.com/tokokita/api/internal/zaplog"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := zaplog.New(cfg.ServiceName)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per lifecycle topic
	pPlaced := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, log)
	pPlaced.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024, log)
	pCancelled.Start(ctx)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024, log)
	pStatus.Start(ctx)

	// Service & handler
	repo := &orders.Repo{DB: db}
	svc := orders.NewService(repo, &orders.UserEmails{DB: db}, log, cfg.ShippingFeeCents)

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Svc:           svc,
		Redis:         rdb,
		Log:           log,
		Placed:        pPlaced,
		Cancelled:     pCancelled,
		StatusChanged: pStatus,
		Service:       cfg.ServiceName,
		AdminToken:    cfg.AdminToken,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)

	cancel()
	for _, p := range []*kafkax.Producer{pPlaced, pCancelled, pStatus} {
		p.Close()
		p.WaitClosed()
	}
}
