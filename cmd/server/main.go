package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"auction-settlement/config"
	"auction-settlement/internal/api"
	"auction-settlement/internal/broker"
	"auction-settlement/internal/redisclient"
	"auction-settlement/internal/service"
	"auction-settlement/internal/sms"
	"auction-settlement/internal/store"
	"auction-settlement/internal/util"
	"auction-settlement/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting auction settlement service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSettlement)
	defer producer.Close()
	eventPublisher := broker.NewSettlementEventPublisher(producer)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicSettlement))

	smsProvider := sms.NewProvider(cfg.SMS)

	queue := service.NewNotificationQueue(db)
	notifier := service.NewSettlementNotifier(queue, db)
	dispatcher := service.NewNotificationDispatcher(
		db,
		smsProvider,
		service.DefaultTemplates(),
		cfg.Notification.BatchSize,
		cfg.Notification.ProviderTimeout,
	)

	resolver := service.NewCandidateResolver(db, db)
	machine := service.NewSettlementMachine(db, resolver, notifier, eventPublisher, service.SettlementPolicy{
		PaymentWindow:        cfg.Settlement.PaymentWindow,
		MaxRanks:             cfg.Settlement.MaxPaymentRanks,
		NotifySkippedBidders: cfg.Settlement.NotifySkippedBidders,
	})
	committer := service.NewSettlementCommitter(db, machine, notifier, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var wg sync.WaitGroup

	paymentConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayment, cfg.Kafka.PaymentGroup)
	paymentWorker := worker.NewPaymentWorker(paymentConsumer, committer, redisClient)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := paymentWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Payment worker error", zap.Error(err))
		}
	}()

	dispatchWorker := worker.NewDispatchWorker(dispatcher, redisClient, cfg.Notification.DispatchInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatchWorker.Start(workerCtx)
	}()

	sweeper := worker.NewSettlementSweeper(machine, redisClient, cfg.Settlement.SweepInterval, cfg.Settlement.SweepBatchSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Start(workerCtx)
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Settlement: machine,
		Committer:  committer,
		Dispatcher: dispatcher,
		Queue:      queue,
		Accounts:   notifier,
		Readiness: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := paymentWorker.Stop(); err != nil {
		logger.Error("Error stopping payment worker", zap.Error(err))
	}
	wg.Wait()

	logger.Info("Server exited")
}
