package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/artifacts"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/cache"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/database"
	kafkautils "github.com/nimeshabuddhika/parcel-recovery/pkg/kafka"
	"github.com/nimeshabuddhika/parcel-recovery/services/recovery-worker/configs"
	"github.com/nimeshabuddhika/parcel-recovery/services/recovery-worker/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// main initializes and runs the recovery worker service.
func main() {
	logger := pkg.InitLogger("recovery-worker")
	defer pkg.SyncLogger()

	cfg, err := configs.Load(logger)
	if err != nil {
		logger.Fatal("failed_to_load_config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var replicas []string
	if cfg.ReplicaDbAddr != "" {
		replicas = append(replicas, cfg.ReplicaDbAddr)
	}
	db, disconnect, err := database.New(ctx, logger, database.Config{
		PrimaryDSN:  cfg.PrimaryDbAddr,
		ReplicaDSNs: replicas,
		MaxConns:    cfg.MaxDbCons,
		MinConns:    cfg.MinDbCons,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer disconnect()
	if err := database.RunMigrations(logger, cfg.PrimaryDbAddr); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient, redisCloser, err := cache.New(ctx, cache.Config{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Fatal("failed to initialize redis", zap.Error(err))
	}
	defer redisCloser()
	logger.Info("redis client initialized successfully")

	err = kafkautils.InitKafkaTopics(ctx, logger, kafkautils.KafkaConfig{
		BootstrapServers: cfg.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			kafkautils.Topic(cfg.KafkaDisputeTopic, cfg.KafkaPartition, cfg.KafkaDisputeRetention),
			kafkautils.Topic(cfg.KafkaDLQTopic, 1, cfg.KafkaDLQRetention),
			kafkautils.Topic(cfg.KafkaClaimEventTopic, cfg.KafkaPartition, cfg.KafkaEventRetention),
			kafkautils.Topic(cfg.KafkaNotificationTopic, cfg.KafkaPartition, cfg.KafkaEventRetention),
		},
	})
	if err != nil {
		logger.Fatal("failed to initialize kafka topics", zap.Error(err))
	}
	producer, err := kafkautils.NewJSONProducer(kafkautils.ProducerConfig{Logger: logger, BootstrapServers: cfg.KafkaBrokers})
	if err != nil {
		logger.Fatal("failed to create kafka producer", zap.Error(err))
	}

	artifactStore, err := newArtifactStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize claim artifact store", zap.Error(err))
	}

	store := services.NewPostgresClaimStore(logger, db)
	notifier := services.NewKafkaNotifier(producer, cfg.KafkaNotificationTopic, cfg.OperatorEmail)

	apis := services.NewRegistry[services.APISubmitter]()
	for carrier, url := range cfg.CarrierAPIs() {
		apis.Register(carrier, services.NewHTTPCarrierAPI(url, cfg.SubmissionTimeout))
	}
	portals := services.NewRegistry[services.PortalAutomation]()
	if cfg.PortalAutomationAddr != "" {
		automation := services.NewHTTPPortalAutomation(cfg.PortalAutomationAddr, cfg.SubmissionTimeout)
		for _, carrier := range cfg.PortalCarrierList() {
			portals.Register(carrier, automation)
		}
	}
	logger.Info("submission capabilities loaded",
		zap.Strings("api_carriers", apis.Carriers()),
		zap.Strings("portal_carriers", portals.Carriers()))

	orchCfg := services.OrchestratorConfig{
		Logger:    logger,
		Store:     store,
		Artifacts: artifactStore,
		Strategy: services.NewSubmissionStrategy(services.SubmissionStrategyConfig{
			Logger:   logger,
			APIs:     apis,
			Portals:  portals,
			Limiter:  pkg.NewDistributedLimiter(redisClient, "portal_rate", cfg.PortalRateLimit, cfg.PortalRateWindow, logger),
			Tasks:    store,
			Notifier: notifier,
			Timeout:  cfg.SubmissionTimeout,
		}),
		Events:                services.NewKafkaClaimEvents(producer, cfg.KafkaClaimEventTopic),
		Notifier:              notifier,
		Locker:                cache.NewClaimLocker(redisClient, cfg.ClaimLockTTL, logger),
		EvidenceTimeout:       cfg.EvidenceTimeout,
		MaxConcurrentDisputes: cfg.MaxConcurrentDisputes,
	}
	if cfg.EvidenceServiceAddr != "" {
		orchCfg.Evidence = services.NewHTTPEvidenceAnalyzer(cfg.EvidenceServiceAddr, cfg.EvidenceTimeout)
	}
	if cfg.PODServiceAddr != "" {
		orchCfg.PODs = services.NewHTTPPODFetcher(cfg.PODServiceAddr, cfg.SubmissionTimeout)
	}
	orchestrator := services.NewOrchestrator(orchCfg)

	consumer, err := services.NewDisputeConsumer(services.DisputeConsumerConfig{
		Context:   ctx,
		Logger:    logger,
		Config:    cfg,
		Processor: orchestrator,
		DLQ:       producer,
	})
	if err != nil {
		logger.Fatal("failed to create kafka dispute consumer", zap.Error(err))
	}
	closeConsumer, err := consumer.Start()
	if err != nil {
		logger.Fatal("failed to subscribe to dispute topic", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server started", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	osSignal := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", osSignal.String()))

	cancel()
	closeConsumer()
	producer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
	logger.Info("service shutdown completed successfully")
}

// newArtifactStore prefers S3 when a bucket is configured.
func newArtifactStore(ctx context.Context, cfg *configs.Config) (services.ArtifactStore, error) {
	if cfg.ClaimsS3Bucket != "" {
		return artifacts.NewS3Store(ctx, artifacts.S3Config{
			Bucket:   cfg.ClaimsS3Bucket,
			Prefix:   cfg.ClaimsS3Prefix,
			Region:   cfg.ClaimsS3Region,
			Endpoint: cfg.ClaimsS3Endpoint,
		})
	}
	return artifacts.NewFileStore(cfg.ClaimsDir)
}
