package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/detection"
	kafkautils "github.com/nimeshabuddhika/parcel-recovery/pkg/kafka"
	middleware "github.com/nimeshabuddhika/parcel-recovery/pkg/middlewares"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/prediction"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/rules"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
	"github.com/nimeshabuddhika/parcel-recovery/services/detection-api/configs"
	"github.com/nimeshabuddhika/parcel-recovery/services/detection-api/internal/handlers"
	"github.com/nimeshabuddhika/parcel-recovery/services/detection-api/internal/services"
	"go.uber.org/zap"
)

// NewApp wires dependencies, builds the Gin engine, and returns an *http.Server and a cleanup func.
// It reads configuration from environment variables via configs.Load.
func NewApp(ctx context.Context, logger *zap.Logger) (*http.Server, func(), error) {
	cfg, err := configs.Load(logger)
	if err != nil {
		return nil, nil, err
	}

	ruleSet := rules.Default()
	if cfg.RulesFile != "" {
		if ruleSet, err = rules.LoadFile(logger, ruleSet, cfg.RulesFile); err != nil {
			return nil, nil, err
		}
		logger.Info("custom rules loaded", zap.String("file", cfg.RulesFile), zap.Int("rules", len(ruleSet)))
	}

	var predictor prediction.Predictor = prediction.NewCoefficientPredictor()
	if cfg.PredictorEndpoint != "" {
		predictor = prediction.NewHTTPPredictor(prediction.HTTPPredictorConfig{
			Logger:        logger,
			Endpoint:      cfg.PredictorEndpoint,
			RatePerSec:    cfg.PredictorRatePerSec,
			ClientOptions: []utils.ClientOption{utils.WithClientTimeout(cfg.PredictorTimeout)},
		})
	}

	engine := detection.NewEngine(detection.EngineConfig{
		Logger:    logger,
		Rules:     ruleSet,
		Predictor: predictor,
		ROI: detection.ROIConfig{
			SuccessFeeRate:   cfg.SuccessFeeRate,
			CostPerCase:      cfg.CostPerCase,
			HumanCostPerCase: cfg.HumanCostPerCase,
		},
		Workers: cfg.Workers,
	})

	err = kafkautils.InitKafkaTopics(ctx, logger, kafkautils.KafkaConfig{
		BootstrapServers: cfg.KafkaBrokers,
		Topics: []kafkautils.TopicConfig{
			kafkautils.Topic(cfg.KafkaDisputeTopic, cfg.KafkaPartition, cfg.KafkaDisputeRetention),
		},
	})
	if err != nil {
		return nil, nil, err
	}
	producer, err := kafkautils.NewJSONProducer(kafkautils.ProducerConfig{Logger: logger, BootstrapServers: cfg.KafkaBrokers})
	if err != nil {
		return nil, nil, err
	}

	publisher := services.NewKafkaDisputePublisher(logger, producer, cfg.KafkaDisputeTopic)
	r := NewRouter(
		handlers.NewBaseHandler(logger),
		handlers.NewDetectionHandler(logger, engine, publisher, cfg.MaxAuditOrders),
	)

	srv := &http.Server{Addr: fmt.Sprintf(":%s", cfg.Port), Handler: r}
	cleanup := func() {
		producer.Close()
	}
	return srv, cleanup, nil
}

// NewRouter mounts the API under /api/v1 behind the trace and metrics middleware.
func NewRouter(base *handlers.BaseHandler, detectionHandler *handlers.DetectionHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	api.Use(middleware.Metrics())

	detectionHandler.RegisterRoutes(api)
	base.RegisterRoutes(r)
	return r
}
