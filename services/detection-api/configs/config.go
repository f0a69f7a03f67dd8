package configs

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for detection-api.
type Config struct {
	Port           string `mapstructure:"PORT" validate:"required"`
	KafkaBrokers   string `mapstructure:"KAFKA_BROKERS" validate:"required"`
	KafkaPartition int    `mapstructure:"KAFKA_PARTITION" validate:"min=1"`

	KafkaDisputeTopic     string        `mapstructure:"KAFKA_DISPUTE_TOPIC" validate:"required"`
	KafkaDisputeRetention time.Duration `mapstructure:"KAFKA_DISPUTE_RETENTION" validate:"required"`

	// RulesFile is an optional YAML file of custom rules appended to the built-ins.
	RulesFile string `mapstructure:"RULES_FILE"`
	// PredictorEndpoint switches from the built-in coefficient model to the remote scorer.
	PredictorEndpoint   string        `mapstructure:"PREDICTOR_ENDPOINT" validate:"omitempty,url"`
	PredictorRatePerSec int           `mapstructure:"PREDICTOR_RATE_PER_SEC" validate:"min=0"`
	PredictorTimeout    time.Duration `mapstructure:"PREDICTOR_TIMEOUT" validate:"required"`

	SuccessFeeRate   float64 `mapstructure:"SUCCESS_FEE_RATE" validate:"gte=0,lte=1"`
	CostPerCase      float64 `mapstructure:"COST_PER_CASE" validate:"gte=0"`
	HumanCostPerCase float64 `mapstructure:"HUMAN_COST_PER_CASE" validate:"gte=0"`
	Workers          int     `mapstructure:"WORKERS" validate:"min=1"`
	MaxAuditOrders   int     `mapstructure:"MAX_AUDIT_ORDERS" validate:"min=1"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("KAFKA_DISPUTE_TOPIC", "recovery.disputes")
	viper.SetDefault("KAFKA_DISPUTE_RETENTION", "168h")
	viper.SetDefault("PREDICTOR_RATE_PER_SEC", "50")
	viper.SetDefault("PREDICTOR_TIMEOUT", "2s")
	viper.SetDefault("SUCCESS_FEE_RATE", "0.20")
	viper.SetDefault("COST_PER_CASE", "0.50")
	viper.SetDefault("HUMAN_COST_PER_CASE", "30")
	viper.SetDefault("WORKERS", "8")
	viper.SetDefault("MAX_AUDIT_ORDERS", "10000")

	if gin.ReleaseMode == gin.Mode() {
		viper.SetConfigName("config.prod")
	} else if gin.TestMode == gin.Mode() {
		logger.Warn("running_in_test_mode")
		viper.SetConfigName("config.test")
	} else {
		logger.Warn("running_in_development_mode")
		viper.SetConfigName("config.dev")
	}
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./services/detection-api/configs")
	_ = viper.ReadInConfig() // optional

	var cfg Config
	if err := utils.ParseStructEnv(&cfg); err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, utils.FormatConfigErrors(logger, err, cfg)
	}
	return &cfg, nil
}
