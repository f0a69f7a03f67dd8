package configs

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds application configuration for recovery-worker.
type Config struct {
	MetricsAddr    string `mapstructure:"METRICS_ADDR" validate:"required"`
	KafkaBrokers   string `mapstructure:"KAFKA_BROKERS" validate:"required"`
	PrimaryDbAddr  string `mapstructure:"PRIMARY_DB_ADDR" validate:"required"`
	ReplicaDbAddr  string `mapstructure:"REPLICA_DB_ADDR"`
	MaxDbCons      int32  `mapstructure:"MAX_DB_CONNECTIONS" validate:"min=1"`
	MinDbCons      int32  `mapstructure:"MIN_DB_CONNECTIONS" validate:"min=1"`
	RedisAddr      string `mapstructure:"REDIS_ADDR" validate:"required"`
	KafkaPartition int    `mapstructure:"KAFKA_PARTITION" validate:"min=1"`

	KafkaDisputeTopic         string        `mapstructure:"KAFKA_DISPUTE_TOPIC" validate:"required"`
	KafkaDisputeRetention     time.Duration `mapstructure:"KAFKA_DISPUTE_RETENTION" validate:"required"`
	KafkaDisputeConsumerGroup string        `mapstructure:"KAFKA_DISPUTE_CONSUMER_GROUP" validate:"required"`
	KafkaDLQTopic             string        `mapstructure:"KAFKA_DLQ_TOPIC" validate:"required"`
	KafkaDLQRetention         time.Duration `mapstructure:"KAFKA_DLQ_RETENTION" validate:"required"`
	KafkaClaimEventTopic      string        `mapstructure:"KAFKA_CLAIM_EVENT_TOPIC" validate:"required"`
	KafkaNotificationTopic    string        `mapstructure:"KAFKA_NOTIFICATION_TOPIC" validate:"required"`
	KafkaEventRetention       time.Duration `mapstructure:"KAFKA_EVENT_RETENTION" validate:"required"`
	DisputeBatchSize          int           `mapstructure:"DISPUTE_BATCH_SIZE" validate:"min=1,max=500"`
	DisputeBatchLinger        time.Duration `mapstructure:"DISPUTE_BATCH_LINGER" validate:"required"`
	MaxConcurrentDisputes     int           `mapstructure:"MAX_CONCURRENT_DISPUTES" validate:"min=0"`

	ClaimsDir        string `mapstructure:"CLAIMS_DIR"`
	ClaimsS3Bucket   string `mapstructure:"CLAIMS_S3_BUCKET"`
	ClaimsS3Prefix   string `mapstructure:"CLAIMS_S3_PREFIX"`
	ClaimsS3Region   string `mapstructure:"CLAIMS_S3_REGION"`
	ClaimsS3Endpoint string `mapstructure:"CLAIMS_S3_ENDPOINT"`

	EvidenceServiceAddr string        `mapstructure:"EVIDENCE_SERVICE_ADDR"`
	EvidenceTimeout     time.Duration `mapstructure:"EVIDENCE_TIMEOUT" validate:"required"`
	PODServiceAddr      string        `mapstructure:"POD_SERVICE_ADDR"`
	// Comma separated carrier=url pairs, e.g. "dhl=http://dhl-claims:8080,ups=http://ups:8080".
	CarrierAPIEndpoints  string        `mapstructure:"CARRIER_API_ENDPOINTS"`
	PortalAutomationAddr string        `mapstructure:"PORTAL_AUTOMATION_ADDR"`
	PortalCarriers       string        `mapstructure:"PORTAL_CARRIERS"`
	PortalRateLimit      int           `mapstructure:"PORTAL_RATE_LIMIT" validate:"min=0"`
	PortalRateWindow     time.Duration `mapstructure:"PORTAL_RATE_WINDOW" validate:"required"`
	SubmissionTimeout    time.Duration `mapstructure:"SUBMISSION_TIMEOUT" validate:"required"`
	ClaimLockTTL         time.Duration `mapstructure:"CLAIM_LOCK_TTL" validate:"required"`
	OperatorEmail        string        `mapstructure:"OPERATOR_EMAIL" validate:"omitempty,email"`
	RetryBaseBackoff     time.Duration `mapstructure:"RETRY_BASE_BACKOFF" validate:"required"`
	MaxRetryBackoff      time.Duration `mapstructure:"MAX_RETRY_BACKOFF" validate:"required"`
	// ShutdownDrainTimeout is how long an in-flight batch may keep running after shutdown starts.
	ShutdownDrainTimeout time.Duration `mapstructure:"SHUTDOWN_DRAIN_TIMEOUT" validate:"required"`
}

func Load(logger *zap.Logger) (*Config, error) {
	viper.SetEnvPrefix("app")
	viper.AutomaticEnv()

	viper.SetDefault("KAFKA_PARTITION", "4")
	viper.SetDefault("MAX_DB_CONNECTIONS", "10")
	viper.SetDefault("MIN_DB_CONNECTIONS", "2")
	viper.SetDefault("KAFKA_DISPUTE_TOPIC", "recovery.disputes")
	viper.SetDefault("KAFKA_DISPUTE_RETENTION", "168h")
	viper.SetDefault("KAFKA_DISPUTE_CONSUMER_GROUP", "recovery-worker")
	viper.SetDefault("KAFKA_DLQ_TOPIC", "recovery.disputes.dlq")
	viper.SetDefault("KAFKA_DLQ_RETENTION", "720h")
	viper.SetDefault("KAFKA_CLAIM_EVENT_TOPIC", "recovery.claim-events")
	viper.SetDefault("KAFKA_NOTIFICATION_TOPIC", "recovery.notifications")
	viper.SetDefault("KAFKA_EVENT_RETENTION", "168h")
	viper.SetDefault("DISPUTE_BATCH_SIZE", "50")
	viper.SetDefault("DISPUTE_BATCH_LINGER", "500ms")
	viper.SetDefault("MAX_CONCURRENT_DISPUTES", "16")
	viper.SetDefault("CLAIMS_DIR", "data/claims")
	viper.SetDefault("CLAIMS_S3_REGION", "eu-west-3")
	viper.SetDefault("EVIDENCE_TIMEOUT", "20s")
	viper.SetDefault("PORTAL_RATE_LIMIT", "30")
	viper.SetDefault("PORTAL_RATE_WINDOW", "1m")
	viper.SetDefault("SUBMISSION_TIMEOUT", "30s")
	viper.SetDefault("CLAIM_LOCK_TTL", "5m")
	viper.SetDefault("RETRY_BASE_BACKOFF", "500ms")
	viper.SetDefault("MAX_RETRY_BACKOFF", "30s")
	viper.SetDefault("SHUTDOWN_DRAIN_TIMEOUT", "45s")

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
	viper.AddConfigPath("./services/recovery-worker/configs")
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

// CarrierAPIs parses CarrierAPIEndpoints into carrier -> base URL.
func (c *Config) CarrierAPIs() map[string]string {
	out := make(map[string]string)
	for _, pair := range splitList(c.CarrierAPIEndpoints) {
		carrier, url, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(carrier) == "" || strings.TrimSpace(url) == "" {
			continue
		}
		out[strings.TrimSpace(carrier)] = strings.TrimSpace(url)
	}
	return out
}

// PortalCarrierList is the set of carriers the portal automation service can handle.
func (c *Config) PortalCarrierList() []string {
	return splitList(c.PortalCarriers)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
