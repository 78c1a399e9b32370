package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the dataset ingestion service.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Kafka   KafkaConfig
	Storage StorageConfig
	Tracing TracingConfig
	Upload  UploadConfig
	Audit   AuditConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"dataset-ingestion"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type KafkaConfig struct {
	Enabled          bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	IngestionTopic   string        `env:"KAFKA_INGESTION_TOPIC" envDefault:"datasets.ingested"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"1"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"100ms"`
}

// StorageConfig selects where dataset versions are written. The local provider
// writes under DatasetsDir; minio and s3 write into Bucket.
type StorageConfig struct {
	Provider    string `env:"STORAGE_PROVIDER" envDefault:"local"`
	DatasetsDir string `env:"DATASETS_DIR" envDefault:"datasets"`
	Endpoint    string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region      string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket      string `env:"STORAGE_BUCKET" envDefault:"datasets"`
	AccessKey   string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey   string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL      bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=datasets"`
}

type UploadConfig struct {
	MaxSizeBytes      int64 `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"10485760"`
	MultipartMemBytes int64 `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"8388608"`
}

type AuditConfig struct {
	Path          string `env:"AUDIT_LOG_PATH" envDefault:"brain_audit.log"`
	Level         string `env:"AUDIT_LOG_LEVEL" envDefault:"info"`
	ExcerptLength int    `env:"AUDIT_QUERY_EXCERPT" envDefault:"50"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Upload.MaxSizeBytes <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_SIZE_BYTES must be positive, got %d", c.Upload.MaxSizeBytes))
	}
	if c.Audit.ExcerptLength <= 0 {
		errs = append(errs, fmt.Errorf("AUDIT_QUERY_EXCERPT must be positive, got %d", c.Audit.ExcerptLength))
	}
	if c.Audit.Path == "" {
		errs = append(errs, errors.New("AUDIT_LOG_PATH must be set"))
	}
	switch c.Storage.Provider {
	case "local":
		if c.Storage.DatasetsDir == "" {
			errs = append(errs, errors.New("DATASETS_DIR must be set for the local provider"))
		}
	case "minio", "s3":
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("STORAGE_BUCKET must be set for object storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_PROVIDER: %s", c.Storage.Provider))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must be set when KAFKA_ENABLED is true"))
	}
	return errors.Join(errs...)
}
