package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/datasetingest/internal/ingestion"
	"github.com/your-org/datasetingest/pkg/audit"
	"github.com/your-org/datasetingest/pkg/config"
	"github.com/your-org/datasetingest/pkg/kafka"
	"github.com/your-org/datasetingest/pkg/logger"
	"github.com/your-org/datasetingest/pkg/storage/local"
	"github.com/your-org/datasetingest/pkg/storage/objectstore"
	"github.com/your-org/datasetingest/pkg/storage/versioned"
	"github.com/your-org/datasetingest/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(logger.Options{
		Level:       cfg.App.LogLevel,
		Service:     cfg.App.Name,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	sink, err := audit.Init(audit.Config{
		Path:          cfg.Audit.Path,
		Level:         cfg.Audit.Level,
		ExcerptLength: cfg.Audit.ExcerptLength,
	})
	if err != nil {
		logr.Fatal("init audit log", zap.Error(err))
	}
	defer sink.Close() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  tracing.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	backend, err := newBackend(ctx, cfg.Storage)
	if err != nil {
		logr.Fatal("init dataset storage", zap.Error(err))
	}

	params := ingestion.Params{
		Validator: ingestion.NewValidator(cfg.Upload.MaxSizeBytes),
		Store:     versioned.New(backend, logr.Named("versioned")),
		Audit:     sink,
		Logger:    logr,
	}
	if cfg.Kafka.Enabled {
		params.Publisher = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.IngestionTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Kafka.Retries,
		})
	}
	service := ingestion.NewService(params)

	handler := ingestion.NewHTTPHandler(service, logr, cfg.Upload.MultipartMemBytes)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		if err := service.Close(shutdownCtx); err != nil {
			logr.Error("service shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("ingestion service starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.Int64("max_upload_bytes", cfg.Upload.MaxSizeBytes),
		zap.String("audit_log", cfg.Audit.Path),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server failed", zap.Error(err))
	}
}

func newBackend(ctx context.Context, cfg config.StorageConfig) (versioned.Backend, error) {
	switch cfg.Provider {
	case "local":
		return local.New(cfg.DatasetsDir)
	case "minio", "s3":
		return objectstore.New(ctx, objectstore.Config{
			Provider:  cfg.Provider,
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}
