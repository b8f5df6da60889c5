package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"go-receipt-forensics/internal/config"
	"go-receipt-forensics/internal/factory"
	"go-receipt-forensics/internal/logger"
	"go-receipt-forensics/internal/notary"
	"go-receipt-forensics/internal/ocr"
	"go-receipt-forensics/internal/pipeline"
	"go-receipt-forensics/internal/progress"
	"go-receipt-forensics/internal/queue"
	"go-receipt-forensics/internal/repository"
	"go-receipt-forensics/internal/service"
	"go-receipt-forensics/internal/storage"
	"go-receipt-forensics/internal/transport"
	"go-receipt-forensics/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config  *config.Config
	logger  *logrus.Logger
	awsCfg  *aws.Config
	service service.VerificationService
	handler http.Handler
	closers []func() error
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	logger.SetLevel(cfg.Log.Level)
	c := &Container{config: cfg, logger: logger.Logger}

	if needsAWS(cfg) {
		awsCfg, err := loadAWSConfig(cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		c.awsCfg = &awsCfg
	}

	var s3Client storage.S3API
	if c.awsCfg != nil && (cfg.Storage.S3Bucket != "" || cfg.Storage.ArchiveBucket != "") {
		s3Client = storage.NewS3Client(*c.awsCfg)
	}
	components := factory.NewComponentFactory(cfg, s3Client)

	detectors, err := components.DetectorFactory.CreateDetectors(cfg.Analysis)
	if err != nil {
		return nil, err
	}
	router, err := factory.BuildRouter(components.StorageFactory)
	if err != nil {
		return nil, err
	}

	var collaborators []pipeline.Collaborator
	if cfg.OCR.Enabled {
		collaborators = append(collaborators, ocr.NewTesseractCollaborator(cfg.OCR.Language))
	}
	pipelineOpts := factory.PipelineOptions(cfg)
	orchestrator := pipeline.NewOrchestrator(detectors, pipelineOpts,
		pipeline.WithCollaborators(collaborators...),
		pipeline.WithLogger(c.logger),
	)

	repo, err := c.repository(cfg.Database)
	if err != nil {
		c.Close()
		return nil, err
	}

	deps := service.Dependencies{
		Orchestrator: orchestrator,
		Source:       router,
		Repository:   repo,
		Sinks:        c.sinks(cfg.Progress),
		Retry: progress.RetryPolicy{
			MaxAttempts: cfg.Progress.MaxAttempts,
			Backoff:     cfg.Progress.Backoff,
			Timeout:     progress.DefaultRetryPolicy().Timeout,
		},
		Logger:    c.logger,
		Workers:   cfg.Analysis.MaxConcurrent,
		QueueSize: cfg.Analysis.QueueSize,
	}
	if s3Client != nil && cfg.Storage.ArchiveBucket != "" {
		deps.Archive = storage.NewS3Archive(s3Client, cfg.Storage.ArchiveBucket)
	}
	if cfg.Notary.URL != "" {
		deps.Notary = notary.NewClient(cfg.Notary.URL, cfg.Notary.Timeout, cfg.Notary.MaxRetries,
			notary.WithLogger(c.logger))
	}

	c.service = service.NewVerificationService(deps)
	c.closers = append(c.closers, func() error { c.service.Close(); return nil })
	c.handler = transport.NewHandler(c.service, validation.NewRequestValidator(), cfg)

	c.logger.WithFields(logrus.Fields{
		"detectors":       len(detectors),
		"schemes":         router.Schemes(),
		"ocr":             cfg.OCR.Enabled,
		"database":        cfg.Database.Driver,
		"scoring_version": pipelineOpts.Scoring.Version(),
	}).Info("Container initialized")
	return c, nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Storage.S3Bucket != "" || cfg.Storage.ArchiveBucket != "" ||
		cfg.Progress.DynamoTable != "" || cfg.Queue.URL != ""
}

func loadAWSConfig(cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: cfg.Region}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	return awsconfig.LoadDefaultConfig(context.Background(), opts...)
}

func (c *Container) repository(cfg config.DatabaseConfig) (repository.RunRepository, error) {
	if cfg.Driver == "" {
		c.logger.Warn("No database configured, verification results are kept in memory")
		return repository.NewMemoryRunRepository(), nil
	}
	db, err := repository.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		c.closers = append(c.closers, sqlDB.Close)
	}
	return repository.NewGormRunRepository(db), nil
}

func (c *Container) sinks(cfg config.ProgressConfig) []progress.Sink {
	var sinks []progress.Sink
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		c.closers = append(c.closers, rdb.Close)
		sinks = append(sinks, progress.NewRedisSink(rdb, cfg.ChannelPrefix))
	}
	if cfg.DynamoTable != "" && c.awsCfg != nil {
		sinks = append(sinks, progress.NewDynamoSink(dynamodb.NewFromConfig(*c.awsCfg), cfg.DynamoTable, c.logger))
	}
	return sinks
}

// Consumer builds the SQS consumer for the worker binary.
func (c *Container) Consumer() (*queue.Consumer, error) {
	if c.config.Queue.URL == "" || c.awsCfg == nil {
		return nil, fmt.Errorf("queue url is not configured")
	}
	client := queue.NewSQSClient(sqs.NewFromConfig(*c.awsCfg))
	return queue.NewConsumer(client, c.config.Queue.URL, c.service, queue.Options{
		BatchSize:         int32(c.config.Queue.BatchSize),
		WaitTime:          c.config.Queue.WaitTime,
		VisibilityTimeout: c.config.Queue.VisibilityTimeout,
	}, c.logger), nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Service returns the verification service
func (c *Container) Service() service.VerificationService {
	return c.service
}

// Close drains the service and releases connections, newest first.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.WithError(err).Warn("Error while closing dependency")
		}
	}
	c.closers = nil
}
