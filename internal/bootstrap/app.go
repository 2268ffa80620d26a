package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lecture-ingest/internal/ai"
	"lecture-ingest/internal/app"
	"lecture-ingest/internal/cache"
	"lecture-ingest/internal/config"
	"lecture-ingest/internal/ingest"
	"lecture-ingest/internal/model"
	mysqlClient "lecture-ingest/internal/platform/mysql"
	rabbitmqClient "lecture-ingest/internal/platform/rabbitmq"
	redisClient "lecture-ingest/internal/platform/redis"
	"lecture-ingest/internal/processor"
	"lecture-ingest/internal/repository"
	"lecture-ingest/internal/storage"
	"lecture-ingest/internal/vectorindex"
	"lecture-ingest/internal/vision"
	"lecture-ingest/internal/worker"
	"lecture-ingest/internal/workspace"
)

type App struct {
	Config *config.Config
	Logger *logrus.Logger
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Materials    *app.MaterialService
	Orchestrator *ingest.Orchestrator
	Statuses     *cache.IngestionStatusCache
	Synchronizer *vectorindex.Synchronizer
	RetryWorker  *worker.IndexRetryWorker
	Classifier   *vision.Classifier

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger := NewLogger(cfg.Log)

	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// NewLogger builds the process logger from config.
func NewLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	db, err := mysqlClient.New(ctx, cfg.MySQLDSN(), a.Logger)
	if err != nil {
		return err
	}
	a.MySQL = db
	if err := db.AutoMigrate(&model.LectureMaterial{}, &model.IndexTask{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}

	a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	return err
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	uploads, err := newUploadStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	aiClient := ai.NewOpenAICompatibleClient()
	publisher := rabbitmqClient.NewIndexTaskPublisher(a.MQConn, cfg.RabbitMQ.IndexRetryQueue)
	a.Synchronizer = vectorindex.NewSynchronizer(
		aiClient,
		ai.EmbeddingConfig{BaseURL: cfg.LLM.BaseURL, APIKey: cfg.LLM.APIKey, Model: cfg.LLM.EmbeddingModel},
		vectorindex.NewClient(cfg.VectorIndex.Host, cfg.VectorIndex.APIKey, cfg.VectorIndex.Namespace, cfg.VectorIndexTimeout()),
		repository.NewIndexTaskRepository(a.MySQL),
		publisher,
		vectorindex.WithLogger(a.Logger),
		vectorindex.WithMaxAttempts(cfg.VectorIndex.MaxAttempts),
	)

	a.Materials = app.NewMaterialService(repository.NewLectureMaterialRepository(a.MySQL), uploads, a.Synchronizer, a.Logger)
	a.Statuses = cache.NewIngestionStatusCache(a.Redis, cfg.StatusTTL())

	a.Classifier = vision.NewClassifier(cfg.Vision.ModelPath, cfg.Vision.LabelsPath, cfg.Vision.ONNXSharedLibPath, cfg.Vision.TopK)
	captioner := vision.NewLabelCaptioner(a.Classifier)
	ffmpeg := processor.NewFFmpeg(cfg.Processing.FFmpegPath)
	procs := ingest.Processors{
		Decoder: ffmpeg,
		Transcriber: processor.NewWhisperTranscriber(aiClient, ai.TranscriptionConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.TranscriptionModel,
		}),
		Images: processor.NewPDFImageCaptioner(cfg.Processing.PDFImagesPath, captioner),
		Frames: processor.NewVideoFrameCaptioner(ffmpeg, captioner),
		Text:   processor.NewTextNormalizer(cfg.Processing.ChunkSize, cfg.Processing.ChunkOverlap),
	}

	opts := []ingest.Option{
		ingest.WithLogger(a.Logger),
		ingest.WithStatusTracker(a.Statuses),
		ingest.WithProcessorTimeout(cfg.ProcessorTimeout()),
		ingest.WithFrameInterval(cfg.Processing.FrameIntervalSeconds),
	}
	if cfg.Processing.Parallel {
		opts = append(opts, ingest.WithParallelProcessors(cfg.Processing.PoolSize))
	}
	a.Orchestrator, err = ingest.NewOrchestrator(a.Materials, workspace.NewManager(cfg.Workspace.Root), procs, a.Synchronizer, opts...)
	if err != nil {
		return fmt.Errorf("build orchestrator failed: %w", err)
	}

	a.RetryWorker = worker.NewIndexRetryWorker(a.MQConn, a.Synchronizer, cfg.RabbitMQ.IndexRetryQueue, cfg.IndexRetryDelay(), a.Logger)
	if err := a.RetryWorker.Start(ctx); err != nil {
		return fmt.Errorf("start index retry worker failed: %w", err)
	}
	if _, err := a.Synchronizer.ResumePending(ctx); err != nil {
		a.Logger.WithError(err).Warn("resume pending index tasks failed")
	}
	return nil
}

func newUploadStore(ctx context.Context, cfg config.StorageConfig) (app.UploadStore, error) {
	if cfg.Backend == "minio" {
		return storage.NewMinIOStore(ctx, storage.MinIOConfig{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			BucketName:      cfg.MinIO.BucketName,
			UseSSL:          cfg.MinIO.UseSSL,
		})
	}
	return storage.NewLocalStore(cfg.UploadDir)
}

func (a *App) Close() error {
	var closeErr error
	if a.RetryWorker != nil {
		a.RetryWorker.Close()
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Release()
	}
	if a.Classifier != nil {
		a.Classifier.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
