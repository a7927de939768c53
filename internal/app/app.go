// Package app wires the reconciler from configuration. Both the HTTP server
// and the Lambda entry point build on it.
package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/config"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/lock"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/metrics"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/migration"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/repository"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/server"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/service"
	awspkg "github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/pkg/aws"
)

type App struct {
	Config     *config.Config
	Reconciler *service.Reconciler
	Archiver   server.Archiver
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry

	logger  *zap.Logger
	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewMetrics(a.Registry)

	store, directory, err := a.buildStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var redisRepo *repository.RedisRepository
	if cfg.RedisEnabled() {
		redisRepo = repository.NewRedisRepository(cfg)
		a.closers = append(a.closers, redisRepo.Close)
		if err := redisRepo.Ping(ctx); err != nil {
			a.Close()
			return nil, err
		}
		directory = repository.NewCachedDirectory(directory, redisRepo, cfg.OwnerCacheTTL, logger)
		logger.Info("channel owner cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.OwnerCacheTTL))
	}

	var locker lock.Locker
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		if redisRepo == nil {
			a.Close()
			return nil, fmt.Errorf("LOCK_BACKEND=redis requires REDIS_ADDR")
		}
		locker = lock.NewRedisLocker(redisRepo.Client(), cfg.LockTTL, logger)
	case config.LockBackendLocal, "":
		locker = lock.NewKeyedMutex()
	default:
		a.Close()
		return nil, fmt.Errorf("unknown LOCK_BACKEND %q", cfg.LockBackend)
	}

	var opts []service.Option
	if cfg.KinesisStreamName != "" || cfg.S3ArchiveBucket != "" {
		sess, err := awspkg.NewSession(cfg.AWSRegion, "")
		if err != nil {
			a.Close()
			return nil, err
		}
		if cfg.KinesisStreamName != "" {
			opts = append(opts, service.WithPublisher(awspkg.NewKinesisPublisher(sess, cfg.KinesisStreamName, logger)))
			logger.Info("session change publishing enabled", zap.String("stream", cfg.KinesisStreamName))
		}
		if cfg.S3ArchiveBucket != "" {
			a.Archiver = awspkg.NewS3Archiver(sess, cfg.S3ArchiveBucket, logger)
			logger.Info("failed envelope archive enabled", zap.String("bucket", cfg.S3ArchiveBucket))
		}
	}

	a.Reconciler = service.NewReconciler(directory, metrics.InstrumentStore(store, a.Metrics), locker, logger, opts...)
	return a, nil
}

func (a *App) buildStore(ctx context.Context) (repository.SessionStore, repository.ChannelDirectory, error) {
	switch a.Config.StoreBackend {
	case config.StoreBackendMemory:
		a.logger.Warn("using in-memory session store, state is lost on restart")
		mem := repository.NewMemoryStore()
		for channelArn, ownerID := range a.Config.MemoryChannelOwners {
			mem.PutOwner(channelArn, ownerID)
		}
		return mem, mem, nil
	case config.StoreBackendDynamoDB, "":
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", a.Config.StoreBackend)
	}

	sess, err := awspkg.NewSession(a.Config.AWSRegion, a.Config.DynamoDBEndpoint)
	if err != nil {
		return nil, nil, err
	}
	db := dynamodb.New(sess)

	if a.Config.AutoMigrate {
		if err := migration.NewDynamoDBMigrator(db, a.Config, a.logger).CreateTables(ctx); err != nil {
			return nil, nil, err
		}
	}

	a.logger.Info("using DynamoDB session store",
		zap.String("sessions_table", a.Config.SessionsTableName),
		zap.String("channels_table", a.Config.ChannelsTableName),
	)
	return repository.NewDynamoDBRepository(db, a.Config, a.logger), repository.NewDynamoDBDirectory(db, a.Config), nil
}

// Close releases connections opened by New.
func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("error during shutdown", zap.Error(err))
		}
	}
	a.closers = nil
}
