package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"opz-funnels/internal/api"
	"opz-funnels/internal/audit"
	awsclient "opz-funnels/internal/common/aws"
	"opz-funnels/internal/common/config"
	"opz-funnels/internal/common/database"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/draft"
	"opz-funnels/internal/notify"
)

// backends holds the storage clients selected by configuration.
type backends struct {
	drafts draft.Store
	audit  audit.Log
	checks map[string]api.Check
	closer []func() error
}

func (b *backends) Close() {
	for i := len(b.closer) - 1; i >= 0; i-- {
		_ = b.closer[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (*backends, error) {
	log := logger.NewZapAdapter(zapLog)
	b := &backends{checks: map[string]api.Check{}}

	needsRedis := cfg.Draft.Backend == "redis" || cfg.Audit.Backend == "redis"

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	if needsRedis {
		err := retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			return nil, err
		}
		b.closer = append(b.closer, redis.Close)
		b.checks["redis"] = redis.Ping
		zapLog.Info("Redis connected successfully")
	}

	switch cfg.Draft.Backend {
	case "redis":
		b.drafts = draft.NewRedisStore(redis.Client, config.GetDuration(cfg.Draft.TTL))
	default:
		b.drafts = draft.NewMemoryStore(cfg.Draft.QuotaBytes)
	}

	switch cfg.Audit.Backend {
	case "redis":
		b.audit = audit.NewRedisLog(redis.Client, cfg.Audit.Key, cfg.Audit.MaxEntries, log)

	case "postgres":
		// --- Init PostgreSQL with retry ---
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			return nil, err
		}
		b.closer = append(b.closer, pg.Close)
		b.checks["postgres"] = pg.Ping
		zapLog.Info("PostgreSQL connected successfully")

		pgLog, err := audit.NewPostgresLog(pg.DB, cfg.Audit.Table, cfg.Audit.MaxEntries)
		if err != nil {
			return nil, err
		}
		if err := pgLog.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		b.audit = pgLog

	default:
		b.audit = audit.NewMemoryLog(cfg.Audit.MaxEntries)
	}

	if cfg.Audit.Mirror.Enabled {
		// --- Init Elasticsearch with retry ---
		var es *database.ElasticsearchClient
		err := retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			return nil, err
		}
		b.checks["elasticsearch"] = es.Ping
		b.audit = audit.NewMirror(b.audit, es.Client, cfg.Audit.Mirror.Index, log)
		zapLog.Info("Elasticsearch audit mirror enabled", zap.String("index", cfg.Audit.Mirror.Index))
	}

	zapLog.Info("Storage backends ready",
		zap.String("draft", cfg.Draft.Backend),
		zap.String("audit", cfg.Audit.Backend),
	)
	return b, nil
}

// newNotifier builds the SNS/SES notifier, or a no-op when both are off.
func newNotifier(ctx context.Context, cfg *config.Config, log logger.Logger) (notify.Notifier, error) {
	aws := cfg.Integrations.AWS
	if !aws.SNS.Enabled && !aws.SES.Enabled {
		return notify.Nop{}, nil
	}

	var (
		snsAPI awsclient.SNSAPI
		sesAPI awsclient.SESAPI
	)
	if aws.SNS.Enabled {
		c, err := awsclient.NewSNSClient(ctx, aws.Region)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		snsAPI = c
	}
	if aws.SES.Enabled {
		c, err := awsclient.NewSESClient(ctx, aws.Region)
		if err != nil {
			return nil, fmt.Errorf("ses client: %w", err)
		}
		sesAPI = c
	}

	return notify.NewAWSNotifier(notify.Config{
		TopicARN:  aws.SNS.TopicARN,
		FromEmail: aws.SES.FromEmail,
		OpsEmail:  aws.SES.OpsEmail,
	}, snsAPI, sesAPI, log), nil
}
