// Package control assembles the sync service: storage, cache tiers, the
// event bus, optimizers, recovery, and the orchestrator, plus the health
// endpoint. It owns startup and shutdown ordering.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/haunv/profilesync/internal/core/checkpoint"
	"github.com/haunv/profilesync/internal/core/config"
	"github.com/haunv/profilesync/internal/infra/fetch"
	redisclient "github.com/haunv/profilesync/internal/infra/redis"
	"github.com/haunv/profilesync/internal/infra/security"
	"github.com/haunv/profilesync/internal/infra/storage"
	"github.com/haunv/profilesync/internal/infra/storage/memory"
	"github.com/haunv/profilesync/internal/infra/storage/postgres"
	"github.com/haunv/profilesync/internal/syncing/bus"
	"github.com/haunv/profilesync/internal/syncing/cache"
	"github.com/haunv/profilesync/internal/syncing/health"
	"github.com/haunv/profilesync/internal/syncing/optimizer"
	"github.com/haunv/profilesync/internal/syncing/orchestrator"
	"github.com/haunv/profilesync/internal/syncing/recovery"
)

// Service is the assembled sync system.
type Service struct {
	cfg          *config.AppConfig
	orch         *orchestrator.Orchestrator
	bus          *bus.Bus
	cache        *cache.Cache
	batcher      *optimizer.Batcher
	healthServer *health.Server
	checkpoints  *checkpoint.Manager
	audit        storage.AuditRepository
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger

	cancel context.CancelFunc
}

// NewService wires the sync system from configuration. source and validator
// may be nil; the HTTP source and allow-all validator are used then.
func NewService(cfg *config.AppConfig, source fetch.Source, validator security.SessionValidator) (*Service, error) {
	// 1. Storage
	var (
		profileRepo    storage.ProfileRepository
		checkpointRepo storage.CheckpointRepository
		auditRepo      storage.AuditRepository
		db             *postgres.DB
	)

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Run migrations. Goose needs the direct *sql.DB that sqlx wraps.
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		profileRepo = postgres.NewProfileRepo(db)
		checkpointRepo = postgres.NewCheckpointRepo(db)
		auditRepo = postgres.NewAuditRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		profileRepo = memory.NewProfileRepo(store)
		checkpointRepo = memory.NewCheckpointRepo(store)
		auditRepo = memory.NewAuditRepo(store)
		slog.Info("Using Memory storage")
	}

	// 2. Remote cache tier (optional)
	var (
		redisClient *redisclient.Client
		remote      cache.RemoteTier
	)
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, remote cache tier disabled", "error", err)
		} else {
			remote = redisClient
		}
	}

	// 3. Cache with invalidation rules
	c := cache.New(cache.Config{
		MaxSizeBytes:         cfg.Cache.MaxSizeBytes,
		MaxEntries:           cfg.Cache.MaxEntries,
		Policy:               cache.ParsePolicy(cfg.Cache.Policy),
		CompressionThreshold: cfg.Cache.CompressionThreshold,
		DefaultTTL:           cfg.Cache.DefaultTTL,
	}, remote)
	for _, rule := range cache.DefaultRules() {
		c.RegisterRule(rule)
	}

	// 4. Event bus, optimizers, recovery
	eventBus := bus.New(0)
	batcher := optimizer.NewBatcher(optimizer.BatchConfig{
		Size:    cfg.Batch.Size,
		Timeout: cfg.Batch.Timeout,
	})
	dedup := optimizer.NewDeduplicator(cfg.Dedup.Window)
	checkpoints := checkpoint.NewManager(checkpointRepo)
	incremental := optimizer.NewIncremental(checkpoints)

	backoff := recovery.Backoff{
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	if backoff.MaxAttempts <= 0 {
		backoff = recovery.DefaultBackoff()
	}
	engine := recovery.NewEngine(backoff, c)

	// 5. Data source
	if source == nil {
		source = fetch.NewHTTPSource(cfg.Source.BaseURL, cfg.Source.APIKey, cfg.Source.Timeout)
	}

	// 6. Orchestrator
	orch := orchestrator.New(orchestrator.Config{
		AutoSyncEnabled:  cfg.Sync.AutoSyncEnabled,
		SyncInterval:     cfg.Sync.Interval,
		IdleThreshold:    cfg.Sync.IdleThreshold,
		CatchUpThreshold: cfg.Sync.CatchUpThreshold,
		HistoryLimit:     cfg.Sync.HistoryLimit,
	}, orchestrator.Deps{
		Source:      source,
		Cache:       c,
		Bus:         eventBus,
		Batcher:     batcher,
		Dedup:       dedup,
		Incremental: incremental,
		Recovery:    engine,
		Profiles:    profileRepo,
		Checkpoints: checkpoints,
		Validator:   validator,
		Audit:       security.NewLogSink(auditRepo),
	})

	// 7. Health endpoint
	healthMon := health.NewMonitor(orch, c)
	healthServer := health.NewServer(healthMon, cfg.Server.Port)

	return &Service{
		cfg:          cfg,
		orch:         orch,
		bus:          eventBus,
		cache:        c,
		batcher:      batcher,
		healthServer: healthServer,
		checkpoints:  checkpoints,
		audit:        auditRepo,
		db:           db,
		redisClient:  redisClient,
		log:          slog.Default(),
	}, nil
}

// Orchestrator exposes the sync orchestrator for callers driving triggers.
func (s *Service) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Bus exposes the event bus for subscribers.
func (s *Service) Bus() *bus.Bus { return s.bus }

// Cache exposes the cache for inspection.
func (s *Service) Cache() *cache.Cache { return s.cache }

// Checkpoints exposes the checkpoint manager.
func (s *Service) Checkpoints() *checkpoint.Manager { return s.checkpoints }

// Start starts the health server and background maintenance.
func (s *Service) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		if err := s.healthServer.Start(); err != nil {
			s.log.Error("Health server failed", "error", err)
		}
	}()

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	// Cross-instance invalidation: drop local entries other instances
	// invalidated. Discard stays local so the removal is not re-published.
	if s.redisClient != nil {
		err := s.redisClient.SubscribeInvalidations(ctx, func(key string) {
			s.cache.Discard(key)
		})
		if err != nil {
			s.log.Warn("Failed to subscribe to cache invalidations", "error", err)
		}
	}

	go s.runCacheSweeper(ctx)

	return nil
}

// Stop shuts the service down in reverse dependency order.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping sync service...")

	if s.cancel != nil {
		s.cancel()
	}

	s.orch.Stop()
	s.batcher.Close()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	return s.healthServer.Stop(ctx)
}

// runCacheSweeper lazily expires cache entries so idle caches do not hold
// dead data.
func (s *Service) runCacheSweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.cache.Sweep(); n > 0 {
				s.log.Debug("Swept expired cache entries", "count", n)
			}
		}
	}
}
