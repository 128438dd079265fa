package botapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akovalev/groupwarden/internal/config"
	"github.com/akovalev/groupwarden/internal/infra/metrics"
	tginfra "github.com/akovalev/groupwarden/internal/infra/telegram"
	"github.com/akovalev/groupwarden/internal/jobs/prune"
	filerepo "github.com/akovalev/groupwarden/internal/repo/file"
	redisrepo "github.com/akovalev/groupwarden/internal/repo/redis"
	"github.com/akovalev/groupwarden/internal/services/authcache"
	"github.com/akovalev/groupwarden/internal/services/dispatch"
	"github.com/akovalev/groupwarden/internal/services/ledger"
	"github.com/akovalev/groupwarden/internal/services/membership"
	"github.com/akovalev/groupwarden/internal/services/policy"
)

type App struct {
	cfg      config.Config
	logger   *zap.Logger
	gateway  *tginfra.Gateway
	redis    *goredis.Client
	router   *Router
	pruneJob *prune.Job
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	gateway, err := tginfra.NewGateway(cfg.Bot.Token, logger)
	if err != nil {
		return nil, fmt.Errorf("init telegram gateway: %w", err)
	}
	selfID := string(gateway.SelfID())
	if cfg.Bot.SelfID != "" {
		selfID = cfg.Bot.SelfID
	}

	store, err := filerepo.NewDocumentStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init document store: %w", err)
	}

	policySvc, err := policy.NewService(filerepo.NewPolicyRepo(store))
	if err != nil {
		return nil, fmt.Errorf("init policy service: %w", err)
	}

	var redisClient *goredis.Client
	var counterStore ledger.CounterStore
	switch cfg.Storage.CounterBackend {
	case config.CounterBackendRedis:
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		counterStore = redisrepo.NewLedgerRepo(redisClient)
	default:
		counterStore = filerepo.NewLedgerRepo(store)
	}
	ledgerSvc := ledger.NewService(counterStore)

	authSvc := authcache.NewService(gateway, selfID, cfg.Guard.CacheCapacity, cfg.Guard.CacheTTL, logger)

	memberSvc := membership.NewService(authSvc, gateway, gateway, gateway, gateway, selfID, membership.Config{
		ChunkSize:    cfg.Batch.ChunkSize,
		ChunkPacing:  cfg.Batch.ChunkPacing,
		RemovePacing: cfg.Batch.RemovePacing,
	}, logger)

	dispatchSvc := dispatch.NewService(authSvc, policySvc, ledgerSvc, memberSvc, gateway, gateway, gateway, gateway, logger)

	router := NewRouter(memberSvc, policySvc, ledgerSvc, dispatchSvc, authSvc, gateway, gateway, logger)
	pruneJob := prune.New(policySvc, ledgerSvc, gateway, cfg.Prune.WarnResetInterval, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		gateway:  gateway,
		redis:    redisClient,
		router:   router,
		pruneJob: pruneJob,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started")

	errCh := make(chan error, 3)
	go func() {
		errCh <- a.runPruneLoop(ctx)
	}()
	if a.cfg.Metrics.Addr != "" {
		go func() {
			errCh <- a.runMetricsListener(ctx)
		}()
	}
	go func() {
		errCh <- a.gateway.Listen(ctx, tginfra.Handlers{
			OnCommand:     a.router.OnCommand,
			OnViolation:   a.router.OnViolation,
			OnDemotion:    a.router.OnDemotion,
			OnJoinRequest: a.router.OnJoinRequest,
		})
	}()

	for {
		select {
		case <-ctx.Done():
			a.Close()
			a.logger.Info("bot app stopped")
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			a.Close()
			return err
		}
	}
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func (a *App) runPruneLoop(ctx context.Context) error {
	interval := a.cfg.Prune.Interval
	if interval <= 0 {
		interval = 12 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.pruneJob.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("prune sweep failed", zap.Error(err))
			}
		}
	}
}

func (a *App) runMetricsListener(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("metrics listener started", zap.String("addr", a.cfg.Metrics.Addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
