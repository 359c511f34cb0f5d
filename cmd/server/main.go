// Command refkeeper-server serves the referral API, the ops health listener
// and the background janitor.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/refkeeper/internal/cache"
	"github.com/and161185/refkeeper/internal/codegen"
	"github.com/and161185/refkeeper/internal/config"
	pkgcrypto "github.com/and161185/refkeeper/internal/crypto"
	"github.com/and161185/refkeeper/internal/limiter"
	"github.com/and161185/refkeeper/internal/migrate"
	"github.com/and161185/refkeeper/internal/notify"
	"github.com/and161185/refkeeper/internal/repository"
	"github.com/and161185/refkeeper/internal/repository/memory"
	"github.com/and161185/refkeeper/internal/repository/postgres"
	grpcserver "github.com/and161185/refkeeper/internal/server/grpc"
	httpserver "github.com/and161185/refkeeper/internal/server/http"
	"github.com/and161185/refkeeper/internal/service"
	"github.com/and161185/refkeeper/internal/worker"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const (
	notifyConcurrency = 4
	notifyTimeout     = 10 * time.Second
	drainTimeout      = 10 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("opsAddr", cfg.OpsGRPCAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type storage struct {
	users     repository.UserRepository
	referrals repository.ReferralRepository
	rewards   repository.RewardRepository
	limiter   limiter.Limiter
	probe     worker.Pinger
	close     func()
}

func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage, error) {
	policy := limiter.Policy{Window: cfg.LoginWindow, MaxFails: cfg.LoginMaxFails, BlockFor: cfg.LoginBlock}

	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory storage")
		store := memory.New()
		return storage{
			users:     store,
			referrals: store.Referrals(),
			rewards:   store.Rewards(),
			limiter:   limiter.NewMemory(policy),
			probe:     store,
			close:     func() {},
		}, nil
	}

	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		return storage{}, fmt.Errorf("migrate up: %w", err)
	}
	if v, err := migrate.Version(ctx, cfg.DatabaseURL); err == nil {
		logger.Info("schema ready", zap.Int64("version", v))
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return storage{}, fmt.Errorf("pgxpool: %w", err)
	}
	users := postgres.NewUserRepo(db)
	return storage{
		users:     users,
		referrals: postgres.NewReferralRepo(db),
		rewards:   postgres.NewRewardRepo(db),
		limiter:   limiter.NewPG(db.Pool, policy),
		probe:     users,
		close:     db.Close,
	}, nil
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	probes := []worker.Pinger{st.probe}
	var (
		cacheStore cache.Store
		sweeper    worker.Sweeper
	)
	if cfg.RedisURL != "" {
		rdb, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		rs := cache.NewRedisStore(rdb)
		cacheStore = rs
		probes = append(probes, rs)
	} else {
		ms := cache.NewMemoryStore()
		cacheStore = ms
		sweeper = ms
	}
	respCache := cache.New(cacheStore, cfg.CacheTTL, logger)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.SMTPAddr != "" {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}
	dispatcher := notify.NewDispatcher(notifier, logger, notifyConcurrency, notifyTimeout)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			logger.Warn("notification drain incomplete", zap.Error(err))
		}
	}()

	referrals := service.NewReferralLedger(st.users, st.referrals)
	rewards := service.NewRewardLedger(st.rewards)
	pipeline := service.NewPipeline(st.users, codegen.New(st.users), referrals, rewards, respCache, dispatcher, logger)

	auth, err := service.NewAuthService(st.users, pkgcrypto.NewHasher(pkgcrypto.DefaultParams), st.limiter,
		respCache, dispatcher, service.AuthConfig{
			Secret:       []byte(cfg.JWTSecret),
			SessionTTL:   cfg.SessionTTL,
			ResetTTL:     cfg.ResetTTL,
			ResetURLBase: cfg.ResetURLBase,
		}, logger)
	if err != nil {
		return err
	}

	api, err := httpserver.New(auth, pipeline, referrals, rewards, respCache, logger, httpserver.Options{
		Development:    cfg.Development(),
		SecureCookies:  !cfg.Development(),
		CSRF:           cfg.CSRF,
		AllowedOrigins: cfg.AllowedOrigins,
		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return err
	}

	ops := grpcserver.NewOps(logger, cfg.Reflection)

	g, gctx := errgroup.WithContext(ctx)
	janitor, err := worker.New(gctx, worker.Deps{
		Cache:   sweeper,
		Limiter: st.limiter,
		Probes:  probes,
		Health:  ops,
		Settler: pipeline,
	}, worker.DefaultIntervals, logger)
	if err != nil {
		return err
	}

	g.Go(func() error {
		if err := api.Serve(gctx, cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := ops.ListenAndServe(gctx, cfg.OpsGRPCAddr); err != nil {
			return fmt.Errorf("ops grpc: %w", err)
		}
		return nil
	})
	g.Go(func() error { return janitor.Run(gctx) })

	return g.Wait()
}
