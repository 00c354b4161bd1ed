package setup

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/storefront-dev/storefront/backend/internal/handler"
	"github.com/storefront-dev/storefront/backend/internal/service"
	"github.com/storefront-dev/storefront/backend/internal/storage/pg"
	"github.com/storefront-dev/storefront/backend/internal/utils/email"
	"github.com/storefront-dev/storefront/shared/blocklist"
	"github.com/storefront-dev/storefront/shared/config"
	"github.com/storefront-dev/storefront/shared/domain"
	jwt_internal "github.com/storefront-dev/storefront/shared/jwt"
	mw "github.com/storefront-dev/storefront/shared/middleware"
	"github.com/storefront-dev/storefront/shared/middleware/metrics"
	"github.com/storefront-dev/storefront/shared/middleware/ratelimiter"
)

// Storage is everything the services and the IP gate need from the datastore.
type Storage interface {
	service.AuthStorage
	service.AdminStorage
	service.GCStorage
	blocklist.Storage
	mw.BlockChecker
	handler.HealthChecker
}

// blockingStorage keeps the blocklist current on every block change made
// through this process and answers from it when the ledger lookup fails.
type blockingStorage struct {
	Storage
	blocks *blocklist.Cache
}

func (s blockingStorage) SetIPBlocked(ctx context.Context, ip domain.IP, blocked bool, maxAttempts int) error {
	if err := s.Storage.SetIPBlocked(ctx, ip, blocked, maxAttempts); err != nil {
		return err
	}
	s.blocks.Set(ip, blocked)
	return nil
}

func (s blockingStorage) IsIPBlocked(ctx context.Context, ip domain.IP) (bool, error) {
	blocked, err := s.Storage.IsIPBlocked(ctx, ip)
	if err != nil {
		cached, _ := s.blocks.IsIPBlocked(ctx, ip)
		return cached, err
	}
	return blocked, nil
}

// Limiters are the in-process flood guards on credential endpoints. They sit
// in front of the durable attempt ledger and do not replace it.
type Limiters struct {
	Mail        *ratelimiter.KeyedLimiter // endpoints that send email
	Credentials *ratelimiter.KeyedLimiter // login and password change
}

func DefaultLimiters() Limiters {
	return Limiters{
		Mail:        ratelimiter.PerMinute(5),
		Credentials: ratelimiter.PerMinute(20),
	}
}

// Dependencies struct to hold all initialized dependencies.
type Dependencies struct {
	Config         *config.Config
	Logger         *slog.Logger
	Storage        Storage
	Handler        *handler.Handler
	AuthMiddleware *mw.Auth
	GC             *service.SessionGarbageCollector
	Blocklist      *blocklist.Cache
	Metrics        *metrics.HTTP
	Limiters       Limiters
}

// Build wires services and handlers around an already opened storage. The
// blocklist starts empty; call its Update before serving.
func Build(cfg *config.Config, storage Storage, mailer service.Email, normalizer service.EmailNormalizer, metricsReg prometheus.Registerer, logger *slog.Logger) *Dependencies {
	blocks := blocklist.NewCache(storage, logger.With("component", "blocklist"))
	storage = blockingStorage{Storage: storage, blocks: blocks}

	jwt := jwt_internal.New(cfg.JwtKey(), cfg.JwtTTL())
	gc := service.NewSessionGarbageCollector(storage, logger.With("component", "session_gc"))

	auth := service.NewAuth(storage, mailer, normalizer, jwt, &cfg.Public, logger.With("component", "auth"))
	admin := service.NewAdmin(storage, gc, &cfg.Public, logger.With("component", "admin"))

	return &Dependencies{
		Config:         cfg,
		Logger:         logger,
		Storage:        storage,
		Handler:        handler.New(auth, admin, storage, &cfg.Public, logger.With("component", "http")),
		AuthMiddleware: mw.NewAuth(auth, cfg.Public.SecureCookies),
		GC:             gc,
		Blocklist:      blocks,
		Metrics:        metrics.New(metricsReg),
		Limiters:       DefaultLimiters(),
	}
}

// SetupDependencies connects to Postgres, applies migrations and builds the
// production dependency graph. The caller owns the returned *pg.Storage.
func SetupDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, *pg.Storage, error) {
	storage, err := pg.New(ctx, cfg, logger.With("component", "pg"))
	if err != nil {
		return nil, nil, err
	}
	if err := storage.RunMigrations(ctx); err != nil {
		storage.Cleanup()
		return nil, nil, err
	}

	deps := Build(cfg, storage, email.New(&cfg.Private.Email, logger.With("component", "email")),
		email.NewNormalizer(cfg.Public.CheckEmailDeliverability), prometheus.DefaultRegisterer, logger)
	if err := deps.Blocklist.Update(ctx); err != nil {
		storage.Cleanup()
		return nil, nil, err
	}
	return deps, storage, nil
}
