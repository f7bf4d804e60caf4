package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/ehrledger/internal/config"
	"github.com/ehr/ehrledger/internal/domain/claims"
	"github.com/ehr/ehrledger/internal/domain/credentialing"
	"github.com/ehr/ehrledger/internal/domain/identity"
	"github.com/ehr/ehrledger/internal/domain/policy"
	"github.com/ehr/ehrledger/internal/domain/records"
	"github.com/ehr/ehrledger/internal/platform/auth"
	"github.com/ehr/ehrledger/internal/platform/blobstore"
	"github.com/ehr/ehrledger/internal/platform/db"
	"github.com/ehr/ehrledger/internal/platform/events"
	"github.com/ehr/ehrledger/internal/platform/ledger"
	"github.com/ehr/ehrledger/internal/platform/metrics"
	"github.com/ehr/ehrledger/internal/platform/middleware"
	"github.com/ehr/ehrledger/internal/platform/redis"
)

const version = "0.1.0"

// backends holds the selected ledger and attachment store along with the
// health checks and cleanup they need.
type backends struct {
	ledger  ledger.Ledger
	blobs   blobstore.Store
	checks  []db.Check
	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{}
	if err := openLedger(ctx, cfg, logger, b); err != nil {
		b.Close()
		return nil, err
	}
	if err := openBlobStore(ctx, cfg, logger, b); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger, b *backends) error {
	switch cfg.LedgerDriver {
	case config.LedgerPostgres:
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		count, err := db.NewMigrator(pool, cfg.MigrationsDir, cfg.DBSchema).Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate ledger schema: %w", err)
		}
		logger.Info().Int("applied", count).Msg("connected to postgres ledger")
		b.ledger = ledger.NewPostgres(pool)
		b.checks = append(b.checks, db.PoolCheck("ledger", pool))
	case config.LedgerLevelDB:
		l, err := ledger.OpenLevelDB(cfg.LevelDBPath)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() {
			if err := l.Close(); err != nil {
				logger.Error().Err(err).Msg("close leveldb ledger")
			}
		})
		logger.Info().Str("path", cfg.LevelDBPath).Msg("opened leveldb ledger")
		b.ledger = l
	default:
		logger.Warn().Msg("using in-memory ledger; state is lost on restart")
		b.ledger = ledger.NewMemory()
	}
	return nil
}

func openBlobStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger, b *backends) error {
	switch cfg.AttachmentDriver {
	case config.AttachmentRedis:
		client, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() { client.Close() })
		b.blobs = blobstore.NewRedisBlobStore(client)
		b.checks = append(b.checks, db.Check{Name: "attachments", Probe: client.Health})
		logger.Info().Msg("storing attachments in redis")
	case config.AttachmentPinata:
		b.blobs = blobstore.NewPinataBlobStore(blobstore.PinataConfig{
			JWT:        cfg.PinataJWT,
			APIURL:     cfg.PinataAPIURL,
			GatewayURL: cfg.PinataGatewayURL,
		})
		logger.Info().Msg("pinning attachments to ipfs via pinata")
	default:
		b.blobs = blobstore.NewInMemoryBlobStore()
	}
	return nil
}

// rateLimitConfig falls back to the defaults for any unset value.
func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rc := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rc.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rc.BurstSize = cfg.RateLimitBurst
	}
	if cfg.RateLimitIdleTTL > 0 {
		rc.IdleTTL = cfg.RateLimitIdleTTL
	}
	return rc
}

// newServer assembles the HTTP surface. publisher and m may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, be *backends, publisher events.Publisher, m *metrics.Metrics) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.CallerHeader},
	}))
	e.Use(middleware.BodyLimit("1M", cfg.BodyLimit))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		key, err := cfg.SigningKey()
		if err != nil {
			return nil, err
		}
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: key,
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.Use(middleware.RateLimit(rateLimitConfig(cfg)))
	e.Use(m.Middleware())

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/backends", db.HealthHandler(be.checks...))
	if m != nil {
		e.GET("/metrics", m.Handler())
	}

	// Identity
	registry := identity.NewRegistry(cfg.AdminAddress, identity.NewCredentialRepoLedger(be.ledger))

	credSvc := credentialing.NewService(registry, registry.Credentials())
	recordSvc := records.NewService(registry, records.NewRecordRepoLedger(be.ledger), be.blobs)
	policySvc := policy.NewService(registry, policy.NewBindingRepoLedger(be.ledger), policy.NewRequestRepoLedger(be.ledger))
	claimSvc := claims.NewService(claims.NewClaimRepoLedger(be.ledger), be.blobs)

	for _, svc := range []interface {
		SetLogger(zerolog.Logger)
		SetEvents(events.Publisher)
		SetMetrics(*metrics.Metrics)
	}{credSvc, recordSvc, policySvc, claimSvc} {
		svc.SetLogger(logger)
		svc.SetEvents(publisher)
		svc.SetMetrics(m)
	}

	api := e.Group("/api/v1")
	identity.NewHandler(registry).RegisterRoutes(api)
	credentialing.NewHandler(credSvc).RegisterRoutes(api)
	records.NewHandler(recordSvc).RegisterRoutes(api)
	policy.NewHandler(policySvc).RegisterRoutes(api)
	claims.NewHandler(claimSvc).RegisterRoutes(api)
	blobstore.NewBlobHandler(be.blobs).RegisterRoutes(api)

	return e, nil
}
