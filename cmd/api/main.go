package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/integration-service/internal/api/http"
	"github.com/spec-kit/integration-service/internal/api/http/handlers"
	"github.com/spec-kit/integration-service/internal/auth"
	"github.com/spec-kit/integration-service/internal/config"
	"github.com/spec-kit/integration-service/internal/domain"
	"github.com/spec-kit/integration-service/internal/events"
	"github.com/spec-kit/integration-service/internal/integration"
	"github.com/spec-kit/integration-service/internal/observability"
	"github.com/spec-kit/integration-service/internal/persistence"
	"github.com/spec-kit/integration-service/internal/repository"
	"github.com/spec-kit/integration-service/internal/service"
	"github.com/spec-kit/integration-service/internal/transport"
	"github.com/spec-kit/integration-service/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	var redis *persistence.Redis
	if cfg.Transport.DedupBackend == "redis" {
		redis = persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
	}

	client := transport.NewClient(transport.Options{
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		RequestTimeout: cfg.Transport.RequestTimeout,
		MaxIdleConns:   cfg.Transport.MaxIdleConns,
		Policy:         policyFromConfig(cfg.Transport),
		Dedup:          newDeduplicator(ctx, cfg.Transport, redis),
	})

	metrics := observability.NewMetrics()
	hooks := observability.MultiAuditHook{observability.NewZapAuditHook(logger), metrics}
	var auditRepo repository.AuditRepository
	var auditStore *observability.StoreAuditHook
	if pool := pg.PoolHandle(); pool != nil {
		auditRepo = repository.NewAuditRepository(pool)
		auditStore = observability.NewStoreAuditHook(auditRepo, logger)
		hooks = append(hooks, auditStore)
	}

	ticketSinks, messageSinks := buildSinks(cfg.Integrations, client, logger)
	integrations := service.NewIntegrationService(service.IntegrationDependencies{
		TicketSinks:  ticketSinks,
		MessageSinks: messageSinks,
		Audit:        hooks,
	})

	pool := worker.NewPool(cfg.Worker, logger)
	pool.Start()

	dispatcher := events.NewInMemoryDispatcher()
	routing, err := service.NewNotificationService(dispatcher, integrations, pool, logger, cfg.Routing)
	if err != nil {
		logger.Fatal("invalid routing configuration", zap.Error(err))
	}
	routing.RegisterHandlers()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	if cfg.Auth.Disabled {
		logger.Warn("authentication disabled; every caller holds all scopes")
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, integrations.TicketPlatforms),
		Tickets:        handlers.NewTicketsHandler(integrations),
		Messages:       handlers.NewMessagesHandler(integrations),
		Findings:       handlers.NewFindingsHandler(dispatcher),
		Audit:          handlers.NewAuditHandler(auditRepo, metrics),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, cfg.Auth.Disabled),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	_ = app.ShutdownWithContext(shutdownCtx)
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn("worker pool did not drain", zap.Error(err))
	}
	if auditStore != nil {
		if err := auditStore.Close(shutdownCtx); err != nil {
			logger.Warn("audit records not flushed", zap.Error(err))
		}
	}
}

func policyFromConfig(cfg config.TransportConfig) transport.Policy {
	policy := transport.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseBackoff > 0 {
		policy.BaseBackoff = cfg.BaseBackoff
	}
	if cfg.MaxBackoff > 0 {
		policy.MaxBackoff = cfg.MaxBackoff
	}
	return policy
}

// newDeduplicator shares dedup entries across replicas when redis is set.
// The in-process store is swept once per TTL until ctx ends.
func newDeduplicator(ctx context.Context, cfg config.TransportConfig, redis *persistence.Redis) *transport.Deduplicator {
	if redis != nil {
		return transport.NewDeduplicator(persistence.NewRedisDedupStore(redis.Client, cfg.DedupKeyPrefix), cfg.DedupTTL)
	}
	store := transport.NewMemoryStore()
	if cfg.DedupTTL > 0 {
		go func() {
			ticker := time.NewTicker(cfg.DedupTTL)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					store.Sweep()
				}
			}
		}()
	}
	return transport.NewDeduplicator(store, cfg.DedupTTL)
}

// buildSinks constructs an adapter for every platform with usable settings.
// Platforms that fail validation are left out and fail per call with a
// configuration error.
func buildSinks(cfg config.IntegrationsConfig, client *transport.Client, logger *zap.Logger) ([]integration.TicketSink, []integration.MessageSink) {
	var (
		tickets  []integration.TicketSink
		messages []integration.MessageSink
	)
	for _, platform := range domain.Platforms {
		var err error
		if platform.IsTicketing() {
			var sink integration.TicketSink
			if sink, err = integration.NewTicketSink(platform, cfg, client); err == nil {
				tickets = append(tickets, sink)
			}
		} else {
			var sink integration.MessageSink
			if sink, err = integration.NewMessageSink(platform, cfg, client); err == nil {
				messages = append(messages, sink)
			}
		}
		if err != nil {
			logger.Warn("integration disabled", zap.String("platform", string(platform)), zap.Error(err))
			continue
		}
		logger.Info("integration enabled", zap.String("platform", string(platform)))
	}
	return tickets, messages
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
