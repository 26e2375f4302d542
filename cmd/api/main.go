package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/sla-service/internal/api/http"
	"github.com/spec-kit/sla-service/internal/api/http/handlers"
	"github.com/spec-kit/sla-service/internal/auth"
	"github.com/spec-kit/sla-service/internal/config"
	"github.com/spec-kit/sla-service/internal/domain"
	"github.com/spec-kit/sla-service/internal/events"
	"github.com/spec-kit/sla-service/internal/notify"
	"github.com/spec-kit/sla-service/internal/observability"
	"github.com/spec-kit/sla-service/internal/persistence"
	"github.com/spec-kit/sla-service/internal/policy"
	"github.com/spec-kit/sla-service/internal/repository"
	"github.com/spec-kit/sla-service/internal/service"
	"github.com/spec-kit/sla-service/internal/worker"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a bearer token for subject:role and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	if *issueToken != "" {
		if err := printToken(tokens, *issueToken); err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		return
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var store repository.Store
	if pg.Enabled() {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, cfg.Postgres.DSN, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		metrics.RegisterPgxPool(pg.Pool)
		store = repository.NewPostgresStore(pg.Pool)
	} else {
		store = repository.NewMemoryStore()
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	dispatcher := events.NewInMemoryDispatcher(logger)
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))
	var lease worker.Locker
	if redis.Enabled() {
		events.NewRedisRelay(redis.Client, cfg.Redis.EventsChannel).Attach(dispatcher)
		lease = persistence.NewLeaseLock(redis.Client, cfg.Redis.LockKey, cfg.Redis.LockTTL())
	}

	policies := policy.NewStore(cfg.SLA.PolicyFile, logger, metrics)
	policyService := service.NewPolicyService(policies, store, dispatcher, logger)
	if _, err := policies.Reload(ctx); err != nil {
		logger.Warn("starting with built-in sla policy", zap.String("path", cfg.SLA.PolicyFile), zap.Error(err))
	}

	transport := notify.NewWebhookTransport(cfg.SLA.NotificationTimeout(), cfg.SLA.NotificationRatePerSecond)
	escalation := service.NewEscalationService(transport, logger, metrics)
	engine := service.NewSLAEngine(service.SLAEngineDependencies{
		Store:      store,
		Policies:   policies,
		Escalation: escalation,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		Workers:    cfg.SLA.EvaluationWorkers,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:      store,
		Policies:   policies,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	interval := cfg.SLA.DefaultInterval()
	if fromPolicy := policies.Current().EvaluationInterval(); fromPolicy > 0 {
		interval = fromPolicy
	}
	scheduler := worker.NewScheduler(engine, lease, interval, logger, metrics)
	policies.Subscribe(scheduler.PolicySubscriber())
	scheduler.Start(ctx)

	if cfg.SLA.WatchPolicy {
		watcher, err := policy.NewWatcher(policies, logger, 500*time.Millisecond)
		if err != nil {
			logger.Warn("policy watcher disabled", zap.Error(err))
		} else {
			go watcher.Run(ctx)
		}
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewServer(cfg.Metrics.Addr, metrics)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listen", zap.Error(err))
			}
		}()
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Tickets:        handlers.NewTicketsHandler(ticketService, policies),
		SLA:            handlers.NewSLAHandler(engine, scheduler, policyService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	scheduler.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = app.ShutdownWithContext(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
}

func printToken(tokens *auth.TokenManager, spec string) error {
	subject, role, ok := strings.Cut(spec, ":")
	if !ok || subject == "" {
		return fmt.Errorf("expected subject:role, got %q", spec)
	}
	token, expiresAt, err := tokens.GenerateToken(subject, domain.OperatorRole(role))
	if err != nil {
		return err
	}
	fmt.Printf("%s\n# expires %s\n", token, expiresAt.Format(time.RFC3339))
	return nil
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
