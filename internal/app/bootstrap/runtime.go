package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/events"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/gateway"
	grpcadapter "github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/adapters/telemetry"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/application"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/domain"
	"github.com/viralforge/mesh/services/financial-rails/M92-order-settlement-service/internal/ports"
	"google.golang.org/grpc"
)

type Runtime struct {
	cfg       Config
	logger    *slog.Logger
	service   *application.Service
	ready     func(context.Context) error
	outbox    *eventadapter.OutboxWorker
	consumer  *eventadapter.ConsumerWorker
	cleanupFn func(context.Context)
}

type storage struct {
	orders         ports.OrderRepository
	commissions    ports.CommissionLedger
	partnerLinks   ports.PartnerLinkRepository
	registrations  ports.BusinessRegistrationRepository
	outbox         ports.OutboxRepository
	eventDedup     ports.EventDedupRepository
	idempotency    ports.IdempotencyRepository
	payoutAttempts ports.PayoutAttemptStore
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)

	var closers []func(context.Context) error
	cleanup := func(ctx context.Context) {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil {
				logger.WarnContext(ctx, "cleanup failed", "operation", "runtime_cleanup", "outcome", "failure", "error", err)
			}
		}
	}
	fail := func(err error) (*Runtime, error) {
		cleanup(context.Background())
		return nil, err
	}

	var store storage
	readiness := []func(context.Context) error{}
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		repos := memory.NewRepositories()
		store = storage{
			orders:         repos.Orders,
			commissions:    repos.Commissions,
			partnerLinks:   repos.PartnerLinks,
			registrations:  repos.Registrations,
			outbox:         repos.Outbox,
			eventDedup:     repos.EventDedup,
			idempotency:    repos.Idempotency,
			payoutAttempts: repos.PayoutAttempts,
		}
		logger.WarnContext(ctx, "using in-memory storage", "operation", "bootstrap", "outcome", "degraded")
	default:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.PoolConfig{
			MaxConns:        cfg.MaxDBConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
		})
		if err != nil {
			return fail(err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return sqlDB.Close() })
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return fail(err)
		}
		repos := postgres.NewRepositories(db)
		store = storage{
			orders:        repos.Orders,
			commissions:   repos.Commissions,
			partnerLinks:  repos.PartnerLinks,
			registrations: repos.Registrations,
			outbox:        repos.Outbox,
			eventDedup:    repos.EventDedup,
			idempotency:   repos.Idempotency,
		}
		readiness = append(readiness, func(ctx context.Context) error { return postgres.Ping(ctx, db) })
	}

	if cfg.RedisURL != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return redisClient.Close() })
		store.payoutAttempts = cache.NewPayoutAttemptStore(redisClient)
		readiness = append(readiness, func(ctx context.Context) error { return redisPing(ctx, redisClient) })
	} else if store.payoutAttempts == nil {
		logger.WarnContext(ctx, "redis not configured, payout retries mint fresh refPayoutIds",
			"operation", "bootstrap",
			"outcome", "degraded",
		)
	}

	gatewayCfg := gateway.Config{BaseURL: cfg.GatewayBaseURL, SecretKey: cfg.GatewaySecretKey, Timeout: cfg.GatewayTimeout}
	payments, err := gateway.NewPaymentClient(gatewayCfg, nil)
	if err != nil {
		return fail(err)
	}
	var payouts ports.PayoutGateway
	if cfg.PayoutSecurityKey != "" {
		sealer, err := security.NewJWESealer(cfg.PayoutSecurityKey)
		if err != nil {
			return fail(err)
		}
		client, err := gateway.NewPayoutClient(gateway.PayoutConfig{
			Config:            gatewayCfg,
			RequestsPerSecond: cfg.PayoutRatePerSecond,
			Burst:             cfg.PayoutBurst,
		}, sealer, nil)
		if err != nil {
			return fail(err)
		}
		payouts = client
	}

	tokens, err := security.NewJWTVerifier(cfg.JWTIssuer, cfg.JWTSecret, cfg.JWTPublicKeyPEM)
	if err != nil {
		return fail(err)
	}

	provider, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceID,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRate:     cfg.TraceSampleRate,
	}, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, provider.Shutdown)

	service := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:         cfg.ServiceID,
			Currency:            cfg.Currency,
			CommissionRate:      cfg.CommissionRate,
			DefaultCancelReason: cfg.DefaultCancelReason,
			IdempotencyTTL:      cfg.IdempotencyTTL,
			EventDedupTTL:       cfg.EventDedupTTL,
			PayoutsEnabled:      cfg.PayoutsEnabled,
			PayoutBalanceCheck:  cfg.PayoutBalanceCheck,
			PayoutAttemptTTL:    cfg.PayoutAttemptTTL,
		},
		Orders:         store.orders,
		Commissions:    store.commissions,
		PartnerLinks:   store.partnerLinks,
		Registrations:  store.registrations,
		Outbox:         store.outbox,
		EventDedup:     store.eventDedup,
		Idempotency:    store.idempotency,
		Payments:       payments,
		Payouts:        payouts,
		PayoutAttempts: store.payoutAttempts,
		Tokens:         tokens,
		Telemetry:      provider,
		Logger:         logger,
	})

	publisher := ports.EventPublisher(eventadapter.NewLoggingPublisher(logger))
	consumerAdapter := ports.EventConsumer(eventadapter.NewNoopConsumer())
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, pubErr := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, nil)
		if pubErr != nil {
			logger.WarnContext(ctx, "kafka publisher disabled, using logging publisher", "error", pubErr)
		} else {
			publisher = kafkaPublisher
			closers = append(closers, closeWith(kafkaPublisher))
		}

		kafkaConsumer, conErr := eventadapter.NewKafkaConsumer(
			cfg.KafkaBrokers,
			cfg.KafkaConsumerGroup,
			[]string{cfg.KafkaTopicPaymentConfirmed, cfg.KafkaTopicCancelRequested},
		)
		if conErr != nil {
			logger.WarnContext(ctx, "kafka consumer disabled, using noop consumer", "error", conErr)
		} else {
			consumerAdapter = kafkaConsumer
			closers = append(closers, closeWith(kafkaConsumer))
		}
	}

	outboxWorker := eventadapter.NewOutboxWorker(logger, store.outbox, publisher, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	consumerWorker := eventadapter.NewConsumerWorker(logger, consumerAdapter, service, cfg.ConsumerPollInterval).
		WithTopics(cfg.KafkaTopicPaymentConfirmed, cfg.KafkaTopicCancelRequested)

	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		service: service,
		ready: func(ctx context.Context) error {
			for _, check := range readiness {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		outbox:    outboxWorker,
		consumer:  consumerWorker,
		cleanupFn: cleanup,
	}, nil
}

func Build(ctx context.Context, configPath string) (*Runtime, error) {
	return NewRuntime(ctx, configPath)
}

// Service exposes the orchestrator to operator tooling.
func (r *Runtime) Service() *application.Service {
	return r.service
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(httpadapter.NewHandler(r.service, r.ready)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer := grpc.NewServer()
	healthReporter := grpcadapter.NewHealthReporter(r.logger, r.ready, 10*time.Second)
	healthReporter.Register(grpcServer)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(context.Background())
		return err
	}

	errCh := make(chan error, 2)
	go healthReporter.Run(ctx)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	r.logger.InfoContext(ctx, "api runtime started",
		"operation", "run_api",
		"outcome", "success",
		"http_port", r.cfg.HTTPPort,
		"grpc_port", r.cfg.GRPCPort,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		r.logger.ErrorContext(ctx, "runtime failure", "error", err)
	}
	healthReporter.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	r.drainPayouts()
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runErr := superviseWorkers(ctx, r.outbox.Run, r.consumer.Run)
	r.drainPayouts()
	r.cleanupFn(context.Background())
	return runErr
}

// superviseWorkers runs every worker until ctx ends or one fails, then stops
// the rest and returns only after all of them have exited.
func superviseWorkers(ctx context.Context, runs ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, len(runs))

	var workers sync.WaitGroup
	for _, run := range runs {
		run := run
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	cancel()
	workers.Wait()
	return runErr
}

// Close drains in-flight payouts and releases connections. Used by one-shot commands.
func (r *Runtime) Close() {
	r.drainPayouts()
	r.cleanupFn(context.Background())
}

func (r *Runtime) drainPayouts() {
	drainCtx, cancel := context.WithTimeout(context.Background(), r.cfg.PayoutDrainTimeout)
	defer cancel()
	if err := r.service.WaitForPayouts(drainCtx); err != nil {
		r.logger.WarnContext(drainCtx, "payout drain timed out",
			"operation", "drain_payouts",
			"outcome", "failure",
			"timeout", r.cfg.PayoutDrainTimeout.String(),
			"error", err,
		)
	}
}

func redisPing(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", domain.ErrDependencyUnavailable, err)
	}
	return nil
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}
