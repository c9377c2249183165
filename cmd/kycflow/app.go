package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kycflow/internal/decision"
	"kycflow/internal/findings"
	"kycflow/internal/idempotency"
	"kycflow/internal/outbox"
	"kycflow/internal/platform/config"
	"kycflow/internal/platform/kafka"
	"kycflow/internal/platform/metrics"
	"kycflow/internal/platform/postgres"
	"kycflow/internal/platform/redis"
	"kycflow/internal/platform/sealing"
	"kycflow/internal/storage"
	"kycflow/internal/telemetry"
	"kycflow/internal/tenant"
	"kycflow/internal/vendor"
	"kycflow/internal/verification"
	"kycflow/internal/waterfall"
	"kycflow/internal/workflow"
	"kycflow/internal/workflow/kyb"
	"kycflow/internal/workflow/kyc"
	"kycflow/pkg/platform/circuit"
)

// backend is a storage implementation: Postgres when DATABASE_URL is set,
// otherwise process memory.
type backend interface {
	workflow.TxRunner
	Stores() workflow.Stores
	VerificationTx() verification.TxRunner
	OutboxTx() outbox.TxRunner
}

// app is the wired process. Fields left nil were not configured.
type app struct {
	cfg      config.Server
	logger   *slog.Logger
	registry *prometheus.Registry

	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer

	tenants *tenant.Registry
	backend backend
	emitter *telemetry.Emitter
	service *workflow.Service
}

func newApp(ctx context.Context, cfg config.Server, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: metrics.NewRegistry()}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	file, err := config.LoadTenants(cfg.TenantConfigPath)
	if err != nil {
		return err
	}
	if a.tenants, err = tenant.NewRegistry(file); err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}

	if cfg.Database.URL != "" {
		if a.db, err = postgres.Open(ctx, cfg.Database); err != nil {
			return err
		}
		a.backend = storage.NewPostgres(a.db)
	} else {
		logger.WarnContext(ctx, "DATABASE_URL not set, using in-memory storage")
		a.backend = storage.NewMemory()
	}

	if a.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if a.producer, err = kafka.NewProducer(cfg.Kafka); err != nil {
			return err
		}
		if cfg.Kafka.CreateTopics {
			if err = kafka.EnsureTopics(ctx, a.producer.Client(), cfg.Kafka.TopicPartitions,
				cfg.Kafka.WorkflowTopic, cfg.Kafka.TelemetryTopic); err != nil {
				return err
			}
		}
	}

	sealer, err := sealing.New(cfg.SealingKey)
	if err != nil {
		return fmt.Errorf("init sealing: %w", err)
	}
	clients, err := vendorClients(a.tenants.All())
	if err != nil {
		return err
	}

	wfOpts := []waterfall.Option{
		waterfall.WithLogger(logger),
		waterfall.WithMetrics(waterfall.NewMetrics(a.registry)),
		waterfall.WithCallTimeout(cfg.VendorCallTimeout),
	}
	if a.redis != nil {
		wfOpts = append(wfOpts, waterfall.WithGuard(idempotency.NewRedisGuard(a.redis.Client, a.redis.Namespace("idem")), cfg.IdempotencyTTL))
	} else {
		wfOpts = append(wfOpts, waterfall.WithGuard(idempotency.NewMemoryGuard(), cfg.IdempotencyTTL))
	}
	stores := a.backend.Stores()
	protocol := waterfall.New(stores.Verification, a.backend.VerificationTx(), clients, sealer, wfOpts...)

	var sink telemetry.Sink = telemetry.NewLogSink(logger)
	if a.producer != nil {
		sink = telemetry.NewKafkaSink(a.producer, cfg.Kafka.TelemetryTopic)
	}
	a.emitter = telemetry.NewEmitter(sink, 0,
		telemetry.WithLogger(logger),
		telemetry.WithMetrics(telemetry.NewMetrics(a.registry)),
	)

	env := workflow.Env{
		Tenants:      a.tenants,
		Workflows:    stores.Workflows,
		Verification: stores.Verification,
		Waterfall:    protocol,
		Collector:    findings.NewCollector(sealer, nil, logger),
		Committer: decision.NewCommitter(
			decision.WithLogger(logger),
			decision.WithMetrics(decision.NewMetrics(a.registry)),
		),
	}
	engineOpts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithMetrics(workflow.NewMetrics(a.registry)),
		workflow.WithTelemetry(a.emitter),
	}
	a.service = workflow.NewService(stores.Workflows, []workflow.Machine{
		kyc.New(env, a.backend, engineOpts...),
		kyb.New(env, a.backend, engineOpts...),
	}, workflow.WithServiceLogger(logger), workflow.WithTx(a.backend))
	return nil
}

// relay returns the outbox relay, or nil when no broker is configured.
func (a *app) relay() *outbox.Relay {
	if a.producer == nil {
		return nil
	}
	return outbox.NewRelay(a.backend.OutboxTx(),
		outbox.NewKafkaPublisher(a.producer, a.cfg.Kafka.WorkflowTopic),
		outbox.WithLogger(a.logger),
		outbox.WithMetrics(outbox.NewMetrics(a.registry)),
		outbox.WithInterval(a.cfg.Outbox.PollInterval),
		outbox.WithBatchSize(a.cfg.Outbox.BatchSize),
	)
}

func (a *app) close() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	a.emitter.Flush(flushCtx)
	cancel()

	var errs []error
	if a.producer != nil {
		a.producer.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("close resources", "error", err)
	}
}

// vendorClients registers a sandbox client for every fixture API behind a
// circuit breaker. A rate limit configured by any tenant caps the shared
// client at the lowest rate.
func vendorClients(tenants []*tenant.Settings) (*vendor.Registry, error) {
	limits := lowestRateLimits(tenants)
	var clients []vendor.Client
	for _, kind := range []vendor.Kind{vendor.KindKYC, vendor.KindAML, vendor.KindDocument, vendor.KindKYB} {
		var c vendor.Client = vendor.NewFixtureClient(vendor.FixtureFor(kind))
		if l, ok := limits[c.API()]; ok && l.RPS > 0 {
			c = vendor.NewRateLimited(c, l.RPS, l.Burst)
		}
		clients = append(clients, c)
	}
	registry, err := vendor.NewRegistry(clients...)
	if err != nil {
		return nil, err
	}
	registry.Wrap(func(c vendor.Client) vendor.Client {
		return vendor.NewBreaker(c, circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))
	})
	return registry, nil
}

func lowestRateLimits(tenants []*tenant.Settings) map[vendor.API]config.RateLimit {
	limits := map[vendor.API]config.RateLimit{}
	for _, t := range tenants {
		for api, l := range t.RateLimits {
			if cur, ok := limits[api]; !ok || l.RPS < cur.RPS {
				limits[api] = l
			}
		}
	}
	return limits
}
