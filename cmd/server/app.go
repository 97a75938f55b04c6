package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	claimmetrics "careverify/internal/claims/metrics"
	claimservice "careverify/internal/claims/service"
	claimstore "careverify/internal/claims/store"
	"careverify/internal/dispatch"
	"careverify/internal/extraction"
	"careverify/internal/notify"
	orgservice "careverify/internal/orgs/service"
	orgstore "careverify/internal/orgs/store"
	"careverify/internal/platform/config"
	"careverify/internal/platform/db"
	"careverify/internal/platform/kafka"
	"careverify/internal/platform/lock"
	"careverify/internal/platform/metrics"
	redisclient "careverify/internal/platform/redis"
	"careverify/internal/ratelimit"
	"careverify/internal/routing"
	"careverify/internal/scoring"
	scoringmetrics "careverify/internal/scoring/metrics"
	"careverify/internal/sla"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/audit/publishers/compliance"
	"careverify/pkg/platform/audit/relay"
	auditmemory "careverify/pkg/platform/audit/store/memory"
	auditpostgres "careverify/pkg/platform/audit/store/postgres"
	"careverify/pkg/platform/circuit"
	"careverify/pkg/platform/tx"
)

// claimRepository is every view of the claim table the process wires up.
type claimRepository interface {
	claimservice.ClaimStore
	claimservice.HistorySource
	sla.ClaimStore
	routing.LoadCounter
	orgservice.ClaimSource
}

type stores struct {
	claims  claimRepository
	records claimservice.RecordStore
	orgs    orgservice.Store
	audit   audit.Store
	cursor  relay.Cursor
	tx      tx.Runner
}

func memoryStores() stores {
	return stores{
		claims:  claimstore.NewInMemoryClaimStore(),
		records: claimstore.NewInMemoryRecordStore(),
		orgs:    orgstore.NewInMemoryStore(),
		audit:   auditmemory.NewInMemoryStore(),
		cursor:  relay.NewMemoryCursor(),
		tx:      tx.NoopRunner{},
	}
}

func postgresStores(conn *sql.DB, cfg config.DatabaseConfig) stores {
	return stores{
		claims:  claimstore.NewPostgresClaimStore(conn),
		records: claimstore.NewPostgresRecordStore(conn),
		orgs:    orgstore.NewPostgres(conn),
		audit:   auditpostgres.New(conn),
		cursor:  auditpostgres.NewCursorStore(conn),
		tx:      tx.NewSQLRunner(conn, cfg.TxTimeout),
	}
}

// app holds the wired process. Fields for optional infrastructure are nil when
// it is not configured.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *sql.DB
	redis    *redisclient.Client
	producer *kgo.Client
	consumer *kgo.Client
	notifier *notify.KafkaSink

	httpMetrics *metrics.Metrics
	limiter     *ratelimit.Limiter
	claims      *claimservice.Service
	orgs        *orgservice.Service
	tracker     *sla.Tracker
	dispatcher  dispatch.Dispatcher
	pool        *dispatch.Pool
	jobs        *dispatch.KafkaQueue
	relay       *relay.Relay
}

// build wires every component. withWorkers decides whether this process runs
// jobs or only produces them.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, withWorkers bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, httpMetrics: metrics.New()}
	wired := false
	defer func() {
		if !wired {
			a.close()
		}
	}()

	var err error
	st := memoryStores()
	if cfg.Database.URL != "" {
		if a.db, err = db.Open(ctx, cfg.Database); err != nil {
			return nil, err
		}
		st = postgresStores(a.db, cfg.Database)
		logger.Info("using postgres storage")
	} else {
		logger.Warn("database.url not set, state is kept in memory")
	}

	var locker lock.Locker = lock.NewSharded()
	if a.redis, err = redisclient.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if a.redis != nil {
		locker = redisclient.NewLocker(a.redis.Client, cfg.Redis.LockTTL)
		logger.Info("using redis claim locks")
	}
	if cfg.RateLimit.Enabled {
		var window ratelimit.Store = ratelimit.NewMemoryStore()
		if a.redis != nil {
			window = ratelimit.NewRedisStore(a.redis.Client)
		}
		a.limiter = ratelimit.New(window, cfg.RateLimit.Requests, cfg.RateLimit.Window,
			ratelimit.WithLogger(logger),
			ratelimit.WithMetrics(ratelimit.NewMetrics()),
		)
	}

	sink, err := a.notificationSink(ctx)
	if err != nil {
		return nil, err
	}

	publisher := compliance.New(st.audit,
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics()),
	)
	claimMetrics := claimmetrics.New()

	orgSvc := orgservice.New(st.orgs, st.claims,
		orgservice.WithLogger(logger),
		orgservice.WithAuditPublisher(publisher),
		orgservice.WithTrustWindow(cfg.Trust.Window),
	)
	a.orgs = orgSvc

	relationships, err := a.relationships(st.orgs)
	if err != nil {
		return nil, err
	}
	router := routing.New(st.orgs, relationships, orgSvc, st.claims, routing.WithLogger(logger))

	tracker, err := sla.New(st.claims, publisher,
		sla.WithLogger(logger),
		sla.WithMetrics(claimMetrics),
		sla.WithNotifier(sink),
		sla.WithLocker(locker),
		sla.WithTxRunner(st.tx),
		sla.WithIntervals(cfg.SLA.SweepInterval, cfg.SLA.ResyncInterval),
	)
	if err != nil {
		return nil, err
	}
	a.tracker = tracker

	registry := dispatch.NewRegistry()
	if err := a.wireJobs(registry, withWorkers); err != nil {
		return nil, err
	}

	a.claims, err = claimservice.New(st.claims, st.records, st.orgs, publisher,
		claimservice.WithLogger(logger),
		claimservice.WithMetrics(claimMetrics),
		claimservice.WithTxRunner(st.tx),
		claimservice.WithLocker(locker),
		claimservice.WithTimeline(st.audit),
		claimservice.WithDispatcher(a.dispatcher),
		claimservice.WithRouter(router),
		claimservice.WithDeadlines(tracker),
		claimservice.WithNotifier(sink),
		claimservice.WithConfig(claimservice.Config{
			SLAWindow:         cfg.SLA.Window,
			MaxAppeals:        cfg.Claims.MaxAppeals,
			AppealReviewDue:   cfg.Claims.AppealReviewDue,
			DraftRetention:    cfg.Claims.DraftRetention,
			ScoringStallAfter: cfg.Claims.ScoringStallAfter,
			LockTimeout:       cfg.Claims.LockTimeout,
			DefaultCurrency:   cfg.Claims.DefaultCurrency,
			DefaultPriority:   cfg.Claims.DefaultPriority,
		}),
	)
	if err != nil {
		return nil, err
	}

	orchestrator := scoring.NewOrchestrator(scoring.DefaultRegistry(),
		scoring.WithScorerTimeout(cfg.Scoring.ScorerTimeout),
		scoring.WithAggregator(scoring.NewAggregator(
			scoring.WithAlertThresholds(cfg.Scoring.FraudAlertThreshold, cfg.Scoring.AnomalyAlertThreshold),
		)),
		scoring.WithBreakerThresholds(cfg.Scoring.BreakerFailures, cfg.Scoring.BreakerSuccesses),
		scoring.WithLogger(logger),
		scoring.WithMetrics(scoringmetrics.New()),
	)
	pipeline := claimservice.NewPipeline(a.claims, st.claims, orgSvc, orchestrator,
		claimservice.WithExtractor(extraction.Noop{}),
		claimservice.WithModelVersion(cfg.Scoring.ModelVersion),
		claimservice.WithPipelineLogger(logger),
	)
	claimservice.RegisterJobs(registry, a.claims, pipeline)
	orgservice.RegisterJobs(registry, orgSvc)

	if a.producer != nil {
		a.relay = relay.New("kafka-audit", st.audit, kafka.NewAuditSink(a.producer, cfg.Kafka.AuditTopic), st.cursor,
			relay.WithLogger(logger),
		)
	}
	wired = true
	return a, nil
}

// wireJobs picks the job transport. Kafka carries jobs between processes when
// configured; otherwise an in-process pool runs them.
func (a *app) wireJobs(registry *dispatch.Registry, withWorkers bool) error {
	cfg := a.cfg
	jobMetrics := dispatch.NewMetrics()
	if !kafka.Enabled(cfg.Kafka) {
		a.pool = dispatch.NewPool(registry,
			dispatch.WithWorkers(cfg.Dispatch.Workers),
			dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
			dispatch.WithRetry(cfg.Dispatch.MaxAttempts, cfg.Dispatch.BaseBackoff),
			dispatch.WithPoolLogger(a.logger),
			dispatch.WithPoolMetrics(jobMetrics),
		)
		a.dispatcher = a.pool
		return nil
	}

	opts := []dispatch.KafkaOption{
		dispatch.WithKafkaRetry(cfg.Dispatch.MaxAttempts, cfg.Dispatch.BaseBackoff),
		dispatch.WithKafkaLogger(a.logger),
		dispatch.WithKafkaMetrics(jobMetrics),
	}
	client := a.producer
	if withWorkers {
		consumer, err := kafka.NewGroupConsumer(cfg.Kafka, cfg.Kafka.JobsTopic)
		if err != nil {
			return err
		}
		a.consumer = consumer
		client = consumer
		opts = append(opts, dispatch.WithHandlers(registry))
	}
	a.jobs = dispatch.NewKafkaQueue(client, cfg.Kafka.JobsTopic, opts...)
	a.dispatcher = a.jobs
	return nil
}

// notificationSink publishes to Kafka with a log fallback, or only logs
// without Kafka. It also creates the shared producer and the topics.
func (a *app) notificationSink(ctx context.Context) (notify.Sink, error) {
	cfg := a.cfg
	logSink := notify.NewLogSink(a.logger)
	if !kafka.Enabled(cfg.Kafka) {
		return logSink, nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	a.producer = producer

	if err := kafka.Ping(ctx, producer); err != nil {
		return nil, err
	}
	topics := []string{cfg.Kafka.JobsTopic, cfg.Kafka.JobsTopic + ".dlq", cfg.Kafka.AuditTopic, cfg.Kafka.NotificationsTopic}
	if err := kafka.EnsureTopics(ctx, producer, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor, topics...); err != nil {
		return nil, err
	}

	a.notifier = notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.NotificationsTopic)
	breaker := circuit.New("notifications",
		circuit.WithFailureThreshold(3),
		circuit.WithSuccessThreshold(2),
	)
	return notify.NewFailoverSink(a.notifier, logSink, breaker, a.logger), nil
}

// relationships combines the stored relationships with the optional static file.
func (a *app) relationships(orgs orgservice.Store) (routing.Relationships, error) {
	path := a.cfg.Routing.RelationshipsFile
	if path == "" {
		return orgs, nil
	}
	static, err := routing.LoadRelationshipsFile(path)
	if err != nil {
		return nil, err
	}
	a.logger.Info("loaded static insurer relationships", "path", path)
	return routing.Union{orgs, static}, nil
}

// runBackground starts the job consumer, the SLA tracker, the audit relay and
// the periodic job schedules on g.
func (a *app) runBackground(ctx context.Context, g *errgroup.Group) {
	switch {
	case a.pool != nil:
		g.Go(func() error { return a.pool.Run(ctx) })
	case a.jobs != nil:
		g.Go(func() error { return ignoreCancel(a.jobs.Run(ctx)) })
	}
	g.Go(func() error { return ignoreCancel(a.tracker.Run(ctx)) })
	if a.relay != nil {
		g.Go(func() error { return ignoreCancel(a.relay.Run(ctx)) })
	}
	g.Go(func() error {
		dispatch.Every(ctx, a.cfg.Claims.CleanupInterval, a.dispatcher, dispatch.KindCleanupDrafts, claimservice.CleanupJob{}, a.logger)
		return nil
	})
	g.Go(func() error {
		dispatch.Every(ctx, a.cfg.Claims.RecoveryInterval, a.dispatcher, dispatch.KindRecoverScoring, claimservice.CleanupJob{}, a.logger)
		return nil
	})
	g.Go(func() error {
		dispatch.Every(ctx, a.cfg.Trust.RefreshInterval, a.dispatcher, dispatch.KindRefreshTrust, nil, a.logger)
		return nil
	})
}

func (a *app) close() {
	if a.consumer != nil {
		a.consumer.Close()
	}
	if a.producer != nil {
		a.producer.Close()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("closing notification writer", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("closing database", "error", err)
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, dispatch.ErrClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("background worker: %w", err)
	}
	return nil
}
