// Package core is the composition root: it owns every subsystem and wires
// them together once, explicitly. Nothing else in the tree constructs a
// cross-package dependency.
package core

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/hustlexp/backend/internal/alerts"
	"github.com/hustlexp/backend/internal/authority"
	"github.com/hustlexp/backend/internal/config"
	"github.com/hustlexp/backend/internal/events"
	"github.com/hustlexp/backend/internal/gateway"
	"github.com/hustlexp/backend/internal/idempotency"
	"github.com/hustlexp/backend/internal/jobs"
	"github.com/hustlexp/backend/internal/metrics"
	"github.com/hustlexp/backend/internal/money"
	"github.com/hustlexp/backend/internal/proof"
	"github.com/hustlexp/backend/internal/readmodel"
	"github.com/hustlexp/backend/internal/recovery"
	"github.com/hustlexp/backend/internal/rewards"
	"github.com/hustlexp/backend/internal/store"
)

// Core holds the wired subsystems for one process.
type Core struct {
	Config    *config.Config
	Store     store.Store
	Gateway   gateway.Client
	Redis     *redis.Client
	Metrics   *metrics.Metrics
	Sink      *alerts.Sink
	Bus       money.Publisher
	Authority *authority.Gate
	Proofs    *proof.Gate
	Rewards   *rewards.Ledger
	Engine    *money.Engine
	Guard     *idempotency.Guard
	Pipeline  *recovery.Pipeline
	Runner    *jobs.Runner
	ReadModel *readmodel.ReadModel

	logger   *log.Logger
	closers  []func() error
	busLocal *events.Bus // non-nil when the bus is purely in-process
}

// Options carries the pluggable externals. Nil fields fall back to local
// in-process implementations, which is how tests and dev mode run.
type Options struct {
	Store   store.Store
	Gateway gateway.Client
	Redis   *redis.Client
	Bus     money.Publisher
	Metrics *metrics.Metrics
}

// New wires a Core from config plus optional pre-built externals.
func New(cfg *config.Config, opts Options) (*Core, error) {
	c := &Core{
		Config: cfg,
		logger: log.New(log.Writer(), "[CORE] ", log.LstdFlags),
	}

	// Durable store: explicit > Postgres > in-memory.
	switch {
	case opts.Store != nil:
		c.Store = opts.Store
	case cfg.Database.URL != "":
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		c.Store = pg
		c.closers = append(c.closers, pg.Close)
		c.logger.Println("✅ durable store: postgres")
	default:
		c.Store = store.NewMemory()
		c.logger.Println("⚠️ durable store: in-memory (dev mode, nothing survives restart)")
	}

	if opts.Gateway != nil {
		c.Gateway = opts.Gateway
	} else {
		c.Gateway = gateway.NewMock()
		c.logger.Println("⚠️ payment gateway: mock")
	}

	c.Redis = opts.Redis
	if c.Redis == nil && cfg.Redis.Addr != "" {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, c.Redis.Close)
	}

	c.Metrics = opts.Metrics
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}

	var primary, fallback alerts.Channel
	if cfg.Alerts.PrimaryURL != "" {
		primary = alerts.NewWebhookChannel("primary", cfg.Alerts.PrimaryURL)
	}
	if cfg.Alerts.FallbackURL != "" {
		fallback = alerts.NewWebhookChannel("fallback", cfg.Alerts.FallbackURL)
	}
	c.Sink = alerts.NewSink(primary, fallback, 2)
	c.closers = append(c.closers, func() error { c.Sink.Close(); return nil })

	if opts.Bus != nil {
		c.Bus = opts.Bus
	} else if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicID != "" {
		psb, err := events.NewPubSubBus(cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			return nil, err
		}
		c.Bus = psb
		c.busLocal = psb.Bus
		c.closers = append(c.closers, psb.Close)
	} else {
		b := events.NewBus()
		c.Bus = b
		c.busLocal = b
	}

	c.Authority = authority.NewGate()
	c.Proofs = proof.NewGate(c.Store)
	c.Rewards = rewards.NewLedger()

	c.Engine = money.NewEngine(money.Deps{
		Store:   c.Store,
		Gateway: c.Gateway,
		Rewards: c.Rewards,
		Proofs:  c.Proofs,
		Auth:    c.Authority,
		Sink:    c.Sink,
		Metrics: c.Metrics,
		Pub:     c.Bus,
	})

	c.Guard = idempotency.NewGuard(c.Store, c.Redis)
	c.Pipeline = recovery.NewPipeline(c.Store, c.Guard, c.Sink, c.Metrics, c.Bus)

	var dispatcher jobs.JobDispatcher
	if cfg.Tasks.ProjectID != "" && cfg.Tasks.QueueID != "" {
		d, err := jobs.NewDispatcher(cfg.Tasks.ProjectID, cfg.Tasks.LocationID, cfg.Tasks.QueueID, cfg.Tasks.TargetURL)
		if err != nil {
			return nil, err
		}
		dispatcher = d
		c.closers = append(c.closers, d.Close)
	}
	c.Runner = jobs.NewRunner(c.Store, c.Sink, dispatcher, cfg.Jobs.PollInterval, cfg.Jobs.BatchSize)

	c.ReadModel = readmodel.New(c.Store, nil, c.Redis)
	if cfg.Supabase.URL != "" && cfg.Supabase.ServiceKey != "" {
		db, err := readmodel.NewSupabaseClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		if err != nil {
			return nil, err
		}
		c.ReadModel = readmodel.New(c.Store, db, c.Redis)
	}

	return c, nil
}

// Start launches the background loops: the job runner and the read-model
// cache invalidator. Returns immediately.
func (c *Core) Start(ctx context.Context) {
	go c.Runner.Run(ctx)
	if c.busLocal != nil {
		ch := c.busLocal.Subscribe()
		go c.ReadModel.WatchBus(ctx, ch)
	}
	c.logger.Println("🚀 core started")
}

// Close shuts subsystems down in reverse construction order.
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Printf("⚠️ close: %v", err)
		}
	}
}
