package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/andres10976/certharvest/internal/cache"
	"github.com/andres10976/certharvest/internal/config"
	"github.com/andres10976/certharvest/internal/database"
	"github.com/andres10976/certharvest/internal/jobs"
	"github.com/andres10976/certharvest/internal/logger"
	"github.com/andres10976/certharvest/internal/metrics"
	"github.com/andres10976/certharvest/internal/model"
	"github.com/andres10976/certharvest/internal/progress"
	"github.com/andres10976/certharvest/internal/repository"
	"github.com/andres10976/certharvest/internal/service/ctlog"
	"github.com/andres10976/certharvest/internal/service/ingest"
	"github.com/andres10976/certharvest/internal/service/novelty"
	"github.com/andres10976/certharvest/internal/service/orchestrator"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pool     *pgxpool.Pool
	rdb      *redis.Client

	certs   *repository.CertificateRepository
	domains *repository.DomainRepository
	runs    *repository.RunRepository
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logging.IsDevelopment, verbose, cfg.Logging.SamplingInitial, cfg.Logging.SamplingThereafter)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		metrics:  metrics.New(reg),
		pool:     pool,
		certs:    repository.NewCertificateRepository(pool),
		domains:  repository.NewDomainRepository(pool),
		runs:     repository.NewRunRepository(pool),
	}

	if cfg.Redis.URL != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			// the cache is optional; run against the database alone
			log.Warn("redis unavailable, log id cache disabled", zap.Error(err))
		} else {
			a.rdb = rdb
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.pool.Close()
	a.log.Sync()
}

type certStore interface {
	ExistsLogID(ctx context.Context, logID int64) (bool, error)
	Insert(ctx context.Context, p model.Partition, cert *model.Certificate) error
}

// newController wires the ingestion pipeline for one process.
func (a *app) newController(rep progress.Reporter) (*ingest.Controller, error) {
	ctCfg := ctlog.Config{
		Provider:       ctlog.Provider(a.cfg.CT.Provider),
		BaseURL:        a.cfg.CT.BaseURL,
		RateLimit:      a.cfg.CT.RateLimit,
		RateBurst:      a.cfg.CT.RateBurst,
		MaxRetries:     a.cfg.CT.MaxRetries,
		ConnectTimeout: a.cfg.CT.ConnectTimeout,
		ReadTimeout:    a.cfg.CT.ReadTimeout,
	}
	if ctCfg.Provider == ctlog.ProviderCertSpotter {
		key, err := ctlog.LoadAPIKey(a.cfg.CT.APIKeyFile)
		if err != nil {
			return nil, err
		}
		ctCfg.APIKey = key
	}

	source, err := ctlog.New(ctCfg,
		ctlog.WithMetrics(a.metrics),
		ctlog.WithLogger(a.log.Named("ctlog")),
	)
	if err != nil {
		return nil, fmt.Errorf("create CT source: %w", err)
	}

	var store certStore = a.certs
	if a.rdb != nil {
		store = cache.NewKnownIDs(a.rdb, a.certs, a.cfg.Redis.TTL, a.log.Named("cache"))
	}

	filter := novelty.New(source, store, a.log.Named("novelty"))
	pool := jobs.NewPool(a.cfg.Ingest.Workers, a.cfg.Ingest.TaskTimeout, a.metrics, a.log.Named("jobs"))
	orch := orchestrator.New(source, pool, store, a.cfg.Ingest.PollInterval, rep, a.metrics, a.log.Named("orchestrator"))

	return ingest.New(filter, orch, a.domains, a.runs, ingest.Config{
		Cutoff:                     a.cfg.Ingest.Cutoff,
		IncludeSubdomains:          a.cfg.Ingest.IncludeSubdomains,
		ExceptionDomains:           a.cfg.Ingest.ExceptionDomains,
		ExceptionIncludeExpired:    a.cfg.Ingest.ExceptionIncludeExpired,
		ExceptionIncludeSubdomains: a.cfg.Ingest.ExceptionIncludeSubdomains,
	}, a.log.Named("ingest")), nil
}

// markInterrupted closes run records left open by a crashed process.
func (a *app) markInterrupted(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.runs.MarkInterrupted(ctx); err != nil {
		a.log.Warn("failed to reset stale ingest runs", zap.Error(err))
	}
}
