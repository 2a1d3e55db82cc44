// Package ingest walks the monitored domains and loads their new
// certificates, one domain at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andres10976/certharvest/internal/model"
	"github.com/andres10976/certharvest/internal/service/ctlog"
	"github.com/andres10976/certharvest/internal/service/novelty"
	"github.com/andres10976/certharvest/internal/service/orchestrator"
)

var (
	ErrAlreadyRunning = errors.New("ingest already running")
	ErrNotRunning     = errors.New("ingest not running")
)

type issuanceFilter interface {
	NewIssuances(ctx context.Context, domain string, p novelty.Policy) (iter.Seq2[model.Issuance, error], error)
}

type domainFetcher interface {
	FetchDomain(ctx context.Context, domain string, seq iter.Seq2[model.Issuance, error], dryRun bool) (orchestrator.Result, error)
}

type domainLister interface {
	Names(ctx context.Context) ([]string, error)
}

type runStore interface {
	Create(ctx context.Context, run *model.RunState) error
	Update(ctx context.Context, run *model.RunState) error
}

// Config is the per-run policy.
type Config struct {
	Cutoff            time.Time
	IncludeSubdomains bool

	// ExceptionDomains are processed after every other domain with their
	// own summary options.
	ExceptionDomains           []string
	ExceptionIncludeExpired    bool
	ExceptionIncludeSubdomains bool
}

type Options struct {
	// Domains overrides the stored domain list when non-empty.
	Domains []string
	// SkipTo skips every domain before the named one.
	SkipTo  string
	Verbose bool
	DryRun  bool
}

type Summary struct {
	RunID   string
	Domains int
	orchestrator.Result
}

type Controller struct {
	filter  issuanceFilter
	fetcher domainFetcher
	domains domainLister
	runs    runStore
	cfg     Config
	log     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(filter issuanceFilter, fetcher domainFetcher, domains domainLister, runs runStore, cfg Config, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		filter:  filter,
		fetcher: fetcher,
		domains: domains,
		runs:    runs,
		cfg:     cfg,
		log:     log,
	}
}

// Run loads new certificates for every domain in order. Invalid domains and
// failed summaries are logged and skipped. Storage failures and cancellation
// end the run.
func (c *Controller) Run(ctx context.Context, opts Options) (sum Summary, err error) {
	sum.RunID = uuid.NewString()
	log := c.log.With(zap.String("run_id", sum.RunID), zap.Bool("dry_run", opts.DryRun))

	names := opts.Domains
	if len(names) == 0 {
		names, err = c.domains.Names(ctx)
		if err != nil {
			return sum, fmt.Errorf("list domains: %w", err)
		}
	}
	names = c.order(names)
	log.Info("ingest started", zap.Int("domains", len(names)), zap.String("skip_to", opts.SkipTo))

	state := &model.RunState{ID: sum.RunID, StartedAt: time.Now().UTC(), DryRun: opts.DryRun, IsRunning: true}
	if !opts.DryRun {
		if err := c.runs.Create(ctx, state); err != nil {
			return sum, fmt.Errorf("record run: %w", err)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			state.Error = fmt.Sprintf("panic: %v", r)
			c.finish(state, opts.DryRun, log)
			panic(r)
		}
		if err != nil {
			state.Error = err.Error()
		}
		c.finish(state, opts.DryRun, log)
	}()

	skipping := opts.SkipTo != ""
	for _, domain := range names {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if skipping {
			if !sameDomain(domain, opts.SkipTo) {
				continue
			}
			skipping = false
		}

		res, err := c.runDomain(ctx, domain, opts, log)
		sum.Add(res)
		if err != nil {
			return sum, err
		}
		sum.Domains++

		state.DomainsProcessed = sum.Domains
		state.LastDomain = domain
		state.Imported = sum.Imported
		state.Duplicates = sum.Duplicates
		state.ParseFailures = sum.ParseFailures
		state.FetchFailures = sum.FetchFailures
		if !opts.DryRun {
			if err := c.runs.Update(ctx, state); err != nil {
				log.Warn("failed to record run progress", zap.Error(err))
			}
		}
	}
	if skipping {
		log.Warn("skip-to domain not in domain list", zap.String("skip_to", opts.SkipTo))
	}

	log.Info("ingest finished",
		zap.Int("domains", sum.Domains),
		zap.Int("imported", sum.Imported),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("parse_failures", sum.ParseFailures),
		zap.Int("fetch_failures", sum.FetchFailures),
	)
	return sum, nil
}

func (c *Controller) runDomain(ctx context.Context, domain string, opts Options, log *zap.Logger) (orchestrator.Result, error) {
	log = log.With(zap.String("domain", domain))
	if opts.Verbose {
		log.Info("processing domain")
	}

	seq, err := c.filter.NewIssuances(ctx, domain, c.policyFor(domain))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return orchestrator.Result{}, ctx.Err()
	case errors.Is(err, ctlog.ErrInvalidDomain):
		log.Warn("skipping invalid domain", zap.Error(err))
		return orchestrator.Result{}, nil
	default:
		log.Error("failed to fetch issuance summary", zap.Error(err))
		return orchestrator.Result{}, nil
	}

	res, err := c.fetcher.FetchDomain(ctx, domain, seq, opts.DryRun)
	if err != nil {
		return res, fmt.Errorf("domain %s: %w", domain, err)
	}
	if opts.Verbose || res.Total() > 0 {
		log.Info("certificates imported",
			zap.Int("imported", res.Imported),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("parse_failures", res.ParseFailures),
			zap.Int("fetch_failures", res.FetchFailures),
		)
	}
	return res, nil
}

// finish writes the final run state. It uses its own context so a canceled
// run is still recorded.
func (c *Controller) finish(state *model.RunState, dryRun bool, log *zap.Logger) {
	now := time.Now().UTC()
	state.FinishedAt = &now
	state.IsRunning = false
	if dryRun {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.runs.Update(ctx, state); err != nil {
		log.Error("failed to record run result", zap.Error(err))
	}
}

func (c *Controller) isException(domain string) bool {
	return slices.ContainsFunc(c.cfg.ExceptionDomains, func(e string) bool {
		return sameDomain(domain, e)
	})
}

// order moves exception domains to the end, keeping relative order.
func (c *Controller) order(names []string) []string {
	regular := make([]string, 0, len(names))
	var exceptions []string
	for _, n := range names {
		if c.isException(n) {
			exceptions = append(exceptions, n)
		} else {
			regular = append(regular, n)
		}
	}
	return append(regular, exceptions...)
}

func (c *Controller) policyFor(domain string) novelty.Policy {
	if c.isException(domain) {
		return novelty.Policy{
			Cutoff:            c.cfg.Cutoff,
			IncludeSubdomains: c.cfg.ExceptionIncludeSubdomains,
			IncludeExpired:    c.cfg.ExceptionIncludeExpired,
		}
	}
	return novelty.Policy{
		Cutoff:            c.cfg.Cutoff,
		IncludeSubdomains: c.cfg.IncludeSubdomains,
		IncludeExpired:    true,
	}
}

func sameDomain(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}

// Start launches one run in the background. The run uses a context derived
// from context.Background so it outlives the calling request.
func (c *Controller) Start(_ context.Context, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go c.background(runCtx, opts, done)
	return nil
}

// Stop cancels the background run and waits for it to record its result or
// for ctx to end.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns whether a background run is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Controller) background(ctx context.Context, opts Options, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("ingest goroutine panicked",
				zap.Any("error", r),
				zap.String("stack", string(debug.Stack())),
			)
		}
		c.mu.Lock()
		if c.done == done {
			c.cancel()
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	sum, err := c.Run(ctx, opts)
	switch {
	case errors.Is(err, context.Canceled):
		c.log.Info("ingest stopped", zap.String("run_id", sum.RunID), zap.Int("domains", sum.Domains))
	case err != nil:
		c.log.Error("ingest failed", zap.String("run_id", sum.RunID), zap.Error(err))
	}
}
